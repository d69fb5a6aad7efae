package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/circuit-labs/circuit/internal/protocol"
)

// Sender writes one outbound protocol message to a connection.
// Implementations must be safe for concurrent use.
type Sender interface {
	Send(msg protocol.Outbound) error
}

// Handler processes one validated inbound message. A returned error is
// converted into a handler-error frame on the same connection.
type Handler func(ctx context.Context, sender Sender, msg protocol.Inbound) error

// RouteEntry binds a discriminant to its handler.
type RouteEntry struct {
	Type    string
	Handler Handler
}

// Route builds a RouteEntry for one message kind. The discriminant is
// derived from the message type itself, and the checked assertion from
// the inbound union to M happens here, so handlers never cast payloads.
func Route[M protocol.Inbound](h func(ctx context.Context, sender Sender, msg M) error) RouteEntry {
	var zero M
	return RouteEntry{
		Type: zero.MsgType(),
		Handler: func(ctx context.Context, sender Sender, msg protocol.Inbound) error {
			m, ok := msg.(M)
			if !ok {
				return fmt.Errorf("handler for %s received %T", zero.MsgType(), msg)
			}
			return h(ctx, sender, m)
		},
	}
}

// Dispatcher maps inbound discriminants to handlers. It is constructed
// at startup, immutable after registration, and holds no other state;
// side effects live in the handlers. The metrics handle is looked up
// per dispatch, not cached, so construction order against InitMetrics
// does not matter.
type Dispatcher struct {
	routes map[string]Handler
	logger *zap.Logger
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		routes: make(map[string]Handler),
		logger: logger,
	}
}

// Register adds route entries. A duplicate discriminant is a startup
// configuration error, never a silent overwrite.
func (d *Dispatcher) Register(entries ...RouteEntry) error {
	for _, entry := range entries {
		if _, dup := d.routes[entry.Type]; dup {
			return fmt.Errorf("duplicate route type registered: %s", entry.Type)
		}
		d.logger.Info("registering route", zap.String("type", entry.Type))
		d.routes[entry.Type] = entry.Handler
	}
	return nil
}

// MustRegister is Register for startup wiring, aborting on error.
func (d *Dispatcher) MustRegister(entries ...RouteEntry) {
	if err := d.Register(entries...); err != nil {
		panic(err)
	}
}

// Dispatch routes one raw frame: parse, validate, look up, invoke.
// Every failure mode is answered with a typed error frame on the same
// connection; nothing escapes this boundary, including handler panics.
func (d *Dispatcher) Dispatch(ctx context.Context, sender Sender, raw []byte) {
	ctx = WithCorrelationID(ctx, "")
	start := time.Now()

	if !json.Valid(raw) {
		d.sendError(sender, protocol.NewJSONParseError("invalid_json"), "json_parse")
		return
	}

	msg, err := protocol.DecodeInbound(raw)
	if err != nil {
		d.sendError(sender, protocol.NewMessageParseError(err.Error()), "message_parse")
		return
	}

	handler, ok := d.routes[msg.MsgType()]
	if !ok {
		d.sendError(sender, protocol.NewMissingHandlerError(
			fmt.Sprintf("unknown type: %s", msg.MsgType())), "missing_handler")
		return
	}

	if err := d.invoke(ctx, handler, sender, msg); err != nil {
		LogErrorWithContext(ctx, d.logger, "handler failed", err,
			zap.String("type", msg.MsgType()),
		)
		d.sendError(sender, protocol.NewHandlerError(err.Error()), "handler")
		GetMetrics().RecordFrame(msg.MsgType(), "error")
		return
	}

	GetMetrics().RecordFrame(msg.MsgType(), "ok")
	GetMetrics().RecordDispatchDuration(msg.MsgType(), time.Since(start).Seconds())
}

func (d *Dispatcher) invoke(ctx context.Context, handler Handler, sender Sender, msg protocol.Inbound) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, sender, msg)
}

func (d *Dispatcher) sendError(sender Sender, frame protocol.Outbound, kind string) {
	GetMetrics().RecordErrorFrame(kind)
	if err := sender.Send(frame); err != nil {
		d.logger.Warn("failed to send error frame",
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}
