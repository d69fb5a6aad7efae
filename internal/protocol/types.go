package protocol

import "errors"

// Discriminant values for the inbound (client -> server) message set.
const (
	TypeUserLogin       = "user.login"
	TypeUserGetSettings = "user.settings.get"
	TypeUserSetSettings = "user.settings.set"
	TypePing            = "ping"
)

// Discriminant values for the outbound (server -> client) message set.
const (
	TypeUserLoginAck       = "user.login:ack"
	TypeUserGetSettingsAck = "user.settings.get:ack"
	TypeUserSetSettingsAck = "user.settings.set:ack"

	TypeJSONParseError      = "json-parse-error"
	TypeMessageParseError   = "message-parse-error"
	TypeMissingHandlerError = "missing-handler-error"
	TypeHandlerError        = "handler-error"
)

// Error types for message validation
var (
	ErrMissingType  = errors.New("missing required field: type")
	ErrUnknownType  = errors.New("unknown message type")
	ErrInvalidShape = errors.New("invalid message shape")
)

// Inbound is the closed set of messages the server accepts.
type Inbound interface {
	MsgType() string
	inbound()
}

// Outbound is the closed set of messages the server emits.
type Outbound interface {
	MsgType() string
	outbound()
}
