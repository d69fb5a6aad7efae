package server

import (
	"context"

	"go.uber.org/zap"

	"github.com/circuit-labs/circuit/internal/protocol"
	"github.com/circuit-labs/circuit/internal/settings"
)

// UserRoutes returns the route table for the user-facing protocol
// surface. Handlers receive already-validated typed messages.
func UserRoutes(store *settings.Store, logger *zap.Logger) []RouteEntry {
	if logger == nil {
		logger = zap.NewNop()
	}

	return []RouteEntry{
		Route(func(ctx context.Context, sender Sender, msg protocol.UserLogin) error {
			LogWithContext(ctx, logger, "user logged in", zap.Int64("fid", msg.Fid))
			return sender.Send(protocol.NewUserLoginAck(msg.Fid))
		}),

		Route(func(ctx context.Context, sender Sender, msg protocol.UserGetSettings) error {
			userSettings, err := store.Get(ctx, msg.Fid)
			if err != nil {
				return err
			}
			return sender.Send(protocol.NewUserGetSettingsAck(msg.Fid, userSettings))
		}),

		Route(func(ctx context.Context, sender Sender, msg protocol.UserSetSettings) error {
			if _, err := store.Update(ctx, msg.Fid, msg.Settings); err != nil {
				// storage failure is an unsuccessful ack, not a
				// handler-error frame
				LogErrorWithContext(ctx, logger, "settings update failed", err,
					zap.Int64("fid", msg.Fid),
				)
				return sender.Send(protocol.NewUserSetSettingsAck(msg.Fid, false))
			}
			return sender.Send(protocol.NewUserSetSettingsAck(msg.Fid, true))
		}),

		// liveness is tracked at the connection layer; no reply mandated
		Route(func(context.Context, Sender, protocol.Ping) error {
			return nil
		}),
	}
}
