package server

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	_ "modernc.org/sqlite"

	"github.com/circuit-labs/circuit/internal/cache"
	"github.com/circuit-labs/circuit/internal/protocol"
	"github.com/circuit-labs/circuit/internal/settings"
	"github.com/circuit-labs/circuit/internal/storage"
)

type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, error) { return nil, cache.ErrMiss }
func (failingCache) Set(context.Context, string, []byte) error {
	return errors.New("cache unavailable")
}
func (failingCache) Del(context.Context, string) error { return errors.New("cache unavailable") }

type unreachableDurable struct{}

func (unreachableDurable) GetCurrentSettings(context.Context, int64) (*settings.SettingsDoc, error) {
	return nil, errors.New("db unreachable")
}

func (unreachableDurable) UpsertCurrentSettings(context.Context, int64, settings.SettingsDoc) error {
	return errors.New("db unreachable")
}

func setupTestRouter(t *testing.T) *Dispatcher {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mem, err := cache.NewMemory(64)
	if err != nil {
		t.Fatalf("new memory cache: %v", err)
	}

	store := settings.NewStore(mem, storage.NewStore(db), nil)

	d := NewDispatcher(nil)
	d.MustRegister(UserRoutes(store, nil)...)
	return d
}

func TestUserLoginAck(t *testing.T) {
	d := setupTestRouter(t)

	sender := &fakeSender{}
	d.Dispatch(context.Background(), sender, []byte(`{"type":"user.login","fid":42}`))

	frames := sender.sent()
	if len(frames) != 1 {
		t.Fatalf("expected one frame, got %d", len(frames))
	}
	ack, ok := frames[0].(protocol.UserLoginAck)
	if !ok {
		t.Fatalf("expected user.login:ack, got %T", frames[0])
	}
	if ack.Fid != 42 {
		t.Errorf("ack fid: got %d, want 42", ack.Fid)
	}
}

func TestUserLoginLogsWithCorrelationID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	store := settings.NewStore(failingCache{}, unreachableDurable{}, nil)
	d := NewDispatcher(nil)
	d.MustRegister(UserRoutes(store, zap.New(core))...)

	d.Dispatch(context.Background(), &fakeSender{}, []byte(`{"type":"user.login","fid":42}`))

	entries := logs.FilterMessage("user logged in").All()
	if len(entries) != 1 {
		t.Fatalf("expected one login log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fid, ok := fields["fid"].(int64); !ok || fid != 42 {
		t.Errorf("login log fid: got %v, want 42", fields["fid"])
	}
	if id, ok := fields["correlation_id"].(string); !ok || id == "" {
		t.Error("login log missing correlation_id")
	}
}

func TestGetSettingsReturnsDefaultsForNewFid(t *testing.T) {
	d := setupTestRouter(t)
	ctx := context.Background()

	sender := &fakeSender{}
	d.Dispatch(ctx, sender, []byte(`{"type":"user.settings.get","fid":7}`))

	frames := sender.sent()
	if len(frames) != 1 {
		t.Fatalf("expected one frame, got %d", len(frames))
	}
	ack := frames[0].(protocol.UserGetSettingsAck)
	if ack.Settings != settings.DefaultUserSettings() {
		t.Errorf("first get should return defaults: %+v", ack.Settings)
	}

	// idempotent second read
	sender2 := &fakeSender{}
	d.Dispatch(ctx, sender2, []byte(`{"type":"user.settings.get","fid":7}`))
	ack2 := sender2.sent()[0].(protocol.UserGetSettingsAck)
	if ack2.Settings != ack.Settings {
		t.Error("second get returned different settings")
	}
}

func TestSetThenGetSettings(t *testing.T) {
	d := setupTestRouter(t)
	ctx := context.Background()

	setRaw := []byte(`{"type":"user.settings.set","fid":9,"settings":{"tipSettings":{"tipsOn":true,"tipToken":"0xusdc","minScore":0.8,"followersOnly":false,"followingOnly":true,"postPayoutLimit":5,"onePayoutPerPost":true}}}`)
	setSender := &fakeSender{}
	d.Dispatch(ctx, setSender, setRaw)

	setFrames := setSender.sent()
	if len(setFrames) != 1 {
		t.Fatalf("expected one set ack, got %d", len(setFrames))
	}
	setAck := setFrames[0].(protocol.UserSetSettingsAck)
	if !setAck.Success {
		t.Fatal("set ack should report success")
	}

	getSender := &fakeSender{}
	d.Dispatch(ctx, getSender, []byte(`{"type":"user.settings.get","fid":9}`))
	getAck := getSender.sent()[0].(protocol.UserGetSettingsAck)

	tip := getAck.Settings.TipSettings
	if !tip.TipsOn || tip.TipToken != "0xusdc" || tip.PostPayoutLimit != 5 {
		t.Errorf("patched tipSettings not returned: %+v", tip)
	}
	// untouched sub-record keeps the default base
	if getAck.Settings.InteractionSettings != settings.DefaultUserSettings().InteractionSettings {
		t.Errorf("interactionSettings should still be defaults: %+v", getAck.Settings.InteractionSettings)
	}
}

func TestSetSettingsFailureAcksUnsuccessfully(t *testing.T) {
	store := settings.NewStore(failingCache{}, unreachableDurable{}, nil)
	d := NewDispatcher(nil)
	d.MustRegister(UserRoutes(store, nil)...)

	sender := &fakeSender{}
	d.Dispatch(context.Background(), sender, []byte(`{"type":"user.settings.set","fid":3,"settings":{}}`))

	frames := sender.sent()
	if len(frames) != 1 {
		t.Fatalf("expected one frame, got %d", len(frames))
	}
	ack, ok := frames[0].(protocol.UserSetSettingsAck)
	if !ok {
		t.Fatalf("expected set ack, got %T", frames[0])
	}
	if ack.Success {
		t.Error("ack must report failure when storage fails")
	}
}

func TestPingHasNoReply(t *testing.T) {
	d := setupTestRouter(t)

	sender := &fakeSender{}
	d.Dispatch(context.Background(), sender, []byte(`{"type":"ping","t":1700000000000}`))

	if frames := sender.sent(); len(frames) != 0 {
		t.Errorf("ping should produce no reply, got %d frames", len(frames))
	}
}
