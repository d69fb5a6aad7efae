// Package settings implements the cache-aside user settings store:
// reads check the cache first and fall back to the durable store,
// repopulating the cache on a miss; writes go durable-first, then cache.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/circuit-labs/circuit/internal/cache"
	"github.com/circuit-labs/circuit/internal/protocol"
)

// SettingsDoc is the versioned record stored per fid. Version increases
// by exactly 1 per successful update; Settings is always complete.
type SettingsDoc struct {
	Version   int64                 `json:"version"`
	UpdatedAt int64                 `json:"updatedAt"`
	Settings  protocol.UserSettings `json:"settings"`
}

// Durable is the relational collaborator. GetCurrentSettings returns
// (nil, nil) when no record exists for the fid.
type Durable interface {
	GetCurrentSettings(ctx context.Context, fid int64) (*SettingsDoc, error)
	UpsertCurrentSettings(ctx context.Context, fid int64, doc SettingsDoc) error
}

// Store owns the read-through/write-through logic over the two
// collaborators. It takes no locks: concurrent first-reads may both
// synthesize the default document, which is tolerated because both
// writes are value-equivalent.
type Store struct {
	cache   cache.Cache
	durable Durable
	logger  *zap.Logger
	now     func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(c cache.Cache, d Durable, logger *zap.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		cache:   c,
		durable: d,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the cache key for a fid's settings document.
func Key(fid int64) string {
	return fmt.Sprintf("user:settings:%d", fid)
}

// Get returns the current settings for fid: cache, then durable store
// (repopulating the cache), then a freshly seeded default document at
// version 1 written through both collaborators.
func (s *Store) Get(ctx context.Context, fid int64) (protocol.UserSettings, error) {
	if doc, ok := s.cacheGet(ctx, fid); ok {
		return doc.Settings, nil
	}

	doc, err := s.durable.GetCurrentSettings(ctx, fid)
	if err != nil {
		return protocol.UserSettings{}, fmt.Errorf("load settings for fid %d: %w", fid, err)
	}
	if doc != nil {
		s.cacheSet(ctx, fid, *doc)
		return doc.Settings, nil
	}

	next := SettingsDoc{
		Version:   1,
		UpdatedAt: s.now().UnixMilli(),
		Settings:  DefaultUserSettings(),
	}
	if err := s.durable.UpsertCurrentSettings(ctx, fid, next); err != nil {
		return protocol.UserSettings{}, fmt.Errorf("seed settings for fid %d: %w", fid, err)
	}
	s.cacheSet(ctx, fid, next)
	return next.Settings, nil
}

// Update merges patch onto the current base (cache, else durable, else
// an implicit version-0 default base), bumps the version by 1, and
// writes durable store then cache. Any collaborator failure is returned
// so callers never see a misleading success.
func (s *Store) Update(ctx context.Context, fid int64, patch protocol.SettingsPatch) (protocol.UserSettings, error) {
	base, err := s.loadBase(ctx, fid)
	if err != nil {
		return protocol.UserSettings{}, err
	}

	next := SettingsDoc{
		Version:   base.Version + 1,
		UpdatedAt: s.now().UnixMilli(),
		Settings:  mergePatch(base.Settings, patch),
	}

	if err := s.durable.UpsertCurrentSettings(ctx, fid, next); err != nil {
		return protocol.UserSettings{}, fmt.Errorf("persist settings for fid %d: %w", fid, err)
	}
	if err := s.cacheSetErr(ctx, fid, next); err != nil {
		return protocol.UserSettings{}, fmt.Errorf("cache settings for fid %d: %w", fid, err)
	}
	return next.Settings, nil
}

// Invalidate drops only the cached copy; the durable record is kept.
func (s *Store) Invalidate(ctx context.Context, fid int64) error {
	if err := s.cache.Del(ctx, Key(fid)); err != nil {
		return fmt.Errorf("invalidate settings for fid %d: %w", fid, err)
	}
	return nil
}

func (s *Store) loadBase(ctx context.Context, fid int64) (SettingsDoc, error) {
	if doc, ok := s.cacheGet(ctx, fid); ok {
		return doc, nil
	}
	doc, err := s.durable.GetCurrentSettings(ctx, fid)
	if err != nil {
		return SettingsDoc{}, fmt.Errorf("load base settings for fid %d: %w", fid, err)
	}
	if doc != nil {
		return *doc, nil
	}
	return SettingsDoc{Version: 0, UpdatedAt: 0, Settings: DefaultUserSettings()}, nil
}

// mergePatch is a shallow top-level merge: a non-nil patch sub-record
// replaces the base sub-record wholesale.
func mergePatch(base protocol.UserSettings, patch protocol.SettingsPatch) protocol.UserSettings {
	next := base
	if patch.InteractionSettings != nil {
		next.InteractionSettings = *patch.InteractionSettings
	}
	if patch.TipSettings != nil {
		next.TipSettings = *patch.TipSettings
	}
	return next
}

func (s *Store) cacheGet(ctx context.Context, fid int64) (SettingsDoc, bool) {
	raw, err := s.cache.Get(ctx, Key(fid))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("settings cache read failed", zap.Int64("fid", fid), zap.Error(err))
		}
		return SettingsDoc{}, false
	}
	var doc SettingsDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.logger.Warn("corrupt cached settings document", zap.Int64("fid", fid), zap.Error(err))
		return SettingsDoc{}, false
	}
	return doc, true
}

// cacheSet is best-effort on the read path: a failed populate degrades
// to repeated durable reads, not an error.
func (s *Store) cacheSet(ctx context.Context, fid int64, doc SettingsDoc) {
	if err := s.cacheSetErr(ctx, fid, doc); err != nil {
		s.logger.Warn("settings cache populate failed", zap.Int64("fid", fid), zap.Error(err))
	}
}

func (s *Store) cacheSetErr(ctx context.Context, fid int64, doc SettingsDoc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal settings doc: %w", err)
	}
	return s.cache.Set(ctx, Key(fid), raw)
}
