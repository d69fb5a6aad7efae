// Package storage is the durable settings collaborator, backed by a
// sqlite database holding one current document per fid.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/circuit-labs/circuit/internal/protocol"
	"github.com/circuit-labs/circuit/internal/settings"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// GetCurrentSettings returns the current document for fid, or (nil, nil)
// when no record exists.
func (s *Store) GetCurrentSettings(ctx context.Context, fid int64) (*settings.SettingsDoc, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT version, updated_at, settings
		FROM user_settings_current
		WHERE fid = ?
	`, fid)

	var (
		version   int64
		updatedAt int64
		rawJSON   string
	)
	if err := row.Scan(&version, &updatedAt, &rawJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query settings for fid %d: %w", fid, err)
	}

	var userSettings protocol.UserSettings
	if err := json.Unmarshal([]byte(rawJSON), &userSettings); err != nil {
		return nil, fmt.Errorf("decode stored settings for fid %d: %w", fid, err)
	}

	return &settings.SettingsDoc{
		Version:   version,
		UpdatedAt: updatedAt,
		Settings:  userSettings,
	}, nil
}

// UpsertCurrentSettings replaces the current document for fid.
func (s *Store) UpsertCurrentSettings(ctx context.Context, fid int64, doc settings.SettingsDoc) error {
	rawJSON, err := json.Marshal(doc.Settings)
	if err != nil {
		return fmt.Errorf("encode settings for fid %d: %w", fid, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_settings_current (fid, version, updated_at, settings)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fid) DO UPDATE SET
			version = excluded.version,
			updated_at = excluded.updated_at,
			settings = excluded.settings
	`, fid, doc.Version, doc.UpdatedAt, string(rawJSON))
	if err != nil {
		return fmt.Errorf("upsert settings for fid %d: %w", fid, err)
	}
	return nil
}
