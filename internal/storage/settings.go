package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"nostrtalk/go-backend/pkg/models"
)

// SaveLocalProfile caches the local identity's own profile metadata.
func (s *Store) SaveLocalProfile(ctx context.Context, profile models.ProfileMetadata) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("storage: encode local profile: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO local_settings (key, value) VALUES ('local_profile', ?)
        ON CONFLICT (key) DO UPDATE SET value = excluded.value`, string(raw))
	if err != nil {
		return fmt.Errorf("storage: save local profile: %w", err)
	}
	return nil
}

// LocalProfile returns the cached own profile; a zero value if never set.
func (s *Store) LocalProfile(ctx context.Context) (models.ProfileMetadata, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM local_settings WHERE key = 'local_profile'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ProfileMetadata{}, nil
	}
	if err != nil {
		return models.ProfileMetadata{}, fmt.Errorf("storage: local profile: %w", err)
	}
	var profile models.ProfileMetadata
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		return models.ProfileMetadata{}, fmt.Errorf("storage: decode local profile: %w", err)
	}
	return profile, nil
}
