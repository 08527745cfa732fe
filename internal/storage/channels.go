package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nostrtalk/go-backend/pkg/models"
)

// CreateChannel records a channel the first time its creation event is
// seen; later sightings of the same channel are no-ops.
func (s *Store) CreateChannel(ctx context.Context, cache models.ChannelCache) (bool, error) {
	meta, err := json.Marshal(cache.Metadata)
	if err != nil {
		return false, fmt.Errorf("storage: encode channel metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO channel_cache (channel_id, creator_pubkey, created_at, metadata)
        VALUES (?, ?, ?, ?)`,
		cache.ChannelID, cache.CreatorPubKey, cache.CreatedAt.Unix(), string(meta))
	if err != nil {
		return false, fmt.Errorf("storage: create channel: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: create channel: %w", err)
	}
	return affected > 0, nil
}

// UpdateChannelMetadata applies a metadata event only if it is strictly
// newer than the cached update.
func (s *Store) UpdateChannelMetadata(ctx context.Context, channelID, eventHash string, meta models.ChannelMetadata, at time.Time) (bool, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return false, fmt.Errorf("storage: encode channel metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
        UPDATE channel_cache
        SET metadata = ?, updated_event_hash = ?, updated_at = ?
        WHERE channel_id = ? AND updated_at < ?`,
		string(raw), eventHash, at.Unix(), channelID, at.Unix())
	if err != nil {
		return false, fmt.Errorf("storage: update channel metadata: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: update channel metadata: %w", err)
	}
	return affected > 0, nil
}

// AddChannelMember unions a pubkey into the channel's member set.
func (s *Store) AddChannelMember(ctx context.Context, channelID, pubkey string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO channel_member_map (channel_id, public_key) VALUES (?, ?)`,
		channelID, pubkey)
	if err != nil {
		return fmt.Errorf("storage: add channel member: %w", err)
	}
	return nil
}

func (s *Store) FetchChannel(ctx context.Context, channelID string) (models.ChannelCache, error) {
	var (
		cache     models.ChannelCache
		createdAt int64
		updatedAt int64
		hash      sql.NullString
		meta      string
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT channel_id, creator_pubkey, created_at, updated_event_hash, updated_at, metadata
        FROM channel_cache WHERE channel_id = ?`, channelID).
		Scan(&cache.ChannelID, &cache.CreatorPubKey, &createdAt, &hash, &updatedAt, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChannelCache{}, ErrNotFound
	}
	if err != nil {
		return models.ChannelCache{}, fmt.Errorf("storage: fetch channel: %w", err)
	}
	cache.CreatedAt = time.Unix(createdAt, 0).UTC()
	if updatedAt > 0 {
		cache.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	}
	cache.UpdatedEventHash = hash.String
	if err := json.Unmarshal([]byte(meta), &cache.Metadata); err != nil {
		return models.ChannelCache{}, fmt.Errorf("storage: decode channel metadata: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT public_key FROM channel_member_map WHERE channel_id = ? ORDER BY public_key`, channelID)
	if err != nil {
		return models.ChannelCache{}, fmt.Errorf("storage: fetch channel members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return models.ChannelCache{}, fmt.Errorf("storage: scan channel member: %w", err)
		}
		cache.Members = append(cache.Members, member)
	}
	return cache, rows.Err()
}
