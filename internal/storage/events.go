package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"nostrtalk/go-backend/pkg/models"
)

const eventColumns = "event_id, event_hash, pubkey, kind, created_at, tags, content, sig, confirmed"

// InsertEvent persists the event idempotently: uniqueness is on the
// content hash, a second insert of the same hash changes nothing and
// reports inserted=false. The row id is valid in both cases.
func (s *Store) InsertEvent(ctx context.Context, ev models.StoredEvent) (rowID int64, inserted bool, err error) {
	tags, err := json.Marshal(ev.Tags)
	if err != nil {
		return 0, false, fmt.Errorf("storage: encode tags: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO event (event_hash, pubkey, kind, created_at, tags, content, sig, confirmed)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Hash, ev.PubKey, ev.Kind, ev.CreatedAt.Unix(), string(tags), ev.Content, ev.Sig, boolToInt(ev.Confirmed))
	if err != nil {
		return 0, false, fmt.Errorf("storage: insert event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("storage: insert event: %w", err)
	}
	if affected > 0 {
		rowID, err = res.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("storage: insert event: %w", err)
		}
		return rowID, true, nil
	}

	// Duplicate delivery: resolve the existing row id.
	existing, err := s.EventByHash(ctx, ev.Hash)
	if err != nil {
		return 0, false, err
	}
	return existing.ID, false, nil
}

// ConfirmEvent flips the confirmed flag. It is idempotent and never moves a
// confirmed event back to pending.
func (s *Store) ConfirmEvent(ctx context.Context, rowID int64) (models.StoredEvent, error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE event SET confirmed = 1 WHERE event_id = ? AND confirmed = 0`, rowID); err != nil {
		return models.StoredEvent{}, fmt.Errorf("storage: confirm event: %w", err)
	}
	return s.EventByID(ctx, rowID)
}

func (s *Store) EventByID(ctx context.Context, rowID int64) (models.StoredEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM event WHERE event_id = ?`, rowID)
	return scanEvent(row)
}

func (s *Store) EventByHash(ctx context.Context, hash string) (models.StoredEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM event WHERE event_hash = ?`, hash)
	return scanEvent(row)
}

// LatestEventTimestamp is the resubscription watermark: subscribing since
// this point avoids refetching the full history after a reconnect.
func (s *Store) LatestEventTimestamp(ctx context.Context) (time.Time, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM local_settings WHERE key = 'last_event_timestamp'`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: latest event timestamp: %w", err)
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: latest event timestamp: %w", err)
	}
	return ts, nil
}

// StoreLastEventTimestamp advances the watermark, keeping the max seen.
func (s *Store) StoreLastEventTimestamp(ctx context.Context, ts time.Time) error {
	current, err := s.LatestEventTimestamp(ctx)
	if err != nil {
		return err
	}
	if !ts.After(current) {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO local_settings (key, value) VALUES ('last_event_timestamp', ?)
        ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		ts.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("storage: store watermark: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (models.StoredEvent, error) {
	var (
		ev        models.StoredEvent
		createdAt int64
		tags      string
		confirmed int
	)
	err := row.Scan(&ev.ID, &ev.Hash, &ev.PubKey, &ev.Kind, &createdAt, &tags, &ev.Content, &ev.Sig, &confirmed)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StoredEvent{}, ErrNotFound
	}
	if err != nil {
		return models.StoredEvent{}, fmt.Errorf("storage: scan event: %w", err)
	}
	ev.CreatedAt = time.Unix(createdAt, 0).UTC()
	ev.Confirmed = confirmed != 0
	var parsed nostr.Tags
	if err := json.Unmarshal([]byte(tags), &parsed); err != nil {
		return models.StoredEvent{}, fmt.Errorf("storage: decode tags: %w", err)
	}
	ev.Tags = parsed
	return ev, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
