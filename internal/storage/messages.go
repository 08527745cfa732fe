package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"nostrtalk/go-backend/pkg/models"
)

const messageColumns = "msg_id, COALESCE(event_id, 0), content, from_pubkey, to_pubkey, created_at, status, undecryptable, COALESCE(relay_url, '')"

// InsertMessage persists the shadow row for a direct-message event. The
// content column always holds the ciphertext; uniqueness on event_id makes
// re-derivation from a duplicate event a no-op.
func (s *Store) InsertMessage(ctx context.Context, msg models.ChatMessage) (int64, error) {
	var eventID any
	if msg.EventID != 0 {
		eventID = msg.EventID
	}
	res, err := s.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO message (event_id, content, from_pubkey, to_pubkey, created_at, status, undecryptable, relay_url)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		eventID, msg.Ciphertext, msg.FromPubKey, msg.ToPubKey, msg.CreatedAt.Unix(),
		int(msg.Status), boolToInt(msg.Undecryptable), nullableString(msg.RelayURL))
	if err != nil {
		return 0, fmt.Errorf("storage: insert message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: insert message: %w", err)
	}
	if affected == 0 {
		existing, err := s.MessageByEventID(ctx, msg.EventID)
		if err != nil {
			return 0, err
		}
		return existing.MsgID, nil
	}
	return res.LastInsertId()
}

func (s *Store) MessageByEventID(ctx context.Context, eventID int64) (models.ChatMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM message WHERE event_id = ?`, eventID)
	return scanMessage(row)
}

func (s *Store) MessageByID(ctx context.Context, msgID int64) (models.ChatMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM message WHERE msg_id = ?`, msgID)
	return scanMessage(row)
}

// FetchChat returns the conversation between a and b ordered by creation
// time ascending. The pair is symmetric.
func (s *Store) FetchChat(ctx context.Context, a, b string) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+messageColumns+` FROM message
        WHERE (from_pubkey = ?1 AND to_pubkey = ?2) OR (from_pubkey = ?2 AND to_pubkey = ?1)
        ORDER BY created_at, msg_id`, a, b)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch chat: %w", err)
	}
	defer rows.Close()

	var msgs []models.ChatMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// UpdateMessageStatus advances a message's status. Moving backward is a
// logic error and is rejected before touching the row.
func (s *Store) UpdateMessageStatus(ctx context.Context, msgID int64, status models.MessageStatus) error {
	if msgID == 0 {
		return ErrNoRowID
	}
	current, err := s.MessageByID(ctx, msgID)
	if err != nil {
		return err
	}
	if !current.Status.CanAdvanceTo(status) {
		return fmt.Errorf("%w: %s -> %s", ErrStatusRegression, current.Status, status)
	}
	if current.Status == status {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE message SET status = ? WHERE msg_id = ?`, int(status), msgID); err != nil {
		return fmt.Errorf("storage: update message status: %w", err)
	}
	return nil
}

// MarkChatSeen flips every unseen message between the two keys to Seen and
// returns how many rows changed.
func (s *Store) MarkChatSeen(ctx context.Context, a, b string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE message SET status = ?1
        WHERE ((from_pubkey = ?2 AND to_pubkey = ?3) OR (from_pubkey = ?3 AND to_pubkey = ?2))
          AND status < ?1`,
		int(models.StatusSeen), a, b)
	if err != nil {
		return 0, fmt.Errorf("storage: mark chat seen: %w", err)
	}
	return res.RowsAffected()
}

func scanMessage(row rowScanner) (models.ChatMessage, error) {
	var (
		msg           models.ChatMessage
		createdAt     int64
		status        int
		undecryptable int
	)
	err := row.Scan(&msg.MsgID, &msg.EventID, &msg.Ciphertext, &msg.FromPubKey, &msg.ToPubKey,
		&createdAt, &status, &undecryptable, &msg.RelayURL)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatMessage{}, ErrNotFound
	}
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("storage: scan message: %w", err)
	}
	msg.CreatedAt = time.Unix(createdAt, 0).UTC()
	msg.Status = models.MessageStatus(status)
	msg.Undecryptable = undecryptable != 0
	return msg, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
