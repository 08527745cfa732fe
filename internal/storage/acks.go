package storage

import (
	"context"
	"fmt"

	"nostrtalk/go-backend/pkg/models"
)

// InsertRelayAck appends one relay's response to an event. The table is
// append-only; a duplicate (event, relay) pair is silently ignored so a
// relay re-sending OK does not grow the history.
func (s *Store) InsertRelayAck(ctx context.Context, ack models.RelayAck) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO relay_ack (event_id, relay_url, accepted, error_message)
        VALUES (?, ?, ?, ?)`,
		ack.EventID, ack.RelayURL, boolToInt(ack.Accepted), ack.ErrorMessage)
	if err != nil {
		return fmt.Errorf("storage: insert relay ack: %w", err)
	}
	return nil
}

// FetchRelayAcks returns every relay response recorded for the event row.
func (s *Store) FetchRelayAcks(ctx context.Context, eventID int64) ([]models.RelayAck, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT a.ack_id, a.event_id, e.event_hash, a.relay_url, a.accepted, COALESCE(a.error_message, '')
        FROM relay_ack a
        JOIN event e ON e.event_id = a.event_id
        WHERE a.event_id = ?
        ORDER BY a.ack_id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch relay acks: %w", err)
	}
	defer rows.Close()

	var acks []models.RelayAck
	for rows.Next() {
		var (
			ack      models.RelayAck
			accepted int
		)
		if err := rows.Scan(&ack.ID, &ack.EventID, &ack.EventHash, &ack.RelayURL, &accepted, &ack.ErrorMessage); err != nil {
			return nil, fmt.Errorf("storage: scan relay ack: %w", err)
		}
		ack.Accepted = accepted != 0
		acks = append(acks, ack)
	}
	return acks, rows.Err()
}
