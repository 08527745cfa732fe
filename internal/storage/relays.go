package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"nostrtalk/go-backend/pkg/models"
)

func (s *Store) FetchRelays(ctx context.Context) ([]models.RelayRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, read, write, last_status FROM relay ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch relays: %w", err)
	}
	defer rows.Close()

	var relays []models.RelayRecord
	for rows.Next() {
		r, err := scanRelay(rows)
		if err != nil {
			return nil, err
		}
		relays = append(relays, r)
	}
	return relays, rows.Err()
}

func (s *Store) FetchRelay(ctx context.Context, url string) (models.RelayRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT url, read, write, last_status FROM relay WHERE url = ?`, url)
	return scanRelay(row)
}

// UpsertRelay creates the relay record or updates its capability flags.
func (s *Store) UpsertRelay(ctx context.Context, r models.RelayRecord) error {
	if r.LastStatus == "" {
		r.LastStatus = models.RelayDisconnected
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO relay (url, read, write, last_status) VALUES (?, ?, ?, ?)
        ON CONFLICT (url) DO UPDATE SET read = excluded.read, write = excluded.write`,
		r.URL, boolToInt(r.Read), boolToInt(r.Write), r.LastStatus)
	if err != nil {
		return fmt.Errorf("storage: upsert relay: %w", err)
	}
	return nil
}

func (s *Store) DeleteRelay(ctx context.Context, url string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM relay WHERE url = ?`, url)
	if err != nil {
		return fmt.Errorf("storage: delete relay: %w", err)
	}
	return nil
}

// SetRelayRead toggles the read capability and returns the updated record.
func (s *Store) SetRelayRead(ctx context.Context, url string, read bool) (models.RelayRecord, error) {
	return s.setRelayFlag(ctx, url, "read", read)
}

// SetRelayWrite toggles the write capability and returns the updated record.
func (s *Store) SetRelayWrite(ctx context.Context, url string, write bool) (models.RelayRecord, error) {
	return s.setRelayFlag(ctx, url, "write", write)
}

func (s *Store) setRelayFlag(ctx context.Context, url, column string, value bool) (models.RelayRecord, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE relay SET `+column+` = ? WHERE url = ?`, boolToInt(value), url)
	if err != nil {
		return models.RelayRecord{}, fmt.Errorf("storage: set relay %s: %w", column, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.RelayRecord{}, fmt.Errorf("storage: set relay %s: %w", column, err)
	}
	if affected == 0 {
		return models.RelayRecord{}, ErrNotFound
	}
	return s.FetchRelay(ctx, url)
}

// SetRelayStatus records the last observed connection status.
func (s *Store) SetRelayStatus(ctx context.Context, url, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE relay SET last_status = ? WHERE url = ?`, status, url)
	if err != nil {
		return fmt.Errorf("storage: set relay status: %w", err)
	}
	return nil
}

func scanRelay(row rowScanner) (models.RelayRecord, error) {
	var (
		r           models.RelayRecord
		read, write int
	)
	err := row.Scan(&r.URL, &read, &write, &r.LastStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RelayRecord{}, ErrNotFound
	}
	if err != nil {
		return models.RelayRecord{}, fmt.Errorf("storage: scan relay: %w", err)
	}
	r.Read = read != 0
	r.Write = write != 0
	return r, nil
}
