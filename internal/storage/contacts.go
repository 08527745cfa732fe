package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"nostrtalk/go-backend/pkg/models"
)

const contactColumns = `pubkey, COALESCE(petname, ''), COALESCE(recommended_relay, ''),
    COALESCE(name, ''), COALESCE(display_name, ''), COALESCE(picture_url, ''), COALESCE(about, ''),
    metadata_at, unseen_count, COALESCE(last_msg_id, 0)`

// FetchContact returns the contact for pubkey, or ErrNotFound.
func (s *Store) FetchContact(ctx context.Context, pubkey string) (models.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contact WHERE pubkey = ?`, pubkey)
	return scanContact(row)
}

func (s *Store) FetchContacts(ctx context.Context) ([]models.Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contactColumns+` FROM contact ORDER BY pubkey`)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch contacts: %w", err)
	}
	defer rows.Close()

	var contacts []models.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// InsertContact creates the contact if absent. An existing row keeps its
// nickname and metadata untouched; the call reports whether a row was
// actually created.
func (s *Store) InsertContact(ctx context.Context, c models.Contact) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO contact (pubkey, petname, recommended_relay, name, display_name, picture_url, about, metadata_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.PubKey, nullableString(c.Petname), nullableString(c.RecommendedRelay),
		nullableString(c.Profile.Name), nullableString(c.Profile.DisplayName),
		nullableString(c.Profile.Picture), nullableString(c.Profile.About),
		metadataAtUnix(c.MetadataAt))
	if err != nil {
		return false, fmt.Errorf("storage: insert contact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: insert contact: %w", err)
	}
	return affected > 0, nil
}

// UpdateContact overwrites the user-editable and profile fields.
func (s *Store) UpdateContact(ctx context.Context, c models.Contact) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE contact
        SET petname = ?, recommended_relay = ?, name = ?, display_name = ?, picture_url = ?, about = ?, metadata_at = ?
        WHERE pubkey = ?`,
		nullableString(c.Petname), nullableString(c.RecommendedRelay),
		nullableString(c.Profile.Name), nullableString(c.Profile.DisplayName),
		nullableString(c.Profile.Picture), nullableString(c.Profile.About),
		metadataAtUnix(c.MetadataAt), c.PubKey)
	if err != nil {
		return fmt.Errorf("storage: update contact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update contact: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteContact(ctx context.Context, pubkey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM contact WHERE pubkey = ?`, pubkey)
	if err != nil {
		return fmt.Errorf("storage: delete contact: %w", err)
	}
	return nil
}

// ImportContacts inserts a batch, skipping keys that already exist.
func (s *Store) ImportContacts(ctx context.Context, contacts []models.Contact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: import contacts: %w", err)
	}
	defer tx.Rollback()

	for _, c := range contacts {
		if _, err := tx.ExecContext(ctx, `
            INSERT OR IGNORE INTO contact (pubkey, petname, recommended_relay)
            VALUES (?, ?, ?)`,
			c.PubKey, nullableString(c.Petname), nullableString(c.RecommendedRelay)); err != nil {
			return fmt.Errorf("storage: import contacts: %w", err)
		}
	}
	return tx.Commit()
}

// RecordNewMessage advances the contact's last-message pointer and, for
// messages authored by the counterparty, bumps the unseen counter.
func (s *Store) RecordNewMessage(ctx context.Context, pubkey string, msgID int64, unseen bool) (models.Contact, error) {
	bump := 0
	if unseen {
		bump = 1
	}
	if _, err := s.db.ExecContext(ctx, `
        UPDATE contact SET last_msg_id = ?, unseen_count = unseen_count + ?
        WHERE pubkey = ?`, msgID, bump, pubkey); err != nil {
		return models.Contact{}, fmt.Errorf("storage: record new message: %w", err)
	}
	return s.FetchContact(ctx, pubkey)
}

// ResetUnseen zeroes the unseen counter, typically after MarkChatSeen.
func (s *Store) ResetUnseen(ctx context.Context, pubkey string) (models.Contact, error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE contact SET unseen_count = 0 WHERE pubkey = ?`, pubkey); err != nil {
		return models.Contact{}, fmt.Errorf("storage: reset unseen: %w", err)
	}
	return s.FetchContact(ctx, pubkey)
}

func scanContact(row rowScanner) (models.Contact, error) {
	var (
		c          models.Contact
		metadataAt int64
	)
	err := row.Scan(&c.PubKey, &c.Petname, &c.RecommendedRelay,
		&c.Profile.Name, &c.Profile.DisplayName, &c.Profile.Picture, &c.Profile.About,
		&metadataAt, &c.UnseenCount, &c.LastMessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Contact{}, ErrNotFound
	}
	if err != nil {
		return models.Contact{}, fmt.Errorf("storage: scan contact: %w", err)
	}
	if metadataAt > 0 {
		c.MetadataAt = time.Unix(metadataAt, 0).UTC()
	}
	return c, nil
}

func metadataAtUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
