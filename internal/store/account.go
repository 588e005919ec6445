package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/replog/replog/internal/model"
)

// The user namespace holds exactly one row: the device's account.

// Account returns the stored account, if one exists.
func (s *Store) Account(ctx context.Context) (*model.UserAccount, bool, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, email, is_anonymous, created_at, last_sync_at FROM user LIMIT 1`)

	var (
		u          model.UserAccount
		anon       int
		createdAt  string
		lastSyncAt sql.NullString
	)
	err := row.Scan(&u.ID, &u.Email, &anon, &createdAt, &lastSyncAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read account: %w", err)
	}

	u.IsAnonymous = anon != 0
	u.CreatedAt = parseTime(createdAt)
	if lastSyncAt.Valid && lastSyncAt.String != "" {
		t := parseTime(lastSyncAt.String)
		u.LastSyncAt = &t
	}
	return &u, true, nil
}

// SaveAccount validates and upserts the device account.
func (s *Store) SaveAccount(ctx context.Context, u *model.UserAccount) error {
	if err := u.Validate(); err != nil {
		return err
	}

	var lastSyncAt any
	if u.LastSyncAt != nil {
		lastSyncAt = formatTime(*u.LastSyncAt)
	}

	query := `
	INSERT INTO user (id, email, is_anonymous, created_at, last_sync_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		email = excluded.email,
		is_anonymous = excluded.is_anonymous,
		last_sync_at = excluded.last_sync_at
	`

	_, err := s.conn.ExecContext(ctx, query,
		u.ID,
		u.Email,
		boolToInt(u.IsAnonymous),
		formatTime(u.CreatedAt),
		lastSyncAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// TouchLastSync records a completed reconciliation on the account.
// No-op for anonymous accounts, which never sync.
func (s *Store) TouchLastSync(ctx context.Context, at time.Time) error {
	u, ok, err := s.Account(ctx)
	if err != nil {
		return err
	}
	if !ok || u.IsAnonymous {
		return nil
	}

	ts := at
	u.LastSyncAt = &ts
	return s.SaveAccount(ctx, u)
}
