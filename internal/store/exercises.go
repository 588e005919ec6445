package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/replog/replog/internal/model"
)

// SaveExercise validates and upserts a record as-is, then notifies
// subscribers. Callers set SyncStatus before saving: local mutations
// arrive pending, remote applies arrive synced.
func (s *Store) SaveExercise(ctx context.Context, ex *model.Exercise) error {
	if err := ex.Validate(); err != nil {
		return err
	}

	query := `
	INSERT INTO exercises (
		id, user_id, name, created_at, updated_at, sync_status, deleted
	) VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		user_id = excluded.user_id,
		name = excluded.name,
		updated_at = excluded.updated_at,
		sync_status = excluded.sync_status,
		deleted = excluded.deleted
	`

	_, err := s.conn.ExecContext(ctx, query,
		ex.ID,
		ex.UserID,
		ex.Name,
		formatTime(ex.CreatedAt),
		formatTime(ex.UpdatedAt),
		string(ex.SyncStatus),
		boolToInt(ex.Deleted),
	)
	if err != nil {
		return fmt.Errorf("failed to save exercise %s: %w", ex.ID, err)
	}

	s.notify(ctx, ex.UserID)
	return nil
}

// Exercise returns a point lookup against the materialized local set.
// Tombstoned records are treated as absent.
func (s *Store) Exercise(ctx context.Context, userID, id string) (*model.Exercise, bool, error) {
	query := selectExercises + ` WHERE id = ? AND user_id = ? AND deleted = 0`
	row := s.conn.QueryRowContext(ctx, query, id, userID)

	ex, err := scanExercise(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up exercise %s: %w", id, err)
	}
	return ex, true, nil
}

// LookupExercise returns a record by ID regardless of tombstone state.
// Reconciliation needs the raw row so a pending local delete isn't
// resurrected by a stale remote copy.
func (s *Store) LookupExercise(ctx context.Context, id string) (*model.Exercise, bool, error) {
	row := s.conn.QueryRowContext(ctx, selectExercises+` WHERE id = ?`, id)

	ex, err := scanExercise(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up exercise %s: %w", id, err)
	}
	return ex, true, nil
}

// ExercisesForUser returns the user's live records (tombstones
// excluded), oldest first.
func (s *Store) ExercisesForUser(ctx context.Context, userID string) ([]model.Exercise, error) {
	query := selectExercises + ` WHERE user_id = ? AND deleted = 0 ORDER BY created_at ASC, id ASC`
	rows, err := s.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query exercises: %w", err)
	}
	defer rows.Close()

	return scanExercises(rows)
}

// PendingChanges returns every record awaiting remote work: pending
// writes and unpropagated tombstones, which MarkDeleted keeps in
// pending. Errored records park until ForceSync resets them. Oldest
// first so reconciliation roughly preserves issue order.
func (s *Store) PendingChanges(ctx context.Context) ([]model.Exercise, error) {
	query := selectExercises + `
	 WHERE sync_status = 'pending'
	 ORDER BY updated_at ASC, id ASC`
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending changes: %w", err)
	}
	defer rows.Close()

	return scanExercises(rows)
}

// CountPending returns the number of records with pending local changes.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM exercises WHERE sync_status = 'pending'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending changes: %w", err)
	}
	return count, nil
}

// CountErrors returns the number of records whose retries are exhausted.
func (s *Store) CountErrors(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM exercises WHERE sync_status = 'error'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count errored records: %w", err)
	}
	return count, nil
}

// LastError returns the most recent per-record failure message, if any.
func (s *Store) LastError(ctx context.Context) (string, error) {
	var msg string
	err := s.conn.QueryRowContext(ctx,
		`SELECT last_error FROM exercises
		  WHERE sync_status = 'error' AND last_error != ''
		  ORDER BY updated_at DESC LIMIT 1`).Scan(&msg)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read last error: %w", err)
	}
	return msg, nil
}

// MarkDeleted tombstones a record and returns it to pending so the
// delete gets pushed. Returns false if no live record matched.
func (s *Store) MarkDeleted(ctx context.Context, userID, id string, now time.Time) (bool, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE exercises
		    SET deleted = 1, sync_status = 'pending', sync_attempts = 0,
		        updated_at = ?
		  WHERE id = ? AND user_id = ? AND deleted = 0`,
		formatTime(now), id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to tombstone exercise %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to tombstone exercise %s: %w", id, err)
	}
	if n == 0 {
		return false, nil
	}

	s.notify(ctx, userID)
	return true, nil
}

// HardDelete removes a record entirely. Used once a tombstone has
// propagated (or the record never reached the remote).
func (s *Store) HardDelete(ctx context.Context, id string) error {
	var userID string
	err := s.conn.QueryRowContext(ctx, `SELECT user_id FROM exercises WHERE id = ?`, id).Scan(&userID)
	if err == sql.ErrNoRows {
		return nil // idempotent
	}
	if err != nil {
		return fmt.Errorf("failed to hard-delete exercise %s: %w", id, err)
	}

	if _, err := s.conn.ExecContext(ctx, `DELETE FROM exercises WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to hard-delete exercise %s: %w", id, err)
	}

	s.notify(ctx, userID)
	return nil
}

// SetSyncStatus records a sync state transition for one record.
func (s *Store) SetSyncStatus(ctx context.Context, id string, status model.SyncStatus, lastError string) error {
	var userID string
	err := s.conn.QueryRowContext(ctx, `SELECT user_id FROM exercises WHERE id = ?`, id).Scan(&userID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to update sync status for %s: %w", id, err)
	}

	_, err = s.conn.ExecContext(ctx,
		`UPDATE exercises SET sync_status = ?, last_error = ? WHERE id = ?`,
		string(status), lastError, id)
	if err != nil {
		return fmt.Errorf("failed to update sync status for %s: %w", id, err)
	}

	s.notify(ctx, userID)
	return nil
}

// IncrementAttempts bumps the retry counter and returns the new value.
// The counter is persisted so retry budgets survive a process restart.
func (s *Store) IncrementAttempts(ctx context.Context, id string) (int, error) {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE exercises SET sync_attempts = sync_attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to bump attempts for %s: %w", id, err)
	}

	var attempts int
	err = s.conn.QueryRowContext(ctx,
		`SELECT sync_attempts FROM exercises WHERE id = ?`, id).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("failed to read attempts for %s: %w", id, err)
	}
	return attempts, nil
}

// Attempts returns the current retry counter for a record.
func (s *Store) Attempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.conn.QueryRowContext(ctx,
		`SELECT sync_attempts FROM exercises WHERE id = ?`, id).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read attempts for %s: %w", id, err)
	}
	return attempts, nil
}

// ResetErrorRecords returns every errored record to pending with a
// fresh retry budget. This is the manual ForceSync recovery path
// (error -> synced via a successful forced push).
func (s *Store) ResetErrorRecords(ctx context.Context) (int, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE exercises SET sync_status = 'pending', sync_attempts = 0, last_error = ''
		  WHERE sync_status = 'error'`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset errored records: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to reset errored records: %w", err)
	}

	if n > 0 {
		for _, userID := range s.hub.userIDs() {
			s.notify(ctx, userID)
		}
	}
	return int(n), nil
}

// notify recomputes the user's snapshot and fans it out.
func (s *Store) notify(ctx context.Context, userID string) {
	snapshot, err := s.ExercisesForUser(ctx, userID)
	if err != nil {
		return
	}
	s.hub.dispatch(userID, snapshot)
}

const selectExercises = `
	SELECT id, user_id, name, created_at, updated_at, sync_status, deleted
	  FROM exercises`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExercise(row rowScanner) (*model.Exercise, error) {
	var (
		ex                   model.Exercise
		createdAt, updatedAt string
		status               string
		deleted              int
	)
	if err := row.Scan(&ex.ID, &ex.UserID, &ex.Name, &createdAt, &updatedAt, &status, &deleted); err != nil {
		return nil, err
	}
	ex.CreatedAt = parseTime(createdAt)
	ex.UpdatedAt = parseTime(updatedAt)
	ex.SyncStatus = model.SyncStatus(status)
	ex.Deleted = deleted != 0
	return &ex, nil
}

func scanExercises(rows *sql.Rows) ([]model.Exercise, error) {
	var out []model.Exercise
	for rows.Next() {
		ex, err := scanExercise(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exercise row: %w", err)
		}
		out = append(out, *ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate exercise rows: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
