package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/replog/replog/internal/model"
)

// ConflictEntry records a write discarded by last-write-wins
// resolution. The losing record is kept whole so it can be inspected or
// recovered by hand; reconciliation never reads it back.
type ConflictEntry struct {
	Seq             int64
	ExerciseID      string
	Discarded       model.Exercise
	WinnerUpdatedAt time.Time
	ResolvedAt      time.Time
}

// LogConflict appends a discarded write to the conflict log.
func (s *Store) LogConflict(ctx context.Context, loser model.Exercise, winnerUpdatedAt, resolvedAt time.Time) error {
	payload, err := json.Marshal(loser.Record())
	if err != nil {
		return fmt.Errorf("failed to encode discarded record: %w", err)
	}

	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO conflict_log (exercise_id, discarded, winner_updated_at, resolved_at)
		 VALUES (?, ?, ?, ?)`,
		loser.ID, string(payload), formatTime(winnerUpdatedAt), formatTime(resolvedAt))
	if err != nil {
		return fmt.Errorf("failed to log conflict for %s: %w", loser.ID, err)
	}
	return nil
}

// Conflicts returns the conflict log, oldest first.
func (s *Store) Conflicts(ctx context.Context) ([]ConflictEntry, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT seq, exercise_id, discarded, winner_updated_at, resolved_at
		   FROM conflict_log ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflict log: %w", err)
	}
	defer rows.Close()

	var out []ConflictEntry
	for rows.Next() {
		var (
			entry                        ConflictEntry
			discarded, winnerAt, resolvedAt string
		)
		if err := rows.Scan(&entry.Seq, &entry.ExerciseID, &discarded, &winnerAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conflict row: %w", err)
		}

		var rec model.ExerciseRecord
		if err := json.Unmarshal([]byte(discarded), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode discarded record: %w", err)
		}
		entry.Discarded = rec.Exercise()
		entry.WinnerUpdatedAt = parseTime(winnerAt)
		entry.ResolvedAt = parseTime(resolvedAt)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conflict rows: %w", err)
	}
	return out, nil
}
