package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/replog/replog/internal/model"
	"github.com/replog/replog/internal/store"
)

// Plan is a TOML file of exercises to create in bulk. Unlike a JSONL
// import, plan entries are new records: they get fresh IDs and sync
// like ordinary local writes.
//
//	[[exercise]]
//	name = "Bench Press"
//	at = "2026-08-30T10:00:00Z"
type Plan struct {
	Exercises []PlanEntry `toml:"exercise"`
}

// PlanEntry is one planned exercise. At is optional and accepts
// RFC3339 or a bare date; empty means now.
type PlanEntry struct {
	Name string `toml:"name"`
	At   string `toml:"at"`
}

// LoadPlan parses a TOML plan file.
func LoadPlan(path string) (*Plan, error) {
	var plan Plan
	if _, err := toml.DecodeFile(path, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	return &plan, nil
}

// ApplyPlan creates the plan's exercises for userID. Entries that fail
// validation are skipped and reported in Errors.
func ApplyPlan(ctx context.Context, st *store.Store, plan *Plan, userID string, dryRun bool) (*ImportResult, error) {
	result := &ImportResult{}
	now := time.Now().UTC()

	for i, entry := range plan.Exercises {
		at := now
		if entry.At != "" {
			parsed, err := parsePlanTime(entry.At)
			if err != nil {
				result.Skipped++
				result.Errors = append(result.Errors, fmt.Sprintf("entry %d: %v", i+1, err))
				continue
			}
			at = parsed
		}

		in, err := model.ValidateExerciseInput(model.ExerciseInput{Name: entry.Name})
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("entry %d: %v", i+1, err))
			continue
		}

		if dryRun {
			result.Imported++
			continue
		}

		updatedAt := at
		if now.After(updatedAt) {
			updatedAt = now
		}
		ex := model.Exercise{
			ID:         uuid.NewString(),
			UserID:     userID,
			Name:       in.Name,
			CreatedAt:  at,
			UpdatedAt:  updatedAt,
			SyncStatus: model.SyncPending,
		}
		if err := st.SaveExercise(ctx, &ex); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("entry %d: %v", i+1, err))
			continue
		}
		result.Imported++
	}

	return result, nil
}

func parsePlanTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
