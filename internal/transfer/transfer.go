// Package transfer moves record sets in and out of the local store.
//
// Export writes a user's records as JSONL (one wire record per line)
// or as a single YAML document including the account. Import is the
// reverse, resilient to individual bad lines: invalid records are
// collected, not fatal. Imported records land pending so the sync
// engine pushes them like any other local write.
package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/replog/replog/internal/model"
	"github.com/replog/replog/internal/store"
)

// Document is the YAML export format.
type Document struct {
	ExportedAt string                 `yaml:"exported_at"`
	Account    *model.AccountRecord   `yaml:"account,omitempty"`
	Exercises  []model.ExerciseRecord `yaml:"exercises"`
}

// ExportJSONL writes the user's live records as JSON lines and returns
// the number written.
func ExportJSONL(ctx context.Context, st *store.Store, userID string, w io.Writer) (int, error) {
	records, err := st.ExercisesForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to read records: %w", err)
	}

	enc := json.NewEncoder(w)
	for i, rec := range records {
		if err := enc.Encode(rec.Record()); err != nil {
			return i, fmt.Errorf("failed to write record %s: %w", rec.ID, err)
		}
	}
	return len(records), nil
}

// ExportYAML writes the account and the user's live records as one
// YAML document.
func ExportYAML(ctx context.Context, st *store.Store, userID string, w io.Writer) (int, error) {
	records, err := st.ExercisesForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to read records: %w", err)
	}

	doc := Document{
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Exercises:  make([]model.ExerciseRecord, 0, len(records)),
	}
	if acct, found, err := st.Account(ctx); err == nil && found {
		rec := acct.Record()
		doc.Account = &rec
	}
	for _, rec := range records {
		doc.Exercises = append(doc.Exercises, rec.Record())
	}

	if err := yaml.NewEncoder(w).Encode(doc); err != nil {
		return 0, fmt.Errorf("failed to encode export: %w", err)
	}
	return len(records), nil
}

// ImportOptions configures a JSONL import.
type ImportOptions struct {
	// UserID is assigned to records that don't carry one.
	UserID string

	// DryRun parses and validates without writing.
	DryRun bool
}

// ImportResult summarizes an import.
type ImportResult struct {
	Imported int
	Skipped  int
	Errors   []string
}

// ImportJSONL reads wire records from r and saves them as pending
// local records. Records whose ID already exists locally with an equal
// or newer updated_at are skipped, so re-importing an export is
// idempotent. Invalid lines are recorded as errors and skipped.
func ImportJSONL(ctx context.Context, st *store.Store, r io.Reader, opts ImportOptions) (*ImportResult, error) {
	dec := json.NewDecoder(r)
	result := &ImportResult{}
	line := 0

	for {
		var rec model.ExerciseRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return result, fmt.Errorf("invalid JSON at record %d: %w", line+1, err)
		}
		line++

		ex := rec.Exercise()
		if ex.UserID == "" {
			ex.UserID = opts.UserID
		}
		ex.SyncStatus = model.SyncPending
		ex.Deleted = false

		if err := ex.Validate(); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: %v", line, err))
			continue
		}

		existing, found, err := st.LookupExercise(ctx, ex.ID)
		if err != nil {
			return result, err
		}
		if found && !existing.UpdatedAt.Before(ex.UpdatedAt) {
			result.Skipped++
			continue
		}

		if opts.DryRun {
			result.Imported++
			continue
		}
		if err := st.SaveExercise(ctx, &ex); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: %v", line, err))
			continue
		}
		result.Imported++
	}

	return result, nil
}

// ImportJSONLFile is ImportJSONL reading from a file path.
func ImportJSONLFile(ctx context.Context, st *store.Store, path string, opts ImportOptions) (*ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()
	return ImportJSONL(ctx, st, f, opts)
}
