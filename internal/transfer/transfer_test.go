package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/replog/replog/internal/model"
	"github.com/replog/replog/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "transfer.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}
	return st
}

func seedExercise(t *testing.T, st *store.Store, id, userID, name string, at time.Time) model.Exercise {
	t.Helper()
	ex := model.Exercise{
		ID:         id,
		UserID:     userID,
		Name:       name,
		CreatedAt:  at,
		UpdatedAt:  at,
		SyncStatus: model.SyncSynced,
	}
	if err := st.SaveExercise(context.Background(), &ex); err != nil {
		t.Fatalf("SaveExercise failed: %v", err)
	}
	return ex
}

func TestExportJSONLRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := setupTestStore(t)
	base := time.Now().UTC().Truncate(time.Millisecond)
	seedExercise(t, src, "ex-1", "user-1", "Bench Press", base)
	seedExercise(t, src, "ex-2", "user-1", "Squat", base.Add(time.Minute))

	var buf bytes.Buffer
	n, err := ExportJSONL(ctx, src, "user-1", &buf)
	if err != nil {
		t.Fatalf("ExportJSONL failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("exported %d records, want 2", n)
	}
	if lines := strings.Count(strings.TrimSpace(buf.String()), "\n") + 1; lines != 2 {
		t.Fatalf("got %d lines, want 2", lines)
	}

	dst := setupTestStore(t)
	result, err := ImportJSONL(ctx, dst, &buf, ImportOptions{UserID: "user-1"})
	if err != nil {
		t.Fatalf("ImportJSONL failed: %v", err)
	}
	if result.Imported != 2 || result.Skipped != 0 {
		t.Fatalf("result = %+v, want 2 imported", result)
	}

	got, found, err := dst.Exercise(ctx, "user-1", "ex-1")
	if err != nil || !found {
		t.Fatalf("imported record missing: found=%v err=%v", found, err)
	}
	if got.Name != "Bench Press" {
		t.Errorf("Name = %q, want %q", got.Name, "Bench Press")
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
	}
	if got.SyncStatus != model.SyncPending {
		t.Errorf("imported record has status %q, want pending", got.SyncStatus)
	}
}

func TestImportJSONLIdempotent(t *testing.T) {
	ctx := context.Background()
	src := setupTestStore(t)
	base := time.Now().UTC()
	seedExercise(t, src, "ex-1", "user-1", "Deadlift", base)

	var buf bytes.Buffer
	if _, err := ExportJSONL(ctx, src, "user-1", &buf); err != nil {
		t.Fatalf("ExportJSONL failed: %v", err)
	}
	payload := buf.Bytes()

	dst := setupTestStore(t)
	if _, err := ImportJSONL(ctx, dst, bytes.NewReader(payload), ImportOptions{UserID: "user-1"}); err != nil {
		t.Fatalf("first import failed: %v", err)
	}
	result, err := ImportJSONL(ctx, dst, bytes.NewReader(payload), ImportOptions{UserID: "user-1"})
	if err != nil {
		t.Fatalf("second import failed: %v", err)
	}
	if result.Imported != 0 || result.Skipped != 1 {
		t.Fatalf("re-import result = %+v, want 1 skipped", result)
	}
}

func TestImportJSONLSkipsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t)

	good := model.Exercise{
		ID:         "ex-1",
		UserID:     "user-1",
		Name:       "Row",
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
		SyncStatus: model.SyncSynced,
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(model.ExerciseRecord{ID: "ex-bad", Name: ""}); err != nil {
		t.Fatal(err)
	}
	if err := enc.Encode(good.Record()); err != nil {
		t.Fatal(err)
	}

	result, err := ImportJSONL(ctx, st, &buf, ImportOptions{UserID: "user-1"})
	if err != nil {
		t.Fatalf("ImportJSONL failed: %v", err)
	}
	if result.Imported != 1 || result.Skipped != 1 {
		t.Fatalf("result = %+v, want 1 imported 1 skipped", result)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "record 1") {
		t.Fatalf("Errors = %v, want one error naming record 1", result.Errors)
	}
}

func TestImportJSONLDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	src := setupTestStore(t)
	seedExercise(t, src, "ex-1", "user-1", "Pull Up", time.Now().UTC())

	var buf bytes.Buffer
	if _, err := ExportJSONL(ctx, src, "user-1", &buf); err != nil {
		t.Fatal(err)
	}

	dst := setupTestStore(t)
	result, err := ImportJSONL(ctx, dst, &buf, ImportOptions{UserID: "user-1", DryRun: true})
	if err != nil {
		t.Fatalf("ImportJSONL failed: %v", err)
	}
	if result.Imported != 1 {
		t.Fatalf("dry run counted %d, want 1", result.Imported)
	}
	records, err := dst.ExercisesForUser(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("dry run wrote %d records", len(records))
	}
}

func TestExportYAMLIncludesAccount(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t)
	acct := model.UserAccount{
		ID:          uuid.NewString(),
		Email:       "lifter@example.com",
		IsAnonymous: false,
		CreatedAt:   time.Now().UTC(),
	}
	if err := st.SaveAccount(ctx, &acct); err != nil {
		t.Fatalf("SaveAccount failed: %v", err)
	}
	seedExercise(t, st, "ex-1", "user-1", "Overhead Press", time.Now().UTC())

	var buf bytes.Buffer
	n, err := ExportYAML(ctx, st, "user-1", &buf)
	if err != nil {
		t.Fatalf("ExportYAML failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("exported %d records, want 1", n)
	}

	var doc Document
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("export is not valid YAML: %v", err)
	}
	if doc.Account == nil || doc.Account.Email != "lifter@example.com" {
		t.Fatalf("Account = %+v, want email preserved", doc.Account)
	}
	if len(doc.Exercises) != 1 || doc.Exercises[0].Name != "Overhead Press" {
		t.Fatalf("Exercises = %+v", doc.Exercises)
	}
}

func TestApplyPlan(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t)

	planPath := filepath.Join(t.TempDir(), "plan.toml")
	content := `
[[exercise]]
name = "Bench Press"
at = "2026-08-30T10:00:00Z"

[[exercise]]
name = "Squat"

[[exercise]]
name = ""
`
	if err := os.WriteFile(planPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	plan, err := LoadPlan(planPath)
	if err != nil {
		t.Fatalf("LoadPlan failed: %v", err)
	}
	if len(plan.Exercises) != 3 {
		t.Fatalf("parsed %d entries, want 3", len(plan.Exercises))
	}

	result, err := ApplyPlan(ctx, st, plan, "user-1", false)
	if err != nil {
		t.Fatalf("ApplyPlan failed: %v", err)
	}
	if result.Imported != 2 || result.Skipped != 1 {
		t.Fatalf("result = %+v, want 2 imported 1 skipped", result)
	}

	records, err := st.ExercisesForUser(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	for _, rec := range records {
		if rec.ID == "" {
			t.Error("plan entry got no ID")
		}
		if rec.SyncStatus != model.SyncPending {
			t.Errorf("plan entry %q has status %q, want pending", rec.Name, rec.SyncStatus)
		}
	}
}

func TestApplyPlanDryRun(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t)
	plan := &Plan{Exercises: []PlanEntry{{Name: "Lunge"}}}

	result, err := ApplyPlan(ctx, st, plan, "user-1", true)
	if err != nil {
		t.Fatalf("ApplyPlan failed: %v", err)
	}
	if result.Imported != 1 {
		t.Fatalf("dry run counted %d, want 1", result.Imported)
	}
	records, err := st.ExercisesForUser(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("dry run wrote %d records", len(records))
	}
}

func TestApplyPlanRejectsBadTimestamp(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t)
	plan := &Plan{Exercises: []PlanEntry{{Name: "Curl", At: "not-a-date"}}}

	result, err := ApplyPlan(ctx, st, plan, "user-1", false)
	if err != nil {
		t.Fatalf("ApplyPlan failed: %v", err)
	}
	if result.Skipped != 1 || len(result.Errors) != 1 {
		t.Fatalf("result = %+v, want 1 skipped with error", result)
	}
}
