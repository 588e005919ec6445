package model

import (
	"strings"
	"testing"
	"time"
)

func TestValidateExerciseInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain", "Push-ups", "Push-ups", false},
		{"trimmed", "  Push-ups  ", "Push-ups", false},
		{"collapsed whitespace", "Bench \t\n  Press", "Bench Press", false},
		{"empty", "", "", true},
		{"whitespace only", "   \t ", "", true},
		{"too long", strings.Repeat("a", MaxNameLength+1), "", true},
		{"exactly max", strings.Repeat("a", MaxNameLength), strings.Repeat("a", MaxNameLength), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateExerciseInput(ExerciseInput{Name: tt.input})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got none", tt.input)
				}
				var verr *ValidationError
				if !asValidationError(err, &verr) {
					t.Errorf("expected *ValidationError, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateExerciseInput(%q) failed: %v", tt.input, err)
			}
			if got.Name != tt.want {
				t.Errorf("sanitized name = %q, want %q", got.Name, tt.want)
			}
		})
	}
}

func asValidationError(err error, target **ValidationError) bool {
	v, ok := err.(*ValidationError)
	if ok {
		*target = v
	}
	return ok
}

func TestExerciseValidate_TimestampOrdering(t *testing.T) {
	now := time.Now()

	ex := Exercise{
		ID:         "ex-1",
		Name:       "Squats",
		CreatedAt:  now,
		UpdatedAt:  now.Add(-time.Second),
		SyncStatus: SyncPending,
	}
	if err := ex.Validate(); err == nil {
		t.Fatal("expected error when updated_at < created_at")
	}

	ex.UpdatedAt = now
	if err := ex.Validate(); err != nil {
		t.Fatalf("updated_at == created_at should be valid: %v", err)
	}

	ex.UpdatedAt = now.Add(time.Hour)
	if err := ex.Validate(); err != nil {
		t.Fatalf("updated_at > created_at should be valid: %v", err)
	}
}

func TestExerciseValidate_Status(t *testing.T) {
	now := time.Now()
	ex := Exercise{ID: "ex-1", Name: "Squats", CreatedAt: now, UpdatedAt: now, SyncStatus: "half-synced"}
	if err := ex.Validate(); err == nil {
		t.Fatal("expected error for unknown sync status")
	}
}

func TestTouch(t *testing.T) {
	now := time.Now()
	ex := Exercise{
		ID: "ex-1", Name: "Squats",
		CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour),
		SyncStatus: SyncSynced,
	}

	ex.Touch(now)

	if ex.SyncStatus != SyncPending {
		t.Errorf("Touch should return record to pending, got %s", ex.SyncStatus)
	}
	if !ex.UpdatedAt.Equal(now) {
		t.Errorf("Touch should bump updated_at to %v, got %v", now, ex.UpdatedAt)
	}
	if err := ex.Validate(); err != nil {
		t.Errorf("touched record should still validate: %v", err)
	}
}

func TestExerciseWireRoundTrip(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	ex := Exercise{
		ID:         "ex-42",
		UserID:     "user-1",
		Name:       "Deadlift",
		CreatedAt:  created,
		UpdatedAt:  created.Add(time.Minute),
		SyncStatus: SyncSynced,
		Deleted:    true,
	}

	rec := ex.Record()
	if rec.SyncStatus != "synced" {
		t.Errorf("wire sync_status = %q, want synced", rec.SyncStatus)
	}

	back := rec.Exercise()
	if back.ID != ex.ID || back.UserID != ex.UserID || back.Name != ex.Name {
		t.Errorf("round trip mismatch: %+v != %+v", back, ex)
	}
	if !back.CreatedAt.Equal(ex.CreatedAt) || !back.UpdatedAt.Equal(ex.UpdatedAt) {
		t.Errorf("timestamp round trip mismatch: %v/%v", back.CreatedAt, back.UpdatedAt)
	}
	if !back.Deleted {
		t.Error("tombstone flag lost in round trip")
	}
}

func TestWireConversionIsTotal(t *testing.T) {
	// Garbage timestamps must not panic or error; they decode to the
	// zero time and fail validation instead.
	rec := ExerciseRecord{ID: "ex-1", Name: "Rows", CreatedAt: "not-a-time", UpdatedAt: "also-not", SyncStatus: "pending"}
	ex := rec.Exercise()
	if !ex.CreatedAt.IsZero() || !ex.UpdatedAt.IsZero() {
		t.Error("unparseable timestamps should decode to zero time")
	}
	if err := ex.Validate(); err == nil {
		t.Error("zero timestamps should fail validation")
	}
}
