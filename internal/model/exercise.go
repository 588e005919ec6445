// Package model defines the core record types for replog: exercises and
// user accounts, their validation rules, and the wire representation used
// by backend providers.
//
// Everything in this package is pure value manipulation. No I/O happens
// here; persistence and transport live in internal/store and the backend
// adapters.
package model

import (
	"fmt"
	"strings"
	"time"
)

// MaxNameLength bounds the sanitized exercise name.
const MaxNameLength = 200

// SyncStatus tracks where a record sits in the local-first state machine.
//
// Valid transitions:
//
//	pending --(remote ack)--------------> synced
//	pending --(retries exhausted)-------> error
//	synced  --(local edit)--------------> pending
//	error   --(forced sync succeeds)----> synced
//
// No other transitions are valid. A record is never dropped from the
// machine; deletion goes through the tombstone flag instead.
type SyncStatus string

const (
	// SyncPending marks a record with local changes not yet confirmed remotely.
	SyncPending SyncStatus = "pending"

	// SyncSynced marks a record whose last write was confirmed by the remote.
	SyncSynced SyncStatus = "synced"

	// SyncError marks a record whose remote write failed after all retries.
	SyncError SyncStatus = "error"
)

// Valid returns true if the status is one of the three known states.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncPending, SyncSynced, SyncError:
		return true
	}
	return false
}

// Exercise is a single tracked exercise record.
//
// IDs are opaque strings assigned by the backend adapter. Records created
// offline carry a client-generated ID that survives reconciliation.
type Exercise struct {
	ID     string
	UserID string // empty for anonymous-local-only records
	Name   string

	CreatedAt time.Time
	UpdatedAt time.Time // invariant: UpdatedAt >= CreatedAt

	SyncStatus SyncStatus

	// Deleted is the tombstone flag. A tombstoned record stays in the
	// local store until the delete has propagated to the remote (or the
	// record never reached it), then is hard-deleted.
	Deleted bool
}

// Validate checks the Exercise invariants.
func (e *Exercise) Validate() error {
	if e.ID == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if e.Name == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if len(e.Name) > MaxNameLength {
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("must be %d characters or less (got %d)", MaxNameLength, len(e.Name))}
	}
	if e.CreatedAt.IsZero() {
		return &ValidationError{Field: "created_at", Reason: "is required"}
	}
	if e.UpdatedAt.IsZero() {
		return &ValidationError{Field: "updated_at", Reason: "is required"}
	}
	if e.UpdatedAt.Before(e.CreatedAt) {
		return &ValidationError{Field: "updated_at", Reason: "must not precede created_at"}
	}
	if !e.SyncStatus.Valid() {
		return &ValidationError{Field: "sync_status", Reason: fmt.Sprintf("unknown status %q", e.SyncStatus)}
	}
	return nil
}

// Touch bumps UpdatedAt and returns the record to pending.
// Call on every local mutation.
func (e *Exercise) Touch(now time.Time) {
	e.UpdatedAt = now
	e.SyncStatus = SyncPending
}

// ExerciseInput is the caller-supplied payload for creating an exercise.
type ExerciseInput struct {
	Name string

	// At optionally backdates the record (e.g. logging yesterday's
	// workout). Zero means "now".
	At time.Time
}

// ValidateExerciseInput sanitizes and validates caller input.
//
// The name is trimmed and internal whitespace runs are collapsed to a
// single space before the length bound is applied. Returns the sanitized
// input or a *ValidationError.
func ValidateExerciseInput(in ExerciseInput) (ExerciseInput, error) {
	name := strings.Join(strings.Fields(in.Name), " ")
	if name == "" {
		return ExerciseInput{}, &ValidationError{Field: "name", Reason: "must be a non-empty string"}
	}
	if len(name) > MaxNameLength {
		return ExerciseInput{}, &ValidationError{Field: "name", Reason: fmt.Sprintf("must be %d characters or less (got %d)", MaxNameLength, len(name))}
	}
	out := in
	out.Name = name
	return out, nil
}

// ValidationError reports malformed input to a mutation. It is always
// recoverable by the caller correcting the input; nothing has been
// written locally or remotely when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid exercise input: %s %s", e.Field, e.Reason)
}
