package model

import "time"

// Wire representation shared by both backend providers: snake_case field
// names, RFC3339 timestamps as strings. Conversions in both directions
// are total; malformed timestamps decode to the zero time and are caught
// by the validators, never here.

// ExerciseRecord is the persisted/transported form of an Exercise.
type ExerciseRecord struct {
	ID         string `json:"id" yaml:"id"`
	UserID     string `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Name       string `json:"name" yaml:"name"`
	CreatedAt  string `json:"created_at" yaml:"created_at"`
	UpdatedAt  string `json:"updated_at" yaml:"updated_at"`
	SyncStatus string `json:"sync_status" yaml:"sync_status"`
	Deleted    bool   `json:"deleted,omitempty" yaml:"deleted,omitempty"`
}

// Record converts an Exercise to its wire form.
func (e Exercise) Record() ExerciseRecord {
	return ExerciseRecord{
		ID:         e.ID,
		UserID:     e.UserID,
		Name:       e.Name,
		CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:  e.UpdatedAt.UTC().Format(time.RFC3339Nano),
		SyncStatus: string(e.SyncStatus),
		Deleted:    e.Deleted,
	}
}

// Exercise converts a wire record back to the in-memory form.
func (r ExerciseRecord) Exercise() Exercise {
	return Exercise{
		ID:         r.ID,
		UserID:     r.UserID,
		Name:       r.Name,
		CreatedAt:  parseWireTime(r.CreatedAt),
		UpdatedAt:  parseWireTime(r.UpdatedAt),
		SyncStatus: SyncStatus(r.SyncStatus),
		Deleted:    r.Deleted,
	}
}

// AccountRecord is the persisted/transported form of a UserAccount.
type AccountRecord struct {
	ID          string `json:"id" yaml:"id"`
	Email       string `json:"email,omitempty" yaml:"email,omitempty"`
	IsAnonymous bool   `json:"is_anonymous" yaml:"is_anonymous"`
	CreatedAt   string `json:"created_at" yaml:"created_at"`
	LastSyncAt  string `json:"last_sync_at,omitempty" yaml:"last_sync_at,omitempty"`
}

// Record converts a UserAccount to its wire form.
func (u UserAccount) Record() AccountRecord {
	rec := AccountRecord{
		ID:          u.ID,
		Email:       u.Email,
		IsAnonymous: u.IsAnonymous,
		CreatedAt:   u.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if u.LastSyncAt != nil {
		rec.LastSyncAt = u.LastSyncAt.UTC().Format(time.RFC3339Nano)
	}
	return rec
}

// Account converts a wire record back to the in-memory form.
func (r AccountRecord) Account() UserAccount {
	u := UserAccount{
		ID:          r.ID,
		Email:       r.Email,
		IsAnonymous: r.IsAnonymous,
		CreatedAt:   parseWireTime(r.CreatedAt),
	}
	if r.LastSyncAt != "" {
		t := parseWireTime(r.LastSyncAt)
		u.LastSyncAt = &t
	}
	return u
}

func parseWireTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		// Total conversion: unparseable values become the zero time,
		// which the validators reject downstream.
		return time.Time{}
	}
	return t
}
