package model

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// MaxEmailLength bounds account email addresses.
const MaxEmailLength = 254

// Intentionally loose; real verification happens at the provider.
var emailRx = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// UserAccount is the account a device's records belong to.
//
// Accounts start anonymous on first launch and may be upgraded in place
// by attaching an email. The upgrade is one-way; an account is never
// downgraded back to anonymous.
//
// Invariant: IsAnonymous == true iff Email is empty.
type UserAccount struct {
	ID          string // UUID
	Email       string
	IsAnonymous bool
	CreatedAt   time.Time

	// LastSyncAt is only set for non-anonymous accounts (anonymous
	// accounts never sync) and is always >= CreatedAt.
	LastSyncAt *time.Time
}

// NewAnonymousAccount creates the default account minted on first launch.
func NewAnonymousAccount(now time.Time) *UserAccount {
	return &UserAccount{
		ID:          uuid.NewString(),
		IsAnonymous: true,
		CreatedAt:   now,
	}
}

// Upgrade attaches an email, turning an anonymous account into an
// authenticated one. Upgrading an already-authenticated account to a
// different email is allowed; removing the email is not.
func (u *UserAccount) Upgrade(email string) error {
	if email == "" {
		return &UserValidationError{Field: "email", Reason: "is required for upgrade"}
	}
	if len(email) > MaxEmailLength {
		return &UserValidationError{Field: "email", Reason: fmt.Sprintf("must be %d characters or less", MaxEmailLength)}
	}
	if !emailRx.MatchString(email) {
		return &UserValidationError{Field: "email", Reason: "is not a valid address"}
	}
	u.Email = email
	u.IsAnonymous = false
	return nil
}

// Validate enforces the account invariants. It is called at construction
// and again at every mutation before persisting.
func (u *UserAccount) Validate() error {
	if _, err := uuid.Parse(u.ID); err != nil {
		return &UserValidationError{Field: "id", Reason: "must be a UUID"}
	}
	if u.IsAnonymous && u.Email != "" {
		return &UserValidationError{Field: "email", Reason: "must be absent for anonymous accounts"}
	}
	if !u.IsAnonymous {
		if u.Email == "" {
			return &UserValidationError{Field: "email", Reason: "is required for authenticated accounts"}
		}
		if len(u.Email) > MaxEmailLength {
			return &UserValidationError{Field: "email", Reason: fmt.Sprintf("must be %d characters or less", MaxEmailLength)}
		}
		if !emailRx.MatchString(u.Email) {
			return &UserValidationError{Field: "email", Reason: "is not a valid address"}
		}
	}
	if u.CreatedAt.IsZero() {
		return &UserValidationError{Field: "created_at", Reason: "is required"}
	}
	if u.LastSyncAt != nil {
		if u.IsAnonymous {
			return &UserValidationError{Field: "last_sync_at", Reason: "must not be set for anonymous accounts"}
		}
		if u.LastSyncAt.Before(u.CreatedAt) {
			return &UserValidationError{Field: "last_sync_at", Reason: "must not precede created_at"}
		}
	}
	return nil
}

// UserValidationError reports an account invariant violation, carrying
// the offending field name.
type UserValidationError struct {
	Field  string
	Reason string
}

func (e *UserValidationError) Error() string {
	return fmt.Sprintf("invalid user account: %s %s", e.Field, e.Reason)
}
