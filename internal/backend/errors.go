package backend

import "errors"

// Common errors returned across the repository contract boundary.
//
// These can be checked with errors.Is():
//
//	if errors.Is(err, backend.ErrBackendUnavailable) {
//	    // provider unreachable and no cached session exists
//	}
var (
	// ErrBackendUnavailable is returned by Initialize when the underlying
	// provider cannot be reached and no cached/local session exists.
	// The Storage Manager does not retry automatically.
	ErrBackendUnavailable = errors.New("backend provider unavailable")

	// ErrInvalidID is returned when an empty or malformed identifier is
	// passed to a delete or lookup operation.
	ErrInvalidID = errors.New("invalid record identifier")

	// ErrProductionRestricted is returned when a development-only
	// operation (backend switch, clear-all) is invoked in a production
	// environment. Never retried.
	ErrProductionRestricted = errors.New("operation not permitted in production")

	// ErrMigration is returned by user-data migration on missing
	// authentication or any individual record write failure. Partial
	// migrations are not rolled back; the caller must re-validate
	// consistency and re-run.
	ErrMigration = errors.New("user data migration failed")

	// ErrNotInitialized is returned when a contract method is invoked
	// before Initialize has succeeded.
	ErrNotInitialized = errors.New("backend not initialized")

	// ErrNoAccount is returned when an operation requires a signed-in
	// account but none exists.
	ErrNoAccount = errors.New("no user account")

	// ErrUnknownBackend is returned by the factory when no constructor
	// is registered for the requested backend type.
	ErrUnknownBackend = errors.New("unknown backend type")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("backend closed")
)

// IsRecoverable returns true if the caller can fix the error by
// correcting input and retrying immediately (validation and identifier
// errors).
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInvalidID)
}

// IsFatal returns true if the error indicates a state that requires
// re-initialization or operator intervention rather than a retry.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBackendUnavailable) {
		return true
	}
	if errors.Is(err, ErrClosed) {
		return true
	}
	if errors.Is(err, ErrUnknownBackend) {
		return true
	}
	return false
}
