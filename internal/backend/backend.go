// Package backend defines the repository contract every storage backend
// adapter must satisfy, plus the registry and factory that select the
// active adapter from configuration.
//
// Two adapters exist:
//
//   - internal/backend/pulse: push-based realtime provider. A single
//     WebSocket session carries writes and a server change feed.
//   - internal/backend/relay: request/response provider. A remote libSQL
//     database serves CRUD; a separate channel delivers change
//     notifications.
//
// Consumers reach an adapter only through the Storage Manager, which
// guarantees a single live instance per type. No contract consumer may
// depend on adapter-specific methods.
package backend

import (
	"context"
	"log"
	"time"

	"github.com/replog/replog/internal/model"
)

// Type identifies a backend adapter.
type Type string

const (
	// TypePulse is backend A, the push-based realtime provider.
	TypePulse Type = "pulse"

	// TypeRelay is backend B, the request/response provider.
	TypeRelay Type = "relay"
)

// String returns the string representation of the backend type.
func (t Type) String() string {
	return string(t)
}

// DisplayName returns the human-readable provider name.
func (t Type) DisplayName() string {
	switch t {
	case TypePulse:
		return "Pulse"
	case TypeRelay:
		return "Relay"
	default:
		return string(t)
	}
}

// SyncInfo is a point-in-time snapshot of an adapter's sync state,
// suitable for status displays. Every field is read from the local
// store and the network monitor, so a snapshot is cheap to take.
type SyncInfo struct {
	Online     bool
	Syncing    bool
	Pending    int
	Errors     []string
	LastSyncAt *time.Time
}

// Repository is the capability set every backend adapter implements.
//
// All mutating methods are local-first: the local store is updated
// synchronously and the remote write happens asynchronously. Read
// methods never touch the network; the local store is the single source
// of truth for reads.
type Repository interface {
	// Name returns the adapter type.
	Name() Type

	// Initialize establishes the backend connection. Idempotent.
	// Returns ErrBackendUnavailable if the provider cannot be reached
	// and no cached/local session exists.
	Initialize(ctx context.Context) error

	// Close releases the adapter's resources. The local store survives.
	Close() error

	// ===================
	// Exercise Operations
	// ===================

	// AddExercise validates input, persists the record locally with
	// sync status pending, and enqueues the remote write. The record is
	// visible to reads before remote confirmation.
	AddExercise(ctx context.Context, userID string, input model.ExerciseInput) (*model.Exercise, error)

	// DeleteExercise marks the record tombstoned locally and enqueues
	// the remote delete. Returns ErrInvalidID for empty/malformed ids.
	DeleteExercise(ctx context.Context, userID, id string) error

	// ExerciseByID is a point lookup against the materialized local
	// set. No remote round-trip.
	ExerciseByID(ctx context.Context, userID, id string) (*model.Exercise, bool)

	// ListExercises returns a snapshot of the local set for the user,
	// tombstones excluded.
	ListExercises(ctx context.Context, userID string) ([]model.Exercise, error)

	// Exercises returns a live, continuously-updating feed. The first
	// value is whatever is cached locally (possibly empty). The channel
	// never closes until the cancel func runs or ctx is done.
	Exercises(ctx context.Context, userID string) (<-chan []model.Exercise, func())

	// SubscribeExercises is the callback alternative to Exercises. The
	// callback fires at least once immediately if cached data exists.
	// The returned unsubscribe func is idempotent and stops all further
	// callbacks, including already-scheduled ones.
	SubscribeExercises(userID string, fn func([]model.Exercise)) (func(), error)

	// ===================
	// Sync Introspection
	// ===================

	IsSyncing() bool
	IsOnline() bool
	PendingChanges() int
	HasErrors() bool
	ErrorMessage() string

	// ForceSync triggers an immediate reconciliation attempt regardless
	// of backoff state. It does not cancel an in-flight attempt; it
	// queues behind it.
	ForceSync(ctx context.Context) error

	// SyncSnapshot returns the adapter's current sync state.
	SyncSnapshot() SyncInfo

	// ===================
	// Account Operations
	// ===================

	// SignInAnonymously returns the device's account, minting an
	// anonymous one on first use.
	SignInAnonymously(ctx context.Context) (*model.UserAccount, error)

	// CurrentUser returns the signed-in account, if any.
	CurrentUser(ctx context.Context) (*model.UserAccount, bool)

	// UpgradeAccount attaches an email to the current account
	// (anonymous -> authenticated). Accounts are never downgraded.
	UpgradeAccount(ctx context.Context, email string) (*model.UserAccount, error)

	// ===================
	// Destructive / Migration Support
	// ===================

	// ClearAll wipes local and remote data for this backend. Reached
	// only through the Storage Manager, which gates it to
	// non-production environments.
	ClearAll(ctx context.Context) error
}

// Options carries everything an adapter constructor needs. Concrete
// values come from internal/config; keeping the struct flat avoids a
// config dependency in adapter packages.
type Options struct {
	// DataDir is the root data directory (the local store lives here).
	DataDir string

	// PulseEndpoint is the pulse provider's WebSocket URL. Pulse
	// authenticates with the session token.
	PulseEndpoint string

	// RelayURL is the relay provider's libSQL database URL,
	// authenticated by RelayAuthToken. RelayNotifyURL is relay's
	// realtime notification channel.
	RelayURL       string
	RelayAuthToken string
	RelayNotifyURL string

	// SessionToken is the signed-in user's JWT; empty for anonymous
	// local-only sessions.
	SessionToken string

	// JWTSecret/JWTIssuer verify the session token.
	JWTSecret string
	JWTIssuer string

	// SyncInterval is the background reconciliation tick.
	SyncInterval time.Duration

	// ProbeURL overrides the connectivity probe target ("" = derive
	// from Endpoint; probes default to online when unavailable).
	ProbeURL string

	// Logger defaults to stderr when nil.
	Logger *log.Logger
}
