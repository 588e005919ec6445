package engine

import (
	"context"

	"github.com/replog/replog/internal/model"
)

// Change is a remote-originated mutation delivered over the provider's
// change feed.
type Change struct {
	Exercise model.Exercise

	// Deleted marks a remote deletion. Exercise then carries at least
	// ID, UserID, and the deletion's UpdatedAt for conflict ordering.
	Deleted bool
}

// RemoteClient is the provider-side half of the sync engine. Backend
// adapters implement it over their own transport; the engine never sees
// the wire.
//
// All methods must be safe for concurrent use. Push operations must be
// idempotent: the engine retries on failure and may re-push a record
// the remote already has.
type RemoteClient interface {
	// Connect establishes the transport. The engine calls it once at
	// startup and again after the network monitor reports recovery.
	Connect(ctx context.Context) error

	// Close tears down the transport and the Changes feed.
	Close() error

	// PushExercise upserts one record remotely.
	PushExercise(ctx context.Context, ex model.Exercise) error

	// DeleteExercise propagates a tombstone.
	DeleteExercise(ctx context.Context, userID, id string) error

	// FetchExercises returns the remote's live record set for a user.
	FetchExercises(ctx context.Context, userID string) ([]model.Exercise, error)

	// PushAccount upserts the account profile remotely.
	PushAccount(ctx context.Context, u *model.UserAccount) error

	// Changes returns the remote mutation feed. The channel closes on
	// Close. Providers without push notification return a nil channel.
	Changes() <-chan Change
}
