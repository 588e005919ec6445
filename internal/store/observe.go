package store

import (
	"context"
	"sync"

	"github.com/replog/replog/internal/model"
)

// Subscribe registers a callback for one user's exercise set. If cached
// data exists the callback fires once immediately, then again after
// every mutation affecting the user. The returned unsubscribe function
// is idempotent; once it returns, no further callbacks fire.
func (s *Store) Subscribe(ctx context.Context, userID string, fn func([]model.Exercise)) (func(), error) {
	unsubscribe := s.hub.add(userID, fn)

	snapshot, err := s.ExercisesForUser(ctx, userID)
	if err != nil {
		unsubscribe()
		return nil, err
	}
	if len(snapshot) > 0 {
		fn(snapshot)
	}

	return unsubscribe, nil
}

// Watch returns a live feed of one user's exercise set. The first value
// is the current cached snapshot (possibly empty); subsequent values
// follow mutations. The channel never closes until cancel is called or
// ctx is done. Slow consumers see the latest snapshot, not every
// intermediate one.
func (s *Store) Watch(ctx context.Context, userID string) (<-chan []model.Exercise, func()) {
	ch := make(chan []model.Exercise, 1)

	push := func(snapshot []model.Exercise) {
		// Latest-wins: drop a stale queued snapshot rather than block
		// the mutating goroutine.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}

	unsubscribe := s.hub.add(userID, push)

	var once sync.Once
	cancel := func() {
		once.Do(unsubscribe)
	}

	// Initial emission: whatever is cached right now.
	snapshot, err := s.ExercisesForUser(ctx, userID)
	if err != nil {
		snapshot = nil
	}
	push(snapshot)

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return ch, cancel
}
