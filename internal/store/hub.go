package store

import (
	"sync"
	"sync/atomic"

	"github.com/replog/replog/internal/model"
)

// hub fans mutation notifications out to subscribers. Dispatch happens
// on the mutating goroutine; callbacks must be quick and must not block.
type hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
}

type subscriber struct {
	userID string
	fn     func([]model.Exercise)

	// closed flips once on unsubscribe. Checked immediately before
	// every invocation so no callback fires after unsubscribe returns
	// on the dispatching goroutine.
	closed atomic.Bool
}

func newHub() *hub {
	return &hub{subs: make(map[int]*subscriber)}
}

// add registers a subscriber for one user's exercise set and returns an
// idempotent unsubscribe function.
func (h *hub) add(userID string, fn func([]model.Exercise)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	sub := &subscriber{userID: userID, fn: fn}
	h.subs[id] = sub

	return func() {
		sub.closed.Store(true)
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// dispatch delivers a snapshot to every live subscriber for userID.
func (h *hub) dispatch(userID string, snapshot []model.Exercise) {
	h.mu.Lock()
	targets := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.userID == userID {
			targets = append(targets, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range targets {
		if sub.closed.Load() {
			continue
		}
		sub.fn(snapshot)
	}
}

// userIDs returns the distinct user IDs with live subscriptions.
func (h *hub) userIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[string]bool)
	var ids []string
	for _, sub := range h.subs {
		if !seen[sub.userID] {
			seen[sub.userID] = true
			ids = append(ids, sub.userID)
		}
	}
	return ids
}
