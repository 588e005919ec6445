// Package engine implements local-first reconciliation between the
// local store and a backend provider's remote.
//
// The engine owns the record sync state machine. Local writes land in
// the store as pending before the engine ever sees them; the engine's
// job is to drain pending work to the remote, pull remote changes back,
// and resolve concurrent edits by last-write-wins on updated_at.
// Discarded writes go to the store's conflict log rather than vanishing.
//
// Anonymous accounts never sync: the engine idles until the account is
// upgraded.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/replog/replog/internal/model"
	"github.com/replog/replog/internal/netmon"
	"github.com/replog/replog/internal/store"
)

// Options tunes the reconciliation loop. Zero values get defaults.
type Options struct {
	// Interval between periodic reconciliation cycles.
	Interval time.Duration

	// ExerciseAttempts is the per-record retry budget before a record
	// is parked in the error state.
	ExerciseAttempts int

	// AccountAttempts is the retry budget for profile pushes.
	AccountAttempts int

	// BaseDelay seeds the exponential backoff between retries of the
	// same record; MaxDelay caps it.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	Logger *log.Logger
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Interval:         30 * time.Second,
		ExerciseAttempts: 5,
		AccountAttempts:  3,
		BaseDelay:        2 * time.Second,
		MaxDelay:         5 * time.Minute,
	}
}

// State is a point-in-time snapshot of the engine.
type State struct {
	Online     bool
	Syncing    bool
	Pending    int
	Errors     int
	LastError  string
	LastSyncAt time.Time
}

// metaLastSync is the syncstate key holding the last successful cycle.
const metaLastSync = "last_sync_at"

// Engine drives reconciliation between the store and a RemoteClient.
type Engine struct {
	store   *store.Store
	remote  RemoteClient
	monitor *netmon.Monitor
	opts    Options
	logger  *log.Logger

	// runMu serializes cycles: the ticker, the change feed, and
	// ForceSync all funnel through it, so a forced sync queues behind
	// an in-flight cycle instead of racing it.
	runMu sync.Mutex

	mu           sync.Mutex
	syncing      bool
	lastSyncAt   time.Time
	acctAttempts int
	acctParked   bool
	nextTry      map[string]time.Time

	kick chan struct{}

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()
}

// New creates an engine. The store must be opened with its schema
// initialized. monitor may be nil, in which case the engine assumes the
// network is reachable and lets request failures speak for themselves.
func New(st *store.Store, remote RemoteClient, monitor *netmon.Monitor, opts Options) *Engine {
	def := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.ExerciseAttempts <= 0 {
		opts.ExerciseAttempts = def.ExerciseAttempts
	}
	if opts.AccountAttempts <= 0 {
		opts.AccountAttempts = def.AccountAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = def.BaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = def.MaxDelay
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if monitor == nil {
		monitor = netmon.New(netmon.Config{Logger: opts.Logger})
	}

	return &Engine{
		store:   st,
		remote:  remote,
		monitor: monitor,
		opts:    opts,
		logger:  opts.Logger,
		nextTry: make(map[string]time.Time),
		kick:    make(chan struct{}, 1),
	}
}

// Start connects the remote and begins the reconciliation loop. A
// failed initial connect is logged, not fatal: the loop reconnects when
// the network recovers.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if err := e.remote.Connect(ctx); err != nil {
		e.logger.Printf("Initial remote connect failed (will retry): %v", err)
		e.monitor.SetOnline(false)
	}

	// Network recovery triggers an immediate cycle.
	trigger := make(chan struct{}, 1)
	e.unsubscribe = e.monitor.Subscribe(func(online bool) {
		if !online {
			return
		}
		select {
		case trigger <- struct{}{}:
		default:
		}
	})

	e.wg.Add(1)
	go e.run(ctx, trigger)

	if feed := e.remote.Changes(); feed != nil {
		e.wg.Add(1)
		go e.consumeChanges(ctx, feed)
	}
}

// Stop halts the loop and closes the remote.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	e.wg.Wait()
	if err := e.remote.Close(); err != nil {
		e.logger.Printf("Failed to close remote: %v", err)
	}
	e.cancel = nil
}

func (e *Engine) run(ctx context.Context, trigger <-chan struct{}) {
	defer e.wg.Done()

	// First cycle immediately; pending work may predate this process.
	e.cycle(ctx)

	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.cycle(ctx)
		case <-e.kick:
			e.cycle(ctx)
		case <-trigger:
			if err := e.remote.Connect(ctx); err != nil {
				e.logger.Printf("Reconnect failed: %v", err)
				continue
			}
			e.cycle(ctx)
		}
	}
}

func (e *Engine) consumeChanges(ctx context.Context, feed <-chan Change) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-feed:
			if !ok {
				return
			}
			e.runMu.Lock()
			if err := e.applyRemote(ctx, change.Exercise, change.Deleted); err != nil {
				e.logger.Printf("Failed to apply remote change for %s: %v", change.Exercise.ID, err)
			}
			e.runMu.Unlock()
		}
	}
}

// Nudge asks the loop for a cycle soon without waiting for the ticker.
// Non-blocking; a nudge during an in-flight cycle coalesces.
func (e *Engine) Nudge() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// ForceSync resets every errored record to pending with a fresh retry
// budget and runs a full cycle synchronously. It queues behind any
// in-flight cycle.
func (e *Engine) ForceSync(ctx context.Context) error {
	if _, err := e.store.ResetErrorRecords(ctx); err != nil {
		return fmt.Errorf("failed to reset errored records: %w", err)
	}

	e.mu.Lock()
	e.acctAttempts = 0
	e.acctParked = false
	e.nextTry = make(map[string]time.Time)
	e.mu.Unlock()

	// A forced sync ignores the monitor's cached state; the requests
	// themselves establish reachability.
	e.monitor.SetOnline(true)
	return e.cycle(ctx)
}

// Syncing reports whether a cycle is currently in flight.
func (e *Engine) Syncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncing
}

// Online reports the monitor's view of reachability.
func (e *Engine) Online() bool {
	return e.monitor.Online()
}

// Snapshot returns the current engine state.
func (e *Engine) Snapshot(ctx context.Context) (State, error) {
	pending, err := e.store.CountPending(ctx)
	if err != nil {
		return State{}, err
	}
	errs, err := e.store.CountErrors(ctx)
	if err != nil {
		return State{}, err
	}
	lastErr, err := e.store.LastError(ctx)
	if err != nil {
		return State{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Online:     e.monitor.Online(),
		Syncing:    e.syncing,
		Pending:    pending,
		Errors:     errs,
		LastError:  lastErr,
		LastSyncAt: e.lastSyncAt,
	}, nil
}

func (e *Engine) setSyncing(v bool) {
	e.mu.Lock()
	e.syncing = v
	e.mu.Unlock()
}

// backoff returns the delay before retry number attempts+1.
func (e *Engine) backoff(attempts int) time.Duration {
	d := e.opts.BaseDelay
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= e.opts.MaxDelay {
			return e.opts.MaxDelay
		}
	}
	return d
}

// eligible reports whether a record's backoff window has elapsed.
func (e *Engine) eligible(id string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	next, ok := e.nextTry[id]
	return !ok || !now.Before(next)
}

func (e *Engine) deferRetry(id string, attempts int, now time.Time) {
	e.mu.Lock()
	e.nextTry[id] = now.Add(e.backoff(attempts))
	e.mu.Unlock()
}

func (e *Engine) clearRetry(id string) {
	e.mu.Lock()
	delete(e.nextTry, id)
	e.mu.Unlock()
}

// syncableAccount returns the account if it participates in sync.
// Anonymous or missing accounts idle the engine.
func (e *Engine) syncableAccount(ctx context.Context) (*model.UserAccount, bool, error) {
	acct, ok, err := e.store.Account(ctx)
	if err != nil {
		return nil, false, err
	}
	if !ok || acct.IsAnonymous {
		return nil, false, nil
	}
	return acct, true, nil
}
