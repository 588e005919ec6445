package backend

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/replog/replog/internal/auth"
	"github.com/replog/replog/internal/engine"
	"github.com/replog/replog/internal/model"
	"github.com/replog/replog/internal/netmon"
	"github.com/replog/replog/internal/store"
)

// Core is the shared local-first half of an adapter: local store,
// reconciliation engine, and account handling. Adapters embed it and
// supply their RemoteClient; the contract's read path and the write
// path's local leg are identical across providers, only the transport
// differs.
type Core struct {
	typ    Type
	opts   Options
	remote engine.RemoteClient
	logger *log.Logger

	mu          sync.Mutex
	store       *store.Store
	engine      *engine.Engine
	monitor     *netmon.Monitor
	initialized bool
	closed      bool
}

// AdapterLogger returns logger, or a default stderr logger with the
// adapter's bracketed prefix when nil.
func AdapterLogger(typ Type, logger *log.Logger) *log.Logger {
	if logger != nil {
		return logger
	}
	return log.New(os.Stderr, fmt.Sprintf("[%s] ", typ), log.LstdFlags)
}

// NewCore builds the shared adapter state. Initialize does the actual
// opening; construction never fails.
func NewCore(typ Type, opts Options, remote engine.RemoteClient) *Core {
	logger := AdapterLogger(typ, opts.Logger)
	return &Core{
		typ:    typ,
		opts:   opts,
		remote: remote,
		logger: logger,
	}
}

// StorePath returns the adapter's local database path. Each adapter
// keeps its own store so migration between backends has a real source
// and destination.
func StorePath(dataDir string, typ Type) string {
	return filepath.Join(dataDir, fmt.Sprintf("replog-%s.db", typ))
}

// Name returns the adapter type.
func (c *Core) Name() Type {
	return c.typ
}

// Initialize opens the local store, seeds the account from the session
// token when one is present, and starts the reconciliation engine.
// Idempotent.
func (c *Core) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.initialized {
		return nil
	}

	s, err := store.Open(StorePath(c.opts.DataDir, c.typ))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if err := s.InitSchema(ctx); err != nil {
		s.Close()
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	c.store = s

	if err := c.seedAccountFromSession(ctx); err != nil {
		c.logger.Printf("Ignoring session token: %v", err)
	}

	var probe netmon.Probe
	if c.opts.ProbeURL != "" {
		probe = netmon.HTTPProbe(c.opts.ProbeURL)
	}
	c.monitor = netmon.New(netmon.Config{Probe: probe, Logger: c.logger})

	c.engine = engine.New(s, c.remote, c.monitor, engine.Options{
		Interval: c.opts.SyncInterval,
		Logger:   c.logger,
	})

	c.monitor.Start(ctx)
	c.engine.Start(ctx)
	c.initialized = true
	return nil
}

// seedAccountFromSession creates an authenticated account from a valid
// session token on first run. An existing local account always wins.
func (c *Core) seedAccountFromSession(ctx context.Context) error {
	if c.opts.SessionToken == "" || c.opts.JWTSecret == "" {
		return nil
	}

	if _, found, err := c.store.Account(ctx); err != nil || found {
		return err
	}

	claims, err := auth.Parse(c.opts.SessionToken, auth.Config{
		Secret: c.opts.JWTSecret,
		Issuer: c.opts.JWTIssuer,
	})
	if err != nil {
		return err
	}

	acct := &model.UserAccount{
		ID:          claims.Subject,
		Email:       claims.Email,
		IsAnonymous: claims.Anonymous,
		CreatedAt:   time.Now().UTC(),
	}
	return c.store.SaveAccount(ctx, acct)
}

// Close stops the engine and closes the local store. The store file
// survives for the next session.
func (c *Core) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if !c.initialized {
		return nil
	}
	c.engine.Stop()
	c.monitor.Stop()
	return c.store.Close()
}

// guard returns the store or the appropriate lifecycle error.
func (c *Core) guard() (*store.Store, *engine.Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, ErrClosed
	}
	if !c.initialized {
		return nil, nil, ErrNotInitialized
	}
	return c.store, c.engine, nil
}

// AddExercise persists the record locally as pending and nudges the
// engine. The record is visible to reads before the remote confirms.
func (c *Core) AddExercise(ctx context.Context, userID string, input model.ExerciseInput) (*model.Exercise, error) {
	s, eng, err := c.guard()
	if err != nil {
		return nil, err
	}

	input, err = model.ValidateExerciseInput(input)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	createdAt := now
	if !input.At.IsZero() {
		createdAt = input.At.UTC()
	}
	updatedAt := now
	if createdAt.After(updatedAt) {
		updatedAt = createdAt
	}

	ex := &model.Exercise{
		ID:         uuid.NewString(),
		UserID:     userID,
		Name:       input.Name,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
		SyncStatus: model.SyncPending,
	}
	if err := s.SaveExercise(ctx, ex); err != nil {
		return nil, err
	}

	eng.Nudge()
	return ex, nil
}

// DeleteExercise tombstones the record locally and nudges the engine.
// Deleting a record that does not exist is a no-op.
func (c *Core) DeleteExercise(ctx context.Context, userID, id string) error {
	s, eng, err := c.guard()
	if err != nil {
		return err
	}
	if id == "" {
		return ErrInvalidID
	}

	ok, err := s.MarkDeleted(ctx, userID, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if ok {
		eng.Nudge()
	}
	return nil
}

// ExerciseByID is a local point lookup.
func (c *Core) ExerciseByID(ctx context.Context, userID, id string) (*model.Exercise, bool) {
	s, _, err := c.guard()
	if err != nil {
		return nil, false
	}
	ex, found, err := s.Exercise(ctx, userID, id)
	if err != nil {
		c.logger.Printf("Lookup failed for %s: %v", id, err)
		return nil, false
	}
	return ex, found
}

// ListExercises returns the local snapshot, tombstones excluded.
func (c *Core) ListExercises(ctx context.Context, userID string) ([]model.Exercise, error) {
	s, _, err := c.guard()
	if err != nil {
		return nil, err
	}
	return s.ExercisesForUser(ctx, userID)
}

// Exercises returns the live local feed.
func (c *Core) Exercises(ctx context.Context, userID string) (<-chan []model.Exercise, func()) {
	s, _, err := c.guard()
	if err != nil {
		ch := make(chan []model.Exercise)
		close(ch)
		return ch, func() {}
	}
	return s.Watch(ctx, userID)
}

// SubscribeExercises registers a local change callback.
func (c *Core) SubscribeExercises(userID string, fn func([]model.Exercise)) (func(), error) {
	s, _, err := c.guard()
	if err != nil {
		return nil, err
	}
	return s.Subscribe(context.Background(), userID, fn)
}

// IsSyncing reports whether a reconciliation cycle is in flight.
func (c *Core) IsSyncing() bool {
	_, eng, err := c.guard()
	if err != nil {
		return false
	}
	return eng.Syncing()
}

// IsOnline reports the connectivity monitor's view.
func (c *Core) IsOnline() bool {
	_, eng, err := c.guard()
	if err != nil {
		return false
	}
	return eng.Online()
}

// PendingChanges returns the number of records awaiting remote work.
func (c *Core) PendingChanges() int {
	s, _, err := c.guard()
	if err != nil {
		return 0
	}
	n, err := s.CountPending(context.Background())
	if err != nil {
		return 0
	}
	return n
}

// HasErrors reports whether any record has exhausted its retries.
func (c *Core) HasErrors() bool {
	return c.countErrors() > 0
}

// ErrorMessage returns the most recent per-record failure, if any.
func (c *Core) ErrorMessage() string {
	s, _, err := c.guard()
	if err != nil {
		return ""
	}
	msg, err := s.LastError(context.Background())
	if err != nil {
		return ""
	}
	return msg
}

func (c *Core) countErrors() int {
	s, _, err := c.guard()
	if err != nil {
		return 0
	}
	n, err := s.CountErrors(context.Background())
	if err != nil {
		return 0
	}
	return n
}

// ForceSync resets errored records and runs a cycle synchronously.
func (c *Core) ForceSync(ctx context.Context) error {
	_, eng, err := c.guard()
	if err != nil {
		return err
	}
	return eng.ForceSync(ctx)
}

// SyncSnapshot returns the adapter's current sync state.
func (c *Core) SyncSnapshot() SyncInfo {
	_, eng, err := c.guard()
	if err != nil {
		return SyncInfo{}
	}

	state, err := eng.Snapshot(context.Background())
	if err != nil {
		return SyncInfo{Online: eng.Online()}
	}

	info := SyncInfo{
		Online:  state.Online,
		Syncing: state.Syncing,
		Pending: state.Pending,
	}
	if state.LastError != "" {
		info.Errors = []string{state.LastError}
	}
	if !state.LastSyncAt.IsZero() {
		t := state.LastSyncAt
		info.LastSyncAt = &t
	}
	return info
}

// SignInAnonymously returns the device account, minting an anonymous
// one on first use.
func (c *Core) SignInAnonymously(ctx context.Context) (*model.UserAccount, error) {
	s, _, err := c.guard()
	if err != nil {
		return nil, err
	}

	acct, found, err := s.Account(ctx)
	if err != nil {
		return nil, err
	}
	if found {
		return acct, nil
	}

	acct = model.NewAnonymousAccount(time.Now().UTC())
	if err := s.SaveAccount(ctx, acct); err != nil {
		return nil, err
	}
	c.logger.Printf("Minted anonymous account %s", acct.ID)
	return acct, nil
}

// CurrentUser returns the signed-in account, if any.
func (c *Core) CurrentUser(ctx context.Context) (*model.UserAccount, bool) {
	s, _, err := c.guard()
	if err != nil {
		return nil, false
	}
	acct, found, err := s.Account(ctx)
	if err != nil {
		return nil, false
	}
	return acct, found
}

// UpgradeAccount attaches an email to the current account and nudges
// the engine so the now-syncable data starts flowing.
func (c *Core) UpgradeAccount(ctx context.Context, email string) (*model.UserAccount, error) {
	s, eng, err := c.guard()
	if err != nil {
		return nil, err
	}

	acct, found, err := s.Account(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoAccount
	}

	if err := acct.Upgrade(email); err != nil {
		return nil, err
	}
	if err := s.SaveAccount(ctx, acct); err != nil {
		return nil, err
	}

	c.logger.Printf("Upgraded account %s", acct.ID)
	eng.Nudge()
	return acct, nil
}

// ClearAll wipes remote data (best effort, authenticated accounts only)
// and then the local store. Only the Storage Manager calls this, after
// its environment gate.
func (c *Core) ClearAll(ctx context.Context) error {
	s, _, err := c.guard()
	if err != nil {
		return err
	}

	acct, found, err := s.Account(ctx)
	if err != nil {
		return err
	}
	if found && !acct.IsAnonymous {
		if err := c.clearRemote(ctx, acct.ID); err != nil {
			return err
		}
	}
	return s.ClearAll(ctx)
}

func (c *Core) clearRemote(ctx context.Context, userID string) error {
	records, err := c.remote.FetchExercises(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list remote records: %w", err)
	}
	for _, rec := range records {
		if err := c.remote.DeleteExercise(ctx, userID, rec.ID); err != nil {
			return fmt.Errorf("failed to delete remote record %s: %w", rec.ID, err)
		}
	}
	return nil
}

// Store exposes the local store to migration and verification code in
// the Storage Manager.
func (c *Core) Store() (*store.Store, error) {
	s, _, err := c.guard()
	return s, err
}
