// Package manager is the single entry point consumers use to reach a
// storage backend.
//
// The manager owns backend selection: it reads the feature flag once at
// construction, hands every consumer the same adapter instance, and
// gates the dangerous operations (backend switch, clear-all) to
// non-production environments. Auth and storage always resolve to the
// same backend; a session is never split across providers.
package manager

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/replog/replog/internal/backend"
	"github.com/replog/replog/internal/config"
	"github.com/replog/replog/internal/model"
	"github.com/replog/replog/internal/store"
)

// Manager selects and serves backend adapters.
type Manager struct {
	cfg     *config.Config
	factory *backend.Factory
	logger  *log.Logger

	mu     sync.Mutex
	active backend.Type
}

// New creates a manager from resolved configuration. No backend is
// constructed until first use.
func New(cfg *config.Config, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[manager] ", log.LstdFlags)
	}

	opts := backend.Options{
		DataDir:        cfg.DataDir,
		PulseEndpoint:  cfg.PulseEndpoint,
		RelayURL:       cfg.RelayURL,
		RelayAuthToken: cfg.RelayAuthToken,
		RelayNotifyURL: cfg.RelayNotifyURL,
		SessionToken:   cfg.SessionToken,
		JWTSecret:      cfg.JWTSecret,
		JWTIssuer:      cfg.JWTIssuer,
		SyncInterval:   cfg.SyncInterval,
		ProbeURL:       cfg.ProbeURL,
		Logger:         logger,
	}

	return &Manager{
		cfg:     cfg,
		factory: backend.NewFactory(opts),
		logger:  logger,
		active:  backend.SelectType(cfg.Flags.UseRelayBackend),
	}
}

// ActiveType returns the currently selected backend type.
func (m *Manager) ActiveType() backend.Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// ActiveStorageBackend returns the initialized active adapter.
func (m *Manager) ActiveStorageBackend(ctx context.Context) (backend.Repository, error) {
	return m.backendFor(ctx, m.ActiveType())
}

// AuthBackend returns the backend handling authentication. It is always
// the active storage backend: storage and auth never split.
func (m *Manager) AuthBackend(ctx context.Context) (backend.Repository, error) {
	return m.ActiveStorageBackend(ctx)
}

func (m *Manager) backendFor(ctx context.Context, t backend.Type) (backend.Repository, error) {
	repo, err := m.factory.Create(t)
	if err != nil {
		return nil, err
	}
	if err := repo.Initialize(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

// FeatureFlags returns a copy of the startup-resolved flags.
func (m *Manager) FeatureFlags() config.FeatureFlags {
	return m.cfg.Flags
}

// Info describes the manager's backend state for status displays.
type Info struct {
	Active      backend.Type
	ActiveName  string
	Available   []backend.Type
	Environment string
	Flags       config.FeatureFlags
	Sync        backend.SyncInfo
}

// BackendInfo reports the active backend, the registered alternatives,
// and the active adapter's sync snapshot (zero if not yet constructed).
func (m *Manager) BackendInfo() Info {
	active := m.ActiveType()
	info := Info{
		Active:      active,
		ActiveName:  active.DisplayName(),
		Available:   backend.RegisteredTypes(),
		Environment: m.cfg.Environment,
		Flags:       m.cfg.Flags,
	}
	if repo, ok := m.factory.Cached(active); ok {
		info.Sync = repo.SyncSnapshot()
	}
	return info
}

// SwitchBackend changes the active backend at runtime. Restricted to
// non-production environments; production builds pin the startup flag.
// Each backend's local data stays in its own store, so switching back
// and forth loses nothing.
func (m *Manager) SwitchBackend(ctx context.Context, t backend.Type) error {
	if m.cfg.IsProduction() {
		return backend.ErrProductionRestricted
	}
	if !backend.IsRegistered(t) {
		return fmt.Errorf("%w: %s", backend.ErrUnknownBackend, t)
	}

	m.mu.Lock()
	if m.active == t {
		m.mu.Unlock()
		return nil
	}
	previous := m.active
	m.mu.Unlock()

	// Construct and initialize before committing the switch.
	if _, err := m.backendFor(ctx, t); err != nil {
		return err
	}

	m.mu.Lock()
	m.active = t
	m.mu.Unlock()

	// Persist the flag so the switch survives the process. The switch
	// itself already happened, so a write failure is logged, not fatal.
	if err := m.cfg.SaveUseRelayFlag(t == backend.TypeRelay); err != nil {
		m.logger.Printf("Failed to persist backend flag: %v", err)
	}

	m.logger.Printf("Switched backend: %s -> %s", previous, t)
	return nil
}

// ClearAllData wipes the active backend's local and remote data.
// Restricted to non-production environments.
func (m *Manager) ClearAllData(ctx context.Context) error {
	if m.cfg.IsProduction() {
		return backend.ErrProductionRestricted
	}

	repo, err := m.ActiveStorageBackend(ctx)
	if err != nil {
		return err
	}
	if err := repo.ClearAll(ctx); err != nil {
		return err
	}

	m.logger.Printf("Cleared all data on %s", repo.Name())
	return nil
}

// Close shuts down every constructed adapter.
func (m *Manager) Close() error {
	return m.factory.CloseAll()
}

// Discrepancy is one difference found by consistency validation.
type Discrepancy struct {
	RecordID string
	Detail   string
}

// ConsistencyReport summarizes a record-level diff between two
// backends' local stores.
type ConsistencyReport struct {
	Source        backend.Type
	Target        backend.Type
	SourceRecords int
	TargetRecords int
	Discrepancies []Discrepancy
}

// Consistent reports whether the two backends agree.
func (r ConsistencyReport) Consistent() bool {
	return len(r.Discrepancies) == 0
}

// ValidateDataConsistency diffs a user's records between two backends
// by id, name, and timestamps. Run after a migration to verify it, or
// any time both backends are expected to agree.
func (m *Manager) ValidateDataConsistency(ctx context.Context, source, target backend.Type, userID string) (*ConsistencyReport, error) {
	src, err := m.backendFor(ctx, source)
	if err != nil {
		return nil, err
	}
	dst, err := m.backendFor(ctx, target)
	if err != nil {
		return nil, err
	}

	srcRecords, err := src.ListExercises(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", source, err)
	}
	dstRecords, err := dst.ListExercises(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", target, err)
	}

	report := &ConsistencyReport{
		Source:        source,
		Target:        target,
		SourceRecords: len(srcRecords),
		TargetRecords: len(dstRecords),
	}

	dstByID := make(map[string]model.Exercise, len(dstRecords))
	for _, rec := range dstRecords {
		dstByID[rec.ID] = rec
	}

	seen := make(map[string]bool, len(srcRecords))
	for _, rec := range srcRecords {
		seen[rec.ID] = true
		other, ok := dstByID[rec.ID]
		if !ok {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				RecordID: rec.ID,
				Detail:   fmt.Sprintf("missing from %s", target),
			})
			continue
		}
		if other.Name != rec.Name {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				RecordID: rec.ID,
				Detail:   fmt.Sprintf("name mismatch: %q vs %q", rec.Name, other.Name),
			})
		}
		if !other.CreatedAt.Equal(rec.CreatedAt) || !other.UpdatedAt.Equal(rec.UpdatedAt) {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				RecordID: rec.ID,
				Detail:   "timestamp mismatch",
			})
		}
	}
	for _, rec := range dstRecords {
		if !seen[rec.ID] {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				RecordID: rec.ID,
				Detail:   fmt.Sprintf("missing from %s", source),
			})
		}
	}

	return report, nil
}

// storeProvider is satisfied by adapters built on the shared core.
// Migration needs direct store access to preserve record identity;
// going through AddExercise would mint new IDs and timestamps.
type storeProvider interface {
	Store() (*store.Store, error)
}

// MigrationResult summarizes a completed migration.
type MigrationResult struct {
	Source   backend.Type
	Target   backend.Type
	Migrated int
}

// MigrateUserData copies a user's records and account from one backend
// to the other. Records keep their IDs and timestamps and arrive
// pending, so the target's engine pushes them to its own remote.
//
// Requires a signed-in account on the source. Partial failures are not
// rolled back: re-run validation, then migration, to converge.
func (m *Manager) MigrateUserData(ctx context.Context, source, target backend.Type) (*MigrationResult, error) {
	if source == target {
		return nil, fmt.Errorf("%w: source and target are both %s", backend.ErrMigration, source)
	}

	src, err := m.backendFor(ctx, source)
	if err != nil {
		return nil, err
	}
	dst, err := m.backendFor(ctx, target)
	if err != nil {
		return nil, err
	}

	acct, ok := src.CurrentUser(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: no signed-in account on %s", backend.ErrMigration, source)
	}

	srcStores, ok := src.(storeProvider)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not expose its store", backend.ErrMigration, source)
	}
	dstStores, ok := dst.(storeProvider)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not expose its store", backend.ErrMigration, target)
	}

	srcStore, err := srcStores.Store()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrMigration, err)
	}
	dstStore, err := dstStores.Store()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrMigration, err)
	}

	records, err := srcStore.ExercisesForUser(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrMigration, err)
	}

	m.logger.Printf("Migrating %d records: %s -> %s", len(records), source, target)

	if err := dstStore.SaveAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("%w: account copy failed: %v", backend.ErrMigration, err)
	}

	migrated := 0
	for _, rec := range records {
		migratedRec := rec
		migratedRec.SyncStatus = model.SyncPending
		if err := dstStore.SaveExercise(ctx, &migratedRec); err != nil {
			return &MigrationResult{Source: source, Target: target, Migrated: migrated},
				fmt.Errorf("%w: record %s failed after %d migrated: %v", backend.ErrMigration, rec.ID, migrated, err)
		}
		migrated++
	}

	if err := dst.ForceSync(ctx); err != nil {
		m.logger.Printf("Post-migration sync failed (records remain pending): %v", err)
	}

	m.logger.Printf("Migration complete: %d records at %s", migrated, time.Now().Format(time.RFC3339))
	return &MigrationResult{Source: source, Target: target, Migrated: migrated}, nil
}
