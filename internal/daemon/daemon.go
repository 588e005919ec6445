// Package daemon provides the background sync daemon.
//
// The daemon:
// 1. Keeps the active backend's reconciliation engine running
// 2. Hosts the monitoring dashboard (WebSocket events + /metrics)
// 3. Watches the config file and applies backend flag changes live
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/replog/replog/internal/backend"
	"github.com/replog/replog/internal/config"
	"github.com/replog/replog/internal/dashboard"
	"github.com/replog/replog/internal/manager"
	"github.com/replog/replog/internal/model"
	"github.com/replog/replog/internal/store"
)

// Config holds configuration for the daemon.
type Config struct {
	// StateBroadcastInterval is how often the dashboard gets a fresh
	// sync state snapshot.
	StateBroadcastInterval time.Duration

	// DebounceInterval batches rapid config file events together.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		StateBroadcastInterval: 2 * time.Second,
		DebounceInterval:       250 * time.Millisecond,
		Logger:                 log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates the sync engine, dashboard, and config watching.
type Daemon struct {
	appCfg *config.Config
	cfg    *Config

	mgr    *manager.Manager
	dash   *dashboard.Server
	logger *log.Logger

	watcher       *fsnotify.Watcher
	reloadQueueMu sync.Mutex
	reloadAt      time.Time

	feedMu   sync.Mutex
	feedStop func()
	feedSeen map[string]time.Time

	// conflictSeq tracks the newest conflict already broadcast; -1
	// means the baseline has not been established yet.
	conflictSeq int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLogger builds the daemon logger. With a log file configured it
// writes through lumberjack with rotation; otherwise stderr.
func NewLogger(appCfg *config.Config) *log.Logger {
	var out io.Writer = os.Stderr
	if appCfg.DaemonLogFile != "" {
		out = &lumberjack.Logger{
			Filename:   appCfg.DaemonLogFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
	}
	return log.New(out, "[daemon] ", log.LstdFlags)
}

// New creates a daemon. Use Start() to begin.
func New(appCfg *config.Config, cfg *Config) (*Daemon, error) {
	if appCfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.StateBroadcastInterval <= 0 {
		cfg.StateBroadcastInterval = DefaultConfig().StateBroadcastInterval
	}
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = NewLogger(appCfg)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		appCfg:      appCfg,
		cfg:         cfg,
		mgr:         manager.New(appCfg, cfg.Logger),
		dash:        dashboard.NewServer(&dashboard.Config{Addr: appCfg.DashboardAddr, Logger: cfg.Logger}),
		logger:      cfg.Logger,
		watcher:     watcher,
		conflictSeq: -1,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Initialize the active backend (which starts its sync engine)
// 2. Start the dashboard server
// 3. Watch the config file for backend flag changes
// 4. Broadcast sync state on an interval
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Println("Starting daemon")

	repo, err := d.mgr.ActiveStorageBackend(d.ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize active backend: %w", err)
	}
	d.logger.Printf("Active backend: %s", repo.Name().DisplayName())

	if err := d.dash.Start(); err != nil {
		return fmt.Errorf("failed to start dashboard: %w", err)
	}

	d.watchRecords(repo)

	// The config file may not exist yet; watch its directory.
	if err := d.watcher.Add(d.appCfg.DataDir); err != nil {
		d.logger.Printf("Config watching disabled: %v", err)
	} else {
		d.logger.Printf("Watching %s", d.appCfg.ConfigPath())
	}

	d.wg.Add(3)
	go d.watchConfigEvents()
	go d.processReloads()
	go d.broadcastState()

	select {
	case <-ctx.Done():
		d.logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.logger.Println("Stopping daemon")

	d.cancel()

	d.feedMu.Lock()
	if d.feedStop != nil {
		d.feedStop()
		d.feedStop = nil
	}
	d.feedMu.Unlock()

	if err := d.watcher.Close(); err != nil {
		d.logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()

	if err := d.dash.Stop(); err != nil {
		d.logger.Printf("Error stopping dashboard: %v", err)
	}
	if err := d.mgr.Close(); err != nil {
		d.logger.Printf("Error closing backends: %v", err)
	}

	d.logger.Println("Daemon stopped")
	return nil
}

// DashboardAddr returns the dashboard's bound address.
func (d *Daemon) DashboardAddr() string {
	return d.dash.Addr()
}

// Manager exposes the storage manager for in-process callers.
func (d *Daemon) Manager() *manager.Manager {
	return d.mgr
}

// watchConfigEvents queues config reloads from fsnotify events.
func (d *Daemon) watchConfigEvents() {
	defer d.wg.Done()

	configPath := d.appCfg.ConfigPath()
	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(configPath) {
				continue
			}
			d.queueReload()
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueReload() {
	d.reloadQueueMu.Lock()
	d.reloadAt = time.Now()
	d.reloadQueueMu.Unlock()
}

// processReloads applies debounced config reloads.
func (d *Daemon) processReloads() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.reloadQueueMu.Lock()
			queued := !d.reloadAt.IsZero() && time.Since(d.reloadAt) >= d.cfg.DebounceInterval
			if queued {
				d.reloadAt = time.Time{}
			}
			d.reloadQueueMu.Unlock()

			if queued {
				d.reloadConfig()
			}
		}
	}
}

// reloadConfig re-reads the config file and applies a changed backend
// flag. Production builds refuse the switch; everything else about the
// config stays startup-resolved.
func (d *Daemon) reloadConfig() {
	fresh, err := config.Load(d.appCfg.DataDir)
	if err != nil {
		d.logger.Printf("Config reload failed: %v", err)
		return
	}

	want := backend.SelectType(fresh.Flags.UseRelayBackend)
	if want == d.mgr.ActiveType() {
		return
	}

	d.logger.Printf("Config changed, switching backend to %s", want)
	if err := d.mgr.SwitchBackend(d.ctx, want); err != nil {
		d.logger.Printf("Backend switch refused: %v", err)
		return
	}

	// The record feed follows the active backend.
	if repo, err := d.mgr.ActiveStorageBackend(d.ctx); err == nil {
		d.watchRecords(repo)
	}
}

// watchRecords subscribes to the active backend's exercise feed and
// turns snapshot diffs into dashboard record events. A backend with no
// account yet has no records to watch.
func (d *Daemon) watchRecords(repo backend.Repository) {
	d.feedMu.Lock()
	if d.feedStop != nil {
		d.feedStop()
		d.feedStop = nil
	}
	d.feedMu.Unlock()

	acct, ok := repo.CurrentUser(d.ctx)
	if !ok {
		d.logger.Println("Record feed disabled: no account")
		return
	}

	// Seed the diff baseline before subscribing so the first observed
	// mutation broadcasts instead of being swallowed as history.
	initial, err := repo.ListExercises(d.ctx, acct.ID)
	if err != nil {
		d.logger.Printf("Record feed unavailable: %v", err)
		return
	}
	seen := make(map[string]time.Time, len(initial))
	for _, ex := range initial {
		seen[ex.ID] = ex.UpdatedAt
	}
	d.feedMu.Lock()
	d.feedSeen = seen
	d.feedMu.Unlock()

	stop, err := repo.SubscribeExercises(acct.ID, d.publishRecordDiff)
	if err != nil {
		d.logger.Printf("Record feed unavailable: %v", err)
		return
	}
	d.feedMu.Lock()
	d.feedStop = stop
	d.feedMu.Unlock()
	d.logger.Printf("Record feed watching user %s", acct.ID)
}

// publishRecordDiff compares a snapshot against the last one and
// broadcasts one event per created, updated, or deleted record.
func (d *Daemon) publishRecordDiff(snapshot []model.Exercise) {
	d.feedMu.Lock()
	prev := d.feedSeen
	seen := make(map[string]time.Time, len(snapshot))
	for _, ex := range snapshot {
		seen[ex.ID] = ex.UpdatedAt
	}
	d.feedSeen = seen
	d.feedMu.Unlock()

	for _, ex := range snapshot {
		last, known := prev[ex.ID]
		switch {
		case !known:
			d.dash.BroadcastRecordUpdate(dashboard.RecordUpdateData{
				RecordID: ex.ID, UserID: ex.UserID, Action: "created", Name: ex.Name,
			})
		case ex.UpdatedAt.After(last):
			d.dash.BroadcastRecordUpdate(dashboard.RecordUpdateData{
				RecordID: ex.ID, UserID: ex.UserID, Action: "updated", Name: ex.Name,
			})
		}
	}
	for id := range prev {
		if _, ok := seen[id]; !ok {
			d.dash.BroadcastRecordUpdate(dashboard.RecordUpdateData{
				RecordID: id, Action: "deleted",
			})
		}
	}
}

// publishConflicts broadcasts conflict log entries newer than the last
// poll. The first poll only establishes the baseline so historical
// conflicts do not replay on every daemon start.
func (d *Daemon) publishConflicts() {
	repo, err := d.mgr.ActiveStorageBackend(d.ctx)
	if err != nil {
		return
	}
	provider, ok := repo.(interface{ Store() (*store.Store, error) })
	if !ok {
		return
	}
	st, err := provider.Store()
	if err != nil {
		return
	}
	entries, err := st.Conflicts(d.ctx)
	if err != nil {
		d.logger.Printf("Conflict poll failed: %v", err)
		return
	}

	baseline := d.conflictSeq < 0
	for _, e := range entries {
		if e.Seq <= d.conflictSeq {
			continue
		}
		d.conflictSeq = e.Seq
		if baseline {
			continue
		}
		d.dash.BroadcastConflict(dashboard.ConflictData{
			RecordID:        e.ExerciseID,
			DiscardedName:   e.Discarded.Name,
			WinnerUpdatedAt: e.WinnerUpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	if baseline && d.conflictSeq < 0 {
		d.conflictSeq = 0
	}
}

// broadcastState pushes sync snapshots to the dashboard on an interval.
func (d *Daemon) broadcastState() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.StateBroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			info := d.mgr.BackendInfo()
			data := dashboard.SyncStateData{
				Backend: info.Active.String(),
				Online:  info.Sync.Online,
				Syncing: info.Sync.Syncing,
				Pending: info.Sync.Pending,
				Errors:  len(info.Sync.Errors),
			}
			if len(info.Sync.Errors) > 0 {
				data.LastError = info.Sync.Errors[0]
			}
			if info.Sync.LastSyncAt != nil {
				data.LastSyncAt = info.Sync.LastSyncAt.UTC().Format(time.RFC3339)
			}
			d.dash.BroadcastSyncState(data)
			d.publishConflicts()
		}
	}
}
