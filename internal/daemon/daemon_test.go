package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/replog/replog/internal/backend"
	"github.com/replog/replog/internal/config"
	"github.com/replog/replog/internal/dashboard"
	"github.com/replog/replog/internal/engine"
	"github.com/replog/replog/internal/model"
	"github.com/replog/replog/internal/store"
)

type nullRemote struct{}

func (nullRemote) Connect(ctx context.Context) error                          { return nil }
func (nullRemote) Close() error                                               { return nil }
func (nullRemote) PushExercise(ctx context.Context, ex model.Exercise) error  { return nil }
func (nullRemote) DeleteExercise(ctx context.Context, userID, id string) error { return nil }
func (nullRemote) FetchExercises(ctx context.Context, userID string) ([]model.Exercise, error) {
	return nil, nil
}
func (nullRemote) PushAccount(ctx context.Context, u *model.UserAccount) error { return nil }
func (nullRemote) Changes() <-chan engine.Change                               { return nil }

func registerTestBackends(t *testing.T) {
	t.Helper()

	backend.UnregisterAll()
	t.Cleanup(backend.UnregisterAll)

	for _, typ := range []backend.Type{backend.TypePulse, backend.TypeRelay} {
		typ := typ
		backend.Register(typ, func(opts backend.Options) (backend.Repository, error) {
			return backend.NewCore(typ, opts, nullRemote{}), nil
		})
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment:   config.EnvDevelopment,
		DataDir:       t.TempDir(),
		SyncInterval:  time.Hour,
		DashboardAddr: "127.0.0.1:0",
	}
}

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()

	registerTestBackends(t)

	d, err := New(testConfig(t), &Config{
		StateBroadcastInterval: 50 * time.Millisecond,
		DebounceInterval:       20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	return d
}

func startDaemon(t *testing.T) (*Daemon, context.CancelFunc, *sync.WaitGroup) {
	t.Helper()

	d := newTestDaemon(t)
	cancel, wg := runDaemon(t, d)
	return d, cancel, wg
}

func runDaemon(t *testing.T, d *Daemon) (context.CancelFunc, *sync.WaitGroup) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.Start(ctx); err != nil {
			t.Errorf("daemon exited with error: %v", err)
		}
	}()

	// Wait for the dashboard to come up.
	deadline := time.After(5 * time.Second)
	for {
		resp, err := http.Get("http://" + d.DashboardAddr() + "/health")
		if err == nil {
			resp.Body.Close()
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for dashboard")
		case <-time.After(20 * time.Millisecond):
		}
	}

	return cancel, &wg
}

func TestDaemonStartStop(t *testing.T) {
	d, cancel, wg := startDaemon(t)

	if d.Manager().ActiveType() != backend.TypePulse {
		t.Errorf("expected pulse active by default, got %s", d.Manager().ActiveType())
	}

	cancel()
	wg.Wait()
}

func TestDaemonConfigReloadSwitchesBackend(t *testing.T) {
	d, cancel, wg := startDaemon(t)
	defer func() {
		cancel()
		wg.Wait()
	}()

	// Flip the backend flag on disk; the watcher should pick it up.
	configPath := filepath.Join(d.appCfg.DataDir, config.ConfigFileName)
	if err := os.WriteFile(configPath, []byte("use_relay_backend: true\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for d.Manager().ActiveType() != backend.TypeRelay {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for backend switch")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// awaitMessage reads dashboard messages until one of the wanted type
// arrives, returning its decoded payload.
func awaitMessage(t *testing.T, ctx context.Context, conn *websocket.Conn, want dashboard.MessageType) json.RawMessage {
	t.Helper()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read failed waiting for %s: %v", want, err)
		}
		var msg dashboard.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("malformed dashboard message: %v", err)
		}
		if msg.Type == want {
			return msg.Data
		}
	}
}

func TestDaemonBroadcastsRecordUpdates(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()

	// The record feed needs an account before the daemon starts.
	repo, err := d.Manager().ActiveStorageBackend(ctx)
	if err != nil {
		t.Fatalf("failed to get backend: %v", err)
	}
	acct, err := repo.SignInAnonymously(ctx)
	if err != nil {
		t.Fatalf("failed to sign in: %v", err)
	}

	cancel, wg := runDaemon(t, d)
	defer func() {
		cancel()
		wg.Wait()
	}()

	wsCtx, wsCancel := context.WithTimeout(ctx, 5*time.Second)
	defer wsCancel()
	conn, _, err := websocket.Dial(wsCtx, "ws://"+d.DashboardAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("failed to dial dashboard: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ex, err := repo.AddExercise(ctx, acct.ID, model.ExerciseInput{Name: "Bench Press"})
	if err != nil {
		t.Fatalf("failed to add exercise: %v", err)
	}

	payload := awaitMessage(t, wsCtx, conn, dashboard.MessageTypeRecordUpdate)
	var upd dashboard.RecordUpdateData
	if err := json.Unmarshal(payload, &upd); err != nil {
		t.Fatalf("malformed record update: %v", err)
	}
	if upd.RecordID != ex.ID || upd.Action != "created" || upd.Name != "Bench Press" {
		t.Errorf("unexpected record update: %+v", upd)
	}

	if err := repo.DeleteExercise(ctx, acct.ID, ex.ID); err != nil {
		t.Fatalf("failed to delete exercise: %v", err)
	}
	payload = awaitMessage(t, wsCtx, conn, dashboard.MessageTypeRecordUpdate)
	if err := json.Unmarshal(payload, &upd); err != nil {
		t.Fatalf("malformed record update: %v", err)
	}
	if upd.RecordID != ex.ID || upd.Action != "deleted" {
		t.Errorf("unexpected record update: %+v", upd)
	}
}

func TestDaemonBroadcastsConflicts(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()

	repo, err := d.Manager().ActiveStorageBackend(ctx)
	if err != nil {
		t.Fatalf("failed to get backend: %v", err)
	}
	provider, ok := repo.(interface{ Store() (*store.Store, error) })
	if !ok {
		t.Fatal("backend does not expose its store")
	}
	st, err := provider.Store()
	if err != nil {
		t.Fatalf("failed to get store: %v", err)
	}

	cancel, wg := runDaemon(t, d)
	defer func() {
		cancel()
		wg.Wait()
	}()

	wsCtx, wsCancel := context.WithTimeout(ctx, 5*time.Second)
	defer wsCancel()
	conn, _, err := websocket.Dial(wsCtx, "ws://"+d.DashboardAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("failed to dial dashboard: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// A sync state broadcast means the conflict baseline is set; new
	// log entries after this point must broadcast.
	awaitMessage(t, wsCtx, conn, dashboard.MessageTypeSyncState)

	now := time.Now().UTC()
	loser := model.Exercise{
		ID: "ex-1", UserID: "user-1", Name: "Squats",
		CreatedAt: now, UpdatedAt: now,
		SyncStatus: model.SyncPending,
	}
	if err := st.LogConflict(ctx, loser, now.Add(time.Second), now.Add(time.Second)); err != nil {
		t.Fatalf("failed to log conflict: %v", err)
	}

	payload := awaitMessage(t, wsCtx, conn, dashboard.MessageTypeConflict)
	var c dashboard.ConflictData
	if err := json.Unmarshal(payload, &c); err != nil {
		t.Fatalf("malformed conflict message: %v", err)
	}
	if c.RecordID != "ex-1" || c.DiscardedName != "Squats" {
		t.Errorf("unexpected conflict: %+v", c)
	}
}
