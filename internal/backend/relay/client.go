package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/replog/replog/internal/engine"
	"github.com/replog/replog/internal/model"
)

// client speaks to the Relay remote: a hosted libSQL database for CRUD
// plus an optional WebSocket notify channel for change delivery. Every
// operation is an explicit request/response round-trip, so the engine
// gets real success/failure signals per record.
type client struct {
	dbURL     string
	authToken string
	notifyURL string
	logger    *log.Logger

	mu   sync.Mutex
	conn *sql.DB

	changes    chan engine.Change
	notifyStop context.CancelFunc
	notifyDone chan struct{}
	closeOnce  sync.Once
}

func newClient(dbURL, authToken, notifyURL string, logger *log.Logger) *client {
	return &client{
		dbURL:     dbURL,
		authToken: authToken,
		notifyURL: notifyURL,
		logger:    logger,
		changes:   make(chan engine.Change, 64),
	}
}

// Connect opens the remote database, ensures its schema, and starts the
// notify listener. Idempotent while connected.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	connStr := c.dbURL
	if c.authToken != "" {
		sep := "?"
		if u, err := url.Parse(c.dbURL); err == nil && u.RawQuery != "" {
			sep = "&"
		}
		connStr = c.dbURL + sep + "authToken=" + c.authToken
	}

	conn, err := sql.Open("libsql", connStr)
	if err != nil {
		return fmt.Errorf("failed to open relay database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to reach relay database: %w", err)
	}

	if err := initRemoteSchema(ctx, conn); err != nil {
		_ = conn.Close()
		return err
	}
	c.conn = conn

	if c.notifyURL != "" && c.notifyStop == nil {
		nctx, cancel := context.WithCancel(context.Background())
		c.notifyStop = cancel
		c.notifyDone = make(chan struct{})
		go c.listenNotify(nctx)
	}
	return nil
}

func initRemoteSchema(ctx context.Context, conn *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS exercises (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_exercises_user ON exercises(user_id);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		is_anonymous INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		last_sync_at TEXT
	);
	`
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize relay schema: %w", err)
	}
	return nil
}

// Close shuts the notify listener, the database, and the change feed.
func (c *client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	stop := c.notifyStop
	done := c.notifyDone
	c.notifyStop = nil
	c.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	c.closeOnce.Do(func() { close(c.changes) })

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *client) db() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, fmt.Errorf("relay not connected")
	}
	return c.conn, nil
}

// PushExercise implements engine.RemoteClient.
func (c *client) PushExercise(ctx context.Context, ex model.Exercise) error {
	conn, err := c.db()
	if err != nil {
		return err
	}

	rec := ex.Record()
	query := `
	INSERT INTO exercises (id, user_id, name, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		user_id = excluded.user_id,
		name = excluded.name,
		updated_at = excluded.updated_at
	`
	if _, err := conn.ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.Name, rec.CreatedAt, rec.UpdatedAt); err != nil {
		return fmt.Errorf("failed to push exercise %s: %w", ex.ID, err)
	}
	return nil
}

// DeleteExercise implements engine.RemoteClient.
func (c *client) DeleteExercise(ctx context.Context, userID, id string) error {
	conn, err := c.db()
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx,
		`DELETE FROM exercises WHERE id = ? AND user_id = ?`, id, userID); err != nil {
		return fmt.Errorf("failed to delete exercise %s: %w", id, err)
	}
	return nil
}

// FetchExercises implements engine.RemoteClient.
func (c *client) FetchExercises(ctx context.Context, userID string) ([]model.Exercise, error) {
	conn, err := c.db()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT id, user_id, name, created_at, updated_at
		   FROM exercises WHERE user_id = ? ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch exercises: %w", err)
	}
	defer rows.Close()

	var out []model.Exercise
	for rows.Next() {
		var rec model.ExerciseRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Name, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan remote exercise: %w", err)
		}
		ex := rec.Exercise()
		ex.SyncStatus = model.SyncSynced
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate remote exercises: %w", err)
	}
	return out, nil
}

// PushAccount implements engine.RemoteClient.
func (c *client) PushAccount(ctx context.Context, u *model.UserAccount) error {
	conn, err := c.db()
	if err != nil {
		return err
	}

	rec := u.Record()
	var lastSyncAt any
	if rec.LastSyncAt != "" {
		lastSyncAt = rec.LastSyncAt
	}

	query := `
	INSERT INTO accounts (id, email, is_anonymous, created_at, last_sync_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		email = excluded.email,
		is_anonymous = excluded.is_anonymous,
		last_sync_at = excluded.last_sync_at
	`
	anon := 0
	if rec.IsAnonymous {
		anon = 1
	}
	if _, err := conn.ExecContext(ctx, query,
		rec.ID, rec.Email, anon, rec.CreatedAt, lastSyncAt); err != nil {
		return fmt.Errorf("failed to push account %s: %w", u.ID, err)
	}
	return nil
}

// Changes implements engine.RemoteClient.
func (c *client) Changes() <-chan engine.Change {
	return c.changes
}

// notification is one message on the notify channel.
type notification struct {
	Exercise model.ExerciseRecord `json:"exercise"`
	Deleted  bool                 `json:"deleted,omitempty"`
}

// listenNotify consumes the notify WebSocket. The channel is advisory:
// a lost connection degrades relay to interval-only sync, it never
// breaks correctness.
func (c *client) listenNotify(ctx context.Context) {
	defer close(c.notifyDone)

	conn, _, err := websocket.Dial(ctx, c.notifyURL, nil)
	if err != nil {
		c.logger.Printf("Notify channel unavailable: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "client closing")
	conn.SetReadLimit(1 << 20)

	c.logger.Printf("Notify channel connected")
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Printf("Notify channel lost: %v", err)
			}
			return
		}

		var n notification
		if err := json.Unmarshal(data, &n); err != nil {
			c.logger.Printf("Discarding malformed notification: %v", err)
			continue
		}

		change := engine.Change{Exercise: n.Exercise.Exercise(), Deleted: n.Deleted}
		select {
		case c.changes <- change:
		case <-ctx.Done():
			return
		}
	}
}
