package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/replog/replog/internal/backend"
	"github.com/replog/replog/internal/model"
)

// ackServer accepts one pulse session, acks every correlated frame, and
// records what it saw.
type ackServer struct {
	srv *httptest.Server

	mu     sync.Mutex
	frames []frame
	conn   *websocket.Conn
}

func newAckServer(t *testing.T) *ackServer {
	t.Helper()

	as := &ackServer{}
	as.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		as.mu.Lock()
		as.conn = conn
		as.mu.Unlock()

		ctx := context.Background()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				continue
			}
			as.mu.Lock()
			as.frames = append(as.frames, f)
			as.mu.Unlock()

			resp := frame{Type: frameAck, Seq: f.Seq}
			if f.Type == frameFetch {
				resp.Records = []model.ExerciseRecord{{
					ID: "ex-remote", UserID: f.UserID, Name: "Rows",
					CreatedAt: "2026-01-02T03:04:05Z",
					UpdatedAt: "2026-01-02T03:04:05Z",
				}}
			}
			out, _ := json.Marshal(resp)
			if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
				return
			}
		}
	}))
	t.Cleanup(as.srv.Close)
	return as
}

func (as *ackServer) url() string {
	return "ws" + strings.TrimPrefix(as.srv.URL, "http")
}

func (as *ackServer) received() []frame {
	as.mu.Lock()
	defer as.mu.Unlock()
	return append([]frame(nil), as.frames...)
}

func (as *ackServer) push(t *testing.T, f frame) {
	t.Helper()
	as.mu.Lock()
	conn := as.conn
	as.mu.Unlock()
	if conn == nil {
		t.Fatal("no session accepted yet")
	}
	data, _ := json.Marshal(f)
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatalf("failed to push frame: %v", err)
	}
}

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[pulse-test] ", log.LstdFlags)
}

func testExercise(id, userID string) model.Exercise {
	now := time.Now().UTC()
	return model.Exercise{
		ID: id, UserID: userID, Name: "Bench Press",
		CreatedAt: now, UpdatedAt: now,
		SyncStatus: model.SyncPending,
	}
}

func TestPushExerciseAcked(t *testing.T) {
	srv := newAckServer(t)
	c := newClient(srv.url(), "", testLogger())
	ctx := context.Background()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer c.Close()

	if err := c.PushExercise(ctx, testExercise("ex-1", "user-1")); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	frames := srv.received()
	if len(frames) != 1 || frames[0].Type != frameUpsert {
		t.Fatalf("expected one upsert frame, got %+v", frames)
	}
	if frames[0].Exercise == nil || frames[0].Exercise.ID != "ex-1" {
		t.Errorf("unexpected frame payload: %+v", frames[0])
	}
}

func TestOfflineWritesQueueAndFlush(t *testing.T) {
	srv := newAckServer(t)
	c := newClient(srv.url(), "", testLogger())
	ctx := context.Background()

	// Disconnected writes queue for the next session but report
	// failure so the records stay pending.
	if err := c.PushExercise(ctx, testExercise("ex-1", "user-1")); !errors.Is(err, errNoSession) {
		t.Fatalf("expected offline push to fail with errNoSession, got %v", err)
	}
	if err := c.DeleteExercise(ctx, "user-1", "ex-2"); !errors.Is(err, errNoSession) {
		t.Fatalf("expected offline delete to fail with errNoSession, got %v", err)
	}
	if got := srv.received(); len(got) != 0 {
		t.Fatalf("expected nothing on the wire while offline, got %d frames", len(got))
	}

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer c.Close()

	deadline := time.After(2 * time.Second)
	for len(srv.received()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for queue flush, got %+v", srv.received())
		case <-time.After(10 * time.Millisecond):
		}
	}

	frames := srv.received()
	if frames[0].Type != frameUpsert || frames[1].Type != frameDelete {
		t.Errorf("expected flush in order, got %+v", frames)
	}
}

func TestFetchFailsFastWithoutSession(t *testing.T) {
	c := newClient("ws://127.0.0.1:1/unreachable", "", testLogger())

	if _, err := c.FetchExercises(context.Background(), "user-1"); err == nil {
		t.Error("expected fetch without a session to fail")
	}
}

func TestFetchReturnsRemoteRecords(t *testing.T) {
	srv := newAckServer(t)
	c := newClient(srv.url(), "", testLogger())
	ctx := context.Background()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer c.Close()

	records, err := c.FetchExercises(ctx, "user-1")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != "ex-remote" {
		t.Fatalf("unexpected fetch result: %+v", records)
	}
	if records[0].CreatedAt.IsZero() {
		t.Error("expected wire timestamp to decode")
	}
}

func TestChangeFeed(t *testing.T) {
	srv := newAckServer(t)
	c := newClient(srv.url(), "", testLogger())
	ctx := context.Background()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer c.Close()

	srv.push(t, frame{
		Type: frameChange,
		Exercise: &model.ExerciseRecord{
			ID: "ex-9", UserID: "user-1", Name: "Pull-ups",
			CreatedAt: "2026-01-02T03:04:05Z",
			UpdatedAt: "2026-01-02T03:04:05Z",
		},
	})

	select {
	case change := <-c.Changes():
		if change.Exercise.ID != "ex-9" || change.Deleted {
			t.Errorf("unexpected change: %+v", change)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
}

func TestProbesReflectLocalState(t *testing.T) {
	r, err := New(backend.Options{
		DataDir:       t.TempDir(),
		PulseEndpoint: "ws://127.0.0.1:1/session",
	})
	if err != nil {
		t.Fatalf("failed to create adapter: %v", err)
	}
	ctx := context.Background()
	if err := r.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	defer r.Close()

	acct, err := r.SignInAnonymously(ctx)
	if err != nil {
		t.Fatalf("failed to sign in: %v", err)
	}
	if _, err := r.AddExercise(ctx, acct.ID, model.ExerciseInput{Name: "Deadlift"}); err != nil {
		t.Fatalf("failed to add exercise: %v", err)
	}

	if got := r.PendingChanges(); got != 1 {
		t.Errorf("expected 1 pending change, got %d", got)
	}
	if snap := r.SyncSnapshot(); snap.Pending != 1 {
		t.Errorf("expected snapshot to report 1 pending, got %d", snap.Pending)
	}
}
