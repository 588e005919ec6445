package relay

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/replog/replog/internal/backend"
	"github.com/replog/replog/internal/model"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[relay-test] ", log.LstdFlags)
}

func TestAdapterRegistered(t *testing.T) {
	if !backend.IsRegistered(backend.TypeRelay) {
		t.Fatal("expected relay adapter to self-register")
	}
}

func TestNotifyChannelDeliversChanges(t *testing.T) {
	send := make(chan notification, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		for n := range send {
			data, _ := json.Marshal(n)
			if err := conn.Write(r.Context(), websocket.MessageText, data); err != nil {
				return
			}
		}
	}))
	defer srv.Close()
	defer close(send)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := newClient("", "", wsURL, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	c.notifyStop = cancel
	c.notifyDone = make(chan struct{})
	go c.listenNotify(ctx)
	defer func() {
		cancel()
		<-c.notifyDone
	}()

	send <- notification{
		Exercise: model.ExerciseRecord{
			ID: "ex-1", UserID: "user-1", Name: "Deadlift",
			CreatedAt: "2026-01-02T03:04:05Z",
			UpdatedAt: "2026-01-02T03:04:05Z",
		},
		Deleted: true,
	}

	select {
	case change := <-c.Changes():
		if change.Exercise.ID != "ex-1" || !change.Deleted {
			t.Errorf("unexpected change: %+v", change)
		}
		if change.Exercise.CreatedAt.IsZero() {
			t.Error("expected wire timestamp to decode")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestNotifyChannelUnavailableDegrades(t *testing.T) {
	c := newClient("", "", "ws://127.0.0.1:1/unreachable", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.notifyDone = make(chan struct{})

	done := make(chan struct{})
	go func() {
		c.listenNotify(ctx)
		close(done)
	}()

	// An unreachable notify endpoint exits the listener without
	// touching the change feed.
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("expected listener to give up on unreachable endpoint")
	}

	select {
	case change := <-c.Changes():
		t.Errorf("unexpected change from dead listener: %+v", change)
	default:
	}
}

func TestOperationsFailWithoutConnection(t *testing.T) {
	c := newClient("libsql://example.turso.io", "", "", testLogger())
	ctx := context.Background()

	now := time.Now().UTC()
	ex := model.Exercise{
		ID: "ex-1", UserID: "user-1", Name: "Squats",
		CreatedAt: now, UpdatedAt: now, SyncStatus: model.SyncPending,
	}

	if err := c.PushExercise(ctx, ex); err == nil {
		t.Error("expected push without connection to fail")
	}
	if err := c.DeleteExercise(ctx, "user-1", "ex-1"); err == nil {
		t.Error("expected delete without connection to fail")
	}
	if _, err := c.FetchExercises(ctx, "user-1"); err == nil {
		t.Error("expected fetch without connection to fail")
	}
}
