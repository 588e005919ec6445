package netmon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultOnline(t *testing.T) {
	m := New(Config{})
	if !m.Online() {
		t.Error("expected monitor to default to online")
	}

	// Without a probe Start is a no-op and the state stays online.
	m.Start(context.Background())
	m.Stop()
	if !m.Online() {
		t.Error("expected monitor to stay online without a probe")
	}
}

func TestPassiveReflectsProbe(t *testing.T) {
	if m := New(Config{}); !m.Passive() {
		t.Error("expected monitor without a probe to be passive")
	}
	probed := New(Config{Probe: func(ctx context.Context) bool { return true }})
	if probed.Passive() {
		t.Error("expected probed monitor to not be passive")
	}
}

func TestSetOnlineNotifiesOnTransition(t *testing.T) {
	m := New(Config{})

	var transitions []bool
	unsubscribe := m.Subscribe(func(online bool) {
		transitions = append(transitions, online)
	})
	defer unsubscribe()

	m.SetOnline(true) // no transition; already online
	m.SetOnline(false)
	m.SetOnline(false) // no transition
	m.SetOnline(true)

	if len(transitions) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(transitions))
	}
	if transitions[0] != false || transitions[1] != true {
		t.Errorf("unexpected transition order: %v", transitions)
	}
}

func TestUnsubscribeStopsCallbacks(t *testing.T) {
	m := New(Config{})

	calls := 0
	unsubscribe := m.Subscribe(func(bool) { calls++ })
	unsubscribe()
	unsubscribe() // idempotent

	m.SetOnline(false)
	if calls != 0 {
		t.Errorf("expected no callbacks after unsubscribe, got %d", calls)
	}
}

func TestHTTPProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	probe := HTTPProbe(srv.URL)
	if !probe(context.Background()) {
		t.Error("expected probe against live server to succeed")
	}

	srv.Close()
	if probe(context.Background()) {
		t.Error("expected probe against closed server to fail")
	}
}

func TestStartPollsProbe(t *testing.T) {
	var probes atomic.Int64
	m := New(Config{
		Probe: func(ctx context.Context) bool {
			probes.Add(1)
			return false
		},
		Interval: 10 * time.Millisecond,
	})

	m.Start(context.Background())
	defer m.Stop()

	deadline := time.After(2 * time.Second)
	for probes.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for probe polls")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if m.Online() {
		t.Error("expected failing probe to mark monitor offline")
	}
}
