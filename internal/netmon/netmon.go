// Package netmon tracks network reachability for the sync engine.
//
// The monitor polls a probe endpoint on an interval and fans state
// transitions out to subscribers. When no probe endpoint is configured
// the monitor is passive: it starts online and only reflects
// observations fed in via SetOnline, so consumers that gate work on
// Online should check Passive first.
package netmon

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"
)

// DefaultInterval is how often the probe runs when unconfigured.
const DefaultInterval = 15 * time.Second

// Probe reports whether the network is reachable right now.
type Probe func(ctx context.Context) bool

// HTTPProbe returns a Probe that issues a HEAD request to url and
// treats any response, regardless of status, as proof of reachability.
func HTTPProbe(url string) Probe {
	client := &http.Client{Timeout: 5 * time.Second}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
}

// Monitor polls a Probe and notifies subscribers on transitions.
type Monitor struct {
	probe    Probe
	interval time.Duration
	logger   *log.Logger

	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]func(online bool)

	cancel context.CancelFunc
	done   chan struct{}
}

// Config controls monitor construction. Zero values get defaults.
type Config struct {
	// Probe checks reachability. Nil means "always online".
	Probe Probe

	// Interval between probes.
	Interval time.Duration

	Logger *log.Logger
}

// New creates a monitor. The initial state is online; the first probe
// corrects it if the network is down.
func New(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	return &Monitor{
		probe:    cfg.Probe,
		interval: cfg.Interval,
		logger:   cfg.Logger,
		online:   true,
		subs:     make(map[int]func(bool)),
	}
}

// Start begins polling. No-op when no probe is configured.
func (m *Monitor) Start(ctx context.Context) {
	if m.probe == nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.SetOnline(m.probe(ctx))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.SetOnline(m.probe(ctx))
			}
		}
	}()
}

// Stop halts polling and waits for the poll loop to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
}

// Online reports the last observed reachability state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Passive reports whether the monitor has no probe of its own. A
// passive monitor never polls, so an offline observation fed in via
// SetOnline would otherwise stick until something reports online again.
func (m *Monitor) Passive() bool {
	return m.probe == nil
}

// SetOnline records a reachability observation and notifies subscribers
// if the state changed. Exposed so the sync engine can feed back its
// own request outcomes.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	var subs []func(bool)
	if changed {
		subs = make([]func(bool), 0, len(m.subs))
		for _, fn := range m.subs {
			subs = append(subs, fn)
		}
	}
	m.mu.Unlock()

	if !changed {
		return
	}
	if online {
		m.logger.Printf("[netmon] network reachable")
	} else {
		m.logger.Printf("[netmon] network unreachable")
	}
	for _, fn := range subs {
		fn(online)
	}
}

// Subscribe registers a transition callback and returns an idempotent
// unsubscribe function. The callback fires on transitions only, not on
// registration.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}
