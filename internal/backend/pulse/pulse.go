// Package pulse implements the push-based realtime backend adapter.
//
// Pulse carries everything over a single authenticated WebSocket
// session: local writes go up as frames, server-side mutations come
// back down the same session as the change feed. Sync state lives in
// the local store, so the shared core's probes report real pending
// counts and per-record errors regardless of session health.
package pulse

import (
	"github.com/replog/replog/internal/backend"
)

func init() {
	backend.Register(backend.TypePulse, New)
}

// Repo is the Pulse adapter.
type Repo struct {
	*backend.Core
}

// New creates the Pulse adapter from config-derived options.
func New(opts backend.Options) (backend.Repository, error) {
	c := newClient(opts.PulseEndpoint, opts.SessionToken, backend.AdapterLogger(backend.TypePulse, opts.Logger))
	return &Repo{Core: backend.NewCore(backend.TypePulse, opts, c)}, nil
}
