// Package relay implements the request/response backend adapter.
//
// Relay stores remote data in a hosted libSQL database and receives
// change notifications over a separate WebSocket channel. Because every
// remote operation is an explicit round-trip with an observable result,
// relay exposes the full sync state: real pending counts, in-flight
// cycles, and per-record errors.
package relay

import (
	"github.com/replog/replog/internal/backend"
)

func init() {
	backend.Register(backend.TypeRelay, New)
}

// Repo is the Relay adapter. The shared core's probes are already
// backed by the reconciliation engine, so there is nothing to override.
type Repo struct {
	*backend.Core
}

// New creates the Relay adapter from config-derived options.
func New(opts backend.Options) (backend.Repository, error) {
	c := newClient(opts.RelayURL, opts.RelayAuthToken, opts.RelayNotifyURL,
		backend.AdapterLogger(backend.TypeRelay, opts.Logger))
	return &Repo{Core: backend.NewCore(backend.TypeRelay, opts, c)}, nil
}
