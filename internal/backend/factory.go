package backend

import (
	"fmt"
	"sync"
)

// Factory creates backend adapter instances from feature flags.
//
// Instances are cached per type: the active adapter is shared by every
// call site reached through the Storage Manager, and a second live
// instance of the same adapter would duplicate realtime subscriptions.
type Factory struct {
	opts Options

	mu    sync.Mutex
	cache map[Type]Repository
}

// NewFactory creates a factory. The same Options are handed to every
// adapter constructor; each picks the fields it needs.
func NewFactory(opts Options) *Factory {
	return &Factory{
		opts:  opts,
		cache: make(map[Type]Repository),
	}
}

// SelectType maps the feature flag to a backend type.
func SelectType(useRelay bool) Type {
	if useRelay {
		return TypeRelay
	}
	return TypePulse
}

// Create returns the adapter for the given type, constructing it on
// first use and caching it afterwards.
func (f *Factory) Create(t Type) (Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[t]; ok {
		return cached, nil
	}

	constructor := getConstructor(t)
	if constructor == nil {
		return nil, fmt.Errorf("%w: %s (available: %v)", ErrUnknownBackend, t, RegisteredTypes())
	}

	repo, err := constructor(f.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", t, err)
	}

	f.cache[t] = repo
	return repo, nil
}

// CreateForFlag is the common entry point: flag -> adapter.
func (f *Factory) CreateForFlag(useRelay bool) (Repository, error) {
	return f.Create(SelectType(useRelay))
}

// Cached returns an already-constructed adapter without creating one.
func (f *Factory) Cached(t Type) (Repository, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	repo, ok := f.cache[t]
	return repo, ok
}

// CloseAll closes every constructed adapter. Errors from individual
// adapters are joined into one.
func (f *Factory) CloseAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for t, repo := range f.cache {
		if err := repo.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close %s backend: %w", t, err)
		}
		delete(f.cache, t)
	}
	return firstErr
}
