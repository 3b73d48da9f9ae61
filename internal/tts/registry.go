package tts

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
)

// ErrNoBackends is returned when not a single configured backend
// initializes; partial availability is tolerated, total absence is not.
var ErrNoBackends = errors.New("no TTS backend initialized")

// Registry owns the name-to-instance mapping of live backends. It is built
// once at startup and read-only afterwards, so lookups need no locking.
type Registry struct {
	byName map[string]Backend
	order  []string // Configured order, for stable enumeration
}

// NewRegistry initializes each candidate backend in order. A backend whose
// Initialize fails is skipped with a logged error; server startup only
// fails when no backend at all comes up.
func NewRegistry(ctx context.Context, candidates []Backend, logger *log.Logger) (*Registry, error) {
	r := &Registry{byName: make(map[string]Backend)}

	for _, backend := range candidates {
		if err := backend.Initialize(ctx); err != nil {
			logger.Error("backend initialization failed, skipping",
				"backend", backend.Name(), "err", err)
			continue
		}
		r.byName[backend.Name()] = backend
		r.order = append(r.order, backend.Name())
		logger.Info("backend initialized", "backend", backend.Name())
	}

	if len(r.byName) == 0 {
		return nil, ErrNoBackends
	}

	return r, nil
}

// Get returns the backend registered under name.
func (r *Registry) Get(name string) (Backend, bool) {
	backend, ok := r.byName[name]
	return backend, ok
}

// All returns every registered backend in configuration order.
func (r *Registry) All() []Backend {
	backends := make([]Backend, 0, len(r.order))
	for _, name := range r.order {
		backends = append(backends, r.byName[name])
	}
	return backends
}

// Names returns the registered backend names in configuration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Shutdown shuts down every registered backend, returning the first error.
func (r *Registry) Shutdown() error {
	var firstErr error
	for _, backend := range r.All() {
		if err := backend.Shutdown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
