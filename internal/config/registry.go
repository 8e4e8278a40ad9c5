package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/live"
)

// ErrTransportNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested transport.
var ErrTransportNotRegistered = errors.New("config: transport not registered")

// TransportFactory builds a live provider from the live section.
type TransportFactory func(LiveConfig) (live.Provider, error)

// Registry maps transport names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[Transport]TransportFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Transport]TransportFactory)}
}

// Register registers a factory under t.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(t Transport, factory TransportFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[t] = factory
}

// Create instantiates the provider registered under cfg.Transport.
func (r *Registry) Create(cfg LiveConfig) (live.Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Transport]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTransportNotRegistered, cfg.Transport)
	}
	return factory(cfg)
}

// Transports returns the registered transport names, sorted.
func (r *Registry) Transports() []Transport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]Transport, 0, len(r.factories))
	for t := range r.factories {
		names = append(names, t)
	}
	slices.Sort(names)
	return names
}
