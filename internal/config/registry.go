package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/casescribe/pkg/provider/stt"
)

// ErrProviderNotRegistered means a [ProviderEntry] names a backend nobody
// registered a factory for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// STTFactory builds a transcriber from its config entry.
type STTFactory func(entry ProviderEntry) (stt.Transcriber, error)

// Registry resolves the provider names used in the config file to factories.
// It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	stt map[string]STTFactory
}

// NewRegistry returns a registry without any factories.
func NewRegistry() *Registry {
	return &Registry{stt: map[string]STTFactory{}}
}

// RegisterSTT binds name to factory, replacing any earlier binding.
func (r *Registry) RegisterSTT(name string, factory STTFactory) {
	r.mu.Lock()
	r.stt[name] = factory
	r.mu.Unlock()
}

// CreateSTT runs the factory registered for entry.Name. Unknown names fail
// with [ErrProviderNotRegistered] and list the names that are known.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	factory := r.stt[entry.Name]
	r.mu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("%w: stt %q (known: %s)",
			ErrProviderNotRegistered, entry.Name, strings.Join(r.STTNames(), ", "))
	}
	return factory(entry)
}

// STTNames lists the registered names, sorted.
func (r *Registry) STTNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.stt))
}
