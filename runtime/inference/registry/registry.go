// Package registry maps generic driver names to provider constructors.
// Registries are explicitly constructed: register drivers during setup, then
// share the registry read-only. Runtime registration is supported but
// guarded, matching documented usage.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"goa.design/infer/runtime/inference/model"
)

type (
	// ProviderInit constructs a shared provider instance from generic driver
	// configuration.
	ProviderInit func(cfg DriverConfig) (model.Provider, error)

	// Registry maps lowercase driver names to constructors.
	Registry struct {
		mu    sync.RWMutex
		inits map[string]ProviderInit
	}
)

// New returns an empty registry.
func New() *Registry {
	return &Registry{inits: make(map[string]ProviderInit)}
}

// Register adds a driver constructor under the given name. Names are
// normalized to lowercase. Registering a name twice is a configuration error.
func (r *Registry) Register(name string, init ProviderInit) error {
	if init == nil {
		return model.NewConfigError("driver init is required")
	}
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return model.NewConfigError("driver name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.inits[key]; dup {
		return model.NewConfigError(fmt.Sprintf("driver %q already registered", key))
	}
	r.inits[key] = init
	return nil
}

// Build constructs a provider for the named driver from the given config.
func (r *Registry) Build(name string, cfg DriverConfig) (model.Provider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	init, ok := r.inits[key]
	r.mu.RUnlock()
	if !ok {
		return nil, model.NewConfigError(fmt.Sprintf("unknown driver: %s", key))
	}
	return init(cfg)
}

// List returns the registered driver names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.inits))
	for name := range r.inits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
