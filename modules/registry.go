package modules

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kioskops/provisioning-agent/interfaces"
)

// Registry holds all installation units by name. Registration happens once
// at startup; afterwards the registry is read-only and safe for concurrent
// access from install requests and status queries.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]interfaces.Module
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]interfaces.Module)}
}

// Register adds a module under its descriptor name. Registering a name twice
// returns an error wrapping interfaces.ErrDuplicateModule.
func (r *Registry) Register(m interfaces.Module) error {
	name := m.Descriptor().Name
	if name == "" {
		return fmt.Errorf("module descriptor has empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: %s", interfaces.ErrDuplicateModule, name)
	}
	r.byName[name] = m
	return nil
}

// Get returns the module registered under name, or an error wrapping
// interfaces.ErrModuleNotFound.
func (r *Registry) Get(name string) (interfaces.Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrModuleNotFound, name)
	}
	return m, nil
}

// ListOrdered returns all modules sorted by descriptor order ascending, ties
// broken by name. This is display order only; execution order is governed by
// dependencies.
func (r *Registry) ListOrdered() []interfaces.Module {
	r.mu.RLock()
	out := make([]interfaces.Module, 0, len(r.byName))
	for _, m := range r.byName {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].Descriptor(), out[j].Descriptor()
		if di.Order != dj.Order {
			return di.Order < dj.Order
		}
		return di.Name < dj.Name
	})
	return out
}

// ValidateDependencies checks that every registered module's declared
// dependencies name registered modules. A dangling dependency is a
// configuration error wrapping interfaces.ErrModuleNotFound, surfaced at
// construction time rather than as an install denial that can never clear.
func (r *Registry) ValidateDependencies() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, m := range r.byName {
		for _, dep := range m.Descriptor().Dependencies {
			if _, ok := r.byName[dep]; !ok {
				return fmt.Errorf("module %s declares unknown dependency %s: %w", name, dep, interfaces.ErrModuleNotFound)
			}
		}
	}
	return nil
}

// Names returns the set of registered module names.
func (r *Registry) Names() map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make(map[string]struct{}, len(r.byName))
	for name := range r.byName {
		names[name] = struct{}{}
	}
	return names
}
