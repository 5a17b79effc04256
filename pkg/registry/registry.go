package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/callpath/pkg/domain"
)

// ErrRegistryFrozen is returned when registering after Freeze.
var ErrRegistryFrozen = errors.New("registry is frozen")

// ErrDuplicate is returned when a name is registered twice.
var ErrDuplicate = errors.New("already registered")

// Registry holds the named pipeline definitions known to an engine.
// Definitions are registered at startup; Freeze ends the registration phase
// so that lookups never race with changes.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]domain.Definition
	frozen bool
}

// New creates a new empty registry.
func New() *Registry {
	return &Registry{
		defs: make(map[string]domain.Definition),
	}
}

// Register adds a definition.
func (r *Registry) Register(def domain.Definition) error {
	if def.Name == "" {
		return errors.New("definition has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("register %q: %w", def.Name, ErrRegistryFrozen)
	}
	if _, ok := r.defs[def.Name]; ok {
		return fmt.Errorf("pipeline %q: %w", def.Name, ErrDuplicate)
	}
	r.defs[def.Name] = def
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(defs ...domain.Definition) *Registry {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
	return r
}

// Freeze ends the registration phase.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Resolve looks up a definition by name.
// Unknown names yield a *domain.DefinitionError.
func (r *Registry) Resolve(name string) (domain.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return domain.Definition{}, &domain.DefinitionError{Name: name}
	}
	return def, nil
}

// Names returns the registered pipeline names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
