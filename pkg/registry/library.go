package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/dsl"
	"github.com/mitchellh/mapstructure"
)

// StepFactory builds a step from declarative arguments.
type StepFactory func(args map[string]any) (domain.StepFunc, error)

// PredicateFactory builds a condition from declarative arguments.
type PredicateFactory func(args map[string]any) (dsl.Predicate, error)

// Library maps names used in pipeline files to step and predicate factories.
type Library struct {
	mu         sync.RWMutex
	steps      map[string]StepFactory
	predicates map[string]PredicateFactory
}

// NewLibrary creates a library preloaded with the built-in steps and predicates.
func NewLibrary() *Library {
	lib := &Library{
		steps:      make(map[string]StepFactory),
		predicates: make(map[string]PredicateFactory),
	}
	registerBuiltins(lib)
	return lib
}

// RegisterStep adds a step factory.
// If a step with the same name exists, it is overwritten.
func (l *Library) RegisterStep(name string, factory StepFactory) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps[name] = factory
}

// RegisterPredicate adds a predicate factory.
// If a predicate with the same name exists, it is overwritten.
func (l *Library) RegisterPredicate(name string, factory PredicateFactory) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.predicates[name] = factory
}

// Step builds the named step.
func (l *Library) Step(name string, args map[string]any) (domain.StepFunc, error) {
	l.mu.RLock()
	factory, ok := l.steps[name]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("step not found: %s", name)
	}
	fn, err := factory(args)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", name, err)
	}
	return fn, nil
}

// Predicate builds the named predicate.
func (l *Library) Predicate(name string, args map[string]any) (dsl.Predicate, error) {
	l.mu.RLock()
	factory, ok := l.predicates[name]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("predicate not found: %s", name)
	}
	p, err := factory(args)
	if err != nil {
		return nil, fmt.Errorf("predicate %s: %w", name, err)
	}
	return p, nil
}

// Steps returns the registered step names, sorted.
func (l *Library) Steps() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.steps))
	for name := range l.steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DecodeArgs decodes loosely typed arguments into out, rejecting unknown keys.
func DecodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
