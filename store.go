package callpath

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aretw0/callpath/internal/runtime"
	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/locks"
	"github.com/aretw0/callpath/pkg/ports"
)

// CreateItem stores a new detached item carrying payload.
func (e *Engine) CreateItem(ctx context.Context, payload map[string]any) (*domain.Item, error) {
	item := domain.NewItem(payload)
	item.Touch(e.now())
	if err := e.store.SaveItem(ctx, item); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}
	return item, nil
}

// Item loads an item by ID.
func (e *Engine) Item(ctx context.Context, id int64) (*domain.Item, error) {
	return e.store.LoadItem(ctx, id)
}

// Items lists items matching filter.
func (e *Engine) Items(ctx context.Context, filter ports.ItemFilter) ([]*domain.Item, error) {
	return e.store.ListItems(ctx, filter)
}

// DeleteItem soft deletes an item, or removes it with its descendants when
// hard is set.
func (e *Engine) DeleteItem(ctx context.Context, id int64, hard bool) error {
	return e.locks.WithLock(ctx, locks.ItemKey(id), func(ctx context.Context) error {
		return e.store.DeleteItem(ctx, id, hard)
	})
}

// Run loads a run by ID.
func (e *Engine) Run(ctx context.Context, id string) (*domain.Run, error) {
	return e.store.LoadRun(ctx, id)
}

// Runs lists runs matching filter.
func (e *Engine) Runs(ctx context.Context, filter ports.RunFilter) ([]*domain.Run, error) {
	return e.store.ListRuns(ctx, filter)
}

// DeleteRun removes a run and its items.
func (e *Engine) DeleteRun(ctx context.Context, id string) error {
	return e.locks.WithLock(ctx, locks.RunKey(id), func(ctx context.Context) error {
		return e.store.DeleteRun(ctx, id)
	})
}

// Pipelines returns the names the resolver knows about, when it can list them.
func (e *Engine) Pipelines() []string {
	lister, ok := e.resolver.(interface{ Names() []string })
	if !ok {
		return nil
	}
	names := lister.Names()
	sort.Strings(names)
	return names
}

// Definition resolves a pipeline by name.
func (e *Engine) Definition(name string) (domain.Definition, error) {
	return e.resolver.Resolve(name)
}

// CurrentTask describes the task an item is positioned at inside its run's
// pipeline.
func (e *Engine) CurrentTask(ctx context.Context, item *domain.Item) (domain.TaskInfo, error) {
	if item.RunID == "" {
		return domain.TaskInfo{}, fmt.Errorf("item %d: %w", item.ID, domain.ErrNoRun)
	}
	_, def, err := e.runAndDefinition(ctx, item.RunID)
	if err != nil {
		return domain.TaskInfo{}, err
	}
	node, err := runtime.Resolve(def.Steps, item.Position)
	if err != nil {
		return domain.TaskInfo{}, err
	}
	task, ok := node.(domain.Task)
	if !ok {
		return domain.TaskInfo{}, &domain.AddressError{Position: item.Position.Clone(), Reason: "position addresses a block"}
	}
	return domain.TaskInfo{
		Name:        task.Name,
		Description: task.Description,
		Hidden:      task.Hidden,
		Position:    item.Position.Clone(),
	}, nil
}

// IsNotFound reports whether err means a run, item or pipeline is unknown.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrItemNotFound) ||
		errors.Is(err, domain.ErrRunNotFound) ||
		errors.Is(err, domain.ErrMissingObject) ||
		errors.Is(err, domain.ErrMissingModel) ||
		errors.Is(err, domain.ErrDefinitionNotFound)
}
