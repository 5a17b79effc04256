package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/ports"
)

func (e *Engine) beforeProcessing(ctx context.Context, run *domain.Run, def domain.Definition, count int) error {
	run.Status = domain.RunRunning
	run.Touch(e.now())
	if err := e.store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	if e.hooks.OnRunStart != nil {
		e.hooks.OnRunStart(ctx, &domain.RunEvent{
			EventBase: e.event(domain.EventRunStart, run, def),
			Status:    run.Status,
			Items:     count,
		})
	}
	return nil
}

// afterProcessing settles the run status: ERROR when an item failed during
// this invocation, COMPLETED when every top-level item of the run is
// completed, HALTED otherwise.
func (e *Engine) afterProcessing(ctx context.Context, run *domain.Run, def domain.Definition, failed bool, count int) (domain.RunStatus, error) {
	status := domain.RunError
	if !failed {
		completed, err := e.allCompleted(ctx, run.ID)
		if err != nil {
			return run.Status, err
		}
		status = domain.RunHalted
		if completed {
			status = domain.RunCompleted
		}
	}

	run.Status = status
	run.Touch(e.now())
	if err := e.store.SaveRun(ctx, run); err != nil {
		return run.Status, fmt.Errorf("save run %s: %w", run.ID, err)
	}
	if e.hooks.OnRunFinish != nil {
		e.hooks.OnRunFinish(ctx, &domain.RunEvent{
			EventBase: e.event(domain.EventRunFinish, run, def),
			Status:    status,
			Items:     count,
		})
	}
	e.logger.Info("run finished", "run_id", run.ID, "pipeline", def.Name, "status", string(status))
	return status, nil
}

func (e *Engine) allCompleted(ctx context.Context, runID string) (bool, error) {
	items, err := e.store.ListItems(ctx, ports.ItemFilter{RunID: runID, TopLevel: true})
	if err != nil {
		return false, fmt.Errorf("list items of run %s: %w", runID, err)
	}
	for _, item := range items {
		if item.Status != domain.ItemCompleted {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) beforeItem(ctx context.Context, run *domain.Run, def domain.Definition, item *domain.Item) error {
	delete(item.Auxiliary, domain.AuxErrorMessage)
	item.RunID = run.ID
	item.Status = domain.ItemRunning
	if item.DataType == "" {
		item.DataType = def.DataType
	}
	if err := e.saveItem(ctx, item); err != nil {
		return err
	}
	if e.hooks.OnItemStart != nil {
		e.hooks.OnItemStart(ctx, &domain.ItemEvent{
			EventBase: e.event(domain.EventItemStart, run, def),
			ItemID:    item.ID,
			Status:    item.Status,
		})
	}
	return nil
}

// afterCallback records progress once a step returned without interrupting.
func (e *Engine) afterCallback(ctx context.Context, run *domain.Run, def domain.Definition, item *domain.Item, task domain.Task, pos domain.Position) error {
	item.Position = pos.Clone()
	if !task.Hidden {
		item.Auxiliary[domain.AuxLastTask] = task.Name
		item.AppendHistory(domain.HistoryEntry{
			Name:        task.Name,
			Description: task.Description,
			Position:    pos.String(),
			Time:        e.now().UTC().Format(time.RFC3339Nano),
		})
	}
	return e.saveItem(ctx, item)
}

func (e *Engine) afterItem(ctx context.Context, run *domain.Run, def domain.Definition, item *domain.Item, terminal domain.Position) error {
	item.Status = domain.ItemCompleted
	item.Position = terminal
	if err := e.saveItem(ctx, item); err != nil {
		return err
	}
	if e.hooks.OnItemFinish != nil {
		e.hooks.OnItemFinish(ctx, &domain.ItemEvent{
			EventBase: e.event(domain.EventItemFinish, run, def),
			ItemID:    item.ID,
			Status:    item.Status,
		})
	}
	return nil
}

func (e *Engine) saveItem(ctx context.Context, item *domain.Item) error {
	return saveItem(ctx, e.store, item, e.now())
}

func saveItem(ctx context.Context, store ports.Store, item *domain.Item, now time.Time) error {
	if item.Auxiliary == nil {
		item.Auxiliary = make(map[string]any)
	}
	item.Touch(now)
	if err := store.SaveItem(ctx, item); err != nil {
		return fmt.Errorf("save item %d: %w", item.ID, err)
	}
	return nil
}
