package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/ports"
)

// transition applies the persistence side of an interrupting outcome. Item and
// run writes happen in one atomic unit, and hooks fire only after it commits.
func (e *Engine) transition(ctx context.Context, run *domain.Run, def domain.Definition, item *domain.Item, task domain.Task, pos domain.Position, out domain.Outcome, log *slog.Logger) (ItemResult, error) {
	res := ItemResult{ItemID: item.ID, Signal: out.Signal, Position: pos.Clone()}
	signal := out.Signal
	if signal == domain.SignalHalt && out.Action == "" {
		signal = domain.SignalWait
	}

	var write func(ctx context.Context, tx ports.Store) error
	switch signal {
	case domain.SignalWait, domain.SignalHalt:
		item.SetAction(out.Action, out.Message)
		if out.Payload != nil {
			item.Auxiliary[domain.AuxActionPayload] = out.Payload
		}
		item.Position = pos.Clone()
		item.Status = domain.ItemWaiting
		if signal == domain.SignalHalt {
			item.Status = domain.ItemHalted
		}
		run.Status = domain.RunHalted
		write = e.saveBoth(item, run)
		log.Warn("item suspended", "signal", string(out.Signal), "action", out.Action, "message", out.Message, "position", pos.String())

	case domain.SignalStop:
		item.Status = domain.ItemCompleted
		run.Status = domain.RunCompleted
		write = e.saveBoth(item, run)
		log.Warn("processing stopped", "message", out.Message, "position", pos.String())

	case domain.SignalSkip:
		write = e.saveOne(item)
		log.Info("item skipped", "position", pos.String())

	case domain.SignalAbort:
		log.Warn("batch aborted", "position", pos.String())

	default:
		err := out.Err
		if signal != domain.SignalError {
			err = fmt.Errorf("unknown signal %q", out.Signal)
			res.Signal = domain.SignalError
		}
		if err == nil {
			err = errors.New(out.Message)
		}
		item.Auxiliary[domain.AuxErrorMessage] = errorDetail(err)
		item.Position = pos.Clone()
		item.Status = domain.ItemError
		run.Status = domain.RunError
		res.Err = &domain.StepError{ItemID: item.ID, Task: task.Name, Position: pos.Clone(), Err: err}
		write = e.saveBoth(item, run)
		log.Error("step failed", "task", task.Name, "position", pos.String(), "err", err)
	}

	if write != nil {
		if err := e.store.Atomic(context.WithoutCancel(ctx), write); err != nil {
			res.Status = item.Status
			return res, fmt.Errorf("persist %s transition of item %d: %w", res.Signal, item.ID, err)
		}
	}
	res.Status = item.Status

	if e.hooks.OnTransition != nil {
		e.hooks.OnTransition(ctx, &domain.TransitionEvent{
			EventBase: e.event(domain.EventTransition, run, def),
			ItemID:    item.ID,
			Signal:    res.Signal,
			Status:    item.Status,
			Message:   out.Message,
			Action:    out.Action,
			Position:  pos.Clone(),
		})
	}
	return res, nil
}

func (e *Engine) saveBoth(item *domain.Item, run *domain.Run) func(context.Context, ports.Store) error {
	return func(ctx context.Context, tx ports.Store) error {
		if err := saveItem(ctx, tx, item, e.now()); err != nil {
			return err
		}
		run.Touch(e.now())
		if err := tx.SaveRun(ctx, run); err != nil {
			return fmt.Errorf("save run %s: %w", run.ID, err)
		}
		return nil
	}
}

func (e *Engine) saveOne(item *domain.Item) func(context.Context, ports.Store) error {
	return func(ctx context.Context, tx ports.Store) error {
		return saveItem(ctx, tx, item, e.now())
	}
}

func errorDetail(err error) string {
	var panicErr *domain.PanicError
	if errors.As(err, &panicErr) {
		return fmt.Sprintf("%v\n\n%s", panicErr.Value, panicErr.Stack)
	}
	return fmt.Sprintf("%+v", err)
}
