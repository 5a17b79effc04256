package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/ports"
)

// Engine drives items through a step tree, persisting progress after every
// step so that processing can be resumed later, possibly by another process.
type Engine struct {
	store  ports.Store
	hooks  domain.LifecycleHooks
	logger *slog.Logger
	now    func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) EngineOption {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an engine persisting through store.
func NewEngine(store ports.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Options controls one invocation of Process or Continue.
type Options struct {
	// StopOnHalt returns as soon as an item is suspended or fails instead of
	// moving on to the next item of the batch.
	StopOnHalt bool
}

// ItemResult describes how one item left the engine.
type ItemResult struct {
	ItemID   int64
	Status   domain.ItemStatus
	Signal   domain.Signal
	Position domain.Position
	Err      error
}

// Report summarizes one invocation.
type Report struct {
	RunID  string
	Status domain.RunStatus
	Items  []ItemResult
	// Stopped is set when a step ended the batch early (Stop or Abort).
	Stopped bool
}

// Process runs every item of the batch through def in order. Items with an
// empty position start at the root; others resume at their persisted position.
//
// Step failures do not abort the batch unless opts.StopOnHalt is set; they are
// joined into the returned error once the batch is done. Storage failures
// always abort.
func (e *Engine) Process(ctx context.Context, run *domain.Run, def domain.Definition, items []*domain.Item, opts Options) (*Report, error) {
	report := &Report{RunID: run.ID}
	log := e.logger.With("run_id", run.ID, "pipeline", def.Name)

	if err := e.beforeProcessing(ctx, run, def, len(items)); err != nil {
		return report, err
	}

	var (
		stepErrs []error
		failed   bool
		batchErr error
	)

loop:
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			log.Warn("batch cancelled", "err", err)
			batchErr = err
			break
		}

		res, err := e.processItem(ctx, run, def, item, log)
		report.Items = append(report.Items, res)
		if err != nil {
			batchErr = err
			break
		}

		switch res.Signal {
		case domain.SignalError:
			failed = true
			stepErrs = append(stepErrs, res.Err)
			if opts.StopOnHalt {
				break loop
			}
		case domain.SignalWait, domain.SignalHalt:
			if opts.StopOnHalt {
				stepErrs = append(stepErrs, &domain.InterruptError{
					ItemID:   item.ID,
					Signal:   res.Signal,
					Message:  item.ActionMessage(),
					Action:   item.Action(),
					Position: res.Position,
				})
				break loop
			}
		case domain.SignalStop, domain.SignalAbort:
			report.Stopped = true
			break loop
		}
	}

	status, err := e.afterProcessing(context.WithoutCancel(ctx), run, def, failed, len(items))
	report.Status = status
	if batchErr != nil {
		return report, batchErr
	}
	if err != nil {
		return report, err
	}
	return report, errors.Join(stepErrs...)
}

// Continue resumes a single suspended item relative to its persisted position.
// Completed items are rejected without writing anything.
func (e *Engine) Continue(ctx context.Context, run *domain.Run, def domain.Definition, item *domain.Item, point domain.RestartPoint, opts Options) (*Report, error) {
	if item.Status == domain.ItemCompleted {
		return nil, fmt.Errorf("resume item %d: %w", item.ID, domain.ErrItemCompleted)
	}
	if !item.Position.IsZero() {
		cur := NewCursor(def.Steps, item.Position)
		switch point {
		case domain.RestartTask:
		case domain.ContinueNext:
			cur.Next()
		case domain.RestartPrev:
			cur.Prev()
		default:
			return nil, fmt.Errorf("resume item %d: unknown restart point %q", item.ID, point)
		}
		item.Position = cur.Position()
	}
	return e.Process(ctx, run, def, []*domain.Item{item}, opts)
}

func (e *Engine) processItem(ctx context.Context, run *domain.Run, def domain.Definition, item *domain.Item, log *slog.Logger) (ItemResult, error) {
	log = log.With("item_id", item.ID)
	if err := e.beforeItem(ctx, run, def, item); err != nil {
		return ItemResult{ItemID: item.ID, Status: item.Status}, err
	}

	cur := NewCursor(def.Steps, item.Position)
	for {
		if err := ctx.Err(); err != nil {
			log.Warn("item interrupted by cancellation", "position", item.Position.String())
			return ItemResult{ItemID: item.ID, Status: item.Status, Position: item.Position.Clone()}, err
		}

		task, ok, err := cur.Settle()
		if err != nil {
			return e.transition(ctx, run, def, item, domain.Task{}, cur.Position(), domain.Fail(err), log)
		}
		if !ok {
			break
		}

		pos := cur.Position()
		out := e.invoke(ctx, run, def, item, task, pos, log)
		if out.Signal.Interrupts() {
			return e.transition(ctx, run, def, item, task, pos, out, log)
		}

		if err := e.afterCallback(ctx, run, def, item, task, pos); err != nil {
			return ItemResult{ItemID: item.ID, Status: item.Status, Position: pos}, err
		}

		if out.Signal == domain.SignalJump {
			if err := cur.Apply(out.Jump); err != nil {
				return e.transition(ctx, run, def, item, task, pos, domain.Fail(err), log)
			}
			continue
		}
		cur.Next()
	}

	if err := e.afterItem(ctx, run, def, item, cur.Position()); err != nil {
		return ItemResult{ItemID: item.ID, Status: item.Status}, err
	}
	log.Debug("item completed")
	return ItemResult{ItemID: item.ID, Status: item.Status, Position: item.Position.Clone()}, nil
}

// invoke runs one step, converting a panic into the Error signal.
func (e *Engine) invoke(ctx context.Context, run *domain.Run, def domain.Definition, item *domain.Item, task domain.Task, pos domain.Position, log *slog.Logger) (out domain.Outcome) {
	scope := &domain.Scope{
		Run:      run,
		Pipeline: def.Name,
		Position: pos.Clone(),
		Logger:   log.With("task", task.Name, "position", pos.String()),
	}

	event := &domain.StepEvent{
		EventBase: e.event(domain.EventStepEnter, run, def),
		ItemID:    item.ID,
		Task:      task.Name,
		Position:  pos.Clone(),
	}
	if e.hooks.OnStepEnter != nil {
		e.hooks.OnStepEnter(ctx, event)
	}
	log.Debug("executing step", "task", task.Name, "position", pos.String())

	start := e.now()
	defer func() {
		if r := recover(); r != nil {
			out = domain.Fail(&domain.PanicError{Value: r, Stack: debug.Stack()})
		}
		if e.hooks.OnStepLeave != nil {
			leave := *event
			leave.Type = domain.EventStepLeave
			leave.Timestamp = e.now()
			leave.Duration = leave.Timestamp.Sub(start)
			leave.Signal = out.Signal
			e.hooks.OnStepLeave(ctx, &leave)
		}
	}()

	if task.Fn == nil {
		return domain.Fail(fmt.Errorf("task %q has no step function", task.Name))
	}
	return task.Fn(ctx, item, scope)
}

func (e *Engine) event(t domain.EventType, run *domain.Run, def domain.Definition) domain.EventBase {
	return domain.EventBase{
		Timestamp: e.now(),
		Type:      t,
		RunID:     run.ID,
		Pipeline:  def.Name,
	}
}
