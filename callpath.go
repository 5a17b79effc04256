package callpath

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/callpath/internal/logging"
	"github.com/aretw0/callpath/internal/runtime"
	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/locks"
	"github.com/aretw0/callpath/pkg/ports"
	"github.com/google/uuid"
)

// ErrNoDispatcher is returned by the async entry points when no Dispatcher
// was configured.
var ErrNoDispatcher = errors.New("no dispatcher configured")

// Engine is the high-level entry point for the callpath library.
// It wraps the internal runtime and provides the start, resume and restart
// operations on top of a Store and a pipeline Resolver.
type Engine struct {
	runtime    *runtime.Engine
	store      ports.Store
	resolver   ports.Resolver
	dispatcher ports.Dispatcher
	locks      *locks.Manager
	hooks      domain.LifecycleHooks
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithDispatcher enables the async entry points.
func WithDispatcher(d ports.Dispatcher) Option {
	return func(e *Engine) {
		e.dispatcher = d
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDGenerator overrides how run IDs are minted (default: random UUIDs).
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		e.newID = fn
	}
}

// New initializes a new Engine.
func New(store ports.Store, resolver ports.Resolver, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}

	eng := &Engine{
		store:    store,
		resolver: resolver,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	if eng.now == nil {
		eng.now = time.Now
	}
	if eng.newID == nil {
		eng.newID = uuid.NewString
	}
	eng.locks = locks.NewManager(locks.WithLogger(eng.logger))
	eng.runtime = runtime.NewEngine(store,
		runtime.WithLifecycleHooks(eng.hooks),
		runtime.WithLogger(eng.logger),
		runtime.WithClock(eng.now),
	)
	return eng, nil
}

// Input is the data a run starts with. Data entries become new items; IDs
// and Items refer to items to (re)process. At least one must be non-empty.
type Input struct {
	Data    []map[string]any
	ItemIDs []int64
	// Items are processed as given. Items with a zero ID are created.
	Items []*domain.Item
}

// RunOption tunes a single invocation.
type RunOption func(*runtime.Options)

// StopOnHalt makes the invocation return at the first suspended or failed
// item instead of moving on to the rest of the batch.
func StopOnHalt(stop bool) RunOption {
	return func(o *runtime.Options) {
		o.StopOnHalt = stop
	}
}

func options(opts []RunOption) runtime.Options {
	var o runtime.Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// job is a fully validated invocation, ready to run now or on a dispatcher.
type job struct {
	// keys are taken in order, outermost first.
	keys []string
	run  func(ctx context.Context) error
}

// Start creates a new run of pipeline over the input and processes it.
// Unknown pipelines, empty input and unknown item IDs are reported before
// anything is written.
func (e *Engine) Start(ctx context.Context, pipeline string, in Input, opts ...RunOption) (string, error) {
	run, j, err := e.prepareStart(ctx, pipeline, in, options(opts))
	if err != nil {
		return "", err
	}
	return run.ID, e.execute(ctx, j)
}

// StartAsync validates and records the run like Start, then hands processing
// to the dispatcher.
func (e *Engine) StartAsync(ctx context.Context, pipeline string, in Input, opts ...RunOption) (string, ports.Handle, error) {
	if e.dispatcher == nil {
		return "", nil, ErrNoDispatcher
	}
	run, j, err := e.prepareStart(ctx, pipeline, in, options(opts))
	if err != nil {
		return "", nil, err
	}
	h, err := e.submit(ctx, "start:"+pipeline, j)
	return run.ID, h, err
}

// Resume continues a suspended item from point relative to its saved
// position, inside the item's run. An empty point means ContinueNext.
func (e *Engine) Resume(ctx context.Context, itemID int64, point domain.RestartPoint, opts ...RunOption) (string, error) {
	run, j, err := e.prepareResume(ctx, itemID, point, options(opts))
	if err != nil {
		return "", err
	}
	return run.ID, e.execute(ctx, j)
}

// ResumeAsync validates like Resume, then hands processing to the dispatcher.
func (e *Engine) ResumeAsync(ctx context.Context, itemID int64, point domain.RestartPoint, opts ...RunOption) (string, ports.Handle, error) {
	if e.dispatcher == nil {
		return "", nil, ErrNoDispatcher
	}
	run, j, err := e.prepareResume(ctx, itemID, point, options(opts))
	if err != nil {
		return "", nil, err
	}
	h, err := e.submit(ctx, fmt.Sprintf("resume:%d", itemID), j)
	return run.ID, h, err
}

// Restart reprocesses every top-level item of the run from the beginning.
func (e *Engine) Restart(ctx context.Context, runID string, opts ...RunOption) (string, error) {
	j, err := e.prepareRestart(ctx, runID, options(opts))
	if err != nil {
		return "", err
	}
	return runID, e.execute(ctx, j)
}

// RestartAsync validates like Restart, then hands processing to the dispatcher.
func (e *Engine) RestartAsync(ctx context.Context, runID string, opts ...RunOption) (string, ports.Handle, error) {
	if e.dispatcher == nil {
		return "", nil, ErrNoDispatcher
	}
	j, err := e.prepareRestart(ctx, runID, options(opts))
	if err != nil {
		return "", nil, err
	}
	h, err := e.submit(ctx, "restart:"+runID, j)
	return runID, h, err
}

func (e *Engine) execute(ctx context.Context, j job) error {
	return e.withLocks(ctx, j.keys, j.run)
}

func (e *Engine) withLocks(ctx context.Context, keys []string, fn func(context.Context) error) error {
	if len(keys) == 0 {
		return fn(ctx)
	}
	return e.locks.WithLock(ctx, keys[0], func(ctx context.Context) error {
		return e.withLocks(ctx, keys[1:], fn)
	})
}

func (e *Engine) submit(ctx context.Context, name string, j job) (ports.Handle, error) {
	h, err := e.dispatcher.Submit(ctx, name, func(ctx context.Context) error {
		return e.execute(ctx, j)
	})
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", name, err)
	}
	e.logger.Debug("job submitted", "job", name, "job_id", h.ID())
	return h, nil
}

func (e *Engine) prepareStart(ctx context.Context, pipeline string, in Input, opts runtime.Options) (*domain.Run, job, error) {
	def, err := e.resolver.Resolve(pipeline)
	if err != nil {
		return nil, job{}, err
	}
	if len(in.Data) == 0 && len(in.ItemIDs) == 0 && len(in.Items) == 0 {
		return nil, job{}, domain.ErrMissingData
	}

	items := make([]*domain.Item, 0, len(in.Data)+len(in.ItemIDs)+len(in.Items))
	for _, id := range in.ItemIDs {
		item, err := e.store.LoadItem(ctx, id)
		if errors.Is(err, domain.ErrItemNotFound) {
			return nil, job{}, fmt.Errorf("item %d: %w", id, domain.ErrMissingObject)
		}
		if err != nil {
			return nil, job{}, err
		}
		items = append(items, item)
	}
	for _, item := range in.Items {
		if item.ID == 0 {
			continue
		}
		if _, err := e.store.LoadItem(ctx, item.ID); errors.Is(err, domain.ErrItemNotFound) {
			return nil, job{}, fmt.Errorf("item %d: %w", item.ID, domain.ErrMissingObject)
		} else if err != nil {
			return nil, job{}, err
		}
	}
	items = append(items, in.Items...)
	for _, data := range in.Data {
		items = append(items, domain.NewItem(data))
	}

	run := domain.NewRun(e.newID(), def.Name)
	now := e.now()
	run.Touch(now)
	for _, item := range items {
		item.Reset()
		item.RunID = run.ID
		if item.DataType == "" {
			item.DataType = def.DataType
		}
		item.Touch(now)
	}

	// The run and its items become visible together.
	err = e.store.Atomic(ctx, func(ctx context.Context, tx ports.Store) error {
		if err := tx.SaveRun(ctx, run); err != nil {
			return err
		}
		for _, item := range items {
			if err := tx.SaveItem(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, job{}, fmt.Errorf("create run: %w", err)
	}
	e.logger.Info("run created", "run_id", run.ID, "pipeline", def.Name, "items", len(items))

	return run, job{
		keys: []string{locks.RunKey(run.ID)},
		run:  func(ctx context.Context) error {
			_, err := e.runtime.Process(ctx, run, def, items, opts)
			return err
		},
	}, nil
}

func (e *Engine) prepareResume(ctx context.Context, itemID int64, point domain.RestartPoint, opts runtime.Options) (*domain.Run, job, error) {
	if point == "" {
		point = domain.ContinueNext
	}
	if _, err := domain.ParseRestartPoint(string(point)); err != nil {
		return nil, job{}, err
	}

	item, err := e.store.LoadItem(ctx, itemID)
	if errors.Is(err, domain.ErrItemNotFound) {
		return nil, job{}, fmt.Errorf("item %d: %w", itemID, domain.ErrMissingObject)
	}
	if err != nil {
		return nil, job{}, err
	}
	if item.RunID == "" {
		return nil, job{}, fmt.Errorf("item %d: %w", itemID, domain.ErrNoRun)
	}
	if item.Status == domain.ItemCompleted {
		return nil, job{}, fmt.Errorf("resume item %d: %w", itemID, domain.ErrItemCompleted)
	}
	run, def, err := e.runAndDefinition(ctx, item.RunID)
	if err != nil {
		return nil, job{}, err
	}

	return run, job{
		// The run key keeps a restart of the same run out while the item moves.
		keys: []string{locks.RunKey(run.ID), locks.ItemKey(itemID)},
		run:  func(ctx context.Context) error {
			// Reload under the lock: another resume or a restart may have moved the item.
			item, err := e.store.LoadItem(ctx, itemID)
			if err != nil {
				return err
			}
			_, err = e.runtime.Continue(ctx, run, def, item, point, opts)
			return err
		},
	}, nil
}

func (e *Engine) prepareRestart(ctx context.Context, runID string, opts runtime.Options) (job, error) {
	run, def, err := e.runAndDefinition(ctx, runID)
	if err != nil {
		return job{}, err
	}
	return job{
		keys: []string{locks.RunKey(runID)},
		run:  func(ctx context.Context) error {
			items, err := e.store.ListItems(ctx, ports.ItemFilter{RunID: runID, TopLevel: true})
			if err != nil {
				return fmt.Errorf("list items of run %s: %w", runID, err)
			}
			for _, item := range items {
				item.Reset()
			}
			_, err = e.runtime.Process(ctx, run, def, items, opts)
			return err
		},
	}, nil
}

func (e *Engine) runAndDefinition(ctx context.Context, runID string) (*domain.Run, domain.Definition, error) {
	run, err := e.store.LoadRun(ctx, runID)
	if errors.Is(err, domain.ErrRunNotFound) {
		return nil, domain.Definition{}, fmt.Errorf("run %s: %w", runID, domain.ErrMissingModel)
	}
	if err != nil {
		return nil, domain.Definition{}, err
	}
	def, err := e.resolver.Resolve(run.PipelineName)
	if err != nil {
		return nil, domain.Definition{}, err
	}
	return run, def, nil
}
