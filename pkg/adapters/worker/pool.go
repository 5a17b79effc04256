// Package worker provides an in-process Dispatcher: a Pool of goroutines
// that execute submitted jobs from a bounded queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/aretw0/callpath/internal/logging"
	"github.com/aretw0/callpath/pkg/ports"
	"github.com/google/uuid"
)

// ErrPoolStopped is returned for jobs submitted to, or still queued in, a
// pool that is not running.
var ErrPoolStopped = errors.New("worker pool is not running")

// Pool manages a set of concurrent worker goroutines that execute jobs
// handed over by Submit.
type Pool struct {
	concurrency int
	queueSize   int
	logger      *slog.Logger

	queue  chan *task
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.RWMutex
	running bool

	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

type task struct {
	name   string
	job    ports.Job
	handle *handle
}

type handle struct {
	id   string
	done chan struct{}
	err  error
}

func (h *handle) ID() string            { return h.id }
func (h *handle) Done() <-chan struct{} { return h.done }

func (h *handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *handle) finish(err error) {
	h.err = err
	close(h.done)
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithQueueSize sets how many jobs may wait for a free worker.
func WithQueueSize(n int) PoolOption {
	return func(p *Pool) { p.queueSize = n }
}

// WithLogger sets the pool logger.
func WithLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = logger }
}

// NewPool creates a worker pool. It must be started before use.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		concurrency: 4,
		queueSize:   64,
		logger:      logging.NewNop(),
		activeJobs:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	if p.queueSize < 0 {
		p.queueSize = 0
	}
	return p
}

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.queue = make(chan *task, p.queueSize)
	p.stopCh = make(chan struct{})

	p.logger.Info("worker pool starting", slog.Int("concurrency", p.concurrency))

	for range p.concurrency {
		p.wg.Add(1)
		go p.loop()
	}
	return nil
}

// Stop signals all workers to stop and waits for running jobs to finish.
// Jobs still queued fail with ErrPoolStopped. If the context ends first,
// active jobs are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		<-done
	}

	for {
		select {
		case t := <-p.queue:
			t.handle.finish(ErrPoolStopped)
		default:
			return nil
		}
	}
}

// Submit implements ports.Dispatcher. The job runs detached from ctx, which
// only bounds the wait for a queue slot.
func (p *Pool) Submit(ctx context.Context, name string, job ports.Job) (ports.Handle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		return nil, ErrPoolStopped
	}

	t := &task{
		name:   name,
		job:    job,
		handle: &handle{id: uuid.NewString(), done: make(chan struct{})},
	}

	select {
	case p.queue <- t:
		p.logger.Debug("job queued", slog.String("job_id", t.handle.id), slog.String("job_name", name))
		return t.handle, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) loop() {
	defer p.wg.Done()

	for {
		// Prefer stopping over picking up more work.
		select {
		case <-p.stopCh:
			return
		default:
		}

		select {
		case <-p.stopCh:
			return
		case t := <-p.queue:
			p.execute(t)
		}
	}
}

func (p *Pool) execute(t *task) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.trackJob(t.handle.id, cancel)
	defer p.untrackJob(t.handle.id)

	start := time.Now()
	err := run(ctx, t.job)
	elapsed := time.Since(start)

	if err != nil {
		p.logger.Debug("job execution failed",
			slog.String("job_id", t.handle.id),
			slog.String("job_name", t.name),
			slog.Duration("elapsed", elapsed),
			slog.String("err", err.Error()),
		)
	} else {
		p.logger.Debug("job completed",
			slog.String("job_id", t.handle.id),
			slog.String("job_name", t.name),
			slog.Duration("elapsed", elapsed),
		)
	}
	t.handle.finish(err)
}

func run(ctx context.Context, job ports.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return job(ctx)
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
