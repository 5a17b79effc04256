package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/callpath/pkg/adapters/worker"
	"github.com/aretw0/callpath/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ports.Dispatcher = (*worker.Pool)(nil)

func startPool(t *testing.T, opts ...worker.PoolOption) *worker.Pool {
	t.Helper()
	pool := worker.NewPool(opts...)
	require.NoError(t, pool.Start(context.Background()))
	// Double start should be a no-op.
	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })
	return pool
}

func TestPool_RunsJobs(t *testing.T) {
	pool := startPool(t, worker.WithPoolConcurrency(2))
	ctx := context.Background()

	var count atomic.Int32
	handles := make([]ports.Handle, 0, 10)
	for range 10 {
		h, err := pool.Submit(ctx, "count", func(ctx context.Context) error {
			count.Add(1)
			return nil
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}

	for _, h := range handles {
		assert.NotEmpty(t, h.ID())
		require.NoError(t, h.Wait(ctx))
	}
	assert.Equal(t, int32(10), count.Load())
}

func TestPool_ReportsErrorsAndPanics(t *testing.T) {
	pool := startPool(t)
	ctx := context.Background()
	boom := errors.New("boom")

	failed, err := pool.Submit(ctx, "fail", func(context.Context) error { return boom })
	require.NoError(t, err)
	assert.ErrorIs(t, failed.Wait(ctx), boom)

	panicked, err := pool.Submit(ctx, "panic", func(context.Context) error { panic("kaboom") })
	require.NoError(t, err)
	err = panicked.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestPool_JobOutlivesSubmitContext(t *testing.T) {
	pool := startPool(t)
	submitCtx, cancel := context.WithCancel(context.Background())

	release := make(chan struct{})
	h, err := pool.Submit(submitCtx, "detached", func(ctx context.Context) error {
		<-release
		return ctx.Err()
	})
	require.NoError(t, err)
	cancel()
	close(release)

	assert.NoError(t, h.Wait(context.Background()))
}

func TestPool_WaitHonorsContext(t *testing.T) {
	pool := startPool(t)
	release := make(chan struct{})
	defer close(release)

	h, err := pool.Submit(context.Background(), "slow", func(context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Wait(ctx), context.DeadlineExceeded)
}

func TestPool_StopCancelsOnDeadline(t *testing.T) {
	pool := worker.NewPool(worker.WithPoolConcurrency(1))
	require.NoError(t, pool.Start(context.Background()))

	started := make(chan struct{})
	h, err := pool.Submit(context.Background(), "blocking", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, pool.Stop(ctx))
	assert.ErrorIs(t, h.Wait(context.Background()), context.Canceled)

	_, err = pool.Submit(context.Background(), "late", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, worker.ErrPoolStopped)
}
