package locks_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/callpath/pkg/locks"
	"github.com/stretchr/testify/assert"
)

func TestManager_SerializesSameKey(t *testing.T) {
	manager := locks.NewManager()
	ctx := context.Background()

	// Read-Modify-Write without locking would lose updates.
	counter := 0
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := manager.WithLock(ctx, locks.ItemKey(1), func(context.Context) error {
				v := counter
				time.Sleep(time.Millisecond)
				counter = v + 1
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, counter)
	assert.Zero(t, manager.Held())
}

func TestManager_IndependentKeys(t *testing.T) {
	manager := locks.NewManager()
	ctx := context.Background()

	inner := make(chan error, 1)
	err := manager.WithLock(ctx, locks.RunKey("a"), func(ctx context.Context) error {
		// A different key must not block while "a" is held.
		go func() {
			inner <- manager.WithLock(ctx, locks.RunKey("b"), func(context.Context) error { return nil })
		}()
		select {
		case err := <-inner:
			return err
		case <-time.After(time.Second):
			return fmt.Errorf("lock on b blocked behind a")
		}
	})
	assert.NoError(t, err)
}

func TestManager_LockLifecycle(t *testing.T) {
	manager := locks.NewManager()
	ctx := context.Background()

	for i := range 1000 {
		_ = manager.WithLock(ctx, locks.ItemKey(int64(i)), func(context.Context) error { return nil })
	}

	// If cleaned up properly, no lock should remain in memory.
	assert.Zero(t, manager.Held())
}

func TestManager_PropagatesError(t *testing.T) {
	manager := locks.NewManager()
	boom := fmt.Errorf("boom")
	err := manager.WithLock(context.Background(), "k", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestManager_WaitHonoursContext(t *testing.T) {
	manager := locks.NewManager()
	held := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = manager.WithLock(context.Background(), locks.RunKey("busy"), func(context.Context) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := make(chan error, 1)
	called := false
	go func() {
		result <- manager.WithLock(ctx, locks.RunKey("busy"), func(context.Context) error {
			called = true
			return nil
		})
	}()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter stayed blocked behind the held lock")
	}

	close(done)
	assert.Eventually(t, func() bool { return manager.Held() == 0 }, time.Second, 10*time.Millisecond)
}
