package locks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/callpath/internal/logging"
)

// lockEntry holds a one-slot semaphore and the reference count.
type lockEntry struct {
	sem  chan struct{}
	refs int
}

// Manager hands out per-key locks.
// It uses Reference Counting to garbage collect unused locks.
type Manager struct {
	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	logger *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new lock Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		locks:  make(map[string]*lockEntry),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunKey is the lock key of a run.
func RunKey(id string) string { return "run:" + id }

// ItemKey is the lock key of an item.
func ItemKey(id int64) string { return fmt.Sprintf("item:%d", id) }

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST call release(key) once it stops holding or waiting for entry.sem.
func (m *Manager) acquire(key string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		m.locks[key] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, key)
	}
}

// WithLock executes fn while holding the lock for key.
// It returns ctx.Err() without calling fn if ctx ends while waiting.
func (m *Manager) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	entry := m.acquire(key)
	start := time.Now()
	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		m.release(key)
		return ctx.Err()
	}
	defer func() {
		<-entry.sem
		m.release(key)
	}()

	if waited := time.Since(start); waited > time.Second {
		m.logger.Warn("Waited long for lock", "key", key, "waited", waited)
	}
	return fn(ctx)
}

// Held returns the number of keys currently locked or awaited.
func (m *Manager) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
