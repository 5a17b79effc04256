package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/ports"
)

// Store implements ports.Store in memory.
// Safe for concurrent use. Atomic units hold the store lock for their whole
// duration, so concurrent writers are serialized behind them.
type Store struct {
	mu   sync.Mutex
	data *dataset
}

type dataset struct {
	runs   map[string]*domain.Run
	items  map[int64]*domain.Item
	nextID int64
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{data: &dataset{
		runs:  make(map[string]*domain.Run),
		items: make(map[int64]*domain.Item),
	}}
}

func (s *Store) SaveRun(ctx context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.saveRun(run)
}

func (s *Store) LoadRun(ctx context.Context, id string) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.loadRun(id)
}

func (s *Store) ListRuns(ctx context.Context, filter ports.RunFilter) ([]*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.listRuns(filter), nil
}

func (s *Store) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.deleteRun(id)
	return nil
}

func (s *Store) SaveItem(ctx context.Context, item *domain.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.saveItem(item)
}

func (s *Store) LoadItem(ctx context.Context, id int64) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.loadItem(id)
}

func (s *Store) ListItems(ctx context.Context, filter ports.ItemFilter) ([]*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.listItems(filter), nil
}

func (s *Store) DeleteItem(ctx context.Context, id int64, hard bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.deleteItem(id, hard)
}

// Atomic runs fn against a transactional view of the store. When fn fails the
// store is restored to the snapshot taken before it ran.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx ports.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{data: s.data}).Atomic(ctx, fn)
}

// tx is the unlocked view handed to Atomic callbacks.
type tx struct {
	data *dataset
}

func (t *tx) SaveRun(ctx context.Context, run *domain.Run) error { return t.data.saveRun(run) }

func (t *tx) LoadRun(ctx context.Context, id string) (*domain.Run, error) {
	return t.data.loadRun(id)
}

func (t *tx) ListRuns(ctx context.Context, filter ports.RunFilter) ([]*domain.Run, error) {
	return t.data.listRuns(filter), nil
}

func (t *tx) DeleteRun(ctx context.Context, id string) error {
	t.data.deleteRun(id)
	return nil
}

func (t *tx) SaveItem(ctx context.Context, item *domain.Item) error { return t.data.saveItem(item) }

func (t *tx) LoadItem(ctx context.Context, id int64) (*domain.Item, error) {
	return t.data.loadItem(id)
}

func (t *tx) ListItems(ctx context.Context, filter ports.ItemFilter) ([]*domain.Item, error) {
	return t.data.listItems(filter), nil
}

func (t *tx) DeleteItem(ctx context.Context, id int64, hard bool) error {
	return t.data.deleteItem(id, hard)
}

func (t *tx) Atomic(ctx context.Context, fn func(ctx context.Context, tx ports.Store) error) error {
	snapshot := t.data.snapshot()
	if err := fn(ctx, t); err != nil {
		*t.data = *snapshot
		return err
	}
	return nil
}

// snapshot copies the indexes. Stored values are never mutated in place, so
// sharing them between the live set and the snapshot is safe.
func (d *dataset) snapshot() *dataset {
	out := &dataset{
		runs:   make(map[string]*domain.Run, len(d.runs)),
		items:  make(map[int64]*domain.Item, len(d.items)),
		nextID: d.nextID,
	}
	for k, v := range d.runs {
		out.runs[k] = v
	}
	for k, v := range d.items {
		out.items[k] = v
	}
	return out
}

func (d *dataset) saveRun(run *domain.Run) error {
	d.runs[run.ID] = cloneRun(run)
	return nil
}

func (d *dataset) loadRun(id string) (*domain.Run, error) {
	run, ok := d.runs[id]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return cloneRun(run), nil
}

func (d *dataset) listRuns(filter ports.RunFilter) []*domain.Run {
	out := make([]*domain.Run, 0)
	for _, run := range d.runs {
		if ports.MatchRun(filter, run) {
			out = append(out, cloneRun(run))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out
}

func (d *dataset) deleteRun(id string) {
	delete(d.runs, id)
	for itemID, item := range d.items {
		if item.RunID == id {
			d.removeTree(itemID)
		}
	}
}

func (d *dataset) saveItem(item *domain.Item) error {
	if item.ID == 0 {
		d.nextID++
		item.ID = d.nextID
	} else if item.ID > d.nextID {
		d.nextID = item.ID
	}
	d.items[item.ID] = cloneItem(item)
	return nil
}

func (d *dataset) loadItem(id int64) (*domain.Item, error) {
	item, ok := d.items[id]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	return cloneItem(item), nil
}

func (d *dataset) listItems(filter ports.ItemFilter) []*domain.Item {
	out := make([]*domain.Item, 0)
	for _, item := range d.items {
		if ports.MatchItem(filter, item) {
			out = append(out, cloneItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *dataset) deleteItem(id int64, hard bool) error {
	item, ok := d.items[id]
	if !ok {
		return domain.ErrItemNotFound
	}
	if hard {
		d.removeTree(id)
		return nil
	}
	deleted := cloneItem(item)
	deleted.Deleted = true
	d.items[id] = deleted
	return nil
}

func (d *dataset) removeTree(id int64) {
	delete(d.items, id)
	for childID, item := range d.items {
		if item.ParentID != nil && *item.ParentID == id {
			d.removeTree(childID)
		}
	}
}
