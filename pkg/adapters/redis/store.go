package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// Store implements ports.Store using Redis.
//
// Runs and items are stored as JSON strings, with sorted sets indexing all
// runs and items and plain sets indexing items per run and children per
// parent. Multi-key writes go through MULTI/EXEC. Inside Atomic, writes are
// queued until the unit commits, so reads made through tx observe only
// committed data; nested units join the outermost one.
type Store struct {
	client *backend.Client
	prefix string
	pipe   backend.Pipeliner
}

type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "callpath:",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) runKey(id string) string { return s.prefix + "run:" + id }
func (s *Store) runsKey() string { return s.prefix + "runs" }
func (s *Store) runItemsKey(id string) string { return s.prefix + "run:" + id + ":items" }
func (s *Store) itemKey(id int64) string { return s.prefix + "item:" + strconv.FormatInt(id, 10) }
func (s *Store) itemsKey() string { return s.prefix + "items" }
func (s *Store) childrenKey(id int64) string { return s.prefix + "item:" + strconv.FormatInt(id, 10) + ":children" }
func (s *Store) sequenceKey() string { return s.prefix + "seq:item" }
func member(id int64) string { return strconv.FormatInt(id, 10) }

// write runs fn in the current unit, or in its own MULTI/EXEC outside one.
func (s *Store) write(ctx context.Context, fn func(pipe backend.Pipeliner) error) error {
	if s.pipe != nil {
		return fn(s.pipe)
	}
	_, err := s.client.TxPipelined(ctx, fn)
	if err != nil {
		return fmt.Errorf("failed to write to redis: %w", err)
	}
	return nil
}

// Atomic implements ports.Store.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx ports.Store) error) error {
	if s.pipe != nil {
		return fn(ctx, s)
	}
	pipe := s.client.TxPipeline()
	tx := &Store{client: s.client, prefix: s.prefix, pipe: pipe}
	if err := fn(ctx, tx); err != nil {
		pipe.Discard()
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to commit redis transaction: %w", err)
	}
	return nil
}

// SaveRun persists the run.
func (s *Store) SaveRun(ctx context.Context, run *domain.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	return s.write(ctx, func(pipe backend.Pipeliner) error {
		pipe.Set(ctx, s.runKey(run.ID), data, 0)
		pipe.ZAdd(ctx, s.runsKey(), backend.Z{Score: float64(run.Created.UnixMilli()), Member: run.ID})
		return nil
	})
}

// LoadRun retrieves the run.
func (s *Store) LoadRun(ctx context.Context, id string) (*domain.Run, error) {
	val, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run from redis: %w", err)
	}
	var run domain.Run
	if err := json.Unmarshal(val, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// ListRuns returns runs ordered by creation time.
func (s *Store) ListRuns(ctx context.Context, filter ports.RunFilter) ([]*domain.Run, error) {
	ids, err := s.client.ZRange(ctx, s.runsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	out := make([]*domain.Run, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.runKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load runs: %w", err)
	}
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var run domain.Run
		if err := json.Unmarshal([]byte(raw), &run); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run: %w", err)
		}
		if ports.MatchRun(filter, &run) {
			out = append(out, &run)
		}
	}
	return out, nil
}

// DeleteRun removes the run and all its items.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	members, err := s.client.SMembers(ctx, s.runItemsKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to list run items: %w", err)
	}
	var doomed []*domain.Item
	for _, m := range members {
		itemID, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		tree, err := s.subtree(ctx, itemID)
		if err != nil {
			return err
		}
		doomed = append(doomed, tree...)
	}
	return s.write(ctx, func(pipe backend.Pipeliner) error {
		s.queueRemoval(ctx, pipe, doomed)
		pipe.Del(ctx, s.runKey(id), s.runItemsKey(id))
		pipe.ZRem(ctx, s.runsKey(), id)
		return nil
	})
}

// SaveItem persists the item, assigning an ID to new items.
func (s *Store) SaveItem(ctx context.Context, item *domain.Item) error {
	var prev *domain.Item
	if item.ID == 0 {
		id, err := s.client.Incr(ctx, s.sequenceKey()).Result()
		if err != nil {
			return fmt.Errorf("failed to allocate item id: %w", err)
		}
		item.ID = id
	} else {
		loaded, err := s.LoadItem(ctx, item.ID)
		if err != nil && !errors.Is(err, domain.ErrItemNotFound) {
			return err
		}
		prev = loaded
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}
	return s.write(ctx, func(pipe backend.Pipeliner) error {
		pipe.Set(ctx, s.itemKey(item.ID), data, 0)
		pipe.ZAdd(ctx, s.itemsKey(), backend.Z{Score: float64(item.ID), Member: member(item.ID)})
		if prev != nil && prev.RunID != "" && prev.RunID != item.RunID {
			pipe.SRem(ctx, s.runItemsKey(prev.RunID), member(item.ID))
		}
		if item.RunID != "" {
			pipe.SAdd(ctx, s.runItemsKey(item.RunID), member(item.ID))
		}
		if prev != nil && prev.ParentID != nil && (item.ParentID == nil || *item.ParentID != *prev.ParentID) {
			pipe.SRem(ctx, s.childrenKey(*prev.ParentID), member(item.ID))
		}
		if item.ParentID != nil {
			pipe.SAdd(ctx, s.childrenKey(*item.ParentID), member(item.ID))
		}
		return nil
	})
}

// LoadItem retrieves the item.
func (s *Store) LoadItem(ctx context.Context, id int64) (*domain.Item, error) {
	val, err := s.client.Get(ctx, s.itemKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get item from redis: %w", err)
	}
	var item domain.Item
	if err := json.Unmarshal(val, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return &item, nil
}

// ListItems returns matching items ordered by ID.
func (s *Store) ListItems(ctx context.Context, filter ports.ItemFilter) ([]*domain.Item, error) {
	var (
		members []string
		err     error
	)
	switch {
	case filter.RunID != "":
		members, err = s.client.SMembers(ctx, s.runItemsKey(filter.RunID)).Result()
	case filter.ParentID != nil:
		members, err = s.client.SMembers(ctx, s.childrenKey(*filter.ParentID)).Result()
	default:
		members, err = s.client.ZRange(ctx, s.itemsKey(), 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	out := make([]*domain.Item, 0, len(members))
	if len(members) == 0 {
		return out, nil
	}
	keys := make([]string, 0, len(members))
	for _, m := range members {
		keys = append(keys, s.prefix+"item:"+m)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var item domain.Item
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal item: %w", err)
		}
		if ports.MatchItem(filter, &item) {
			out = append(out, &item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteItem soft deletes the item, or removes it with its descendants.
func (s *Store) DeleteItem(ctx context.Context, id int64, hard bool) error {
	if !hard {
		item, err := s.LoadItem(ctx, id)
		if err != nil {
			return err
		}
		item.Deleted = true
		return s.SaveItem(ctx, item)
	}
	doomed, err := s.subtree(ctx, id)
	if err != nil {
		return err
	}
	return s.write(ctx, func(pipe backend.Pipeliner) error {
		s.queueRemoval(ctx, pipe, doomed)
		return nil
	})
}

// subtree loads the item and every descendant, parents first.
func (s *Store) subtree(ctx context.Context, id int64) ([]*domain.Item, error) {
	root, err := s.LoadItem(ctx, id)
	if err != nil {
		return nil, err
	}
	out := []*domain.Item{root}
	for i := 0; i < len(out); i++ {
		children, err := s.client.SMembers(ctx, s.childrenKey(out[i].ID)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list children: %w", err)
		}
		for _, c := range children {
			childID, err := strconv.ParseInt(c, 10, 64)
			if err != nil {
				continue
			}
			child, err := s.LoadItem(ctx, childID)
			if errors.Is(err, domain.ErrItemNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, child)
		}
	}
	return out, nil
}

func (s *Store) queueRemoval(ctx context.Context, pipe backend.Pipeliner, items []*domain.Item) {
	for _, item := range items {
		pipe.Del(ctx, s.itemKey(item.ID), s.childrenKey(item.ID))
		pipe.ZRem(ctx, s.itemsKey(), member(item.ID))
		if item.RunID != "" {
			pipe.SRem(ctx, s.runItemsKey(item.RunID), member(item.ID))
		}
		if item.ParentID != nil {
			pipe.SRem(ctx, s.childrenKey(*item.ParentID), member(item.ID))
		}
	}
}
