package ports

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/callpath/pkg/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreContract runs a suite of tests to verify that a Store implementation
// adheres to the defined interface contract.
func RunStoreContract(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	newRun := func(t *testing.T) *domain.Run {
		t.Helper()
		run := domain.NewRun(uuid.NewString(), "contract")
		run.Touch(now)
		require.NoError(t, store.SaveRun(ctx, run))
		return run
	}

	newItem := func(t *testing.T, runID string, parent *int64) *domain.Item {
		t.Helper()
		item := domain.NewItem(map[string]any{"title": "contract"})
		item.RunID = runID
		item.ParentID = parent
		item.Touch(now)
		require.NoError(t, store.SaveItem(ctx, item))
		require.NotZero(t, item.ID, "SaveItem should assign an ID")
		return item
	}

	t.Run("Save and Load Run", func(t *testing.T) {
		run := domain.NewRun(uuid.NewString(), "contract")
		run.Status = domain.RunHalted
		run.Auxiliary["owner"] = "alice"
		run.Touch(now)

		require.NoError(t, store.SaveRun(ctx, run))

		loaded, err := store.LoadRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.PipelineName, loaded.PipelineName)
		assert.Equal(t, domain.RunHalted, loaded.Status)
		assert.Equal(t, "alice", loaded.Auxiliary["owner"])
		assert.WithinDuration(t, now, loaded.Modified, time.Second)
	})

	t.Run("Load Non-Existent Run", func(t *testing.T) {
		_, err := store.LoadRun(ctx, "non-existent-"+uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
	})

	t.Run("Item Round Trip", func(t *testing.T) {
		run := newRun(t)
		item := domain.NewItem(map[string]any{
			"title":  "round trip",
			"flag":   true,
			"nested": map[string]any{"k": "v"},
			"list":   []any{"a", "b"},
		})
		item.RunID = run.ID
		item.Status = domain.ItemHalted
		item.Position = domain.Position{2, 0, 1}
		item.DataType = "record"
		item.SetAction("approve", "review me")
		item.Touch(now)
		require.NoError(t, store.SaveItem(ctx, item))

		loaded, err := store.LoadItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, item.Payload, loaded.Payload)
		assert.Equal(t, item.Auxiliary, loaded.Auxiliary)
		assert.Equal(t, domain.Position{2, 0, 1}, loaded.Position)
		assert.Equal(t, domain.ItemHalted, loaded.Status)
		assert.Equal(t, run.ID, loaded.RunID)
		assert.Equal(t, "record", loaded.DataType)
		assert.Equal(t, "approve", loaded.Action())
	})

	t.Run("Load Non-Existent Item", func(t *testing.T) {
		_, err := store.LoadItem(ctx, 1<<40)
		assert.ErrorIs(t, err, domain.ErrItemNotFound)
	})

	t.Run("Save Updates In Place", func(t *testing.T) {
		item := newItem(t, "", nil)
		id := item.ID
		item.Payload["title"] = "changed"
		item.Status = domain.ItemCompleted
		require.NoError(t, store.SaveItem(ctx, item))
		assert.Equal(t, id, item.ID)

		loaded, err := store.LoadItem(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "changed", loaded.Payload["title"])
		assert.Equal(t, domain.ItemCompleted, loaded.Status)
	})

	t.Run("List Items", func(t *testing.T) {
		run := newRun(t)
		parent := newItem(t, run.ID, nil)
		child := newItem(t, run.ID, &parent.ID)
		done := newItem(t, run.ID, nil)
		done.Status = domain.ItemCompleted
		require.NoError(t, store.SaveItem(ctx, done))

		all, err := store.ListItems(ctx, ItemFilter{RunID: run.ID})
		require.NoError(t, err)
		assert.Equal(t, []int64{parent.ID, child.ID, done.ID}, ids(all))

		top, err := store.ListItems(ctx, ItemFilter{RunID: run.ID, TopLevel: true})
		require.NoError(t, err)
		assert.Equal(t, []int64{parent.ID, done.ID}, ids(top))

		children, err := store.ListItems(ctx, ItemFilter{ParentID: &parent.ID})
		require.NoError(t, err)
		assert.Equal(t, []int64{child.ID}, ids(children))

		completed, err := store.ListItems(ctx, ItemFilter{RunID: run.ID, Status: []domain.ItemStatus{domain.ItemCompleted}})
		require.NoError(t, err)
		assert.Equal(t, []int64{done.ID}, ids(completed))
	})

	t.Run("Soft Delete", func(t *testing.T) {
		run := newRun(t)
		item := newItem(t, run.ID, nil)

		require.NoError(t, store.DeleteItem(ctx, item.ID, false))

		loaded, err := store.LoadItem(ctx, item.ID)
		require.NoError(t, err)
		assert.True(t, loaded.Deleted)

		visible, err := store.ListItems(ctx, ItemFilter{RunID: run.ID})
		require.NoError(t, err)
		assert.Empty(t, visible)

		withDeleted, err := store.ListItems(ctx, ItemFilter{RunID: run.ID, IncludeDeleted: true})
		require.NoError(t, err)
		assert.Len(t, withDeleted, 1)
	})

	t.Run("Hard Delete Cascades", func(t *testing.T) {
		parent := newItem(t, "", nil)
		child := newItem(t, "", &parent.ID)
		grandchild := newItem(t, "", &child.ID)

		require.NoError(t, store.DeleteItem(ctx, parent.ID, true))

		for _, id := range []int64{parent.ID, child.ID, grandchild.ID} {
			_, err := store.LoadItem(ctx, id)
			assert.ErrorIs(t, err, domain.ErrItemNotFound, "item %d", id)
		}
	})

	t.Run("Delete Run Cascades", func(t *testing.T) {
		run := newRun(t)
		item := newItem(t, run.ID, nil)

		require.NoError(t, store.DeleteRun(ctx, run.ID))

		_, err := store.LoadRun(ctx, run.ID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
		_, err = store.LoadItem(ctx, item.ID)
		assert.ErrorIs(t, err, domain.ErrItemNotFound)
	})

	t.Run("List Runs", func(t *testing.T) {
		run := domain.NewRun(uuid.NewString(), "contract-list-"+uuid.NewString())
		run.Status = domain.RunCompleted
		run.Touch(now)
		require.NoError(t, store.SaveRun(ctx, run))

		runs, err := store.ListRuns(ctx, RunFilter{Pipeline: run.PipelineName})
		require.NoError(t, err)
		if assert.Len(t, runs, 1) {
			assert.Equal(t, run.ID, runs[0].ID)
		}

		none, err := store.ListRuns(ctx, RunFilter{Pipeline: run.PipelineName, Status: []domain.RunStatus{domain.RunError}})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("Atomic Commits", func(t *testing.T) {
		run := newRun(t)
		item := newItem(t, run.ID, nil)

		err := store.Atomic(ctx, func(ctx context.Context, tx Store) error {
			item.Status = domain.ItemWaiting
			if err := tx.SaveItem(ctx, item); err != nil {
				return err
			}
			run.Status = domain.RunHalted
			return tx.SaveRun(ctx, run)
		})
		require.NoError(t, err)

		loadedItem, err := store.LoadItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ItemWaiting, loadedItem.Status)
		loadedRun, err := store.LoadRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RunHalted, loadedRun.Status)
	})

	t.Run("Atomic Rolls Back", func(t *testing.T) {
		run := newRun(t)
		item := newItem(t, run.ID, nil)
		boom := errors.New("boom")

		err := store.Atomic(ctx, func(ctx context.Context, tx Store) error {
			changed := *item
			changed.Status = domain.ItemError
			if err := tx.SaveItem(ctx, &changed); err != nil {
				return err
			}
			return tx.Atomic(ctx, func(ctx context.Context, tx Store) error {
				changedRun := *run
				changedRun.Status = domain.RunError
				if err := tx.SaveRun(ctx, &changedRun); err != nil {
					return err
				}
				return boom
			})
		})
		require.ErrorIs(t, err, boom)

		loadedItem, err := store.LoadItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ItemInitial, loadedItem.Status)
		loadedRun, err := store.LoadRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RunNew, loadedRun.Status)
	})
}

func ids(items []*domain.Item) []int64 {
	out := make([]int64, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}
