package ports

import (
	"context"

	"github.com/aretw0/callpath/pkg/domain"
)

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Pipeline string
	Status   []domain.RunStatus
}

// ItemFilter narrows ListItems. Zero values match everything except soft
// deleted items.
type ItemFilter struct {
	RunID    string
	Status   []domain.ItemStatus
	ParentID *int64
	// TopLevel restricts the result to items without a parent.
	TopLevel       bool
	DataType       string
	IncludeDeleted bool
}

// Store persists runs and items.
// This is what makes "Stop & Resume" across processes possible.
type Store interface {
	// SaveRun inserts or replaces a run.
	SaveRun(ctx context.Context, run *domain.Run) error

	// LoadRun returns domain.ErrRunNotFound if the run does not exist.
	LoadRun(ctx context.Context, id string) (*domain.Run, error)

	// ListRuns returns matching runs ordered by creation time.
	ListRuns(ctx context.Context, filter RunFilter) ([]*domain.Run, error)

	// DeleteRun removes a run together with its items.
	DeleteRun(ctx context.Context, id string) error

	// SaveItem inserts or replaces an item. Items with a zero ID are assigned
	// a fresh one, written back into item.ID.
	SaveItem(ctx context.Context, item *domain.Item) error

	// LoadItem returns domain.ErrItemNotFound if the item does not exist.
	// Soft deleted items are still returned.
	LoadItem(ctx context.Context, id int64) (*domain.Item, error)

	// ListItems returns matching items ordered by ID.
	ListItems(ctx context.Context, filter ItemFilter) ([]*domain.Item, error)

	// DeleteItem soft deletes the item, or removes it and all its descendants
	// when hard is true.
	DeleteItem(ctx context.Context, id int64, hard bool) error

	// Atomic runs fn as one unit of work: either every write made through tx
	// is persisted or none is. Calling Atomic on tx nests inside the outer unit.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// MatchRun reports whether run satisfies filter. Adapters that cannot filter
// natively share it.
func MatchRun(filter RunFilter, run *domain.Run) bool {
	if filter.Pipeline != "" && run.PipelineName != filter.Pipeline {
		return false
	}
	if len(filter.Status) > 0 {
		found := false
		for _, s := range filter.Status {
			if s == run.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// MatchItem reports whether item satisfies filter.
func MatchItem(filter ItemFilter, item *domain.Item) bool {
	if item.Deleted && !filter.IncludeDeleted {
		return false
	}
	if filter.RunID != "" && item.RunID != filter.RunID {
		return false
	}
	if filter.TopLevel && item.ParentID != nil {
		return false
	}
	if filter.ParentID != nil && (item.ParentID == nil || *item.ParentID != *filter.ParentID) {
		return false
	}
	if filter.DataType != "" && item.DataType != filter.DataType {
		return false
	}
	if len(filter.Status) > 0 {
		found := false
		for _, s := range filter.Status {
			if s == item.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
