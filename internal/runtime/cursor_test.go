package runtime_test

import (
	"context"
	"testing"

	"github.com/aretw0/callpath/internal/runtime"
	"github.com/aretw0/callpath/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func named(name string) domain.Task {
	return domain.NewTask(name, func(context.Context, *domain.Item, *domain.Scope) domain.Outcome {
		return domain.Next()
	})
}

// a, [b, [c], d], e
func sampleTree() domain.Block {
	return domain.Block{
		named("a"),
		domain.Block{named("b"), domain.Block{named("c")}, named("d")},
		named("e"),
	}
}

func visit(t *testing.T, cur *runtime.Cursor) []string {
	t.Helper()
	var names []string
	for {
		task, ok, err := cur.Settle()
		require.NoError(t, err)
		if !ok {
			return names
		}
		names = append(names, task.Name)
		cur.Next()
	}
}

func TestResolve(t *testing.T) {
	tree := sampleTree()

	node, err := runtime.Resolve(tree, domain.Position{1, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, "c", node.(domain.Task).Name)

	node, err = runtime.Resolve(tree, domain.Position{1})
	require.NoError(t, err)
	assert.IsType(t, domain.Block{}, node)

	_, err = runtime.Resolve(tree, domain.Position{0, 0})
	assert.ErrorIs(t, err, domain.ErrAddress)

	_, err = runtime.Resolve(tree, domain.Position{5})
	assert.ErrorIs(t, err, domain.ErrAddress)

	var addrErr *domain.AddressError
	_, err = runtime.Resolve(tree, domain.Position{1, -1})
	require.ErrorAs(t, err, &addrErr)
	assert.Equal(t, domain.Position{1, -1}, addrErr.Position)
}

func TestCursor_DepthFirstOrder(t *testing.T) {
	cur := runtime.NewCursor(sampleTree(), nil)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, visit(t, cur))
	assert.Equal(t, domain.Position{3}, cur.Position())
}

func TestCursor_StartsAtPersistedPosition(t *testing.T) {
	cur := runtime.NewCursor(sampleTree(), domain.Position{1, 1, 0})
	assert.Equal(t, []string{"c", "d", "e"}, visit(t, cur))
}

func TestCursor_EmptyTree(t *testing.T) {
	cur := runtime.NewCursor(domain.Block{}, nil)
	_, ok, err := cur.Settle()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.Position{0}, cur.Position())
}

func TestCursor_Jumps(t *testing.T) {
	tree := sampleTree()

	t.Run("Relative", func(t *testing.T) {
		cur := runtime.NewCursor(tree, domain.Position{0})
		require.NoError(t, cur.JumpRelative(2))
		assert.Equal(t, []string{"e"}, visit(t, cur))

		cur = runtime.NewCursor(tree, domain.Position{0})
		assert.ErrorIs(t, cur.JumpRelative(-1), domain.ErrAddress)
	})

	t.Run("Relative Past End", func(t *testing.T) {
		cur := runtime.NewCursor(tree, domain.Position{1, 0})
		require.NoError(t, cur.JumpRelative(10))
		assert.Equal(t, []string{"e"}, visit(t, cur))
	})

	t.Run("Into", func(t *testing.T) {
		cur := runtime.NewCursor(tree, domain.Position{1, 0})
		require.NoError(t, cur.JumpInto(1))
		assert.Equal(t, domain.Position{1, 1, 0}, cur.Position())

		cur = runtime.NewCursor(tree, domain.Position{0})
		assert.ErrorIs(t, cur.JumpInto(2), domain.ErrAddress, "e is a task, not a block")
	})

	t.Run("Out", func(t *testing.T) {
		cur := runtime.NewCursor(tree, domain.Position{1, 1, 0})
		require.NoError(t, cur.JumpOut(2))
		assert.Equal(t, domain.Position{2}, cur.Position())

		cur = runtime.NewCursor(tree, domain.Position{1, 0})
		assert.ErrorIs(t, cur.JumpOut(2), domain.ErrAddress)
	})

	t.Run("Prev Clamps", func(t *testing.T) {
		cur := runtime.NewCursor(tree, domain.Position{1, 0})
		cur.Prev()
		assert.Equal(t, domain.Position{1, 0}, cur.Position())
	})
}

func TestCursor_BrokenPrefix(t *testing.T) {
	cur := runtime.NewCursor(sampleTree(), domain.Position{0, 3})
	_, _, err := cur.Settle()
	assert.ErrorIs(t, err, domain.ErrAddress)
}
