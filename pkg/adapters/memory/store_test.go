package memory_test

import (
	"context"
	"testing"

	"github.com/aretw0/callpath/pkg/adapters/memory"
	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunStoreContract(t, store)
}

func TestMemoryStore_Isolation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	item := domain.NewItem(map[string]any{"nested": map[string]any{"k": "v"}})
	require.NoError(t, store.SaveItem(ctx, item))

	item.Payload["nested"].(map[string]any)["k"] = "mutated"

	loaded, err := store.LoadItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "v", loaded.Payload["nested"].(map[string]any)["k"])
}
