package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func noopHandle(ctx context.Context, input map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func TestPoolAddThenGet(t *testing.T) {
	pool := NewPool()
	require.NoError(t, pool.Add(Metadata{Name: "search", Description: "d", Kind: KindFunction}, noopHandle))

	entry, ok := pool.Get("search")
	require.True(t, ok)
	require.Equal(t, "search", entry.Metadata.Name)
}

func TestPoolAddRejectsInvalidMetadata(t *testing.T) {
	pool := NewPool()
	err := pool.Add(Metadata{Name: "search", Description: "d", Kind: KindLLM}, noopHandle)
	require.Error(t, err)
	_, ok := pool.Get("search")
	require.False(t, ok)
}

func TestPoolAddRejectsNilHandle(t *testing.T) {
	pool := NewPool()
	err := pool.Add(Metadata{Name: "search", Description: "d", Kind: KindFunction}, nil)
	require.Error(t, err)
}

func TestPoolAllReturnsEveryEntry(t *testing.T) {
	pool := NewPool()
	require.NoError(t, pool.Add(Metadata{Name: "a", Description: "d", Kind: KindFunction}, noopHandle))
	require.NoError(t, pool.Add(Metadata{Name: "b", Description: "d", Kind: KindFunction}, noopHandle))
	require.Len(t, pool.All(), 2)
}

func TestRegistryEnableCopiesFromPool(t *testing.T) {
	pool := NewPool()
	require.NoError(t, pool.Add(Metadata{Name: "search", Description: "d", Kind: KindFunction}, noopHandle))

	registry := NewRegistry(pool)
	require.NoError(t, registry.Enable("search"))

	_, ok := registry.Get("search")
	require.True(t, ok)
}

func TestRegistryEnableFailsForUnknownTool(t *testing.T) {
	registry := NewRegistry(NewPool())
	err := registry.Enable("missing")
	require.Error(t, err)
}

func TestRegistryClearEmptiesRegistryNotPool(t *testing.T) {
	pool := NewPool()
	require.NoError(t, pool.Add(Metadata{Name: "search", Description: "d", Kind: KindFunction}, noopHandle))
	registry := NewRegistry(pool)
	require.NoError(t, registry.Enable("search"))

	registry.Clear()

	_, ok := registry.Get("search")
	require.False(t, ok)
	_, ok = pool.Get("search")
	require.True(t, ok)
}
