package badger

import (
	"context"
	"testing"

	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionRepository(t *testing.T) {
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	ctx := context.Background()
	collections := repos.Collections

	c := core.NewCollection("docs", 4)
	require.NoError(t, collections.CreateCollection(ctx, c))
	assert.False(t, c.CreatedAt.IsZero())

	t.Run("duplicate create", func(t *testing.T) {
		err := collections.CreateCollection(ctx, core.NewCollection("docs", 8))
		assert.ErrorIs(t, err, storage.ErrCollectionExists)
	})

	t.Run("get", func(t *testing.T) {
		got, err := collections.GetCollection(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, 4, got.Dimension)
		assert.Equal(t, core.VariantGraph, got.Variant)
	})

	t.Run("update keeps created at", func(t *testing.T) {
		got, err := collections.GetCollection(ctx, "docs")
		require.NoError(t, err)
		got.Variant = core.VariantCluster
		require.NoError(t, collections.UpdateCollection(ctx, got))

		again, err := collections.GetCollection(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, core.VariantCluster, again.Variant)
		assert.Equal(t, c.CreatedAt, again.CreatedAt)
	})

	t.Run("list ordered by name", func(t *testing.T) {
		require.NoError(t, collections.CreateCollection(ctx, core.NewCollection("alpha", 2)))
		list, err := collections.ListCollections(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "alpha", list[0].Name)
		assert.Equal(t, "docs", list[1].Name)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, collections.DeleteCollection(ctx, "alpha"))
		_, err := collections.GetCollection(ctx, "alpha")
		assert.ErrorIs(t, err, storage.ErrCollectionNotFound)
		assert.ErrorIs(t, collections.DeleteCollection(ctx, "alpha"), storage.ErrCollectionNotFound)
	})

	t.Run("update missing", func(t *testing.T) {
		err := collections.UpdateCollection(ctx, core.NewCollection("ghost", 2))
		assert.ErrorIs(t, err, storage.ErrCollectionNotFound)
	})
}
