package lodestone

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/scope"
	"github.com/poiesic/lodestone/search"
	"github.com/poiesic/lodestone/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase("", WithInMemory())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDatabase(t *testing.T) {
	t.Run("create new database", func(t *testing.T) {
		tmpDir := filepath.Join(t.TempDir(), "test_db")
		db, err := NewDatabase(tmpDir)
		require.NoError(t, err)
		require.NotNil(t, db)
		defer db.Close()

		assert.NotNil(t, db.backend)
		assert.NotNil(t, db.logger)
	})

	t.Run("error with invalid path", func(t *testing.T) {
		// Try to create a database at a file path instead of directory
		tmpFile := filepath.Join(t.TempDir(), "not_a_dir")
		err := os.WriteFile(tmpFile, []byte("test"), 0644)
		require.NoError(t, err)

		db, err := NewDatabase(tmpFile)
		assert.Error(t, err)
		assert.Nil(t, db)
	})

	t.Run("close twice", func(t *testing.T) {
		db, err := NewDatabase("", WithInMemory())
		require.NoError(t, err)
		assert.NoError(t, db.Close())
		assert.NoError(t, db.Close())

		_, err = db.Collection(context.Background(), "docs")
		assert.ErrorIs(t, err, ErrDatabaseClosed)
	})
}

func TestDatabase_Collections(t *testing.T) {
	ctx := context.Background()
	db := memoryDatabase(t)

	_, err := db.CreateCollection(ctx, core.NewCollection("docs", 4))
	require.NoError(t, err)
	_, err = db.CreateCollection(ctx, core.NewCollection("notes", 8))
	require.NoError(t, err)

	t.Run("duplicate name", func(t *testing.T) {
		_, err := db.CreateCollection(ctx, core.NewCollection("docs", 4))
		assert.ErrorIs(t, err, storage.ErrCollectionExists)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := db.CreateCollection(ctx, core.NewCollection("bad name!", 4))
		assert.ErrorIs(t, err, core.ErrInvalidName)
	})

	t.Run("list", func(t *testing.T) {
		list, err := db.ListCollections(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "docs", list[0].Name)
		assert.Equal(t, "notes", list[1].Name)
	})

	t.Run("handles are shared", func(t *testing.T) {
		a, err := db.Collection(ctx, "docs")
		require.NoError(t, err)
		b, err := db.Collection(ctx, "docs")
		require.NoError(t, err)
		assert.Same(t, a, b)
	})

	t.Run("drop cascades", func(t *testing.T) {
		notes, err := db.Collection(ctx, "notes")
		require.NoError(t, err)
		_, err = notes.Put(ctx, scope.Unrestricted(), "tenant-a", "meeting notes", make([]float32, 8))
		require.NoError(t, err)

		require.NoError(t, db.DropCollection(ctx, "notes"))
		_, err = db.Collection(ctx, "notes")
		assert.ErrorIs(t, err, storage.ErrCollectionNotFound)
		count, err := db.records.Count(ctx, "notes")
		require.NoError(t, err)
		assert.Zero(t, count)

		assert.ErrorIs(t, db.DropCollection(ctx, "notes"), storage.ErrCollectionNotFound)
	})
}

func TestCollection_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	db := memoryDatabase(t)
	docs, err := db.CreateCollection(ctx, core.NewCollection("docs", 4))
	require.NoError(t, err)

	alice := scope.NewPrincipal("tenant-a")
	bob := scope.NewPrincipal("tenant-b")

	rec, err := docs.Put(ctx, alice, "tenant-a", "Our refund policy covers returns", []float32{1, 0, 0, 0})
	require.NoError(t, err)
	assert.NotZero(t, rec.Id)

	t.Run("write outside own scope", func(t *testing.T) {
		_, err := docs.Put(ctx, alice, "tenant-b", "planted", []float32{1, 0, 0, 0})
		assert.ErrorIs(t, err, core.ErrScopeViolation)
		count, err := db.records.Count(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("empty scope", func(t *testing.T) {
		_, err := docs.Put(ctx, alice, "", "nobody", []float32{1, 0, 0, 0})
		assert.ErrorIs(t, err, core.ErrEmptyScope)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := docs.Put(ctx, alice, "tenant-a", "short", []float32{1, 0})
		assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	})

	t.Run("get own record", func(t *testing.T) {
		got, err := docs.Get(ctx, alice, rec.Id)
		require.NoError(t, err)
		assert.Equal(t, rec.Content, got.Content)
		assert.Equal(t, core.ScopeID("tenant-a"), got.Scope)
	})

	t.Run("foreign record is not revealed", func(t *testing.T) {
		_, err := docs.Get(ctx, bob, rec.Id)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = docs.Delete(ctx, bob, rec.Id)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		deleted, err := docs.Delete(ctx, alice, rec.Id)
		require.NoError(t, err)
		assert.Equal(t, rec.Id, deleted.Id)

		_, err = docs.Get(ctx, alice, rec.Id)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		resp, err := docs.Search(ctx, alice, search.Request{Text: "refund", Vector: []float32{1, 0, 0, 0}, K: 5})
		require.NoError(t, err)
		assert.Empty(t, resp.Results)
	})
}

func TestCollection_Search(t *testing.T) {
	ctx := context.Background()
	db := memoryDatabase(t)
	docs, err := db.CreateCollection(ctx, core.NewCollection("docs", 4))
	require.NoError(t, err)

	alice := scope.NewPrincipal("tenant-a")
	bob := scope.NewPrincipal("tenant-b")
	a1, err := docs.Put(ctx, alice, "tenant-a", "Our refund policy covers returns", []float32{1, 0, 0, 0})
	require.NoError(t, err)
	a2, err := docs.Put(ctx, alice, "tenant-a", "Shipping takes five days", []float32{0.9, 0.1, 0, 0})
	require.NoError(t, err)
	b1, err := docs.Put(ctx, bob, "tenant-b", "Refund policy for tenant b", []float32{1, 0, 0, 0})
	require.NoError(t, err)

	resp, err := docs.Search(ctx, alice, search.Request{Vector: []float32{1, 0, 0, 0}, K: 5})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, a1.Id, resp.Results[0].Id)
	assert.Equal(t, a2.Id, resp.Results[1].Id)

	resp, err = docs.Search(ctx, bob, search.Request{Text: "refund policy", K: 5})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, b1.Id, resp.Results[0].Id)

	t.Run("exact search honours scopes", func(t *testing.T) {
		exact, err := docs.SearchExact(ctx, alice, []float32{1, 0, 0, 0}, 5)
		require.NoError(t, err)
		require.Len(t, exact, 2)
		assert.Equal(t, a1.Id, exact[0].Id)

		all, err := docs.SearchExact(ctx, scope.Unrestricted(), []float32{1, 0, 0, 0}, 5)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

func TestCollection_SwitchVariantSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db")
	all := scope.Unrestricted()

	db, err := NewDatabase(path)
	require.NoError(t, err)
	config := core.NewCollection("docs", 4)
	config.Cluster = core.ClusterParams{Lists: 2, Probes: 2, MinTrainingSize: 10}
	docs, err := db.CreateCollection(ctx, config)
	require.NoError(t, err)

	vectors := [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
	for i, v := range vectors {
		_, err := docs.Put(ctx, all, "tenant-a", "document "+string(rune('a'+i)), v)
		require.NoError(t, err)
	}

	require.NoError(t, docs.SwitchVariant(ctx, core.VariantCluster))
	assert.Equal(t, core.VariantCluster, docs.Stats().Variant)
	require.NoError(t, db.Close())

	db, err = NewDatabase(path)
	require.NoError(t, err)
	defer db.Close()

	docs, err = db.Collection(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, core.VariantCluster, docs.Config().Variant)
	stats := docs.Stats()
	assert.Equal(t, 4, stats.Count)

	resp, err := docs.Search(ctx, all, search.Request{Vector: []float32{0, 0, 1, 0}, K: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "document c", resp.Results[0].Content)
}
