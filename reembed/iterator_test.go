package reembed

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *badger.MemoryRepositories {
	t.Helper()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })
	return repos
}

func addRecords(t *testing.T, repos *badger.MemoryRepositories, collection string, contents ...string) []*core.Record {
	t.Helper()
	out := make([]*core.Record, len(contents))
	for i, content := range contents {
		r, err := repos.Records.AddRecord(context.Background(), collection, &core.Record{
			Scope:       "tenant-a",
			Content:     content,
			Vector:      []float32{1, 0, 0},
			ContentHash: core.HashContent(content),
		})
		require.NoError(t, err)
		out[i] = r
	}
	return out
}

func numbered(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("test %d", i)
	}
	return out
}

func TestRecordIterator_BatchSizes(t *testing.T) {
	repos := setupTestDB(t)
	addRecords(t, repos, "docs", numbered(10)...)
	addRecords(t, repos, "other", "elsewhere")

	tests := []struct {
		batchSize int
		batches   []int
	}{
		{1, []int{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}},
		{3, []int{3, 3, 3, 1}},
		{5, []int{5, 5}},
		{100, []int{10}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("batch_%d", tt.batchSize), func(t *testing.T) {
			it := NewRecordIterator(repos.Records, "docs", tt.batchSize)
			var sizes []int
			var last core.ID
			err := it.ForEach(context.Background(), func(batch []*core.Record) error {
				sizes = append(sizes, len(batch))
				for _, r := range batch {
					assert.Greater(t, r.Id, last, "records arrive in ID order")
					last = r.Id
				}
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, tt.batches, sizes)
		})
	}
}

func TestRecordIterator_EmptyCollection(t *testing.T) {
	repos := setupTestDB(t)
	calls := 0
	err := NewRecordIterator(repos.Records, "docs", 10).ForEach(context.Background(), func([]*core.Record) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestRecordIterator_ErrorHandling(t *testing.T) {
	repos := setupTestDB(t)
	addRecords(t, repos, "docs", numbered(6)...)

	boom := errors.New("stop")
	calls := 0
	err := NewRecordIterator(repos.Records, "docs", 2).ForEach(context.Background(), func([]*core.Record) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestRecordIterator_ContextCancellation(t *testing.T) {
	repos := setupTestDB(t)
	addRecords(t, repos, "docs", numbered(6)...)

	t.Run("cancelled before start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := NewRecordIterator(repos.Records, "docs", 2).ForEach(ctx, func([]*core.Record) error {
			t.Fatal("should not be called")
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("cancelled between batches", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		calls := 0
		err := NewRecordIterator(repos.Records, "docs", 2).ForEach(ctx, func([]*core.Record) error {
			calls++
			cancel()
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestRecordIterator_InvalidBatchSize(t *testing.T) {
	repos := setupTestDB(t)
	assert.Equal(t, DefaultBatchSize, NewRecordIterator(repos.Records, "docs", 0).batchSize)
	assert.Equal(t, DefaultBatchSize, NewRecordIterator(repos.Records, "docs", -5).batchSize)
}
