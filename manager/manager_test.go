package manager

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/index"
	"github.com/poiesic/lodestone/scope"
	"github.com/poiesic/lodestone/storage"
	"github.com/poiesic/lodestone/storage/badger"
	"github.com/poiesic/lodestone/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 8

func newRepos(t *testing.T) *badger.MemoryRepositories {
	t.Helper()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })
	return repos
}

func testCollection(variant core.Variant) *core.Collection {
	c := core.NewCollection("docs", testDim)
	c.Metric = core.MetricEuclidean
	c.Variant = variant
	c.Cluster = core.ClusterParams{Lists: 4, Probes: 4, MinTrainingSize: 50}
	return c
}

func newManager(t *testing.T, repos *badger.MemoryRepositories, c *core.Collection, opts ...Option) *Manager {
	t.Helper()
	require.NoError(t, repos.Collections.CreateCollection(context.Background(), c))
	opts = append([]Option{WithSnapshotRepository(repos.Snapshots)}, opts...)
	m, err := New(c, repos.Records, opts...)
	require.NoError(t, err)
	require.NoError(t, m.Open(context.Background()))
	t.Cleanup(func() { m.Close() })
	return m
}

func randomVector(rng *rand.Rand) []float32 {
	v := make([]float32, testDim)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}

func insertN(t *testing.T, m *Manager, rng *rand.Rand, n int, scopeID core.ScopeID) []*core.Record {
	t.Helper()
	out := make([]*core.Record, n)
	for i := range out {
		r, err := m.Insert(context.Background(), &core.Record{
			Scope:   scopeID,
			Content: fmt.Sprintf("document %d about refund policy number%d", i, i),
			Vector:  randomVector(rng),
		})
		require.NoError(t, err)
		out[i] = r
	}
	return out
}

// measureRecall compares ANN results with an exact scan of records.
func measureRecall(t *testing.T, m *Manager, records []*core.Record, queries [][]float32) float64 {
	t.Helper()
	view := m.View()
	dist := vector.Distance(view.Collection.Metric)
	var total float64
	for _, q := range queries {
		top := index.NewTopK(10)
		for _, r := range records {
			top.Push(index.Neighbor{Id: r.Id, Distance: dist(q, r.Vector)})
		}
		truth := make(map[core.ID]bool)
		for _, n := range top.Sorted() {
			truth[n.Id] = true
		}
		res, err := view.ANN.Search(context.Background(), q, 10, index.SearchParams{}, nil)
		require.NoError(t, err)
		hits := 0
		for _, n := range res.Neighbors {
			if truth[n.Id] {
				hits++
			}
		}
		total += float64(hits) / float64(len(truth))
	}
	return total / float64(len(queries))
}

func TestNew_Validation(t *testing.T) {
	repos := newRepos(t)

	_, err := New(nil, repos.Records)
	assert.ErrorIs(t, err, ErrCollectionRequired)

	_, err = New(testCollection(core.VariantGraph), nil)
	assert.ErrorIs(t, err, ErrRecordRepositoryRequired)

	bad := testCollection(core.VariantGraph)
	bad.Dimension = 0
	_, err = New(bad, repos.Records)
	assert.ErrorIs(t, err, core.ErrInvalidCollection)

	_, err = New(testCollection(core.VariantGraph), repos.Records, WithRetrainGrowth(0.5))
	assert.Error(t, err)
}

func TestInsertDelete(t *testing.T) {
	ctx := context.Background()
	repos := newRepos(t)
	m := newManager(t, repos, testCollection(core.VariantGraph))
	rng := rand.New(rand.NewPCG(1, 1))

	rec, err := m.Insert(ctx, &core.Record{Scope: "tenant-a", Content: "Our refund policy", Vector: randomVector(rng)})
	require.NoError(t, err)
	assert.NotZero(t, rec.Id)
	assert.Equal(t, []string{"our", "refund", "polici"}, rec.Tokens)
	assert.Equal(t, core.HashContent("Our refund policy"), rec.ContentHash)

	view := m.View()
	assert.Equal(t, 1, view.ANN.Len())
	assert.Equal(t, 1, view.Keyword.Len())
	assert.True(t, view.Scopes.Contains("tenant-a", rec.Id))

	t.Run("dimension mismatch is never stored", func(t *testing.T) {
		_, err := m.Insert(ctx, &core.Record{Scope: "tenant-a", Content: "short", Vector: []float32{1, 2}})
		assert.ErrorIs(t, err, core.ErrDimensionMismatch)
		count, err := repos.Records.Count(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.Equal(t, 1, m.View().ANN.Len())
	})

	t.Run("empty scope", func(t *testing.T) {
		_, err := m.Insert(ctx, &core.Record{Content: "x", Vector: randomVector(rng)})
		assert.ErrorIs(t, err, core.ErrEmptyScope)
	})

	t.Run("delete clears every index", func(t *testing.T) {
		removed, err := m.Delete(ctx, rec.Id)
		require.NoError(t, err)
		assert.Equal(t, rec.Id, removed.Id)

		view := m.View()
		assert.Equal(t, 0, view.ANN.Len())
		assert.Equal(t, 0, view.Keyword.Len())
		assert.False(t, view.Scopes.Contains("tenant-a", rec.Id))

		_, err = m.Delete(ctx, rec.Id)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestInsert_RollsBackOnIndexFailure(t *testing.T) {
	ctx := context.Background()
	repos := newRepos(t)
	m := newManager(t, repos, testCollection(core.VariantGraph))
	rng := rand.New(rand.NewPCG(2, 2))

	// Occupy the ID the store hands out next so the ANN insert collides.
	require.NoError(t, m.OnInsert(&core.Record{Id: 1, Scope: "tenant-a", Vector: randomVector(rng)}))

	_, err := m.Insert(ctx, &core.Record{Scope: "tenant-a", Content: "doomed", Vector: randomVector(rng)})
	assert.ErrorIs(t, err, index.ErrDuplicateID)

	count, err := repos.Records.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 1, m.View().ANN.Len(), "only the pre-existing entry remains")
	assert.Equal(t, 1, m.View().Keyword.Len())
}

func TestTrain(t *testing.T) {
	ctx := context.Background()

	t.Run("graph collections do not train", func(t *testing.T) {
		m := newManager(t, newRepos(t), testCollection(core.VariantGraph))
		assert.ErrorIs(t, m.Train(ctx), core.ErrTrainingNotSupported)
		assert.ErrorIs(t, m.TrainWith(ctx, nil), core.ErrTrainingNotSupported)
	})

	t.Run("insufficient data leaves index untouched", func(t *testing.T) {
		m := newManager(t, newRepos(t), testCollection(core.VariantCluster), WithAutoMaintenance(false))
		insertN(t, m, rand.New(rand.NewPCG(3, 3)), 20, "tenant-a")
		before := m.Stats()

		assert.ErrorIs(t, m.Train(ctx), core.ErrInsufficientTrainingData)

		after := m.Stats()
		assert.Equal(t, before.Generation, after.Generation)
		assert.False(t, after.Trained)
		assert.Equal(t, 20, after.Overflow)
	})

	t.Run("training reassigns every vector", func(t *testing.T) {
		m := newManager(t, newRepos(t), testCollection(core.VariantCluster), WithAutoMaintenance(false))
		rng := rand.New(rand.NewPCG(4, 4))
		records := insertN(t, m, rng, 400, "tenant-a")

		res, err := m.View().ANN.Search(ctx, records[0].Vector, 5, index.SearchParams{}, nil)
		require.NoError(t, err)
		assert.True(t, res.Untrained)

		require.NoError(t, m.Train(ctx))
		stats := m.Stats()
		assert.True(t, stats.Trained)
		assert.Equal(t, 400, stats.Count)
		assert.Equal(t, 0, stats.Overflow)
		assert.Equal(t, 400, stats.TrainedSize)
		assert.Equal(t, 400, stats.KeywordDocs, "keyword index carries over")

		queries := make([][]float32, 30)
		for i := range queries {
			queries[i] = randomVector(rng)
		}
		assert.GreaterOrEqual(t, measureRecall(t, m, records, queries), 0.99, "probing every list is exhaustive")
	})
}

func TestRebuild_Idempotent(t *testing.T) {
	ctx := context.Background()
	for _, variant := range []core.Variant{core.VariantGraph, core.VariantCluster} {
		t.Run(variant.String(), func(t *testing.T) {
			m := newManager(t, newRepos(t), testCollection(variant), WithAutoMaintenance(false))
			rng := rand.New(rand.NewPCG(5, 5))
			records := insertN(t, m, rng, 600, "tenant-a")
			queries := make([][]float32, 40)
			for i := range queries {
				queries[i] = randomVector(rng)
			}

			require.NoError(t, m.Rebuild(ctx))
			first := m.Stats()
			firstRecall := measureRecall(t, m, records, queries)
			firstHits, err := m.View().Keyword.Search(ctx, "refund number7", 10, nil)
			require.NoError(t, err)

			require.NoError(t, m.Rebuild(ctx))
			second := m.Stats()
			secondRecall := measureRecall(t, m, records, queries)
			secondHits, err := m.View().Keyword.Search(ctx, "refund number7", 10, nil)
			require.NoError(t, err)

			assert.Greater(t, second.Generation, first.Generation)
			assert.Equal(t, first.Count, second.Count)
			assert.Equal(t, first.Trained, second.Trained)
			assert.Equal(t, first.KeywordTerms, second.KeywordTerms)
			assert.InDelta(t, firstRecall, secondRecall, 0.05)
			assert.GreaterOrEqual(t, secondRecall, 0.9)
			assert.Equal(t, firstHits.Hits, secondHits.Hits)
		})
	}
}

func TestSwitchVariant(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newRepos(t), testCollection(core.VariantGraph), WithAutoMaintenance(false))
	insertN(t, m, rand.New(rand.NewPCG(6, 6)), 100, "tenant-a")

	c, err := m.SwitchVariant(ctx, core.VariantCluster)
	require.NoError(t, err)
	assert.Equal(t, core.VariantCluster, c.Variant)

	stats := m.Stats()
	assert.Equal(t, core.VariantCluster, stats.Variant)
	assert.Equal(t, 100, stats.Count)
	assert.True(t, stats.Trained, "rebuild trains when the store is large enough")

	assert.NoError(t, m.Train(ctx))

	c, err = m.SwitchVariant(ctx, core.VariantGraph)
	require.NoError(t, err)
	assert.Equal(t, core.VariantGraph, c.Variant)
	assert.Equal(t, 100, m.Stats().Count)
}

func TestAutoMaintenance(t *testing.T) {
	t.Run("untrained cluster index trains itself", func(t *testing.T) {
		m := newManager(t, newRepos(t), testCollection(core.VariantCluster))
		insertN(t, m, rand.New(rand.NewPCG(7, 7)), 60, "tenant-a")
		m.WaitMaintenance()

		stats := m.Stats()
		assert.True(t, stats.Trained)
		assert.Equal(t, 60, stats.Count)
	})

	t.Run("graph with mostly tombstones is rebuilt", func(t *testing.T) {
		ctx := context.Background()
		m := newManager(t, newRepos(t), testCollection(core.VariantGraph))
		records := insertN(t, m, rand.New(rand.NewPCG(8, 8)), 200, "tenant-a")
		for _, r := range records[:150] {
			_, err := m.Delete(ctx, r.Id)
			require.NoError(t, err)
		}
		m.WaitMaintenance()

		stats := m.Stats()
		assert.Equal(t, 50, stats.Count)
		assert.Less(t, stats.Tombstones, minTombstonesForRebuild)
	})
}

func TestPersistLoad(t *testing.T) {
	ctx := context.Background()
	repos := newRepos(t)
	c := testCollection(core.VariantGraph)
	m := newManager(t, repos, c, WithAutoMaintenance(false))
	rng := rand.New(rand.NewPCG(9, 9))
	insertN(t, m, rng, 150, "tenant-a")
	insertN(t, m, rng, 50, "tenant-b")

	require.NoError(t, m.Persist(ctx))

	reopen := func() *Manager {
		m2, err := New(c, repos.Records, WithSnapshotRepository(repos.Snapshots), WithAutoMaintenance(false))
		require.NoError(t, err)
		t.Cleanup(func() { m2.Close() })
		return m2
	}

	t.Run("fresh snapshot loads", func(t *testing.T) {
		m2 := reopen()
		loaded, err := m2.Load(ctx)
		require.NoError(t, err)
		require.True(t, loaded)

		assert.Equal(t, 200, m2.Stats().Count)
		assert.Equal(t, 50, m2.View().Scopes.Count("tenant-b"))

		q := randomVector(rng)
		want, err := m.View().ANN.Search(ctx, q, 10, index.SearchParams{}, nil)
		require.NoError(t, err)
		got, err := m2.View().ANN.Search(ctx, q, 10, index.SearchParams{}, nil)
		require.NoError(t, err)
		assert.Equal(t, want.Neighbors, got.Neighbors)
	})

	t.Run("stale snapshot is rejected", func(t *testing.T) {
		insertN(t, m, rng, 1, "tenant-a")

		m2 := reopen()
		loaded, err := m2.Load(ctx)
		require.NoError(t, err)
		assert.False(t, loaded)

		require.NoError(t, m2.Open(ctx))
		assert.Equal(t, 201, m2.Stats().Count)
	})

	t.Run("disabled without a repository", func(t *testing.T) {
		m3, err := New(c, repos.Records)
		require.NoError(t, err)
		defer m3.Close()
		assert.ErrorIs(t, m3.Persist(ctx), ErrSnapshotsDisabled)
	})
}

func TestConcurrentWritesDuringRebuild(t *testing.T) {
	ctx := context.Background()
	repos := newRepos(t)
	m := newManager(t, repos, testCollection(core.VariantGraph), WithAutoMaintenance(false))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(w), 10))
			for i := 0; i < 50; i++ {
				_, err := m.Insert(ctx, &core.Record{
					Scope:   core.ScopeID(fmt.Sprintf("tenant-%d", w)),
					Content: "concurrent write",
					Vector:  randomVector(rng),
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 3; i++ {
			assert.NoError(t, m.Rebuild(ctx))
		}
	}()
	wg.Wait()

	count, err := repos.Records.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 200, count)
	assert.Equal(t, count, m.Stats().Count)
	assert.Equal(t, count, m.Stats().KeywordDocs)

	filter := m.View().Scopes.Filter(scope.NewPrincipal("tenant-0"))
	res, err := m.View().ANN.Search(ctx, randomVector(rand.New(rand.NewPCG(99, 99))), 100, index.SearchParams{}, filter)
	require.NoError(t, err)
	assert.Len(t, res.Neighbors, 50)
}
