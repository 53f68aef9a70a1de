package hnsw

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/index"
	"github.com/poiesic/lodestone/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(dim int, metric core.Metric) Config {
	return Config{
		Dimension:      dim,
		Metric:         metric,
		M:              16,
		EfConstruction: 200,
		EfSearch:       64,
		Seed:           7,
	}
}

func randomVectors(rng *rand.Rand, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		out[i] = v
	}
	return out
}

// bruteForce returns the ids of the k true nearest neighbors. Vector i has id i+1.
func bruteForce(metric core.Metric, data [][]float32, q []float32, k int, keep func(core.ID) bool) []core.ID {
	dist := vector.Distance(metric)
	pq := vector.Prepare(metric, q)
	ns := make([]index.Neighbor, 0, len(data))
	for i, v := range data {
		id := core.ID(i + 1)
		if keep != nil && !keep(id) {
			continue
		}
		ns = append(ns, index.Neighbor{Id: id, Distance: dist(pq, vector.Prepare(metric, v))})
	}
	index.SortNeighbors(ns)
	if len(ns) > k {
		ns = ns[:k]
	}
	ids := make([]core.ID, len(ns))
	for i, n := range ns {
		ids[i] = n.Id
	}
	return ids
}

func recall(got []index.Neighbor, want []core.ID) float64 {
	if len(want) == 0 {
		return 1
	}
	truth := make(map[core.ID]bool, len(want))
	for _, id := range want {
		truth[id] = true
	}
	hits := 0
	for _, n := range got {
		if truth[n.Id] {
			hits++
		}
	}
	return float64(hits) / float64(len(want))
}

func buildGraph(t *testing.T, cfg Config, data [][]float32) *Graph {
	t.Helper()
	g, err := New(cfg)
	require.NoError(t, err)
	for i, v := range data {
		require.NoError(t, g.Insert(core.ID(i+1), v))
	}
	return g
}

func TestNew(t *testing.T) {
	t.Run("rejects zero dimension", func(t *testing.T) {
		_, err := New(Config{M: 16})
		assert.ErrorIs(t, err, core.ErrInvalidCollection)
	})

	t.Run("rejects small M", func(t *testing.T) {
		_, err := New(Config{Dimension: 4, M: 1})
		assert.ErrorIs(t, err, core.ErrInvalidCollection)
	})

	t.Run("empty graph searches cleanly", func(t *testing.T) {
		g, err := New(testConfig(4, core.MetricCosine))
		require.NoError(t, err)
		res, err := g.Search(context.Background(), []float32{1, 0, 0, 0}, 5, index.SearchParams{}, nil)
		require.NoError(t, err)
		assert.Empty(t, res.Neighbors)
		assert.Equal(t, 0, g.Len())
		assert.Equal(t, core.VariantGraph, g.Variant())
	})
}

func TestInsert(t *testing.T) {
	g, err := New(testConfig(4, core.MetricCosine))
	require.NoError(t, err)

	t.Run("dimension mismatch", func(t *testing.T) {
		err := g.Insert(1, []float32{1, 0, 0})
		assert.ErrorIs(t, err, core.ErrDimensionMismatch)
		assert.Equal(t, 0, g.Len())
	})

	t.Run("duplicate id", func(t *testing.T) {
		require.NoError(t, g.Insert(1, []float32{1, 0, 0, 0}))
		err := g.Insert(1, []float32{0, 1, 0, 0})
		assert.ErrorIs(t, err, index.ErrDuplicateID)
		assert.Equal(t, 1, g.Len())
	})

	t.Run("query dimension mismatch", func(t *testing.T) {
		_, err := g.Search(context.Background(), []float32{1}, 1, index.SearchParams{}, nil)
		assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	})
}

func TestSearch_CosineOrdering(t *testing.T) {
	g := buildGraph(t, testConfig(4, core.MetricCosine), [][]float32{
		{1, 0, 0, 0},
		{0.9, 0.1, 0, 0},
		{0, 0, 0, 1},
	})

	res, err := g.Search(context.Background(), []float32{1, 0, 0, 0}, 2, index.SearchParams{}, nil)
	require.NoError(t, err)
	require.Len(t, res.Neighbors, 2)
	assert.Equal(t, core.ID(1), res.Neighbors[0].Id)
	assert.Equal(t, core.ID(2), res.Neighbors[1].Id)
	assert.InDelta(t, 0, res.Neighbors[0].Distance, 1e-6)
	assert.InDelta(t, 0.0061, res.Neighbors[1].Distance, 1e-3)
	assert.False(t, res.Partial)
}

func TestSearch_Recall(t *testing.T) {
	const (
		n       = 2000
		dim     = 12
		queries = 100
		k       = 10
	)

	for _, metric := range []core.Metric{core.MetricEuclidean, core.MetricCosine} {
		t.Run(metric.String(), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(1, 2))
			data := randomVectors(rng, n, dim)
			g := buildGraph(t, testConfig(dim, metric), data)
			require.Equal(t, n, g.Len())

			var total float64
			for _, q := range randomVectors(rng, queries, dim) {
				res, err := g.Search(context.Background(), q, k, index.SearchParams{EfSearch: 40}, nil)
				require.NoError(t, err)
				total += recall(res.Neighbors, bruteForce(metric, data, q, k, nil))
			}
			assert.GreaterOrEqual(t, total/queries, 0.95)
		})
	}
}

func TestSearch_EfMonotonic(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	data := randomVectors(rng, 1500, 16)
	cfg := testConfig(16, core.MetricEuclidean)
	cfg.M = 8
	cfg.EfConstruction = 40
	g := buildGraph(t, cfg, data)
	qs := randomVectors(rng, 50, 16)

	measure := func(ef int) float64 {
		var total float64
		for _, q := range qs {
			res, err := g.Search(context.Background(), q, 10, index.SearchParams{EfSearch: ef}, nil)
			require.NoError(t, err)
			total += recall(res.Neighbors, bruteForce(core.MetricEuclidean, data, q, 10, nil))
		}
		return total / float64(len(qs))
	}

	low, high := measure(10), measure(200)
	assert.GreaterOrEqual(t, high, low)
}

func TestSearch_Filter(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	data := randomVectors(rng, 1000, 8)
	g := buildGraph(t, testConfig(8, core.MetricEuclidean), data)

	// Only every tenth id is visible: the beam must keep walking past rejected nodes.
	keep := func(id core.ID) bool { return id%10 == 0 }

	for _, q := range randomVectors(rng, 20, 8) {
		res, err := g.Search(context.Background(), q, 10, index.SearchParams{}, keep)
		require.NoError(t, err)
		require.Len(t, res.Neighbors, 10)
		for _, nb := range res.Neighbors {
			assert.True(t, keep(nb.Id), "filtered id %d returned", nb.Id)
		}
		assert.GreaterOrEqual(t, recall(res.Neighbors, bruteForce(core.MetricEuclidean, data, q, 10, keep)), 0.8)
	}

	t.Run("filter admitting nothing under-fills", func(t *testing.T) {
		res, err := g.Search(context.Background(), data[0], 10, index.SearchParams{}, func(core.ID) bool { return false })
		require.NoError(t, err)
		assert.Empty(t, res.Neighbors)
	})
}

func TestDelete(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	data := randomVectors(rng, 300, 8)
	g := buildGraph(t, testConfig(8, core.MetricEuclidean), data)

	for id := core.ID(1); id <= 150; id++ {
		assert.True(t, g.Delete(id))
	}
	assert.False(t, g.Delete(1), "second delete reports absence")
	assert.False(t, g.Delete(9999))

	assert.Equal(t, 150, g.Len())
	assert.Equal(t, 150, g.Tombstones())
	assert.InDelta(t, 0.5, g.TombstoneRatio(), 1e-9)

	for i := 0; i < 150; i++ {
		res, err := g.Search(context.Background(), data[i], 10, index.SearchParams{}, nil)
		require.NoError(t, err)
		require.Len(t, res.Neighbors, 10)
		for _, nb := range res.Neighbors {
			assert.Greater(t, nb.Id, core.ID(150))
		}
	}

	seen := 0
	g.Each(func(id core.ID, _ []float32) bool {
		assert.Greater(t, id, core.ID(150))
		seen++
		return true
	})
	assert.Equal(t, 150, seen)
}

func TestSearch_ExpiredContext(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 10))
	data := randomVectors(rng, 500, 8)
	g := buildGraph(t, testConfig(8, core.MetricEuclidean), data)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	res, err := g.Search(ctx, data[0], 10, index.SearchParams{}, nil)
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.LessOrEqual(t, len(res.Neighbors), 10)
}

func TestConcurrentInsertAndSearch(t *testing.T) {
	const (
		writers   = 8
		perWriter = 200
		dim       = 8
	)
	rng := rand.New(rand.NewPCG(11, 12))
	data := randomVectors(rng, writers*perWriter, dim)
	g, err := New(testConfig(dim, core.MetricCosine))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w * perWriter; i < (w+1)*perWriter; i++ {
				assert.NoError(t, g.Insert(core.ID(i+1), data[i]))
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, err := g.Search(context.Background(), data[(r*37+i)%len(data)], 5, index.SearchParams{}, nil)
				assert.NoError(t, err)
			}
		}(r)
	}
	wg.Wait()

	require.Equal(t, writers*perWriter, g.Len())

	var total float64
	for i := 0; i < 50; i++ {
		q := data[i*31%len(data)]
		res, err := g.Search(context.Background(), q, 10, index.SearchParams{}, nil)
		require.NoError(t, err)
		total += recall(res.Neighbors, bruteForce(core.MetricCosine, data, q, 10, nil))
	}
	assert.GreaterOrEqual(t, total/50, 0.95)
}

func TestSnapshotRestore(t *testing.T) {
	rng := rand.New(rand.NewPCG(13, 14))
	data := randomVectors(rng, 400, 8)
	g := buildGraph(t, testConfig(8, core.MetricEuclidean), data)
	g.Delete(3)
	g.Delete(4)

	blob, err := g.Snapshot()
	require.NoError(t, err)

	restored, err := Restore(blob)
	require.NoError(t, err)
	assert.Equal(t, g.Len(), restored.Len())
	assert.Equal(t, 2, restored.Tombstones())

	for _, q := range randomVectors(rng, 10, 8) {
		want, err := g.Search(context.Background(), q, 10, index.SearchParams{}, nil)
		require.NoError(t, err)
		got, err := restored.Search(context.Background(), q, 10, index.SearchParams{}, nil)
		require.NoError(t, err)
		assert.Equal(t, want.Neighbors, got.Neighbors)
	}

	t.Run("restored graph accepts inserts", func(t *testing.T) {
		require.NoError(t, restored.Insert(10_000, data[0]))
		assert.ErrorIs(t, restored.Insert(10, data[1]), index.ErrDuplicateID)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := Restore([]byte("not a snapshot"))
		assert.Error(t, err)
	})
}

func TestRandomLevelDistribution(t *testing.T) {
	g, err := New(testConfig(4, core.MetricCosine))
	require.NoError(t, err)

	levels := make([]int, 20000)
	for i := range levels {
		levels[i] = g.randomLevel()
	}
	sort.Ints(levels)

	zero := sort.SearchInts(levels, 1)
	// With M=16 roughly 1-1/16 of nodes stay on layer 0.
	assert.InDelta(t, 15.0/16.0, float64(zero)/float64(len(levels)), 0.02)
	assert.LessOrEqual(t, levels[len(levels)-1], maxLevel)
}
