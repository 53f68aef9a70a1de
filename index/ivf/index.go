// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ivf implements the cluster variant of the ANN index: an inverted
// file of posting lists, one per trained centroid.
//
// Until the first training pass every vector lands in an overflow bucket that
// queries scan exhaustively. Training never mutates an index in place; it
// produces centroids that the caller uses to build a fresh index and swap it in.
package ivf

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/index"
	"github.com/poiesic/lodestone/vector"
	"golang.org/x/sync/errgroup"
)

const (
	overflowList  = -1
	ctxCheckEvery = 256
)

// Config configures an Index.
type Config struct {
	Dimension       int
	Metric          core.Metric
	Lists           int
	Probes          int
	MinTrainingSize int
	MaxIterations   int
	Seed            uint64
}

// ConfigFor derives the cluster configuration of a collection.
func ConfigFor(c *core.Collection) Config {
	return Config{
		Dimension:       c.Dimension,
		Metric:          c.Metric,
		Lists:           c.Cluster.Lists,
		Probes:          c.Cluster.Probes,
		MinTrainingSize: c.Cluster.MinTrainingSize,
		Seed:            core.HashContent(c.Name),
	}
}

// postingList holds the vectors assigned to one centroid.
// Appends reuse spare capacity past every reader's view; removals reallocate,
// so a reader may scan a header it copied under the read lock without holding it.
type postingList struct {
	mu      sync.RWMutex
	ids     []core.ID
	vectors [][]float32
}

func (p *postingList) add(id core.ID, v []float32) {
	p.mu.Lock()
	p.ids = append(p.ids, id)
	p.vectors = append(p.vectors, v)
	p.mu.Unlock()
}

func (p *postingList) remove(id core.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.ids {
		if existing != id {
			continue
		}
		ids := make([]core.ID, 0, len(p.ids)-1)
		ids = append(ids, p.ids[:i]...)
		p.ids = append(ids, p.ids[i+1:]...)
		vectors := make([][]float32, 0, len(p.vectors)-1)
		vectors = append(vectors, p.vectors[:i]...)
		p.vectors = append(vectors, p.vectors[i+1:]...)
		return true
	}
	return false
}

func (p *postingList) view() ([]core.ID, [][]float32) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ids, p.vectors
}

func (p *postingList) len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.ids)
}

// Index is the IVF index.
type Index struct {
	cfg  Config
	dist vector.DistanceFunc

	centroids   [][]float32 // nil until trained, never modified afterwards
	lists       []*postingList
	overflow    *postingList
	trainedSize int

	mu       sync.RWMutex // guards location
	location map[core.ID]int

	live atomic.Int64
}

var _ index.Index = (*Index)(nil)

func validateConfig(cfg Config) (Config, error) {
	if cfg.Dimension < 1 {
		return cfg, fmt.Errorf("%w: dimension must be positive", core.ErrInvalidCollection)
	}
	if cfg.Lists < 1 {
		return cfg, fmt.Errorf("%w: lists must be positive", core.ErrInvalidCollection)
	}
	if cfg.Probes < 1 {
		cfg.Probes = 1
	}
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = defaultMaxIterations
	}
	return cfg, nil
}

// New creates an untrained index. Every insert goes to the overflow bucket until
// a trained replacement is built with NewTrained.
func New(cfg Config) (*Index, error) {
	cfg, err := validateConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Index{
		cfg:      cfg,
		dist:     vector.Distance(cfg.Metric),
		overflow: &postingList{},
		location: make(map[core.ID]int),
	}, nil
}

// NewTrained creates an empty index partitioned by centroids.
// trainedSize records the population the centroids were fitted on.
func NewTrained(cfg Config, centroids [][]float32, trainedSize int) (*Index, error) {
	if len(centroids) == 0 {
		return nil, fmt.Errorf("%w: no centroids", core.ErrUntrainedIndex)
	}
	x, err := New(cfg)
	if err != nil {
		return nil, err
	}
	for i, c := range centroids {
		if len(c) != cfg.Dimension {
			return nil, fmt.Errorf("%w: centroid %d has %d components", core.ErrDimensionMismatch, i, len(c))
		}
	}
	x.centroids = centroids
	x.lists = make([]*postingList, len(centroids))
	for i := range x.lists {
		x.lists[i] = &postingList{}
	}
	x.trainedSize = trainedSize
	return x, nil
}

// Variant identifies the structure.
func (x *Index) Variant() core.Variant {
	return core.VariantCluster
}

// Trained reports whether centroids partition the index.
func (x *Index) Trained() bool {
	return x.centroids != nil
}

// TrainedSize returns the population the centroids were fitted on, 0 when untrained.
func (x *Index) TrainedSize() int {
	return x.trainedSize
}

// Centroids returns the number of posting lists.
func (x *Index) Centroids() int {
	return len(x.centroids)
}

// OverflowLen returns the number of vectors waiting in the untrained bucket.
func (x *Index) OverflowLen() int {
	return x.overflow.len()
}

// Config returns the index configuration.
func (x *Index) Config() Config {
	return x.cfg
}

// Len returns the number of live vectors.
func (x *Index) Len() int {
	return int(x.live.Load())
}

func (x *Index) list(n int) *postingList {
	if n == overflowList {
		return x.overflow
	}
	return x.lists[n]
}

// nearestCentroid returns the list a prepared vector belongs to.
func (x *Index) nearestCentroid(v []float32) int {
	if x.centroids == nil {
		return overflowList
	}
	best, bestDist := 0, x.dist(v, x.centroids[0])
	for i := 1; i < len(x.centroids); i++ {
		if d := x.dist(v, x.centroids[i]); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// Insert assigns the vector to its nearest centroid, or to the overflow bucket when untrained.
func (x *Index) Insert(id core.ID, vec []float32) error {
	if len(vec) != x.cfg.Dimension {
		return fmt.Errorf("%w: expected %d, got %d", core.ErrDimensionMismatch, x.cfg.Dimension, len(vec))
	}
	v := vector.Prepare(x.cfg.Metric, vec)
	target := x.nearestCentroid(v)

	x.mu.Lock()
	if _, exists := x.location[id]; exists {
		x.mu.Unlock()
		return fmt.Errorf("%w: %d", index.ErrDuplicateID, id)
	}
	x.location[id] = target
	x.mu.Unlock()

	x.list(target).add(id, v)
	x.live.Add(1)
	return nil
}

// Delete removes id from its posting list.
func (x *Index) Delete(id core.ID) bool {
	x.mu.Lock()
	target, ok := x.location[id]
	if ok {
		delete(x.location, id)
	}
	x.mu.Unlock()
	if !ok {
		return false
	}

	if x.list(target).remove(id) {
		x.live.Add(-1)
	}
	return true
}

// Search scans the probe lists nearest the query, or the overflow bucket when untrained.
func (x *Index) Search(ctx context.Context, query []float32, k int, params index.SearchParams, filter index.Filter) (index.Result, error) {
	if len(query) != x.cfg.Dimension {
		return index.Result{}, fmt.Errorf("%w: expected %d, got %d", core.ErrDimensionMismatch, x.cfg.Dimension, len(query))
	}
	if k <= 0 {
		return index.Result{Untrained: !x.Trained()}, nil
	}
	q := vector.Prepare(x.cfg.Metric, query)

	targets := x.probeLists(q, params.Probes)
	if x.overflow.len() > 0 {
		targets = append(targets, x.overflow)
	}

	var (
		mu      sync.Mutex
		top     = index.NewTopK(k)
		partial atomic.Bool
		visited atomic.Int64
	)

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, p := range targets {
		g.Go(func() error {
			if ctx.Err() != nil {
				partial.Store(true)
				return nil
			}
			local := index.NewTopK(k)
			scanned, cut := x.scan(ctx, p, q, filter, local)
			visited.Add(int64(scanned))
			if cut {
				partial.Store(true)
			}

			mu.Lock()
			for _, n := range local.Sorted() {
				top.Push(n)
			}
			mu.Unlock()
			return nil
		})
	}
	// Scans never fail; Wait only joins them.
	_ = g.Wait()

	return index.Result{
		Neighbors: top.Sorted(),
		Partial:   partial.Load(),
		Untrained: !x.Trained(),
		Visited:   int(visited.Load()),
	}, nil
}

func (x *Index) probeLists(q []float32, probes int) []*postingList {
	if x.centroids == nil {
		return nil
	}
	if probes <= 0 {
		probes = x.cfg.Probes
	}
	probes = min(probes, len(x.centroids))

	nearest := index.NewTopK(probes)
	for i, c := range x.centroids {
		nearest.Push(index.Neighbor{Id: core.ID(i), Distance: x.dist(q, c)})
	}
	out := make([]*postingList, 0, probes+1)
	for _, n := range nearest.Sorted() {
		out = append(out, x.lists[n.Id])
	}
	return out
}

// scan compares q against every admitted vector in p.
// Returns how many vectors were compared and whether ctx cut the scan short.
func (x *Index) scan(ctx context.Context, p *postingList, q []float32, filter index.Filter, top *index.TopK) (int, bool) {
	ids, vectors := p.view()
	compared := 0
	for i, id := range ids {
		if i%ctxCheckEvery == 0 && i > 0 && ctx.Err() != nil {
			return compared, true
		}
		if !filter.Allows(id) {
			continue
		}
		top.Push(index.Neighbor{Id: id, Distance: x.dist(q, vectors[i])})
		compared++
	}
	return compared, false
}

// Each calls fn for every live vector, list by list, until fn returns false.
func (x *Index) Each(fn func(id core.ID, vector []float32) bool) {
	all := append([]*postingList{x.overflow}, x.lists...)
	for _, p := range all {
		ids, vectors := p.view()
		for i, id := range ids {
			if !fn(id, vectors[i]) {
				return
			}
		}
	}
}
