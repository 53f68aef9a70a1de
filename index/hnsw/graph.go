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

// Package hnsw implements the graph variant of the ANN index: a multi-layer
// navigable small world graph.
//
// Nodes live in an append-only arena addressed by stable uint32 slots. The
// arena slice is republished through an atomic pointer on every append, so
// searches read it without locking. Each node guards its own neighbor lists
// with a RW mutex and replaces a list wholesale on every change, which means a
// reader holding a list never sees it modified under it.
//
// Deletes are tombstones: the node keeps routing traffic but is never
// returned. The index manager rebuilds the graph once tombstones dominate.
package hnsw

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"
	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/index"
	"github.com/poiesic/lodestone/vector"
)

const (
	maxLevel      = 16
	ctxCheckEvery = 64
)

// Config configures a Graph.
type Config struct {
	Dimension      int
	Metric         core.Metric
	M              int
	EfConstruction int
	EfSearch       int
	Seed           uint64
}

// ConfigFor derives the graph configuration of a collection.
func ConfigFor(c *core.Collection) Config {
	return Config{
		Dimension:      c.Dimension,
		Metric:         c.Metric,
		M:              c.Graph.M,
		EfConstruction: c.Graph.EfConstruction,
		EfSearch:       c.Graph.EfSearch,
		Seed:           core.HashContent(c.Name),
	}
}

type node struct {
	id      core.ID
	vector  []float32
	level   int
	deleted atomic.Bool

	mu      sync.RWMutex
	friends [][]uint32 // one list per layer, replaced wholesale
}

func (n *node) neighbors(layer int) []uint32 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if layer >= len(n.friends) {
		return nil
	}
	return n.friends[layer]
}

func (n *node) setNeighbors(layer int, slots []uint32) {
	n.mu.Lock()
	n.friends[layer] = slots
	n.mu.Unlock()
}

type entryPoint struct {
	slot  uint32
	level int
}

// candidate is a node under consideration together with its distance to the current target.
type candidate struct {
	slot uint32
	n    *node
	dist float32
}

// Graph is the HNSW index.
type Graph struct {
	cfg   Config
	dist  vector.DistanceFunc
	mmax  int     // max connections on upper layers
	mmax0 int     // max connections on layer 0
	ml    float64 // level generation factor, 1/ln(M)

	nodes atomic.Pointer[[]*node]
	entry atomic.Pointer[entryPoint]

	writeMu sync.Mutex // guards arena appends, lookup and entry promotion
	lookup  map[core.ID]uint32

	live       atomic.Int64
	tombstones atomic.Int64

	rngMu sync.Mutex
	rng   *rand.Rand
}

var _ index.Index = (*Graph)(nil)

// New creates an empty graph.
func New(cfg Config) (*Graph, error) {
	if cfg.Dimension < 1 {
		return nil, fmt.Errorf("%w: dimension must be positive", core.ErrInvalidCollection)
	}
	if cfg.M < 2 {
		return nil, fmt.Errorf("%w: M must be at least 2", core.ErrInvalidCollection)
	}
	if cfg.EfConstruction < cfg.M {
		cfg.EfConstruction = cfg.M
	}
	if cfg.EfSearch < 1 {
		cfg.EfSearch = cfg.M
	}

	g := &Graph{
		cfg:    cfg,
		dist:   vector.Distance(cfg.Metric),
		mmax:   cfg.M,
		mmax0:  cfg.M * 2,
		ml:     1 / math.Log(float64(cfg.M)),
		lookup: make(map[core.ID]uint32),
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x2545f4914f6cdd1d)),
	}
	empty := make([]*node, 0, 64)
	g.nodes.Store(&empty)
	return g, nil
}

// Variant identifies the structure.
func (g *Graph) Variant() core.Variant {
	return core.VariantGraph
}

// Len returns the number of live vectors.
func (g *Graph) Len() int {
	return int(g.live.Load())
}

// Tombstones returns the number of deleted nodes still held in the graph.
func (g *Graph) Tombstones() int {
	return int(g.tombstones.Load())
}

// TombstoneRatio returns the share of nodes that are deleted.
func (g *Graph) TombstoneRatio() float64 {
	total := g.live.Load() + g.tombstones.Load()
	if total == 0 {
		return 0
	}
	return float64(g.tombstones.Load()) / float64(total)
}

func (g *Graph) arena() []*node {
	return *g.nodes.Load()
}

// at returns the node in slot, refreshing the arena view if the slot was published after it was taken.
func (g *Graph) at(arena *[]*node, slot uint32) *node {
	if int(slot) >= len(*arena) {
		*arena = g.arena()
	}
	return (*arena)[slot]
}

func (g *Graph) randomLevel() int {
	g.rngMu.Lock()
	r := g.rng.Float64()
	g.rngMu.Unlock()

	level := int(math.Floor(-math.Log(1-r) * g.ml))
	return min(level, maxLevel)
}

func (g *Graph) maxConnections(layer int) int {
	if layer == 0 {
		return g.mmax0
	}
	return g.mmax
}

// Insert adds a vector to the graph and links it to its nearest neighbors on every layer it occupies.
func (g *Graph) Insert(id core.ID, vec []float32) error {
	if len(vec) != g.cfg.Dimension {
		return fmt.Errorf("%w: expected %d, got %d", core.ErrDimensionMismatch, g.cfg.Dimension, len(vec))
	}

	n := &node{
		id:     id,
		vector: vector.Prepare(g.cfg.Metric, vec),
		level:  g.randomLevel(),
	}
	n.friends = make([][]uint32, n.level+1)

	g.writeMu.Lock()
	if _, exists := g.lookup[id]; exists {
		g.writeMu.Unlock()
		return fmt.Errorf("%w: %d", index.ErrDuplicateID, id)
	}
	arena := append(g.arena(), n)
	slot := uint32(len(arena) - 1)
	g.nodes.Store(&arena)
	g.lookup[id] = slot
	ep := g.entry.Load()
	if ep == nil {
		g.entry.Store(&entryPoint{slot: slot, level: n.level})
		g.writeMu.Unlock()
		g.live.Add(1)
		return nil
	}
	g.writeMu.Unlock()

	g.connect(slot, n, ep)

	if n.level > ep.level {
		g.writeMu.Lock()
		if current := g.entry.Load(); n.level > current.level {
			g.entry.Store(&entryPoint{slot: slot, level: n.level})
		}
		g.writeMu.Unlock()
	}
	g.live.Add(1)
	return nil
}

func (g *Graph) connect(slot uint32, n *node, ep *entryPoint) {
	arena := g.arena()
	entryNode := g.at(&arena, ep.slot)
	cur := candidate{slot: ep.slot, n: entryNode, dist: g.dist(n.vector, entryNode.vector)}

	for layer := ep.level; layer > n.level; layer-- {
		cur = g.greedy(&arena, n.vector, cur, layer)
	}

	entries := []candidate{cur}
	for layer := min(n.level, ep.level); layer >= 0; layer-- {
		found, _, _ := g.searchLayer(nil, &arena, n.vector, entries, g.cfg.EfConstruction, layer, func(c *node) bool {
			return c != n
		})
		selected := g.selectNeighbors(found, g.maxConnections(layer))

		slots := make([]uint32, len(selected))
		for i, c := range selected {
			slots[i] = c.slot
		}
		n.setNeighbors(layer, slots)

		for _, c := range selected {
			g.link(&arena, c, slot, n, layer)
		}
		if len(found) > 0 {
			entries = found
		}
	}
}

// link adds newSlot to the neighbor list of c on layer, pruning the list if it overflows.
func (g *Graph) link(arena *[]*node, c candidate, newSlot uint32, newNode *node, layer int) {
	target := c.n
	target.mu.Lock()
	defer target.mu.Unlock()

	if layer >= len(target.friends) {
		return
	}
	current := target.friends[layer]
	next := make([]uint32, len(current), len(current)+1)
	copy(next, current)
	next = append(next, newSlot)

	limit := g.maxConnections(layer)
	if len(next) > limit {
		cands := make([]candidate, len(next))
		for i, s := range next {
			other := newNode
			if s != newSlot {
				other = g.at(arena, s)
			}
			cands[i] = candidate{slot: s, n: other, dist: g.dist(target.vector, other.vector)}
		}
		sortCandidates(cands)
		selected := g.selectNeighbors(cands, limit)
		next = next[:0]
		for _, s := range selected {
			next = append(next, s.slot)
		}
	}
	target.friends[layer] = next
}

// greedy walks a single layer toward q until no neighbor is closer.
func (g *Graph) greedy(arena *[]*node, q []float32, cur candidate, layer int) candidate {
	for changed := true; changed; {
		changed = false
		for _, s := range cur.n.neighbors(layer) {
			nb := g.at(arena, s)
			if d := g.dist(q, nb.vector); d < cur.dist {
				cur = candidate{slot: s, n: nb, dist: d}
				changed = true
			}
		}
	}
	return cur
}

// searchLayer runs a beam search of width ef on one layer.
// Every reachable node is traversed, but only nodes passing accept are collected.
// Returns the collected candidates closest first, whether ctx cut the search short,
// and how many distances were computed.
func (g *Graph) searchLayer(ctx context.Context, arena *[]*node, q []float32, entries []candidate, ef, layer int, accept func(*node) bool) ([]candidate, bool, int) {
	visited := bitset.New(uint(len(*arena)))
	frontier := &minQueue{}
	results := &maxQueue{}

	for _, e := range entries {
		if visited.Test(uint(e.slot)) {
			continue
		}
		visited.Set(uint(e.slot))
		frontier.push(e)
		if accept(e.n) {
			results.push(e)
			if results.Len() > ef {
				results.pop()
			}
		}
	}

	partial := false
	computed := 0
	for steps := 0; frontier.Len() > 0; steps++ {
		if ctx != nil && steps%ctxCheckEvery == 0 && ctx.Err() != nil {
			partial = true
			break
		}

		c := frontier.pop()
		if results.Len() >= ef && c.dist > results.top().dist {
			break
		}

		for _, s := range c.n.neighbors(layer) {
			if visited.Test(uint(s)) {
				continue
			}
			visited.Set(uint(s))

			nb := g.at(arena, s)
			d := g.dist(q, nb.vector)
			computed++
			if results.Len() < ef || d < results.top().dist {
				cand := candidate{slot: s, n: nb, dist: d}
				frontier.push(cand)
				if accept(nb) {
					results.push(cand)
					if results.Len() > ef {
						results.pop()
					}
				}
			}
		}
	}

	return results.drainSorted(), partial, computed
}

// selectNeighbors picks up to m candidates favoring diversity: a candidate is kept
// only if it is closer to the target than to any already kept candidate. Pruned
// candidates backfill the remaining slots so sparse regions stay connected.
// cands must be sorted closest first.
func (g *Graph) selectNeighbors(cands []candidate, m int) []candidate {
	if len(cands) <= m {
		return cands
	}

	selected := make([]candidate, 0, m)
	var pruned []candidate
	for _, c := range cands {
		if len(selected) >= m {
			break
		}
		diverse := true
		for _, s := range selected {
			if g.dist(c.n.vector, s.n.vector) < c.dist {
				diverse = false
				break
			}
		}
		if diverse {
			selected = append(selected, c)
		} else {
			pruned = append(pruned, c)
		}
	}
	for _, p := range pruned {
		if len(selected) >= m {
			break
		}
		selected = append(selected, p)
	}
	return selected
}

// Search returns up to k approximate nearest neighbors admitted by filter.
func (g *Graph) Search(ctx context.Context, query []float32, k int, params index.SearchParams, filter index.Filter) (index.Result, error) {
	if len(query) != g.cfg.Dimension {
		return index.Result{}, fmt.Errorf("%w: expected %d, got %d", core.ErrDimensionMismatch, g.cfg.Dimension, len(query))
	}
	ep := g.entry.Load()
	if k <= 0 || ep == nil {
		return index.Result{}, nil
	}

	ef := params.EfSearch
	if ef <= 0 {
		ef = g.cfg.EfSearch
	}
	ef = max(ef, k)

	q := vector.Prepare(g.cfg.Metric, query)
	arena := g.arena()
	entryNode := g.at(&arena, ep.slot)
	cur := candidate{slot: ep.slot, n: entryNode, dist: g.dist(q, entryNode.vector)}
	for layer := ep.level; layer > 0; layer-- {
		cur = g.greedy(&arena, q, cur, layer)
	}

	found, partial, computed := g.searchLayer(ctx, &arena, q, []candidate{cur}, ef, 0, func(n *node) bool {
		return !n.deleted.Load() && filter.Allows(n.id)
	})
	if len(found) > k {
		found = found[:k]
	}

	neighbors := make([]index.Neighbor, len(found))
	for i, c := range found {
		neighbors[i] = index.Neighbor{Id: c.n.id, Distance: c.dist}
	}
	return index.Result{
		Neighbors: neighbors,
		Partial:   partial,
		Visited:   computed,
	}, nil
}

// Delete tombstones id. The node keeps its edges so routing through it still works.
func (g *Graph) Delete(id core.ID) bool {
	g.writeMu.Lock()
	slot, ok := g.lookup[id]
	if ok {
		delete(g.lookup, id)
	}
	g.writeMu.Unlock()
	if !ok {
		return false
	}

	arena := g.arena()
	if g.at(&arena, slot).deleted.CompareAndSwap(false, true) {
		g.live.Add(-1)
		g.tombstones.Add(1)
	}
	return true
}

// Each calls fn for every live vector in insertion order until fn returns false.
func (g *Graph) Each(fn func(id core.ID, vector []float32) bool) {
	for _, n := range g.arena() {
		if n.deleted.Load() {
			continue
		}
		if !fn(n.id, n.vector) {
			return
		}
	}
}
