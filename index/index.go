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

// Package index defines the contract shared by the approximate nearest
// neighbor structures. The index manager holds exactly one implementation per
// collection and callers never see which variant answers a query.
package index

import (
	"context"
	"errors"
	"slices"

	"github.com/poiesic/lodestone/core"
)

var (
	// ErrDuplicateID is returned when inserting an ID that is already indexed.
	ErrDuplicateID = errors.New("id already indexed")

	// ErrSnapshotVersion is returned when restoring a snapshot written by an incompatible format.
	ErrSnapshotVersion = errors.New("unsupported snapshot version")
)

// Filter reports whether an ID may be returned. A nil Filter admits everything.
// Filters are evaluated inside the scan so rejected IDs never count toward k.
type Filter func(id core.ID) bool

// Allows reports whether the filter admits id.
func (f Filter) Allows(id core.ID) bool {
	return f == nil || f(id)
}

// Neighbor is a single ANN hit. Distance is metric specific; smaller is closer.
type Neighbor struct {
	Id       core.ID
	Distance float32
}

// SearchParams carries per-query effort overrides. Zero values use the collection defaults.
type SearchParams struct {
	EfSearch int // graph variant beam width
	Probes   int // cluster variant lists visited
}

// Result is the outcome of an ANN search.
type Result struct {
	Neighbors []Neighbor // ordered by ascending distance, ID breaking ties
	Partial   bool       // the deadline cut the traversal short
	Untrained bool       // a cluster index answered from its overflow bucket only
	Visited   int        // vectors compared, useful for tuning
}

// Index is an approximate nearest neighbor structure over one collection's vectors.
// Implementations are safe for concurrent use: searches never block each other
// and inserts only lock what they mutate.
type Index interface {
	// Insert adds a vector under id. The vector must already have the collection dimension.
	Insert(id core.ID, vector []float32) error

	// Delete removes id from future results. Returns false if id was not indexed.
	Delete(id core.ID) bool

	// Search returns up to k approximate nearest neighbors admitted by filter.
	// When ctx expires the best neighbors found so far are returned with Partial set.
	Search(ctx context.Context, query []float32, k int, params SearchParams, filter Filter) (Result, error)

	// Len returns the number of live (not deleted) vectors.
	Len() int

	// Each calls fn for every live vector until fn returns false.
	// Vectors are in the index's prepared form and must not be modified.
	Each(fn func(id core.ID, vector []float32) bool)

	// Variant identifies the structure.
	Variant() core.Variant

	// Snapshot serializes the index to bytes that the variant's Restore accepts.
	Snapshot() ([]byte, error)
}

// SortNeighbors orders neighbors by ascending distance with ID as the tiebreaker.
func SortNeighbors(ns []Neighbor) {
	slices.SortFunc(ns, CompareNeighbors)
}

// CompareNeighbors orders by ascending distance then ascending ID.
func CompareNeighbors(a, b Neighbor) int {
	if a.Distance < b.Distance {
		return -1
	}
	if a.Distance > b.Distance {
		return 1
	}
	if a.Id < b.Id {
		return -1
	}
	if a.Id > b.Id {
		return 1
	}
	return 0
}
