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

package keyword

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/index"
)

// BM25 parameters.
const (
	K1 = 1.2
	B  = 0.75

	ctxCheckEvery = 1024
)

// ErrDuplicateDocument is returned when adding an ID that is already indexed.
var ErrDuplicateDocument = errors.New("document already indexed")

// Hit is a single keyword match.
type Hit struct {
	Id    core.ID
	Score float32
}

// Result is the outcome of a keyword search.
type Result struct {
	Hits    []Hit // score descending, ID ascending on ties
	Partial bool  // the deadline cut scoring short
}

// Index is a positional inverted index. Readers share a read lock for the
// duration of scoring; Add and Remove take the write lock.
type Index struct {
	analyzer *Analyzer

	mu       sync.RWMutex
	postings map[string]map[core.ID][]uint32 // term -> doc -> ascending positions
	docLen   map[core.ID]int
	terms    map[core.ID][]string // distinct terms per doc, for removal
	totalLen int
}

// New creates an empty index that parses queries with analyzer.
func New(analyzer *Analyzer) *Index {
	return &Index{
		analyzer: analyzer,
		postings: make(map[string]map[core.ID][]uint32),
		docLen:   make(map[core.ID]int),
		terms:    make(map[core.ID][]string),
	}
}

// Analyzer returns the analyzer shared by documents and queries.
func (x *Index) Analyzer() *Analyzer {
	return x.analyzer
}

// Len returns the number of indexed documents.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docLen)
}

// Terms returns the vocabulary size.
func (x *Index) Terms() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.postings)
}

// Add indexes an analyzed token sequence under id.
// Documents without tokens are tracked so they count toward N but never match.
func (x *Index) Add(id core.ID, tokens []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, exists := x.docLen[id]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateDocument, id)
	}

	positions := make(map[string][]uint32)
	var distinct []string
	for pos, token := range tokens {
		if _, seen := positions[token]; !seen {
			distinct = append(distinct, token)
		}
		positions[token] = append(positions[token], uint32(pos))
	}

	for term, ps := range positions {
		docs, ok := x.postings[term]
		if !ok {
			docs = make(map[core.ID][]uint32)
			x.postings[term] = docs
		}
		docs[id] = ps
	}
	x.docLen[id] = len(tokens)
	x.terms[id] = distinct
	x.totalLen += len(tokens)
	return nil
}

// Remove drops id from the index in time proportional to its distinct terms.
func (x *Index) Remove(id core.ID) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	length, ok := x.docLen[id]
	if !ok {
		return false
	}
	for _, term := range x.terms[id] {
		docs := x.postings[term]
		delete(docs, id)
		if len(docs) == 0 {
			delete(x.postings, term)
		}
	}
	delete(x.docLen, id)
	delete(x.terms, id)
	x.totalLen -= length
	return true
}

// Search parses query and returns up to k documents admitted by filter.
func (x *Index) Search(ctx context.Context, query string, k int, filter index.Filter) (Result, error) {
	return x.SearchQuery(ctx, Parse(x.analyzer, query), k, filter)
}

// SearchQuery ranks documents for an already parsed query.
func (x *Index) SearchQuery(ctx context.Context, q *Query, k int, filter index.Filter) (Result, error) {
	if k <= 0 || q.Empty() {
		return Result{}, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	n := len(x.docLen)
	if n == 0 {
		return Result{}, nil
	}
	avgLen := float64(x.totalLen) / float64(n)

	candidates := x.candidates(q)
	excluded := make(map[core.ID]bool)
	for _, c := range q.clauses {
		if c.occurs == mustNot {
			for id := range x.matching(c) {
				excluded[id] = true
			}
		}
	}

	hits := make([]Hit, 0, min(len(candidates), k*4))
	partial := false
	for i, id := range candidates {
		if i%ctxCheckEvery == 0 && i > 0 && ctx.Err() != nil {
			partial = true
			break
		}
		if excluded[id] || !filter.Allows(id) {
			continue
		}

		var score float64
		for _, c := range q.clauses {
			if c.occurs == mustNot || !x.matches(c, id) {
				continue
			}
			for _, term := range c.terms {
				score += x.bm25(term, id, n, avgLen)
			}
		}
		if score > 0 {
			hits = append(hits, Hit{Id: id, Score: float32(score)})
		}
	}

	slices.SortFunc(hits, compareHits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return Result{Hits: hits, Partial: partial}, nil
}

// candidates returns the documents satisfying every required clause, or any
// positive clause when nothing is required, in ID order.
func (x *Index) candidates(q *Query) []core.ID {
	var (
		set      map[core.ID]bool
		required bool
	)
	for _, c := range q.clauses {
		if c.occurs != must {
			continue
		}
		matched := x.matching(c)
		if !required {
			set, required = matched, true
			continue
		}
		for id := range set {
			if !matched[id] {
				delete(set, id)
			}
		}
	}

	if !required {
		set = make(map[core.ID]bool)
		for _, c := range q.clauses {
			if c.occurs == should {
				for id := range x.matching(c) {
					set[id] = true
				}
			}
		}
	}

	ids := make([]core.ID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// matching returns every document a clause matches.
func (x *Index) matching(c clause) map[core.ID]bool {
	out := make(map[core.ID]bool)
	for id := range x.postings[c.terms[0]] {
		if x.matches(c, id) {
			out[id] = true
		}
	}
	return out
}

// matches reports whether document id contains the clause's term, or its
// phrase at consecutive positions.
func (x *Index) matches(c clause, id core.ID) bool {
	first, ok := x.postings[c.terms[0]][id]
	if !ok {
		return false
	}
	if !c.phrase() {
		return true
	}

	rest := make([][]uint32, len(c.terms)-1)
	for i, term := range c.terms[1:] {
		ps, ok := x.postings[term][id]
		if !ok {
			return false
		}
		rest[i] = ps
	}

	for _, start := range first {
		found := true
		for i, ps := range rest {
			want := start + uint32(i) + 1
			j := sort.Search(len(ps), func(j int) bool { return ps[j] >= want })
			if j == len(ps) || ps[j] != want {
				found = false
				break
			}
		}
		if found {
			return true
		}
	}
	return false
}

// bm25 scores one term for one document. The idf form never goes negative,
// so a term present in every document still adds a little.
func (x *Index) bm25(term string, id core.ID, n int, avgLen float64) float64 {
	docs := x.postings[term]
	tf := float64(len(docs[id]))
	if tf == 0 {
		return 0
	}
	df := float64(len(docs))
	idf := math.Log(1 + (float64(n)-df+0.5)/(df+0.5))
	norm := 1 - B + B*float64(x.docLen[id])/avgLen
	return idf * tf * (K1 + 1) / (tf + K1*norm)
}

func compareHits(a, b Hit) int {
	if a.Score > b.Score {
		return -1
	}
	if a.Score < b.Score {
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
