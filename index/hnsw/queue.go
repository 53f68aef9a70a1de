package hnsw

import (
	"container/heap"
	"slices"
)

func compareCandidates(a, b candidate) int {
	if a.dist < b.dist {
		return -1
	}
	if a.dist > b.dist {
		return 1
	}
	if a.n.id < b.n.id {
		return -1
	}
	if a.n.id > b.n.id {
		return 1
	}
	return 0
}

func sortCandidates(cs []candidate) {
	slices.SortFunc(cs, compareCandidates)
}

// candidateHeap orders closest first; maxQueue flips it.
type candidateHeap struct {
	items []candidate
	desc  bool
}

func (h *candidateHeap) Len() int { return len(h.items) }
func (h *candidateHeap) Less(i, j int) bool {
	c := compareCandidates(h.items[i], h.items[j])
	if h.desc {
		return c > 0
	}
	return c < 0
}
func (h *candidateHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *candidateHeap) Push(x any)    { h.items = append(h.items, x.(candidate)) }
func (h *candidateHeap) Pop() any {
	n := len(h.items)
	x := h.items[n-1]
	h.items = h.items[:n-1]
	return x
}

// minQueue pops the closest candidate first.
type minQueue struct{ h candidateHeap }

func (q *minQueue) Len() int         { return q.h.Len() }
func (q *minQueue) push(c candidate) { heap.Push(&q.h, c) }
func (q *minQueue) pop() candidate   { return heap.Pop(&q.h).(candidate) }

// maxQueue keeps the farthest candidate on top so it can be evicted.
type maxQueue struct{ h candidateHeap }

func (q *maxQueue) Len() int         { return q.h.Len() }
func (q *maxQueue) push(c candidate) { q.h.desc = true; heap.Push(&q.h, c) }
func (q *maxQueue) pop() candidate   { return heap.Pop(&q.h).(candidate) }
func (q *maxQueue) top() candidate   { return q.h.items[0] }

// drainSorted empties the queue and returns its contents closest first.
func (q *maxQueue) drainSorted() []candidate {
	out := q.h.items
	q.h.items = nil
	sortCandidates(out)
	return out
}
