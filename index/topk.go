package index

import "container/heap"

// TopK keeps the k closest neighbors seen so far.
// It is a max-heap on distance so the current worst hit is evicted first.
type TopK struct {
	k     int
	items maxHeap
}

// NewTopK creates a collector for k neighbors.
func NewTopK(k int) *TopK {
	return &TopK{k: k, items: make(maxHeap, 0, k+1)}
}

// Push offers a neighbor; it is kept only if it beats the current worst.
func (t *TopK) Push(n Neighbor) {
	if t.k <= 0 {
		return
	}
	if len(t.items) < t.k {
		heap.Push(&t.items, n)
		return
	}
	if CompareNeighbors(n, t.items[0]) < 0 {
		t.items[0] = n
		heap.Fix(&t.items, 0)
	}
}

// Len returns the number of neighbors held.
func (t *TopK) Len() int {
	return len(t.items)
}

// Full reports whether k neighbors are held.
func (t *TopK) Full() bool {
	return len(t.items) >= t.k
}

// Worst returns the farthest neighbor held. Only valid when Len() > 0.
func (t *TopK) Worst() Neighbor {
	return t.items[0]
}

// Sorted returns the held neighbors closest first.
func (t *TopK) Sorted() []Neighbor {
	out := make([]Neighbor, len(t.items))
	copy(out, t.items)
	SortNeighbors(out)
	return out
}

type maxHeap []Neighbor

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return CompareNeighbors(h[i], h[j]) > 0 }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)        { *h = append(*h, x.(Neighbor)) }
func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
