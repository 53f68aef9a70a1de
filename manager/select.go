package manager

import "github.com/poiesic/lodestone/core"

const (
	// ClusterCardinality is the expected population above which the cluster variant is chosen.
	ClusterCardinality = 1_000_000

	// ClusterWriteRatio is the share of writes among operations at which graph
	// insertion cost dominates and the cluster variant is chosen.
	ClusterWriteRatio = 0.5

	nodeOverheadBytes = 96
)

// Workload describes the expected use of a collection.
type Workload struct {
	ExpectedCardinality int
	WriteRatio          float64 // writes / (reads + writes)
	MemoryBudget        int64   // bytes; 0 means unconstrained
	Dimension           int
	M                   int // graph connectivity; 0 uses the default
}

// SelectVariant picks the ANN structure for a workload. The graph variant is the
// default; the cluster variant wins for very large collections, write-heavy
// workloads, or when the graph would not fit the memory budget.
func SelectVariant(w Workload) core.Variant {
	if w.ExpectedCardinality > ClusterCardinality {
		return core.VariantCluster
	}
	if w.WriteRatio >= ClusterWriteRatio {
		return core.VariantCluster
	}
	if w.MemoryBudget > 0 && w.Dimension > 0 {
		m := w.M
		if m == 0 {
			m = core.DefaultGraphParams().M
		}
		if EstimateGraphBytes(w.ExpectedCardinality, w.Dimension, m) > w.MemoryBudget {
			return core.VariantCluster
		}
	}
	return core.VariantGraph
}

// EstimateGraphBytes approximates the resident size of a graph index: the
// vectors, 2M layer-0 links per node, and the expected M/(M-1) upper-layer links.
func EstimateGraphBytes(n, dim, m int) int64 {
	if n <= 0 {
		return 0
	}
	if m < 2 {
		m = 2
	}
	links := float64(2*m) + float64(m)/float64(m-1)
	perNode := float64(dim*4) + links*4 + nodeOverheadBytes
	return int64(perNode * float64(n))
}
