package core

import (
	"encoding/binary"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for records.
// Record IDs are generated from per-collection database sequences.
type ID uint64

// ScopeID identifies an ownership boundary (tenant, user, workspace).
type ScopeID string

// HashContent returns a deterministic 64-bit fingerprint of text content using BLAKE2b.
// Identical content always produces the identical hash.
func HashContent(text string) uint64 {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum)
}

// Metric is the distance function used by a collection's ANN index.
type Metric int

const (
	// MetricCosine compares direction only. Vectors are normalized on the way in.
	MetricCosine Metric = iota + 1
	// MetricInnerProduct assumes callers store unit-length vectors.
	MetricInnerProduct
	// MetricEuclidean is used when absolute scale carries meaning.
	MetricEuclidean
)

var metricNames = map[Metric]string{
	MetricCosine:       "cosine",
	MetricInnerProduct: "inner-product",
	MetricEuclidean:    "euclidean",
}

func (m Metric) String() string {
	if name, ok := metricNames[m]; ok {
		return name
	}
	return "unknown"
}

// ParseMetric converts a metric name into a Metric.
func ParseMetric(name string) (Metric, error) {
	for m, n := range metricNames {
		if n == name {
			return m, nil
		}
	}
	switch name {
	case "dot", "ip":
		return MetricInnerProduct, nil
	case "l2":
		return MetricEuclidean, nil
	}
	return 0, ErrUnknownMetric
}

// Variant identifies which ANN structure backs a collection.
type Variant int

const (
	// VariantGraph is the HNSW-style multi-layer proximity graph.
	VariantGraph Variant = iota + 1
	// VariantCluster is the IVF-style centroid partitioned index.
	VariantCluster
)

func (v Variant) String() string {
	switch v {
	case VariantGraph:
		return "graph"
	case VariantCluster:
		return "cluster"
	default:
		return "unknown"
	}
}

// ParseVariant converts a variant name into a Variant.
func ParseVariant(name string) (Variant, error) {
	switch name {
	case "graph", "hnsw":
		return VariantGraph, nil
	case "cluster", "ivf":
		return VariantCluster, nil
	}
	return 0, ErrUnknownVariant
}

// GraphParams tunes the graph variant.
type GraphParams struct {
	M              int // neighbors per node per layer (layer 0 keeps 2*M)
	EfConstruction int // beam width while inserting
	EfSearch       int // default beam width while querying
}

// ClusterParams tunes the cluster variant.
type ClusterParams struct {
	Lists           int // number of centroids
	Probes          int // default number of lists visited per query
	MinTrainingSize int // minimum sample size accepted by training
}

// Collection is a named set of records sharing one dimensionality and one ANN configuration.
type Collection struct {
	Name      string
	Dimension int
	Metric    Metric
	Variant   Variant
	Graph     GraphParams
	Cluster   ClusterParams
	Stemming  bool // keyword analyzer applies English stemming
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultGraphParams returns graph tuning suitable for most embedding sizes.
func DefaultGraphParams() GraphParams {
	return GraphParams{
		M:              16,
		EfConstruction: 200,
		EfSearch:       64,
	}
}

// DefaultClusterParams returns cluster tuning for collections in the tens of thousands.
func DefaultClusterParams() ClusterParams {
	return ClusterParams{
		Lists:           100,
		Probes:          8,
		MinTrainingSize: 1000,
	}
}

// NewCollection returns a collection config with defaults applied.
func NewCollection(name string, dimension int) *Collection {
	return &Collection{
		Name:      name,
		Dimension: dimension,
		Metric:    MetricCosine,
		Variant:   VariantGraph,
		Graph:     DefaultGraphParams(),
		Cluster:   DefaultClusterParams(),
		Stemming:  true,
	}
}

// Record is a single piece of content with its embedding and ownership scope.
type Record struct {
	Id          ID
	Scope       ScopeID
	Content     string
	Vector      []float32
	Tokens      []string // analyzed token sequence derived from Content
	ContentHash uint64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SearchResult is a single ranked hit returned to callers.
type SearchResult struct {
	Id      ID
	Content string
	Score   float32
}
