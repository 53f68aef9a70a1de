package ivf

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/vector"
)

const (
	defaultMaxIterations = 25
	// Lloyd iterations stop once fewer than 1 in convergeFraction points move.
	convergeFraction = 1000
)

// Train fits cfg.Lists centroids to sample with k-means++ seeding followed by
// Lloyd iterations. Cosine and inner product collections cluster on the unit
// sphere so centroids stay comparable under the metric.
//
// Returns core.ErrInsufficientTrainingData when the sample is smaller than
// max(MinTrainingSize, Lists).
func Train(ctx context.Context, cfg Config, sample [][]float32) ([][]float32, error) {
	cfg, err := validateConfig(cfg)
	if err != nil {
		return nil, err
	}
	need := max(cfg.MinTrainingSize, cfg.Lists)
	if len(sample) < need {
		return nil, fmt.Errorf("%w: have %d vectors, need %d", core.ErrInsufficientTrainingData, len(sample), need)
	}

	spherical := cfg.Metric != core.MetricEuclidean
	points := make([][]float32, len(sample))
	for i, v := range sample {
		if len(v) != cfg.Dimension {
			return nil, fmt.Errorf("%w: sample %d has %d components", core.ErrDimensionMismatch, i, len(v))
		}
		if spherical {
			points[i] = vector.Normalize(v)
		} else {
			points[i] = v
		}
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, uint64(len(points))))
	dist := vector.Distance(cfg.Metric)
	centroids := seedCentroids(points, cfg.Lists, rng)

	assign := make([]int, len(points))
	for i := range assign {
		assign[i] = -1
	}

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		moved := 0
		for i, p := range points {
			best, bestDist := 0, dist(p, centroids[0])
			for c := 1; c < len(centroids); c++ {
				if d := dist(p, centroids[c]); d < bestDist {
					best, bestDist = c, d
				}
			}
			if assign[i] != best {
				assign[i] = best
				moved++
			}
		}

		centroids = recompute(points, assign, len(centroids), cfg.Dimension, rng)
		if spherical {
			for c := range centroids {
				centroids[c] = vector.Normalize(centroids[c])
			}
		}

		if moved*convergeFraction < len(points) {
			break
		}
	}
	return centroids, nil
}

// seedCentroids picks k initial centroids with k-means++: each new centroid is
// drawn with probability proportional to its squared distance from the nearest
// centroid chosen so far.
func seedCentroids(points [][]float32, k int, rng *rand.Rand) [][]float32 {
	centroids := make([][]float32, 0, k)
	first := points[rng.IntN(len(points))]
	centroids = append(centroids, clone(first))

	nearest := make([]float64, len(points))
	for i, p := range points {
		nearest[i] = squared(vector.Euclidean(p, first))
	}

	for len(centroids) < k {
		var total float64
		for _, d := range nearest {
			total += d
		}

		pick := 0
		if total == 0 {
			pick = rng.IntN(len(points))
		} else {
			target := rng.Float64() * total
			for i, d := range nearest {
				target -= d
				if target <= 0 {
					pick = i
					break
				}
			}
		}

		chosen := clone(points[pick])
		centroids = append(centroids, chosen)
		for i, p := range points {
			if d := squared(vector.Euclidean(p, chosen)); d < nearest[i] {
				nearest[i] = d
			}
		}
	}
	return centroids
}

// recompute moves each centroid to the mean of its members. An empty cluster is
// reseeded from a random point so the list count stays fixed.
func recompute(points [][]float32, assign []int, k, dim int, rng *rand.Rand) [][]float32 {
	sums := make([][]float64, k)
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	counts := make([]int, k)
	for i, p := range points {
		c := assign[i]
		counts[c]++
		for j, v := range p {
			sums[c][j] += float64(v)
		}
	}

	centroids := make([][]float32, k)
	for c := range centroids {
		if counts[c] == 0 {
			centroids[c] = clone(points[rng.IntN(len(points))])
			continue
		}
		centroid := make([]float32, dim)
		for j := range centroid {
			centroid[j] = float32(sums[c][j] / float64(counts[c]))
		}
		centroids[c] = centroid
	}
	return centroids
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

func squared(d float32) float64 {
	return float64(d) * float64(d)
}
