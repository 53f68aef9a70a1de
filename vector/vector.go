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

// Package vector provides the distance functions shared by the ANN indexes.
package vector

import (
	"math"

	"github.com/poiesic/lodestone/core"
)

// DistanceFunc returns a non-negative-ordered distance: smaller is closer.
type DistanceFunc func(a, b []float32) float32

// Normalize normalizes a vector to unit length.
// Returns a new vector. If the input is a zero vector, returns a zero vector.
func Normalize(v []float32) []float32 {
	result := make([]float32, len(v))
	if len(v) == 0 {
		return result
	}

	var magnitude float64
	for _, val := range v {
		magnitude += float64(val) * float64(val)
	}
	magnitude = math.Sqrt(magnitude)

	// Can't normalize zero vector
	if magnitude == 0 {
		return result
	}

	for i, val := range v {
		result[i] = float32(float64(val) / magnitude)
	}
	return result
}

// Dot calculates the dot product of two equal-length vectors.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Euclidean calculates the L2 distance between two equal-length vectors.
func Euclidean(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

// cosineDistance expects both inputs already normalized.
func cosineDistance(a, b []float32) float32 {
	d := 1 - Dot(a, b)
	if d < 0 {
		return 0
	}
	return d
}

func negativeDot(a, b []float32) float32 {
	return -Dot(a, b)
}

// Distance returns the distance function for a metric.
// The cosine function assumes inputs were passed through Prepare.
func Distance(m core.Metric) DistanceFunc {
	switch m {
	case core.MetricInnerProduct:
		return negativeDot
	case core.MetricEuclidean:
		return Euclidean
	default:
		return cosineDistance
	}
}

// Prepare returns the form of v stored by an index for metric m.
// Cosine vectors are normalized, everything else is copied as-is.
func Prepare(m core.Metric, v []float32) []float32 {
	if m == core.MetricCosine {
		return Normalize(v)
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

// Similarity converts a distance produced by Distance(m) into a higher-is-better score.
func Similarity(m core.Metric, distance float32) float32 {
	switch m {
	case core.MetricInnerProduct:
		return -distance
	case core.MetricEuclidean:
		return 1 / (1 + distance)
	default:
		return 1 - distance
	}
}
