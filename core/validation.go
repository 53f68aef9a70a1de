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

package core

import (
	"fmt"
	"math"
)

const maxNameLength = 64

// ValidateVector checks a vector against the collection dimension.
// NaN and infinite components are rejected because no metric orders them.
func ValidateVector(vector []float32, dimension int) error {
	if len(vector) != dimension {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dimension, len(vector))
	}
	for i, v := range vector {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: component %d is not finite", ErrInvalidRecord, i)
		}
	}
	return nil
}

// ValidateRecord validates a Record according to domain rules.
//
// Validation rules:
//   - Scope must not be empty
//   - Vector length must equal the collection dimension
func ValidateRecord(record *Record, dimension int) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidRecord)
	}
	if record.Scope == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, ErrEmptyScope)
	}
	return ValidateVector(record.Vector, dimension)
}

// ValidateCollectionName checks that a collection name is usable as a key component.
func ValidateCollectionName(name string) error {
	if name == "" || len(name) > maxNameLength {
		return ErrInvalidName
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return ErrInvalidName
		}
	}
	return nil
}

// ValidateCollection validates a Collection configuration.
func ValidateCollection(c *Collection) error {
	if c == nil {
		return fmt.Errorf("%w: collection is nil", ErrInvalidCollection)
	}
	if err := ValidateCollectionName(c.Name); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCollection, err)
	}
	if c.Dimension < 1 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidCollection, c.Dimension)
	}
	if _, ok := metricNames[c.Metric]; !ok {
		return fmt.Errorf("%w: %w", ErrInvalidCollection, ErrUnknownMetric)
	}
	switch c.Variant {
	case VariantGraph, VariantCluster:
	default:
		return fmt.Errorf("%w: %w", ErrInvalidCollection, ErrUnknownVariant)
	}
	if c.Graph.M < 2 {
		return fmt.Errorf("%w: graph M must be at least 2", ErrInvalidCollection)
	}
	if c.Graph.EfConstruction < c.Graph.M {
		return fmt.Errorf("%w: ef_construction must be at least M", ErrInvalidCollection)
	}
	if c.Graph.EfSearch < 1 {
		return fmt.Errorf("%w: ef_search must be positive", ErrInvalidCollection)
	}
	if c.Cluster.Lists < 1 {
		return fmt.Errorf("%w: lists must be positive", ErrInvalidCollection)
	}
	if c.Cluster.Probes < 1 || c.Cluster.Probes > c.Cluster.Lists {
		return fmt.Errorf("%w: probes must be between 1 and lists", ErrInvalidCollection)
	}
	if c.Cluster.MinTrainingSize < c.Cluster.Lists {
		return fmt.Errorf("%w: min training size must be at least lists", ErrInvalidCollection)
	}
	return nil
}
