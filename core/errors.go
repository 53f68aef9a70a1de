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

import "errors"

// Engine errors
var (
	// ErrDimensionMismatch indicates a vector whose length differs from the collection dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrUntrainedIndex indicates a cluster index served a request before any training.
	// It is reported as a warning; results are still produced from the overflow bucket.
	ErrUntrainedIndex = errors.New("index is untrained")

	// ErrInsufficientTrainingData indicates training was requested on too small a sample.
	ErrInsufficientTrainingData = errors.New("insufficient training data")

	// ErrQueryTimeout indicates the deadline passed before any result was produced.
	ErrQueryTimeout = errors.New("query timeout")

	// ErrScopeViolation indicates a write targeting a scope the caller does not control.
	ErrScopeViolation = errors.New("scope violation attempt")

	// ErrTrainingNotSupported indicates training was requested on a variant that has no training phase.
	ErrTrainingNotSupported = errors.New("index variant does not support training")
)

// Domain validation errors
var (
	// ErrInvalidRecord indicates a Record failed validation.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrInvalidCollection indicates a Collection failed validation.
	ErrInvalidCollection = errors.New("invalid collection")

	// ErrInvalidQuery indicates a search request failed validation.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrEmptyScope indicates the Scope field is empty.
	ErrEmptyScope = errors.New("scope cannot be empty")

	// ErrInvalidName indicates a collection name outside the allowed alphabet or length.
	ErrInvalidName = errors.New("collection name must be 1-64 characters of [A-Za-z0-9_-]")

	// ErrUnknownMetric indicates an unrecognized distance metric.
	ErrUnknownMetric = errors.New("unknown distance metric")

	// ErrUnknownVariant indicates an unrecognized index variant.
	ErrUnknownVariant = errors.New("unknown index variant")
)
