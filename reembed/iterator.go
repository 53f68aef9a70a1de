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

package reembed

import (
	"context"

	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/storage"
)

const (
	// DefaultBatchSize is the default number of records to fetch in each batch
	DefaultBatchSize = 100
)

// RecordIterator iterates over all records of one collection in batches, in ID order.
type RecordIterator struct {
	repo       storage.RecordRepository
	collection string
	batchSize  int
}

// NewRecordIterator creates a new record iterator.
// batchSize: number of records to fetch in each batch (DefaultBatchSize when <= 0)
func NewRecordIterator(repo storage.RecordRepository, collection string, batchSize int) *RecordIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &RecordIterator{
		repo:       repo,
		collection: collection,
		batchSize:  batchSize,
	}
}

// ForEach calls fn for each batch of records.
// Iteration stops on first error from fn or when all records are processed.
// Context cancellation is checked before starting and between batches.
func (it *RecordIterator) ForEach(ctx context.Context, fn func([]*core.Record) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return it.repo.ForEach(ctx, it.collection, it.batchSize, fn)
}
