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
	"fmt"
	"io"
	"time"

	"github.com/poiesic/lodestone/ai"
	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/storage"
	"golang.org/x/time/rate"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of records to process in each batch
	BatchSize int

	// ReportInterval is how often to report progress (number of records)
	ReportInterval int

	// MaxRetries is the maximum number of retry attempts for failed operations
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// RequestsPerSecond caps embedding calls. Zero means unlimited.
	RequestsPerSecond float64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Summary reports the outcome of a completed run.
type Summary struct {
	Records   int
	Embedded  int
	Duplicate int
	Elapsed   time.Duration
}

// Reembedder copies every record of a source collection into a target,
// computing fresh vectors along the way.
type Reembedder struct {
	source    storage.RecordRepository
	name      string
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	iterator  *RecordIterator
}

// NewReembedder creates a new reembedder reading collection from source.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(source storage.RecordRepository, collection string, target Target, embedder ai.Embedder, config *Config, progress io.Writer) (*Reembedder, error) {
	if source == nil {
		return nil, ErrSourceRequired
	}
	if target == nil {
		return nil, ErrTargetRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}

	return &Reembedder{
		source:    source,
		name:      collection,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(target, embedder, limiter, config.MaxRetries, config.RetryDelay),
		iterator:  NewRecordIterator(source, collection, config.BatchSize),
	}, nil
}

// Run executes the reembedding operation.
// Progress is reported to the configured writer.
func (r *Reembedder) Run(ctx context.Context) (*Summary, error) {
	totalRecords, err := r.source.Count(ctx, r.name)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	summary := &Summary{}
	if totalRecords == 0 {
		fmt.Fprintf(r.progress, "No records found in %s (0 records)\n", r.name)
		return summary, nil
	}

	fmt.Fprintf(r.progress, "Starting reembedding of %d records (batch size: %d)\n",
		totalRecords, r.iterator.batchSize)

	tracker := NewProgressTracker(r.progress, totalRecords, r.config.ReportInterval)
	tracker.Start()

	err = r.iterator.ForEach(ctx, func(records []*core.Record) error {
		result, err := r.processor.Process(ctx, records)
		summary.Records += result.Written
		summary.Embedded += result.Embedded
		summary.Duplicate += result.Duplicate
		if err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}

		tracker.Update(summary.Records)
		return nil
	})
	if err != nil {
		return summary, err
	}

	tracker.Finish()

	summary.Elapsed = tracker.Elapsed()
	fmt.Fprintf(r.progress, "Reembedding complete. Processed %d records in %v (%.1f records/sec, %d duplicate contents)\n",
		summary.Records, summary.Elapsed.Round(time.Millisecond), float64(summary.Records)/summary.Elapsed.Seconds(), summary.Duplicate)

	return summary, nil
}
