package reembed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/lodestone/ai"
	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/scope"
	"golang.org/x/time/rate"
)

// Target receives re-embedded records. *lodestone.Collection implements it.
type Target interface {
	Put(ctx context.Context, principal scope.Principal, scopeID core.ScopeID, content string, vector []float32) (*core.Record, error)
}

// BatchResult counts what happened to one batch.
type BatchResult struct {
	Written   int
	Embedded  int // distinct contents sent to the embedder
	Duplicate int // records that reused the vector of an identical content
}

// BatchProcessor embeds batches of records and writes them to the target.
type BatchProcessor struct {
	target         Target
	embedder       ai.Embedder
	limiter        *rate.Limiter
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewBatchProcessor creates a new batch processor.
// maxRetries: maximum number of retry attempts for embedding API calls
// retryBaseDelay: base delay for exponential backoff
// limiter may be nil for no throttling.
func NewBatchProcessor(target Target, embedder ai.Embedder, limiter *rate.Limiter, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &BatchProcessor{
		target:         target,
		embedder:       embedder,
		limiter:        limiter,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Process embeds a batch of records and writes them to the target in order.
// Records sharing a content hash are embedded once.
func (bp *BatchProcessor) Process(ctx context.Context, records []*core.Record) (BatchResult, error) {
	var result BatchResult
	if len(records) == 0 {
		return result, nil
	}

	// Group by content so each distinct text is embedded once
	slot := make(map[uint64]int, len(records))
	var texts []string
	for _, record := range records {
		hash := record.ContentHash
		if hash == 0 {
			hash = core.HashContent(record.Content)
		}
		if _, ok := slot[hash]; ok {
			result.Duplicate++
			continue
		}
		slot[hash] = len(texts)
		texts = append(texts, record.Content)
	}

	// Generate embeddings with retry
	var embeddings [][]float32
	err := RetryWithBackoff(ctx, func() error {
		if err := bp.limiter.Wait(ctx); err != nil {
			return Permanent(err)
		}
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		if errors.Is(err, core.ErrDimensionMismatch) {
			return Permanent(err)
		}
		return err
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		return result, fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.maxRetries, err)
	}
	if len(embeddings) != len(texts) {
		return result, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(texts), len(embeddings))
	}
	result.Embedded = len(texts)

	principal := scope.Unrestricted()
	for _, record := range records {
		hash := record.ContentHash
		if hash == 0 {
			hash = core.HashContent(record.Content)
		}
		if _, err := bp.target.Put(ctx, principal, record.Scope, record.Content, embeddings[slot[hash]]); err != nil {
			return result, fmt.Errorf("failed to write record %d: %w", record.Id, err)
		}
		result.Written++
	}
	return result, nil
}
