package ingestion

import (
	"context"
	"log/slog"
	"runtime"
	"slices"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/lodestone/ai"
	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/scope"
	"golang.org/x/time/rate"
)

const defaultBatchSize = 32

// Sink stores embedded documents. *lodestone.Collection implements it.
type Sink interface {
	Put(ctx context.Context, principal scope.Principal, scopeID core.ScopeID, content string, vector []float32) (*core.Record, error)
}

// Result pairs an input document with the record it became.
type Result struct {
	Index int
	Id    core.ID
}

// Failure pairs an input document with the reason it was not stored.
type Failure struct {
	Index int
	Err   error
}

// Report summarizes one Ingest call. Both slices are ordered by input index.
type Report struct {
	Added  []Result
	Failed []Failure
}

// Pipeline embeds documents and writes them into a collection.
type Pipeline struct {
	pool      *ants.Pool
	batchSize int
	proc      *embeddingProcessor
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent embedding.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}

		// Release old pool
		if p.pool != nil {
			p.pool.Release()
		}

		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithBatchSize sets how many documents are embedded per request.
// Default is 32.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		p.batchSize = size
		return nil
	}
}

// WithRateLimit throttles embedding requests to rps per second with the given burst.
// A non-positive rps removes the limit, which is the default.
func WithRateLimit(rps float64, burst int) Option {
	return func(p *Pipeline) error {
		if rps <= 0 {
			p.proc.limiter = rate.NewLimiter(rate.Inf, 0)
			return nil
		}
		p.proc.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		return nil
	}
}

// WithPrincipal sets the principal documents are written as.
// Default is scope.Unrestricted().
func WithPrincipal(principal scope.Principal) Option {
	return func(p *Pipeline) error {
		p.proc.principal = principal
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline writing into sink.
func NewPipeline(sink Sink, embedder ai.Embedder, opts ...Option) (*Pipeline, error) {
	if sink == nil {
		return nil, ErrSinkRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	// Default pool size
	poolSize := max(runtime.NumCPU()/2, 1)
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		pool:      pool,
		batchSize: defaultBatchSize,
		proc: &embeddingProcessor{
			sink:      sink,
			embedder:  embedder,
			principal: scope.Unrestricted(),
			limiter:   rate.NewLimiter(rate.Inf, 0),
		},
		logger: slog.Default(),
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	p.logger = p.logger.With("component", "ingestion")
	p.proc.logger = p.logger.With("processor", "embeddings")

	return p, nil
}

// Ingest embeds and stores docs, returning once every batch has finished.
// Per-document failures are reported, not returned; the error is non-nil only
// when the pool refuses work.
func (p *Pipeline) Ingest(ctx context.Context, docs []Document) (*Report, error) {
	report := &Report{}
	if len(docs) == 0 {
		return report, nil
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for offset := 0; offset < len(docs); offset += p.batchSize {
		batch := docs[offset:min(offset+p.batchSize, len(docs))]
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			added, failed := p.proc.process(ctx, offset, batch)
			mu.Lock()
			report.Added = append(report.Added, added...)
			report.Failed = append(report.Failed, failed...)
			mu.Unlock()
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return nil, err
		}
	}
	wg.Wait()

	slices.SortFunc(report.Added, func(a, b Result) int { return a.Index - b.Index })
	slices.SortFunc(report.Failed, func(a, b Failure) int { return a.Index - b.Index })
	p.logger.Info("ingested documents", "added", len(report.Added), "failed", len(report.Failed))
	return report, nil
}

// Release releases resources including worker pools.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}
