package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/lodestone/ai"
	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/scope"
	"golang.org/x/time/rate"
)

// embeddingProcessor embeds one batch of documents and puts them into the sink.
type embeddingProcessor struct {
	sink      Sink
	embedder  ai.Embedder
	principal scope.Principal
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// process embeds docs, which start at offset in the caller's input, and stores them.
// Every document ends up in exactly one of the returned slices.
func (ep *embeddingProcessor) process(ctx context.Context, offset int, docs []Document) ([]Result, []Failure) {
	fail := func(err error) ([]Result, []Failure) {
		failures := make([]Failure, len(docs))
		for i := range docs {
			failures[i] = Failure{Index: offset + i, Err: err}
		}
		return nil, failures
	}

	if err := ep.limiter.Wait(ctx); err != nil {
		return fail(err)
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}

	ep.logger.Debug("generating embeddings for documents", "documents", len(texts), "offset", offset)
	embeddings, err := ep.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		ep.logger.Error("error generating embeddings", "offset", offset, "err", err)
		return fail(err)
	}
	if len(embeddings) != len(docs) {
		return fail(fmt.Errorf("embedding result mismatch. expected %d, received %d", len(docs), len(embeddings)))
	}

	var (
		results  []Result
		failures []Failure
	)
	for i, doc := range docs {
		record, err := ep.sink.Put(ctx, ep.principal, doc.Scope, doc.Content, embeddings[i])
		if err != nil {
			ep.logger.Warn("error storing document", "index", offset+i, "err", err)
			failures = append(failures, Failure{Index: offset + i, Err: err})
			continue
		}
		results = append(results, Result{Index: offset + i, Id: record.Id})
	}
	return results, failures
}

// Document is a piece of text to embed and store under a scope.
type Document struct {
	Scope   core.ScopeID
	Content string
}
