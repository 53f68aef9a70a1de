// Package ingestion embeds text documents and writes them into a collection.
//
// The Pipeline type manages the ingestion workflow:
//   - Splitting documents into batches
//   - Generating embeddings for each batch on a worker pool
//   - Putting every embedded document into the target collection
//
// Calls to the embedding service are throttled by a token bucket. A failed
// batch does not stop the others; failures are collected into the Report.
package ingestion
