// Package reembed copies a collection into a new one, recomputing every
// vector with a different embedding model.
//
// Records keep their scope and content; the target collection may use a
// different dimension, metric or index variant. The package supports batch
// processing, progress tracking, rate limiting and retry logic with
// exponential backoff. Identical contents within a batch are embedded once.
package reembed
