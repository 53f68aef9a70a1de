// Package keyword provides the lexical half of hybrid search: an analyzer that
// turns content into a token sequence, and a positional inverted index ranked
// with BM25.
//
// The analyzer is fixed per collection. Tokens are computed once on write and
// stored with the record, so rebuilding the index never re-analyzes content.
//
// Query syntax:
//
//	refund policy          either term (bare terms are OR'ed)
//	refund AND policy      both terms; OR switches back
//	+refund policy         refund required, policy optional
//	refund -shipping       documents mentioning shipping are excluded
//	"refund policy"        consecutive tokens
package keyword
