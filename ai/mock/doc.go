// Package mock provides a test double for the ai.Embedder interface.
//
// The mock lets tests run without an embedding service and gives
// controlled, deterministic vectors.
//
// # Usage in Tests
//
//	// Basic usage with default behavior
//	embedder := mock.NewMockEmbedder().WithDimension(8)
//	vec, err := embedder.EmbedText(ctx, "test")
//
//	// Custom behavior injection
//	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
//	    return []float32{0.1, 0.2, 0.3}, nil
//	}
//
//	// Check call counts
//	count := embedder.CallCount()
//
// The same text always maps to the same unit-length vector.
package mock
