package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/poiesic/lodestone/ai"
	"github.com/poiesic/lodestone/ai/mock"
	"github.com/poiesic/lodestone/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newEmbeddingServer fakes the /embeddings endpoint of an OpenAI-compatible service.
func newEmbeddingServer(t *testing.T, dim int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		requests.Add(1)
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		for i, text := range req.Input {
			data[i] = item{Object: "embedding", Embedding: mock.GenerateDeterministicVector(text, dim), Index: i}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": len(req.Input), "total_tokens": len(req.Input)},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestNewEmbedder(t *testing.T) {
	t.Run("invalid config", func(t *testing.T) {
		_, err := NewEmbedder(ai.NewConfig(ai.WithEmbeddingHost("http://localhost:1")))
		assert.Error(t, err)
	})

	t.Run("valid config", func(t *testing.T) {
		e, err := NewEmbedder(ai.NewConfig(
			ai.WithEmbeddingHost("http://localhost:1"),
			ai.WithEmbeddingModel("test-model"),
		))
		require.NoError(t, err)
		assert.NotNil(t, e)
	})
}

func TestEmbedder_EmbedTexts(t *testing.T) {
	srv, requests := newEmbeddingServer(t, 8)
	ctx := context.Background()

	e, err := NewEmbedder(ai.NewConfig(
		ai.WithEmbeddingHost(srv.URL),
		ai.WithEmbeddingModel("test-model"),
		ai.WithDimension(8),
	))
	require.NoError(t, err)

	vectors, err := e.EmbedTexts(ctx, []string{"refund policy", "opening hours"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.InDeltaSlice(t, mock.GenerateDeterministicVector("refund policy", 8), vectors[0], 1e-6)
	assert.InDeltaSlice(t, mock.GenerateDeterministicVector("opening hours", 8), vectors[1], 1e-6)

	single, err := e.EmbedText(ctx, "refund policy")
	require.NoError(t, err)
	assert.Equal(t, vectors[0], single)
	assert.Equal(t, int32(2), requests.Load())
}

func TestEmbedder_DimensionMismatch(t *testing.T) {
	srv, _ := newEmbeddingServer(t, 8)

	e, err := NewEmbedder(ai.NewConfig(
		ai.WithEmbeddingHost(srv.URL),
		ai.WithEmbeddingModel("test-model"),
		ai.WithDimension(16),
	))
	require.NoError(t, err)

	_, err = e.EmbedText(context.Background(), "refund policy")
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestEmbedder_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, err := NewEmbedder(ai.NewConfig(
		ai.WithEmbeddingHost(srv.URL),
		ai.WithEmbeddingModel("test-model"),
	))
	require.NoError(t, err)

	_, err = e.EmbedTexts(context.Background(), []string{"refund policy"})
	assert.Error(t, err)
}
