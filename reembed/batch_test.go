package reembed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/scope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEmbedder for testing
type mockEmbedder struct {
	embedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)
	calls          [][]string
}

func (m *mockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	v, err := m.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (m *mockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls = append(m.calls, texts)
	if m.embedTextsFunc != nil {
		return m.embedTextsFunc(ctx, texts)
	}
	result := make([][]float32, len(texts))
	for i, text := range texts {
		result[i] = []float32{float32(len(text)), 1, 0, 0}
	}
	return result, nil
}

// memoryTarget records every put.
type memoryTarget struct {
	mu      sync.Mutex
	puts    []*core.Record
	failing error
}

func (m *memoryTarget) Put(_ context.Context, _ scope.Principal, scopeID core.ScopeID, content string, vector []float32) (*core.Record, error) {
	if m.failing != nil {
		return nil, m.failing
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &core.Record{Id: core.ID(len(m.puts) + 1), Scope: scopeID, Content: content, Vector: vector}
	m.puts = append(m.puts, r)
	return r, nil
}

func sourceRecords(contents ...string) []*core.Record {
	out := make([]*core.Record, len(contents))
	for i, c := range contents {
		out[i] = &core.Record{Id: core.ID(i + 1), Scope: core.ScopeID(fmt.Sprintf("tenant-%d", i%2)), Content: c, ContentHash: core.HashContent(c)}
	}
	return out
}

func TestBatchProcessor_Process(t *testing.T) {
	target := &memoryTarget{}
	embedder := &mockEmbedder{}
	bp := NewBatchProcessor(target, embedder, nil, 3, time.Millisecond)

	records := sourceRecords("alpha", "beta", "gamma")
	result, err := bp.Process(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Written: 3, Embedded: 3}, result)

	require.Len(t, target.puts, 3)
	for i, put := range target.puts {
		assert.Equal(t, records[i].Content, put.Content)
		assert.Equal(t, records[i].Scope, put.Scope)
		assert.Equal(t, float32(len(records[i].Content)), put.Vector[0])
	}
}

func TestBatchProcessor_EmptyBatch(t *testing.T) {
	embedder := &mockEmbedder{}
	bp := NewBatchProcessor(&memoryTarget{}, embedder, nil, 3, time.Millisecond)

	result, err := bp.Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, result)
	assert.Empty(t, embedder.calls)
}

func TestBatchProcessor_DuplicateContents(t *testing.T) {
	target := &memoryTarget{}
	embedder := &mockEmbedder{}
	bp := NewBatchProcessor(target, embedder, nil, 3, time.Millisecond)

	records := sourceRecords("same text", "other", "same text")
	records[2].ContentHash = 0 // hash is recomputed when missing

	result, err := bp.Process(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Written: 3, Embedded: 2, Duplicate: 1}, result)
	require.Len(t, embedder.calls, 1)
	assert.Equal(t, []string{"same text", "other"}, embedder.calls[0])
	assert.Equal(t, target.puts[0].Vector, target.puts[2].Vector)
}

func TestBatchProcessor_Retry(t *testing.T) {
	attempts := 0
	embedder := &mockEmbedder{}
	embedder.embedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("temporary error")
		}
		return [][]float32{{1, 0, 0, 0}}, nil
	}
	bp := NewBatchProcessor(&memoryTarget{}, embedder, nil, 3, time.Millisecond)

	result, err := bp.Process(context.Background(), sourceRecords("alpha"))
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 1, result.Written)
}

func TestBatchProcessor_EmbeddingError(t *testing.T) {
	t.Run("gives up after max retries", func(t *testing.T) {
		embedder := &mockEmbedder{embedTextsFunc: func(context.Context, []string) ([][]float32, error) {
			return nil, errors.New("service down")
		}}
		bp := NewBatchProcessor(&memoryTarget{}, embedder, nil, 2, time.Millisecond)

		_, err := bp.Process(context.Background(), sourceRecords("alpha"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "after 2 attempts")
		assert.Len(t, embedder.calls, 2)
	})

	t.Run("dimension mismatch is not retried", func(t *testing.T) {
		embedder := &mockEmbedder{embedTextsFunc: func(context.Context, []string) ([][]float32, error) {
			return nil, fmt.Errorf("%w: model returned 3", core.ErrDimensionMismatch)
		}}
		bp := NewBatchProcessor(&memoryTarget{}, embedder, nil, 5, time.Millisecond)

		_, err := bp.Process(context.Background(), sourceRecords("alpha"))
		assert.ErrorIs(t, err, core.ErrDimensionMismatch)
		assert.Len(t, embedder.calls, 1)
	})

	t.Run("count mismatch", func(t *testing.T) {
		embedder := &mockEmbedder{embedTextsFunc: func(context.Context, []string) ([][]float32, error) {
			return [][]float32{{1}}, nil
		}}
		bp := NewBatchProcessor(&memoryTarget{}, embedder, nil, 1, time.Millisecond)

		_, err := bp.Process(context.Background(), sourceRecords("alpha", "beta"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mismatch")
	})

	t.Run("target rejects write", func(t *testing.T) {
		target := &memoryTarget{failing: core.ErrDimensionMismatch}
		bp := NewBatchProcessor(target, &mockEmbedder{}, nil, 1, time.Millisecond)

		result, err := bp.Process(context.Background(), sourceRecords("alpha", "beta"))
		assert.ErrorIs(t, err, core.ErrDimensionMismatch)
		assert.Zero(t, result.Written)
	})
}

func TestBatchProcessor_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	embedder := &mockEmbedder{}
	bp := NewBatchProcessor(&memoryTarget{}, embedder, nil, 3, time.Millisecond)

	_, err := bp.Process(ctx, sourceRecords("alpha"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, embedder.calls)
}
