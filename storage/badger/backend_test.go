package badger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "nested", "db")
	backend, err := OpenBackend(tmpDir, false)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	info, err := os.Stat(tmpDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenBackend_NotADirectory(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(tmpFile, []byte("x"), 0644))

	backend, err := OpenBackend(tmpFile, false)
	assert.Error(t, err)
	assert.Nil(t, backend)
}

func TestBackendClose(t *testing.T) {
	backend, err := NewMemoryBackend()
	require.NoError(t, err)

	assert.False(t, backend.IsClosed())
	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())
}

func TestGetSequence(t *testing.T) {
	backend, err := NewMemoryBackend()
	require.NoError(t, err)
	defer backend.Close()

	seq, err := backend.GetSequence("test:seq")
	require.NoError(t, err)
	defer seq.Release()

	first, err := nextNonZero(seq)
	require.NoError(t, err)
	second, err := nextNonZero(seq)
	require.NoError(t, err)

	assert.NotZero(t, first)
	assert.Greater(t, second, first)
}

func TestRecordKeyOrdering(t *testing.T) {
	a := makeRecordKey("docs", 2)
	b := makeRecordKey("docs", 256)
	assert.Less(t, string(a), string(b), "big endian IDs must sort numerically")
	assert.Equal(t, uint64(256), uint64(recordIDFromKey(b)))
	assert.False(t, bytes.HasPrefix(makeRecordPrefix("docs-2"), makeRecordPrefix("docs")))
}
