package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreWriteReadRemove(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	path, err := store.Write(context.Background(), "models/a.usdz", []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.BasePath(), "models", "a.usdz"), path)
	assert.True(t, store.Exists("models/a.usdz"))

	data, err := store.Read("models/a.usdz")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, store.Remove("models/a.usdz"))
	require.NoError(t, store.Remove("models/a.usdz"))
	_, err = store.Read("models/a.usdz")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"", "..", "../x", "a/../../x"} {
		_, err := store.Write(context.Background(), key, []byte("x"))
		assert.Error(t, err, key)
	}
}

func TestWriteFileAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "index.json")
	require.NoError(t, WriteFileAtomic(target, []byte("one"), 0o600))
	require.NoError(t, WriteFileAtomic(target, []byte("two"), 0o600))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestWriteHonoursCancelledContext(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Write(ctx, "a", []byte("x"))
	require.ErrorIs(t, err, context.Canceled)
}
