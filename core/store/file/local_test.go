package filestore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_SaveOpenDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	data := []byte{0xFF, 0xD8, 0xFF, 0xE0, 1, 2, 3}
	n, hash, err := s.Save(ctx, bytes.NewReader(data), "images/a.jpg", int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Len(t, hash, 64)

	rc, size, err := s.Open(ctx, "images/a.jpg")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, int64(len(data)), size)

	entries, err := os.ReadDir(filepath.Join(s.baseDir, "images"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")

	require.NoError(t, s.Delete(ctx, "images/a.jpg"))
	require.NoError(t, s.Delete(ctx, "images/a.jpg"))

	_, _, err = s.Open(ctx, "images/a.jpg")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestLocalStore_RejectsEscapingPaths(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "   ", "../etc/passwd", "/etc/passwd"} {
		_, _, err := s.Save(context.Background(), bytes.NewReader(nil), name, 0)
		assert.Error(t, err, name)
	}
}

func TestLocalStore_CleanupOlderThan(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"images/old.jpg", "images/new.jpg"} {
		_, _, err := s.Save(ctx, bytes.NewReader([]byte("x")), name, 1)
		require.NoError(t, err)
	}
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(s.baseDir, "images/old.jpg"), old, old))

	require.NoError(t, s.CleanupOlderThan(ctx, time.Hour))

	_, _, err = s.Open(ctx, "images/old.jpg")
	assert.ErrorIs(t, err, ErrFileNotFound)
	rc, _, err := s.Open(ctx, "images/new.jpg")
	require.NoError(t, err)
	_ = rc.Close()
}

func TestLocalStore_CleanupPrefix(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"images/old.jpg", "results/old.json"} {
		_, _, err := s.Save(ctx, bytes.NewReader([]byte("x")), name, 1)
		require.NoError(t, err)
		old := time.Now().Add(-2 * time.Hour)
		require.NoError(t, os.Chtimes(filepath.Join(s.baseDir, name), old, old))
	}

	require.NoError(t, s.CleanupPrefix(ctx, "images/", time.Hour))
	require.NoError(t, s.CleanupPrefix(ctx, "recipes/", time.Hour))

	_, _, err = s.Open(ctx, "images/old.jpg")
	assert.ErrorIs(t, err, ErrFileNotFound)
	rc, _, err := s.Open(ctx, "results/old.json")
	require.NoError(t, err)
	_ = rc.Close()
}
