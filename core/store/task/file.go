package taskstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	filestore "github.com/you-humble/snapchef/core/store/file"
)

type blobStore interface {
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error)
	Open(ctx context.Context, filename string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, filename string) error
	CleanupPrefix(ctx context.Context, prefix string, maxAge time.Duration) error
}

// fileKV stores each key as a JSON file. The local file store renames a
// temp file into place, which gives atomic Put.
type fileKV struct {
	fs blobStore
}

func NewFileKV(fs blobStore) *fileKV {
	return &fileKV{fs: fs}
}

func (kv *fileKV) Get(ctx context.Context, key string) ([]byte, error) {
	rc, _, err := kv.fs.Open(ctx, key)
	if err != nil {
		if errors.Is(err, filestore.ErrFileNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (kv *fileKV) Put(ctx context.Context, key string, value []byte) error {
	_, _, err := kv.fs.Save(ctx, bytes.NewReader(value), key, int64(len(value)))
	return err
}

// CleanupOlderThan drops result and recipe files past their retention.
// Other files sharing the base directory are left alone.
func (kv *fileKV) CleanupOlderThan(ctx context.Context, maxAge time.Duration) error {
	for _, prefix := range []string{resultsDir, recipesDir} {
		if err := kv.fs.CleanupPrefix(ctx, prefix, maxAge); err != nil {
			return fmt.Errorf("cleanup %s: %w", prefix, err)
		}
	}
	return nil
}
