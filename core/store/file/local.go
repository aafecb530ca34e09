package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var ErrFileNotFound = errors.New("file not found")

type localStore struct {
	baseDir string
}

func NewLocalStore(baseDir string) (*localStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir is empty")
	}

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}

	return &localStore{baseDir: baseDir}, nil
}

// Save writes to a temp file next to the target and renames it, so readers
// never observe a partially written file.
func (s *localStore) Save(
	ctx context.Context,
	reader io.Reader,
	filename string,
	size int64,
) (int64, string, error) {
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}

	fullPath, err := s.fullFilePath(filename)
	if err != nil {
		return 0, "", err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return 0, "", fmt.Errorf("mkdir: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(fullPath), filepath.Base(fullPath)+".tmp-*")
	if err != nil {
		return 0, "", fmt.Errorf("create temp file: %w", err)
	}
	tempPath := f.Name()
	defer func() {
		_ = f.Close()
		_ = os.Remove(tempPath)
	}()

	hasher := sha256.New()
	written, err := io.Copy(f, io.TeeReader(reader, hasher))
	if err != nil {
		return 0, "", fmt.Errorf("write file: %w", err)
	}
	if size > 0 && written != size {
		return 0, "", fmt.Errorf("short write: got %d of %d bytes", written, size)
	}

	if err := f.Sync(); err != nil {
		return 0, "", fmt.Errorf("sync file: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, "", fmt.Errorf("close file: %w", err)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		return 0, "", fmt.Errorf("rename temp file: %w", err)
	}

	return written, hex.EncodeToString(hasher.Sum(nil)), nil
}

func (s *localStore) Open(ctx context.Context, filename string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	fullPath, err := s.fullFilePath(filename)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %s", ErrFileNotFound, filename)
		}
		return nil, 0, fmt.Errorf("open file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat file: %w", err)
	}

	return f, info.Size(), nil
}

func (s *localStore) Delete(ctx context.Context, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath, err := s.fullFilePath(filename)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// CleanupOlderThan removes regular files whose mtime is older than maxAge.
func (s *localStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) error {
	return s.CleanupPrefix(ctx, "", maxAge)
}

// CleanupPrefix is CleanupOlderThan limited to the directory prefix, e.g.
// "images/". A missing directory is not an error.
func (s *localStore) CleanupPrefix(ctx context.Context, prefix string, maxAge time.Duration) error {
	root := s.baseDir
	if prefix != "" {
		var err error
		if root, err = s.fullFilePath(prefix); err != nil {
			return err
		}
	}
	border := time.Now().Add(-maxAge)

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(border) {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("remove %s: %w", path, err)
			}
		}
		return nil
	})
}

func (s *localStore) fullFilePath(filename string) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", fmt.Errorf("empty filename")
	}

	clean := filepath.Clean(filename)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid filename: %s", filename)
	}

	return filepath.Join(s.baseDir, clean), nil
}
