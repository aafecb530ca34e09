package filestore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/you-humble/snapchef/core/store/file/replicator"

	"golang.org/x/sync/errgroup"
)

type FileStore interface {
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error)
	Open(ctx context.Context, filename string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, filename string) error
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) error
	CleanupPrefix(ctx context.Context, prefix string, maxAge time.Duration) error
}

// asyncStore writes locally and replicates to the remote store in the
// background. Uploads land on the API host, so a worker on another host reads
// the photo through the remote fallback in Open; the janitor sweeps both
// copies.
type asyncStore struct {
	local      FileStore
	remote     FileStore
	replicator *replicator.Replicator
}

func NewAsyncStore(
	ctx context.Context,
	local FileStore,
	remote FileStore,
	queueSize,
	workerNum,
	maxRetries int,
) *asyncStore {
	repl := replicator.NewReplicator(local, remote, queueSize, workerNum, maxRetries)
	repl.Start(ctx)

	return &asyncStore{
		local:      local,
		remote:     remote,
		replicator: repl,
	}
}

func (s *asyncStore) Close(ctx context.Context) error {
	return s.replicator.Stop(ctx)
}

func (s *asyncStore) Save(
	ctx context.Context,
	reader io.Reader,
	filename string,
	size int64,
) (int64, string, error) {
	written, hash, err := s.local.Save(ctx, reader, filename, size)
	if err != nil {
		return 0, "", err
	}

	if ok := s.replicator.Enqueue(replicator.Job{
		Filename: filename,
		Size:     written,
		Hash:     hash,
	}); !ok {
		slog.Error("asyncStore: replication queue full, file saved only locally",
			slog.String("filename", filename),
			slog.Int64("size", written),
		)
	}

	return written, hash, nil
}

func (s *asyncStore) Open(ctx context.Context, filename string) (io.ReadCloser, int64, error) {
	rc, size, err := s.local.Open(ctx, filename)
	if err == nil {
		return rc, size, nil
	}
	if !errors.Is(err, ErrFileNotFound) {
		return nil, 0, err
	}

	return s.remote.Open(ctx, filename)
}

func (s *asyncStore) Delete(ctx context.Context, filename string) error {
	var errs []error

	if err := s.local.Delete(ctx, filename); err != nil {
		errs = append(errs, err)
		slog.Warn("asyncStore: delete local failed",
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
	}

	if err := s.remote.Delete(ctx, filename); err != nil {
		errs = append(errs, err)
		slog.Warn("asyncStore: delete remote failed",
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
	}

	return errors.Join(errs...)
}

func (s *asyncStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) error {
	return s.CleanupPrefix(ctx, "", maxAge)
}

func (s *asyncStore) CleanupPrefix(ctx context.Context, prefix string, maxAge time.Duration) error {
	eg, eCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return s.local.CleanupPrefix(eCtx, prefix, maxAge)
	})
	eg.Go(func() error {
		return s.remote.CleanupPrefix(eCtx, prefix, maxAge)
	})

	return eg.Wait()
}
