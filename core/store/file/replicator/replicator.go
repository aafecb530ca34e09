package replicator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/you-humble/snapchef/core/retry"
)

type Storage interface {
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error)
	Open(ctx context.Context, filename string) (io.ReadCloser, int64, error)
}

type Job struct {
	Filename string
	Size     int64
	Hash     string
}

// Replicator copies files from local to remote storage in the background.
type Replicator struct {
	local  Storage
	remote Storage

	queue     chan Job
	workerNum int
	policy    retry.Policy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewReplicator(local, remote Storage, queueSize, workerNum, maxRetries int) *Replicator {
	if queueSize <= 0 {
		queueSize = 100
	}
	if workerNum <= 0 {
		workerNum = 1
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Replicator{
		local:     local,
		remote:    remote,
		queue:     make(chan Job, queueSize),
		workerNum: workerNum,
		policy: retry.Policy{
			MaxAttempts: maxRetries + 1,
			Delay:       retry.Exponential(500 * time.Millisecond),
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *Replicator) Start(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.wg.Add(r.workerNum)
	for range r.workerNum {
		go r.worker()
	}
}

func (r *Replicator) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		r.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	case <-doneCh:
	}

	r.cancel()
	slog.Info("replicator: stopped")
	return nil
}

// Enqueue never blocks; false means the job was dropped.
func (r *Replicator) Enqueue(job Job) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return false
	}

	select {
	case r.queue <- job:
		return true
	default:
		return false
	}
}

func (r *Replicator) worker() {
	defer r.wg.Done()

	for job := range r.queue {
		r.handleJob(r.ctx, job)
	}
}

func (r *Replicator) handleJob(ctx context.Context, job Job) {
	l := slog.With(slog.String("filename", job.Filename))

	p := r.policy
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		l.Warn("replication failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	if _, err := retry.Do(ctx, p, func(ctx context.Context, _ int) (int64, error) {
		return r.replicateOnce(ctx, job)
	}); err != nil {
		l.Error("replication failed", slog.String("error", err.Error()))
	}
}

func (r *Replicator) replicateOnce(ctx context.Context, job Job) (int64, error) {
	rc, size, err := r.local.Open(ctx, job.Filename)
	if err != nil {
		return 0, fmt.Errorf("open local file: %w", err)
	}
	defer rc.Close()

	if job.Size > 0 {
		size = job.Size
	}

	written, remoteHash, err := r.remote.Save(ctx, rc, job.Filename, size)
	if err != nil {
		return 0, fmt.Errorf("save to remote: %w", err)
	}
	if written <= 0 {
		return 0, fmt.Errorf("remote save wrote zero bytes")
	}
	if job.Hash != "" && remoteHash != "" && job.Hash != remoteHash {
		return 0, fmt.Errorf("hash mismatch: local=%s remote=%s", job.Hash, remoteHash)
	}

	slog.Debug("replicator: file replicated",
		slog.String("filename", job.Filename),
		slog.Int64("size", written),
	)
	return written, nil
}
