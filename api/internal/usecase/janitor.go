package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type Cleaner interface {
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) error
}

// CleanerFunc adapts a function to Cleaner.
type CleanerFunc func(ctx context.Context, maxAge time.Duration) error

func (f CleanerFunc) CleanupOlderThan(ctx context.Context, maxAge time.Duration) error {
	return f(ctx, maxAge)
}

type PrefixCleaner interface {
	CleanupPrefix(ctx context.Context, prefix string, maxAge time.Duration) error
}

// ImageSweep cleans uploaded photos only, leaving anything else that shares
// the file store's directory.
func ImageSweep(fs PrefixCleaner, maxAge time.Duration) Sweep {
	return Sweep{
		Name: "images",
		Cleaner: CleanerFunc(func(ctx context.Context, maxAge time.Duration) error {
			return fs.CleanupPrefix(ctx, imagesDir, maxAge)
		}),
		MaxAge: maxAge,
	}
}

// Sweep is one store the janitor cleans and how long its entries live.
type Sweep struct {
	Name    string
	Cleaner Cleaner
	MaxAge  time.Duration
}

// Janitor periodically removes uploads and task entries past their retention.
type Janitor struct {
	interval time.Duration
	sweeps   []Sweep
}

func NewJanitor(interval time.Duration, sweeps ...Sweep) *Janitor {
	return &Janitor{
		interval: interval,
		sweeps:   sweeps,
	}
}

// Start runs the cleanup loop until ctx is done. The returned channel is
// closed when the loop has exited.
func (j *Janitor) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if j.interval <= 0 || len(j.sweeps) == 0 {
		close(done)
		return done
	}

	ticker := time.NewTicker(j.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.RunOnce(ctx)
			}
		}
	}()
	return done
}

func (j *Janitor) RunOnce(ctx context.Context) {
	for _, sw := range j.sweeps {
		if sw.MaxAge <= 0 {
			continue
		}
		err := sw.Cleaner.CleanupOlderThan(ctx, sw.MaxAge)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("cleanup", slog.String("store", sw.Name), slog.String("error", err.Error()))
			continue
		}
		slog.Debug("cleanup done", slog.String("store", sw.Name), slog.Duration("max_age", sw.MaxAge))
	}
}
