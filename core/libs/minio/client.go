package mio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/you-humble/snapchef/core/retry"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	BasePath        string
	Retry           RetryConfig
}

type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// NewClient connects to MinIO and makes sure the bucket exists, retrying with
// capped exponential backoff while the server is not reachable yet.
func NewClient(ctx context.Context, cfg Config) (*minio.Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty MinIO endpoint")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("empty MinIO bucket")
	}
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry.MaxRetries = 5
	}
	if cfg.Retry.InitialInterval <= 0 {
		cfg.Retry.InitialInterval = time.Second
	}
	if cfg.Retry.MaxInterval <= 0 {
		cfg.Retry.MaxInterval = 30 * time.Second
	}

	backoff := retry.Exponential(cfg.Retry.InitialInterval)
	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxRetries,
		Delay: func(attempt int, err error) time.Duration {
			return min(backoff(attempt, err), cfg.Retry.MaxInterval)
		},
		OnRetry: func(attempt int, err error, wait time.Duration) {
			slog.Warn("MinIO not ready, retrying",
				slog.String("endpoint", cfg.Endpoint),
				slog.Int("attempt", attempt+1),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()),
			)
		},
	}

	client, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) (*minio.Client, error) {
		client, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("create MinIO client: %w", err)
		}
		if err := ensureBucket(ctx, client, cfg.Bucket); err != nil {
			return nil, err
		}
		return client, nil
	})
	if err != nil {
		return nil, fmt.Errorf("init MinIO: %w", err)
	}

	return client, nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket exists: %w", err)
	}
	if exists {
		return nil
	}

	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}
