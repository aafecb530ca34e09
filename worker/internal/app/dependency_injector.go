package wapp

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/you-humble/snapchef/core/inference"
	mio "github.com/you-humble/snapchef/core/libs/minio"
	natsq "github.com/you-humble/snapchef/core/libs/nats"
	rediscli "github.com/you-humble/snapchef/core/libs/redis"
	"github.com/you-humble/snapchef/core/metrics"
	"github.com/you-humble/snapchef/core/queue"
	filestore "github.com/you-humble/snapchef/core/store/file"
	taskstore "github.com/you-humble/snapchef/core/store/task"
	"github.com/you-humble/snapchef/worker/internal/infra/config"
	"github.com/you-humble/snapchef/worker/internal/processor"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const defaultCfgPath = "./configs/worker.yaml"

type closer interface {
	Close(ctx context.Context) error
}

type dependencyInjector struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	redis     *redis.Client
	taskStore *taskstore.Store

	fileStore  filestore.FileStore
	fileCloser closer

	recognizer *inference.Recognizer
	processor  *processor.Processor
	consumer   *queue.Consumer
}

func newDI() *dependencyInjector {
	return &dependencyInjector{}
}

func (di *dependencyInjector) Config() *config.Config {
	if di.cfg == nil {
		path := os.Getenv("CONFIG_PATH")
		if path == "" {
			path = defaultCfgPath
		}
		di.cfg = config.MustLoad(path)
	}

	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		di.logger = slog.New(
			slog.NewTextHandler(
				os.Stdout,
				&slog.HandlerOptions{
					Level: slog.LevelInfo,
				},
			),
		).With(slog.String("service", "worker"))
	}

	slog.SetDefault(di.logger)
	return di.logger
}

func (di *dependencyInjector) Metrics() *metrics.Metrics {
	if di.metrics == nil {
		di.metrics = metrics.New("snapchef_worker")
	}
	return di.metrics
}

func (di *dependencyInjector) RedisClient(ctx context.Context) *redis.Client {
	if di.redis == nil {
		cfg := di.Config().Redis
		client, err := rediscli.NewClient(ctx, rediscli.Config{
			Addr:     cfg.Addr,
			User:     cfg.User,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err != nil {
			log.Fatalf("Redis: %+v", err)
		}

		di.redis = client
		di.Logger().Info("connected to redis", slog.String("addr", cfg.Addr))
	}
	return di.redis
}

// FileStore reads uploaded images: local disk first, then MinIO when the
// upload was made on another host.
func (di *dependencyInjector) FileStore(ctx context.Context) filestore.FileStore {
	if di.fileStore == nil {
		cfg := di.Config()

		local, err := filestore.NewLocalStore(cfg.BaseDir)
		if err != nil {
			log.Fatalf("FileStore local: %+v", err)
		}
		di.Logger().Info("initialized local file store", slog.String("base_dir", cfg.BaseDir))

		if !cfg.MinIO.Enabled {
			di.fileStore = local
			return di.fileStore
		}

		remote, err := filestore.NewMinIOStore(ctx, mio.Config{
			Endpoint:        cfg.MinIO.Endpoint,
			AccessKeyID:     cfg.MinIO.AccessKeyID,
			SecretAccessKey: cfg.MinIO.SecretAccessKey,
			UseSSL:          cfg.MinIO.UseSSL,
			Bucket:          cfg.MinIO.Bucket,
		})
		if err != nil {
			log.Fatalf("FileStore minio: %+v", err)
		}
		di.Logger().Info(
			"initialized MinIO file store",
			slog.String("endpoint", cfg.MinIO.Endpoint),
			slog.String("bucket", cfg.MinIO.Bucket),
		)

		async := filestore.NewAsyncStore(ctx, local, remote,
			cfg.Replication.QueueCapacity, cfg.Replication.Workers, cfg.Replication.MaxRetries)
		di.fileStore = async
		di.fileCloser = async
	}

	return di.fileStore
}

func (di *dependencyInjector) TaskStore(ctx context.Context) *taskstore.Store {
	if di.taskStore == nil {
		cfg := di.Config()
		switch cfg.TaskStore.Backend {
		case "redis":
			di.taskStore = taskstore.New(taskstore.NewRedisKV(di.RedisClient(ctx), cfg.TaskStore.TTL))
		default:
			local, err := filestore.NewLocalStore(cfg.BaseDir)
			if err != nil {
				log.Fatalf("TaskStore file: %+v", err)
			}
			di.taskStore = taskstore.New(taskstore.NewFileKV(local))
		}
		di.Logger().Info("initialized task store", slog.String("backend", cfg.TaskStore.Backend))
	}
	return di.taskStore
}

func (di *dependencyInjector) Recognizer(ctx context.Context) *inference.Recognizer {
	if di.recognizer == nil {
		cfg := di.Config().VLM
		backend, err := inference.NewBackend(inference.BackendConfig{
			Provider: cfg.Provider,
			Model:    cfg.Model,
			BaseURL:  cfg.BaseURL,
			APIKey:   cfg.APIKey,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			log.Fatalf("VLM backend: %+v", err)
		}
		di.recognizer = inference.NewRecognizer(backend, di.FileStore(ctx))
		di.Logger().Info("VLM backend ready",
			slog.String("provider", cfg.Provider),
			slog.String("model", cfg.Model),
		)
	}
	return di.recognizer
}

func (di *dependencyInjector) Processor(ctx context.Context) *processor.Processor {
	if di.processor == nil {
		cfg := di.Config().Worker
		di.processor = processor.New(
			processor.Config{
				MaxRetries:       cfg.MaxRetries,
				RetryDelay:       cfg.RetryDelay,
				InferenceTimeout: cfg.InferenceTimeout,
				MaxInflight:      cfg.MaxInflight,
			},
			di.TaskStore(ctx),
			di.Recognizer(ctx),
			di.Metrics(),
		)
	}
	return di.processor
}

// Dialer opens a new NATS session and declares the stream on it.
func (di *dependencyInjector) Dialer() queue.Dialer {
	cfg := di.Config().NATS
	return func(ctx context.Context) (nats.JetStreamContext, func(), error) {
		nc, err := natsq.NewConnect(cfg.URL, natsq.Config{
			Name:          cfg.Durable,
			MaxReconnects: cfg.MaxReconnects,
			ReconnectWait: cfg.ReconnectDelay,
		})
		if err != nil {
			return nil, nil, err
		}

		js, err := natsq.NewJetStream(nc, queue.StreamConfig(cfg.Stream, cfg.Subject, cfg.StreamMaxAge))
		if err != nil {
			nc.Close()
			return nil, nil, err
		}

		release := func() {
			if err := nc.Drain(); err != nil {
				nc.Close()
			}
		}
		return js, release, nil
	}
}

func (di *dependencyInjector) Consumer() *queue.Consumer {
	if di.consumer == nil {
		cfg := di.Config()
		di.consumer = queue.NewConsumer(queue.ConsumerConfig{
			Stream:         cfg.NATS.Stream,
			Subject:        cfg.NATS.Subject,
			Durable:        cfg.NATS.Durable,
			Prefetch:       cfg.Worker.Prefetch,
			AckWait:        cfg.NATS.AckWait,
			NakDelay:       cfg.NATS.NakDelay,
			ReconnectDelay: cfg.NATS.ReconnectDelay,
		}, di.Dialer())
	}
	return di.consumer
}

// Close releases what the worker opened, in reverse order.
func (di *dependencyInjector) Close(ctx context.Context) {
	if di.fileCloser != nil {
		if err := di.fileCloser.Close(ctx); err != nil {
			slog.Warn("file store close", slog.String("error", err.Error()))
		}
	}
	if di.redis != nil {
		if err := di.redis.Close(); err != nil {
			slog.Warn("redis close", slog.String("error", err.Error()))
		}
	}
}
