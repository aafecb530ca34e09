package app

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/you-humble/snapchef/api/internal/infra/config"
	"github.com/you-humble/snapchef/api/internal/transport"
	"github.com/you-humble/snapchef/api/internal/usecase"
	"github.com/you-humble/snapchef/core/inference"
	mio "github.com/you-humble/snapchef/core/libs/minio"
	natsq "github.com/you-humble/snapchef/core/libs/nats"
	rediscli "github.com/you-humble/snapchef/core/libs/redis"
	"github.com/you-humble/snapchef/core/metrics"
	"github.com/you-humble/snapchef/core/queue"
	filestore "github.com/you-humble/snapchef/core/store/file"
	"github.com/you-humble/snapchef/core/store/preferences"
	taskstore "github.com/you-humble/snapchef/core/store/task"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const defaultCfgPath = "./configs/api.yaml"

type Router interface {
	MountRoutes(*http.ServeMux) *http.ServeMux
}

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

	prefs *preferences.Repository

	natsConn *nats.Conn
	js       nats.JetStreamContext

	taskQueue usecase.TaskQueue
	generator usecase.RecipeGenerator
	janitor   *usecase.Janitor

	usecase transport.Usecase
	handler transport.Handler
	router  Router
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
		di.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})).With(slog.String("service", "api"))
	}

	slog.SetDefault(di.logger)
	return di.logger
}

func (di *dependencyInjector) Metrics() *metrics.Metrics {
	if di.metrics == nil {
		di.metrics = metrics.New("snapchef_api")
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
		di.Logger().Info(
			"using async file store (local + MinIO)",
			slog.Int("queue_size", cfg.Replication.QueueCapacity),
			slog.Int("worker_num", cfg.Replication.Workers),
			slog.Int("max_retries", cfg.Replication.MaxRetries),
		)
	}

	return di.fileStore
}

// Preferences returns nil when no profile database is configured.
func (di *dependencyInjector) Preferences() *preferences.Repository {
	if di.prefs == nil {
		cfg := di.Config().Preferences
		if cfg.DSN == "" {
			return nil
		}

		db, err := preferences.Open(preferences.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			log.Fatalf("Preferences: %+v", err)
		}
		di.prefs = preferences.New(db)
		di.Logger().Info("connected to preferences database")
	}
	return di.prefs
}

func (di *dependencyInjector) NATSConn(ctx context.Context) *nats.Conn {
	if di.natsConn == nil {
		cfg := di.Config().NATS
		nc, err := natsq.NewConnect(cfg.URL, natsq.Config{
			Name:          cfg.Name,
			MaxReconnects: cfg.MaxReconnects,
			ReconnectWait: cfg.ReconnectDelay,
		})
		if err != nil {
			log.Fatalf("NATS connect: %+v", err)
		}
		di.natsConn = nc
	}
	return di.natsConn
}

func (di *dependencyInjector) JetStream(ctx context.Context) nats.JetStreamContext {
	if di.js == nil {
		cfg := di.Config().NATS
		js, err := natsq.NewJetStream(di.NATSConn(ctx), queue.StreamConfig(cfg.Stream, cfg.Subject, cfg.StreamMaxAge))
		if err != nil {
			log.Fatalf("DI JetStream: %+v", err)
		}

		di.js = js
	}
	return di.js
}

func (di *dependencyInjector) TaskQueue(ctx context.Context) usecase.TaskQueue {
	if di.taskQueue == nil {
		cfg := di.Config().NATS
		di.taskQueue = queue.NewPublisher(di.JetStream(ctx), cfg.Subject, cfg.PublishTimeout)
	}
	return di.taskQueue
}

func (di *dependencyInjector) RecipeGenerator() usecase.RecipeGenerator {
	if di.generator == nil {
		cfg := di.Config().Recipes
		backend, err := inference.NewBackend(inference.BackendConfig{
			Provider: cfg.Provider,
			Model:    cfg.Model,
			BaseURL:  cfg.BaseURL,
			APIKey:   cfg.APIKey,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			log.Fatalf("LLM backend: %+v", err)
		}
		di.generator = inference.NewRecipeGenerator(backend)
		di.Logger().Info("LLM backend ready",
			slog.String("provider", cfg.Provider),
			slog.String("model", cfg.Model),
		)
	}
	return di.generator
}

func (di *dependencyInjector) Janitor(ctx context.Context) *usecase.Janitor {
	if di.janitor == nil {
		cfg := di.Config()
		sweeps := []usecase.Sweep{usecase.ImageSweep(di.FileStore(ctx), cfg.TaskTTL)}
		if cfg.TaskStore.Backend == "file" {
			sweeps = append(sweeps, usecase.Sweep{
				Name:    "tasks",
				Cleaner: di.TaskStore(ctx),
				MaxAge:  cfg.TaskStore.TTL,
			})
		}
		di.janitor = usecase.NewJanitor(cfg.CleanupInterval, sweeps...)
	}
	return di.janitor
}

func (di *dependencyInjector) Usecase(ctx context.Context) transport.Usecase {
	if di.usecase == nil {
		cfg := di.Config()

		var prefs usecase.Preferences
		if repo := di.Preferences(); repo != nil {
			prefs = repo
		}

		di.usecase = usecase.New(
			di.TaskStore(ctx),
			di.FileStore(ctx),
			di.TaskQueue(ctx),
			di.RecipeGenerator(),
			prefs,
			usecase.RecipeRetry{
				MaxAttempts:    cfg.Recipes.MaxAttempts,
				BaseDelay:      cfg.Recipes.BaseDelay,
				AttemptTimeout: cfg.Recipes.Timeout,
			},
			di.Metrics(),
		)
	}

	return di.usecase
}

func (di *dependencyInjector) Handler(ctx context.Context) transport.Handler {
	if di.handler == nil {
		var checks []transport.HealthCheck
		if repo := di.Preferences(); repo != nil {
			checks = append(checks, transport.HealthCheck{Name: "preferences", Ping: repo.Ping})
		}
		di.handler = transport.NewHandler(di.Config().MaxUploadBytesMb, di.Usecase(ctx), di.Metrics(), checks...)
	}

	return di.handler
}

func (di *dependencyInjector) Router(ctx context.Context) Router {
	if di.router == nil {
		di.router = transport.NewRouter(di.Handler(ctx), di.Metrics().Handler())
	}

	return di.router
}

// Close releases what the API opened.
func (di *dependencyInjector) Close(ctx context.Context) {
	if di.natsConn != nil {
		if err := di.natsConn.Drain(); err != nil {
			di.natsConn.Close()
		}
	}
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
	if di.prefs != nil {
		if err := di.prefs.Close(); err != nil {
			slog.Warn("preferences close", slog.String("error", err.Error()))
		}
	}
}
