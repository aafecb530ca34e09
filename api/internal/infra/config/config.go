package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Env             string        `yaml:"env"`
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	BaseDir          string `yaml:"base_dir"`
	MaxUploadBytesMb int64  `yaml:"max_upload_mb"`

	TaskTTL         time.Duration `yaml:"task_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	TaskStore   TaskStore   `yaml:"task_store"`
	Replication Replication `yaml:"replication"`
	Recipes     Recipes     `yaml:"recipes"`
	Preferences Preferences `yaml:"preferences"`

	Redis Redis `yaml:"redis"`
	MinIO MinIO `yaml:"minio"`
	NATS  NATS  `yaml:"nats"`
}

type TaskStore struct {
	// Backend is file or redis.
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
}

type Replication struct {
	QueueCapacity int `yaml:"queue_capacity"`
	Workers       int `yaml:"workers"`
	MaxRetries    int `yaml:"max_retries"`
}

type Recipes struct {
	// Provider is ollama or openai.
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// Preferences points at the user profile database. An empty DSN disables it.
type Preferences struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MinIO struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
}

type NATS struct {
	URL            string        `yaml:"url"`
	Name           string        `yaml:"name"`
	Stream         string        `yaml:"stream"`
	Subject        string        `yaml:"subject"`
	MaxReconnects  int           `yaml:"max_reconnects"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	StreamMaxAge   time.Duration `yaml:"stream_max_age"`
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal yaml: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Env == "" {
		c.Env = "local"
	}
	if c.Addr == "" {
		c.Addr = ":8000"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.MaxUploadBytesMb <= 0 {
		c.MaxUploadBytesMb = 20
	}
	if c.TaskTTL == 0 {
		c.TaskTTL = 24 * time.Hour
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = time.Hour
	}

	if c.TaskStore.Backend == "" {
		c.TaskStore.Backend = "file"
	}
	if c.TaskStore.TTL == 0 {
		c.TaskStore.TTL = 2 * c.TaskTTL
	}

	if c.Replication.QueueCapacity == 0 {
		c.Replication.QueueCapacity = 100
	}
	if c.Replication.Workers == 0 {
		c.Replication.Workers = 2
	}
	if c.Replication.MaxRetries == 0 {
		c.Replication.MaxRetries = 3
	}

	if c.Recipes.Provider == "" {
		c.Recipes.Provider = "ollama"
	}
	if c.Recipes.Model == "" {
		c.Recipes.Model = "gemma3:4b"
	}
	if c.Recipes.Timeout == 0 {
		c.Recipes.Timeout = 300 * time.Second
	}
	if c.Recipes.MaxAttempts == 0 {
		c.Recipes.MaxAttempts = 5
	}
	if c.Recipes.BaseDelay == 0 {
		c.Recipes.BaseDelay = time.Second
	}

	if c.NATS.Name == "" {
		c.NATS.Name = "snapchef-api"
	}
	if c.NATS.Stream == "" {
		c.NATS.Stream = "INGREDIENTS"
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "ingredient_queue"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.NATS.ReconnectDelay == 0 {
		c.NATS.ReconnectDelay = 5 * time.Second
	}
	if c.NATS.PublishTimeout == 0 {
		c.NATS.PublishTimeout = 5 * time.Second
	}
	if c.NATS.StreamMaxAge == 0 {
		c.NATS.StreamMaxAge = 2 * c.TaskTTL
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.BaseDir == "" {
		errs = append(errs, errors.New("base_dir is empty"))
	}
	if c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is empty"))
	}
	if c.TaskTTL < 0 {
		errs = append(errs, fmt.Errorf("task_ttl must be positive, got %s", c.TaskTTL))
	}
	if c.Recipes.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("recipes.max_attempts must be positive, got %d", c.Recipes.MaxAttempts))
	}
	switch c.Recipes.Provider {
	case "ollama", "openai":
	default:
		errs = append(errs, fmt.Errorf("recipes.provider %q is not supported", c.Recipes.Provider))
	}
	switch c.TaskStore.Backend {
	case "file":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("task_store.backend %q is not supported", c.TaskStore.Backend))
	}
	if c.MinIO.Enabled && (c.MinIO.Endpoint == "" || c.MinIO.Bucket == "") {
		errs = append(errs, errors.New("minio.endpoint and minio.bucket are required when minio is enabled"))
	}
	return errors.Join(errs...)
}
