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
	Env         string `yaml:"env"`
	BaseDir     string `yaml:"base_dir"`
	MetricsAddr string `yaml:"metrics_addr"`

	Worker      Worker      `yaml:"worker"`
	VLM         Model       `yaml:"vlm"`
	TaskStore   TaskStore   `yaml:"task_store"`
	Replication Replication `yaml:"replication"`

	Redis Redis `yaml:"redis"`
	MinIO MinIO `yaml:"minio"`
	NATS  NATS  `yaml:"nats"`
}

type Worker struct {
	Prefetch         int           `yaml:"prefetch"`
	MaxInflight      int           `yaml:"max_inflight"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	InferenceTimeout time.Duration `yaml:"inference_timeout"`
}

type Model struct {
	// Provider is ollama or openai.
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
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
	Stream         string        `yaml:"stream"`
	Subject        string        `yaml:"subject"`
	Durable        string        `yaml:"durable"`
	MaxReconnects  int           `yaml:"max_reconnects"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	AckWait        time.Duration `yaml:"ack_wait"`
	NakDelay       time.Duration `yaml:"nak_delay"`
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
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9091"
	}

	if c.Worker.MaxInflight == 0 {
		c.Worker.MaxInflight = 3
	}
	if c.Worker.Prefetch == 0 {
		c.Worker.Prefetch = c.Worker.MaxInflight
	}
	if c.Worker.MaxRetries == 0 {
		c.Worker.MaxRetries = 3
	}
	if c.Worker.RetryDelay == 0 {
		c.Worker.RetryDelay = 2 * time.Second
	}
	if c.Worker.InferenceTimeout == 0 {
		c.Worker.InferenceTimeout = 300 * time.Second
	}

	if c.VLM.Provider == "" {
		c.VLM.Provider = "ollama"
	}
	if c.VLM.Model == "" {
		c.VLM.Model = "llava"
	}
	if c.VLM.Timeout == 0 {
		c.VLM.Timeout = c.Worker.InferenceTimeout
	}

	if c.TaskStore.Backend == "" {
		c.TaskStore.Backend = "file"
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

	if c.NATS.Stream == "" {
		c.NATS.Stream = "INGREDIENTS"
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "ingredient_queue"
	}
	if c.NATS.Durable == "" {
		c.NATS.Durable = "ingredient-workers"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.NATS.ReconnectDelay == 0 {
		c.NATS.ReconnectDelay = 5 * time.Second
	}
	if c.NATS.AckWait == 0 {
		c.NATS.AckWait = time.Minute
	}
	if c.NATS.NakDelay == 0 {
		c.NATS.NakDelay = 5 * time.Second
	}
	if c.NATS.StreamMaxAge == 0 {
		c.NATS.StreamMaxAge = 48 * time.Hour
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
	if c.Worker.MaxInflight < 1 {
		errs = append(errs, fmt.Errorf("worker.max_inflight must be positive, got %d", c.Worker.MaxInflight))
	}
	if c.Worker.Prefetch < c.Worker.MaxInflight {
		errs = append(errs, fmt.Errorf("worker.prefetch (%d) must be >= worker.max_inflight (%d)",
			c.Worker.Prefetch, c.Worker.MaxInflight))
	}
	if c.Worker.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("worker.max_retries must be positive, got %d", c.Worker.MaxRetries))
	}
	switch c.VLM.Provider {
	case "ollama", "openai":
	default:
		errs = append(errs, fmt.Errorf("vlm.provider %q is not supported", c.VLM.Provider))
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
