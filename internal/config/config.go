package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cuongbtq/predict-queue/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Broker backends
const (
	BackendRedis    = "redis"
	BackendRabbitMQ = "rabbitmq"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Redis      RedisConfig      `yaml:"redis"`
	Database   DatabaseConfig   `yaml:"database"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Broker     BrokerConfig     `yaml:"broker"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Worker     WorkerConfig     `yaml:"worker"`
	Inference  InferenceConfig  `yaml:"inference"`
	Janitor    JanitorConfig    `yaml:"janitor"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
	App        AppConfig        `yaml:"app"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	URL          string        `yaml:"url"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// BrokerConfig selects the job queue and result store backends
type BrokerConfig struct {
	QueueBackend   string        `yaml:"queue_backend"`  // redis, rabbitmq, memory
	ResultBackend  string        `yaml:"result_backend"` // redis, postgres, memory
	QueueName      string        `yaml:"queue_name"`
	ResultPrefix   string        `yaml:"result_prefix"`
	PopTimeout     time.Duration `yaml:"pop_timeout"`
	ResultTTL      time.Duration `yaml:"result_ttl"`
	EmbeddedWorker bool          `yaml:"embedded_worker"` // api-service only: run the worker pool in-process
}

// DispatcherConfig holds dispatcher polling settings
type DispatcherConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxWait      time.Duration `yaml:"max_wait"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID                string        `yaml:"id"`
	Concurrency       int           `yaml:"concurrency"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	Throttle          time.Duration `yaml:"throttle"`
	PublishRetries    int           `yaml:"publish_retries"`
	PublishRetryDelay time.Duration `yaml:"publish_retry_delay"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// InferenceConfig holds the model server and image folder settings
type InferenceConfig struct {
	UploadFolder   string            `yaml:"upload_folder"`
	ModelServerURL string            `yaml:"model_server_url"`
	RequestTimeout time.Duration     `yaml:"request_timeout"`
	Models         map[string]string `yaml:"models"` // selector -> served model name
}

// JanitorConfig holds the abandoned-result sweep schedule
type JanitorConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"` // worker-service only, the api serves metrics on its own port
	Path    string `yaml:"path"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills every unset field that has a sensible default
func (c *Config) ApplyDefaults() {
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 45 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Broker.QueueBackend == "" {
		c.Broker.QueueBackend = BackendRedis
	}
	if c.Broker.ResultBackend == "" {
		c.Broker.ResultBackend = BackendRedis
	}
	if c.Broker.QueueName == "" {
		c.Broker.QueueName = "service_queue"
	}
	if c.Broker.PopTimeout == 0 {
		c.Broker.PopTimeout = 5 * time.Second
	}
	if c.Broker.ResultTTL == 0 {
		c.Broker.ResultTTL = 10 * time.Minute
	}

	if c.Dispatcher.PollInterval == 0 {
		c.Dispatcher.PollInterval = 50 * time.Millisecond
	}
	if c.Dispatcher.MaxWait == 0 {
		c.Dispatcher.MaxWait = 30 * time.Second
	}

	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 1
	}
	if c.Worker.JobTimeout == 0 {
		c.Worker.JobTimeout = 60 * time.Second
	}
	if c.Worker.Throttle == 0 {
		c.Worker.Throttle = 50 * time.Millisecond
	}
	if c.Worker.PublishRetries == 0 {
		c.Worker.PublishRetries = 3
	}
	if c.Worker.PublishRetryDelay == 0 {
		c.Worker.PublishRetryDelay = 100 * time.Millisecond
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}

	if c.Inference.UploadFolder == "" {
		c.Inference.UploadFolder = "uploads"
	}
	if c.Inference.RequestTimeout == 0 {
		c.Inference.RequestTimeout = 30 * time.Second
	}

	if c.Janitor.Schedule == "" {
		c.Janitor.Schedule = "@every 1m"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Redis.Host == "" && c.Redis.URL == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}

	if c.RabbitMQ.Consumer.PrefetchCount == 0 {
		c.RabbitMQ.Consumer.PrefetchCount = c.Worker.Concurrency
	}
}

// ValidateAPIConfig checks the settings the api service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateBroker(); err != nil {
		return err
	}

	if c.Dispatcher.PollInterval <= 0 {
		return fmt.Errorf("dispatcher poll_interval must be greater than 0")
	}

	if c.Dispatcher.MaxWait < c.Dispatcher.PollInterval {
		return fmt.Errorf("dispatcher max_wait must be at least poll_interval")
	}

	// A result must outlive the longest wait for it, and the response must
	// still be writable once the wait ends.
	if c.Broker.ResultTTL > 0 && c.Broker.ResultTTL < c.Dispatcher.MaxWait {
		return fmt.Errorf("broker result_ttl (%s) must be at least dispatcher max_wait (%s)", c.Broker.ResultTTL, c.Dispatcher.MaxWait)
	}

	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= c.Dispatcher.MaxWait {
		return fmt.Errorf("server write_timeout (%s) must exceed dispatcher max_wait (%s)", c.Server.WriteTimeout, c.Dispatcher.MaxWait)
	}

	if c.Broker.QueueBackend == BackendMemory || c.Broker.ResultBackend == BackendMemory {
		if !c.Broker.EmbeddedWorker {
			return fmt.Errorf("memory broker backends require broker.embedded_worker")
		}
	}

	if c.Broker.EmbeddedWorker {
		return c.validateWorker()
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker service depends on
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateBroker(); err != nil {
		return err
	}

	if c.Broker.QueueBackend == BackendMemory || c.Broker.ResultBackend == BackendMemory {
		return fmt.Errorf("memory broker backends cannot be shared with a separate worker service")
	}

	if c.Metrics.Enabled && (c.Metrics.Port < MinPort || c.Metrics.Port > MaxPort) {
		return fmt.Errorf("invalid metrics port: %d (must be between %d and %d)", c.Metrics.Port, MinPort, MaxPort)
	}

	return c.validateWorker()
}

func (c *Config) validateBroker() error {
	switch c.Broker.QueueBackend {
	case BackendRedis, BackendMemory:
	case BackendRabbitMQ:
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported queue backend %q", c.Broker.QueueBackend)
	}

	switch c.Broker.ResultBackend {
	case BackendRedis, BackendMemory:
	case BackendPostgres:
		if err := c.validateDatabase(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported result backend %q", c.Broker.ResultBackend)
	}

	if c.usesRedis() && c.Redis.URL == "" {
		if c.Redis.Port < MinPort || c.Redis.Port > MaxPort {
			return fmt.Errorf("invalid redis port: %d (must be between %d and %d)", c.Redis.Port, MinPort, MaxPort)
		}
	}

	if c.Broker.QueueName == "" {
		return fmt.Errorf("broker queue_name is required")
	}

	if c.Broker.PopTimeout < time.Second && c.Broker.QueueBackend == BackendRedis {
		return fmt.Errorf("broker pop_timeout must be at least 1s for the redis backend")
	}

	if c.Broker.ResultTTL < 0 {
		return fmt.Errorf("broker result_ttl must not be negative")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.Throttle < 0 {
		return fmt.Errorf("worker throttle must not be negative")
	}

	if c.Worker.PublishRetries < 0 {
		return fmt.Errorf("worker publish_retries must not be negative")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Inference.ModelServerURL == "" {
		return fmt.Errorf("inference model_server_url is required")
	}

	if len(c.Inference.Models) == 0 {
		return fmt.Errorf("at least one inference model must be configured")
	}

	for selector, served := range c.Inference.Models {
		if _, err := domain.ParseModelSelector(selector); err != nil || selector == "" {
			return fmt.Errorf("invalid inference model %q: %w", selector, domain.ErrUnknownModel)
		}
		if served == "" {
			return fmt.Errorf("inference model %s has no served model name", selector)
		}
	}

	return nil
}

func (c *Config) usesRedis() bool {
	return c.Broker.QueueBackend == BackendRedis || c.Broker.ResultBackend == BackendRedis
}
