package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/predict-queue/internal/config"
	"github.com/cuongbtq/predict-queue/internal/domain"
	"github.com/cuongbtq/predict-queue/shared/postgresql"
	"github.com/cuongbtq/predict-queue/shared/rabbitmq"
	"github.com/cuongbtq/predict-queue/shared/redis"
)

// Backends bundles the job queue and result store a service talks to
type Backends struct {
	Queue   domain.JobQueue
	Results domain.ResultStore
	// Sweeper is nil when the result backend expires entries on its own
	Sweeper domain.Sweeper

	pingers []func(ctx context.Context) error
	closers []func() error
}

// Open connects the queue and result store selected by cfg.Broker.
// consumerTag identifies this process to consuming backends.
func Open(ctx context.Context, cfg *config.Config, consumerTag string, logger *slog.Logger) (*Backends, error) {
	b := &Backends{}

	var redisClient *redis.Client
	getRedis := func() (*redis.Client, error) {
		if redisClient != nil {
			return redisClient, nil
		}
		client, err := redis.NewClient(redisConfig(&cfg.Redis), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		redisClient = client
		b.pingers = append(b.pingers, client.Ping)
		b.closers = append(b.closers, client.Close)
		return client, nil
	}

	switch cfg.Broker.QueueBackend {
	case config.BackendRedis:
		client, err := getRedis()
		if err != nil {
			return nil, b.closeOnError(err)
		}
		b.Queue = NewRedisQueue(client, cfg.Broker.QueueName, cfg.Broker.PopTimeout, logger)

	case config.BackendRabbitMQ:
		client, err := rabbitmq.NewClient(rabbitMQConfig(&cfg.RabbitMQ), logger)
		if err != nil {
			return nil, b.closeOnError(fmt.Errorf("failed to initialize RabbitMQ: %w", err))
		}
		b.pingers = append(b.pingers, func(context.Context) error {
			if !client.IsConnected() {
				return errors.New("rabbitmq connection lost")
			}
			return nil
		})
		b.closers = append(b.closers, client.Close)
		b.Queue = NewRabbitQueue(client, consumerTag, cfg.RabbitMQ.Consumer.PrefetchCount, cfg.Broker.PopTimeout, logger)

	case config.BackendMemory:
		b.Queue = NewMemoryQueue(cfg.Broker.PopTimeout)

	default:
		return nil, fmt.Errorf("unsupported queue backend %q", cfg.Broker.QueueBackend)
	}

	switch cfg.Broker.ResultBackend {
	case config.BackendRedis:
		client, err := getRedis()
		if err != nil {
			return nil, b.closeOnError(err)
		}
		b.Results = NewRedisResultStore(client, cfg.Broker.ResultPrefix, cfg.Broker.ResultTTL)

	case config.BackendPostgres:
		client, err := postgresql.NewClient(postgresConfig(&cfg.Database), logger)
		if err != nil {
			return nil, b.closeOnError(fmt.Errorf("failed to initialize database: %w", err))
		}
		b.pingers = append(b.pingers, client.HealthCheck)
		b.closers = append(b.closers, client.Close)

		store := NewPostgresResultStore(client, cfg.Broker.ResultTTL, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, b.closeOnError(err)
		}
		b.Results = store
		b.Sweeper = store

	case config.BackendMemory:
		store := NewMemoryResultStore(cfg.Broker.ResultTTL)
		b.Results = store
		b.Sweeper = store

	default:
		return nil, b.closeOnError(fmt.Errorf("unsupported result backend %q", cfg.Broker.ResultBackend))
	}

	logger.Info("Broker backends ready",
		slog.String("queue_backend", cfg.Broker.QueueBackend),
		slog.String("result_backend", cfg.Broker.ResultBackend),
	)

	return b, nil
}

// Ping checks every remote backend
func (b *Backends) Ping(ctx context.Context) error {
	for _, ping := range b.pingers {
		if err := ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases every backend connection
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

func (b *Backends) closeOnError(err error) error {
	_ = b.Close()
	return err
}

func redisConfig(cfg *config.RedisConfig) *redis.Config {
	return &redis.Config{
		URL:          cfg.URL,
		Host:         cfg.Host,
		Port:         cfg.Port,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

func postgresConfig(cfg *config.DatabaseConfig) *postgresql.Config {
	return &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}
}

func rabbitMQConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}
