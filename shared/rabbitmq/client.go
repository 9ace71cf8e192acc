package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrNotConnected = errors.New("rabbitmq: not connected")

const (
	defaultPublishRetries = 3
	defaultPublishDelay   = 100 * time.Millisecond
	defaultBackoffMult    = 2.0
)

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	RoutingKey         string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// URI builds the broker address. An empty vhost selects "/".
func (c *Config) URI() string {
	vhost := c.VHost
	if vhost == "" {
		vhost = "/"
	}
	return amqp.URI{
		Scheme:   "amqp",
		Host:     c.Host,
		Port:     c.Port,
		Username: c.User,
		Password: c.Password,
		Vhost:    vhost,
	}.String()
}

// publishTarget returns the exchange and routing key for jobs. Without a
// named exchange messages go through the default exchange keyed by queue.
func (c *Config) publishTarget() (exchange, key string) {
	if c.ExchangeName == "" {
		return "", c.QueueName
	}
	return c.ExchangeName, c.RoutingKey
}

// Client owns one connection and one channel shared by publishers and a consumer
type Client struct {
	config    *Config
	logger    *slog.Logger
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected atomic.Bool
	publishMu sync.Mutex
}

// NewClient dials the broker and declares the job topology
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	c := &Client{
		config: config,
		logger: logger.With(slog.String("queue", config.QueueName)),
	}

	conn, err := c.dial()
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareTopology(ch, config); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	c.conn, c.channel = conn, ch
	c.connected.Store(true)
	go c.watch(ch.NotifyClose(make(chan *amqp.Error, 1)))

	c.logger.Info("RabbitMQ client ready", slog.String("exchange", config.ExchangeName))
	return c, nil
}

func (c *Client) dial() (*amqp.Connection, error) {
	cfg := amqp.Config{Heartbeat: c.config.Heartbeat, Locale: "en_US"}
	if c.config.ConnectionTimeout > 0 {
		cfg.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	attempts := max(c.config.RetryAttempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var conn *amqp.Connection
		if conn, err = amqp.DialConfig(c.config.URI(), cfg); err == nil {
			return conn, nil
		}

		c.logger.Warn("RabbitMQ dial failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.String("error", err.Error()),
		)
		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
}

func declareTopology(ch *amqp.Channel, cfg *Config) error {
	if _, err := ch.QueueDeclare(cfg.QueueName, cfg.QueueDurable, cfg.QueueAutoDelete, cfg.QueueExclusive, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", cfg.QueueName, err)
	}

	if cfg.ExchangeName == "" {
		return nil
	}

	kind := cfg.ExchangeType
	if kind == "" {
		kind = amqp.ExchangeDirect
	}
	if err := ch.ExchangeDeclare(cfg.ExchangeName, kind, cfg.ExchangeDurable, cfg.ExchangeAutoDelete, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", cfg.ExchangeName, err)
	}
	if err := ch.QueueBind(cfg.QueueName, cfg.RoutingKey, cfg.ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %q: %w", cfg.QueueName, err)
	}
	return nil
}

// watch marks the client disconnected once the channel closes so that
// publishers fail fast instead of blocking
func (c *Client) watch(closed <-chan *amqp.Error) {
	amqpErr, ok := <-closed
	c.connected.Store(false)
	if ok && amqpErr != nil {
		c.logger.Error("RabbitMQ channel closed",
			slog.Int("code", amqpErr.Code),
			slog.String("reason", amqpErr.Reason),
		)
	}
}

func (c *Client) publish(ctx context.Context, body []byte, contentType string) error {
	exchange, key := c.config.publishTarget()
	msg := amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}

	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	return c.channel.PublishWithContext(ctx, exchange, key, false, false, msg)
}

// Publish sends one persistent message without retrying
func (c *Client) Publish(ctx context.Context, body []byte, contentType string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := c.publish(ctx, body, contentType); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// PublishWithRetry retries failed publishes with exponential backoff until
// the attempts run out or ctx is done.
func (c *Client) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	retries := c.config.PublishRetries
	if retries <= 0 {
		retries = defaultPublishRetries
	}
	delay := c.config.PublishRetryDelay
	if delay <= 0 {
		delay = defaultPublishDelay
	}
	mult := c.config.PublishBackoffMult
	if mult <= 0 {
		mult = defaultBackoffMult
	}

	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying RabbitMQ publish",
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("publish canceled: %w", ctx.Err())
			case <-timer.C:
			}
			delay = time.Duration(float64(delay) * mult)
		}

		if err = c.Publish(ctx, body, contentType); err == nil {
			return nil
		}
	}

	c.logger.Error("RabbitMQ publish exhausted retries", slog.String("error", err.Error()))
	return fmt.Errorf("failed to publish message after %d attempts: %w", retries+1, err)
}

// Consume starts a manual-ack consumer on the job queue. prefetchCount
// bounds the unacknowledged deliveries held by this consumer.
func (c *Client) Consume(consumerTag string, prefetchCount int) (<-chan amqp.Delivery, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	if err := c.channel.Qos(prefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := c.channel.Consume(c.config.QueueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume queue %q: %w", c.config.QueueName, err)
	}

	c.logger.Info("Consuming jobs",
		slog.String("consumer_tag", consumerTag),
		slog.Int("prefetch_count", prefetchCount),
	)
	return deliveries, nil
}

func (c *Client) Close() error {
	c.connected.Store(false)

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	c.logger.Info("RabbitMQ connection closed")
	return nil
}

func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.conn != nil && !c.conn.IsClosed()
}
