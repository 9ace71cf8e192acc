package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/predict-queue/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const jobContentType = "application/json"

// AMQPTransport is the subset of the RabbitMQ client used by RabbitQueue
type AMQPTransport interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
	Consume(consumerTag string, prefetchCount int) (<-chan amqp.Delivery, error)
}

// RabbitQueue is a job queue backed by a RabbitMQ queue.
//
// Deliveries are acknowledged as soon as they are handed to a caller: the
// protocol has no redelivery, a popped job is owned by its worker.
type RabbitQueue struct {
	transport   AMQPTransport
	consumerTag string
	prefetch    int
	popTimeout  time.Duration
	logger      *slog.Logger

	once       sync.Once
	deliveries <-chan amqp.Delivery
	consumeErr error
}

// NewRabbitQueue creates a queue publishing and consuming through transport
func NewRabbitQueue(transport AMQPTransport, consumerTag string, prefetch int, popTimeout time.Duration, logger *slog.Logger) *RabbitQueue {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &RabbitQueue{
		transport:   transport,
		consumerTag: consumerTag,
		prefetch:    prefetch,
		popTimeout:  popTimeout,
		logger:      logger,
	}
}

// Push publishes body as a persistent message
func (q *RabbitQueue) Push(ctx context.Context, body []byte) error {
	if err := q.transport.PublishWithRetry(ctx, body, jobContentType); err != nil {
		return fmt.Errorf("failed to push job to rabbitmq: %w", err)
	}
	return nil
}

// Pop returns the next delivered body, waiting up to the pop timeout.
// The consumer is started on first use and is never restarted: once it is
// gone every call fails with domain.ErrQueueClosed.
func (q *RabbitQueue) Pop(ctx context.Context) ([]byte, error) {
	q.once.Do(func() {
		q.deliveries, q.consumeErr = q.transport.Consume(q.consumerTag, q.prefetch)
	})
	if q.consumeErr != nil {
		return nil, fmt.Errorf("%w: failed to start rabbitmq consumer: %w", domain.ErrQueueClosed, q.consumeErr)
	}

	var timeout <-chan time.Time
	if q.popTimeout > 0 {
		timer := time.NewTimer(q.popTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case <-timeout:
		return nil, domain.ErrNoJob

	case delivery, ok := <-q.deliveries:
		if !ok {
			return nil, fmt.Errorf("%w: rabbitmq delivery channel closed", domain.ErrQueueClosed)
		}

		if err := delivery.Ack(false); err != nil {
			q.logger.Error("Failed to ACK message",
				slog.Uint64("delivery_tag", delivery.DeliveryTag),
				slog.String("error", err.Error()),
			)
		}
		return delivery.Body, nil
	}
}
