package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/predict-queue/internal/domain"
	"github.com/cuongbtq/predict-queue/shared/redis"
	goredis "github.com/redis/go-redis/v9"
)

// RedisQueue is a job queue backed by a Redis list (LPUSH producers, BRPOP consumers)
type RedisQueue struct {
	rdb        *goredis.Client
	name       string
	popTimeout time.Duration
	logger     *slog.Logger
}

// NewRedisQueue creates a queue on the list called name. popTimeout bounds
// each blocking pop; it is rounded up to whole seconds by Redis.
func NewRedisQueue(client *redis.Client, name string, popTimeout time.Duration, logger *slog.Logger) *RedisQueue {
	return &RedisQueue{
		rdb:        client.GetRedis(),
		name:       name,
		popTimeout: popTimeout,
		logger:     logger,
	}
}

// Push appends body to the tail of the queue
func (q *RedisQueue) Push(ctx context.Context, body []byte) error {
	if err := q.rdb.LPush(ctx, q.name, body).Err(); err != nil {
		return fmt.Errorf("failed to push job to redis queue %s: %w", q.name, err)
	}

	q.logger.Debug("Job pushed to Redis queue",
		slog.String("queue", q.name),
		slog.Int("body_size", len(body)),
	)
	return nil
}

// Pop removes the oldest body, blocking up to the pop timeout
func (q *RedisQueue) Pop(ctx context.Context) ([]byte, error) {
	values, err := q.rdb.BRPop(ctx, q.popTimeout, q.name).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, domain.ErrNoJob
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, goredis.ErrClosed) {
			return nil, fmt.Errorf("%w: %w", domain.ErrQueueClosed, err)
		}
		return nil, fmt.Errorf("failed to pop job from redis queue %s: %w", q.name, err)
	}

	// BRPOP answers with [key, value]
	if len(values) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of length %d", len(values))
	}
	return []byte(values[1]), nil
}

// RedisResultStore keeps one string key per job id holding the JSON result
type RedisResultStore struct {
	rdb       *goredis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisResultStore creates a result store. A zero ttl stores keys without expiry.
func NewRedisResultStore(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisResultStore {
	return &RedisResultStore{
		rdb:       client.GetRedis(),
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

func (s *RedisResultStore) key(id string) string {
	return s.keyPrefix + id
}

// Put stores or overwrites the result for id
func (s *RedisResultStore) Put(ctx context.Context, id string, result domain.Result) error {
	body, err := result.Encode()
	if err != nil {
		return err
	}

	if err := s.rdb.Set(ctx, s.key(id), body, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store result for job %s: %w", id, err)
	}
	return nil
}

// Get returns the result for id
func (s *RedisResultStore) Get(ctx context.Context, id string) (domain.Result, bool, error) {
	body, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.Result{}, false, nil
		}
		return domain.Result{}, false, fmt.Errorf("failed to get result for job %s: %w", id, err)
	}

	result, err := domain.DecodeResult(body)
	if err != nil {
		return domain.Result{}, false, err
	}
	return result, true, nil
}

// Delete removes the result for id
func (s *RedisResultStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete result for job %s: %w", id, err)
	}
	return nil
}
