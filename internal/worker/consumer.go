package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/predict-queue/internal/domain"
)

const (
	minPopBackoff = 100 * time.Millisecond
	maxPopBackoff = 5 * time.Second
)

// popBackoff spaces out retries while the queue backend is failing
type popBackoff struct {
	delay time.Duration
}

func newPopBackoff() *popBackoff {
	return &popBackoff{delay: minPopBackoff}
}

func (b *popBackoff) next() time.Duration {
	d := b.delay
	b.delay *= 2
	if b.delay > maxPopBackoff {
		b.delay = maxPopBackoff
	}
	return d
}

func (b *popBackoff) reset() {
	b.delay = minPopBackoff
}

// nextMessage pops one body from the queue. ok is false when the wait
// elapsed empty, the queue failed or closed, or the worker is shutting down.
func (w *Worker) nextMessage(ctx context.Context, workerName string, backoff *popBackoff) ([]byte, bool) {
	body, err := w.queue.Pop(ctx)
	if err == nil {
		backoff.reset()
		return body, true
	}

	if errors.Is(err, domain.ErrNoJob) {
		backoff.reset()
		return nil, false
	}

	if ctx.Err() != nil {
		return nil, false
	}

	if errors.Is(err, domain.ErrQueueClosed) {
		w.logger.Error("Job queue closed, stopping worker",
			slog.String("worker_name", workerName),
			slog.String("error", err.Error()),
		)
		w.fail(err)
		return nil, false
	}

	delay := backoff.next()
	w.logger.Error("Failed to pop job from queue",
		slog.String("worker_name", workerName),
		slog.Duration("retry_in", delay),
		slog.String("error", err.Error()),
	)
	w.sleep(ctx, delay)
	return nil, false
}

// decodeMessage parses a queue body. A nil job means the body carried no
// usable correlation id and cannot be answered.
func (w *Worker) decodeMessage(workerName string, body []byte) (*domain.Job, error) {
	job, err := domain.DecodeJob(body)
	if err == nil {
		return job, nil
	}

	if job == nil {
		w.logger.Error("Dropping job without a valid id",
			slog.String("worker_name", workerName),
			slog.String("error", err.Error()),
			slog.String("body", truncateBody(body)),
		)
		return nil, err
	}

	w.logger.Warn("Malformed job payload",
		slog.String("worker_name", workerName),
		slog.String("job_id", job.ID),
		slog.String("error", err.Error()),
	)
	return job, err
}

func truncateBody(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
