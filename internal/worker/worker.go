package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/predict-queue/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultConcurrency       = 1
	defaultJobTimeout        = 60 * time.Second
	defaultPublishRetries    = 3
	defaultPublishRetryDelay = 100 * time.Millisecond
)

// Inferrer runs a classification for one job
type Inferrer interface {
	Infer(ctx context.Context, imageName string, model domain.ModelSelector) (domain.Prediction, error)
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Queue             domain.JobQueue
	Results           domain.ResultStore
	Engine            Inferrer
	WorkerID          string
	Concurrency       int
	JobTimeout        time.Duration
	Throttle          time.Duration // sleep after each job, 0 disables
	PublishRetries    int
	PublishRetryDelay time.Duration
}

// Worker consumes jobs from the queue and publishes one result per job
type Worker struct {
	logger            *slog.Logger
	queue             domain.JobQueue
	results           domain.ResultStore
	engine            Inferrer
	workerID          string
	concurrency       int
	jobTimeout        time.Duration
	throttle          time.Duration
	publishRetries    int
	publishRetryDelay time.Duration
	tracer            trace.Tracer

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once

	// closed once the queue reports it can never deliver again
	failed   chan struct{}
	failOnce sync.Once
	failErr  error
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:            cfg.Logger,
		queue:             cfg.Queue,
		results:           cfg.Results,
		engine:            cfg.Engine,
		workerID:          cfg.WorkerID,
		concurrency:       cfg.Concurrency,
		jobTimeout:        cfg.JobTimeout,
		throttle:          cfg.Throttle,
		publishRetries:    cfg.PublishRetries,
		publishRetryDelay: cfg.PublishRetryDelay,
		tracer:            otel.Tracer("predict-queue-worker"),
		stopChan:          make(chan struct{}),
		failed:            make(chan struct{}),
	}

	if w.concurrency <= 0 {
		w.concurrency = defaultConcurrency
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = defaultJobTimeout
	}
	if w.publishRetries < 0 {
		w.publishRetries = defaultPublishRetries
	}
	if w.publishRetryDelay <= 0 {
		w.publishRetryDelay = defaultPublishRetryDelay
	}
	if w.workerID == "" {
		w.workerID = "worker"
	}

	return w
}

// Start spawns the worker pool and blocks until ctx is canceled or Stop is
// called. It returns an error wrapping domain.ErrQueueClosed when the queue
// died under the pool, so the process can exit and be restarted.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Duration("throttle", w.throttle),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	w.spawnWorkerPool(ctx)

	select {
	case <-ctx.Done():
		w.logger.Info("Worker context canceled, stopping...")
		return nil
	case <-w.failed:
		cancel()
		w.wg.Wait()
		return w.failErr
	}
}

// fail records the first fatal queue error and stops every loop
func (w *Worker) fail(err error) {
	w.failOnce.Do(func() {
		w.failErr = err
		close(w.failed)
	})
}

// Stop gracefully stops the worker. Jobs already popped are still answered.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
