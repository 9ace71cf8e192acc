package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/predict-queue/internal/domain"
	"github.com/cuongbtq/predict-queue/internal/metrics"
	"github.com/cuongbtq/predict-queue/internal/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultPollInterval is how long the dispatcher sleeps between result lookups
	DefaultPollInterval = 50 * time.Millisecond
	// DefaultMaxWait bounds how long a caller waits for a result
	DefaultMaxWait = 30 * time.Second
	// cleanupTimeout bounds the best-effort delete of an abandoned correlation
	cleanupTimeout = 2 * time.Second
)

// Config holds dispatcher configuration
type Config struct {
	Logger       *slog.Logger
	Queue        domain.JobQueue
	Results      domain.ResultStore
	PollInterval time.Duration
	MaxWait      time.Duration
}

// Payload is what a caller submits for classification
type Payload struct {
	ImageName string
	Model     domain.ModelSelector
}

// Dispatcher is the producer side of the protocol: it enqueues a job and
// waits for the matching result to appear in the result store.
type Dispatcher struct {
	logger       *slog.Logger
	queue        domain.JobQueue
	results      domain.ResultStore
	pollInterval time.Duration
	maxWait      time.Duration
	tracer       trace.Tracer
}

// New creates a new dispatcher
func New(cfg *Config) *Dispatcher {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}

	return &Dispatcher{
		logger:       cfg.Logger,
		queue:        cfg.Queue,
		results:      cfg.Results,
		pollInterval: pollInterval,
		maxWait:      maxWait,
		tracer:       otel.Tracer("predict-queue-dispatcher"),
	}
}

// SubmitAndAwait enqueues payload and blocks until its prediction is available.
//
// It returns a *domain.SubmissionError when the job cannot be enqueued,
// domain.ErrInferenceFailure when the worker answered with the failure
// sentinel, and domain.ErrDispatchTimeout when no answer arrived in time.
func (d *Dispatcher) SubmitAndAwait(ctx context.Context, payload Payload) (domain.Prediction, error) {
	model := payload.Model
	if model == "" {
		model = domain.DefaultModel
	}

	job := domain.NewJob(payload.ImageName, model)

	ctx, span := d.tracer.Start(ctx, "dispatcher.SubmitAndAwait",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.model", model.String()),
		))
	defer span.End()

	job.Trace = tracing.Inject(ctx)

	prediction, outcome, err := d.submitAndAwait(ctx, job)

	metrics.DispatchTotal.WithLabelValues(model.String(), outcome).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}

	return prediction, err
}

func (d *Dispatcher) submitAndAwait(ctx context.Context, job *domain.Job) (domain.Prediction, string, error) {
	logger := d.logger.With(slog.String("job_id", job.ID))

	body, err := job.Encode()
	if err != nil {
		return domain.Prediction{}, metrics.OutcomeSubmissionError, &domain.SubmissionError{JobID: job.ID, Err: err}
	}

	if err := d.queue.Push(ctx, body); err != nil {
		logger.Error("Failed to push job",
			slog.String("error", err.Error()),
		)
		return domain.Prediction{}, metrics.OutcomeSubmissionError, &domain.SubmissionError{JobID: job.ID, Err: err}
	}

	logger.Debug("Job submitted",
		slog.String("image_name", job.ImageName),
		slog.String("model", job.Model.String()),
	)

	start := time.Now()
	result, err := d.awaitResult(ctx, job.ID)
	if err != nil {
		d.abandon(job.ID, logger)

		switch {
		case errors.Is(err, domain.ErrDispatchTimeout):
			logger.Warn("No result within max wait",
				slog.Duration("max_wait", d.maxWait),
			)
			return domain.Prediction{}, metrics.OutcomeTimeout, err
		case ctx.Err() != nil:
			return domain.Prediction{}, metrics.OutcomeCanceled, err
		default:
			logger.Error("Failed to read result",
				slog.String("error", err.Error()),
			)
			return domain.Prediction{}, metrics.OutcomeStoreError, err
		}
	}
	metrics.DispatchWaitSeconds.WithLabelValues(job.Model.String()).Observe(time.Since(start).Seconds())

	// The result is consumed exactly once
	if err := d.results.Delete(ctx, job.ID); err != nil {
		logger.Warn("Failed to delete consumed result",
			slog.String("error", err.Error()),
		)
	}

	if result.IsFailure() {
		logger.Info("Worker reported inference failure",
			slog.String("reason", result.Error),
		)
		return domain.Prediction{}, metrics.OutcomeInferenceFailure, fmt.Errorf("%w for job %s", domain.ErrInferenceFailure, job.ID)
	}

	prediction := domain.Prediction{
		Label: result.Prediction,
		Score: domain.RoundScore(result.Score),
	}

	logger.Info("Prediction received",
		slog.String("prediction", prediction.Label),
		slog.Float64("score", prediction.Score),
		slog.Duration("wait", time.Since(start)),
	)

	return prediction, metrics.OutcomeSuccess, nil
}

// awaitResult polls the result store until the result for id appears
func (d *Dispatcher) awaitResult(ctx context.Context, id string) (domain.Result, error) {
	deadline := time.NewTimer(d.maxWait)
	defer deadline.Stop()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		result, found, err := d.results.Get(ctx, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return domain.Result{}, ctxErr
			}
			return domain.Result{}, fmt.Errorf("failed to get result: %w", err)
		}
		if found {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return domain.Result{}, ctx.Err()
		case <-deadline.C:
			return domain.Result{}, fmt.Errorf("%w for job %s after %s", domain.ErrDispatchTimeout, id, d.maxWait)
		case <-ticker.C:
		}
	}
}

// abandon removes whatever result may already exist for an id nobody waits for anymore
func (d *Dispatcher) abandon(id string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := d.results.Delete(ctx, id); err != nil {
		logger.Warn("Failed to clean up abandoned correlation",
			slog.String("error", err.Error()),
		)
	}
}
