package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/predict-queue/internal/domain"
	"github.com/cuongbtq/predict-queue/internal/metrics"
	"github.com/cuongbtq/predict-queue/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	statusSuccess = "success"
	statusFailed  = "failed"
	statusDropped = "dropped"
)

// handleMessage answers one queue body with exactly one result
func (w *Worker) handleMessage(ctx context.Context, workerName string, body []byte) {
	// A popped job is always answered, even during shutdown.
	ctx = context.WithoutCancel(ctx)

	job, err := w.decodeMessage(workerName, body)
	if job == nil {
		metrics.WorkerJobsTotal.WithLabelValues("unknown", statusDropped).Inc()
		return
	}

	var result domain.Result
	if err != nil {
		metrics.WorkerJobsTotal.WithLabelValues(job.Model.String(), statusFailed).Inc()
		result = domain.FailureResult(err.Error())
	} else {
		result = w.processJob(ctx, workerName, job)
	}

	if err := w.publishResult(ctx, workerName, job.ID, result); err != nil {
		w.logger.Error("Failed to publish result, dispatcher will time out",
			slog.String("worker_name", workerName),
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// processJob runs inference for job under the per-job timeout. Every
// error, including a panic inside the model, becomes the failure sentinel.
func (w *Worker) processJob(ctx context.Context, workerName string, job *domain.Job) domain.Result {
	model := job.Model
	if model == "" {
		model = domain.DefaultModel
	}

	ctx = tracing.Extract(ctx, job.Trace)
	ctx, span := w.tracer.Start(ctx, "worker.ProcessJob",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.model", model.String()),
			attribute.String("worker.name", workerName),
		),
	)
	defer span.End()

	w.logger.Info("Processing job",
		slog.String("worker_name", workerName),
		slog.String("job_id", job.ID),
		slog.String("image_name", job.ImageName),
		slog.String("model", model.String()),
	)

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	start := time.Now()
	prediction, err := w.infer(jobCtx, job.ImageName, model)
	metrics.InferenceSeconds.WithLabelValues(model.String()).Observe(time.Since(start).Seconds())

	if err == nil && prediction.Label == "" {
		err = errors.New("model returned an empty label")
	}

	if err != nil {
		w.logger.Error("Job execution failed",
			slog.String("worker_name", workerName),
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.WorkerJobsTotal.WithLabelValues(model.String(), statusFailed).Inc()
		return domain.FailureResult(err.Error())
	}

	w.logger.Info("Job completed successfully",
		slog.String("worker_name", workerName),
		slog.String("job_id", job.ID),
		slog.String("prediction", prediction.Label),
		slog.Float64("score", prediction.Score),
		slog.Duration("duration", time.Since(start)),
	)
	metrics.WorkerJobsTotal.WithLabelValues(model.String(), statusSuccess).Inc()

	return domain.Result{Prediction: prediction.Label, Score: prediction.Score}
}

func (w *Worker) infer(ctx context.Context, imageName string, model domain.ModelSelector) (prediction domain.Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("inference panicked: %v", r)
		}
	}()
	return w.engine.Infer(ctx, imageName, model)
}

// publishResult stores result under id, retrying transient failures with exponential backoff
func (w *Worker) publishResult(ctx context.Context, workerName, id string, result domain.Result) error {
	delay := w.publishRetryDelay

	var err error
	for attempt := 0; attempt <= w.publishRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
		}

		err = classifyPutError(w.results.Put(ctx, id, result))
		if err == nil {
			w.logger.Debug("Result published",
				slog.String("worker_name", workerName),
				slog.String("job_id", id),
				slog.Int("attempt", attempt+1),
			)
			return nil
		}

		if !domain.IsRetryable(err) {
			break
		}

		w.logger.Warn("Result publish failed",
			slog.String("worker_name", workerName),
			slog.String("job_id", id),
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", w.publishRetries),
			slog.String("error", err.Error()),
		)
	}

	return fmt.Errorf("failed to publish result for job %s: %w", id, err)
}

func classifyPutError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.NewRetryableError(err)
}
