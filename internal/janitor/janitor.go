package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/predict-queue/internal/domain"
	"github.com/cuongbtq/predict-queue/internal/metrics"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultSchedule runs a sweep once a minute
const DefaultSchedule = "@every 1m"

const sweepTimeout = 30 * time.Second

// Janitor periodically removes results whose dispatcher gave up on them.
// Backends with native expiry (redis) do not need one.
type Janitor struct {
	cron    *cron.Cron
	sweeper domain.Sweeper
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New creates a janitor that sweeps on schedule (standard cron spec or @every descriptor)
func New(sweeper domain.Sweeper, schedule string, logger *slog.Logger) (*Janitor, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	j := &Janitor{
		cron:    cron.New(),
		sweeper: sweeper,
		logger:  logger.With(slog.String("component", "janitor")),
		tracer:  otel.Tracer("predict-queue-janitor"),
	}

	if _, err := j.cron.AddFunc(schedule, j.run); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}

	j.logger.Info("Janitor scheduled", slog.String("schedule", schedule))
	return j, nil
}

// Start runs the schedule until ctx is canceled
func (j *Janitor) Start(ctx context.Context) error {
	j.logger.Info("Janitor started")
	j.cron.Start()
	<-ctx.Done()
	j.logger.Info("Janitor stopping...")
	stopCtx := j.cron.Stop()
	<-stopCtx.Done()
	j.logger.Info("Janitor stopped")
	return nil
}

// RunOnce performs a single sweep and returns the number of results removed
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	ctx, span := j.tracer.Start(ctx, "janitor.Sweep")
	defer span.End()

	removed, err := j.sweeper.Sweep(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	span.SetAttributes(attribute.Int64("results.removed", removed))
	metrics.ResultsSweptTotal.Add(float64(removed))
	return removed, nil
}

func (j *Janitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	removed, err := j.RunOnce(ctx)
	if err != nil {
		j.logger.Error("Failed to sweep abandoned results", slog.String("error", err.Error()))
		return
	}
	if removed > 0 {
		j.logger.Info("Swept abandoned results", slog.Int64("removed", removed))
	}
}
