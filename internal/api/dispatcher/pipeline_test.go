package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuongbtq/predict-queue/internal/broker"
	"github.com/cuongbtq/predict-queue/internal/domain"
	"github.com/cuongbtq/predict-queue/internal/worker"
	"github.com/cuongbtq/predict-queue/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenImageEngine struct{}

func (brokenImageEngine) Infer(ctx context.Context, imageName string, model domain.ModelSelector) (domain.Prediction, error) {
	if imageName == "broken.png" {
		return domain.Prediction{}, errors.New("cannot identify image file")
	}
	return domain.Prediction{Label: "tabby", Score: 0.81234}, nil
}

func TestSubmitAndAwait_WithWorker_FailureThenSuccess(t *testing.T) {
	q := broker.NewMemoryQueue(20 * time.Millisecond)
	s := broker.NewMemoryResultStore(0)

	w := worker.NewWorker(&worker.Config{
		Logger:            logger.NewDiscard().Logger,
		Queue:             q,
		Results:           s,
		Engine:            brokenImageEngine{},
		WorkerID:          "pipeline",
		Concurrency:       1,
		JobTimeout:        time.Second,
		PublishRetryDelay: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		w.Stop()
		<-done
	})

	d := newTestDispatcher(q, s, 2*time.Second)

	_, err := d.SubmitAndAwait(ctx, Payload{ImageName: "broken.png", Model: domain.ModelResNet50})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInferenceFailure)
	assert.NotErrorIs(t, err, domain.ErrDispatchTimeout)

	prediction, err := d.SubmitAndAwait(ctx, Payload{ImageName: "cat.png", Model: domain.ModelResNet50})
	require.NoError(t, err)
	assert.Equal(t, "tabby", prediction.Label)
	assert.Equal(t, 0.812, prediction.Score)

	assert.Equal(t, 0, s.Len(), "both results are consumed")
}
