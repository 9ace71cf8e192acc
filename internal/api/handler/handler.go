package handler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cuongbtq/predict-queue/internal/api/dispatcher"
	"github.com/cuongbtq/predict-queue/internal/domain"
	"github.com/cuongbtq/predict-queue/internal/worker/inference"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Predictor submits a payload and waits for its prediction
type Predictor interface {
	SubmitAndAwait(ctx context.Context, payload dispatcher.Payload) (domain.Prediction, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Dispatcher  Predictor
	HealthCheck func(ctx context.Context) error
	MetricsPath string // empty disables the metrics endpoint
	ServiceName string
}

var registerOnce sync.Once

// RegisterValidators installs the custom binding tags used by the request DTOs
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}

		_ = v.RegisterValidation("model_selector", func(fl validator.FieldLevel) bool {
			_, err := domain.ParseModelSelector(fl.Field().String())
			return err == nil
		})

		_ = v.RegisterValidation("image_file", func(fl validator.FieldLevel) bool {
			return inference.AllowedFile(fl.Field().String())
		})
	})
}
