package inference

import (
	"context"
	"fmt"

	"github.com/cuongbtq/predict-queue/internal/domain"
)

// Engine resolves an image reference and runs the selected model on it
type Engine struct {
	images   ImageStore
	registry *Registry
}

// NewEngine creates an inference engine
func NewEngine(images ImageStore, registry *Registry) *Engine {
	return &Engine{
		images:   images,
		registry: registry,
	}
}

// Infer classifies the uploaded image imageName with the selected model
func (e *Engine) Infer(ctx context.Context, imageName string, model domain.ModelSelector) (domain.Prediction, error) {
	classifier, err := e.registry.Lookup(model)
	if err != nil {
		return domain.Prediction{}, err
	}

	image, err := e.images.Load(ctx, imageName)
	if err != nil {
		return domain.Prediction{}, err
	}

	prediction, err := classifier.Classify(ctx, image)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("model %s failed on %s: %w", model, imageName, err)
	}
	return prediction, nil
}
