package inference

import (
	"context"
	"fmt"

	"github.com/cuongbtq/predict-queue/internal/domain"
)

// Classifier labels a single image
type Classifier interface {
	Classify(ctx context.Context, image []byte) (domain.Prediction, error)
}

// ClassifierFunc adapts a function to the Classifier interface
type ClassifierFunc func(ctx context.Context, image []byte) (domain.Prediction, error)

// Classify calls f(ctx, image)
func (f ClassifierFunc) Classify(ctx context.Context, image []byte) (domain.Prediction, error) {
	return f(ctx, image)
}

// Registry maps every enabled model selector to its classifier.
// It is built once at startup and read-only afterwards.
type Registry struct {
	classifiers map[domain.ModelSelector]Classifier
}

// NewRegistry builds a registry from the given classifiers
func NewRegistry(classifiers map[domain.ModelSelector]Classifier) (*Registry, error) {
	if len(classifiers) == 0 {
		return nil, fmt.Errorf("at least one model must be enabled")
	}

	r := &Registry{classifiers: make(map[domain.ModelSelector]Classifier, len(classifiers))}
	for selector, classifier := range classifiers {
		if _, err := domain.ParseModelSelector(selector.String()); err != nil || selector == "" {
			return nil, fmt.Errorf("cannot register model %q: %w", selector, domain.ErrUnknownModel)
		}
		if classifier == nil {
			return nil, fmt.Errorf("nil classifier for model %s", selector)
		}
		r.classifiers[selector] = classifier
	}
	return r, nil
}

// Lookup returns the classifier for selector
func (r *Registry) Lookup(selector domain.ModelSelector) (Classifier, error) {
	if selector == "" {
		selector = domain.DefaultModel
	}
	classifier, ok := r.classifiers[selector]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownModel, selector)
	}
	return classifier, nil
}

// Models returns the enabled selectors in display order
func (r *Registry) Models() []domain.ModelSelector {
	models := make([]domain.ModelSelector, 0, len(r.classifiers))
	for _, m := range domain.SupportedModels {
		if _, ok := r.classifiers[m]; ok {
			models = append(models, m)
		}
	}
	return models
}
