package inference

import (
	"fmt"

	"github.com/cuongbtq/predict-queue/internal/config"
	"github.com/cuongbtq/predict-queue/internal/domain"
)

// NewEngineFromConfig builds the disk image store and one model-server
// classifier per configured selector
func NewEngineFromConfig(cfg *config.InferenceConfig) (*Engine, error) {
	classifiers := make(map[domain.ModelSelector]Classifier, len(cfg.Models))
	for name, served := range cfg.Models {
		selector, err := domain.ParseModelSelector(name)
		if err != nil || name == "" {
			return nil, fmt.Errorf("invalid inference model %q: %w", name, domain.ErrUnknownModel)
		}

		classifier, err := NewModelServerClassifier(cfg.ModelServerURL, served, cfg.RequestTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to configure model %s: %w", selector, err)
		}
		classifiers[selector] = classifier
	}

	registry, err := NewRegistry(classifiers)
	if err != nil {
		return nil, err
	}

	return NewEngine(NewDiskImageStore(cfg.UploadFolder), registry), nil
}
