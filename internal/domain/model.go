package domain

import "fmt"

// ModelSelector names one of the supported classification models
type ModelSelector string

// Supported model selectors
const (
	ModelResNet50       ModelSelector = "ResNet50"
	ModelEfficientNetB0 ModelSelector = "EfficientNetB0"
	ModelDenseNet121    ModelSelector = "DenseNet121"
)

// DefaultModel is used when a submission does not name a model
const DefaultModel = ModelResNet50

// SupportedModels lists every selector in display order
var SupportedModels = []ModelSelector{
	ModelResNet50,
	ModelEfficientNetB0,
	ModelDenseNet121,
}

// ParseModelSelector converts a user supplied name into a ModelSelector.
// An empty name maps to DefaultModel.
func ParseModelSelector(name string) (ModelSelector, error) {
	if name == "" {
		return DefaultModel, nil
	}
	for _, m := range SupportedModels {
		if string(m) == name {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModel, name)
}

func (m ModelSelector) String() string {
	return string(m)
}
