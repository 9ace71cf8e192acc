package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/predict-queue/internal/domain"
)

// ModelServerClassifier calls a TensorFlow-Serving style REST endpoint:
//
//	POST {baseURL}/v1/models/{model}:predict
//	{"instances":[{"b64":"..."}]}  ->  {"predictions":[{"label":"...","score":0.9}]}
type ModelServerClassifier struct {
	client   *http.Client
	endpoint string
}

type predictRequest struct {
	Instances []predictInstance `json:"instances"`
}

type predictInstance struct {
	B64 string `json:"b64"`
}

type predictResponse struct {
	Predictions []struct {
		Label string  `json:"label"`
		Score float64 `json:"score"`
	} `json:"predictions"`
	Error string `json:"error"`
}

// NewModelServerClassifier creates a classifier for one served model
func NewModelServerClassifier(baseURL, model string, timeout time.Duration) (*ModelServerClassifier, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid model server url %q", baseURL)
	}
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	return &ModelServerClassifier{
		client:   &http.Client{Timeout: timeout},
		endpoint: fmt.Sprintf("%s/v1/models/%s:predict", base.String(), url.PathEscape(model)),
	}, nil
}

// Classify sends image to the model server and returns its top prediction
func (c *ModelServerClassifier) Classify(ctx context.Context, image []byte) (domain.Prediction, error) {
	payload, err := json.Marshal(predictRequest{
		Instances: []predictInstance{{B64: base64.StdEncoding.EncodeToString(image)}},
	})
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("failed to marshal predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("failed to create predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("predict request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("failed to read predict response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return domain.Prediction{}, fmt.Errorf("model server returned %s: %s", resp.Status, truncate(body, 256))
	}

	var decoded predictResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return domain.Prediction{}, fmt.Errorf("failed to decode predict response: %w", err)
	}
	if decoded.Error != "" {
		return domain.Prediction{}, fmt.Errorf("model server error: %s", decoded.Error)
	}
	if len(decoded.Predictions) == 0 || decoded.Predictions[0].Label == "" {
		return domain.Prediction{}, fmt.Errorf("model server returned no prediction")
	}

	top := decoded.Predictions[0]
	return domain.Prediction{Label: top.Label, Score: top.Score}, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
