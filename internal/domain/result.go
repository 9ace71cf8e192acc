package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// ScorePrecision is the number of decimal places kept in a returned score
const ScorePrecision = 3

// Result is what a worker publishes under the originating job's id
type Result struct {
	Prediction string  `json:"prediction"`
	Score      float64 `json:"score"`
	Error      string  `json:"error,omitempty"`
}

// FailureResult builds the failure sentinel. reason is diagnostic only.
func FailureResult(reason string) Result {
	return Result{Prediction: "", Score: 0, Error: reason}
}

// IsFailure reports whether r is the failure sentinel
func (r Result) IsFailure() bool {
	return r.Prediction == "" && r.Score == 0
}

// Encode serializes the result into its wire form
func (r Result) Encode() ([]byte, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return body, nil
}

// DecodeResult parses a stored result
func DecodeResult(body []byte) (Result, error) {
	var r Result
	if err := json.Unmarshal(body, &r); err != nil {
		return Result{}, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return r, nil
}

// Prediction is the answer returned to a dispatcher caller
type Prediction struct {
	Label string
	Score float64
}

// RoundScore rounds a confidence to ScorePrecision decimals
func RoundScore(score float64) float64 {
	p := math.Pow(10, ScorePrecision)
	return math.Round(score*p) / p
}
