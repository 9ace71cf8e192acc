package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is a unit of work pushed onto the job queue by the dispatcher
type Job struct {
	ID        string            `json:"id"`
	ImageName string            `json:"image_name"`
	Model     ModelSelector     `json:"model"`
	Trace     map[string]string `json:"trace,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewJob creates a job with a fresh random correlation id
func NewJob(imageName string, model ModelSelector) *Job {
	return &Job{
		ID:        uuid.New().String(),
		ImageName: imageName,
		Model:     model,
		CreatedAt: time.Now().UTC(),
	}
}

// Encode serializes the job into its wire form
func (j *Job) Encode() ([]byte, error) {
	body, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return body, nil
}

// DecodeJob parses a queue body into a Job.
//
// When the body is malformed but still carries a valid id, the partially
// decoded job is returned together with the error so the caller can answer
// the correlation with a failure result.
func DecodeJob(body []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		var envelope struct {
			ID string `json:"id"`
		}
		if envErr := json.Unmarshal(body, &envelope); envErr == nil && IsValidJobID(envelope.ID) {
			return &Job{ID: envelope.ID}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	if !IsValidJobID(job.ID) {
		return nil, fmt.Errorf("%w: job id %q is not a UUID", ErrInvalidJob, job.ID)
	}

	if job.ImageName == "" {
		return &job, fmt.Errorf("%w: image_name is required", ErrInvalidJob)
	}

	return &job, nil
}

// IsValidJobID reports whether id is a well-formed correlation id
func IsValidJobID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
