package domain

import "errors"

var (
	// ErrNoJob is returned by JobQueue.Pop when its wait elapsed with an empty queue
	ErrNoJob = errors.New("no job available")

	// ErrQueueClosed is returned by JobQueue.Pop when the queue can never deliver
	// again, e.g. its consumer or client is gone. Workers stop on it.
	ErrQueueClosed = errors.New("job queue closed")

	// ErrInferenceFailure is returned to a dispatcher caller when the worker answered with the failure sentinel
	ErrInferenceFailure = errors.New("inference failed")

	// ErrDispatchTimeout is returned when no result appeared within the allotted wait
	ErrDispatchTimeout = errors.New("timed out waiting for prediction result")

	// ErrInvalidJob is returned when a queue body cannot be decoded into a job
	ErrInvalidJob = errors.New("invalid job payload")

	// ErrUnknownModel is returned for a model selector that is not supported or not enabled
	ErrUnknownModel = errors.New("unknown model selector")

	// ErrUnreadableResource is returned when an image reference cannot be resolved to a decodable image
	ErrUnreadableResource = errors.New("unreadable image resource")
)

// SubmissionError is returned when a job could not be pushed onto the queue
type SubmissionError struct {
	JobID string
	Err   error
}

func (e *SubmissionError) Error() string {
	return "failed to submit job " + e.JobID + ": " + e.Err.Error()
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// RetryableError wraps transient errors that should be retried
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is marked as transient
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
