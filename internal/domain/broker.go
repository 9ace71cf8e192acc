package domain

import "context"

// JobQueue is an ordered FIFO channel of serialized jobs shared by dispatchers and workers.
// Push and Pop must each be atomic with respect to concurrent callers.
type JobQueue interface {
	// Push appends body to the tail of the queue
	Push(ctx context.Context, body []byte) error

	// Pop removes and returns the oldest body, blocking up to the queue's
	// configured wait. It returns ErrNoJob when the wait elapsed empty.
	Pop(ctx context.Context) ([]byte, error)
}

// ResultStore is a shared key/value table holding one result per job id
type ResultStore interface {
	// Put stores or overwrites the result for id
	Put(ctx context.Context, id string, result Result) error

	// Get returns the result for id. found is false when no result exists.
	Get(ctx context.Context, id string) (result Result, found bool, err error)

	// Delete removes the result for id. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
}

// Sweeper removes results abandoned by their dispatcher
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}
