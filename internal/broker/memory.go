package broker

import (
	"context"
	"sync"
	"time"

	"github.com/cuongbtq/predict-queue/internal/domain"
)

// MemoryQueue is an in-process FIFO job queue
type MemoryQueue struct {
	mu         sync.Mutex
	items      [][]byte
	wake       chan struct{}
	popTimeout time.Duration
}

// NewMemoryQueue creates an empty in-process queue. A zero popTimeout makes
// Pop wait until the context is done.
func NewMemoryQueue(popTimeout time.Duration) *MemoryQueue {
	return &MemoryQueue{
		wake:       make(chan struct{}, 1),
		popTimeout: popTimeout,
	}
}

// Push appends body to the tail of the queue
func (q *MemoryQueue) Push(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	item := make([]byte, len(body))
	copy(item, body)

	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Pop removes the oldest body, waiting for one if the queue is empty
func (q *MemoryQueue) Pop(ctx context.Context) ([]byte, error) {
	var timeout <-chan time.Time
	if q.popTimeout > 0 {
		timer := time.NewTimer(q.popTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		if body, ok := q.tryPop(); ok {
			return body, nil
		}

		select {
		case <-q.wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, domain.ErrNoJob
		}
	}
}

func (q *MemoryQueue) tryPop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	body := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]

	// pass the wake-up on to the next waiter
	if len(q.items) > 0 {
		q.signal()
	}
	return body, true
}

func (q *MemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of pending jobs
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type memoryEntry struct {
	result    domain.Result
	expiresAt time.Time
}

// MemoryResultStore is an in-process result table with optional expiry
type MemoryResultStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryResultStore creates an empty store. A zero ttl disables expiry.
func NewMemoryResultStore(ttl time.Duration) *MemoryResultStore {
	return &MemoryResultStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Put stores or overwrites the result for id
func (s *MemoryResultStore) Put(ctx context.Context, id string, result domain.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entry := memoryEntry{result: result}
	if s.ttl > 0 {
		entry.expiresAt = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	s.entries[id] = entry
	s.mu.Unlock()
	return nil
}

// Get returns the result for id, treating expired entries as absent
func (s *MemoryResultStore) Get(ctx context.Context, id string) (domain.Result, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Result{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok || s.expired(entry) {
		return domain.Result{}, false, nil
	}
	return entry.result, true, nil
}

// Delete removes the result for id
func (s *MemoryResultStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

// Sweep drops every expired entry and returns how many were removed
func (s *MemoryResultStore) Sweep(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, entry := range s.entries {
		if s.expired(entry) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, expired ones included
func (s *MemoryResultStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryResultStore) expired(entry memoryEntry) bool {
	return !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt)
}
