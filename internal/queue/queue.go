// Package queue provides the in-process job queues backing reaction work,
// delayed one-shot jobs, and repeating polling jobs.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job is a unit of queued work. Payloads are serialized so jobs can cross a
// process boundary; nothing in a Job may hold a live reference.
type Job struct {
	ID        string
	Name      string
	Payload   []byte
	Attempts  int
	CreatedAt time.Time
}

// NewJob creates a job with a fresh id.
func NewJob(name string, payload []byte) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Name:      name,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// Stats describes the observable state of a queue.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}

// Queue is the consumer-facing queue contract.
type Queue interface {
	// Enqueue adds a job to the queue.
	Enqueue(ctx context.Context, job *Job) error

	// Dequeue removes and returns the next job.
	// Blocks until a job is available or the context is cancelled.
	Dequeue(ctx context.Context) (*Job, error)

	// Finish reports the outcome of a dequeued job for bookkeeping.
	Finish(job *Job, err error)

	// Stats returns queue counters.
	Stats() Stats

	// Close closes the queue.
	Close() error
}

// ErrQueueClosed is returned when operations are performed on a closed queue.
var ErrQueueClosed = &Error{message: "queue is closed"}

// Error represents a queue-related error.
type Error struct {
	message string
}

func (e *Error) Error() string {
	return e.message
}

// Memory is an in-memory FIFO queue implementation.
type Memory struct {
	mu        sync.Mutex
	jobs      []*Job
	signal    chan struct{}
	closed    bool
	active    int
	completed int
	failed    int
}

// NewMemory creates a new in-memory queue.
func NewMemory() *Memory {
	return &Memory{
		jobs:   make([]*Job, 0),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a job to the queue.
func (q *Memory) Enqueue(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.jobs = append(q.jobs, job)

	// Signal that a job is available. Sent under the lock so Close cannot
	// close the channel out from underneath the send.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue removes and returns the next job from the queue.
func (q *Memory) Dequeue(ctx context.Context) (*Job, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		if len(q.jobs) > 0 {
			job := q.jobs[0]
			q.jobs = q.jobs[1:]
			job.Attempts++
			q.active++
			q.mu.Unlock()
			return job, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
			// Job may be available, loop again.
		}
	}
}

// Finish reports the outcome of a dequeued job.
func (q *Memory) Finish(job *Job, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active > 0 {
		q.active--
	}
	if err != nil {
		q.failed++
	} else {
		q.completed++
	}
}

// Stats returns queue counters.
func (q *Memory) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Waiting:   len(q.jobs),
		Active:    q.active,
		Completed: q.completed,
		Failed:    q.failed,
	}
}

// Len returns the number of waiting jobs.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close closes the queue.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.signal)
	return nil
}
