package queue

import (
	"context"
	"sync"
	"time"
)

// Delayed defers jobs by a duration before handing them to consumers.
// Cancellation of delayed jobs is cooperative: the timer always fires and
// delivers the job; the consumer checks the job-name registry's canceled
// flag before side-effecting. This keeps the timer wheel trivially simple
// at the cost of a no-op delivery for superseded jobs.
type Delayed struct {
	inner *Memory

	mu     sync.Mutex
	timers map[string]*time.Timer // keyed by job ID
	closed bool
}

// NewDelayed creates a delayed queue.
func NewDelayed() *Delayed {
	return &Delayed{
		inner:  NewMemory(),
		timers: make(map[string]*time.Timer),
	}
}

// EnqueueAfter schedules the job for delivery after the given delay.
// Negative delays deliver immediately.
func (q *Delayed) EnqueueAfter(ctx context.Context, job *Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if delay < 0 {
		delay = 0
	}

	q.timers[job.ID] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, job.ID)
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
		// Delivery failure here means the queue closed between the check
		// and the enqueue; the job is dropped, which is what close means.
		_ = q.inner.Enqueue(context.Background(), job)
	})
	return nil
}

// EnqueueAt schedules the job for delivery at the given time.
func (q *Delayed) EnqueueAt(ctx context.Context, job *Job, at time.Time) error {
	return q.EnqueueAfter(ctx, job, time.Until(at))
}

// Enqueue delivers the job immediately.
func (q *Delayed) Enqueue(ctx context.Context, job *Job) error {
	return q.inner.Enqueue(ctx, job)
}

// Dequeue blocks until a delayed job becomes due.
func (q *Delayed) Dequeue(ctx context.Context) (*Job, error) {
	return q.inner.Dequeue(ctx)
}

// Finish reports the outcome of a dequeued job.
func (q *Delayed) Finish(job *Job, err error) {
	q.inner.Finish(job, err)
}

// Stats returns queue counters; pending timers count as Delayed.
func (q *Delayed) Stats() Stats {
	stats := q.inner.Stats()
	q.mu.Lock()
	stats.Delayed = len(q.timers)
	q.mu.Unlock()
	return stats
}

// Close stops all pending timers and closes the queue.
func (q *Delayed) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.mu.Unlock()

	return q.inner.Close()
}
