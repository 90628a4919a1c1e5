package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repeating delivers a fresh copy of a registered job on a fixed interval.
// Unlike delayed jobs, repeat registrations are cancelled actively: a
// recurring schedule left behind would generate background work forever,
// so Unregister removes the ticker outright.
type Repeating struct {
	inner *Memory

	mu            sync.Mutex
	registrations map[string]*registration
	closed        bool
}

type registration struct {
	job    *Job
	every  time.Duration
	cancel context.CancelFunc
}

// NewRepeating creates a repeating queue.
func NewRepeating() *Repeating {
	return &Repeating{
		inner:         NewMemory(),
		registrations: make(map[string]*registration),
	}
}

// Register schedules the job to be delivered every interval, starting one
// interval from now. It returns the registration id used to cancel the
// schedule later.
func (q *Repeating) Register(ctx context.Context, job *Job, every time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", ErrQueueClosed
	}

	regID := uuid.NewString()
	tickCtx, cancel := context.WithCancel(context.Background())
	reg := &registration{job: job, every: every, cancel: cancel}
	q.registrations[regID] = reg

	go q.run(tickCtx, reg)
	return regID, nil
}

// run delivers job copies until the registration is cancelled.
func (q *Repeating) run(ctx context.Context, reg *registration) {
	ticker := time.NewTicker(reg.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Each tick delivers a distinct job instance so attempts and
			// ids never collide across cycles.
			tick := &Job{
				ID:        uuid.NewString(),
				Name:      reg.job.Name,
				Payload:   reg.job.Payload,
				CreatedAt: time.Now(),
			}
			if err := q.inner.Enqueue(context.Background(), tick); err != nil {
				return
			}
		}
	}
}

// Unregister cancels a repeat registration. Unknown ids are a no-op.
func (q *Repeating) Unregister(regID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if reg, ok := q.registrations[regID]; ok {
		reg.cancel()
		delete(q.registrations, regID)
	}
}

// Registered returns the job template for an active registration.
func (q *Repeating) Registered(regID string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	reg, ok := q.registrations[regID]
	if !ok {
		return nil, false
	}
	return reg.job, true
}

// Registrations returns the number of active repeat registrations.
func (q *Repeating) Registrations() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.registrations)
}

// Enqueue delivers a one-off job immediately, outside any registration.
func (q *Repeating) Enqueue(ctx context.Context, job *Job) error {
	return q.inner.Enqueue(ctx, job)
}

// Dequeue blocks until a repeat tick delivers a job.
func (q *Repeating) Dequeue(ctx context.Context) (*Job, error) {
	return q.inner.Dequeue(ctx)
}

// Finish reports the outcome of a dequeued job.
func (q *Repeating) Finish(job *Job, err error) {
	q.inner.Finish(job, err)
}

// Stats returns queue counters; active registrations count as Delayed.
func (q *Repeating) Stats() Stats {
	stats := q.inner.Stats()
	q.mu.Lock()
	stats.Delayed = len(q.registrations)
	q.mu.Unlock()
	return stats
}

// Close cancels all registrations and closes the queue.
func (q *Repeating) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for id, reg := range q.registrations {
		reg.cancel()
		delete(q.registrations, id)
	}
	q.mu.Unlock()

	return q.inner.Close()
}
