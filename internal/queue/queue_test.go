package queue

import (
	"context"
	"testing"
	"time"
)

func TestMemory_EnqueueDequeue(t *testing.T) {
	q := NewMemory()
	defer q.Close()

	ctx := context.Background()
	job := NewJob("github.R.star_re1", []byte(`{"x":1}`))
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got.ID != job.ID {
		t.Errorf("got job %q, want %q", got.ID, job.ID)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}
}

func TestMemory_FIFO(t *testing.T) {
	q := NewMemory()
	defer q.Close()

	ctx := context.Background()
	first := NewJob("a", nil)
	second := NewJob("b", nil)
	q.Enqueue(ctx, first)
	q.Enqueue(ctx, second)

	got, _ := q.Dequeue(ctx)
	if got.ID != first.ID {
		t.Error("queue is not FIFO")
	}
}

func TestMemory_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewMemory()
	defer q.Close()

	ctx := context.Background()
	done := make(chan *Job, 1)
	go func() {
		job, err := q.Dequeue(ctx)
		if err != nil {
			t.Errorf("Dequeue: %v", err)
		}
		done <- job
	}()

	time.Sleep(20 * time.Millisecond)
	job := NewJob("late", nil)
	q.Enqueue(ctx, job)

	select {
	case got := <-done:
		if got.ID != job.ID {
			t.Errorf("got %q, want %q", got.ID, job.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not wake up")
	}
}

func TestMemory_DequeueContextCancel(t *testing.T) {
	q := NewMemory()
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx); err == nil {
		t.Error("expected context error from empty queue")
	}
}

func TestMemory_Closed(t *testing.T) {
	q := NewMemory()
	q.Close()

	if err := q.Enqueue(context.Background(), NewJob("x", nil)); err != ErrQueueClosed {
		t.Errorf("Enqueue on closed queue: %v", err)
	}
	if _, err := q.Dequeue(context.Background()); err != ErrQueueClosed {
		t.Errorf("Dequeue on closed queue: %v", err)
	}
	// Double close is fine.
	if err := q.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestMemory_Stats(t *testing.T) {
	q := NewMemory()
	defer q.Close()

	ctx := context.Background()
	q.Enqueue(ctx, NewJob("a", nil))
	q.Enqueue(ctx, NewJob("b", nil))

	if s := q.Stats(); s.Waiting != 2 {
		t.Errorf("Waiting = %d, want 2", s.Waiting)
	}

	job, _ := q.Dequeue(ctx)
	if s := q.Stats(); s.Waiting != 1 || s.Active != 1 {
		t.Errorf("after dequeue: %+v", q.Stats())
	}

	q.Finish(job, nil)
	if s := q.Stats(); s.Active != 0 || s.Completed != 1 {
		t.Errorf("after finish: %+v", s)
	}

	job2, _ := q.Dequeue(ctx)
	q.Finish(job2, ErrQueueClosed)
	if s := q.Stats(); s.Failed != 1 {
		t.Errorf("after failed finish: %+v", s)
	}
}

func TestDelayed_DeliversAfterDelay(t *testing.T) {
	q := NewDelayed()
	defer q.Close()

	ctx := context.Background()
	job := NewJob("delayed_timer_x", nil)
	start := time.Now()
	if err := q.EnqueueAfter(ctx, job, 50*time.Millisecond); err != nil {
		t.Fatalf("EnqueueAfter: %v", err)
	}

	if s := q.Stats(); s.Delayed != 1 {
		t.Errorf("Delayed = %d, want 1", s.Delayed)
	}

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got.ID != job.ID {
		t.Errorf("got %q, want %q", got.ID, job.ID)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("job delivered too early: %s", elapsed)
	}
	if s := q.Stats(); s.Delayed != 0 {
		t.Errorf("Delayed = %d after delivery, want 0", s.Delayed)
	}
}

func TestDelayed_NegativeDelayDeliversImmediately(t *testing.T) {
	q := NewDelayed()
	defer q.Close()

	ctx := context.Background()
	job := NewJob("x", nil)
	if err := q.EnqueueAt(ctx, job, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("EnqueueAt: %v", err)
	}

	dctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if _, err := q.Dequeue(dctx); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
}

func TestDelayed_CloseStopsTimers(t *testing.T) {
	q := NewDelayed()

	q.EnqueueAfter(context.Background(), NewJob("x", nil), time.Hour)
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s := q.Stats(); s.Delayed != 0 {
		t.Errorf("timers survived Close: %+v", s)
	}
}

func TestRepeating_DeliversOnInterval(t *testing.T) {
	q := NewRepeating()
	defer q.Close()

	ctx := context.Background()
	job := NewJob("pulling_spotify_pl", []byte(`{"n":1}`))
	regID, err := q.Register(ctx, job, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if regID == "" {
		t.Fatal("empty registration id")
	}

	dctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	first, err := q.Dequeue(dctx)
	if err != nil {
		t.Fatalf("first Dequeue: %v", err)
	}
	second, err := q.Dequeue(dctx)
	if err != nil {
		t.Fatalf("second Dequeue: %v", err)
	}

	// Each tick is a fresh job instance with the registered payload.
	if first.ID == second.ID {
		t.Error("ticks reused the same job id")
	}
	if first.Name != job.Name || string(second.Payload) != `{"n":1}` {
		t.Errorf("tick content mismatch: %+v / %+v", first, second)
	}
}

func TestRepeating_Unregister(t *testing.T) {
	q := NewRepeating()
	defer q.Close()

	ctx := context.Background()
	regID, _ := q.Register(ctx, NewJob("x", nil), 20*time.Millisecond)

	if q.Registrations() != 1 {
		t.Fatalf("Registrations = %d, want 1", q.Registrations())
	}

	q.Unregister(regID)
	if q.Registrations() != 0 {
		t.Errorf("Registrations = %d after Unregister, want 0", q.Registrations())
	}

	// Unknown ids are a no-op.
	q.Unregister("missing")

	// Drain anything in flight, then verify no new ticks arrive.
	time.Sleep(60 * time.Millisecond)
	drained := q.inner.Len()
	time.Sleep(60 * time.Millisecond)
	if q.inner.Len() != drained {
		t.Error("ticks kept arriving after Unregister")
	}
}

func TestRepeating_CloseCancelsAll(t *testing.T) {
	q := NewRepeating()

	ctx := context.Background()
	q.Register(ctx, NewJob("a", nil), time.Hour)
	q.Register(ctx, NewJob("b", nil), time.Hour)

	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if q.Registrations() != 0 {
		t.Errorf("registrations survived Close")
	}
	if _, err := q.Register(ctx, NewJob("c", nil), time.Hour); err != ErrQueueClosed {
		t.Errorf("Register on closed queue: %v", err)
	}
}
