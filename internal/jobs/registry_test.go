package jobs

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/arealink/arealink/internal/queue"
	"github.com/arealink/arealink/internal/store/memory"
)

func newTestRegistry(t *testing.T) (*NameRegistry, *memory.Store, *queue.Delayed, *queue.Repeating) {
	t.Helper()
	st := memory.New()
	delayed := queue.NewDelayed()
	pulling := queue.NewRepeating()
	t.Cleanup(func() {
		delayed.Close()
		pulling.Close()
	})
	r := NewNameRegistry(st, delayed, pulling, slog.Default())
	return r, st, delayed, pulling
}

func TestAddDelayedJob(t *testing.T) {
	r, _, delayed, _ := newTestRegistry(t)
	ctx := context.Background()

	jobID, err := r.AddDelayedJob(ctx, DelayedJobObject{
		Service:   "timer",
		Name:      "reminder",
		TriggerIn: 10,
		JobData:   map[string]any{"msg": "hi"},
	})
	if err != nil {
		t.Fatalf("AddDelayedJob: %v", err)
	}

	resolved, err := r.ResolveJobID(ctx, "delayed_timer_reminder")
	if err != nil {
		t.Fatalf("ResolveJobID: %v", err)
	}
	if resolved != jobID {
		t.Errorf("ResolveJobID = %q, want %q", resolved, jobID)
	}

	// The queued envelope carries its own job id.
	dctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	qjob, err := delayed.Dequeue(dctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	gotID, obj, err := DecodeDelayed(qjob.Payload)
	if err != nil {
		t.Fatalf("DecodeDelayed: %v", err)
	}
	if gotID != jobID {
		t.Errorf("envelope job id = %q, want %q", gotID, jobID)
	}
	if obj.JobData["msg"] != "hi" {
		t.Errorf("job data = %v", obj.JobData)
	}
}

// Adding a delayed job under a name that already has an active registration
// supersedes the old one: the old row is flagged canceled, the new row is
// the only active one, and the old queued job must no-op when consumed.
func TestAddDelayedJob_Supersede(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	ctx := context.Background()

	first, err := r.AddDelayedJob(ctx, DelayedJobObject{Service: "timer", Name: "x", TriggerIn: 60000})
	if err != nil {
		t.Fatalf("first AddDelayedJob: %v", err)
	}
	second, err := r.AddDelayedJob(ctx, DelayedJobObject{Service: "timer", Name: "x", TriggerIn: 60000})
	if err != nil {
		t.Fatalf("second AddDelayedJob: %v", err)
	}
	if first == second {
		t.Fatal("supersede reused the job id")
	}

	// Exactly one active row, pointing at the second job.
	resolved, err := r.ResolveJobID(ctx, "delayed_timer_x")
	if err != nil {
		t.Fatalf("ResolveJobID: %v", err)
	}
	if resolved != second {
		t.Errorf("active job = %q, want %q", resolved, second)
	}

	// The first job fires eventually; consuming it reports run=false.
	run, err := r.ConsumeDelayed(ctx, first)
	if err != nil {
		t.Fatalf("ConsumeDelayed(first): %v", err)
	}
	if run {
		t.Error("superseded job was allowed to run")
	}

	// The second is live.
	run, err = r.ConsumeDelayed(ctx, second)
	if err != nil {
		t.Fatalf("ConsumeDelayed(second): %v", err)
	}
	if !run {
		t.Error("live job was suppressed")
	}
}

func TestRemoveDelayedJobByName(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	ctx := context.Background()

	jobID, err := r.AddDelayedJob(ctx, DelayedJobObject{Service: "timer", Name: "y", TriggerIn: 60000})
	if err != nil {
		t.Fatalf("AddDelayedJob: %v", err)
	}

	if err := r.RemoveDelayedJobByName(ctx, "delayed_timer_y"); err != nil {
		t.Fatalf("RemoveDelayedJobByName: %v", err)
	}

	// The queued job must no-op when it eventually fires.
	run, err := r.ConsumeDelayed(ctx, jobID)
	if err != nil {
		t.Fatalf("ConsumeDelayed: %v", err)
	}
	if run {
		t.Error("removed job was allowed to run")
	}

	// Removing a name with no active row is a no-op.
	if err := r.RemoveDelayedJobByName(ctx, "delayed_timer_nothing"); err != nil {
		t.Errorf("RemoveDelayedJobByName(missing): %v", err)
	}
}

// Adding a pulling job under an existing name actively unregisters the old
// repeat schedule; exactly one registration survives.
func TestAddPullingJob_Supersede(t *testing.T) {
	r, _, _, pulling := newTestRegistry(t)
	ctx := context.Background()

	first, err := r.AddPullingJob(ctx, PullingJobObject{Service: "spotify", Name: "pl", TriggerEvery: 3600000})
	if err != nil {
		t.Fatalf("first AddPullingJob: %v", err)
	}
	if pulling.Registrations() != 1 {
		t.Fatalf("Registrations = %d, want 1", pulling.Registrations())
	}

	second, err := r.AddPullingJob(ctx, PullingJobObject{Service: "spotify", Name: "pl", TriggerEvery: 1800000})
	if err != nil {
		t.Fatalf("second AddPullingJob: %v", err)
	}
	if first == second {
		t.Fatal("supersede reused the job id")
	}

	// The first registration was actively removed, not merely flagged.
	if pulling.Registrations() != 1 {
		t.Errorf("Registrations = %d after supersede, want 1", pulling.Registrations())
	}

	resolved, err := r.ResolveJobID(ctx, "pulling_spotify_pl")
	if err != nil {
		t.Fatalf("ResolveJobID: %v", err)
	}
	if resolved != second {
		t.Errorf("active job = %q, want %q", resolved, second)
	}
}

func TestRemovePullingJobByID(t *testing.T) {
	r, _, _, pulling := newTestRegistry(t)
	ctx := context.Background()

	jobID, err := r.AddPullingJob(ctx, PullingJobObject{
		Service:      "teams",
		Name:         "chan",
		TriggerEvery: 3600000,
		JobData:      map[string]any{"channel": "general"},
	})
	if err != nil {
		t.Fatalf("AddPullingJob: %v", err)
	}

	last, err := r.RemovePullingJobByID(ctx, jobID)
	if err != nil {
		t.Fatalf("RemovePullingJobByID: %v", err)
	}
	if last == nil {
		t.Fatal("expected last payload, got nil")
	}
	if last.JobData["channel"] != "general" {
		t.Errorf("last payload = %+v", last)
	}
	if pulling.Registrations() != 0 {
		t.Errorf("Registrations = %d after remove, want 0", pulling.Registrations())
	}

	// Unknown ids return nil, not an error.
	missing, err := r.RemovePullingJobByID(ctx, "nope")
	if err != nil {
		t.Fatalf("RemovePullingJobByID(missing): %v", err)
	}
	if missing != nil {
		t.Errorf("missing id returned payload %+v", missing)
	}
}

func TestConsumeDelayed_UnknownJob(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)

	run, err := r.ConsumeDelayed(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("ConsumeDelayed: %v", err)
	}
	if run {
		t.Error("unknown job was allowed to run")
	}
}

func TestDelayFor(t *testing.T) {
	now := time.Now()

	if d := delayFor(DelayedJobObject{TriggerIn: 1500}, now); d != 1500*time.Millisecond {
		t.Errorf("TriggerIn delay = %s", d)
	}
	at := now.Add(2 * time.Second).UnixMilli()
	if d := delayFor(DelayedJobObject{TriggerAt: at}, now); d < 1900*time.Millisecond || d > 2100*time.Millisecond {
		t.Errorf("TriggerAt delay = %s", d)
	}
	// Past TriggerAt clamps to zero.
	if d := delayFor(DelayedJobObject{TriggerAt: now.Add(-time.Hour).UnixMilli()}, now); d != 0 {
		t.Errorf("past TriggerAt delay = %s, want 0", d)
	}
	// TriggerIn wins over TriggerAt.
	if d := delayFor(DelayedJobObject{TriggerIn: 100, TriggerAt: at}, now); d != 100*time.Millisecond {
		t.Errorf("combined delay = %s", d)
	}
	if d := delayFor(DelayedJobObject{}, now); d != 0 {
		t.Errorf("empty delay = %s, want 0", d)
	}
}
