package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arealink/arealink/internal/log"
	"github.com/arealink/arealink/internal/queue"
	"github.com/arealink/arealink/internal/store"
)

// DelayedJobName builds the durable name for a delayed job.
func DelayedJobName(service, name string) string {
	return "delayed_" + service + "_" + name
}

// PullingJobName builds the durable name for a pulling job.
func PullingJobName(service, name string) string {
	return "pulling_" + service + "_" + name
}

// NameRegistry maps human-meaningful job names to queue job ids so callers
// can start, replace, and stop background jobs idempotently by name instead
// of tracking opaque queue ids. At most one active row exists per name;
// a later add for the same name always supersedes the earlier one.
type NameRegistry struct {
	store   store.JobNameStore
	delayed *queue.Delayed
	pulling *queue.Repeating
	logger  *slog.Logger
}

// NewNameRegistry creates a job name registry over the given store and
// queues.
func NewNameRegistry(s store.JobNameStore, delayed *queue.Delayed, pulling *queue.Repeating, logger *slog.Logger) *NameRegistry {
	return &NameRegistry{
		store:   s,
		delayed: delayed,
		pulling: pulling,
		logger:  log.WithComponent(logger, "jobs"),
	}
}

// ResolveJobID returns the queue job id currently registered under name,
// or "" if no active row exists.
func (r *NameRegistry) ResolveJobID(ctx context.Context, name string) (string, error) {
	row, err := r.store.ActiveByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.JobID, nil
}

// AddDelayedJob schedules a one-shot delayed job under
// "delayed_<service>_<name>". An existing active registration with the same
// name is superseded: its row is flagged canceled so the already-queued job
// becomes a no-op when it eventually fires. Returns the new queue job id.
func (r *NameRegistry) AddDelayedJob(ctx context.Context, job DelayedJobObject) (string, error) {
	name := DelayedJobName(job.Service, job.Name)

	if err := r.supersedeDelayed(ctx, name); err != nil {
		return "", err
	}

	delay := delayFor(job, time.Now())

	qjob := queue.NewJob(name, nil)
	payload, err := EncodeDelayed(qjob.ID, job)
	if err != nil {
		return "", err
	}
	qjob.Payload = payload

	if err := r.delayed.EnqueueAfter(ctx, qjob, delay); err != nil {
		return "", fmt.Errorf("failed to enqueue delayed job %s: %w", name, err)
	}

	if err := r.store.Insert(ctx, &store.JobName{JobID: qjob.ID, JobName: name}); err != nil {
		return "", fmt.Errorf("failed to persist job name %s: %w", name, err)
	}

	r.logger.Debug("scheduled delayed job",
		slog.String(log.JobKey, name),
		slog.String(log.JobIDKey, qjob.ID),
		slog.Duration("delay", delay))
	return qjob.ID, nil
}

// supersedeDelayed flags the active row for name canceled, if one exists.
func (r *NameRegistry) supersedeDelayed(ctx context.Context, name string) error {
	row, err := r.store.ActiveByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up job name %s: %w", name, err)
	}

	if err := r.store.MarkCanceled(ctx, row.JobID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to supersede job %s: %w", name, err)
	}
	r.logger.Debug("superseded delayed job",
		slog.String(log.JobKey, name),
		slog.String(log.JobIDKey, row.JobID))
	return nil
}

// delayFor computes the delay from TriggerIn milliseconds or TriggerAt,
// clamped to zero.
func delayFor(job DelayedJobObject, now time.Time) time.Duration {
	var delay time.Duration
	switch {
	case job.TriggerIn > 0:
		delay = time.Duration(job.TriggerIn) * time.Millisecond
	case job.TriggerAt > 0:
		delay = time.UnixMilli(job.TriggerAt).Sub(now)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// AddPullingJob registers a recurring polling job under
// "pulling_<service>_<name>". An existing registration with the same name is
// fully removed first: recurring schedules are cancelled outright, not
// flagged, because a stale repeat would generate background work forever.
// Returns the new queue job id.
func (r *NameRegistry) AddPullingJob(ctx context.Context, job PullingJobObject) (string, error) {
	name := PullingJobName(job.Service, job.Name)

	row, err := r.store.ActiveByName(ctx, name)
	if err == nil {
		if row.AddOpts != nil {
			r.pulling.Unregister(row.AddOpts.RegistrationID)
		}
		if err := r.store.Delete(ctx, row.JobID); err != nil {
			return "", fmt.Errorf("failed to remove superseded job %s: %w", name, err)
		}
		r.logger.Debug("superseded pulling job",
			slog.String(log.JobKey, name),
			slog.String(log.JobIDKey, row.JobID))
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("failed to look up job name %s: %w", name, err)
	}

	payload, err := EncodePulling(job)
	if err != nil {
		return "", err
	}
	qjob := queue.NewJob(name, payload)

	every := time.Duration(job.TriggerEvery) * time.Millisecond
	regID, err := r.pulling.Register(ctx, qjob, every)
	if err != nil {
		return "", fmt.Errorf("failed to register pulling job %s: %w", name, err)
	}

	err = r.store.Insert(ctx, &store.JobName{
		JobID:   qjob.ID,
		JobName: name,
		AddOpts: &store.AddOpts{EveryMillis: job.TriggerEvery, RegistrationID: regID},
	})
	if err != nil {
		r.pulling.Unregister(regID)
		return "", fmt.Errorf("failed to persist job name %s: %w", name, err)
	}

	r.logger.Debug("registered pulling job",
		slog.String(log.JobKey, name),
		slog.String(log.JobIDKey, qjob.ID),
		slog.Duration("every", every))
	return qjob.ID, nil
}

// RemoveDelayedJobByName flags the active row for name canceled. The queued
// job still fires but the consumer sees the flag and no-ops. Removing a
// name with no active row is a no-op.
func (r *NameRegistry) RemoveDelayedJobByName(ctx context.Context, name string) error {
	row, err := r.store.ActiveByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up job name %s: %w", name, err)
	}

	if err := r.store.MarkCanceled(ctx, row.JobID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to cancel job %s: %w", name, err)
	}
	r.logger.Debug("canceled delayed job",
		slog.String(log.JobKey, name),
		slog.String(log.JobIDKey, row.JobID))
	return nil
}

// RemovePullingJobByID unregisters the repeat schedule for the given queue
// job id, deletes its registry row, and returns the job's last payload, or
// nil if the id is unknown.
func (r *NameRegistry) RemovePullingJobByID(ctx context.Context, jobID string) (*PullingJobObject, error) {
	row, err := r.store.ByJobID(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up job %s: %w", jobID, err)
	}

	var last *PullingJobObject
	if row.AddOpts != nil {
		if qjob, ok := r.pulling.Registered(row.AddOpts.RegistrationID); ok {
			if decoded, err := DecodePulling(qjob.Payload); err == nil {
				last = &decoded
			}
		}
		r.pulling.Unregister(row.AddOpts.RegistrationID)
	}

	if err := r.store.Delete(ctx, jobID); err != nil {
		return nil, fmt.Errorf("failed to delete job %s: %w", jobID, err)
	}

	r.logger.Debug("removed pulling job",
		slog.String(log.JobKey, row.JobName),
		slog.String(log.JobIDKey, jobID))
	return last, nil
}

// ConsumeDelayed is called by the delayed-queue consumer when a job fires.
// It resolves the registry row for the queue job id and retires it.
// Returns run=false when the job should be skipped: either the row is gone
// (already cleaned up) or it was flagged canceled by a supersede.
func (r *NameRegistry) ConsumeDelayed(ctx context.Context, jobID string) (run bool, err error) {
	row, err := r.store.ByJobID(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up job %s: %w", jobID, err)
	}

	if err := r.store.Delete(ctx, jobID); err != nil {
		return false, fmt.Errorf("failed to retire job %s: %w", jobID, err)
	}
	return !row.Canceled, nil
}
