// Package worker runs the consumer loops draining the three job queues:
// immediate reaction work, delayed one-shot jobs, and repeating polls.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arealink/arealink/internal/fetch"
	"github.com/arealink/arealink/internal/jobs"
	"github.com/arealink/arealink/internal/log"
	"github.com/arealink/arealink/internal/metrics"
	"github.com/arealink/arealink/internal/queue"
	"github.com/arealink/arealink/internal/service"
)

// DefaultAdapterTimeout bounds a single adapter invocation so a hanging
// integration cannot stall its consumer loop forever.
const DefaultAdapterTimeout = 30 * time.Second

// Options configures a Worker.
type Options struct {
	Reactions queue.Queue
	Delayed   *queue.Delayed
	Pulling   *queue.Repeating

	Registry *service.Registry
	Jobs     *jobs.NameRegistry
	App      *service.App
	Fetcher  *fetch.Client

	// AdapterTimeout bounds each adapter call. Default: DefaultAdapterTimeout.
	AdapterTimeout time.Duration

	// Metrics may be nil.
	Metrics *metrics.Collector

	Logger *slog.Logger
}

// Worker owns the three consumer goroutines. One job is processed at a time
// per loop; the loops run concurrently with each other.
type Worker struct {
	opts   Options
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a worker. Call Start to begin consuming.
func New(opts Options) *Worker {
	if opts.AdapterTimeout <= 0 {
		opts.AdapterTimeout = DefaultAdapterTimeout
	}
	return &Worker{
		opts:   opts,
		logger: log.WithComponent(opts.Logger, "worker"),
	}
}

// Start launches the consumer loops. They run until Stop is called or the
// parent context is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(3)
	go func() {
		defer w.wg.Done()
		w.consumeReactions(ctx)
	}()
	go func() {
		defer w.wg.Done()
		w.consumeDelayed(ctx)
	}()
	go func() {
		defer w.wg.Done()
		w.consumePulling(ctx)
	}()
}

// Stop cancels the loops and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// consumeReactions drains the immediate reaction-work queue.
func (w *Worker) consumeReactions(ctx context.Context) {
	for {
		qjob, err := w.opts.Reactions.Dequeue(ctx)
		if err != nil {
			return
		}
		err = w.processReaction(ctx, qjob)
		w.opts.Reactions.Finish(qjob, err)
	}
}

func (w *Worker) processReaction(ctx context.Context, qjob *queue.Job) error {
	obj, err := jobs.DecodeWorkable(qjob.Payload)
	if err != nil {
		w.logger.Error("undecodable reaction payload",
			slog.String(log.JobIDKey, qjob.ID),
			log.Error(err))
		return err
	}

	rlog := w.logger.With(
		slog.String(log.ReactionIDKey, obj.ReactionID),
		slog.String("reaction_type", obj.ReactionType))

	handler, ok := w.opts.Registry.Reaction(obj.ReactionType)
	if !ok {
		err := fmt.Errorf("no handler registered for reaction %s", obj.ReactionType)
		rlog.Error("reaction dropped", log.Error(err))
		if w.opts.Metrics != nil {
			w.opts.Metrics.RecordError(ctx, "reaction")
		}
		return err
	}

	start := time.Now()
	err = w.callAdapter(ctx, func(ctx context.Context) error {
		return handler.Trigger(ctx, obj)
	})
	if w.opts.Metrics != nil {
		w.opts.Metrics.RecordReactionComplete(ctx, obj.ReactionType, err == nil, time.Since(start))
	}
	if err != nil {
		rlog.Error("reaction failed",
			slog.Int64(log.DurationKey, time.Since(start).Milliseconds()),
			log.Error(err))
		return err
	}

	rlog.Debug("reaction executed",
		slog.Int64(log.DurationKey, time.Since(start).Milliseconds()))
	return nil
}

// consumeDelayed drains the delayed queue. A fired job runs only if its
// registry row is still live; superseded or removed jobs are silently
// retired.
func (w *Worker) consumeDelayed(ctx context.Context) {
	for {
		qjob, err := w.opts.Delayed.Dequeue(ctx)
		if err != nil {
			return
		}
		err = w.processDelayed(ctx, qjob)
		w.opts.Delayed.Finish(qjob, err)
	}
}

func (w *Worker) processDelayed(ctx context.Context, qjob *queue.Job) error {
	jobID, obj, err := jobs.DecodeDelayed(qjob.Payload)
	if err != nil {
		w.logger.Error("undecodable delayed payload",
			slog.String(log.JobIDKey, qjob.ID),
			log.Error(err))
		return err
	}

	jlog := w.logger.With(
		slog.String(log.JobKey, qjob.Name),
		slog.String(log.JobIDKey, jobID),
		slog.String(log.ServiceKey, obj.Service))

	run, err := w.opts.Jobs.ConsumeDelayed(ctx, jobID)
	if err != nil {
		jlog.Error("failed to resolve delayed job", log.Error(err))
		return err
	}
	if !run {
		jlog.Debug("delayed job superseded, skipping")
		return nil
	}

	ctrl, ok := w.opts.Registry.Service(obj.Service)
	if !ok {
		err := fmt.Errorf("no service registered for delayed job %s", obj.Service)
		jlog.Error("delayed job dropped", log.Error(err))
		if w.opts.Metrics != nil {
			w.opts.Metrics.RecordError(ctx, "delayed")
		}
		return err
	}

	proc, ok := ctrl.(service.DelayedJobProcessor)
	if !ok {
		// A service that schedules delayed work without a processor is a
		// wiring defect, not a runtime condition.
		err := fmt.Errorf("service %s cannot process delayed jobs", obj.Service)
		jlog.Error("delayed job dropped", log.Error(err))
		if w.opts.Metrics != nil {
			w.opts.Metrics.RecordError(ctx, "delayed")
		}
		return err
	}

	err = w.callAdapter(ctx, func(ctx context.Context) error {
		return proc.ProcessDelayedJob(ctx, obj.JobData, w.opts.App)
	})
	if w.opts.Metrics != nil {
		w.opts.Metrics.RecordJob(ctx, "delayed", err == nil)
	}
	if err != nil {
		jlog.Error("delayed job failed", log.Error(err))
		return err
	}

	jlog.Debug("delayed job executed")
	return nil
}

// consumePulling drains the repeating queue. Each tick performs at most one
// fetch/diff/notify cycle; failures are swallowed so the next tick retries.
func (w *Worker) consumePulling(ctx context.Context) {
	for {
		qjob, err := w.opts.Pulling.Dequeue(ctx)
		if err != nil {
			return
		}
		err = w.processPulling(ctx, qjob)
		w.opts.Pulling.Finish(qjob, err)
	}
}

func (w *Worker) processPulling(ctx context.Context, qjob *queue.Job) error {
	obj, err := jobs.DecodePulling(qjob.Payload)
	if err != nil {
		w.logger.Error("undecodable pulling payload",
			slog.String(log.JobIDKey, qjob.ID),
			log.Error(err))
		return err
	}

	jlog := w.logger.With(
		slog.String(log.JobKey, qjob.Name),
		slog.String(log.ServiceKey, obj.Service))

	ctrl, ok := w.opts.Registry.Service(obj.Service)
	if !ok {
		err := fmt.Errorf("no service registered for pulling job %s", obj.Service)
		jlog.Error("pulling job dropped", log.Error(err))
		if w.opts.Metrics != nil {
			w.opts.Metrics.RecordError(ctx, "pulling")
		}
		return err
	}

	proc, ok := ctrl.(service.PullingJobProcessor)
	if !ok {
		err := fmt.Errorf("service %s cannot process pulling jobs", obj.Service)
		jlog.Error("pulling job dropped", log.Error(err))
		if w.opts.Metrics != nil {
			w.opts.Metrics.RecordError(ctx, "pulling")
		}
		return err
	}

	start := time.Now()
	err = w.pullCycle(ctx, proc, obj)
	if w.opts.Metrics != nil {
		w.opts.Metrics.RecordJob(ctx, "pulling", err == nil)
	}
	if err != nil {
		// Swallowed: the interval timer tries again next tick.
		jlog.Warn("pull cycle failed",
			slog.Int64(log.DurationKey, time.Since(start).Milliseconds()),
			log.Error(err))
		return err
	}
	return nil
}

func (w *Worker) pullCycle(ctx context.Context, proc service.PullingJobProcessor, obj jobs.PullingJobObject) error {
	var pd *service.PullingData
	err := w.callAdapter(ctx, func(ctx context.Context) error {
		var perr error
		pd, perr = proc.ProcessPullingJob(ctx, obj.JobData, w.opts.App)
		return perr
	})
	if err != nil {
		return err
	}
	if pd == nil {
		return nil
	}

	body, err := w.opts.Fetcher.GetJSON(ctx, pd.URL, pd.Params)
	if err != nil {
		return err
	}

	items, err := pd.Diff(body)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	return w.callAdapter(ctx, func(ctx context.Context) error {
		return pd.OnDiff(ctx, items)
	})
}

// callAdapter invokes fn under the adapter timeout and converts panics into
// errors so one broken adapter cannot take down a consumer loop.
func (w *Worker) callAdapter(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, w.opts.AdapterTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter panicked: %v", r)
		}
	}()
	return fn(ctx)
}
