// Package poller runs the in-process polling timers behind actions that
// watch a remote resource for changes.
//
// Two strategies exist for recurring polls. The EphemeralPoller here keeps
// its timers in process memory: cheap, jittered, and gone on restart, which
// suits adapters that re-register their polls at startup. Adapters that need
// restart survival register a durable repeating job through the job-name
// registry instead.
package poller

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/arealink/arealink/internal/fetch"
	"github.com/arealink/arealink/internal/log"
	"github.com/arealink/arealink/internal/metrics"
)

// MinInterval is the floor applied to poll intervals.
const MinInterval = 10 * time.Second

// Spec describes one named poll: what to fetch, how often, and what to do
// with new items.
type Spec struct {
	Name     string
	URL      string
	Params   map[string]string
	Interval time.Duration

	// Diff computes the new/changed items from a fetched response body.
	// Returning an empty slice (or nil) means nothing new this cycle.
	Diff func(body any) ([]any, error)

	// OnDiff receives the new items. It persists updated cursor state and
	// fires the dispatcher once per item.
	OnDiff func(ctx context.Context, items []any) error
}

// pollEntry tracks the timer state for one named poll.
type pollEntry struct {
	spec    Spec
	timer   *time.Timer
	cancel  context.CancelFunc
	stopped bool
}

// EphemeralPoller owns a table of named in-process poll timers. Names are
// the cancellation handle; starting a poll under an existing name replaces
// the old one. All methods are safe for concurrent use.
type EphemeralPoller struct {
	mu      sync.RWMutex
	polls   map[string]*pollEntry
	fetcher *fetch.Client
	metrics *metrics.Collector
	logger  *slog.Logger
	closed  bool
}

// New creates an ephemeral poller over the given fetch client. metrics may
// be nil.
func New(fetcher *fetch.Client, mc *metrics.Collector, logger *slog.Logger) *EphemeralPoller {
	return &EphemeralPoller{
		polls:   make(map[string]*pollEntry),
		fetcher: fetcher,
		metrics: mc,
		logger:  log.WithComponent(logger, "poller"),
	}
}

// Start registers a poll under spec.Name. An existing poll with the same
// name is stopped first. Intervals below MinInterval are raised to it.
func (p *EphemeralPoller) Start(ctx context.Context, spec Spec) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPollerClosed
	}

	if spec.Interval < MinInterval {
		spec.Interval = MinInterval
	}

	if existing, exists := p.polls[spec.Name]; exists {
		p.stopEntry(existing)
		delete(p.polls, spec.Name)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	entry := &pollEntry{
		spec:   spec,
		timer:  time.NewTimer(addJitter(spec.Interval)),
		cancel: cancel,
	}
	p.polls[spec.Name] = entry

	go p.run(pollCtx, entry)

	p.updateGauge()
	p.logger.Debug("poll started",
		slog.String(log.JobKey, spec.Name),
		slog.Duration("interval", spec.Interval))
	return nil
}

// Stop removes the poll registered under name. Unknown names are a no-op.
func (p *EphemeralPoller) Stop(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, exists := p.polls[name]; exists {
		p.stopEntry(entry)
		delete(p.polls, name)
		p.updateGauge()
		p.logger.Debug("poll stopped", slog.String(log.JobKey, name))
	}
}

// StopPrefix removes every poll whose name starts with prefix and returns
// how many were stopped.
func (p *EphemeralPoller) StopPrefix(prefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	stopped := 0
	for name, entry := range p.polls {
		if strings.HasPrefix(name, prefix) {
			p.stopEntry(entry)
			delete(p.polls, name)
			stopped++
		}
	}
	if stopped > 0 {
		p.updateGauge()
		p.logger.Debug("polls stopped by prefix",
			slog.String("prefix", prefix),
			slog.Int("count", stopped))
	}
	return stopped
}

// Names returns the names of all registered polls.
func (p *EphemeralPoller) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.polls))
	for name := range p.polls {
		names = append(names, name)
	}
	return names
}

// Close stops all polls and rejects further Start calls.
func (p *EphemeralPoller) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for _, entry := range p.polls {
		p.stopEntry(entry)
	}
	p.polls = make(map[string]*pollEntry)
	p.updateGauge()
}

// ErrPollerClosed is returned by Start after Close.
var ErrPollerClosed = &closedError{}

type closedError struct{}

func (*closedError) Error() string { return "poller is closed" }

// stopEntry halts one entry. Caller holds p.mu.
func (p *EphemeralPoller) stopEntry(entry *pollEntry) {
	entry.stopped = true
	entry.cancel()
	entry.timer.Stop()
}

// updateGauge reports the live poll count. Caller holds p.mu.
func (p *EphemeralPoller) updateGauge() {
	if p.metrics != nil {
		p.metrics.SetActivePollers(len(p.polls))
	}
}

// run fires one poll cycle per timer tick and reschedules with jitter.
func (p *EphemeralPoller) run(ctx context.Context, entry *pollEntry) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-entry.timer.C:
			if entry.stopped {
				return
			}
			p.cycle(ctx, entry.spec)
			entry.timer.Reset(addJitter(entry.spec.Interval))
		}
	}
}

// cycle performs one fetch/diff/notify pass. Failures are logged and
// swallowed; the next tick simply tries again.
func (p *EphemeralPoller) cycle(ctx context.Context, spec Spec) {
	start := time.Now()
	err := p.runCycle(ctx, spec)
	if p.metrics != nil {
		p.metrics.RecordPollComplete(ctx, spec.Name, err == nil, time.Since(start))
	}
	if err != nil {
		p.logger.Warn("poll cycle failed",
			slog.String(log.JobKey, spec.Name),
			log.Error(err))
	}
}

func (p *EphemeralPoller) runCycle(ctx context.Context, spec Spec) error {
	body, err := p.fetcher.GetJSON(ctx, spec.URL, spec.Params)
	if err != nil {
		return err
	}

	items, err := spec.Diff(body)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	return spec.OnDiff(ctx, items)
}

// addJitter spreads poll ticks by ±10% to avoid thundering herd.
func addJitter(d time.Duration) time.Duration {
	jitterRange := float64(d) * 0.1
	jitter := (rand.Float64()*2 - 1) * jitterRange
	return d + time.Duration(jitter)
}
