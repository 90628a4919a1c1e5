// Package dispatch fans a firing action out to the reactions wired into its
// area. It is the seam between trigger sources (webhooks, delayed timers,
// poll ticks) and reaction execution.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/arealink/arealink/internal/jobs"
	"github.com/arealink/arealink/internal/log"
	"github.com/arealink/arealink/internal/metrics"
	"github.com/arealink/arealink/internal/placeholder"
	"github.com/arealink/arealink/internal/queue"
	"github.com/arealink/arealink/internal/service"
	"github.com/arealink/arealink/internal/store"
)

// builtinNames are the placeholder names the dispatcher computes itself.
// Caller-supplied placeholders with these names are dropped.
var builtinNames = map[string]struct{}{
	"actionId":     {},
	"actionType":   {},
	"reactionId":   {},
	"reactionType": {},
	"areaId":       {},
	"areaName":     {},
	"ownerId":      {},
	"ownerEmail":   {},
}

// Dispatcher resolves a firing action to its area, owner, and reactions, and
// enqueues one workable object per reaction. Every failure is absorbed and
// logged: a broken reaction, a missing row, or a panicking adapter must never
// reach the caller or block sibling reactions.
type Dispatcher struct {
	store     store.Store
	registry  *service.Registry
	reactions queue.Queue
	app       *service.App
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// New creates a dispatcher. metrics may be nil.
func New(st store.Store, registry *service.Registry, reactions queue.Queue, app *service.App, mc *metrics.Collector, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     st,
		registry:  registry,
		reactions: reactions,
		app:       app,
		metrics:   mc,
		logger:    log.WithComponent(logger, "dispatch"),
	}
}

// Fire dispatches a trigger. It never returns an error: resolution failures
// abort this one dispatch with a log line, and a panic anywhere below is
// recovered at this boundary.
func (d *Dispatcher) Fire(ctx context.Context, trigger jobs.TriggerObject) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch panicked",
				slog.String(log.ActionIDKey, trigger.ActionID),
				slog.Any("panic", r))
		}
	}()

	action, err := d.store.Action(ctx, trigger.ActionID)
	if err != nil {
		d.logger.Error("failed to resolve action",
			slog.String(log.ActionIDKey, trigger.ActionID),
			log.Error(err))
		return
	}

	area, err := d.store.AreaByAction(ctx, action.ID)
	if err != nil {
		d.logger.Error("failed to resolve area",
			slog.String(log.ActionIDKey, action.ID),
			log.Error(err))
		return
	}

	if !area.Enabled {
		d.logger.Debug("area disabled, skipping dispatch",
			slog.String(log.AreaIDKey, area.ID),
			slog.String(log.ActionIDKey, action.ID))
		return
	}

	if len(area.Reactions) == 0 {
		d.logger.Debug("area has no reactions",
			slog.String(log.AreaIDKey, area.ID),
			slog.String(log.ActionIDKey, action.ID))
		return
	}

	owner, err := d.store.User(ctx, area.UserID)
	if err != nil {
		d.logger.Error("failed to resolve area owner",
			slog.String(log.AreaIDKey, area.ID),
			slog.String("user_id", area.UserID),
			log.Error(err))
		return
	}

	if d.metrics != nil {
		d.metrics.RecordDispatch(ctx, action.ServiceAction)
	}

	for i := range area.Reactions {
		d.dispatchReaction(ctx, action, area, owner, &area.Reactions[i], trigger.Placeholders)
	}
}

// dispatchReaction prepares and enqueues one reaction. Failures skip this
// reaction only.
func (d *Dispatcher) dispatchReaction(ctx context.Context, action *store.Action, area *store.Area, owner *store.User, reaction *store.Reaction, supplied []placeholder.Placeholder) {
	rlog := d.logger.With(
		slog.String(log.ActionIDKey, action.ID),
		slog.String(log.ReactionIDKey, reaction.ID))

	handler, ok := d.registry.Reaction(reaction.ServiceReaction)
	if !ok {
		rlog.Error("no handler registered for reaction",
			slog.String("reaction_type", reaction.ServiceReaction))
		if d.metrics != nil {
			d.metrics.RecordError(ctx, "dispatch")
		}
		return
	}

	prepared, err := handler.PrepareData(ctx, reaction.ID, d.app)
	if err != nil {
		rlog.Error("failed to prepare reaction data", log.Error(err))
		if d.metrics != nil {
			d.metrics.RecordError(ctx, "dispatch")
		}
		return
	}

	w := &jobs.WorkableObject{
		ActionID:             action.ID,
		ActionType:           action.ServiceAction,
		ReactionID:           reaction.ID,
		ReactionType:         reaction.ServiceReaction,
		ReactionOptions:      reaction.Options,
		AreaID:               area.ID,
		AreaName:             area.Name,
		OwnerID:              owner.ID,
		OwnerEmail:           owner.Email,
		Placeholders:         finalPlaceholders(supplied, action, area, owner, reaction),
		ReactionPreparedData: prepared,
	}

	payload, err := jobs.EncodeWorkable(w)
	if err != nil {
		rlog.Error("failed to encode workable object", log.Error(err))
		return
	}

	qjob := queue.NewJob(reaction.ServiceReaction+"_"+reaction.ID, payload)
	if err := d.reactions.Enqueue(ctx, qjob); err != nil {
		rlog.Error("failed to enqueue reaction", log.Error(err))
		if d.metrics != nil {
			d.metrics.RecordError(ctx, "dispatch")
		}
		return
	}

	if d.metrics != nil {
		d.metrics.RecordReactionEnqueued(ctx, reaction.ServiceReaction)
	}
	rlog.Debug("reaction enqueued",
		slog.String(log.JobIDKey, qjob.ID),
		slog.String("reaction_type", reaction.ServiceReaction))
}

// finalPlaceholders merges caller-supplied placeholders with the computed
// built-ins. Supplied entries whose names collide with a built-in are
// dropped so the built-in value always wins.
func finalPlaceholders(supplied []placeholder.Placeholder, action *store.Action, area *store.Area, owner *store.User, reaction *store.Reaction) []placeholder.Placeholder {
	final := make([]placeholder.Placeholder, 0, len(supplied)+len(builtinNames))
	for _, p := range supplied {
		if _, reserved := builtinNames[p.Name]; reserved {
			continue
		}
		final = append(final, p)
	}

	return append(final,
		placeholder.Placeholder{Name: "actionId", Value: action.ID},
		placeholder.Placeholder{Name: "actionType", Value: action.ServiceAction},
		placeholder.Placeholder{Name: "reactionId", Value: reaction.ID},
		placeholder.Placeholder{Name: "reactionType", Value: reaction.ServiceReaction},
		placeholder.Placeholder{Name: "areaId", Value: area.ID},
		placeholder.Placeholder{Name: "areaName", Value: area.Name},
		placeholder.Placeholder{Name: "ownerId", Value: owner.ID},
		placeholder.Placeholder{Name: "ownerEmail", Value: owner.Email},
	)
}
