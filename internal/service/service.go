// Package service defines the contract every integration adapter implements
// and the typed registry the core resolves adapters through.
//
// Adapters are trusted, statically wired collaborators. The core never
// loads code dynamically: everything is registered at startup, and an
// unknown key is an ordinary "feature not found" miss rather than an error
// path.
package service

import (
	"context"
	"log/slog"

	"github.com/arealink/arealink/internal/jobs"
	"github.com/arealink/arealink/internal/poller"
	"github.com/arealink/arealink/internal/store"
)

// App is the execution context handed to adapters. It grants repository
// access, job scheduling, and the ability to fire the trigger dispatcher.
type App struct {
	Logger *slog.Logger
	Store  store.Store
	Jobs   *jobs.NameRegistry

	// Poller runs in-process poll timers for adapters that re-register
	// their polls at startup. Restart-surviving polls go through Jobs
	// instead.
	Poller *poller.EphemeralPoller

	// Fire hands a normalized trigger to the dispatcher. Never nil once
	// the daemon is wired.
	Fire func(ctx context.Context, trigger jobs.TriggerObject)
}

// OperationStatus is the synchronous result of adapter CRUD operations.
// Validation failures are reported here, not via error returns; the error
// return is reserved for infrastructure failures.
type OperationStatus struct {
	Success bool           `json:"success"`
	Options map[string]any `json:"options,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
	Details string         `json:"details,omitempty"`
}

// OK returns a successful status.
func OK() OperationStatus {
	return OperationStatus{Success: true}
}

// Failed returns a failed status with a user-facing error message.
func Failed(msg string) OperationStatus {
	return OperationStatus{Success: false, Error: msg}
}

// ConfigField describes one user-configurable option.
type ConfigField struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// ServiceConfig describes a service for the (external) API layer.
type ServiceConfig struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ActionConfig describes an action type.
type ActionConfig struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Fields      []ConfigField `json:"fields,omitempty"`

	// Placeholders lists the placeholder names this action provides.
	Placeholders []string `json:"placeholders,omitempty"`

	// WebhookPlaceholders maps placeholder names to jq expressions
	// evaluated against inbound webhook payloads.
	WebhookPlaceholders map[string]string `json:"webhookPlaceholders,omitempty"`
}

// ReactionConfig describes a reaction type.
type ReactionConfig struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Fields      []ConfigField `json:"fields,omitempty"`
}

// Controller is the per-service lifecycle surface.
type Controller interface {
	// Start is called once at daemon startup, before any dispatch.
	Start(ctx context.Context, app *App) error

	// Config describes the service.
	Config() ServiceConfig
}

// DelayedJobProcessor is implemented by services that schedule delayed
// jobs. A service that enqueues delayed work without implementing this is
// a programming defect, reported as such by the worker.
type DelayedJobProcessor interface {
	ProcessDelayedJob(ctx context.Context, data map[string]any, app *App) error
}

// PullingData describes one fetch/diff/notify polling cycle. Returned by
// PullingJobProcessor; nil means nothing to do this tick.
type PullingData struct {
	URL    string
	Params map[string]string

	// Diff computes the new/changed items from a fetched response body.
	// Returning an empty slice (or nil) means nothing new.
	Diff func(body any) ([]any, error)

	// OnDiff is invoked with the new items. It is responsible both for
	// persisting updated cursor state and for firing the dispatcher once
	// per item.
	OnDiff func(ctx context.Context, items []any) error
}

// PullingJobProcessor is implemented by services that register pulling
// jobs.
type PullingJobProcessor interface {
	ProcessPullingJob(ctx context.Context, data map[string]any, app *App) (*PullingData, error)
}

// ActionHandler is the contract for one action type.
type ActionHandler interface {
	CreateAction(ctx context.Context, userID string, options map[string]any, app *App) OperationStatus
	UpdateAction(ctx context.Context, actionID string, oldOptions, newOptions map[string]any, app *App) OperationStatus

	// DeleteAction must release any delayed/polling job associated with
	// the action before it is removed.
	DeleteAction(ctx context.Context, actionID string, options map[string]any, app *App) OperationStatus

	Config() ActionConfig
}

// ActionFinisher is implemented by action handlers that need the persisted
// action id to finish setup (e.g. to name a background job after it).
type ActionFinisher interface {
	CreateActionFinished(ctx context.Context, actionID, userID string, options map[string]any, app *App) OperationStatus
}

// ReactionHandler is the contract for one reaction type.
type ReactionHandler interface {
	// Trigger executes the side effect described by the workable object.
	Trigger(ctx context.Context, w *jobs.WorkableObject) error

	// PrepareData fetches reaction-specific context (tokens, credentials)
	// just before the workable object is enqueued.
	PrepareData(ctx context.Context, reactionID string, app *App) (map[string]any, error)

	CreateReaction(ctx context.Context, userID string, options map[string]any, app *App) OperationStatus
	UpdateReaction(ctx context.Context, reactionID string, oldOptions, newOptions map[string]any, app *App) OperationStatus
	DeleteReaction(ctx context.Context, reactionID string, options map[string]any, app *App) OperationStatus

	Config() ReactionConfig
}
