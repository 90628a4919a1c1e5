// Package timer is the built-in delayed-trigger service: an action that
// fires once, a configurable amount of time after it is created.
package timer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arealink/arealink/internal/jobs"
	"github.com/arealink/arealink/internal/log"
	"github.com/arealink/arealink/internal/placeholder"
	"github.com/arealink/arealink/internal/service"
)

// ServiceName is the registry key for this service.
const ServiceName = "timer"

// ActionKey identifies the delayed reminder action.
const ActionKey = ServiceName + ".A.reminder"

// Service schedules delayed jobs and fires the dispatcher when they land.
type Service struct {
	logger *slog.Logger
}

// New creates the timer service.
func New(logger *slog.Logger) *Service {
	return &Service{logger: log.WithComponent(logger, "timer")}
}

// Register wires the service and its action into the registry.
func Register(reg *service.Registry, s *Service) error {
	if err := reg.RegisterService(ServiceName, s); err != nil {
		return err
	}
	return reg.RegisterAction(ActionKey, &reminderAction{svc: s})
}

// Start implements service.Controller.
func (s *Service) Start(ctx context.Context, app *service.App) error {
	return nil
}

// Config implements service.Controller.
func (s *Service) Config() service.ServiceConfig {
	return service.ServiceConfig{
		Name:        ServiceName,
		Description: "Fires a trigger after a configured delay",
	}
}

// ProcessDelayedJob fires the dispatcher for the action recorded in the job
// data when the timer lands.
func (s *Service) ProcessDelayedJob(ctx context.Context, data map[string]any, app *service.App) error {
	actionID, _ := data["actionId"].(string)
	if actionID == "" {
		return fmt.Errorf("delayed job data is missing actionId")
	}
	name, _ := data["name"].(string)

	app.Fire(ctx, jobs.TriggerObject{
		ActionID: actionID,
		Placeholders: []placeholder.Placeholder{
			{Name: "date", Value: time.Now().Format(time.RFC3339)},
			{Name: "name", Value: name},
		},
	})

	s.logger.Debug("timer fired", slog.String(log.ActionIDKey, actionID))
	return nil
}

// reminderAction schedules one delayed job per action. The job is named
// after the action id so later updates and deletes can address it.
type reminderAction struct {
	svc *Service
}

func (a *reminderAction) CreateAction(ctx context.Context, userID string, options map[string]any, app *service.App) service.OperationStatus {
	if _, _, err := parseOptions(options); err != nil {
		return service.Failed(err.Error())
	}
	// Scheduling happens in CreateActionFinished once the action id exists.
	return service.OK()
}

// CreateActionFinished schedules the delayed job now that the persisted
// action id is known.
func (a *reminderAction) CreateActionFinished(ctx context.Context, actionID, userID string, options map[string]any, app *service.App) service.OperationStatus {
	if err := a.schedule(ctx, actionID, options, app); err != nil {
		return service.Failed(err.Error())
	}
	return service.OK()
}

func (a *reminderAction) UpdateAction(ctx context.Context, actionID string, oldOptions, newOptions map[string]any, app *service.App) service.OperationStatus {
	// Re-scheduling under the same name supersedes the old timer.
	if err := a.schedule(ctx, actionID, newOptions, app); err != nil {
		return service.Failed(err.Error())
	}
	return service.OK()
}

func (a *reminderAction) DeleteAction(ctx context.Context, actionID string, options map[string]any, app *service.App) service.OperationStatus {
	name := jobs.DelayedJobName(ServiceName, actionID)
	if err := app.Jobs.RemoveDelayedJobByName(ctx, name); err != nil {
		return service.Failed(err.Error())
	}
	return service.OK()
}

func (a *reminderAction) Config() service.ActionConfig {
	return service.ActionConfig{
		Name:        "reminder",
		Description: "Triggers once after a delay",
		Fields: []service.ConfigField{
			{Name: "in", Type: "number", Required: false, Description: "Delay in milliseconds"},
			{Name: "at", Type: "number", Required: false, Description: "Unix timestamp in milliseconds"},
			{Name: "name", Type: "string", Required: false, Description: "Label exposed as the {name} placeholder"},
		},
		Placeholders: []string{"date", "name"},
	}
}

func (a *reminderAction) schedule(ctx context.Context, actionID string, options map[string]any, app *service.App) error {
	in, at, err := parseOptions(options)
	if err != nil {
		return err
	}
	label, _ := options["name"].(string)

	_, err = app.Jobs.AddDelayedJob(ctx, jobs.DelayedJobObject{
		Service:   ServiceName,
		Name:      actionID,
		TriggerIn: in,
		TriggerAt: at,
		JobData: map[string]any{
			"actionId": actionID,
			"name":     label,
		},
	})
	return err
}

// parseOptions extracts the delay from action options. JSON numbers arrive
// as float64.
func parseOptions(options map[string]any) (in, at int64, err error) {
	in = toMillis(options["in"])
	at = toMillis(options["at"])
	if in <= 0 && at <= 0 {
		return 0, 0, fmt.Errorf("either in or at must be set")
	}
	return in, at, nil
}

func toMillis(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
