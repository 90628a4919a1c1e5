// Package github is the GitHub integration: a webhook-driven push action
// and a star reaction.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/arealink/arealink/internal/jobs"
	"github.com/arealink/arealink/internal/log"
	"github.com/arealink/arealink/internal/service"
)

// Registry keys for this service.
const (
	ServiceName     = "github"
	PushActionKey   = ServiceName + ".A.push"
	StarReactionKey = ServiceName + ".R.star"
)

// DefaultAPIBase is the GitHub REST API root.
const DefaultAPIBase = "https://api.github.com"

// TokenSource resolves a user's GitHub access token. The full OAuth dance
// lives with the API layer; the dispatch path only ever reads tokens.
type TokenSource interface {
	Token(ctx context.Context, userID string) (string, error)
}

// StaticTokens is a fixed userID-to-token table.
type StaticTokens map[string]string

// Token implements TokenSource over oauth2 static sources.
func (s StaticTokens) Token(ctx context.Context, userID string) (string, error) {
	raw, ok := s[userID]
	if !ok {
		return "", fmt.Errorf("no github token for user %s", userID)
	}
	tok, err := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: raw}).Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Options configures the GitHub service.
type Options struct {
	// APIBase overrides the GitHub API root (used by tests).
	APIBase string

	Tokens TokenSource

	// HTTPClient overrides the client used for API calls.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Service implements the GitHub integration.
type Service struct {
	apiBase string
	tokens  TokenSource
	client  *http.Client
	logger  *slog.Logger
}

// New creates the GitHub service.
func New(opts Options) *Service {
	if opts.APIBase == "" {
		opts.APIBase = DefaultAPIBase
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Service{
		apiBase: opts.APIBase,
		tokens:  opts.Tokens,
		client:  opts.HTTPClient,
		logger:  log.WithComponent(opts.Logger, "github"),
	}
}

// Register wires the service, its push action, and its star reaction into
// the registry.
func Register(reg *service.Registry, s *Service) error {
	if err := reg.RegisterService(ServiceName, s); err != nil {
		return err
	}
	if err := reg.RegisterAction(PushActionKey, &pushAction{}); err != nil {
		return err
	}
	return reg.RegisterReaction(StarReactionKey, &starReaction{svc: s})
}

// Start implements service.Controller.
func (s *Service) Start(ctx context.Context, app *service.App) error {
	return nil
}

// Config implements service.Controller.
func (s *Service) Config() service.ServiceConfig {
	return service.ServiceConfig{
		Name:        ServiceName,
		Description: "GitHub actions and reactions",
	}
}

// pushAction is fired by inbound push webhooks; it has no lifecycle work of
// its own beyond describing its placeholders.
type pushAction struct{}

func (pushAction) CreateAction(ctx context.Context, userID string, options map[string]any, app *service.App) service.OperationStatus {
	return service.OK()
}
func (pushAction) UpdateAction(ctx context.Context, actionID string, oldOptions, newOptions map[string]any, app *service.App) service.OperationStatus {
	return service.OK()
}
func (pushAction) DeleteAction(ctx context.Context, actionID string, options map[string]any, app *service.App) service.OperationStatus {
	return service.OK()
}

func (pushAction) Config() service.ActionConfig {
	return service.ActionConfig{
		Name:         "push",
		Description:  "Fires when commits are pushed to a repository",
		Placeholders: []string{"repository", "branch", "commitMessage", "pusher"},
		WebhookPlaceholders: map[string]string{
			"repository":    ".repository.full_name",
			"branch":        ".ref",
			"commitMessage": ".head_commit.message",
			"pusher":        ".pusher.name",
		},
	}
}

// starReaction stars a repository on behalf of the area owner.
type starReaction struct {
	svc *Service
}

// PrepareData resolves the acting user's token just before the workable
// object is enqueued, so the worker never needs store access to execute it.
func (r *starReaction) PrepareData(ctx context.Context, reactionID string, app *service.App) (map[string]any, error) {
	reaction, err := app.Store.Reaction(ctx, reactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reaction %s: %w", reactionID, err)
	}

	userID, _ := reaction.Options["userId"].(string)
	if userID == "" {
		return nil, fmt.Errorf("reaction %s has no userId option", reactionID)
	}

	token, err := r.svc.tokens.Token(ctx, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"githubToken": token}, nil
}

// Trigger stars the configured repository. Owner and repo options may embed
// placeholder tokens.
func (r *starReaction) Trigger(ctx context.Context, w *jobs.WorkableObject) error {
	token, _ := w.ReactionPreparedData["githubToken"].(string)
	if token == "" {
		return fmt.Errorf("workable object carries no github token")
	}

	owner, _ := w.ReactionOptions["owner"].(string)
	repo, _ := w.ReactionOptions["repo"].(string)
	if owner == "" || repo == "" {
		return fmt.Errorf("star reaction requires owner and repo options")
	}
	owner = w.ApplyPlaceholders(owner)
	repo = w.ApplyPlaceholders(repo)

	starURL := fmt.Sprintf("%s/user/starred/%s/%s",
		r.svc.apiBase, url.PathEscape(owner), url.PathEscape(repo))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, starURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build star request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.ContentLength = 0

	resp, err := r.svc.client.Do(req)
	if err != nil {
		return fmt.Errorf("star request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status %d starring %s/%s", resp.StatusCode, owner, repo)
	}

	r.svc.logger.Debug("repository starred",
		slog.String(log.ReactionIDKey, w.ReactionID),
		slog.String("repository", owner+"/"+repo))
	return nil
}

func (r *starReaction) CreateReaction(ctx context.Context, userID string, options map[string]any, app *service.App) service.OperationStatus {
	owner, _ := options["owner"].(string)
	repo, _ := options["repo"].(string)
	if owner == "" || repo == "" {
		return service.Failed("owner and repo are required")
	}
	if options["userId"] == nil {
		options["userId"] = userID
	}
	return service.OperationStatus{Success: true, Options: options}
}

func (r *starReaction) UpdateReaction(ctx context.Context, reactionID string, oldOptions, newOptions map[string]any, app *service.App) service.OperationStatus {
	return r.CreateReaction(ctx, "", newOptions, app)
}

func (r *starReaction) DeleteReaction(ctx context.Context, reactionID string, options map[string]any, app *service.App) service.OperationStatus {
	return service.OK()
}

func (r *starReaction) Config() service.ReactionConfig {
	return service.ReactionConfig{
		Name:        "star",
		Description: "Stars a repository",
		Fields: []service.ConfigField{
			{Name: "owner", Type: "string", Required: true},
			{Name: "repo", Type: "string", Required: true},
			{Name: "userId", Type: "string", Required: false, Description: "Acting user, defaults to the creator"},
		},
	}
}
