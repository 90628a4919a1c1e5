// Package webhook is the inbound HTTP ingress: it turns signed webhook
// deliveries into trigger dispatches and exposes the operational endpoints.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arealink/arealink/internal/jobs"
	"github.com/arealink/arealink/internal/jq"
	"github.com/arealink/arealink/internal/log"
	"github.com/arealink/arealink/internal/placeholder"
	"github.com/arealink/arealink/internal/queue"
	"github.com/arealink/arealink/internal/service"
	"github.com/arealink/arealink/internal/store"
)

// maxBodySize caps webhook request bodies (1MB).
const maxBodySize = 1 << 20

// Options configures a Server.
type Options struct {
	Listen string

	// Secret enables HMAC-SHA256 signature verification when non-empty.
	Secret string

	Store    store.Store
	Registry *service.Registry
	JQ       *jq.Executor

	// Fire hands extracted triggers to the dispatcher.
	Fire func(ctx context.Context, trigger jobs.TriggerObject)

	// Queues exposed by /admin/jobs.
	Reactions queue.Queue
	Delayed   *queue.Delayed
	Pulling   *queue.Repeating

	Logger *slog.Logger
}

// Server serves webhook ingestion plus /metrics and /admin/jobs.
type Server struct {
	opts   Options
	logger *slog.Logger
	srv    *http.Server
}

// NewServer builds the HTTP server. Call ListenAndServe to run it.
func NewServer(opts Options) *Server {
	s := &Server{
		opts:   opts,
		logger: log.WithComponent(opts.Logger, "webhook"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /hooks/{service}/{actionID}", s.handleHook)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /admin/jobs", s.handleJobCounts)

	s.srv = &http.Server{
		Addr:              opts.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routing for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("webhook server listening", slog.String("addr", s.opts.Listen))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handleHook verifies, extracts, and dispatches one webhook delivery.
// Responses carry no detail beyond the status code: webhook callers are
// machines, and signature failures should not leak why they failed.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	svcName := r.PathValue("service")
	actionID := r.PathValue("actionID")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	if s.opts.Secret != "" {
		if err := verifySignature(r, body, s.opts.Secret); err != nil {
			s.logger.Warn("webhook signature rejected",
				slog.String(log.ServiceKey, svcName),
				slog.String(log.ActionIDKey, actionID),
				log.Error(err))
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	action, err := s.opts.Store.Action(r.Context(), actionID)
	if err != nil {
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}
	if service.ServiceOf(action.ServiceAction) != svcName {
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}

	var payload any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
	}

	placeholders, err := s.extractPlaceholders(r.Context(), action, payload)
	if err != nil {
		s.logger.Warn("placeholder extraction failed",
			slog.String(log.ActionIDKey, actionID),
			log.Error(err))
		// The trigger still fires; reactions just see fewer placeholders.
	}

	s.opts.Fire(r.Context(), jobs.TriggerObject{
		ActionID:     actionID,
		Placeholders: placeholders,
	})

	w.WriteHeader(http.StatusAccepted)
}

// extractPlaceholders evaluates the action's configured jq expressions
// against the webhook payload. Individual expression failures drop that
// placeholder only.
func (s *Server) extractPlaceholders(ctx context.Context, action *store.Action, payload any) ([]placeholder.Placeholder, error) {
	handler, ok := s.opts.Registry.Action(action.ServiceAction)
	if !ok || payload == nil {
		return nil, nil
	}

	mappings := handler.Config().WebhookPlaceholders
	if len(mappings) == 0 {
		return nil, nil
	}

	var firstErr error
	placeholders := make([]placeholder.Placeholder, 0, len(mappings))
	for name, expr := range mappings {
		value, err := s.opts.JQ.ExtractString(ctx, expr, payload)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("placeholder %s: %w", name, err)
			}
			continue
		}
		placeholders = append(placeholders, placeholder.Placeholder{Name: name, Value: value})
	}
	return placeholders, firstErr
}

// jobCounts is the /admin/jobs response body.
type jobCounts struct {
	ReactionQueue queue.Stats `json:"reactionQueue"`
	DelayedQueue  queue.Stats `json:"delayedQueue"`
	PullingQueue  queue.Stats `json:"pullingQueue"`
}

func (s *Server) handleJobCounts(w http.ResponseWriter, r *http.Request) {
	counts := jobCounts{
		ReactionQueue: s.opts.Reactions.Stats(),
		DelayedQueue:  s.opts.Delayed.Stats(),
		PullingQueue:  s.opts.Pulling.Stats(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(counts); err != nil {
		s.logger.Error("failed to encode job counts", log.Error(err))
	}
}

// verifySignature checks the X-Hub-Signature-256 header against the body.
func verifySignature(r *http.Request, body []byte, secret string) error {
	signature := r.Header.Get("X-Hub-Signature-256")
	if signature == "" {
		return fmt.Errorf("missing signature header")
	}
	if !strings.HasPrefix(signature, "sha256=") {
		return fmt.Errorf("invalid signature format")
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
