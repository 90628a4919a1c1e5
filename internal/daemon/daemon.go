// Package daemon assembles and runs the full dispatch pipeline: storage,
// queues, registry, dispatcher, worker, poller, and the webhook server.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/arealink/arealink/internal/config"
	"github.com/arealink/arealink/internal/dispatch"
	"github.com/arealink/arealink/internal/fetch"
	"github.com/arealink/arealink/internal/jobs"
	"github.com/arealink/arealink/internal/jq"
	"github.com/arealink/arealink/internal/log"
	"github.com/arealink/arealink/internal/metrics"
	"github.com/arealink/arealink/internal/poller"
	"github.com/arealink/arealink/internal/queue"
	"github.com/arealink/arealink/internal/service"
	"github.com/arealink/arealink/internal/services/github"
	"github.com/arealink/arealink/internal/services/timer"
	"github.com/arealink/arealink/internal/store"
	"github.com/arealink/arealink/internal/store/memory"
	"github.com/arealink/arealink/internal/store/sqlite"
	"github.com/arealink/arealink/internal/webhook"
	"github.com/arealink/arealink/internal/worker"
)

// Options carries build-time identity.
type Options struct {
	Version string
	Commit  string
}

// Daemon owns every long-lived component and their shutdown order.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store     store.Store
	reactions *queue.Memory
	delayed   *queue.Delayed
	pulling   *queue.Repeating
	registry  *service.Registry
	app       *service.App
	worker    *worker.Worker
	poller    *poller.EphemeralPoller
	server    *webhook.Server
}

// New wires a daemon from configuration. Nothing starts running until Start.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Daemon, error) {
	d := &Daemon{
		cfg:    cfg,
		logger: log.WithComponent(logger, "daemon"),
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	d.store = st

	var collector *metrics.Collector
	if cfg.Metrics {
		exporter, err := otelprom.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
		}
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
		collector, err = metrics.NewCollector(provider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics collector: %w", err)
		}
	}

	d.reactions = queue.NewMemory()
	d.delayed = queue.NewDelayed()
	d.pulling = queue.NewRepeating()
	d.registry = service.NewRegistry()

	nameReg := jobs.NewNameRegistry(st, d.delayed, d.pulling, logger)
	d.app = &service.App{
		Logger: logger,
		Store:  st,
		Jobs:   nameReg,
	}

	dispatcher := dispatch.New(st, d.registry, d.reactions, d.app, collector, logger)
	d.app.Fire = dispatcher.Fire

	fetcher := fetch.NewClient(fetch.Options{
		Timeout:       cfg.PollTimeout,
		RatePerSecond: cfg.FetchRatePerSecond,
	})

	d.worker = worker.New(worker.Options{
		Reactions:      d.reactions,
		Delayed:        d.delayed,
		Pulling:        d.pulling,
		Registry:       d.registry,
		Jobs:           nameReg,
		App:            d.app,
		Fetcher:        fetcher,
		AdapterTimeout: cfg.AdapterTimeout,
		Metrics:        collector,
		Logger:         logger,
	})

	d.poller = poller.New(fetcher, collector, logger)
	d.app.Poller = d.poller

	if err := d.registerServices(logger); err != nil {
		return nil, err
	}

	d.logger.Info("daemon assembled",
		slog.String("version", opts.Version),
		slog.String("backend", cfg.Backend))

	d.server = webhook.NewServer(webhook.Options{
		Listen:    cfg.Listen,
		Secret:    cfg.WebhookSecret,
		Store:     st,
		Registry:  d.registry,
		JQ:        jq.NewExecutor(0, 0),
		Fire:      dispatcher.Fire,
		Reactions: d.reactions,
		Delayed:   d.delayed,
		Pulling:   d.pulling,
		Logger:    logger,
	})

	return d, nil
}

// registerServices wires the built-in integrations.
func (d *Daemon) registerServices(logger *slog.Logger) error {
	if err := timer.Register(d.registry, timer.New(logger)); err != nil {
		return fmt.Errorf("failed to register timer service: %w", err)
	}

	gh := github.New(github.Options{
		Tokens: githubTokensFromEnv(),
		Logger: logger,
	})
	if err := github.Register(d.registry, gh); err != nil {
		return fmt.Errorf("failed to register github service: %w", err)
	}
	return nil
}

// Start launches the worker, service controllers, and the HTTP server.
// Blocks until the server stops.
func (d *Daemon) Start(ctx context.Context) error {
	d.worker.Start(ctx)

	for _, name := range d.registry.Services() {
		ctrl, _ := d.registry.Service(name)
		if err := ctrl.Start(ctx, d.app); err != nil {
			return fmt.Errorf("failed to start service %s: %w", name, err)
		}
		d.logger.Info("service started", slog.String(log.ServiceKey, name))
	}

	return d.server.ListenAndServe()
}

// Shutdown tears components down in reverse dependency order: stop taking
// input, drain workers, then release storage.
func (d *Daemon) Shutdown(ctx context.Context) error {
	var firstErr error

	if err := d.server.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	d.poller.Close()
	d.pulling.Close()
	d.delayed.Close()
	d.reactions.Close()
	d.worker.Stop()

	if err := d.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	d.logger.Info("shutdown complete")
	return firstErr
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Backend {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.Open(sqlite.Config{Path: cfg.StateDBPath})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// githubTokensFromEnv parses AREALINK_GITHUB_TOKENS, a comma-separated list
// of user=token pairs. Token provisioning is otherwise the API layer's job.
func githubTokensFromEnv() github.StaticTokens {
	tokens := github.StaticTokens{}
	raw := os.Getenv("AREALINK_GITHUB_TOKENS")
	if raw == "" {
		return tokens
	}
	for _, pair := range strings.Split(raw, ",") {
		user, token, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && user != "" && token != "" {
			tokens[user] = token
		}
	}
	return tokens
}
