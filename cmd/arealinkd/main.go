package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arealink/arealink/internal/config"
	"github.com/arealink/arealink/internal/daemon"
	"github.com/arealink/arealink/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "arealinkd",
		Short:        "Trigger-dispatch and job-orchestration daemon",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("arealinkd %s (commit: %s)\n", version, commit)
		},
	}
}

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		backend    string
		statePath  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if backend != "" {
				cfg.Backend = backend
			}
			if statePath != "" {
				cfg.StateDBPath = statePath
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := log.New(&log.Config{
				Level:  cfg.Log.Level,
				Format: log.Format(cfg.Log.Format),
			})
			slog.SetDefault(logger)

			return run(cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address")
	cmd.Flags().StringVar(&backend, "backend", "", "Storage backend (memory, sqlite)")
	cmd.Flags().StringVar(&statePath, "state-db", "", "Path to the SQLite state database")
	return cmd
}

func run(cfg *config.Config, logger *slog.Logger) error {
	d, err := daemon.New(cfg, logger, daemon.Options{Version: version, Commit: commit})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", slog.String("signal", sig.String()))
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return d.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
