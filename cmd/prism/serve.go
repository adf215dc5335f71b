package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/prismlabs/prism/internal/agent"
	"github.com/prismlabs/prism/internal/agent/providers"
	"github.com/prismlabs/prism/internal/config"
	"github.com/prismlabs/prism/internal/observability"
	"github.com/prismlabs/prism/internal/scheduler"
	"github.com/prismlabs/prism/internal/server"
	"github.com/prismlabs/prism/internal/sessions"
	"github.com/prismlabs/prism/internal/tools"
	"github.com/prismlabs/prism/internal/tools/exec"
	"github.com/prismlabs/prism/internal/tools/files"
	"github.com/prismlabs/prism/internal/tools/search"
	"github.com/prismlabs/prism/internal/tools/websearch"
)

const shutdownGrace = 10 * time.Second

// buildServeCmd creates the "serve" command that starts the agent server.
func buildServeCmd() *cobra.Command {
	var (
		host  string
		port  int
		debug bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Prism agent server",
		Long: `Start the HTTP server that hosts the code-review agent.

The server loads configuration from ${HOME}/.prism and the environment,
connects to the configured LLM provider, and exposes POST /chat as an
SSE stream. Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with defaults (127.0.0.1:8790)
  prism serve

  # Bind elsewhere with verbose logs
  prism serve --host 0.0.0.0 --port 9000 --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if debug {
				cfg.Log.Level = "debug"
				cfg.Log.Format = "text"
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (overrides config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (overrides config)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (text format)")
	return cmd
}

// runServe wires the runtime together and blocks until ctx is cancelled.
func runServe(ctx context.Context, cfg *config.Config) error {
	log := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	provider, err := providers.FromConfig(cfg)
	if err != nil {
		return err
	}
	log.Info(ctx, "provider ready", "provider", provider.Name(), "model", cfg.Model)

	watcher, err := config.NewPromptWatcher(ctx, cfg, config.Dir(), func(err error) {
		log.Warn(ctx, "prompt watch error", "error", err)
	})
	if err != nil {
		return fmt.Errorf("prompt watcher: %w", err)
	}
	defer watcher.Close()

	factory := func(projectRoot string) (*agent.Loop, error) {
		toolRegistry := tools.NewRegistry()
		fileCfg := files.Config{Root: projectRoot}
		toolRegistry.Register(files.NewReadTool(fileCfg))
		toolRegistry.Register(files.NewWriteTool(fileCfg))
		toolRegistry.Register(files.NewListTool(fileCfg))
		toolRegistry.Register(search.NewGrepTool(projectRoot))
		toolRegistry.Register(exec.NewShellTool(projectRoot))
		toolRegistry.Register(websearch.NewFetchTool())

		sched := scheduler.New(toolRegistry, cfg.Tools, 0, log, metrics)
		return agent.NewLoop(provider, sched, toolRegistry, cfg, log, metrics), nil
	}

	manager := sessions.NewManager(cfg, factory, watcher.Prompt, log, metrics)
	manager.Start()
	defer manager.Close()

	srv := server.New(cfg, manager, registry, log)
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn(context.Background(), "shutdown incomplete", "error", err)
	}
	return nil
}
