package main

import (
	"context"
	stderrors "errors"
	"os"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/vango-dev/observe/internal/config"
	"github.com/vango-dev/observe/internal/errors"
	"github.com/vango-dev/observe/pkg/observe"
	"github.com/vango-dev/observe/pkg/server"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		logLevel   string
		driver     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo graph over WebSocket",
		Long: `Serve the demo application: every client gets a counter with a label,
a profile with a name projection and greeting, and a summary pair.

Examples:
  observe serve
  observe serve --addr=127.0.0.1:9000
  observe serve --config=observe.json --store=sqlite`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if driver != "" {
				cfg.Storage.Driver = driver
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to "+config.ConfigFileName)
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&driver, "store", "", "Snapshot store: none, memory, sqlite, pgx, s3")

	return cmd
}

// newServer wires the runtime, metrics registry and snapshot store for cfg.
// The returned cleanup closes the store.
func newServer(ctx context.Context, cfg *config.Config) (*server.Server, func(), error) {
	logger := cfg.NewLogger(os.Stderr)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observe.NewMetrics(append(cfg.MetricsOptions(), observe.WithRegistry(reg))...)
	rt := observe.NewRuntime(observe.WithLogger(logger), observe.WithMetrics(metrics))

	store, err := cfg.OpenStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {}
	if store != nil {
		cleanup = func() {
			if err := store.Close(); err != nil {
				logger.Warn("store close failed", "error", err)
			}
		}
	}

	sc := cfg.ServerConfig()
	sc.Gatherer = reg
	sc.Store = store
	srv, err := server.New(sc, bindApp, server.WithRuntime(rt), server.WithLogger(logger))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	logger.Info("configured",
		"addr", sc.Address,
		"store", cfg.Storage.Driver,
		"max_sessions", sc.MaxSessions)
	return srv, cleanup, nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	srv, cleanup, err := newServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := srv.Run(); err != nil {
		if stderrors.Is(err, syscall.EADDRINUSE) {
			return errors.New("E141").WithField("server.addr").Wrap(err)
		}
		return errors.New("E140").Wrap(err)
	}
	return nil
}
