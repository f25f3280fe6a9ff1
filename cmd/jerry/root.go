package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jirevwe/jerry"
	"github.com/jirevwe/jerry/journal"
	"github.com/jirevwe/jerry/journal/sqlite"
	"github.com/jirevwe/jerry/metrics"
	"github.com/jirevwe/jerry/pool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	configPath string
	flagCfg    = jerry.DefaultConfig()
)

var rootCmd = &cobra.Command{
	Use:   "jerry",
	Short: "A tiny TCP web server answering every connection on a worker pool",
	Long: `jerry accepts TCP connections and hands each one to a pool of workers,
each worker feeding its own set of executors.

Examples:
  # four workers on the default address
  jerry

  # two workers, flat pool, job journal in ./jerry.db
  jerry -w 2 --topology flat --journal jerry.db`,
	SilenceUsage: true,
	RunE:         runServer,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to a YAML config file")
	flags.StringVarP(&flagCfg.Address, "address", "a", flagCfg.Address, "address to listen on")
	flags.IntVarP(&flagCfg.Workers, "workers", "w", flagCfg.Workers, "number of workers")
	flags.IntVar(&flagCfg.ExecutorsPerWorker, "executors", 0, "executors per worker, defaults to the number of workers")
	flags.StringVar(&flagCfg.Topology, "topology", flagCfg.Topology, "pool topology: hierarchical or flat")
	flags.IntVar(&flagCfg.QueueCapacity, "queue-capacity", 0, "bound on queued connections, 0 is unbounded")
	flags.StringVar(&flagCfg.PanicPolicy, "panic-policy", flagCfg.PanicPolicy, "what an executor does after a panic: exit or recover")
	flags.DurationVar(&flagCfg.ReadTimeout, "read-timeout", flagCfg.ReadTimeout, "deadline for reading a request")
	flags.StringVar(&flagCfg.TemplatesDir, "templates", "", "directory holding 200.html and 404.html")
	flags.StringVar(&flagCfg.JournalPath, "journal", "", "sqlite file to record job events in")
	flags.StringVar(&flagCfg.MetricsAddress, "metrics-address", "", "address to serve Prometheus metrics on")
	flags.StringVar(&flagCfg.LogLevel, "log-level", flagCfg.LogLevel, "debug, info, warn or error")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file, if any, and applies the flags that were
// set explicitly on top of it.
func loadConfig(cmd *cobra.Command) (*jerry.Config, error) {
	if configPath == "" {
		return flagCfg, flagCfg.Validate()
	}

	cfg, err := jerry.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	overrides := map[string]func(){
		"address":         func() { cfg.Address = flagCfg.Address },
		"workers":         func() { cfg.Workers = flagCfg.Workers },
		"executors":       func() { cfg.ExecutorsPerWorker = flagCfg.ExecutorsPerWorker },
		"topology":        func() { cfg.Topology = flagCfg.Topology },
		"queue-capacity":  func() { cfg.QueueCapacity = flagCfg.QueueCapacity },
		"panic-policy":    func() { cfg.PanicPolicy = flagCfg.PanicPolicy },
		"read-timeout":    func() { cfg.ReadTimeout = flagCfg.ReadTimeout },
		"templates":       func() { cfg.TemplatesDir = flagCfg.TemplatesDir },
		"journal":         func() { cfg.JournalPath = flagCfg.JournalPath },
		"metrics-address": func() { cfg.MetricsAddress = flagCfg.MetricsAddress },
		"log-level":       func() { cfg.LogLevel = flagCfg.LogLevel },
	}
	for name, apply := range overrides {
		if flags.Changed(name) {
			apply()
		}
	}

	return cfg, cfg.Validate()
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	level, err := jerry.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var observers []pool.Observer

	if cfg.JournalPath != "" {
		store, err := sqlite.NewSqlite(cfg.JournalPath, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		// writes must outlive ctx so that shutdown events reach the journal
		recorder, err := journal.NewRecorder(context.WithoutCancel(ctx), store, logger)
		if err != nil {
			return err
		}
		defer recorder.Close()

		observers = append(observers, recorder)
	}

	if cfg.MetricsAddress != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		m, err := metrics.NewMetrics("jerry", registry)
		if err != nil {
			return err
		}
		observers = append(observers, m)

		srv := serveMetrics(cfg.MetricsAddress, registry, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	server, err := jerry.NewServer(cfg, nil, logger, pool.Observers(observers...))
	if err != nil {
		return err
	}

	logger.Info(fmt.Sprintf("starting jerry with %d workers (%s)", cfg.Workers, cfg.Topology))
	return server.ListenAndServe(ctx)
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info(fmt.Sprintf("serving metrics on %s/metrics", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(fmt.Sprintf("metrics server: %v", err))
		}
	}()

	return srv
}
