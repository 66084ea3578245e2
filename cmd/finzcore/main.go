// Package main provides the finzcore binary entry point.
// Finzcore is the baseline-to-project handoff service: it receives approved
// estimation baselines, binds each one to a durable delivery project, and
// seeds the project's cost line items.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"finzcore/internal/audit"
	"finzcore/internal/config"
	"finzcore/internal/handoff"
	"finzcore/internal/httpapi"
	"finzcore/internal/kv"
)

const (
	appName = "finzcore"
	version = "0.1.0"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Baseline-to-project handoff service",
		Long: `Finzcore receives approved estimation baselines, resolves each one to a
durable delivery project, binds the pair atomically, and seeds the project's
cost line items. Retries are safe through an idempotency ledger.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, version)
		},
	})

	return cmd
}

func run(ctx context.Context, configPath, logLevel string) error {
	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := kv.Open(ctx, kv.Options{
		Driver:         kv.Driver(cfg.Storage.Driver),
		SQLitePath:     cfg.Storage.SQLitePath,
		PostgresDSN:    cfg.Storage.PostgresDSN,
		DynamoRegion:   cfg.Storage.Dynamo.Region,
		DynamoEndpoint: cfg.Storage.Dynamo.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	sink, closeSink, err := newAuditSink(cfg.Audit)
	if err != nil {
		return fmt.Errorf("open audit sink: %w", err)
	}
	defer closeSink()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	service := handoff.NewService(store,
		handoff.WithTables(handoff.Tables{
			Projects:    cfg.Tables.Projects,
			Idempotency: cfg.Tables.Idempotency,
		}),
		handoff.WithLogger(logger),
		handoff.WithAudit(sink),
		handoff.WithMetrics(handoff.NewPrometheusMetrics(registry)),
		handoff.WithScanBounds(cfg.Resolver.ScanPageLimit, cfg.Resolver.MaxScanPages),
	)

	mux := http.NewServeMux()
	httpapi.New(service, logger).Register(mux, registry)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "storage", cfg.Storage.Driver)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	l := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// newAuditSink builds the configured audit sink plus a close function.
func newAuditSink(cfg config.AuditConfig) (audit.Sink, func(), error) {
	switch cfg.Driver {
	case "nats":
		sink, err := audit.NewNATS(cfg.NATSURL, cfg.Subject)
		if err != nil {
			return nil, nil, err
		}
		return sink, sink.Close, nil
	case "memory":
		return audit.NewMemory(), func() {}, nil
	default:
		return audit.Nop{}, func() {}, nil
	}
}
