// Command tallyd-gateway serves objects from the monitored container and
// emits one read-access audit event per read to the tallyd ingest endpoint.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tallyd/tallyd/pkg/audit"
	"github.com/tallyd/tallyd/pkg/backend"
	"github.com/tallyd/tallyd/pkg/config"
	"github.com/tallyd/tallyd/pkg/gateway"
	"github.com/tallyd/tallyd/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "/etc/tallyd/config.yaml", "Path to config file")
	gatewayAddr := flag.String("addr", "", "Gateway listen address (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "Metrics listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if *gatewayAddr != "" {
		cfg.Gateway.Addr = *gatewayAddr
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if cfg.Gateway.BackendType == "" {
		slog.Error("gateway.backend is required (rclone backend type)")
		os.Exit(1)
	}

	// ── Container backend ─────────────────────────────────────────
	container, err := backend.NewContainer(cfg.Gateway.Bucket, cfg.Gateway.BackendType, cfg.Gateway.Root, cfg.Gateway.Params)
	if err != nil {
		slog.Error("failed to attach container", "root", cfg.Gateway.Root, "error", err)
		os.Exit(1)
	}
	defer container.Close()

	// ── Audit collector ───────────────────────────────────────────
	collector, err := audit.NewCollector(audit.CollectorConfig{
		Sink:          cfg.Audit.Sink,
		FilePath:      cfg.Audit.FilePath,
		IngestAddr:    cfg.Audit.IngestAddr,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
		MaxRetries:    cfg.Audit.MaxRetries,
	})
	if err != nil {
		slog.Error("failed to create audit collector", "sink", cfg.Audit.Sink, "error", err)
		os.Exit(1)
	}
	defer collector.Close()

	srv := gateway.NewServer(cfg.Gateway, container, collector, cfg.Filter.Source)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.MetricsEnabled() {
		go func() {
			if err := metrics.MetricsServer(cfg.Metrics.Addr, ctx.Done()); err != nil {
				slog.Error("metrics server failed", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
	}

	slog.Info("tallyd-gateway starting",
		"bucket", cfg.Gateway.Bucket,
		"backend", cfg.Gateway.BackendType,
		"root", cfg.Gateway.Root,
		"sink", cfg.Audit.Sink,
	)

	if err := srv.Run(ctx); err != nil {
		slog.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}
