// Command tallyd runs the access-counter service: the audit-event ingest
// endpoint, the filter/handler pipeline, the badger counter store, and the
// metrics/health endpoint.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tallyd/tallyd/pkg/config"
	"github.com/tallyd/tallyd/pkg/filter"
	"github.com/tallyd/tallyd/pkg/handler"
	"github.com/tallyd/tallyd/pkg/ingest"
	"github.com/tallyd/tallyd/pkg/metrics"
	"github.com/tallyd/tallyd/pkg/store"
)

func main() {
	configPath := flag.String("config", "/etc/tallyd/config.yaml", "Path to config file")
	ingestAddr := flag.String("addr", "", "Ingest listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if *ingestAddr != "" {
		cfg.Ingest.Addr = *ingestAddr
	}

	// ── Counter store ─────────────────────────────────────────────
	st, err := store.Open(cfg.Store)
	if err != nil {
		slog.Error("failed to open counter store", "path", cfg.Store.Path, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	metrics.RegisterHealthCheck("store", st.Ping)

	counterKey := store.Key(cfg.Counter.Table, cfg.Counter.ID)

	// ── Pipeline: filter → handler → store ────────────────────────
	h := handler.New(st, handler.Config{
		CounterKey: counterKey,
		Field:      cfg.Counter.Field,
		Dedup:      cfg.Dedup.Enabled,
		DedupTTL:   cfg.Dedup.TTL,
	})
	rule := filter.Rule{
		Source:    cfg.Filter.Source,
		EventName: cfg.Filter.EventName,
		Bucket:    cfg.Filter.Bucket,
	}
	disp := filter.NewDispatcher(rule, h)

	srv := ingest.NewServer(cfg.Ingest, disp, st, counterKey, cfg.Counter.Field)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics / health ──────────────────────────────────────────
	if cfg.Metrics.MetricsEnabled() {
		go func() {
			if err := metrics.MetricsServer(cfg.Metrics.Addr, ctx.Done()); err != nil {
				slog.Error("metrics server failed", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
		slog.Info("metrics server started", "addr", cfg.Metrics.Addr)
	}

	slog.Info("tallyd starting",
		"bucket", cfg.Filter.Bucket,
		"source", cfg.Filter.Source,
		"event", cfg.Filter.EventName,
		"counter", counterKey,
		"dedup", cfg.Dedup.Enabled,
	)

	if err := srv.Run(ctx); err != nil {
		slog.Error("ingest server failed", "error", err)
		os.Exit(1)
	}
}
