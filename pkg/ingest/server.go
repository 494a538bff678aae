// Package ingest is the HTTP delivery surface for access-audit events.
// Each POSTed batch is run through the filter rule; matching events invoke
// the access-count handler once each. Delivery upstream is at-least-once,
// so the same logical access may arrive (and be counted) more than once.
package ingest

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/tallyd/tallyd/pkg/config"
	"github.com/tallyd/tallyd/pkg/filter"
)

// CounterReader reads the current counter value for the count endpoint.
type CounterReader interface {
	Get(key, field string) (int64, error)
}

// Server receives audit events and exposes the current count.
type Server struct {
	cfg        config.IngestConfig
	disp       *filter.Dispatcher
	counters   CounterReader
	counterKey string
	field      string
	httpSrv    *http.Server
}

// NewServer creates an ingest server. counterKey and field name the record
// the count endpoint reads; they match the handler's configuration.
func NewServer(cfg config.IngestConfig, disp *filter.Dispatcher, counters CounterReader, counterKey, field string) *Server {
	return &Server{
		cfg:        cfg,
		disp:       disp,
		counters:   counters,
		counterKey: counterKey,
		field:      field,
	}
}

// Run starts the ingest HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	mux := http.NewServeMux()
	s.RegisterAPIRoutes(mux)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ingest listening", "addr", addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("ingest shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}
