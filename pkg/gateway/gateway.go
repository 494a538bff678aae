// Package gateway serves objects from the monitored container over HTTP
// and emits one read-access audit event per successful read. It stands in
// for the object store's own audit channel in deployments that have none.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tallyd/tallyd/pkg/audit"
	"github.com/tallyd/tallyd/pkg/backend"
	"github.com/tallyd/tallyd/pkg/config"
	"github.com/tallyd/tallyd/pkg/metrics"
)

// Server is the object gateway.
type Server struct {
	cfg       config.GatewayConfig
	container *backend.Container
	collector *audit.Collector
	source    string // audit channel reported in emitted events
	httpSrv   *http.Server
}

// NewServer creates a gateway serving the given container. Every
// successful object read is recorded on the collector as a read-access
// event for cfg.Bucket, attributed to the given audit source.
func NewServer(cfg config.GatewayConfig, container *backend.Container, collector *audit.Collector, source string) *Server {
	return &Server{
		cfg:       cfg,
		container: container,
		collector: collector,
		source:    source,
	}
}

// RegisterRoutes registers the gateway routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /objects/{key...}", s.handleObject)
	mux.HandleFunc("GET /healthz", metrics.HealthzHandler)
}

// GET /objects/{key...} — streams one object and audits the read.
func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		http.Error(w, "object key is required", http.StatusBadRequest)
		metrics.GatewayRequests.WithLabelValues("400").Inc()
		return
	}

	info, err := s.container.Stat(r.Context(), key)
	if err != nil {
		s.fail(w, key, err)
		return
	}
	if info.IsDir {
		http.Error(w, "not an object", http.StatusBadRequest)
		metrics.GatewayRequests.WithLabelValues("400").Inc()
		return
	}

	rc, err := s.container.Open(r.Context(), key)
	if err != nil {
		s.fail(w, key, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	if info.ETag != "" {
		w.Header().Set("ETag", `"`+info.ETag+`"`)
	}

	n, err := io.Copy(w, rc)
	metrics.GatewayBytesServed.Add(float64(n))
	if err != nil {
		// Headers are gone; all we can do is log the broken stream.
		slog.Warn("object stream interrupted", "key", key, "written", n, "error", err)
		metrics.GatewayRequests.WithLabelValues("500").Inc()
		return
	}
	metrics.GatewayRequests.WithLabelValues("200").Inc()

	evt := audit.NewReadEvent(s.source, s.cfg.Bucket, key)
	evt.ID = eventID()
	evt.Detail.SourceIPAddress = r.RemoteAddr
	s.collector.Record(evt)
}

func (s *Server) fail(w http.ResponseWriter, key string, err error) {
	if errors.Is(err, backend.ErrNotFound) {
		http.Error(w, "object not found", http.StatusNotFound)
		metrics.GatewayRequests.WithLabelValues("404").Inc()
		return
	}
	slog.Error("object read failed", "key", key, "error", err)
	http.Error(w, "object read failed", http.StatusInternalServerError)
	metrics.GatewayRequests.WithLabelValues("500").Inc()
}

// Run starts the gateway HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = ":8081"
	}

	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", addr, "bucket", s.cfg.Bucket)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// eventID returns a unique id for an emitted event, usable as a dedup key
// by the consumer.
func eventID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}
