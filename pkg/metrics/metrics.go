package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingest metrics
	EventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tallyd_events_received_total",
		Help: "Audit events received on the ingest endpoint",
	})
	EventsMatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tallyd_events_matched_total",
		Help: "Audit events that matched the filter rule",
	})
	EventsIgnored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tallyd_events_ignored_total",
		Help: "Audit events that did not match the filter rule",
	})
	EventsMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tallyd_events_malformed_total",
		Help: "Inbound events that could not be classified",
	})

	// Handler metrics
	Increments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tallyd_increments_total",
		Help: "Successful counter increments",
	})
	IncrementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tallyd_increment_failures_total",
		Help: "Failed handler invocations by reason",
	}, []string{"reason"})
	DuplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tallyd_duplicates_skipped_total",
		Help: "Increments skipped by the dedup marker",
	})
	HandlerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tallyd_handler_duration_seconds",
		Help:    "Access-count handler latency",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
	})
	CounterValue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tallyd_counter_value",
		Help: "Last counter value returned by the store",
	})

	// Gateway metrics
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tallyd_gateway_requests_total",
		Help: "Object gateway requests by status",
	}, []string{"status"})
	GatewayBytesServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tallyd_gateway_bytes_served_total",
		Help: "Object bytes served by the gateway",
	})
	BackendRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tallyd_backend_request_duration_seconds",
		Help:    "Object-store backend request duration",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
	}, []string{"operation"})
	BackendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tallyd_backend_errors_total",
		Help: "Object-store backend errors by operation",
	}, []string{"operation"})
)

func init() {
	// Pre-initialize Vec metrics so they appear in /metrics output before first use.
	IncrementFailures.WithLabelValues("validation")
	IncrementFailures.WithLabelValues("store")
	GatewayRequests.WithLabelValues("200")
	GatewayRequests.WithLabelValues("404")
	BackendRequestDuration.WithLabelValues("open")
	BackendErrors.WithLabelValues("open")
}

// HealthCheck holds a single health check function.
type HealthCheck struct {
	Name  string
	Check func() error
}

// HealthStatus represents the health response.
type HealthStatus struct {
	Status string            `json:"status"` // "ok" or "degraded"
	Checks map[string]string `json:"checks"`
}

// healthChecker holds registered health checks.
type healthChecker struct {
	mu     sync.RWMutex
	checks []HealthCheck
}

var defaultHealthChecker = &healthChecker{}

// RegisterHealthCheck adds a health check.
func RegisterHealthCheck(name string, check func() error) {
	defaultHealthChecker.mu.Lock()
	defer defaultHealthChecker.mu.Unlock()
	defaultHealthChecker.checks = append(defaultHealthChecker.checks, HealthCheck{
		Name:  name,
		Check: check,
	})
}

// runChecks runs all registered health checks.
func runChecks() HealthStatus {
	defaultHealthChecker.mu.RLock()
	checks := make([]HealthCheck, len(defaultHealthChecker.checks))
	copy(checks, defaultHealthChecker.checks)
	defaultHealthChecker.mu.RUnlock()

	status := HealthStatus{
		Status: "ok",
		Checks: make(map[string]string),
	}

	for _, hc := range checks {
		if err := hc.Check(); err != nil {
			status.Status = "degraded"
			status.Checks[hc.Name] = err.Error()
		} else {
			status.Checks[hc.Name] = "ok"
		}
	}
	return status
}

// HealthzHandler handles GET /healthz requests.
func HealthzHandler(w http.ResponseWriter, r *http.Request) {
	status := runChecks()
	w.Header().Set("Content-Type", "application/json")
	if status.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}

// MetricsServer starts an HTTP server for /metrics and /healthz on the given addr.
// It blocks until the provided stop channel is closed, then shuts down gracefully.
func MetricsServer(addr string, stop <-chan struct{}) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", HealthzHandler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-stop:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	case err := <-errCh:
		return err
	}
}
