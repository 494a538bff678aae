// Package handler turns one matched access-audit event into exactly one
// atomic increment attempt against the counter store. It is the fault
// boundary: every invocation path returns a structured Result, never a
// panic or an unhandled error.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/tallyd/tallyd/pkg/audit"
	"github.com/tallyd/tallyd/pkg/metrics"
)

// Incrementer is the counter-store contract the handler depends on. The
// store guarantees race-free addition under concurrent callers and returns
// the post-update value; the handler never reads-then-writes the counter.
type Incrementer interface {
	Increment(key, field string, delta int64) (int64, error)
	IncrementOnce(key, field string, delta int64, eventID string, ttl time.Duration) (value int64, applied bool, err error)
}

// Config is the process-wide handler configuration, fixed at startup.
type Config struct {
	CounterKey string // store record key for the single tracked counter
	Field      string // numeric field receiving the increments
	Dedup      bool   // skip duplicate event ids
	DedupTTL   time.Duration
}

// Handler is the access-count handler.
type Handler struct {
	store Incrementer
	cfg   Config
}

// Result is the structured outcome of one handler invocation.
type Result struct {
	StatusCode int  `json:"statusCode"`
	Body       Body `json:"body"`
}

// Body carries the human-readable outcome. Count is the post-update value
// as reported by the store, rendered as a decimal string; it is present
// only on success.
type Body struct {
	Message   string `json:"message"`
	Count     string `json:"count,omitempty"`
	Error     string `json:"error,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// ValidationError reports an event that reached the handler without a
// usable resource location.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid access event: " + e.Reason
}

// New creates a handler bound to a counter store.
func New(store Incrementer, cfg Config) *Handler {
	if cfg.Field == "" {
		cfg.Field = "count"
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 24 * time.Hour
	}
	return &Handler{store: store, cfg: cfg}
}

// Handle processes one delivered access event. Bucket and object key must
// both be present; otherwise the store is never touched. On success the
// Result carries the new count as returned by the store.
func (h *Handler) Handle(ctx context.Context, evt audit.Event) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panic", "panic", r)
			metrics.IncrementFailures.WithLabelValues("store").Inc()
			res = failure(fmt.Errorf("panic: %v", r))
		}
	}()

	start := time.Now()
	defer func() {
		metrics.HandlerDuration.Observe(time.Since(start).Seconds())
	}()

	bucket := evt.Bucket()
	object := evt.Key()
	if bucket == "" || object == "" {
		err := &ValidationError{Reason: "missing bucket or object key"}
		slog.Error("access event rejected", "bucket", bucket, "object", object, "error", err)
		metrics.IncrementFailures.WithLabelValues("validation").Inc()
		return failure(err)
	}

	var (
		count   int64
		applied = true
		err     error
	)
	if h.cfg.Dedup && evt.ID != "" {
		count, applied, err = h.store.IncrementOnce(h.cfg.CounterKey, h.cfg.Field, 1, evt.ID, h.cfg.DedupTTL)
	} else {
		count, err = h.store.Increment(h.cfg.CounterKey, h.cfg.Field, 1)
	}
	if err != nil {
		slog.Error("increment failed", "key", h.cfg.CounterKey, "bucket", bucket, "object", object, "error", err)
		metrics.IncrementFailures.WithLabelValues("store").Inc()
		return failure(err)
	}

	if applied {
		metrics.Increments.Inc()
	} else {
		metrics.DuplicatesSkipped.Inc()
	}
	metrics.CounterValue.Set(float64(count))

	slog.Info("access counted", "bucket", bucket, "object", object, "count", count, "duplicate", !applied)
	return Result{
		StatusCode: 200,
		Body: Body{
			Message:   "access count updated",
			Count:     strconv.FormatInt(count, 10),
			Duplicate: !applied,
		},
	}
}

func failure(err error) Result {
	return Result{
		StatusCode: 500,
		Body: Body{
			Message: "error updating access count",
			Error:   err.Error(),
		},
	}
}
