package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

// Emitter delivers batches of audit events to a sink.
type Emitter interface {
	Emit(events []Event) error
	Close() error
}

// StdoutEmitter writes JSON lines to stdout (for log aggregation).
type StdoutEmitter struct {
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewStdoutEmitter creates a stdout emitter.
func NewStdoutEmitter() *StdoutEmitter {
	return &StdoutEmitter{
		encoder: json.NewEncoder(os.Stdout),
	}
}

// Emit writes events as JSON lines to stdout.
func (e *StdoutEmitter) Emit(events []Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, evt := range events {
		if err := e.encoder.Encode(evt); err != nil {
			return fmt.Errorf("audit.StdoutEmitter: %w", err)
		}
	}
	return nil
}

// Close is a no-op for stdout.
func (e *StdoutEmitter) Close() error {
	return nil
}

// FileEmitter writes JSON lines to a file.
type FileEmitter struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewFileEmitter creates a file emitter that appends JSONL to the given path.
func NewFileEmitter(path string) (*FileEmitter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit.NewFileEmitter: %w", err)
	}
	return &FileEmitter{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// Emit writes events as JSON lines to the file.
func (e *FileEmitter) Emit(events []Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, evt := range events {
		if err := e.encoder.Encode(evt); err != nil {
			return fmt.Errorf("audit.FileEmitter: %w", err)
		}
	}
	return nil
}

// Close closes the file.
func (e *FileEmitter) Close() error {
	return e.file.Close()
}

// HTTPEmitter POSTs event batches to the tallyd ingest endpoint. Delivery
// is at-least-once: a batch is retried whole on failure, so the consumer
// may see the same event more than once.
type HTTPEmitter struct {
	addr       string
	client     *http.Client
	maxRetries int
}

// NewHTTPEmitter creates an emitter that POSTs events to the ingest
// endpoint at the given base address, retrying each batch up to
// maxRetries times.
func NewHTTPEmitter(addr string, maxRetries int) *HTTPEmitter {
	return &HTTPEmitter{
		addr: addr,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxRetries: maxRetries,
	}
}

// Emit sends the batch via HTTP POST /api/v1/events.
func (e *HTTPEmitter) Emit(events []Event) error {
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("audit.HTTPEmitter: marshal: %w", err)
	}

	url := e.addr + "/api/v1/events"
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
		resp, err := e.client.Post(url, "application/json", bytes.NewReader(data))
		if err != nil {
			lastErr = fmt.Errorf("audit.HTTPEmitter: post: %w", err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("audit.HTTPEmitter: unexpected status %d", resp.StatusCode)
			continue
		}
		return nil
	}
	return lastErr
}

// Close is a no-op for the HTTP emitter.
func (e *HTTPEmitter) Close() error {
	return nil
}

// NopEmitter discards all events.
type NopEmitter struct{}

// NewNopEmitter creates a no-op emitter.
func NewNopEmitter() *NopEmitter {
	return &NopEmitter{}
}

// Emit discards events.
func (e *NopEmitter) Emit(events []Event) error {
	return nil
}

// Close is a no-op.
func (e *NopEmitter) Close() error {
	return nil
}

// MemoryEmitter stores events in memory (for testing).
type MemoryEmitter struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryEmitter creates a memory-backed emitter.
func NewMemoryEmitter() *MemoryEmitter {
	return &MemoryEmitter{}
}

// Emit stores events.
func (e *MemoryEmitter) Emit(events []Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, events...)
	return nil
}

// Close is a no-op.
func (e *MemoryEmitter) Close() error {
	return nil
}

// Events returns all stored events.
func (e *MemoryEmitter) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Event, len(e.events))
	copy(out, e.events)
	return out
}

// Len returns the number of stored events.
func (e *MemoryEmitter) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}
