package audit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestCollectorRecordAndFlush(t *testing.T) {
	mem := NewMemoryEmitter()
	c := NewCollectorWithEmitter(CollectorConfig{
		BatchSize:     10,
		FlushInterval: time.Hour,
	}, mem)

	c.Record(NewReadEvent("aws.s3", "srinath-resume", "resume.html"))

	pending := c.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected 1 batched event, got %d", len(pending))
	}
	if pending[0].Bucket() != "srinath-resume" {
		t.Errorf("expected bucket srinath-resume, got %s", pending[0].Bucket())
	}

	c.Flush()
	time.Sleep(20 * time.Millisecond)
	if mem.Len() != 1 {
		t.Fatalf("expected 1 emitted event after flush, got %d", mem.Len())
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestCollectorBatchFlush(t *testing.T) {
	mem := NewMemoryEmitter()
	batchSize := 5
	c := NewCollectorWithEmitter(CollectorConfig{
		BatchSize:     batchSize,
		FlushInterval: time.Hour,
	}, mem)

	for i := 0; i < batchSize; i++ {
		c.Record(NewReadEvent("aws.s3", "srinath-resume", "resume.html"))
	}

	// Reaching the batch size triggers an async flush.
	deadline := time.Now().Add(2 * time.Second)
	for mem.Len() < batchSize && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if mem.Len() != batchSize {
		t.Fatalf("expected %d emitted events, got %d", batchSize, mem.Len())
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestCollectorCloseFlushesRemainder(t *testing.T) {
	mem := NewMemoryEmitter()
	c := NewCollectorWithEmitter(CollectorConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
	}, mem)

	c.Record(NewReadEvent("aws.s3", "srinath-resume", "a"))
	c.Record(NewReadEvent("aws.s3", "srinath-resume", "b"))

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if mem.Len() != 2 {
		t.Fatalf("expected 2 events after close, got %d", mem.Len())
	}
}

func TestHTTPEmitter(t *testing.T) {
	var got []Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/events" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
	}))
	defer srv.Close()

	e := NewHTTPEmitter(srv.URL, 0)
	evt := NewReadEvent("aws.s3", "srinath-resume", "resume.html")
	if err := e.Emit([]Event{evt}); err != nil {
		t.Fatal(err)
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 delivered event, got %d", len(got))
	}
	if got[0].Bucket() != "srinath-resume" || got[0].Key() != "resume.html" {
		t.Fatalf("unexpected event %+v", got[0])
	}
	if got[0].EventName() != "GetObject" {
		t.Fatalf("expected GetObject, got %s", got[0].EventName())
	}
}

// A failing delivery is retried; the second attempt of the same batch is
// what makes delivery at-least-once.
func TestHTTPEmitterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
	}))
	defer srv.Close()

	e := NewHTTPEmitter(srv.URL, 2)
	if err := e.Emit([]Event{NewReadEvent("aws.s3", "b", "k")}); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestHTTPEmitterExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewHTTPEmitter(srv.URL, 1)
	if err := e.Emit([]Event{NewReadEvent("aws.s3", "b", "k")}); err == nil {
		t.Fatal("expected error after retries exhausted")
	}
}

func TestFileEmitter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	e, err := NewFileEmitter(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := e.Emit([]Event{
		NewReadEvent("aws.s3", "srinath-resume", "a"),
		NewReadEvent("aws.s3", "srinath-resume", "b"),
	}); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var first Event
	if err := json.Unmarshal([]byte(splitFirstLine(data)), &first); err != nil {
		t.Fatalf("first line is not a JSON event: %v", err)
	}
	if first.Key() != "a" {
		t.Fatalf("expected first event key a, got %s", first.Key())
	}
}

func splitFirstLine(data []byte) string {
	for i, b := range data {
		if b == '\n' {
			return string(data[:i])
		}
	}
	return string(data)
}

func TestEventWireFormat(t *testing.T) {
	raw := []byte(`{
		"id": "evt-1",
		"source": "aws.s3",
		"detail-type": "AWS API Call via CloudTrail",
		"detail": {
			"eventName": "GetObject",
			"requestParameters": {"bucketName": "srinath-resume", "key": "resume.html"},
			"someExtraField": {"nested": true}
		}
	}`)

	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.ID != "evt-1" || evt.Source != "aws.s3" {
		t.Fatalf("unexpected envelope %+v", evt)
	}
	if evt.Bucket() != "srinath-resume" || evt.Key() != "resume.html" {
		t.Fatalf("unexpected resource location %+v", evt.Detail.RequestParameters)
	}
}
