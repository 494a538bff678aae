package gateway

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tallyd/tallyd/pkg/audit"
	"github.com/tallyd/tallyd/pkg/backend"
	"github.com/tallyd/tallyd/pkg/config"
)

func newTestGateway(t *testing.T) (*httptest.Server, *audit.MemoryEmitter, *audit.Collector) {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "resume.html"), []byte("<html>resume</html>"), 0o644); err != nil {
		t.Fatal(err)
	}

	container, err := backend.NewContainer("srinath-resume", "local", dir, map[string]string{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { container.Close() })

	mem := audit.NewMemoryEmitter()
	collector := audit.NewCollectorWithEmitter(audit.CollectorConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
	}, mem)
	t.Cleanup(func() { collector.Close() })

	srv := NewServer(config.GatewayConfig{Bucket: "srinath-resume"}, container, collector, "aws.s3")
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, mem, collector
}

func TestGatewayServesObject(t *testing.T) {
	ts, _, _ := newTestGateway(t)

	resp, err := http.Get(ts.URL + "/objects/resume.html")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "<html>resume</html>" {
		t.Fatalf("unexpected body %q", data)
	}
}

// Each successful read emits exactly one read-access audit event for the
// monitored bucket.
func TestGatewayEmitsAuditEvent(t *testing.T) {
	ts, mem, collector := newTestGateway(t)

	for i := 0; i < 3; i++ {
		resp, err := http.Get(ts.URL + "/objects/resume.html")
		if err != nil {
			t.Fatal(err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	collector.Flush()
	events := mem.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 audit events, got %d", len(events))
	}
	for _, evt := range events {
		if evt.Source != "aws.s3" {
			t.Errorf("expected source aws.s3, got %s", evt.Source)
		}
		if evt.EventName() != "GetObject" {
			t.Errorf("expected GetObject, got %s", evt.EventName())
		}
		if evt.Bucket() != "srinath-resume" {
			t.Errorf("expected bucket srinath-resume, got %s", evt.Bucket())
		}
		if evt.Key() != "resume.html" {
			t.Errorf("expected key resume.html, got %s", evt.Key())
		}
		if evt.ID == "" {
			t.Error("expected a non-empty event id for dedup-safe delivery")
		}
	}

	// Ids must be unique per emitted event.
	seen := make(map[string]bool)
	for _, evt := range events {
		if seen[evt.ID] {
			t.Fatalf("duplicate event id %s", evt.ID)
		}
		seen[evt.ID] = true
	}
}

func TestGatewayNotFound(t *testing.T) {
	ts, mem, collector := newTestGateway(t)

	resp, err := http.Get(ts.URL + "/objects/missing.html")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	// A failed read is not an access; nothing is emitted.
	collector.Flush()
	if mem.Len() != 0 {
		t.Fatalf("expected no audit events for a 404, got %d", mem.Len())
	}
}
