package filter

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/tallyd/tallyd/pkg/audit"
	"github.com/tallyd/tallyd/pkg/config"
	"github.com/tallyd/tallyd/pkg/handler"
	"github.com/tallyd/tallyd/pkg/store"
)

var testRule = Rule{
	Source:    "aws.s3",
	EventName: "GetObject",
	Bucket:    "srinath-resume",
}

func TestRuleMatch(t *testing.T) {
	evt := audit.NewReadEvent("aws.s3", "srinath-resume", "resume.html")
	if !testRule.Match(evt) {
		t.Fatal("expected match for a read of the monitored bucket")
	}
}

func TestRuleMatchAnyObjectKey(t *testing.T) {
	// The rule is container-wide: every object in the bucket counts.
	for _, key := range []string{"resume.html", "img/photo.png", "deep/nested/path.pdf"} {
		evt := audit.NewReadEvent("aws.s3", "srinath-resume", key)
		if !testRule.Match(evt) {
			t.Fatalf("expected match for object %q", key)
		}
	}
}

func TestRuleNoMatch(t *testing.T) {
	cases := []struct {
		name string
		evt  audit.Event
	}{
		{"wrong bucket", audit.NewReadEvent("aws.s3", "other-bucket", "resume.html")},
		{"wrong source", audit.NewReadEvent("aws.ec2", "srinath-resume", "resume.html")},
		{"empty event", audit.Event{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if testRule.Match(tc.evt) {
				t.Fatal("expected no match")
			}
		})
	}

	// Write access is not a read.
	evt := audit.NewReadEvent("aws.s3", "srinath-resume", "resume.html")
	evt.Detail.EventName = "PutObject"
	if testRule.Match(evt) {
		t.Fatal("expected no match for PutObject")
	}
}

// Unrelated event shapes decode into zero-valued fields and fall out as
// silent non-matches; the filter never errors on them.
func TestRuleUnrecognizedShape(t *testing.T) {
	raw := []byte(`{"source":"aws.s3","detail":{"eventSource":"sqs","messageId":"abc"}}`)
	var evt audit.Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		t.Fatalf("decode should tolerate unknown shapes: %v", err)
	}
	if testRule.Match(evt) {
		t.Fatal("expected no match for an unrelated event")
	}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *store.Store) {
	t.Helper()
	st, err := store.Open(config.StoreConfig{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	h := handler.New(st, handler.Config{
		CounterKey: store.Key("counters", "visit_count"),
		Field:      "count",
	})
	return NewDispatcher(testRule, h), st
}

func TestDispatchMatched(t *testing.T) {
	d, st := newTestDispatcher(t)

	res, matched := d.Dispatch(context.Background(), audit.NewReadEvent("aws.s3", "srinath-resume", "resume.html"))
	if !matched {
		t.Fatal("expected dispatch")
	}
	if res.StatusCode != 200 || res.Body.Count != "1" {
		t.Fatalf("unexpected result %+v", res)
	}

	v, err := st.Get(store.Key("counters", "visit_count"), "count")
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Fatalf("expected counter 1, got %d", v)
	}
}

func TestDispatchNonMatchHasNoSideEffects(t *testing.T) {
	d, st := newTestDispatcher(t)

	_, matched := d.Dispatch(context.Background(), audit.NewReadEvent("aws.s3", "other-bucket", "x"))
	if matched {
		t.Fatal("expected no dispatch")
	}

	v, err := st.Get(store.Key("counters", "visit_count"), "count")
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("non-match must not touch the counter, got %d", v)
	}
}
