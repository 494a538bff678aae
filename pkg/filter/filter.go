// Package filter decides which inbound audit events trigger the
// access-count handler. The rule is a pure predicate; unrecognized or
// malformed events are non-matches, never errors, since unrelated events
// flow through the same channel.
package filter

import (
	"context"

	"github.com/tallyd/tallyd/pkg/audit"
	"github.com/tallyd/tallyd/pkg/handler"
)

// Rule matches read-access events for one monitored container. All three
// fields must match. The object key is deliberately not part of the rule:
// the count is an aggregate for the whole container, not per object.
type Rule struct {
	Source    string // audit channel, e.g. "aws.s3"
	EventName string // read-access kind, e.g. "GetObject"
	Bucket    string // monitored container name
}

// Match reports whether evt is a read access of the monitored container.
// It has no side effects.
func (r Rule) Match(evt audit.Event) bool {
	if evt.Source != r.Source {
		return false
	}
	if evt.EventName() != r.EventName {
		return false
	}
	return evt.Bucket() == r.Bucket
}

// Dispatcher binds a rule to a handler: on match, invoke the handler
// exactly once with the full event payload.
type Dispatcher struct {
	rule Rule
	h    *handler.Handler
}

// NewDispatcher creates a dispatcher for the given rule and handler.
func NewDispatcher(rule Rule, h *handler.Handler) *Dispatcher {
	return &Dispatcher{rule: rule, h: h}
}

// Rule returns the bound match rule.
func (d *Dispatcher) Rule() Rule {
	return d.rule
}

// Dispatch evaluates the rule and invokes the handler on match. The
// returned bool reports whether the event matched; the Result is only
// meaningful when it did.
func (d *Dispatcher) Dispatch(ctx context.Context, evt audit.Event) (handler.Result, bool) {
	if !d.rule.Match(evt) {
		return handler.Result{}, false
	}
	return d.h.Handle(ctx, evt), true
}
