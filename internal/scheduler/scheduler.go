// Package scheduler provides named, durable deadlines. A deadline is
// identified by a composite name (kind + token id); registering the same name
// again silently replaces the pending deadline. Handlers must re-validate
// persisted state on fire, since it may have changed since registration.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Kind tags what a deadline means to the lifecycle handler.
type Kind string

const (
	// KindAbandon fires when a Pending consent saw no activation in time.
	KindAbandon Kind = "abandon"
	// KindExpiry fires ahead of an Active consent's expiry date.
	KindExpiry Kind = "expiry"
)

var deadlinesFired = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "consentry_deadlines_fired_total",
	Help: "Deadlines dispatched to the lifecycle handler, by kind",
}, []string{"kind"})

// Name encodes a deadline identity as "<kind>_<tokenID>".
func Name(kind Kind, tokenID string) string {
	return string(kind) + "_" + tokenID
}

// ParseName decodes a deadline name back into kind and token id.
func ParseName(name string) (Kind, string, error) {
	parts := strings.SplitN(name, "_", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", fmt.Errorf("malformed deadline name %q", name)
	}
	switch Kind(parts[0]) {
	case KindAbandon, KindExpiry:
		return Kind(parts[0]), parts[1], nil
	default:
		return "", "", fmt.Errorf("unknown deadline kind in %q", name)
	}
}

// Handler receives fired deadlines. Dispatch is a function of the decoded
// name and current persisted state only.
type Handler func(ctx context.Context, kind Kind, tokenID string)

// Scheduler registers and cancels named deadlines.
type Scheduler interface {
	// Schedule arms a deadline at an absolute time, replacing any pending
	// deadline with the same name.
	Schedule(ctx context.Context, name string, at time.Time) error
	// ScheduleIn arms a deadline after a relative delay.
	ScheduleIn(ctx context.Context, name string, delay time.Duration) error
	// Cancel removes a pending deadline. Canceling an unknown name is a
	// no-op.
	Cancel(ctx context.Context, name string) error
}

func markFired(kind Kind) {
	deadlinesFired.WithLabelValues(string(kind)).Inc()
}
