// Package worker holds the contract every external-task handler implements
// and the fixed template that runs a handler and reports its outcome.
package worker

import (
	"context"
	"time"

	"github.com/guido-cesarano/claimworker/pkg/tasks"
)

// Retry defaults applied to handlers that do not override them.
const (
	DefaultRetryCount   = 3
	DefaultRetryTimeout = 5 * time.Second
)

// Handler is implemented by business modules to process one topic.
// Execute may be called concurrently and for the same task more than once
// (at-least-once delivery), so its effects must be idempotent.
type Handler interface {
	Topic() string
	Execute(ctx context.Context, task tasks.ExternalTask) (tasks.Variables, error)
}

// RetryCounter lets a handler override DefaultRetryCount.
type RetryCounter interface {
	RetryCount() int
}

// RetryTimeouter lets a handler override DefaultRetryTimeout.
type RetryTimeouter interface {
	RetryTimeout() time.Duration
}

// Retry can be embedded in a handler to configure both overrides. Zero
// fields keep the defaults.
type Retry struct {
	Count   int
	Timeout time.Duration
}

// RetryCount implements RetryCounter.
func (r Retry) RetryCount() int {
	if r.Count <= 0 {
		return DefaultRetryCount
	}
	return r.Count
}

// RetryTimeout implements RetryTimeouter.
func (r Retry) RetryTimeout() time.Duration {
	if r.Timeout <= 0 {
		return DefaultRetryTimeout
	}
	return r.Timeout
}

// RetryPolicy returns the retry count and timeout configured on h.
func RetryPolicy(h Handler) (int, time.Duration) {
	count, timeout := DefaultRetryCount, DefaultRetryTimeout
	if rc, ok := h.(RetryCounter); ok {
		if n := rc.RetryCount(); n >= 0 {
			count = n
		}
	}
	if rt, ok := h.(RetryTimeouter); ok {
		if d := rt.RetryTimeout(); d >= 0 {
			timeout = d
		}
	}
	return count, timeout
}

// HandlerFunc adapts a function to a Handler for a fixed topic.
type HandlerFunc struct {
	Name string
	Fn   func(ctx context.Context, task tasks.ExternalTask) (tasks.Variables, error)
	Retry
}

// Topic implements Handler.
func (f HandlerFunc) Topic() string { return f.Name }

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, task tasks.ExternalTask) (tasks.Variables, error) {
	return f.Fn(ctx, task)
}
