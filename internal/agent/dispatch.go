package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTaskType is returned when no route in a Dispatcher matches.
var ErrUnknownTaskType = errors.New("unknown task type")

// KeywordMatcher matches a task type against a keyword set. A task type
// matches when it equals a keyword or contains one, ignoring case.
type KeywordMatcher []string

// Match reports whether taskType matches any keyword.
func (k KeywordMatcher) Match(taskType string) bool {
	t := normalizeType(taskType)
	if t == "" {
		return false
	}
	for _, kw := range k {
		if t == strings.ToLower(kw) {
			return true
		}
	}
	for _, kw := range k {
		if kw != "" && strings.Contains(t, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// HandlerFunc handles one kind of task inside an agent.
type HandlerFunc func(ctx context.Context, task *Task) (map[string]any, error)

// Route binds lower-case task-type keywords to a handler.
type Route struct {
	Keywords []string
	Handle   HandlerFunc
}

// Dispatcher selects a handler for a task type in two ordered passes:
// an exact keyword match across all routes, then a substring match in
// route order.
type Dispatcher struct {
	routes   []Route
	fallback HandlerFunc
}

// NewDispatcher creates a dispatcher over the given routes.
func NewDispatcher(routes ...Route) *Dispatcher {
	return &Dispatcher{routes: routes}
}

// WithFallback sets the handler used when no route matches.
func (d *Dispatcher) WithFallback(h HandlerFunc) *Dispatcher {
	d.fallback = h
	return d
}

// Lookup returns the handler for taskType.
func (d *Dispatcher) Lookup(taskType string) (HandlerFunc, bool) {
	t := normalizeType(taskType)
	for _, r := range d.routes {
		for _, kw := range r.Keywords {
			if t == kw {
				return r.Handle, true
			}
		}
	}
	for _, r := range d.routes {
		for _, kw := range r.Keywords {
			if strings.Contains(t, kw) {
				return r.Handle, true
			}
		}
	}
	if d.fallback != nil {
		return d.fallback, true
	}
	return nil, false
}

// Dispatch runs the handler selected for task.Type.
func (d *Dispatcher) Dispatch(ctx context.Context, task *Task) (map[string]any, error) {
	h, ok := d.Lookup(task.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTaskType, task.Type)
	}
	return h(ctx, task)
}

func normalizeType(taskType string) string {
	return strings.ToLower(strings.TrimSpace(taskType))
}
