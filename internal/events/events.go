// Package events is an in-process publish/subscribe bus for orchestration
// events. It keeps a bounded history so late subscribers can catch up.
package events

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the orchestrator.
const (
	TaskStarted      = "task.started"
	TaskFinished     = "task.finished"
	WorkflowStarted  = "workflow.started"
	WorkflowStep     = "workflow.step"
	WorkflowFinished = "workflow.finished"

	// All subscribes to every event type.
	All = "*"
)

const defaultMaxHistory = 1000

// Event is a single notification.
type Event struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Source string         `json:"source"`
	Time   time.Time      `json:"time"`
	Data   map[string]any `json:"data,omitempty"`
}

// Handler receives events. It runs on the publisher's goroutine.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus fans events out to subscribers. A nil *Bus drops everything.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string][]subscription
	history    []Event
	maxHistory int
	nextSub    uint64
	logger     *slog.Logger
}

// NewBus creates a bus keeping at most maxHistory events (default 1000).
func NewBus(maxHistory int, logger *slog.Logger) *Bus {
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bus{
		subs:       make(map[string][]subscription),
		maxHistory: maxHistory,
		logger:     logger,
	}
}

// Subscribe registers h for eventType (or All) and returns a function that
// removes the subscription.
func (b *Bus) Subscribe(eventType string, h Handler) func() {
	b.mu.Lock()
	b.nextSub++
	id := b.nextSub
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, handler: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[eventType]
		for i, s := range list {
			if s.id == id {
				b.subs[eventType] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	}
}

// Publish stamps e, records it and delivers it to matching subscribers.
// A panicking handler is logged and does not affect other handlers.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	b.mu.Lock()
	b.history = append(b.history, e)
	if over := len(b.history) - b.maxHistory; over > 0 {
		b.history = append([]Event(nil), b.history[over:]...)
	}
	targets := make([]subscription, 0, len(b.subs[e.Type])+len(b.subs[All]))
	targets = append(targets, b.subs[e.Type]...)
	targets = append(targets, b.subs[All]...)
	b.mu.Unlock()

	for _, s := range targets {
		b.deliver(s.handler, e)
	}
}

func (b *Bus) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.String("event_type", e.Type),
				slog.Any("panic", r),
			)
		}
	}()
	h(e)
}

// History returns up to limit most recent events, oldest first. An empty
// eventType matches all types; limit <= 0 means no limit.
func (b *Bus) History(eventType string, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, e := range b.history {
		if eventType == "" || eventType == All || e.Type == eventType {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// SubscriberCount returns the number of handlers for eventType.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}
