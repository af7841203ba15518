// Package bus fans agent lifecycle events out to in-process subscribers and
// to durable sinks.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType names a lifecycle event of a run.
type EventType string

const (
	EventTurnStart  EventType = "turn_start"
	EventText       EventType = "text"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventBlocked    EventType = "blocked"
	EventCompacted  EventType = "compacted"
	EventError      EventType = "error"
	EventDone       EventType = "done"
)

// Terminal reports whether t ends a run.
func (t EventType) Terminal() bool {
	return t == EventDone || t == EventError || t == EventBlocked
}

// Event is one lifecycle event.
type Event struct {
	Type       EventType      `json:"type"`
	SessionID  string         `json:"session_id"`
	RunID      string         `json:"run_id,omitempty"`
	Turn       int            `json:"turn,omitempty"`
	Text       string         `json:"text,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// EventSink stores or forwards events. Sink failures are logged, never
// returned to the publisher.
type EventSink interface {
	Name() string
	Write(ctx context.Context, evt Event) error
}

// EventBus delivers events synchronously to subscribers and asynchronously
// to sinks.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[int]func(Event)
	nextID int
	sinks  []EventSink

	queue chan Event
}

// NewEventBus creates a bus with a sink queue of the given size.
func NewEventBus(queueSize int) *EventBus {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &EventBus{
		subs:  make(map[int]func(Event)),
		queue: make(chan Event, queueSize),
	}
}

// Subscribe registers a callback and returns a function that removes it.
// Callbacks run on the publisher's goroutine, in publish order.
func (b *EventBus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// AddSink registers a sink served by Dispatch.
func (b *EventBus) AddSink(s EventSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Publish stamps and delivers evt. When the sink queue is full the event
// still reaches subscribers but is dropped for sinks.
func (b *EventBus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	subs := make([]func(Event), 0, len(b.subs))
	for id := 0; id < b.nextID; id++ {
		if fn, ok := b.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	hasSinks := len(b.sinks) > 0
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(evt)
	}
	if !hasSinks {
		return
	}
	select {
	case b.queue <- evt:
	default:
		slog.Warn("Event sink queue full, dropping event", "type", evt.Type, "session", evt.SessionID)
	}
}

// Dispatch writes queued events to every sink until ctx is done, then
// flushes what is left. Run it as a goroutine.
func (b *EventBus) Dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			b.flush()
			return ctx.Err()
		case evt := <-b.queue:
			b.write(ctx, evt)
		}
	}
}

// Pending returns the number of events waiting for sinks.
func (b *EventBus) Pending() int {
	return len(b.queue)
}

func (b *EventBus) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case evt := <-b.queue:
			b.write(ctx, evt)
		default:
			return
		}
	}
}

func (b *EventBus) write(ctx context.Context, evt Event) {
	b.mu.RLock()
	sinks := append([]EventSink(nil), b.sinks...)
	b.mu.RUnlock()
	for _, s := range sinks {
		if err := s.Write(ctx, evt); err != nil {
			slog.Warn("Event sink write failed", "sink", s.Name(), "type", evt.Type, "error", err)
		}
	}
}
