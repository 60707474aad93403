package events

import (
	"sync"

	"htlcchain/core/types"
)

// Event represents a structured state change emitted by the chain.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies Emitter while discarding all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// typedEvent is implemented by events that can render themselves into the
// flat attribute form used by RPC consumers.
type typedEvent interface {
	Event() *types.Event
}

// Render converts evt into its attribute form. Events that do not implement
// Event() render with an empty attribute set.
func Render(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if typed, ok := evt.(typedEvent); ok {
		if rendered := typed.Event(); rendered != nil {
			return rendered
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}

// Recorder buffers emitted events in memory. The node keeps a bounded recorder
// that htlc_events reads from.
type Recorder struct {
	mu     sync.Mutex
	limit  int
	events []*types.Event
}

// NewRecorder returns a recorder that keeps at most limit events. A
// non-positive limit keeps every event.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Emit implements Emitter.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	rendered := Render(evt)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, rendered)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = append([]*types.Event(nil), r.events[len(r.events)-r.limit:]...)
	}
}

// Events returns copies of the buffered events, oldest first.
func (r *Recorder) Events() []*types.Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Event, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.Clone()
	}
	return out
}

// Fanout forwards each event to every wrapped emitter in order.
type Fanout []Emitter

// Emit implements Emitter.
func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
