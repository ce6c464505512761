package skillloop

import (
	"sync"
	"time"
)

// EventKind identifies the type of loop event.
type EventKind string

const (
	EventTurnStart     EventKind = "turn_start"
	EventTurnEnd       EventKind = "turn_end"
	EventToolCallStart EventKind = "tool_call_start"
	EventToolCallEnd   EventKind = "tool_call_end"
	EventCorrection    EventKind = "correction"
	EventLoopDetected  EventKind = "loop_detected"
	EventDegraded      EventKind = "degraded"
	EventChainStep     EventKind = "chain_step"
)

// LoopEvent is a typed observability event emitted by the orchestration
// loop for host applications. Events are advisory; dropping them never
// affects the loop.
type LoopEvent struct {
	Kind           EventKind              `json:"kind"`
	At             time.Time              `json:"at"`
	ConversationID string                 `json:"conversation_id"`
	Data           map[string]interface{} `json:"data,omitempty"`
}

// EventEmitter delivers loop events to the host via a buffered channel.
type EventEmitter struct {
	ch     chan LoopEvent
	closed bool
	mu     sync.Mutex
}

// NewEventEmitter creates an emitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{ch: make(chan LoopEvent, bufferSize)}
}

// Emit sends an event. If the emitter is closed or the buffer is full the
// event is dropped rather than blocking the loop.
func (e *EventEmitter) Emit(kind EventKind, conversationID string, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := LoopEvent{
		Kind:           kind,
		At:             time.Now(),
		ConversationID: conversationID,
		Data:           data,
	}
	select {
	case e.ch <- event:
	default:
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan LoopEvent {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
