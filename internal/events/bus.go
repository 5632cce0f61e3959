// Package events carries studio notifications between the orchestrator and the
// daemon's observers, and journals solve activity.
package events

import (
	"sync"
	"time"
)

type EventType string

const (
	EventSelectionChanged  EventType = "selection_changed"
	EventEntityAdded       EventType = "entity_added"
	EventEntityUpdated     EventType = "entity_updated"
	EventEntityRemoved     EventType = "entity_removed"
	EventAssignmentAdded   EventType = "assignment_added"
	EventAssignmentRemoved EventType = "assignment_removed"
	EventSolveStarted      EventType = "solve_started"
	EventSolveLog          EventType = "solve_log"
	EventSolveCompleted    EventType = "solve_completed"
	EventSolveFailed       EventType = "solve_failed"
	EventCleared           EventType = "cleared"
	EventConfigChanged     EventType = "config_changed"
	EventWorkspaceReloaded EventType = "workspace_reloaded"
)

// SolveEvents are the lifecycle events of one solve round trip.
var SolveEvents = []EventType{EventSolveStarted, EventSolveLog, EventSolveCompleted, EventSolveFailed}

type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
}

type Subscriber func(Event)

// Bus delivers events asynchronously through one buffered channel per subscriber.
// Publish never blocks: an event is dropped for a subscriber whose buffer is full.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	closed      bool
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe calls fn for every event of the given types, in publish order, from a
// dedicated goroutine. The returned function unsubscribes.
func (b *Bus) Subscribe(fn Subscriber, types ...EventType) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return func() {}
	}
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}

	go func() {
		for ev := range ch {
			deliver(fn, ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.closed {
				return
			}
			for _, t := range types {
				subs := b.subscribers[t]
				for i, c := range subs {
					if c == ch {
						b.subscribers[t] = append(subs[:i:i], subs[i+1:]...)
						break
					}
				}
			}
			close(ch)
		})
	}
}

// deliver isolates the bus from a panicking subscriber.
func deliver(fn Subscriber, ev Event) {
	defer func() { _ = recover() }()
	fn(ev)
}

func (b *Bus) Publish(t EventType, data map[string]any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	ev := Event{Type: t, Timestamp: time.Now().UTC(), Data: data}
	for _, ch := range b.subscribers[t] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close stops delivery to every subscriber. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	seen := make(map[chan Event]bool)
	for t, subs := range b.subscribers {
		for _, ch := range subs {
			if !seen[ch] {
				seen[ch] = true
				close(ch)
			}
		}
		delete(b.subscribers, t)
	}
}
