package lifecycle

import (
	"sync"
	"time"

	"github.com/wujiajunhahah/dreamvision/internal/domain"
)

// EventType classifies lifecycle events.
type EventType string

const (
	EventCreated    EventType = "created"
	EventUpdated    EventType = "updated"
	EventTransition EventType = "transition"
	EventDeleted    EventType = "deleted"
)

// Event is a sequenced notification consumed by UI subscribers.
type Event struct {
	Seq         int64              `json:"seq"`
	Timestamp   time.Time          `json:"timestamp"`
	DreamID     string             `json:"dreamId"`
	Type        EventType          `json:"type"`
	From        domain.DreamStatus `json:"from,omitempty"`
	Status      domain.DreamStatus `json:"status,omitempty"`
	FailureKind string             `json:"failureKind,omitempty"`
	Message     string             `json:"message,omitempty"`
}

// EventBus stores recent events for incremental reads and fans them out to
// live subscribers. A slow subscriber misses events rather than blocking
// publishers; it can catch up with Since.
type EventBus struct {
	mu          sync.RWMutex
	nextSeq     int64
	maxEvents   int
	events      []Event
	subscribers map[int]chan Event
	nextSub     int
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &EventBus{
		maxEvents:   maxEvents,
		events:      make([]Event, 0, maxEvents),
		subscribers: map[int]chan Event{},
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// Subscribe returns a channel of future events and a func that detaches it.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
