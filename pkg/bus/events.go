package bus

import (
	"context"
	"slices"
	"sync"
	"time"
)

// EventType names a request lifecycle transition.
type EventType string

const (
	EventRequestReceived  EventType = "request_received"
	EventRequestCompleted EventType = "request_completed"
	EventRequestFailed    EventType = "request_failed"
	EventReplyDropped     EventType = "reply_dropped"
)

// Event describes one lifecycle transition of an envelope handled by an agent.
type Event struct {
	Type      EventType         `json:"type"`
	At        time.Time         `json:"at"`
	Kind      Kind              `json:"kind,omitempty"`
	Sender    string            `json:"sender,omitempty"`
	Session   string            `json:"session,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	Error     string            `json:"error,omitempty"`
}

type eventSubscriber struct {
	ch    chan Event
	types []EventType
}

func (s *eventSubscriber) wants(eventType EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, eventType)
}

// PublishEvent fans event out to matching subscribers without blocking. A
// subscriber whose buffer is full misses the event and it is counted in
// DroppedEvents. It reports false once ctx ends or the bus is closed.
func (mb *MessageBus) PublishEvent(ctx context.Context, event Event) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	mb.mu.RLock()
	defer mb.mu.RUnlock()

	for _, sub := range mb.eventSubscribers {
		if !sub.wants(event.Type) {
			continue
		}

		select {
		case sub.ch <- event:
		default:
			mb.droppedEvents.Add(1)
		}
	}

	return true
}

// DroppedEvents reports how many deliveries were skipped for full subscribers.
func (mb *MessageBus) DroppedEvents() uint64 {
	return mb.droppedEvents.Load()
}

// SubscribeEvents registers a buffered subscriber for types, or for every
// type when none are given. The channel closes when ctx ends, the bus closes,
// or the returned function is called.
func (mb *MessageBus) SubscribeEvents(ctx context.Context, buffer int, types ...EventType) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	sub := &eventSubscriber{ch: make(chan Event, buffer), types: slices.Clone(types)}

	mb.mu.Lock()
	select {
	case <-mb.done:
		mb.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	default:
	}

	id := mb.nextEventSubscriberID
	mb.nextEventSubscriberID++
	mb.eventSubscribers[id] = sub
	mb.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			mb.mu.Lock()
			defer mb.mu.Unlock()
			if _, ok := mb.eventSubscribers[id]; ok {
				delete(mb.eventSubscribers, id)
				close(sub.ch)
			}
		})
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-mb.done:
		}
		unsubscribe()
	}()

	return sub.ch, unsubscribe
}
