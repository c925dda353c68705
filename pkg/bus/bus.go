package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 100

// ErrNoRoute is returned when no route matches an envelope target.
var ErrNoRoute = errors.New("no route for target")

type MessageBus struct {
	inbound  chan Envelope
	outbound chan Envelope
	routes   map[string]DeliverFunc

	eventSubscribers      map[uint64]*eventSubscriber
	nextEventSubscriberID uint64
	droppedEvents         atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:          make(chan Envelope, defaultBufferSize),
		outbound:         make(chan Envelope, defaultBufferSize),
		routes:           make(map[string]DeliverFunc),
		eventSubscribers: make(map[uint64]*eventSubscriber),
		done:             make(chan struct{}),
	}
}

func (mb *MessageBus) PublishInbound(ctx context.Context, env Envelope) bool {
	return mb.publish(ctx, mb.inbound, env)
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (Envelope, bool) {
	return mb.consume(ctx, mb.inbound)
}

func (mb *MessageBus) PublishOutbound(ctx context.Context, env Envelope) bool {
	return mb.publish(ctx, mb.outbound, env)
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (Envelope, bool) {
	return mb.consume(ctx, mb.outbound)
}

func (mb *MessageBus) publish(ctx context.Context, ch chan Envelope, env Envelope) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	case ch <- env:
		return true
	}
}

func (mb *MessageBus) consume(ctx context.Context, ch chan Envelope) (Envelope, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return Envelope{}, false
	case <-mb.done:
		return Envelope{}, false
	case env := <-ch:
		return env, true
	}
}

// Route registers deliver for every target address starting with prefix.
// The longest matching prefix wins.
func (mb *MessageBus) Route(prefix string, deliver DeliverFunc) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.routes[prefix] = deliver
}

// Unroute removes a route registered with Route.
func (mb *MessageBus) Unroute(prefix string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	delete(mb.routes, prefix)
}

// Resolve returns the delivery function owning target.
func (mb *MessageBus) Resolve(target string) (DeliverFunc, bool) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	bestLen := -1
	var best DeliverFunc
	for prefix, deliver := range mb.routes {
		if strings.HasPrefix(target, prefix) && len(prefix) > bestLen {
			best = deliver
			bestLen = len(prefix)
		}
	}

	return best, bestLen >= 0
}

// Deliver routes one envelope to its target.
func (mb *MessageBus) Deliver(ctx context.Context, env Envelope) error {
	deliver, ok := mb.Resolve(env.Target)
	if !ok {
		return fmt.Errorf("%w %q", ErrNoRoute, env.Target)
	}

	return deliver(ctx, env)
}

// Dispatch drains outbound envelopes and delivers them until ctx ends or the bus closes.
// Delivery errors are reported through onError and never stop the loop.
func (mb *MessageBus) Dispatch(ctx context.Context, onError func(Envelope, error)) {
	for {
		env, ok := mb.SubscribeOutbound(ctx)
		if !ok {
			return
		}

		if err := mb.Deliver(ctx, env); err != nil && onError != nil {
			onError(env, err)
		}
	}
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)

		mb.mu.Lock()
		for id, sub := range mb.eventSubscribers {
			close(sub.ch)
			delete(mb.eventSubscribers, id)
		}
		mb.mu.Unlock()
	})
}
