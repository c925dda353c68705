package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"chatrelay/pkg/bus"
	"chatrelay/pkg/protocol"
)

const mailboxSize = 8

// ErrUnknownAddress is returned when a reply targets an address nobody waits on.
var ErrUnknownAddress = errors.New("no mailbox for address")

// Mailbox parks request/response callers until replies for their address arrive.
type Mailbox struct {
	mu    sync.Mutex
	boxes map[string]chan bus.Envelope
}

func NewMailbox() *Mailbox {
	return &Mailbox{boxes: make(map[string]chan bus.Envelope)}
}

// Open registers address and returns its reply stream plus a close function.
func (m *Mailbox) Open(address string) (<-chan bus.Envelope, func()) {
	ch := make(chan bus.Envelope, mailboxSize)

	m.mu.Lock()
	m.boxes[address] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			if m.boxes[address] == ch {
				delete(m.boxes, address)
			}
			m.mu.Unlock()
		})
	}
}

// Deliver hands env to the caller waiting on env.Target.
func (m *Mailbox) Deliver(ctx context.Context, env bus.Envelope) error {
	m.mu.Lock()
	ch, ok := m.boxes[env.Target]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownAddress, env.Target)
	}

	select {
	case ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("mailbox %q is full", env.Target)
	}
}

// Await returns the first envelope on replies whose kind is one of kinds.
// Chat acknowledgements are reported through acknowledged and skipped.
func Await(ctx context.Context, replies <-chan bus.Envelope, kinds ...bus.Kind) (env bus.Envelope, acknowledged bool, err error) {
	for {
		select {
		case <-ctx.Done():
			return bus.Envelope{}, acknowledged, ctx.Err()
		case env := <-replies:
			if env.Kind == protocol.KindChatAck {
				acknowledged = true
				continue
			}
			for _, kind := range kinds {
				if env.Kind == kind {
					return env, acknowledged, nil
				}
			}
		}
	}
}
