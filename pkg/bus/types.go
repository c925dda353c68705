package bus

import (
	"context"
	"encoding/json"
	"time"
)

// Kind tags the payload type carried by an Envelope.
type Kind string

// Envelope is one addressed message travelling through the bus.
type Envelope struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	Sender  string          `json:"sender"`
	Target  string          `json:"target"`
	Session string          `json:"session"`
	SentAt  time.Time       `json:"sent_at"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DeliverFunc hands an outbound envelope to whatever owns the target address.
type DeliverFunc func(context.Context, Envelope) error
