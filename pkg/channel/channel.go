// Package channel defines the transport adapter contract and the address
// scheme used to route replies back to a channel.
package channel

import (
	"context"
	"strings"

	"chatrelay/pkg/bus"
)

// Submitter accepts inbound envelopes on behalf of the agent. It assigns a
// session token when the envelope has none and returns the submitted envelope.
type Submitter interface {
	Submit(ctx context.Context, env bus.Envelope) (bus.Envelope, error)
}

// Adapter bridges one external transport (for example Telegram) into the relay.
//
// Every address the adapter uses as a sender is prefixed with Name()+":" so
// that replies routed through the bus reach Deliver.
type Adapter interface {
	Name() string
	Run(context.Context, Submitter) error
	Deliver(context.Context, bus.Envelope) error
}

// Address joins a channel name and a channel-local id.
func Address(channelName string, id string) string {
	return strings.TrimSpace(channelName) + ":" + strings.TrimSpace(id)
}

// ParseAddress splits an address produced by Address.
func ParseAddress(address string) (channelName string, id string, ok bool) {
	channelName, id, ok = strings.Cut(address, ":")
	if !ok || channelName == "" || id == "" {
		return "", "", false
	}

	return channelName, id, true
}

// RoutePrefix is the bus route prefix owned by adapter.
func RoutePrefix(adapter Adapter) string {
	return adapter.Name() + ":"
}
