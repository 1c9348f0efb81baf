// Package transport defines the pub/sub capability the core consumes
// (spec.md §4 item 3, §6). It is a thin boundary: concrete adapters live in
// subpackages (memory, mqtt, redis); nothing in state, routing, or
// forwarding imports a concrete adapter.
package transport

import "context"

// Message is a payload delivered to the local node's channel.
type Message struct {
	Channel string
	Payload []byte
}

// Transport is a bus that routes payloads by opaque channel name.
type Transport interface {
	// Connect establishes the underlying connection. It must be safe to call
	// once before any Publish/Broadcast/Receive use.
	Connect(ctx context.Context) error

	// Close tears down the connection. Safe to call after Connect failed.
	Close() error

	// Publish is a best-effort send to a single channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Broadcast fans payload out to all of channels concurrently. It must
	// not reorder relative to the caller beyond what concurrent delivery
	// implies (spec.md §6).
	Broadcast(ctx context.Context, channels []string, payload []byte) error

	// Receive returns the stream of payloads delivered to this node's own
	// channel. The channel is closed when the transport is closed.
	Receive() <-chan Message
}
