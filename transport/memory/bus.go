// Package memory provides an in-process fake pub/sub bus implementing
// transport.Transport, used by tests and single-process demos to drive
// forwarding and routing without real sockets.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/overlaymesh/router/transport"
)

// Bus is a shared registry of channels; each registered Transport owns
// exactly one channel and receives every Publish/Broadcast addressed to it.
type Bus struct {
	mu    sync.Mutex
	subs  map[string]chan transport.Message
	queue int
}

// NewBus constructs an empty Bus. queueDepth bounds each subscriber's
// buffered receive channel; 0 selects a reasonable default.
func NewBus(queueDepth int) *Bus {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Bus{subs: make(map[string]chan transport.Message), queue: queueDepth}
}

// Register creates a Transport bound to channel on this bus. Registering the
// same channel twice replaces the previous subscriber.
func (b *Bus) Register(channel string) *Transport {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan transport.Message, b.queue)
	b.subs[channel] = ch
	return &Transport{bus: b, channel: channel, recv: ch}
}

func (b *Bus) deliver(channel string, payload []byte) error {
	b.mu.Lock()
	ch, ok := b.subs[channel]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("memory: no subscriber for channel %q", channel)
	}
	select {
	case ch <- transport.Message{Channel: channel, Payload: payload}:
		return nil
	default:
		return fmt.Errorf("memory: subscriber for channel %q is full", channel)
	}
}

// Transport is a transport.Transport bound to one channel of a Bus.
type Transport struct {
	bus       *Bus
	channel   string
	recv      chan transport.Message
	connected bool
}

// Connect marks the transport ready to send and receive.
func (t *Transport) Connect(ctx context.Context) error {
	t.connected = true
	return nil
}

// Close deregisters the transport and closes its receive channel.
func (t *Transport) Close() error {
	t.bus.mu.Lock()
	delete(t.bus.subs, t.channel)
	t.bus.mu.Unlock()
	close(t.recv)
	t.connected = false
	return nil
}

// Publish delivers payload to channel's subscriber, if any.
func (t *Transport) Publish(ctx context.Context, channel string, payload []byte) error {
	return t.bus.deliver(channel, payload)
}

// Broadcast fans payload out to all channels concurrently.
func (t *Transport) Broadcast(ctx context.Context, channels []string, payload []byte) error {
	var wg sync.WaitGroup
	errs := make([]error, len(channels))
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch string) {
			defer wg.Done()
			errs[i] = t.bus.deliver(ch, payload)
		}(i, ch)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Receive returns this transport's inbound message stream.
func (t *Transport) Receive() <-chan transport.Message {
	return t.recv
}
