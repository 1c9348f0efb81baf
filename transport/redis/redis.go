// Package redis adapts a Redis pub/sub connection into a transport.Transport,
// a direct port of the original implementation's redis.asyncio-based
// transport (channel-per-node, JSON payloads, concurrent broadcast).
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/overlaymesh/router/transport"
)

var _ transport.Transport = (*Transport)(nil)

// Settings configures the Redis connection.
type Settings struct {
	Host     string
	Port     int
	Password string
	DB       int

	SocketTimeout        time.Duration
	HealthCheckInterval  time.Duration
}

func (s Settings) addr() string {
	if s.Port == 0 {
		s.Port = 6379
	}
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Transport implements transport.Transport over a Redis pub/sub connection,
// subscribed to exactly one channel (the node's own).
type Transport struct {
	settings  Settings
	myChannel string
	log       *slog.Logger

	client *goredis.Client
	pubsub *goredis.PubSub

	mu     sync.Mutex
	closed bool
	recv   chan transport.Message
}

// New constructs a Redis transport bound to myChannel.
func New(settings Settings, myChannel string, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		settings:  settings,
		myChannel: myChannel,
		log:       logger.WithGroup("redis"),
		recv:      make(chan transport.Message, 64),
	}
}

// ChannelName builds the "section.topo.node" channel naming convention used
// by this overlay's Redis deployments.
func ChannelName(section, topo, node string) string {
	return section + "." + topo + "." + node
}

// Connect dials Redis, pings it, and subscribes to myChannel.
func (t *Transport) Connect(ctx context.Context) error {
	t.client = goredis.NewClient(&goredis.Options{
		Addr:            t.settings.addr(),
		Password:        t.settings.Password,
		DB:              t.settings.DB,
		DialTimeout:     t.settings.SocketTimeout,
		ReadTimeout:     t.settings.SocketTimeout,
		WriteTimeout:    t.settings.SocketTimeout,
	})

	if err := t.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	t.log.Info("connected", "addr", t.settings.addr())

	t.pubsub = t.client.Subscribe(ctx, t.myChannel)
	if _, err := t.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis: subscribe %q: %w", t.myChannel, err)
	}
	t.log.Info("subscribed", "channel", t.myChannel)

	go t.readLoop(ctx)
	return nil
}

func (t *Transport) readLoop(ctx context.Context) {
	ch := t.pubsub.Channel()
	for msg := range ch {
		select {
		case t.recv <- transport.Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
		default:
			t.log.Warn("receive queue full, dropping inbound message")
		}
	}
}

// Close unsubscribes, closes the pubsub connection, and closes the client.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	if t.pubsub != nil {
		if err := t.pubsub.Unsubscribe(context.Background(), t.myChannel); err != nil {
			errs = append(errs, err)
		}
		if err := t.pubsub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if t.client != nil {
		if err := t.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	close(t.recv)
	t.log.Info("closed")
	return errors.Join(errs...)
}

// Publish publishes payload (already-encoded JSON) to channel.
func (t *Transport) Publish(ctx context.Context, channel string, payload []byte) error {
	if t.client == nil {
		return errors.New("redis: not connected")
	}
	if err := t.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %q: %w", channel, err)
	}
	return nil
}

// Broadcast publishes payload to every channel concurrently.
func (t *Transport) Broadcast(ctx context.Context, channels []string, payload []byte) error {
	var wg sync.WaitGroup
	errs := make([]error, len(channels))
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch string) {
			defer wg.Done()
			errs[i] = t.Publish(ctx, ch, payload)
		}(i, ch)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Receive returns the stream of payloads delivered to this node's channel.
func (t *Transport) Receive() <-chan transport.Message {
	return t.recv
}
