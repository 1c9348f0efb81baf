// Package mqtt adapts an MQTT broker into a transport.Transport: each
// overlay channel name is an MQTT topic, and payloads travel as the
// spec's UTF-8 JSON packets rather than base64-wrapped binary frames.
package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/overlaymesh/router/transport"
)

var _ transport.Transport = (*Transport)(nil)

// Config holds the configuration for an MQTT transport.
type Config struct {
	// Broker is the MQTT broker URL (e.g. "tcp://broker.example.com:1883").
	Broker string
	// Username/Password for MQTT authentication. Leave empty if not required.
	Username, Password string
	// UseTLS enables TLS for the MQTT connection.
	UseTLS bool
	// ClientID is the MQTT client identifier. If empty, a random one is generated.
	ClientID string
	// TopicPrefix namespaces overlay channels within the broker (default: "overlaynode").
	TopicPrefix string
	// Channel is this node's own channel name; the transport subscribes to
	// "{TopicPrefix}/{Channel}" to receive inbound packets.
	Channel string
	// Logger defaults to slog.Default() when nil.
	Logger *slog.Logger
}

const defaultTopicPrefix = "overlaynode"

// Transport implements transport.Transport over MQTT.
type Transport struct {
	cfg    Config
	log    *slog.Logger
	client paho.Client

	mu        sync.RWMutex
	connected bool
	recv      chan transport.Message
}

// New constructs an MQTT transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = defaultTopicPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transport{
		cfg:  cfg,
		log:  cfg.Logger.WithGroup("mqtt"),
		recv: make(chan transport.Message, 64),
	}
}

func (t *Transport) topicFor(channel string) string {
	return t.cfg.TopicPrefix + "/" + channel
}

// Connect dials the broker, subscribes to this node's own topic, and blocks
// until the connection is established or fails.
func (t *Transport) Connect(ctx context.Context) error {
	if t.cfg.Broker == "" {
		return errors.New("mqtt: broker URL is required")
	}
	if t.cfg.Channel == "" {
		return errors.New("mqtt: channel is required")
	}

	clientID := t.cfg.ClientID
	if clientID == "" {
		clientID = "overlaynode-" + randomString(16)
	}

	opts := paho.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetOnConnectHandler(t.onConnected).
		SetConnectionLostHandler(t.onConnectionLost)

	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
	}
	if t.cfg.Password != "" {
		opts.SetPassword(t.cfg.Password)
	}
	if t.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	t.client = paho.NewClient(opts)

	token := t.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return errors.New("mqtt: connection timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("mqtt: connecting to broker: %w", token.Error())
	}
	return nil
}

// Close gracefully disconnects from the broker and closes the receive
// stream.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		t.client.Disconnect(1000)
		t.connected = false
	}
	close(t.recv)
	return nil
}

// Publish publishes payload to channel's MQTT topic at QoS 0.
func (t *Transport) Publish(ctx context.Context, channel string, payload []byte) error {
	if !t.isConnected() {
		return errors.New("mqtt: not connected")
	}
	token := t.client.Publish(t.topicFor(channel), 0, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("mqtt: timeout publishing")
	}
	return token.Error()
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

// Receive returns the stream of payloads delivered to this node's own topic.
func (t *Transport) Receive() <-chan transport.Message {
	return t.recv
}

func (t *Transport) isConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected && t.client != nil && t.client.IsConnected()
}

func (t *Transport) onConnected(c paho.Client) {
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()

	topic := t.topicFor(t.cfg.Channel)
	c.Subscribe(topic, 0, t.handleMessage)
	t.log.Debug("subscribed", "topic", topic)
}

func (t *Transport) onConnectionLost(c paho.Client, err error) {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	t.log.Warn("connection lost", "error", err)
}

func (t *Transport) handleMessage(_ paho.Client, msg paho.Message) {
	select {
	case t.recv <- transport.Message{Channel: t.cfg.Channel, Payload: msg.Payload()}:
	default:
		t.log.Warn("receive queue full, dropping inbound message")
	}
}

func randomString(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
