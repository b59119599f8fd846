package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/voice-bridge/internal/infrastructure/config"
)

// Client is the bridge's broker connection. It remembers its subscriptions
// and re-issues them after every reconnect, and it recovers panics in
// message handlers so one bad payload cannot take the process down.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	paho pahomqtt.Client
	cfg  config.MQTTConfig

	mu        sync.RWMutex
	connected bool
	subs      map[string]subscription
	hooks     hooks
}

// hooks are the optional observers set after Connect.
type hooks struct {
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Logger is the logging surface used by the client. *logging.Logger and
// *slog.Logger satisfy it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one message. Paho calls handlers from its own
// goroutines, so they must not block for long. A returned error is logged;
// the message is acknowledged either way.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker and waits up to defaultConnectTimeout for the
// first CONNACK.
//
// After a successful Connect, paho reconnects on its own with exponential
// backoff between reconnect.initial_delay and reconnect.max_delay, and every
// tracked subscription is re-issued on each reconnect.
//
// Parameters:
//   - cfg: Broker address, credentials, TLS, keepalive and reconnect settings
//   - will: Registered as the retained Last Will when non-nil; the bridge
//     passes the "offline" health message for iot/server/health
//
// Returns:
//   - *Client: Connected client
//   - error: ErrConnectionFailed wrapping the broker or timeout error
func Connect(cfg config.MQTTConfig, will *Will) (*Client, error) {
	opts := buildClientOptions(cfg)
	configureLWT(opts, will)

	c := &Client{
		cfg:  cfg,
		subs: make(map[string]subscription),
	}
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })

	c.paho = pahomqtt.NewClient(opts)
	if err := await(c.paho.Connect(), defaultConnectTimeout, ErrConnectionFailed); err != nil {
		return nil, err
	}

	// The paho OnConnect handler runs asynchronously; do not wait for it.
	c.setConnected(true)
	return c, nil
}

// await waits for token and wraps a timeout or failure in sentinel.
func await(token pahomqtt.Token, timeout time.Duration, sentinel error) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: timeout after %v", sentinel, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) currentHooks() hooks {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hooks
}

// handleConnect runs on the initial connection and on every reconnect.
func (c *Client) handleConnect() {
	c.setConnected(true)
	c.restoreSubscriptions()

	if cb := c.currentHooks().onConnect; cb != nil {
		cb()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)

	h := c.currentHooks()
	if h.logger != nil {
		h.logger.Warn("MQTT connection lost", "error", err)
	}
	if h.onDisconnect != nil {
		h.onDisconnect(err)
	}
}

// restoreSubscriptions re-issues every tracked subscription. Clean sessions
// mean the broker forgot them. Failures are picked up by the next reconnect.
func (c *Client) restoreSubscriptions() {
	c.mu.RLock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, sub := range c.subs {
		subs[topic] = sub
	}
	c.mu.RUnlock()

	for topic, sub := range subs {
		c.paho.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// Close disconnects after a short quiesce. A clean DISCONNECT suppresses the
// will, so publish any final status before calling Close.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	c.paho.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the broker link is currently up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.paho != nil && c.paho.IsConnected()
}

// SetOnConnect registers a callback for the initial connection and every
// reconnect. It runs on a paho goroutine after subscriptions are restored.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.hooks.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect registers a callback for lost connections.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.hooks.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets the logger for lost connections, handler errors and
// recovered panics. Without one they go unreported.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.hooks.logger = logger
	c.mu.Unlock()
}

// wrapHandler adapts handler to paho, logging its error and recovering panics.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.currentHooks().logger; logger != nil {
					logger.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.currentHooks().logger; logger != nil {
				logger.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
