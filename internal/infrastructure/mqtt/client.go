package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-beacon/internal/infrastructure/config"
)

// Client is a beacon's connection to the Gray Logic broker.
//
// Besides publish and subscribe it owns the beacon's retained availability
// topic: "online" after every (re)connect, "offline" on Close and, through
// the broker's Last Will, after a crash.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are restored on reconnection.
type Client struct {
	client   pahomqtt.Client
	cfg      config.MQTTConfig
	beaconID string

	connected atomic.Bool

	// Subscriptions to restore after a reconnect, keyed by topic filter.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is the logging interface used by the client.
// It is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// paho invokes handlers from its own goroutines. A returned error is
// logged and does not affect acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker and announces beaconID as online.
//
// The broker holds a Last Will that marks the beacon offline if the
// connection drops without Close. Reconnection uses paho's exponential
// backoff between cfg.Reconnect.InitialDelay and MaxDelay.
//
// Returns ErrConnectionFailed if the first connection does not succeed
// within connectTimeout.
func Connect(cfg config.MQTTConfig, beaconID string) (*Client, error) {
	if beaconID == "" {
		return nil, fmt.Errorf("%w: beacon id is required", ErrConnectionFailed)
	}

	c := &Client{
		cfg:           cfg,
		beaconID:      beaconID,
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	if err := setWill(opts, beaconID, cfg.Broker.ClientID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.getLogger().Warn("MQTT reconnecting", "broker", cfg.Broker.Host, "beacon_id", beaconID)
	})

	c.client = pahomqtt.NewClient(opts)
	if err := wait(c.client.Connect(), connectTimeout); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously; mark the client usable now
	// so callers can subscribe straight after Connect returns.
	c.connected.Store(true)
	return c, nil
}

func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.restoreSubscriptions()
	c.announce(presenceOnline, "")

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions re-subscribes every tracked filter. It runs on the
// paho connect goroutine, so failures are logged rather than returned.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for topic, sub := range c.subscriptions {
		if err := wait(c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler)), operationTimeout); err != nil {
			c.getLogger().Error("MQTT resubscribe failed", "topic", topic, "error", err)
		}
	}
}

// announce publishes the retained availability message without waiting.
func (c *Client) announce(status, reason string) pahomqtt.Token {
	payload, err := presencePayload(status, reason, c.beaconID, c.cfg.Broker.ClientID)
	if err != nil {
		c.getLogger().Error("encoding availability", "error", err)
		return nil
	}
	return c.client.Publish(Topics{}.BeaconAvailability(c.beaconID), byte(c.cfg.QoS), true, payload) //nolint:gosec // QoS validated by config
}

// Close marks the beacon offline and disconnects. Closing a client that
// never connected is a no-op.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		if token := c.announce(presenceOffline, reasonShutdown); token != nil {
			token.WaitTimeout(operationTimeout)
		}
	}

	c.client.Disconnect(disconnectQuiesceMS)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.connected.Load() && c.client.IsConnected()
}

// SetOnConnect sets a callback invoked on the first connect and every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger. A nil logger discards output.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	if c.logger == nil {
		return noopLogger{}
	}
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho and recovers handler panics.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.getLogger().Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.getLogger().Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}

// wait blocks on token for at most d.
func wait(token pahomqtt.Token, d time.Duration) error {
	if !token.WaitTimeout(d) {
		return fmt.Errorf("%w after %v", ErrTimeout, d)
	}
	return token.Error()
}
