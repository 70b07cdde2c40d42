package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/devmgr/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the client reports through.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// hooks are the caller-supplied callbacks. They may be replaced at any time,
// including from inside paho's handler goroutines.
type hooks struct {
	mu           sync.RWMutex
	logger       Logger
	onConnect    func()
	onDisconnect func(error)
}

func (h *hooks) snapshot() (Logger, func(), func(error)) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.logger, h.onConnect, h.onDisconnect
}

// Client publishes registry events to an MQTT broker. It keeps a retained
// online/offline record on the status topic, with a broker-side will for
// crashes, and reconnects on its own after the first connect succeeds.
//
// All methods are safe for concurrent use.
type Client struct {
	cfg   config.MQTTConfig
	paho  pahomqtt.Client
	up    atomic.Bool
	hooks hooks
}

// Connect dials the broker named in cfg and waits up to
// defaultConnectTimeout for the session. Failures wrap ErrConnectionFailed.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg}

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) })
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, o *pahomqtt.ClientOptions) {
		if log, _, _ := c.hooks.snapshot(); log != nil {
			log.Warn("mqtt reconnecting", "broker", o.Servers)
		}
	})
	c.paho = pahomqtt.NewClient(opts)

	tok := c.paho.Connect()
	if !tok.WaitTimeout(defaultConnectTimeout) {
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: no answer within %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// paho runs the OnConnect handler on its own goroutine, possibly after
	// this return.
	c.up.Store(true)
	return c, nil
}

func (c *Client) connected() {
	c.up.Store(true)
	c.publishStatus(buildOnlinePayload(c.cfg.Broker.ClientID))
	if _, fn, _ := c.hooks.snapshot(); fn != nil {
		fn()
	}
}

func (c *Client) lost(err error) {
	c.up.Store(false)
	log, _, fn := c.hooks.snapshot()
	if log != nil {
		log.Warn("mqtt connection lost", "error", err)
	}
	if fn != nil {
		fn(err)
	}
}

// publishStatus sends a retained status record and returns without waiting.
func (c *Client) publishStatus(payload string) pahomqtt.Token {
	return c.paho.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, payload)
}

// Close announces a graceful shutdown, then disconnects. It is safe on a
// client that never connected.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		c.publishStatus(buildOfflinePayload(c.cfg.Broker.ClientID)).WaitTimeout(defaultPublishTimeout)
	}
	c.paho.Disconnect(defaultDisconnectQuiesce)
	c.up.Store(false)
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

// IsConnected reports whether the client believes the link is up and paho
// agrees.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.up.Load() && c.paho.IsConnected()
}

// SetOnConnect registers fn to run after every successful (re)connect.
func (c *Client) SetOnConnect(fn func()) {
	c.hooks.mu.Lock()
	c.hooks.onConnect = fn
	c.hooks.mu.Unlock()
}

// SetOnDisconnect registers fn to run when the link drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.hooks.mu.Lock()
	c.hooks.onDisconnect = fn
	c.hooks.mu.Unlock()
}

// SetLogger routes connection warnings to logger.
func (c *Client) SetLogger(logger Logger) {
	c.hooks.mu.Lock()
	c.hooks.logger = logger
	c.hooks.mu.Unlock()
}
