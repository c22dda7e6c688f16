package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Poppeseed/wyzesense-mqtt/internal/infrastructure/config"
)

// newPahoClient is swapped out in tests.
var newPahoClient = pahomqtt.NewClient

// Client wraps paho.mqtt.golang for the bridge.
//
// It provides a single connection attempt, fire-and-forget publishing and
// connection state callbacks. Automatic reconnection is deliberately off:
// when the broker connection drops the client stays disconnected and
// publishes fail until the process is restarted.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	// connectedCh is closed by the first OnConnect callback.
	connectedCh   chan struct{}
	connectedOnce sync.Once

	// Callbacks (optional, set via SetOnConnect/SetOnDisconnect/SetOnPublish).
	onConnect    func()
	onDisconnect func(err error)
	onPublish    func(topic string, err error)
	callbackMu   sync.RWMutex

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Connect establishes the broker connection and waits until it is confirmed.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS, keepalive)
//  2. Initiates a single connection attempt bounded by the connect timeout
//  3. Blocks until paho's OnConnect callback has fired or ctx is cancelled
//
// Parameters:
//   - ctx: Context bounding the wait for the connect confirmation
//   - cfg: MQTT configuration
//   - clientID: Client identifier, normally GatewayClientID(mac)
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrConnectionFailed if the attempt fails or times out
func Connect(ctx context.Context, cfg config.MQTTConfig, clientID string) (*Client, error) {
	if cfg.Broker.ClientID != "" {
		clientID = cfg.Broker.ClientID
	}
	connectTimeout := defaultConnectTimeout
	if cfg.ConnectTimeout > 0 {
		connectTimeout = time.Duration(cfg.ConnectTimeout) * time.Second
	}

	opts := buildClientOptions(cfg, clientID, connectTimeout)

	c := &Client{
		cfg:         cfg,
		options:     opts,
		connectedCh: make(chan struct{}),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = newPahoClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect callback runs on its own goroutine and may not have
	// executed yet.
	if err := c.WaitConnected(ctx, connectTimeout); err != nil {
		c.client.Disconnect(0)
		return nil, err
	}

	return c, nil
}

// WaitConnected blocks until the broker connection has been confirmed by
// the OnConnect callback, ctx is cancelled, or timeout elapses.
func (c *Client) WaitConnected(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.connectedCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: no connect confirmation after %v", ErrConnectionFailed, timeout)
	}
}

// handleConnect is called when the connection is established.
func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.connectedOnce.Do(func() { close(c.connectedCh) })

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if logger := c.getLogger(); logger != nil {
		logger.Error("MQTT connection lost, not reconnecting", "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// Close disconnects from the MQTT broker.
// In-flight publishes get a short quiesce period and are not waited for
// beyond it.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// ClientID returns the identifier the client connected with.
func (c *Client) ClientID() string {
	return c.options.ClientID
}

// SetOnConnect sets a callback to be invoked when the connection is established.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback to be invoked when the connection is lost.
// The error parameter describes why the connection was lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetOnPublish sets a callback receiving the outcome of every publish.
// err is nil when paho reports the message as sent.
func (c *Client) SetOnPublish(callback func(topic string, err error)) {
	c.callbackMu.Lock()
	c.onPublish = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for connection and publish logging.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
