package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Poppeseed/wyzesense-mqtt/internal/dongle"
	"github.com/Poppeseed/wyzesense-mqtt/internal/infrastructure/config"
	"github.com/Poppeseed/wyzesense-mqtt/internal/infrastructure/mqtt"
)

// fakeGateway implements gateway for testing.
type fakeGateway struct {
	mu      sync.Mutex
	sensors []string
	deleted []string
	stopped bool
}

func (g *fakeGateway) Identity() dongle.Identity {
	return dongle.Identity{MAC: "77A2B3C4", Version: "0.0.0.30", ENR: []byte{0xDE, 0xAD}}
}

func (g *fakeGateway) List(context.Context) ([]string, error) { return g.sensors, nil }

func (g *fakeGateway) Scan(context.Context) (*dongle.ScanResult, error) { return nil, nil }

func (g *fakeGateway) Delete(_ context.Context, mac string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, mac)
	return nil
}

func (g *fakeGateway) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
}

func (g *fakeGateway) isStopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}

// fakeBroker implements broker for testing.
type fakeBroker struct {
	mu        sync.Mutex
	published []string
	closed    bool
}

func (b *fakeBroker) Publish(topic string, _ []byte, _ byte, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, topic)
	return nil
}

func (b *fakeBroker) ClientID() string { return "wyze-mqtt-77A2B3C4" }
func (b *fakeBroker) HealthCheck(context.Context) error { return nil }
func (b *fakeBroker) SetLogger(mqtt.Logger) {}
func (b *fakeBroker) SetOnConnect(func()) {}
func (b *fakeBroker) SetOnDisconnect(func(error)) {}
func (b *fakeBroker) SetOnPublish(func(string, error)) {}

func (b *fakeBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBroker) topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.published...)
}

func (b *fakeBroker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type harness struct {
	app      *app
	out      *bytes.Buffer
	gw       *fakeGateway
	broker   *fakeBroker
	openErr  error
	connErr  error
	onEvent  chan func(dongle.Event)
	openPath string
	clientID string
	mqttCfg  config.MQTTConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("WYZESENSE_CONFIG", "")
	t.Setenv("WYZESENSE_MQTT_HOST", "")

	h := &harness{
		out:     &bytes.Buffer{},
		gw:      &fakeGateway{},
		broker:  &fakeBroker{},
		onEvent: make(chan func(dongle.Event), 1),
	}
	h.app = newApp(h.out)
	h.app.openGateway = func(_ context.Context, path string, onEvent func(dongle.Event), _ ...dongle.Option) (gateway, error) {
		h.openPath = path
		if h.openErr != nil {
			return nil, h.openErr
		}
		h.onEvent <- onEvent
		return h.gw, nil
	}
	h.app.connectBroker = func(_ context.Context, cfg config.MQTTConfig, clientID string) (broker, error) {
		h.mqttCfg = cfg
		h.clientID = clientID
		if h.connErr != nil {
			return nil, h.connErr
		}
		return h.broker, nil
	}
	return h
}

func (h *harness) execute(ctx context.Context, args ...string) error {
	cmd := h.app.command()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"device not found", fmt.Errorf("%w: /dev/hidraw9: no such file", dongle.ErrDeviceNotFound), 2},
		{"handshake failed", fmt.Errorf("%w: inquiry: %w", dongle.ErrOpenFailed, dongle.ErrTimeout), 1},
		{"broker unreachable", fmt.Errorf("%w: connection refused", mqtt.ErrConnectionFailed), 2},
		{"config", config.ErrBrokerRequired, 1},
		{"generic", errors.New("boom"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestList(t *testing.T) {
	h := newHarness(t)
	h.gw.sensors = []string{"AAAAAAAA", "BBBBBBBB"}

	require.NoError(t, h.execute(context.Background(), "list", "--device", "/dev/hidraw3"))

	assert.Equal(t, "/dev/hidraw3", h.openPath)
	assert.Equal(t, "Opening wyzesense gateway [/dev/hidraw3]\n"+
		"Gateway info:\n"+
		"\tMAC:77A2B3C4\n"+
		"\tVER:0.0.0.30\n"+
		"\tENR:dead\n"+
		"2 sensor paired:\n"+
		"\tSensor: AAAAAAAA\n"+
		"\tSensor: BBBBBBBB\n", h.out.String())
	assert.True(t, h.gw.isStopped())
}

func TestPair_NoSensor(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.execute(context.Background(), "pair"))
	assert.Equal(t, config.DefaultDevice, h.openPath)
	assert.Contains(t, h.out.String(), "No sensor found!\n")
}

func TestUnpair(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.execute(context.Background(), "unpair", "AAAAAAAA", "bad", "BBBBBBBB"))
	assert.Equal(t, []string{"AAAAAAAA", "BBBBBBBB"}, h.gw.deleted)
	assert.Contains(t, h.out.String(), "Invalid mac address, must be 8 characters: bad\n")
}

func TestUnpair_RequiresArgs(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.execute(context.Background(), "unpair"))
}

func TestDeviceNotFound(t *testing.T) {
	h := newHarness(t)
	h.openErr = fmt.Errorf("%w: /dev/hidraw0: no such file or directory", dongle.ErrDeviceNotFound)

	err := h.execute(context.Background(), "list")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
	assert.Contains(t, h.out.String(), `No device found on path "/dev/hidraw0"`)
}

func TestOpenFailed(t *testing.T) {
	h := newHarness(t)
	h.openErr = fmt.Errorf("%w: inquiry: %w", dongle.ErrOpenFailed, dongle.ErrTimeout)

	err := h.execute(context.Background(), "--broker", "127.0.0.1")
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(err))
	assert.Contains(t, h.out.String(), "Open wyzesense gateway failed")
}

func TestBridge_RequiresBroker(t *testing.T) {
	h := newHarness(t)

	err := h.execute(context.Background())
	assert.ErrorIs(t, err, config.ErrBrokerRequired)
	assert.Equal(t, 1, exitCode(err))
	assert.Empty(t, h.openPath)
}

func TestBridge_BrokerUnreachable(t *testing.T) {
	h := newHarness(t)
	h.connErr = fmt.Errorf("%w: connection refused", mqtt.ErrConnectionFailed)

	err := h.execute(context.Background(), "--broker", "127.0.0.1")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
	assert.Contains(t, h.out.String(), "connecting to mqtt\n")
	assert.Contains(t, h.out.String(), "Unable to connect to mqtt broker @ 127.0.0.1:1883\n")
	assert.True(t, h.gw.isStopped())
}

func TestBridge_ForwardsUntilCancelled(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- h.execute(ctx, "--broker", "broker.local:2883", "--username", "u", "--password", "p")
	}()

	var onEvent func(dongle.Event)
	select {
	case onEvent = <-h.onEvent:
	case <-time.After(2 * time.Second):
		t.Fatal("gateway not opened")
	}

	ev := dongle.Event{
		MAC:  "11112222",
		Kind: dongle.KindState,
		State: &dongle.StateData{
			SensorType: "switch",
			State:      "open",
			Battery:    95,
			Signal:     60,
		},
	}

	// Events before the broker is attached are dropped, so keep sending.
	require.Eventually(t, func() bool {
		onEvent(ev)
		return len(h.broker.topics()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop")
	}

	assert.Equal(t, "wyzesense/11112222/update", h.broker.topics()[0])
	assert.Equal(t, "wyze-mqtt-77A2B3C4", h.clientID)
	assert.Equal(t, "broker.local", h.mqttCfg.Broker.Host)
	assert.Equal(t, 2883, h.mqttCfg.Broker.Port)
	assert.Equal(t, "u", h.mqttCfg.Auth.Username)
	assert.Equal(t, "p", h.mqttCfg.Auth.Password)
	assert.True(t, h.gw.isStopped())
	assert.True(t, h.broker.isClosed())
}

func TestApplyFlags(t *testing.T) {
	h := newHarness(t)
	cmd := h.app.command()
	require.NoError(t, cmd.ParseFlags([]string{
		"-d", "-v",
		"--device", "/dev/hidraw7",
		"--broker", "10.0.0.2:1884",
		"--metrics-addr", ":9200",
	}))

	cfg, err := h.app.loadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, "/dev/hidraw7", cfg.Gateway.Device)
	assert.Equal(t, "10.0.0.2", cfg.MQTT.Broker.Host)
	assert.Equal(t, 1884, cfg.MQTT.Broker.Port)
	assert.Equal(t, "trace", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9200", cfg.Metrics.Listen)
}

func TestApplyFlags_Defaults(t *testing.T) {
	h := newHarness(t)
	cmd := h.app.command()
	require.NoError(t, cmd.ParseFlags(nil))

	cfg, err := h.app.loadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultDevice, cfg.Gateway.Device)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Empty(t, cfg.MQTT.Broker.Host)
}

func TestApplyFlags_InvalidBroker(t *testing.T) {
	h := newHarness(t)
	cmd := h.app.command()
	require.NoError(t, cmd.ParseFlags([]string{"--broker", "host:notaport"}))

	_, err := h.app.loadConfig(cmd)
	assert.Error(t, err)
}
