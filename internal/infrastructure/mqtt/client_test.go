package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Poppeseed/wyzesense-mqtt/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host: "127.0.0.1",
			Port: 1883,
		},
		KeepAlive:      60,
		ConnectTimeout: 1,
	}
}

// =============================================================================
// Fake paho client
// =============================================================================

type fakeToken struct {
	done chan struct{}
	err  error
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func newPendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakePublish struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

type fakePahoClient struct {
	mu            sync.Mutex
	opts          *pahomqtt.ClientOptions
	connectErr    error
	skipOnConnect bool
	publishErr    error
	connected     bool
	published     []fakePublish
	disconnected  bool
}

func (f *fakePahoClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePahoClient) IsConnectionOpen() bool { return f.IsConnected() }

func (f *fakePahoClient) Connect() pahomqtt.Token {
	if f.connectErr != nil {
		return newFakeToken(f.connectErr)
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	if !f.skipOnConnect && f.opts.OnConnect != nil {
		go f.opts.OnConnect(f)
	}
	return newFakeToken(nil)
}

func (f *fakePahoClient) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnected = true
}

func (f *fakePahoClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, _ := payload.([]byte)
	f.published = append(f.published, fakePublish{Topic: topic, QoS: qos, Retained: retained, Payload: data})
	return newFakeToken(f.publishErr)
}

func (f *fakePahoClient) Subscribe(string, byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return newFakeToken(nil)
}

func (f *fakePahoClient) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return newFakeToken(nil)
}

func (f *fakePahoClient) Unsubscribe(...string) pahomqtt.Token { return newFakeToken(nil) }

func (f *fakePahoClient) AddRoute(string, pahomqtt.MessageHandler) {}

func (f *fakePahoClient) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

func (f *fakePahoClient) getPublished() []fakePublish {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakePublish(nil), f.published...)
}

// useFakeClient installs fake as the paho client for the duration of the test.
func useFakeClient(t *testing.T, fake *fakePahoClient) {
	t.Helper()
	orig := newPahoClient
	newPahoClient = func(o *pahomqtt.ClientOptions) pahomqtt.Client {
		fake.opts = o
		return fake
	}
	t.Cleanup(func() { newPahoClient = orig })
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	fake := &fakePahoClient{}
	useFakeClient(t, fake)

	client, err := Connect(context.Background(), testConfig(), GatewayClientID("77A2B3C4"))
	require.NoError(t, err)
	defer client.Close()

	assert.True(t, client.IsConnected())
	assert.Equal(t, "wyze-mqtt-77A2B3C4", client.ClientID())
}

func TestConnect_ConfiguredClientIDWins(t *testing.T) {
	fake := &fakePahoClient{}
	useFakeClient(t, fake)

	cfg := testConfig()
	cfg.Broker.ClientID = "custom-id"

	client, err := Connect(context.Background(), cfg, GatewayClientID("77A2B3C4"))
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, "custom-id", client.ClientID())
}

func TestConnect_Failure(t *testing.T) {
	fake := &fakePahoClient{connectErr: errors.New("connection refused")}
	useFakeClient(t, fake)

	_, err := Connect(context.Background(), testConfig(), "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestConnect_NoConfirmation(t *testing.T) {
	fake := &fakePahoClient{skipOnConnect: true}
	useFakeClient(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Connect(ctx, testConfig(), "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.True(t, fake.disconnected, "client should be torn down after a failed wait")
}

func TestClose(t *testing.T) {
	fake := &fakePahoClient{}
	useFakeClient(t, fake)

	client, err := Connect(context.Background(), testConfig(), "test")
	require.NoError(t, err)

	require.NoError(t, client.Close())
	assert.False(t, client.IsConnected())
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	assert.NoError(t, client.Close())
	assert.False(t, client.IsConnected())
}

func TestConnectionLost(t *testing.T) {
	fake := &fakePahoClient{}
	useFakeClient(t, fake)

	client, err := Connect(context.Background(), testConfig(), "test")
	require.NoError(t, err)

	lost := make(chan error, 1)
	client.SetOnDisconnect(func(err error) { lost <- err })

	fake.Disconnect(0)
	fake.opts.OnConnectionLost(fake, errors.New("broker went away"))

	select {
	case err := <-lost:
		assert.EqualError(t, err, "broker went away")
	case <-time.After(time.Second):
		t.Fatal("disconnect callback not invoked")
	}
	assert.False(t, client.IsConnected())
	assert.ErrorIs(t, client.Publish("wyzesense/x/update", []byte("{}"), 0, false), ErrNotConnected)
}

// =============================================================================
// HealthCheck Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	fake := &fakePahoClient{}
	useFakeClient(t, fake)

	client, err := Connect(context.Background(), testConfig(), "test")
	require.NoError(t, err)

	assert.NoError(t, client.HealthCheck(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, client.HealthCheck(ctx))

	client.Close()
	assert.ErrorIs(t, client.HealthCheck(context.Background()), ErrNotConnected)
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestPublish_FireAndForget(t *testing.T) {
	fake := &fakePahoClient{}
	useFakeClient(t, fake)

	client, err := Connect(context.Background(), testConfig(), "test")
	require.NoError(t, err)
	defer client.Close()

	results := make(chan error, 1)
	client.SetOnPublish(func(topic string, err error) {
		assert.Equal(t, "wyzesense/77A2B3C4/update", topic)
		results <- err
	})

	err = client.Publish("wyzesense/77A2B3C4/update", []byte(`{"state":"open"}`), 0, false)
	require.NoError(t, err)

	select {
	case err := <-results:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publish callback not invoked")
	}

	published := fake.getPublished()
	require.Len(t, published, 1)
	assert.Equal(t, byte(0), published[0].QoS)
	assert.False(t, published[0].Retained)
	assert.JSONEq(t, `{"state":"open"}`, string(published[0].Payload))
}

func TestPublish_ErrorReportedToCallback(t *testing.T) {
	fake := &fakePahoClient{publishErr: errors.New("write failed")}
	useFakeClient(t, fake)

	client, err := Connect(context.Background(), testConfig(), "test")
	require.NoError(t, err)
	defer client.Close()

	results := make(chan error, 1)
	client.SetOnPublish(func(_ string, err error) { results <- err })

	// The call itself succeeds; the failure arrives asynchronously.
	require.NoError(t, client.Publish("wyzesense/x/update", []byte("{}"), 0, false))

	select {
	case err := <-results:
		assert.ErrorIs(t, err, ErrPublishFailed)
	case <-time.After(time.Second):
		t.Fatal("publish callback not invoked")
	}
}

func TestAwaitPublish_Timeout(t *testing.T) {
	client := &Client{}
	results := make(chan error, 1)
	client.SetOnPublish(func(_ string, err error) { results <- err })

	go client.awaitPublish("wyzesense/x/update", newPendingToken())

	select {
	case err := <-results:
		assert.ErrorIs(t, err, ErrPublishFailed)
	case <-time.After(defaultPublishTimeout + 2*time.Second):
		t.Fatal("timeout not reported")
	}
}

func TestPublish_Validation(t *testing.T) {
	fake := &fakePahoClient{}
	useFakeClient(t, fake)

	client, err := Connect(context.Background(), testConfig(), "test")
	require.NoError(t, err)
	defer client.Close()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{name: "empty topic", topic: "", payload: []byte("{}"), qos: 0, wantErr: ErrInvalidTopic},
		{name: "invalid qos", topic: "t", payload: []byte("{}"), qos: 3, wantErr: ErrInvalidQoS},
		{name: "payload too large", topic: "t", payload: make([]byte, maxPayloadSize+1), qos: 0, wantErr: ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Empty(t, fake.getPublished())
}

func TestPublish_NotConnected(t *testing.T) {
	client := &Client{}
	err := client.Publish("wyzesense/x/update", []byte("{}"), 0, false)
	assert.ErrorIs(t, err, ErrNotConnected)
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "wyze"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg, "wyze-mqtt-77A2B3C4", 7*time.Second)

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://127.0.0.1:1883", opts.Servers[0].String())
	assert.Equal(t, "wyze-mqtt-77A2B3C4", opts.ClientID)
	assert.Equal(t, "wyze", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	assert.True(t, opts.CleanSession)
	assert.Equal(t, uint(4), opts.ProtocolVersion)
	assert.False(t, opts.AutoReconnect)
	assert.False(t, opts.ConnectRetry)
	assert.Equal(t, int64(60), opts.KeepAlive)
	assert.Equal(t, 7*time.Second, opts.ConnectTimeout)
	assert.Nil(t, opts.TLSConfig)
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg, "id", time.Second)

	assert.Equal(t, "ssl://127.0.0.1:8883", opts.Servers[0].String())
	require.NotNil(t, opts.TLSConfig)
	assert.Equal(t, uint16(tlsMinVersion), opts.TLSConfig.MinVersion)
	assert.Empty(t, opts.Username, "no credentials configured")
}

func TestGatewayClientID(t *testing.T) {
	assert.Equal(t, "wyze-mqtt-AABBCCDD", GatewayClientID("AABBCCDD"))
}
