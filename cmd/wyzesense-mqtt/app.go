package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Poppeseed/wyzesense-mqtt/internal/bridges/wyzesense"
	"github.com/Poppeseed/wyzesense-mqtt/internal/dongle"
	"github.com/Poppeseed/wyzesense-mqtt/internal/infrastructure/config"
	"github.com/Poppeseed/wyzesense-mqtt/internal/infrastructure/logging"
	"github.com/Poppeseed/wyzesense-mqtt/internal/infrastructure/mqtt"
)

// gateway is the opened dongle as the commands use it.
type gateway interface {
	wyzesense.Gateway
	Identity() dongle.Identity
	Stop()
}

// broker is the connected MQTT client as the bridge uses it.
type broker interface {
	wyzesense.Publisher
	ClientID() string
	HealthCheck(ctx context.Context) error
	SetLogger(logger mqtt.Logger)
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
	SetOnPublish(callback func(topic string, err error))
	Close() error
}

type gatewayOpener func(ctx context.Context, path string, onEvent func(dongle.Event), opts ...dongle.Option) (gateway, error)

type brokerConnector func(ctx context.Context, cfg config.MQTTConfig, clientID string) (broker, error)

func openDongle(ctx context.Context, path string, onEvent func(dongle.Event), opts ...dongle.Option) (gateway, error) {
	d, err := dongle.Open(ctx, path, onEvent, opts...)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func connectMQTT(ctx context.Context, cfg config.MQTTConfig, clientID string) (broker, error) {
	c, err := mqtt.Connect(ctx, cfg, clientID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// flags holds the raw command-line values.
type flags struct {
	debug       bool
	verbose     bool
	device      string
	configPath  string
	username    string
	password    string
	broker      string
	metricsAddr string
}

// app wires the commands to the gateway and the broker.
type app struct {
	out   io.Writer
	flags flags

	openGateway   gatewayOpener
	connectBroker brokerConnector
}

func newApp(out io.Writer) *app {
	return &app{
		out:           out,
		openGateway:   openDongle,
		connectBroker: connectMQTT,
	}
}

// loadConfig builds the configuration: defaults, YAML file, environment,
// then command-line flags.
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := a.flags.configPath
	if path == "" {
		path = os.Getenv("WYZESENSE_CONFIG")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := a.applyFlags(cmd.Flags(), cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyFlags overrides cfg with every flag set on the command line.
func (a *app) applyFlags(fs *pflag.FlagSet, cfg *config.Config) error {
	if fs.Changed("device") {
		cfg.Gateway.Device = a.flags.device
	}
	if fs.Changed("username") {
		cfg.MQTT.Auth.Username = a.flags.username
	}
	if fs.Changed("password") {
		cfg.MQTT.Auth.Password = a.flags.password
	}
	if level := logging.LevelFromFlags(a.flags.debug, a.flags.verbose); level != "" {
		cfg.Logging.Level = level
	}
	if fs.Changed("broker") {
		if err := cfg.MQTT.SetBroker(a.flags.broker); err != nil {
			return fmt.Errorf("--broker: %w", err)
		}
	}
	if fs.Changed("metrics-addr") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = a.flags.metricsAddr
	}
	return nil
}

// open opens the gateway and prints its identity.
func (a *app) open(ctx context.Context, cfg *config.Config, log *logging.Logger, onEvent func(dongle.Event)) (gateway, error) {
	device := cfg.Gateway.Device
	a.println("Opening wyzesense gateway [%s]", device)

	gw, err := a.openGateway(ctx, device, onEvent,
		dongle.WithLogger(log),
		dongle.WithCommandTimeout(cfg.GetCommandTimeout()),
		dongle.WithScanTimeout(cfg.GetScanTimeout()),
	)
	if err != nil {
		if errors.Is(err, dongle.ErrDeviceNotFound) {
			a.println("No device found on path %q", device)
		} else {
			a.println("Open wyzesense gateway failed")
		}
		return nil, err
	}

	id := gw.Identity()
	a.println("Gateway info:")
	a.println("\tMAC:%s", id.MAC)
	a.println("\tVER:%s", id.Version)
	a.println("\tENR:%s", hex.EncodeToString(id.ENR))

	return gw, nil
}

// runDispatcher opens the gateway, runs one administrative command and
// stops the gateway again.
func (a *app) runDispatcher(cmd *cobra.Command, fn func(context.Context, *wyzesense.Dispatcher) error) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Logging, version)
	ctx := cmd.Context()

	gw, err := a.open(ctx, cfg, log, nil)
	if err != nil {
		return err
	}
	defer gw.Stop()

	d, err := wyzesense.NewDispatcher(wyzesense.DispatcherOptions{
		Gateway: gw,
		Out:     a.out,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	return fn(ctx, d)
}

func (a *app) println(format string, args ...any) {
	fmt.Fprintf(a.out, format+"\n", args...)
}

// brokerSink lets the forwarder exist before the broker client does.
// Events that arrive before attach fail with mqtt.ErrNotConnected.
type brokerSink struct {
	mu  sync.RWMutex
	pub wyzesense.Publisher
}

func (s *brokerSink) attach(pub wyzesense.Publisher) {
	s.mu.Lock()
	s.pub = pub
	s.mu.Unlock()
}

func (s *brokerSink) Publish(topic string, payload []byte, qos byte, retained bool) error {
	s.mu.RLock()
	pub := s.pub
	s.mu.RUnlock()

	if pub == nil {
		return mqtt.ErrNotConnected
	}
	return pub.Publish(topic, payload, qos, retained)
}
