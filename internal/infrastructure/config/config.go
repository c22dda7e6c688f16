package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values shared with the CLI flag definitions.
const (
	// DefaultDevice is the hidraw node the WyzeSense dongle usually enumerates as.
	DefaultDevice = "/dev/hidraw0"

	// DefaultMQTTPort is the plain-text MQTT port.
	DefaultMQTTPort = 1883

	// DefaultKeepAlive is the MQTT keepalive in seconds.
	DefaultKeepAlive = 60

	// DefaultScanTimeout is how long Pair waits for a sensor, in seconds.
	DefaultScanTimeout = 60

	// DefaultMetricsListen is the metrics endpoint address when enabled.
	DefaultMetricsListen = ":9100"
)

// Config is the root configuration structure for the bridge.
// Values are loaded from optional YAML and can be overridden by environment
// variables and then by command-line flags.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// GatewayConfig contains settings for the USB bridge dongle.
type GatewayConfig struct {
	// Device is the hidraw device path.
	Device string `yaml:"device"`

	// ScanTimeout is the pairing scan window in seconds.
	ScanTimeout int `yaml:"scan_timeout"`

	// CommandTimeout is the per-command response timeout in seconds.
	CommandTimeout int `yaml:"command_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`

	// KeepAlive is the keepalive interval in seconds.
	KeepAlive int `yaml:"keepalive"`

	// ConnectTimeout bounds the initial connection attempt, in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`

	// ClientID overrides the client id derived from the gateway MAC.
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// Load builds the configuration.
//
// The loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values, when path is not empty
//  3. Environment variables (WYZESENSE_SECTION_KEY)
//
// Command-line flags are applied by the caller afterwards, followed by Validate.
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults only
//
// Returns:
//   - *Config: Loaded configuration
//   - error: If the file cannot be read or parsed
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a Config with the bridge defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Device:         DefaultDevice,
			ScanTimeout:    DefaultScanTimeout,
			CommandTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Port: DefaultMQTTPort,
			},
			KeepAlive:      DefaultKeepAlive,
			ConnectTimeout: 10,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Listen: DefaultMetricsListen,
			Path:   "/metrics",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: WYZESENSE_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("WYZESENSE_DEVICE"); v != "" {
		cfg.Gateway.Device = v
	}

	if v := os.Getenv("WYZESENSE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("WYZESENSE_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing WYZESENSE_MQTT_PORT: %w", err)
		}
		cfg.MQTT.Broker.Port = port
	}
	if v := os.Getenv("WYZESENSE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("WYZESENSE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("WYZESENSE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// Validate checks the configuration for errors.
// The broker host is not checked here because the administrative commands
// run without a broker; see RequireBroker.
//
// Returns:
//   - error: All validation failures joined, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Gateway.Device == "" {
		errs = append(errs, "gateway.device is required")
	}
	if c.Gateway.ScanTimeout < 1 {
		errs = append(errs, "gateway.scan_timeout must be at least 1 second")
	}
	if c.Gateway.CommandTimeout < 1 {
		errs = append(errs, "gateway.command_timeout must be at least 1 second")
	}

	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.KeepAlive < 1 {
		errs = append(errs, "mqtt.keepalive must be at least 1 second")
	}
	if c.MQTT.Auth.Password != "" && c.MQTT.Auth.Username == "" {
		errs = append(errs, "mqtt.auth.password requires mqtt.auth.username")
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ErrBrokerRequired is returned by RequireBroker when no broker is configured.
var ErrBrokerRequired = errors.New("config: broker address is required (--broker or mqtt.broker.host)")

// RequireBroker reports whether a broker host has been configured.
func (c *Config) RequireBroker() error {
	if c.MQTT.Broker.Host == "" {
		return ErrBrokerRequired
	}
	return nil
}

// SetBroker applies a --broker value of the form "host" or "host:port".
func (c *MQTTConfig) SetBroker(address string) error {
	host, port, err := ParseBrokerAddress(address, c.Broker.Port)
	if err != nil {
		return err
	}
	c.Broker.Host = host
	c.Broker.Port = port
	return nil
}

// ParseBrokerAddress splits "host" or "host:port" into its parts.
// defaultPort is used when the address carries no port.
func ParseBrokerAddress(address string, defaultPort int) (string, int, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", 0, fmt.Errorf("broker address is empty")
	}

	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		// No port present (or a bare IPv6 literal).
		return strings.Trim(address, "[]"), defaultPort, nil
	}
	if host == "" {
		return "", 0, fmt.Errorf("broker address %q has no host", address)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("broker address %q has invalid port", address)
	}

	return host, port, nil
}

// GetScanTimeout returns the pairing scan window as a Duration.
func (c *Config) GetScanTimeout() time.Duration {
	return time.Duration(c.Gateway.ScanTimeout) * time.Second
}

// GetCommandTimeout returns the dongle command timeout as a Duration.
func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.Gateway.CommandTimeout) * time.Second
}
