// Package config handles loading and validating the bridge configuration.
//
// This package manages:
//   - Loading optional configuration from a YAML file
//   - Overriding with WYZESENSE_* environment variables
//   - Validation of value ranges
//   - Default value handling
//
// Command-line flags take precedence over everything loaded here; the CLI
// applies them to the returned Config before calling Validate.
//
// Security Considerations:
//   - The MQTT password should be set via WYZESENSE_MQTT_PASSWORD rather than
//     on the command line, where it is visible in the process list
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("/etc/wyzesense-mqtt.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := cfg.MQTT.SetBroker("192.168.1.10"); err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config
