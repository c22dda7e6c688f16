// Package logging provides structured logging for the WyzeSense bridge.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same handler, default fields and level filtering.
//
// # Features
//
//   - Text output for the console, JSON for log shippers
//   - Default fields (service, version) on all log entries
//   - An extra trace level below debug for raw dongle traffic
//   - Thread-safe for concurrent use
//
// # Levels
//
// The console stays quiet by default (warn). The CLI maps its flags onto
// the configured level:
//
//	--debug            -> debug
//	--debug --verbose  -> trace
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("gateway opened", "mac", id.MAC)
//	logger.Trace("packet received", "raw", hex)
//
// # Security
//
// Never log the MQTT password or the gateway key material in clear text.
package logging
