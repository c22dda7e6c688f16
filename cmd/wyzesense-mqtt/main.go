// wyzesense-mqtt - WyzeSense USB bridge to MQTT forwarder
//
// The bridge opens a WyzeSense USB dongle, reads sensor events from it and
// publishes every state change as JSON on wyzesense/{MAC}/update. The list,
// pair and unpair subcommands manage the sensors bound to the dongle.
//
// Exit codes:
//
//	0  normal shutdown
//	1  gateway handshake failed, invalid configuration or any other error
//	2  device not found or MQTT broker unreachable
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Poppeseed/wyzesense-mqtt/internal/dongle"
	"github.com/Poppeseed/wyzesense-mqtt/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Process exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitNotFound = 2
)

func main() {
	// Cancel on Ctrl+C and SIGTERM so the dongle is stopped cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newApp(os.Stdout).command().ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps the error returned by a command to the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, dongle.ErrDeviceNotFound):
		return exitNotFound
	case errors.Is(err, mqtt.ErrConnectionFailed):
		return exitNotFound
	case errors.Is(err, dongle.ErrOpenFailed):
		return exitFailure
	default:
		return exitFailure
	}
}
