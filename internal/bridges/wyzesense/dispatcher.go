package wyzesense

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Poppeseed/wyzesense-mqtt/internal/dongle"
)

// macLength is the number of characters in a sensor MAC.
const macLength = 8

// Gateway is the part of the dongle the administrative commands use.
// *dongle.Dongle satisfies this interface.
type Gateway interface {
	List(ctx context.Context) ([]string, error)
	Scan(ctx context.Context) (*dongle.ScanResult, error)
	Delete(ctx context.Context, mac string) error
}

// DispatcherOptions holds the dependencies of a Dispatcher.
type DispatcherOptions struct {
	// Gateway is the open dongle. Required.
	Gateway Gateway

	// Out receives the console output. Defaults to io.Discard.
	Out io.Writer

	// Logger is optional. Every console line is also logged at debug level.
	Logger Logger
}

// Dispatcher runs the administrative sensor commands.
type Dispatcher struct {
	gateway Gateway
	out     io.Writer
	logger  Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Gateway == nil {
		return nil, ErrGatewayRequired
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	return &Dispatcher{
		gateway: opts.Gateway,
		out:     out,
		logger:  opts.Logger,
	}, nil
}

// List prints the paired sensors in gateway order.
func (d *Dispatcher) List(ctx context.Context) error {
	macs, err := d.gateway.List(ctx)
	if err != nil {
		return fmt.Errorf("listing sensors: %w", err)
	}

	d.say("%d sensor paired:", len(macs))
	for _, mac := range macs {
		d.say("\tSensor: %s", mac)
	}
	return nil
}

// Pair waits for one sensor to request pairing.
// Finding no sensor before the scan timeout is not an error.
func (d *Dispatcher) Pair(ctx context.Context) error {
	result, err := d.gateway.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scanning for sensors: %w", err)
	}

	if result == nil {
		d.say("No sensor found!")
		return nil
	}

	d.say("Sensor found: mac=%s, type=%d, version=%d", result.MAC, result.Type, result.Version)
	return nil
}

// Unpair removes each sensor in order.
//
// Entries that are not 8 characters long are reported and skipped. A failed
// removal is reported and the remaining sensors are still processed; all
// failures are returned joined.
func (d *Dispatcher) Unpair(ctx context.Context, macs []string) error {
	var errs []error

	for _, mac := range macs {
		if len(mac) != macLength {
			d.say("Invalid mac address, must be 8 characters: %s", mac)
			d.logWarn("skipping invalid mac", "mac", mac)
			continue
		}

		d.say("Un-pairing sensor %s:", mac)
		if err := d.gateway.Delete(ctx, mac); err != nil {
			d.say("Failed to remove sensor %s: %v", mac, err)
			errs = append(errs, fmt.Errorf("removing sensor %s: %w", mac, err))
			continue
		}
		d.say("Sensor %s removed", mac)
	}

	return errors.Join(errs...)
}

// say writes one console line and mirrors it to the debug log.
func (d *Dispatcher) say(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	fmt.Fprintln(d.out, line)
	if d.logger != nil {
		d.logger.Debug(line)
	}
}

func (d *Dispatcher) logWarn(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, keysAndValues...)
	}
}
