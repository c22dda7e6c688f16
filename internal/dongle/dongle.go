package dongle

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Timing defaults.
const (
	// DefaultCommandTimeout bounds the wait for a command response.
	DefaultCommandTimeout = 5 * time.Second

	// DefaultScanTimeout bounds how long Scan waits for a sensor.
	DefaultScanTimeout = 60 * time.Second
)

// HID report layout.
const (
	// reportSize is the size of one HID input report.
	reportSize = 0x40

	// maxReportData is the largest data length a report can announce.
	maxReportData = 0x3F

	// responseQueueSize buffers responses between the reader and a waiting command.
	responseQueueSize = 64
)

// enrSeed is the random block sent with the key request.
var enrSeed = bytes.Repeat([]byte{0x30}, 16)

// sensorR1Key is the challenge sent to a newly scanned sensor.
var sensorR1Key = []byte("Ok5HPNQ4lf77u754")

// Logger defines the logging interface used by the dongle.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// tracer is implemented by loggers that have a level below debug.
type tracer interface {
	Trace(msg string, args ...any)
}

// Option configures a Dongle.
type Option func(*Dongle)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l Logger) Option {
	return func(d *Dongle) { d.logger = l }
}

// WithCommandTimeout sets the per-command response timeout.
func WithCommandTimeout(t time.Duration) Option {
	return func(d *Dongle) {
		if t > 0 {
			d.cmdTimeout = t
		}
	}
}

// WithScanTimeout sets how long Scan waits for a sensor.
func WithScanTimeout(t time.Duration) Option {
	return func(d *Dongle) {
		if t > 0 {
			d.scanTimeout = t
		}
	}
}

// Dongle is an open WyzeSense USB bridge.
//
// Thread Safety: commands may be issued from any goroutine, but they share a
// response slot per command, so one caller at a time is expected. The event
// callback runs on the reader goroutine.
type Dongle struct {
	rwc     io.ReadWriteCloser
	onEvent func(Event)
	logger  Logger

	cmdTimeout  time.Duration
	scanTimeout time.Duration

	identity Identity

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[Command]func(Packet)

	done       chan struct{}
	readerDone chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// Open opens the hidraw device at path and performs the dongle handshake.
//
// onEvent is called on the reader goroutine for every decoded sensor event;
// it may be nil.
//
// Returns:
//   - ErrDeviceNotFound if the device cannot be opened
//   - ErrOpenFailed if the handshake fails
func Open(ctx context.Context, path string, onEvent func(Event), opts ...Option) (*Dongle, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceNotFound, path, err)
	}
	return Attach(ctx, f, onEvent, opts...)
}

// Attach runs the dongle protocol over an already open device.
// The dongle takes ownership of rwc and closes it on Stop or on failure.
func Attach(ctx context.Context, rwc io.ReadWriteCloser, onEvent func(Event), opts ...Option) (*Dongle, error) {
	d := &Dongle{
		rwc:         rwc,
		onEvent:     onEvent,
		cmdTimeout:  DefaultCommandTimeout,
		scanTimeout: DefaultScanTimeout,
		handlers:    make(map[Command]func(Packet)),
		done:        make(chan struct{}),
		readerDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.handlers[notifySensorAlarm] = d.handleAlarm
	d.handlers[notifySyncTime] = d.handleSyncTime
	d.handlers[notifyEventLog] = d.handleEventLog

	d.wg.Add(1)
	go d.readLoop()

	if err := d.handshake(ctx); err != nil {
		d.Stop()
		return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}

	return d, nil
}

// handshake reads the gateway identity and finishes authentication.
func (d *Dongle) handshake(ctx context.Context) error {
	resp, err := d.request(ctx, newPacket(cmdInquiry, nil))
	if err != nil {
		return fmt.Errorf("inquiry: %w", err)
	}
	if len(resp.Payload) != 1 || resp.Payload[0] != 1 {
		return fmt.Errorf("inquiry: %w: result %s", ErrRejected, hex.EncodeToString(resp.Payload))
	}

	resp, err = d.request(ctx, newPacket(cmdGetENR, enrSeed))
	if err != nil {
		return fmt.Errorf("get enr: %w", err)
	}
	if len(resp.Payload) != 16 {
		return fmt.Errorf("get enr: %w: %d bytes", ErrInvalidPacket, len(resp.Payload))
	}
	d.identity.ENR = resp.Payload

	resp, err = d.request(ctx, newPacket(cmdGetMAC, nil))
	if err != nil {
		return fmt.Errorf("get mac: %w", err)
	}
	if len(resp.Payload) != macLen {
		return fmt.Errorf("get mac: %w: %d bytes", ErrInvalidPacket, len(resp.Payload))
	}
	d.identity.MAC = string(resp.Payload)
	d.logDebug("dongle mac", "mac", d.identity.MAC)

	resp, err = d.request(ctx, newPacket(cmdGetVersion, nil))
	if err != nil {
		return fmt.Errorf("get version: %w", err)
	}
	d.identity.Version = string(resp.Payload)
	d.logDebug("dongle version", "version", d.identity.Version)

	if _, err := d.request(ctx, newPacket(cmdFinishAuth, []byte{0xFF})); err != nil {
		return fmt.Errorf("finish auth: %w", err)
	}

	return nil
}

// Identity returns the gateway identity read during Open.
func (d *Dongle) Identity() Identity {
	return d.identity
}

// List returns the MACs of all paired sensors in the order the dongle reports them.
func (d *Dongle) List(ctx context.Context) ([]string, error) {
	resp, err := d.request(ctx, newPacket(cmdSensorCount, nil))
	if err != nil {
		return nil, fmt.Errorf("sensor count: %w", err)
	}
	if len(resp.Payload) != 1 {
		return nil, fmt.Errorf("sensor count: %w: %d bytes", ErrInvalidPacket, len(resp.Payload))
	}

	count := int(resp.Payload[0])
	macs := make([]string, 0, count)
	if count == 0 {
		d.logDebug("no sensors paired")
		return macs, nil
	}

	timeout := d.cmdTimeout * time.Duration(count)
	err = d.exchange(ctx, newPacket(cmdSensorList, []byte{byte(count)}), timeout, func(p Packet) (bool, error) {
		if len(p.Payload) < macLen {
			return false, fmt.Errorf("%w: sensor list entry of %d bytes", ErrInvalidPacket, len(p.Payload))
		}
		mac := string(p.Payload[:macLen])
		d.logDebug("sensor listed", "index", len(macs)+1, "count", count, "mac", mac)
		macs = append(macs, mac)
		return len(macs) == count, nil
	})
	if err != nil {
		return nil, fmt.Errorf("sensor list: %w", err)
	}

	return macs, nil
}

// Scan enables pairing and waits for a sensor to announce itself.
//
// It returns nil, nil when no sensor shows up within the scan timeout.
// A found sensor is challenged and verified before it is returned.
func (d *Dongle) Scan(ctx context.Context) (*ScanResult, error) {
	found := make(chan ScanResult, 1)
	restore := d.setHandler(notifySensorScan, func(p Packet) {
		res, err := parseScan(p.Payload)
		if err != nil {
			d.logWarn("ignoring scan notification", "error", err)
			return
		}
		select {
		case found <- res:
		default:
		}
	})
	defer restore()

	if _, err := d.request(ctx, newPacket(cmdStartStopScan, []byte{0x01})); err != nil {
		return nil, fmt.Errorf("start scan: %w", err)
	}

	var result *ScanResult
	var scanErr error

	timer := time.NewTimer(d.scanTimeout)
	defer timer.Stop()

	select {
	case res := <-found:
		d.logDebug("sensor found", "mac", res.MAC, "type", res.Type, "version", res.Version)
		resp, err := d.request(ctx, newPacket(cmdGetSensorR1, append([]byte(res.MAC), sensorR1Key...)))
		if err != nil {
			scanErr = fmt.Errorf("sensor r1: %w", err)
		} else {
			d.logDebug("sensor r1", "r1", hex.EncodeToString(resp.Payload))
			result = &res
		}
	case <-timer.C:
		d.logDebug("sensor discovery timeout")
	case <-ctx.Done():
		scanErr = ctx.Err()
	case <-d.readerDone:
		return nil, ErrClosed
	}

	// Scanning is stopped even when the caller's context is done.
	stopCtx := context.WithoutCancel(ctx)
	if _, err := d.request(stopCtx, newPacket(cmdStartStopScan, []byte{0x00})); err != nil && scanErr == nil {
		scanErr = fmt.Errorf("stop scan: %w", err)
	}
	if scanErr != nil {
		return nil, scanErr
	}

	if result != nil {
		payload := append([]byte(result.MAC), 0xFF, 0x04)
		if _, err := d.request(ctx, newPacket(cmdVerifySensor, payload)); err != nil {
			return nil, fmt.Errorf("verify sensor: %w", err)
		}
	}

	return result, nil
}

// Delete unpairs the sensor with the given MAC.
func (d *Dongle) Delete(ctx context.Context, mac string) error {
	if len(mac) != macLen {
		return fmt.Errorf("%w: %q", ErrInvalidMAC, mac)
	}

	resp, err := d.request(ctx, newPacket(cmdDeleteSensor, []byte(mac)))
	if err != nil {
		return fmt.Errorf("delete sensor %s: %w", mac, err)
	}
	d.logDebug("delete sensor response", "payload", hex.EncodeToString(resp.Payload))

	if len(resp.Payload) != macLen+1 {
		return fmt.Errorf("delete sensor %s: %w: %d bytes", mac, ErrInvalidPacket, len(resp.Payload))
	}
	if ackMAC := string(resp.Payload[:macLen]); ackMAC != mac {
		return fmt.Errorf("delete sensor %s: %w: dongle answered for %s", mac, ErrRejected, ackMAC)
	}
	if code := resp.Payload[macLen]; code != 0xFF {
		return fmt.Errorf("delete sensor %s: %w: code 0x%02X", mac, ErrRejected, code)
	}

	d.logDebug("sensor deleted", "mac", mac)
	return nil
}

// Stop closes the device and waits for the reader goroutine to exit.
// It is safe to call more than once.
func (d *Dongle) Stop() {
	d.closeOnce.Do(func() {
		close(d.done)
		if err := d.rwc.Close(); err != nil {
			d.logDebug("closing device", "error", err)
		}
	})
	d.wg.Wait()
}

// request sends a command and returns its single response.
func (d *Dongle) request(ctx context.Context, req Packet) (Packet, error) {
	var resp Packet
	err := d.exchange(ctx, req, d.cmdTimeout, func(p Packet) (bool, error) {
		resp = p
		return true, nil
	})
	return resp, err
}

// exchange sends req and feeds every response to collect until it reports
// done, fails, or the timeout elapses.
func (d *Dongle) exchange(ctx context.Context, req Packet, timeout time.Duration, collect func(Packet) (bool, error)) error {
	select {
	case <-d.readerDone:
		return ErrClosed
	default:
	}

	responses := make(chan Packet, responseQueueSize)
	restore := d.setHandler(req.Cmd.Response(), func(p Packet) {
		select {
		case responses <- p:
		default:
			d.logWarn("response queue full, dropping packet", "cmd", p.Cmd)
		}
	})
	defer restore()

	if err := d.send(req); err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case p := <-responses:
			done, err := collect(p)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("%w: command %s after %v", ErrTimeout, req.Cmd, timeout)
		case <-ctx.Done():
			return ctx.Err()
		case <-d.readerDone:
			return ErrClosed
		}
	}
}

// setHandler installs a handler for cmd and returns a func restoring the previous one.
func (d *Dongle) setHandler(cmd Command, h func(Packet)) func() {
	d.handlersMu.Lock()
	prev, had := d.handlers[cmd]
	d.handlers[cmd] = h
	d.handlersMu.Unlock()

	return func() {
		d.handlersMu.Lock()
		if had {
			d.handlers[cmd] = prev
		} else {
			delete(d.handlers, cmd)
		}
		d.handlersMu.Unlock()
	}
}

// send encodes and writes one frame.
func (d *Dongle) send(p Packet) error {
	frame, err := p.Encode()
	if err != nil {
		return err
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	d.logTrace("sending", "frame", hex.EncodeToString(frame))
	if _, err := d.rwc.Write(frame); err != nil {
		return fmt.Errorf("write %s: %w", p.Cmd, err)
	}
	return nil
}

// readLoop reads HID reports, reassembles frames and dispatches them.
// It is the only goroutine that reads from the device.
func (d *Dongle) readLoop() {
	defer d.wg.Done()
	defer close(d.readerDone)

	report := make([]byte, reportSize)
	var pending []byte

	for {
		n, err := d.rwc.Read(report)
		if err != nil {
			if d.isClosed() {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				d.logError("device closed", "error", err)
			} else {
				d.logError("device read failed", "error", err)
			}
			return
		}

		pending = append(pending, reportData(report[:n])...)
		pending = d.drain(pending)
	}
}

// reportData extracts the data bytes announced by a HID report's length byte.
func reportData(report []byte) []byte {
	if len(report) == 0 {
		return nil
	}
	length := int(report[0])
	if length > maxReportData {
		length = maxReportData
	}
	if length > len(report)-1 {
		length = len(report) - 1
	}
	return report[1 : 1+length]
}

// drain dispatches every complete frame in buf and returns the unconsumed tail.
func (d *Dongle) drain(buf []byte) []byte {
	magic := binary.BigEndian.AppendUint16(nil, dongleMagic)

	for {
		start := bytes.Index(buf, magic)
		if start < 0 {
			// Keep a trailing magic half so it can pair with the next report.
			if len(buf) > 0 && buf[len(buf)-1] == magic[0] {
				return buf[len(buf)-1:]
			}
			return buf[:0]
		}
		buf = buf[start:]

		pkt, n, err := Parse(buf)
		if errors.Is(err, errIncomplete) {
			return buf
		}
		if err != nil {
			d.logWarn("dropping invalid frame", "error", err, "data", hex.EncodeToString(buf))
			buf = buf[2:]
			continue
		}

		d.logTrace("received", "frame", hex.EncodeToString(buf[:n]))
		buf = buf[n:]
		d.dispatch(pkt)
	}
}

// dispatch acknowledges async frames and runs the registered handler.
func (d *Dongle) dispatch(pkt Packet) {
	if pkt.Cmd == asyncAck {
		d.logTrace("ack received", "cmd", pkt.Acked)
		return
	}

	if pkt.Cmd.IsAsync() {
		if err := d.send(newAck(pkt.Cmd)); err != nil {
			d.logWarn("sending ack failed", "cmd", pkt.Cmd, "error", err)
		}
	}

	d.handlersMu.RLock()
	handler := d.handlers[pkt.Cmd]
	d.handlersMu.RUnlock()

	if handler == nil {
		d.logDebug("unhandled packet", "packet", pkt.String())
		return
	}
	handler(pkt)
}

// handleAlarm decodes a sensor alarm and passes it to the event callback.
func (d *Dongle) handleAlarm(pkt Packet) {
	ev, err := parseAlarm(pkt.Payload)
	if err != nil {
		d.logInfo("unknown alarm packet", "error", err, "payload", hex.EncodeToString(pkt.Payload))
		return
	}

	if ev.State != nil {
		d.logDebug("state event", "mac", ev.MAC, "sensor_type", ev.State.SensorType,
			"state", ev.State.State, "battery", ev.State.Battery, "signal", ev.State.Signal)
	} else {
		d.logDebug("raw event", "mac", ev.MAC, "kind", ev.Kind)
	}

	if d.onEvent == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.logError("event callback panic", "error", fmt.Errorf("%v", r))
		}
	}()
	d.onEvent(ev)
}

// handleSyncTime answers the dongle's clock request with the host time.
func (d *Dongle) handleSyncTime(Packet) {
	now := binary.BigEndian.AppendUint64(nil, uint64(time.Now().UnixMilli()))
	if err := d.send(newPacket(notifySyncTime.Response(), now)); err != nil {
		d.logWarn("sync time reply failed", "error", err)
	}
}

// handleEventLog logs the dongle's internal event log entries.
func (d *Dongle) handleEventLog(pkt Packet) {
	if len(pkt.Payload) < 9 {
		d.logDebug("short event log packet", "payload", hex.EncodeToString(pkt.Payload))
		return
	}
	ts := time.UnixMilli(int64(binary.BigEndian.Uint64(pkt.Payload[0:8])))
	d.logInfo("dongle log", "time", ts.Format(time.RFC3339), "data", hex.EncodeToString(pkt.Payload[9:]))
}

func (d *Dongle) isClosed() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Logging helpers tolerate a nil logger.

func (d *Dongle) logTrace(msg string, args ...any) {
	if t, ok := d.logger.(tracer); ok {
		t.Trace(msg, args...)
	}
}

func (d *Dongle) logDebug(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Debug(msg, args...)
	}
}

func (d *Dongle) logInfo(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Info(msg, args...)
	}
}

func (d *Dongle) logWarn(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, args...)
	}
}

func (d *Dongle) logError(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Error(msg, args...)
	}
}
