package dongle

import "errors"

// Domain errors for the dongle package.
var (
	// ErrDeviceNotFound is returned when the hidraw device cannot be opened.
	ErrDeviceNotFound = errors.New("dongle: device not found")

	// ErrOpenFailed is returned when the device opened but the dongle
	// handshake did not complete.
	ErrOpenFailed = errors.New("dongle: open failed")

	// ErrTimeout is returned when the dongle does not answer a command in time.
	ErrTimeout = errors.New("dongle: command timed out")

	// ErrClosed is returned for operations on a stopped dongle or after the
	// reader has exited.
	ErrClosed = errors.New("dongle: closed")

	// ErrInvalidPacket is returned when a frame cannot be decoded.
	ErrInvalidPacket = errors.New("dongle: invalid packet")

	// ErrChecksum is returned when a frame checksum does not match.
	ErrChecksum = errors.New("dongle: checksum mismatch")

	// ErrInvalidMAC is returned when a sensor MAC is not 8 characters.
	ErrInvalidMAC = errors.New("dongle: invalid sensor mac")

	// ErrRejected is returned when the dongle acknowledges a command with
	// an unexpected result.
	ErrRejected = errors.New("dongle: command rejected")
)
