package dongle

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// Frame magics. The host writes hostMagic, the dongle answers with dongleMagic.
const (
	hostMagic   uint16 = 0xAA55
	dongleMagic uint16 = 0x55AA
)

// Frame types.
const (
	typeSync  byte = 0x43
	typeAsync byte = 0x53
)

// Frame layout.
const (
	// headerSize is magic(2) + type(1) + length(1) + command(1).
	headerSize = 5

	// checksumSize is the trailing big-endian checksum.
	checksumSize = 2

	// ackSize is the fixed size of an async ACK frame.
	ackSize = 7

	// maxPayload keeps length = payload + 3 within one byte.
	maxPayload = 0xFF - 3
)

// Command identifies a frame: type in the high byte, command id in the low byte.
type Command uint16

// Host commands and dongle notifications.
const (
	cmdGetENR  Command = 0x4302
	cmdGetMAC  Command = 0x4304
	cmdInquiry Command = 0x4327

	asyncAck Command = 0x53FF

	cmdFinishAuth    Command = 0x5314
	cmdGetVersion    Command = 0x5316
	cmdStartStopScan Command = 0x531C
	cmdGetSensorR1   Command = 0x5321
	cmdVerifySensor  Command = 0x5323
	cmdDeleteSensor  Command = 0x5325
	cmdSensorCount   Command = 0x532E
	cmdSensorList    Command = 0x5330

	notifySensorAlarm Command = 0x5319
	notifySensorScan  Command = 0x5320
	notifySyncTime    Command = 0x5332
	notifyEventLog    Command = 0x5335
)

// Type returns the frame type byte.
func (c Command) Type() byte { return byte(c >> 8) }

// ID returns the command id byte.
func (c Command) ID() byte { return byte(c) }

// Response returns the command the dongle answers with.
func (c Command) Response() Command { return c + 1 }

// IsAsync reports whether the command is an async frame.
func (c Command) IsAsync() bool { return c.Type() == typeAsync }

// String returns the command as four hex digits.
func (c Command) String() string { return fmt.Sprintf("%04X", uint16(c)) }

// Packet is one decoded protocol frame.
type Packet struct {
	Cmd     Command
	Payload []byte

	// Acked is the acknowledged command, set only for ACK frames.
	Acked Command
}

// newPacket builds a command frame.
func newPacket(cmd Command, payload []byte) Packet {
	return Packet{Cmd: cmd, Payload: payload}
}

// newAck builds the ACK frame for a received async command.
func newAck(cmd Command) Packet {
	return Packet{Cmd: asyncAck, Acked: cmd}
}

// Len returns the encoded size of the frame.
func (p Packet) Len() int {
	if p.Cmd == asyncAck {
		return ackSize
	}
	return headerSize + len(p.Payload) + checksumSize
}

// String formats the frame for logs.
func (p Packet) String() string {
	if p.Cmd == asyncAck {
		return fmt.Sprintf("ACK(%s)", p.Acked)
	}
	return fmt.Sprintf("Packet(cmd=%s, payload=%s)", p.Cmd, hex.EncodeToString(p.Payload))
}

// Encode returns the frame as the host writes it.
func (p Packet) Encode() ([]byte, error) {
	return p.encode(hostMagic)
}

func (p Packet) encode(magic uint16) ([]byte, error) {
	if len(p.Payload) > maxPayload {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrInvalidPacket, len(p.Payload), maxPayload)
	}

	buf := make([]byte, 0, p.Len())
	buf = binary.BigEndian.AppendUint16(buf, magic)
	buf = append(buf, p.Cmd.Type())

	if p.Cmd == asyncAck {
		buf = append(buf, p.Acked.ID(), p.Cmd.ID())
	} else {
		buf = append(buf, byte(len(p.Payload)+3), p.Cmd.ID())
		buf = append(buf, p.Payload...)
	}

	return binary.BigEndian.AppendUint16(buf, checksum(buf)), nil
}

// errIncomplete means the buffer holds the start of a frame but not all of it.
var errIncomplete = errors.New("dongle: incomplete packet")

// Parse decodes one frame from the start of buf.
//
// It returns the packet and the number of bytes it occupied. errIncomplete
// is returned when more data is needed; ErrInvalidPacket or ErrChecksum
// when the bytes at the start of buf are not a valid frame.
func Parse(buf []byte) (Packet, int, error) {
	if len(buf) < headerSize {
		return Packet{}, 0, errIncomplete
	}

	magic := binary.BigEndian.Uint16(buf)
	if magic != dongleMagic && magic != hostMagic {
		return Packet{}, 0, fmt.Errorf("%w: magic %04X", ErrInvalidPacket, magic)
	}

	cmd := Command(uint16(buf[2])<<8 | uint16(buf[4]))

	var pkt Packet
	var size int
	if cmd == asyncAck {
		size = ackSize
		if len(buf) < size {
			return Packet{}, 0, errIncomplete
		}
		pkt = newAck(Command(uint16(buf[2])<<8 | uint16(buf[3])))
	} else {
		length := int(buf[3])
		if length < 3 {
			return Packet{}, 0, fmt.Errorf("%w: length %d", ErrInvalidPacket, length)
		}
		size = length + 4
		if len(buf) < size {
			return Packet{}, 0, errIncomplete
		}
		payload := make([]byte, size-headerSize-checksumSize)
		copy(payload, buf[headerSize:size-checksumSize])
		pkt = newPacket(cmd, payload)
	}

	remote := binary.BigEndian.Uint16(buf[size-checksumSize : size])
	if local := checksum(buf[:size-checksumSize]); remote != local {
		return Packet{}, 0, fmt.Errorf("%w: remote=%04X local=%04X", ErrChecksum, remote, local)
	}

	return pkt, size, nil
}

// checksum is the 16-bit sum of all bytes.
func checksum(b []byte) uint16 {
	var sum uint16
	for _, v := range b {
		sum += uint16(v)
	}
	return sum
}
