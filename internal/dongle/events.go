package dongle

import (
	"encoding/binary"
	"fmt"
	"time"
)

// KindState is the kind of events that carry a sensor state.
const KindState = "state"

// macLen is the length of a sensor or gateway MAC string.
const macLen = 8

// Alarm event types that carry sensor state.
const (
	alarmStateA1 byte = 0xA1
	alarmStateA2 byte = 0xA2
)

// Sensor type codes found in the first byte of state alarm data.
const (
	sensorContact   byte = 0x01
	sensorMotion    byte = 0x02
	sensorLeak      byte = 0x03
	sensorContactV2 byte = 0x0E
	sensorMotionV2  byte = 0x0F
)

// Offsets into state alarm data.
const (
	alarmTypeOffset    = 0
	alarmBatteryOffset = 2
	alarmStateOffset   = 5
	alarmSignalOffset  = 8
	alarmStateMinLen   = alarmSignalOffset + 1
)

// alarmHeaderLen is timestamp(8) + event type(1) + MAC(8).
const alarmHeaderLen = 17

// Event is a sensor event decoded from an alarm notification.
type Event struct {
	// MAC is the 8 character sensor MAC.
	MAC string

	// Timestamp is the dongle's time for the event.
	Timestamp time.Time

	// Kind is KindState or "raw_XX" with the event type in hex.
	Kind string

	// State is set for KindState events.
	State *StateData

	// Data holds the undecoded alarm data for non-state events.
	Data []byte
}

// StateData is the decoded state of a sensor.
type StateData struct {
	SensorType string
	State      string
	Battery    int
	Signal     int
}

// ScanResult describes a sensor that asked to be paired.
type ScanResult struct {
	MAC     string
	Type    uint8
	Version uint8
}

// Identity is the gateway identity read during the handshake.
type Identity struct {
	MAC     string
	Version string
	ENR     []byte
}

// parseAlarm decodes a sensor alarm payload.
func parseAlarm(payload []byte) (Event, error) {
	if len(payload) < alarmHeaderLen+1 {
		return Event{}, fmt.Errorf("%w: alarm payload of %d bytes", ErrInvalidPacket, len(payload))
	}

	ts := binary.BigEndian.Uint64(payload[0:8])
	eventType := payload[8]
	data := payload[alarmHeaderLen:]

	ev := Event{
		MAC:       string(payload[9:alarmHeaderLen]),
		Timestamp: time.UnixMilli(int64(ts)),
	}

	if eventType != alarmStateA1 && eventType != alarmStateA2 {
		ev.Kind = fmt.Sprintf("raw_%02X", eventType)
		ev.Data = append([]byte(nil), data...)
		return ev, nil
	}

	if len(data) < alarmStateMinLen {
		return Event{}, fmt.Errorf("%w: state alarm data of %d bytes", ErrInvalidPacket, len(data))
	}

	sensorType, state := decodeState(data[alarmTypeOffset], data[alarmStateOffset])
	ev.Kind = KindState
	ev.State = &StateData{
		SensorType: sensorType,
		State:      state,
		Battery:    int(data[alarmBatteryOffset]),
		Signal:     int(data[alarmSignalOffset]),
	}
	return ev, nil
}

// decodeState maps a sensor type code and state byte to their names.
func decodeState(code, value byte) (string, string) {
	on := value == 1
	switch code {
	case sensorContact, sensorContactV2:
		return "switch", pick(on, "open", "close")
	case sensorMotion, sensorMotionV2:
		return "motion", pick(on, "active", "inactive")
	case sensorLeak:
		return "leak", pick(on, "wet", "dry")
	default:
		return "unknown", "unknown"
	}
}

func pick(cond bool, a, b string) string {
	if cond {
		return a
	}
	return b
}

// parseScan decodes a sensor scan notification.
func parseScan(payload []byte) (ScanResult, error) {
	if len(payload) != 11 {
		return ScanResult{}, fmt.Errorf("%w: scan payload of %d bytes", ErrInvalidPacket, len(payload))
	}
	return ScanResult{
		MAC:     string(payload[1 : 1+macLen]),
		Type:    payload[9],
		Version: payload[10],
	}, nil
}
