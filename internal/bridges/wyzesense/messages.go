package wyzesense

import "github.com/Poppeseed/wyzesense-mqtt/internal/dongle"

// StateMessage is published for every sensor state event.
// Topic: wyzesense/{mac}/update
//
// Field order is part of the wire format.
type StateMessage struct {
	// SensorType is "switch", "motion", "leak" or "unknown".
	SensorType string `json:"sensor_type"`

	// State is the sensor state, e.g. "open", "close", "active", "wet".
	State string `json:"state"`

	// Battery is the battery level reported by the sensor.
	Battery int `json:"battery"`

	// Signal is the signal strength reported by the sensor.
	Signal int `json:"signal"`
}

// NewStateMessage builds the message for a decoded sensor state.
func NewStateMessage(s dongle.StateData) StateMessage {
	return StateMessage{
		SensorType: s.SensorType,
		State:      s.State,
		Battery:    s.Battery,
		Signal:     s.Signal,
	}
}
