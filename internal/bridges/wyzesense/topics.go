package wyzesense

// TopicPrefix is the root of every topic the bridge publishes to.
const TopicPrefix = "wyzesense"

// Topics builds MQTT topics for sensor messages.
//
// Topic structure:
//
//	wyzesense/{mac}/update
type Topics struct{}

// SensorUpdate returns the state topic for a sensor.
//
// Example: wyzesense/11112222/update
func (Topics) SensorUpdate(mac string) string {
	return TopicPrefix + "/" + mac + "/update"
}

// AllSensorUpdates returns a subscription pattern matching every sensor's state topic.
func (Topics) AllSensorUpdates() string {
	return TopicPrefix + "/+/update"
}
