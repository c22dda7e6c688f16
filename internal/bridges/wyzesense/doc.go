// Package wyzesense connects the WyzeSense dongle to MQTT and implements the
// administrative sensor commands.
//
// The package has two halves:
//
//   - Forwarder turns each state event from the dongle into one MQTT message
//     on wyzesense/{MAC}/update. Delivery is QoS 0, not retained, and never
//     retried. Non-state events are counted and dropped.
//   - Dispatcher runs one of List, Pair or Unpair against the gateway and
//     writes the human readable result to the console.
//
// # Payload
//
//	Topic:   wyzesense/11112222/update
//	Payload: {"sensor_type":"switch","state":"open","battery":95,"signal":60}
//
// # Ordering
//
// HandleEvent runs on the dongle's reader goroutine, so messages for a
// sensor are handed to the broker client in the order the dongle reported
// them. Nothing is queued in between.
package wyzesense
