package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// Publish hands a message to paho and returns without waiting for it to be
// sent.
//
// Only problems detectable up front are returned: invalid arguments or a
// client that is not connected. The final outcome is delivered to the
// SetOnPublish callback from a separate goroutine. Nothing is retried.
//
// Parameters:
//   - topic: The topic to publish to (e.g., "wyzesense/77A2B3C4/update")
//   - payload: The message payload (max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message
//
// Returns:
//   - error: nil if the message was queued
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	go c.awaitPublish(topic, token)

	return nil
}

// awaitPublish reports the outcome of one publish token.
func (c *Client) awaitPublish(topic string, token pahomqtt.Token) {
	var err error
	if !token.WaitTimeout(defaultPublishTimeout) {
		err = fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	} else if tokenErr := token.Error(); tokenErr != nil {
		err = fmt.Errorf("%w: %w", ErrPublishFailed, tokenErr)
	}

	if logger := c.getLogger(); logger != nil {
		if err != nil {
			logger.Warn("MQTT publish failed", "topic", topic, "error", err)
		} else {
			logger.Debug("data published", "topic", topic)
		}
	}

	c.callbackMu.RLock()
	callback := c.onPublish
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(topic, err)
	}
}
