// Package mqtt provides the broker connection for the WyzeSense bridge.
//
// This package manages:
//   - A single connection attempt to the broker (MQTT 3.1.1, clean session)
//   - Waiting for the connect confirmation without polling
//   - Fire-and-forget publishing with an optional result callback
//   - Connection state callbacks for logging
//
// # Reconnection
//
// There is no automatic reconnection. If the connection drops after the
// initial handshake the loss is logged, Publish returns ErrNotConnected,
// and the process keeps running until it is restarted by its supervisor.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT, mqtt.GatewayClientID(id.MAC))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnPublish(func(topic string, err error) {
//	    if err != nil {
//	        log.Warn("publish failed", "topic", topic, "error", err)
//	    }
//	})
//	_ = client.Publish("wyzesense/77A2B3C4/update", payload, 0, false)
package mqtt
