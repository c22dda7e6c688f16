package wyzesense

import (
	"encoding/json"

	"github.com/Poppeseed/wyzesense-mqtt/internal/dongle"
)

// Delivery settings for state messages.
const (
	stateQoS      byte = 0
	stateRetained      = false
)

// Publisher sends a message to the broker without waiting for delivery.
// *mqtt.Client satisfies this interface.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Metrics receives forwarding counters. *metrics.Registry satisfies it.
type Metrics interface {
	EventReceived(kind string)
	EventForwarded()
	PublishFailed()
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// ForwarderOptions holds the dependencies of a Forwarder.
type ForwarderOptions struct {
	// Publisher is the broker client. Required.
	Publisher Publisher

	// Logger is optional.
	Logger Logger

	// Metrics is optional.
	Metrics Metrics
}

// Forwarder publishes sensor state events to MQTT.
//
// Thread Safety: Forwarder holds no mutable state; HandleEvent may be called
// from any goroutine.
type Forwarder struct {
	publisher Publisher
	logger    Logger
	metrics   Metrics
	topics    Topics
}

// NewForwarder creates a Forwarder.
func NewForwarder(opts ForwarderOptions) (*Forwarder, error) {
	if opts.Publisher == nil {
		return nil, ErrPublisherRequired
	}
	return &Forwarder{
		publisher: opts.Publisher,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}, nil
}

// HandleEvent forwards one dongle event.
//
// Only state events are published, exactly once each, to
// wyzesense/{MAC}/update with QoS 0 and no retain flag. A failed publish is
// logged and counted; it is not retried.
func (f *Forwarder) HandleEvent(ev dongle.Event) {
	if f.metrics != nil {
		f.metrics.EventReceived(ev.Kind)
	}

	if ev.Kind != dongle.KindState {
		f.logDebug("ignoring non-state event", "mac", ev.MAC, "kind", ev.Kind)
		return
	}
	if ev.State == nil {
		f.logWarn("state event without state data", "mac", ev.MAC)
		return
	}

	topic := f.topics.SensorUpdate(ev.MAC)
	msg := NewStateMessage(*ev.State)

	payload, err := json.Marshal(msg)
	if err != nil {
		f.logError("marshal state message", err)
		return
	}

	f.logInfo("state event",
		"mac", ev.MAC,
		"sensor_type", msg.SensorType,
		"state", msg.State,
		"battery", msg.Battery,
		"signal", msg.Signal,
	)

	if err := f.publisher.Publish(topic, payload, stateQoS, stateRetained); err != nil {
		f.logWarn("publish failed", "topic", topic, "error", err)
		if f.metrics != nil {
			f.metrics.PublishFailed()
		}
		return
	}

	if f.metrics != nil {
		f.metrics.EventForwarded()
	}
}

// PublishResult observes the asynchronous outcome of a publish.
// It matches the broker client's publish callback.
func (f *Forwarder) PublishResult(topic string, err error) {
	if err == nil {
		return
	}
	f.logWarn("publish not delivered", "topic", topic, "error", err)
	if f.metrics != nil {
		f.metrics.PublishFailed()
	}
}

func (f *Forwarder) logDebug(msg string, keysAndValues ...any) {
	if f.logger != nil {
		f.logger.Debug(msg, keysAndValues...)
	}
}

func (f *Forwarder) logInfo(msg string, keysAndValues ...any) {
	if f.logger != nil {
		f.logger.Info(msg, keysAndValues...)
	}
}

func (f *Forwarder) logWarn(msg string, keysAndValues ...any) {
	if f.logger != nil {
		f.logger.Warn(msg, keysAndValues...)
	}
}

func (f *Forwarder) logError(msg string, err error) {
	if f.logger != nil {
		f.logger.Error(msg, "error", err)
	}
}
