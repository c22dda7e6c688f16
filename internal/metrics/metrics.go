package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "wyzesense"

// Registry holds the bridge collectors and the Prometheus registry they are
// registered on.
//
// Thread Safety: All methods are safe for concurrent use.
type Registry struct {
	registry *prometheus.Registry

	eventsReceived  *prometheus.CounterVec
	eventsForwarded prometheus.Counter
	publishFailures prometheus.Counter
	brokerConnected prometheus.Gauge
}

// NewRegistry creates a registry with the bridge metrics and runtime collectors.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		eventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "received_total",
				Help:      "Sensor events received from the dongle, by kind",
			},
			[]string{"kind"},
		),
		eventsForwarded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "forwarded_total",
				Help:      "State events handed to the MQTT client",
			},
		),
		publishFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "publish",
				Name:      "failures_total",
				Help:      "Publishes rejected up front or reported failed by the broker client",
			},
		),
		brokerConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "broker",
				Name:      "connected",
				Help:      "1 while the MQTT connection is up, 0 otherwise",
			},
		),
	}

	r.registry.MustRegister(
		r.eventsReceived,
		r.eventsForwarded,
		r.publishFailures,
		r.brokerConnected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// EventReceived counts one event of the given kind.
func (r *Registry) EventReceived(kind string) {
	r.eventsReceived.WithLabelValues(kind).Inc()
}

// EventForwarded counts one state event passed to the publisher.
func (r *Registry) EventForwarded() {
	r.eventsForwarded.Inc()
}

// PublishFailed counts one failed publish.
func (r *Registry) PublishFailed() {
	r.publishFailures.Inc()
}

// SetBrokerConnected records the broker connection state.
func (r *Registry) SetBrokerConnected(connected bool) {
	if connected {
		r.brokerConnected.Set(1)
	} else {
		r.brokerConnected.Set(0)
	}
}
