// Package metrics exposes the bridge's forwarding counters to Prometheus.
//
// All collectors live on a private registry together with the Go runtime
// and process collectors. The optional HTTP endpoint serves the registry
// on the configured path and a plain /health check.
//
// Exported series:
//
//	wyzesense_events_received_total{kind}
//	wyzesense_events_forwarded_total
//	wyzesense_publish_failures_total
//	wyzesense_broker_connected
package metrics
