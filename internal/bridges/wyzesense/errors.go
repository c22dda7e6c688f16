package wyzesense

import "errors"

// Domain errors for the wyzesense bridge package.
var (
	// ErrPublisherRequired is returned when a Forwarder is built without a publisher.
	ErrPublisherRequired = errors.New("wyzesense: publisher is required")

	// ErrGatewayRequired is returned when a Dispatcher is built without a gateway.
	ErrGatewayRequired = errors.New("wyzesense: gateway is required")
)
