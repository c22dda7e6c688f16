package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// DefaultPath is where the registry is served when no path is configured.
	DefaultPath = "/metrics"

	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// HealthFunc reports whether the bridge is healthy.
type HealthFunc func(ctx context.Context) error

// Server serves a Registry over HTTP.
type Server struct {
	addr     string
	path     string
	registry *Registry
	health   HealthFunc
}

// NewServer creates a metrics server listening on addr.
// health may be nil, in which case /health always answers OK.
func NewServer(addr, path string, registry *Registry, health HealthFunc) *Server {
	if path == "" {
		path = DefaultPath
	}
	return &Server{
		addr:     addr,
		path:     path,
		registry: registry,
		health:   health,
	}
}

// Handler returns the mux with the metrics and health endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if s.health != nil {
			if err := s.health(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return mux
}

// Run listens on the configured address and serves until ctx is cancelled.
// It returns nil after a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	if s.registry == nil {
		return fmt.Errorf("metrics: registry not provided")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics: listen on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: serve: %w", err)
	}
	return nil
}
