package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes Prometheus metrics over HTTP.
type Server struct {
	srv *http.Server
}

// NewServer builds a metrics server for gatherer on addr. An empty addr
// disables it and returns nil.
func NewServer(addr string, gatherer prometheus.Gatherer) *Server {
	if addr == "" {
		return nil
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves metrics until shutdown; returns nil when disabled.
func (s *Server) Start() error {
	if s == nil {
		return nil
	}
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the metrics server; no-op when disabled.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
