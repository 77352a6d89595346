package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves the metrics endpoint.
type Server struct {
	*http.Server
	logger *slog.Logger
}

type errorLoggerWrapper struct {
	logger *slog.Logger
}

func (el *errorLoggerWrapper) Println(v ...interface{}) {
	el.logger.Warn("metric server error", "detail", fmt.Sprint(v...))
}

// NewMetricsHandler creates an HTTP handler to expose metrics.
func NewMetricsHandler(metricsService Metrics, logger *slog.Logger) http.Handler {
	return promhttp.HandlerFor(metricsService.GetRegistry(), promhttp.HandlerOpts{
		ErrorLog: &errorLoggerWrapper{logger: logger},
	})
}

// NewServer creates a metrics server listening on addr.
func NewServer(addr string, metricsService Metrics, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", NewMetricsHandler(metricsService, logger))

	return &Server{
		Server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Run starts the server and blocks until it stops.
func (s *Server) Run() error {
	s.logger.Info("serving metrics", "addr", s.Addr)
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics ListenAndServe: %w", err)
	}
	return nil
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.Server.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics shutdown: %w", err)
	}
	return nil
}
