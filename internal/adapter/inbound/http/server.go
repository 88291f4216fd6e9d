package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes /metrics and /health on a dedicated listener,
// separate from the stdio MCP transport.
type MetricsServer struct {
	addr    string
	reg     *prometheus.Registry
	metrics *Metrics
	server  *http.Server
	logger  *slog.Logger
}

// NewMetricsServer builds the server and registers the process and Go
// runtime collectors alongside the application metrics.
func NewMetricsServer(addr string, logger *slog.Logger) *MetricsServer {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &MetricsServer{
		addr:    addr,
		reg:     reg,
		metrics: NewMetrics(reg),
		logger:  logger,
	}
}

// Metrics returns the application metrics registered on this server.
func (s *MetricsServer) Metrics() *Metrics { return s.metrics }

// Start begins serving. It blocks until the context is cancelled or the
// listener fails.
func (s *MetricsServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{
		Registry: s.reg,
	}))
	mux.Handle("/health", healthHandler())

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting metrics server", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down metrics server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *MetricsServer) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during metrics server shutdown", "error", err)
		return err
	}
	return nil
}

// Close gracefully shuts down the server.
func (s *MetricsServer) Close() error {
	if s.server == nil {
		return nil
	}
	return s.shutdown()
}

func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
}
