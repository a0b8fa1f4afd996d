// Package server exposes the orchestrator over HTTP. One JSON endpoint
// accepts inbound user messages; health and Prometheus metrics ride on
// the same process, with metrics optionally split onto their own port.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/concierge/internal/agent"
	"github.com/haasonsaas/concierge/internal/observability"
	"github.com/haasonsaas/concierge/internal/storage"
	"github.com/haasonsaas/concierge/pkg/models"
)

// MessageProcessor runs one user turn. Implemented by agent.Orchestrator.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, client *models.Client, sessionID, userMessage string, opts agent.TurnOptions) (*agent.TurnResult, error)
}

// Config holds the listen addresses.
type Config struct {
	Host        string
	HTTPPort    int
	MetricsPort int
}

// Server is the HTTP front of the orchestrator.
type Server struct {
	config    Config
	processor MessageProcessor
	clients   storage.ClientStore
	logger    *observability.Logger
	tracer    *observability.Tracer

	httpServer    *http.Server
	metricsServer *http.Server
}

func New(config Config, processor MessageProcessor, clients storage.ClientStore, logger *observability.Logger, tracer *observability.Tracer) *Server {
	return &Server{
		config:    config,
		processor: processor,
		clients:   clients,
		logger:    logger,
		tracer:    tracer,
	}
}

// Handler returns the API mux. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/messages", s.handleMessage)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.config.MetricsPort == 0 {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return mux
}

// Start begins serving and returns once the listeners are bound.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, "http server error", "error", err)
		}
	}()
	s.logger.Info(ctx, "http server started", "addr", addr)

	if s.config.MetricsPort != 0 {
		metricsAddr := fmt.Sprintf("%s:%d", s.config.Host, s.config.MetricsPort)
		metricsListener, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			return fmt.Errorf("metrics listen: %w", err)
		}
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", promhttp.Handler())
		s.metricsServer = &http.Server{
			Addr:              metricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := s.metricsServer.Serve(metricsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error(ctx, "metrics server error", "error", err)
			}
		}()
		s.logger.Info(ctx, "metrics server started", "addr", metricsAddr)
	}
	return nil
}

// Stop shuts both listeners down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	var firstErr error
	for _, srv := range []*http.Server{s.httpServer, s.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
