package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/kotomo/service/ledger"
	"github.com/brojonat/kotomo/service/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for the wallet API.
type Server struct {
	addr     string
	wallet   *ledger.Client
	streamer *EventStreamer
	metrics  *metrics.Metrics
	logger   *slog.Logger
	server   *http.Server
}

// New creates a new HTTP server serving the wallet of the given ledger client.
// The streamer is optional - if nil, the SSE endpoint won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, wallet *ledger.Client, streamer *EventStreamer, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		wallet:   wallet,
		streamer: streamer,
		metrics:  m,
		logger:   logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	route("GET /api/v1/token", "/api/v1/token", handleGetToken(s.wallet, s.logger))
	route("GET /api/v1/balance", "/api/v1/balance", handleGetBalance(s.wallet, s.logger))
	route("GET /api/v1/standards", "/api/v1/standards", handleGetStandards(s.wallet, s.logger))
	route("POST /api/v1/transfers", "/api/v1/transfers", handleCreateTransfer(s.wallet, s.logger))
	route("GET /api/v1/transactions", "/api/v1/transactions", handleListTransactions(s.wallet, s.logger))
	route("POST /api/v1/refresh", "/api/v1/refresh", handleRefresh(s.wallet, s.logger))
	route("GET /api/v1/validate-address", "/api/v1/validate-address", handleValidateAddress(s.logger))

	if s.streamer != nil {
		route("GET /api/v1/stream", "/api/v1/stream", handleStreamWalletEvents(s.streamer, s.wallet.Caller().String(), s.logger))
		s.logger.Info("SSE streaming endpoint enabled")
	} else {
		s.logger.Warn("NATS not configured, streaming endpoint disabled")
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server",
		"addr", s.addr,
		"wallet", s.wallet.Caller().String(),
	)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close the streamer first so open SSE handlers return
	if s.streamer != nil {
		s.streamer.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
