package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// HealthStatus is the /healthz payload
type HealthStatus struct {
	Status         string `json:"status"`
	Uptime         string `json:"uptime"`
	Telegram       string `json:"telegram"`
	ActiveSessions int    `json:"active_sessions"`
	Channels       int    `json:"channels"`
}

// HealthServer serves liveness and metrics endpoints
type HealthServer struct {
	addr    string
	status  func(ctx context.Context) HealthStatus
	metrics http.Handler
	logger  zerolog.Logger

	listener net.Listener
	server   *http.Server
}

// NewHealthServer creates the HTTP server. status is evaluated per request.
func NewHealthServer(addr string, status func(ctx context.Context) HealthStatus, metrics http.Handler, logger zerolog.Logger) *HealthServer {
	return &HealthServer{
		addr:    addr,
		status:  status,
		metrics: metrics,
		logger:  logger.With().Str("component", "health").Logger(),
	}
}

// Handler returns the request multiplexer
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Bot is running!"))
	})
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
	return mux
}

func (h *HealthServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := h.status(r.Context())

	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		h.logger.Debug().Err(err).Msg("Failed to write health response")
	}
}

// Listen binds the address so Addr reports the real port before Serve runs
func (h *HealthServer) Listen() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.addr, err)
	}
	h.listener = ln
	h.server = &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// Addr returns the bound address, or the configured one before Listen
func (h *HealthServer) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.addr
}

// Serve blocks until ctx is cancelled, then shuts the server down
func (h *HealthServer) Serve(ctx context.Context) error {
	if h.listener == nil {
		if err := h.Listen(); err != nil {
			return err
		}
	}

	h.logger.Info().Str("addr", h.Addr()).Msg("Health server listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.server.Serve(h.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("health server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown health server: %w", err)
	}
	h.logger.Info().Msg("Health server stopped")
	return nil
}
