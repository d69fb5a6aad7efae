package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/circuit-labs/circuit/internal/config"
)

// Server owns the accept loop and the hub lifecycle.
type Server struct {
	cfg     *config.ServerConfig
	logger  *zap.Logger
	hub     *Hub
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	httpShutdown func(ctx context.Context) error
}

// NewServer wires the dispatcher into a hub and prepares the HTTP
// surface. The dispatcher must be fully registered before Start.
func NewServer(cfg *config.ServerConfig, dispatcher *Dispatcher, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		logger: logger,
		hub: NewHub(
			ctx,
			dispatcher,
			cfg.Server.AuthToken,
			cfg.Server.AllowedOrigins,
			time.Duration(cfg.Server.HeartbeatIntervalSec)*time.Second,
			cfg.Server.HeartbeatTimeoutCount,
			logger,
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start binds the configured port and begins accepting connections.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind to port %d: %w", s.cfg.Server.Port, err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run()
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.hub.ServeWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpSrv := &http.Server{
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.httpShutdown = httpSrv.Shutdown

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("server listening",
			zap.String("addr", addr),
			zap.Int("heartbeat_interval_sec", s.cfg.Server.HeartbeatIntervalSec),
		)
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the server: HTTP first so no new
// connections arrive, then the hub via context cancellation.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.mu.Unlock()

	s.logger.Info("server shutting down")

	if s.httpShutdown != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.httpShutdown(shutdownCtx); err != nil {
			s.logger.Error("http shutdown error", zap.Error(err))
		}
		shutdownCancel()
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("server shutdown complete")
	case <-time.After(10 * time.Second):
		s.logger.Warn("server shutdown timeout exceeded")
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) Hub() *Hub {
	return s.hub
}
