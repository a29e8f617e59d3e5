package devserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/reelforge/reelforge/internal/logging"
)

type Server struct {
	httpServer *http.Server
	backend    *Backend
	logger     *slog.Logger
}

type ServerConfig struct {
	Port   int
	Step   time.Duration
	Logger *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logging.WithComponent(logger, "devserver")
	backend := NewBackend(cfg.Step, nil)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      NewRouter(backend, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		backend: backend,
		logger:  logger,
	}
}

func (s *Server) Backend() *Backend {
	return s.backend
}

func (s *Server) Start() error {
	s.logger.Info("starting simulated generation API", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Serve is Start on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("starting simulated generation API", "addr", l.Addr().String())
	err := s.httpServer.Serve(l)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down simulated generation API")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
