package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/learnhub/mailqueue/pkg/logger"
)

type config struct {
	addr            string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration
	server          *http.Server
	logger          *slog.Logger
	startHooks      []func(addr string)
	stopHooks       []func()
}

func defaultConfig() *config {
	return &config{
		addr:            ":8080",
		shutdownTimeout: 5 * time.Second,
	}
}

// Server wraps http.Server with context driven graceful shutdown.
type Server struct {
	cfg  *config
	once sync.Once

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// New returns a configured Server. Without WithLogger it logs nothing.
func New(opts ...Option) *Server {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = newNoopLogger()
	}
	return &Server{cfg: cfg}
}

// Run serves handler until ctx is cancelled or Shutdown is called, then drains
// in-flight requests for at most the shutdown timeout. Listen failures are
// wrapped with ErrStart.
func (s *Server) Run(ctx context.Context, handler http.Handler) error {
	if handler == nil {
		handler = http.NotFoundHandler()
	}

	s.mu.Lock()
	if s.srv != nil {
		s.mu.Unlock()
		return errors.Join(ErrStart, errors.New("server already running"))
	}

	cfg := s.cfg
	srv := cfg.server
	if srv == nil {
		srv = &http.Server{}
	}
	if srv.Addr == "" {
		srv.Addr = cfg.addr
	}
	if srv.ReadTimeout == 0 {
		srv.ReadTimeout = cfg.readTimeout
	}
	if srv.WriteTimeout == 0 {
		srv.WriteTimeout = cfg.writeTimeout
	}
	if srv.IdleTimeout == 0 {
		srv.IdleTimeout = cfg.idleTimeout
	}
	srv.Handler = handler

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		s.mu.Unlock()
		return errors.Join(ErrStart, err)
	}
	s.srv, s.ln = srv, ln
	s.mu.Unlock()

	addr := ln.Addr().String()
	cfg.logger.Info("http server listening", slog.String("addr", addr))
	for _, h := range cfg.startHooks {
		h(addr)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	var runErr error
	select {
	case <-ctx.Done():
		// the parent context is already done; drain on a fresh one
		if err := s.Shutdown(context.WithoutCancel(ctx)); err != nil {
			cfg.logger.Error("http server shutdown failed", logger.Error(err))
		}
		runErr = <-errCh
	case runErr = <-errCh:
	}

	if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
		return errors.Join(ErrStart, runErr)
	}
	return nil
}

// Start returns a function running the server until ctx is done, for use
// with errgroup.Group.Go.
func (s *Server) Start(ctx context.Context, handler http.Handler) func() error {
	return func() error {
		return s.Run(ctx, handler)
	}
}

// Addr returns the address the server is listening on, or "" before Run
// has bound it. Useful with ":0".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops the server gracefully. Only the first call does anything.
// Errors from http.Server.Shutdown are wrapped with ErrShutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		srv := s.srv
		s.mu.Unlock()
		if srv == nil {
			return
		}

		ctx, cancel := context.WithTimeout(ctx, s.cfg.shutdownTimeout)
		defer cancel()
		err = srv.Shutdown(ctx)

		for _, h := range s.cfg.stopHooks {
			h()
		}
		s.cfg.logger.Info("http server stopped")
	})

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Join(ErrShutdown, err)
	}
	return nil
}
