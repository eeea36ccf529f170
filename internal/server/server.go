// Package server exposes the webhook endpoints over HTTP.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/oes-events/webhooks/internal/logger"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// Config holds the listener configuration.
type Config struct {
	Addr        string
	PrivateOnly bool
	// TLSConfig enables HTTPS when set.
	TLSConfig *tls.Config
}

// Server serves the webhook routes until its context is canceled.
type Server struct {
	config  Config
	handler http.Handler
	log     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// New creates a Server for the given handlers.
func New(cfg Config, h Handlers, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.Component("http"))

	return &Server{
		config:  cfg,
		handler: newRouter(h, cfg.PrivateOnly, log),
		log:     log,
		ready:   make(chan struct{}),
	}
}

// Handler returns the routed handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe starts accepting requests and blocks until ctx is canceled.
// In-flight requests are given time to finish before it returns.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		close(s.ready)
		return err
	}
	if s.config.TLSConfig != nil {
		ln = tls.NewListener(ln, s.config.TLSConfig)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}

	s.log.Info("listening",
		slog.String("addr", ln.Addr().String()),
		slog.Bool("tls", s.config.TLSConfig != nil),
		slog.Bool("private_only", s.config.PrivateOnly),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down, waiting for in-flight requests")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr waits for ListenAndServe to bind and returns the listener address,
// or nil if binding failed.
func (s *Server) Addr() net.Addr {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
