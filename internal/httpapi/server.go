package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server serves the API until its context is cancelled.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a server listening on addr.
func NewServer(addr string, svc Service, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(svc, opts),
			ReadHeaderTimeout: readHeaderTimeout,
		},
		logger: opts.Logger,
	}
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("http_listening", slog.String("addr", ln.Addr().String()))
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http_shutdown_failed", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("http_stopped")
	return nil
}
