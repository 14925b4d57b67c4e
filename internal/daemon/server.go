package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Aman-CERP/amansearch/internal/app"
	"github.com/Aman-CERP/amansearch/internal/backend"
)

// RequestHandler handles incoming RPC requests.
type RequestHandler interface {
	Search(ctx context.Context, params SearchParams) (*app.SearchResponse, error)
	Autocomplete(ctx context.Context, params AutocompleteParams) ([]backend.Suggestion, error)
	Index(ctx context.Context, params IndexParams) (*IndexResult, error)
	Status(ctx context.Context) (*StatusResult, error)
}

// method runs one decoded call. A non-nil *Error is sent back as is.
type method func(ctx context.Context, params json.RawMessage) (any, *Error)

// Server answers newline-delimited JSON-RPC requests on a Unix socket. A
// connection may carry several requests; each one gets the server timeout.
type Server struct {
	socketPath string
	timeout    time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	handler  RequestHandler
	started  time.Time
	closed   bool
	// stop wakes idle connections on Close.
	stop  context.CancelFunc
	conns sync.WaitGroup
}

// NewServer creates a server for socketPath. A zero timeout means 30s.
func NewServer(socketPath string, timeout time.Duration, logger *slog.Logger) *Server {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{socketPath: socketPath, timeout: timeout, logger: logger}
}

// SetHandler sets the request handler. Without one only ping answers.
func (s *Server) SetHandler(h RequestHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// ListenAndServe serves until ctx is done or Close is called, then waits
// for open connections to finish.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// A socket left behind by a crashed daemon blocks Listen.
	_ = os.Remove(s.socketPath)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener, s.started = ln, time.Now()
	closing, stop := context.WithCancel(context.Background())
	s.stop = stop
	s.mu.Unlock()
	defer os.Remove(s.socketPath)

	s.logger.Info("server_listening", slog.String("socket", s.socketPath))
	unwatch := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer unwatch()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				break
			}
			s.logger.Error("accept_failed", slog.String("error", err.Error()))
			continue
		}
		s.conns.Go(func() { s.serveConn(ctx, closing, conn) })
	}
	s.conns.Wait()
	return ctx.Err()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) serveConn(ctx, closing context.Context, conn net.Conn) {
	defer conn.Close()
	wake := context.AfterFunc(closing, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer wake()

	dec := json.NewDecoder(bufio.NewReader(conn))
	enc := json.NewEncoder(conn)
	for {
		_ = conn.SetDeadline(time.Now().Add(s.timeout))
		if closing.Err() != nil {
			return
		}

		var req Request
		if err := dec.Decode(&req); err != nil {
			var netErr net.Error
			if !errors.Is(err, io.EOF) && !(errors.As(err, &netErr) && netErr.Timeout()) {
				_ = enc.Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
			}
			return
		}
		if err := enc.Encode(s.dispatch(ctx, req)); err != nil {
			s.logger.Debug("rpc_write_failed", slog.String("error", err.Error()))
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	fn, ok := s.methods()[req.Method]
	if !ok {
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
	res, rpcErr := fn(ctx, req.Params)
	s.logger.Debug("rpc_handled",
		slog.String("method", req.Method),
		slog.Bool("ok", rpcErr == nil),
		slog.Duration("took", time.Since(start)))
	if rpcErr != nil {
		return Response{JSONRPC: "2.0", Error: rpcErr, ID: req.ID}
	}
	return NewSuccessResponse(req.ID, res)
}

// methods returns the dispatch table for the current handler.
func (s *Server) methods() map[string]method {
	s.mu.Lock()
	h, started := s.handler, s.started
	s.mu.Unlock()

	table := map[string]method{
		MethodPing: func(context.Context, json.RawMessage) (any, *Error) { return PingResult{Pong: true}, nil },
	}
	if h == nil {
		for _, name := range []string{MethodSearch, MethodAutocomplete, MethodIndex, MethodStatus} {
			table[name] = func(context.Context, json.RawMessage) (any, *Error) {
				return nil, &Error{Code: ErrCodeInternalError, Message: "no handler configured"}
			}
		}
		return table
	}
	table[MethodSearch] = bind(h.Search, ErrCodeSearchFailed)
	table[MethodAutocomplete] = bind(h.Autocomplete, ErrCodeSearchFailed)
	table[MethodIndex] = bind(h.Index, ErrCodeIndexFailed)
	table[MethodStatus] = func(ctx context.Context, _ json.RawMessage) (any, *Error) {
		st, err := h.Status(ctx)
		if err != nil {
			return nil, rpcError(err, ErrCodeInternalError)
		}
		st.Running = true
		st.PID = os.Getpid()
		st.Uptime = time.Since(started).Round(time.Second).String()
		return st, nil
	}
	return table
}

// bind adapts a typed handler method. Params with a Validate method are
// checked before fn runs.
func bind[P, R any](fn func(context.Context, P) (R, error), failCode int) method {
	return func(ctx context.Context, raw json.RawMessage) (any, *Error) {
		var params P
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, &Error{Code: ErrCodeInvalidParams, Message: "failed to decode params"}
			}
		}
		if v, ok := any(&params).(interface{ Validate() error }); ok {
			if err := v.Validate(); err != nil {
				return nil, &Error{Code: ErrCodeInvalidParams, Message: err.Error()}
			}
		}
		res, err := fn(ctx, params)
		if err != nil {
			return nil, rpcError(err, failCode)
		}
		return res, nil
	}
}

// Close stops accepting connections. Connections in flight finish their
// current request.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.stop != nil {
		s.stop()
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
