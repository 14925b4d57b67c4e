package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/amansearch/internal/app"
	"github.com/Aman-CERP/amansearch/internal/backend"
)

// Client talks to a running daemon, one connection per call.
type Client struct {
	socketPath string
	timeout    time.Duration
	seq        atomic.Uint64
}

// NewClient creates a client for the daemon described by cfg.
func NewClient(cfg Config) *Client {
	return &Client{socketPath: cfg.SocketPath, timeout: cfg.Timeout}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return conn, nil
}

// IsRunning reports whether the daemon accepts connections.
func (c *Client) IsRunning() bool {
	conn, err := c.dial(context.Background())
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks that the daemon answers requests.
func (c *Client) Ping(ctx context.Context) error {
	_, err := call[PingResult](ctx, c, MethodPing, nil)
	return wrap("ping", err)
}

// Search runs a search on the daemon.
func (c *Client) Search(ctx context.Context, params SearchParams) (*app.SearchResponse, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	res, err := call[app.SearchResponse](ctx, c, MethodSearch, params)
	return res, wrap("search", err)
}

// Autocomplete asks the daemon for completions.
func (c *Client) Autocomplete(ctx context.Context, params AutocompleteParams) ([]backend.Suggestion, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	res, err := call[[]backend.Suggestion](ctx, c, MethodAutocomplete, params)
	if err != nil {
		return nil, wrap("autocomplete", err)
	}
	return *res, nil
}

// Index asks the daemon to index pending items now.
func (c *Client) Index(ctx context.Context, params IndexParams) (*IndexResult, error) {
	res, err := call[IndexResult](ctx, c, MethodIndex, params)
	return res, wrap("index", err)
}

// Status returns the daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	res, err := call[StatusResult](ctx, c, MethodStatus, nil)
	return res, wrap("status", err)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

// call sends one request and decodes its result as R. An RPC error comes
// back as *Error.
func call[R any](ctx context.Context, c *Client, method string, params any) (*R, error) {
	req := Request{JSONRPC: "2.0", Method: method, ID: "req-" + strconv.FormatUint(c.seq.Add(1), 10)}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode params: %w", err)
		}
		req.Params = raw
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
	}
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to receive response: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	out := new(R)
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return nil, fmt.Errorf("failed to decode result: %w", err)
		}
	}
	return out, nil
}
