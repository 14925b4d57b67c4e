package daemon

import (
	"encoding/json"
	"fmt"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/query"
)

// JSON-RPC 2.0 method names.
const (
	MethodSearch       = "search"
	MethodAutocomplete = "autocomplete"
	MethodIndex        = "index"
	MethodStatus       = "status"
	MethodPing         = "ping"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Custom error codes for daemon-specific errors.
const (
	ErrCodeIndexNotFound = -32001
	ErrCodeSearchFailed  = -32002
	ErrCodeIndexFailed   = -32003
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      string          `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error represents a JSON-RPC 2.0 error. Data carries the amansearch
// error code when there is one.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Data)
	}
	return e.Message
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{JSONRPC: "2.0", Result: result, ID: id}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{JSONRPC: "2.0", Error: &Error{Code: code, Message: message}, ID: id}
}

// rpcError maps err onto a JSON-RPC error, keeping its amansearch code in
// Data. fallback is used for uncategorised errors.
func rpcError(err error, fallback int) *Error {
	code := fallback
	switch amanerrors.GetCategory(err) {
	case amanerrors.CategoryValidation:
		code = ErrCodeInvalidParams
	case amanerrors.CategoryConfig:
		if amanerrors.HasCode(err, amanerrors.ErrCodeConfigNotFound) {
			code = ErrCodeIndexNotFound
		}
	}
	return &Error{Code: code, Message: err.Error(), Data: amanerrors.GetCode(err)}
}

// SearchParams are the parameters for the search method.
type SearchParams struct {
	// Index is the index ID (required).
	Index string `json:"index"`

	// Query describes keys, conditions, sorts, facets and paging.
	Query query.Request `json:"query"`
}

// Validate checks that required fields are present.
func (p *SearchParams) Validate() error {
	if p.Index == "" {
		return fmt.Errorf("index is required")
	}
	if p.Query.Limit != nil && *p.Query.Limit < 0 {
		p.Query.Limit = nil
	}
	return nil
}

// AutocompleteParams are the parameters for the autocomplete method.
type AutocompleteParams struct {
	Index string `json:"index"`
	Input string `json:"input"`
	Limit int    `json:"limit,omitempty"`
}

// Validate checks that required fields are present.
func (p *AutocompleteParams) Validate() error {
	if p.Index == "" {
		return fmt.Errorf("index is required")
	}
	if p.Input == "" {
		return fmt.Errorf("input is required")
	}
	if p.Limit <= 0 {
		p.Limit = 10
	}
	return nil
}

// IndexParams are the parameters for the index method. An empty Indexes
// list runs one cron pass over every index.
type IndexParams struct {
	Indexes []string `json:"indexes,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// IndexResult reports how many items were indexed. Indexed breaks the
// count down per index for cron passes.
type IndexResult struct {
	Items     int            `json:"items"`
	Indexed   map[string]int `json:"indexed,omitempty"`
	Remaining int            `json:"remaining"`
}

// StatusResult contains daemon status information.
type StatusResult struct {
	Running    bool          `json:"running"`
	PID        int           `json:"pid"`
	Uptime     string        `json:"uptime"`
	Watcher    string        `json:"watcher"`
	Schedule   string        `json:"schedule,omitempty"`
	NextRun    string        `json:"next_run,omitempty"`
	LastRun    string        `json:"last_run,omitempty"`
	LastCheck  string        `json:"last_check,omitempty"`
	Indexes    []IndexStatus `json:"indexes"`
	Driver     string        `json:"driver"`
	DBSize     int64         `json:"db_size"`
	ItemsTotal int           `json:"items_total"`
}

// IndexStatus is the per-index part of StatusResult.
type IndexStatus struct {
	ID        string `json:"id"`
	Server    string `json:"server"`
	Status    string `json:"status"`
	Indexed   int    `json:"indexed"`
	Total     int    `json:"total"`
	ReadOnly  bool   `json:"read_only,omitempty"`
	Disabled  bool   `json:"disabled,omitempty"`
	Remaining int    `json:"remaining"`
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
}
