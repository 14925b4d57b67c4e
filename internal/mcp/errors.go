// Package mcp serves amansearch indexes to MCP clients: search and
// autocomplete tools, index status, and index resources.
package mcp

import (
	"context"
	"errors"
	"fmt"

	amerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

// JSON-RPC error codes. The -3200x range is amansearch's own.
const (
	ErrCodeIndexNotFound = -32001
	ErrCodeSearchFailed  = -32002
	ErrCodeTimeout       = -32003
	// ErrCodeUnavailable means the index or its server is offline.
	ErrCodeUnavailable = -32004

	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is the error a tool handler hands back to the client.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string { return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message) }

// NewInvalidParamsError reports bad tool arguments.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError reports an unknown tool.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

// codeByAmanCode overrides codeByCategory for single codes.
var codeByAmanCode = map[string]int{
	amerrors.ErrCodeConfigNotFound:     ErrCodeIndexNotFound,
	amerrors.ErrCodeUnsupportedFeature: ErrCodeInvalidParams,
	amerrors.ErrCodeIndexDisabled:      ErrCodeUnavailable,
	amerrors.ErrCodeNoServer:           ErrCodeUnavailable,
	amerrors.ErrCodeBackendUnavailable: ErrCodeUnavailable,
}

var codeByCategory = map[amerrors.Category]int{
	amerrors.CategoryConfig:     ErrCodeInvalidParams,
	amerrors.CategoryValidation: ErrCodeInvalidParams,
	amerrors.CategorySearch:     ErrCodeSearchFailed,
	amerrors.CategoryNetwork:    ErrCodeUnavailable,
}

// MapError turns any error into an MCPError. Coded errors keep their
// message and suggestion; other errors get a generic message so internals
// do not leak to clients.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}
	var me *MCPError
	if errors.As(err, &me) {
		return me
	}
	if ae, ok := amerrors.As(err); ok {
		msg := ae.Message
		if ae.Suggestion != "" {
			msg += " " + ae.Suggestion
		}
		code, ok := codeByAmanCode[ae.Code]
		if !ok {
			code, ok = codeByCategory[ae.Category()]
		}
		if !ok {
			code = ErrCodeInternalError
		}
		return &MCPError{Code: code, Message: msg}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	}
	return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
}
