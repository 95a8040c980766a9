package lsp

import (
	"errors"
	"fmt"

	"github.com/sourcegraph/jsonrpc2"
)

// Standard errors returned by the LSP layer.
var (
	// ErrAlreadyStarted indicates Start was called on a server that is not
	// in the unstarted state.
	ErrAlreadyStarted = errors.New("lsp server already started")

	// ErrConnectionClosed indicates the JSON-RPC connection is gone.
	ErrConnectionClosed = errors.New("lsp connection closed")

	// ErrServerNotReady indicates the server is not ready to handle requests.
	ErrServerNotReady = errors.New("server not ready")

	// ErrTimeout indicates a request or wait timed out.
	ErrTimeout = errors.New("request timed out")

	// ErrServerCrashed indicates the server process terminated unexpectedly.
	ErrServerCrashed = errors.New("server crashed")

	// ErrInvalidResponse indicates an invalid response from the server.
	ErrInvalidResponse = errors.New("invalid response from server")

	// ErrRelativeRoot indicates a workspace root that is not absolute.
	ErrRelativeRoot = errors.New("workspace root must be an absolute path")
)

// RPCError represents a JSON-RPC error from the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	// JSON-RPC standard errors
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// LSP-specific errors
	CodeServerNotInitialized = -32002
	CodeUnknownErrorCode     = -32001
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
	CodeServerCancelled      = -32802
	CodeRequestFailed        = -32803
)

// fromWire converts a jsonrpc2 error response into an *RPCError.
func fromWire(err *jsonrpc2.Error) *RPCError {
	rpcErr := &RPCError{Code: int(err.Code), Message: err.Message}
	if err.Data != nil {
		rpcErr.Data = string(*err.Data)
	}
	return rpcErr
}

// toWire converts a handler error into the error object sent back to
// the server. Handlers may return an *RPCError to choose the code.
func toWire(err error) *jsonrpc2.Error {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		wire := &jsonrpc2.Error{Code: int64(rpcErr.Code), Message: rpcErr.Message}
		if rpcErr.Data != nil {
			wire.SetError(rpcErr.Data)
		}
		return wire
	}
	return &jsonrpc2.Error{Code: CodeInternalError, Message: err.Error()}
}

// ServerError represents an error related to server lifecycle. State is
// the lifecycle state the server was in when the error occurred.
type ServerError struct {
	LanguageID string
	State      State
	Err        error
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server %s (%s): %v", e.LanguageID, e.State, e.Err)
}

// Unwrap returns the underlying error.
func (e *ServerError) Unwrap() error {
	return e.Err
}
