// Package rpc serves the daemon's command surface over a local filesystem
// socket: newline-delimited JSON-RPC 2.0 frames.
package rpc

import (
	"encoding/json"

	"github.com/localcdp/browserd/internal/rpcerr"
)

// Request is one inbound command frame.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response answers a request with either a result or an error.
type Response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      uint64    `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError is the wire form of a typed error kind.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// Notification is an out-of-band server push (no id, no reply).
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

func successResponse(id uint64, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id uint64, err error) Response {
	rpcErr := &RPCError{Code: rpcerr.CodeOf(err), Message: err.Error()}
	if e, ok := rpcerr.As(err); ok {
		rpcErr.Kind = string(e.Kind)
		rpcErr.Message = e.Message
	}
	return Response{JSONRPC: "2.0", ID: id, Error: rpcErr}
}
