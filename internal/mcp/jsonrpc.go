// Package mcp implements a Model Context Protocol-style JSON-RPC 2.0 engine
// multiplexed inside the transport's envelope framing. It plays both roles:
// client (discovering and calling the server's tools) and server (exposing
// this device's own tools to the remote peer).
package mcp

import "encoding/json"

// Request is an outbound or inbound JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response (success or error, never both).
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// Standard JSON-RPC error codes used by this engine.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeTimeout        = -32000
)

// InitializeParams is sent by the client-role side as the first request.
type InitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ClientInfo      ClientInfo             `json:"clientInfo"`
}

// ClientInfo identifies this assistant to the remote peer.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo identifies this device to a remote peer that initializes
// against our server role.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// serverName/serverVersion identify this device in the server-role
// initialize response.
const (
	serverName    = "verdure"
	serverVersion = "1.0"
)

// ProtocolVersion is the MCP protocol version this engine speaks.
const ProtocolVersion = "2024-11-05"

// ToolDescriptor describes one callable tool, whether ours (server role) or
// the remote peer's (client role, populated from tools/list).
type ToolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
	Handler     func(args json.RawMessage) (interface{}, error) `json:"-"`
}

// ToolsListResult is the result of a tools/list call.
type ToolsListResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// ToolsCallParams is the params of a tools/call request.
type ToolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolContent is one block of a tools/call result (text only: no device
// adapter in this registry returns images or resource links).
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolCallResult is the result value of a successful tools/call, per the
// tool-response envelope the remote peer expects (spec module G).
type ToolCallResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError"`
}
