package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sender writes a fully framed MCP JSON-RPC payload to the remote peer.
// Implemented by the transport layer.
type Sender interface {
	SendMCP(payload []byte) error
}

// pendingRequest tracks one outstanding client-role call awaiting a
// response, mirroring the correlation-map idiom used for request/response
// matching across the pack.
type pendingRequest struct {
	resultCh chan Response
}

// requestTimeout bounds how long a tools/call (or initialize/tools/list)
// waits for a matching response before resolving with a timeout error.
const requestTimeout = 10 * time.Second

// Engine is both a JSON-RPC client (toward the remote peer's tools) and a
// JSON-RPC server (exposing this device's own Registry).
type Engine struct {
	sender Sender
	logger *zap.SugaredLogger

	nextID int64

	mu      sync.Mutex
	pending map[int64]*pendingRequest

	registry *Registry

	remoteMu    sync.RWMutex
	remoteTools map[string]ToolDescriptor

	ready atomic.Bool
}

// New creates an Engine. sender is wired in after transport connect via
// SetSender, since the transport and engine are constructed independently.
func New(registry *Registry, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{
		logger:      logger,
		pending:     make(map[int64]*pendingRequest),
		registry:    registry,
		remoteTools: make(map[string]ToolDescriptor),
	}
}

// SetSender wires the transport used to deliver outbound JSON-RPC payloads.
func (e *Engine) SetSender(s Sender) {
	e.sender = s
}

// Ready reports whether Initialize has completed successfully.
func (e *Engine) Ready() bool { return e.ready.Load() }

// RemoteTools returns the tools the remote peer advertised via tools/list.
func (e *Engine) RemoteTools() []ToolDescriptor {
	e.remoteMu.RLock()
	defer e.remoteMu.RUnlock()
	out := make([]ToolDescriptor, 0, len(e.remoteTools))
	for _, td := range e.remoteTools {
		out = append(out, td)
	}
	return out
}

// Initialize performs the initialize + tools/list handshake. No tools/call
// may be issued before this completes.
func (e *Engine) Initialize(ctx context.Context) error {
	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]interface{}{"tools": map[string]interface{}{}},
		ClientInfo:      ClientInfo{Name: "verdure-assistant", Version: "1.0"},
	}
	raw, _ := json.Marshal(params)
	if _, err := e.call(ctx, "initialize", raw); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	listResp, err := e.call(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}
	var result ToolsListResult
	if err := json.Unmarshal(listResp, &result); err != nil {
		return fmt.Errorf("decode tools/list result: %w", err)
	}

	e.remoteMu.Lock()
	e.remoteTools = make(map[string]ToolDescriptor, len(result.Tools))
	for _, td := range result.Tools {
		e.remoteTools[td.Name] = td
	}
	e.remoteMu.Unlock()

	e.ready.Store(true)
	return nil
}

// CallTool invokes a remote tool by name. Returns errNotReady if Initialize
// has not completed.
func (e *Engine) CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	if !e.ready.Load() {
		return nil, errNotReady
	}
	params := ToolsCallParams{Name: name, Arguments: args}
	raw, _ := json.Marshal(params)
	return e.call(ctx, "tools/call", raw)
}

var errNotReady = fmt.Errorf("mcp: engine not initialized")

// resultText renders a tool handler's return value as the single text
// block the tools/call envelope carries: a string passes through verbatim
// (a human-readable confirmation message), anything else is JSON-encoded.
func resultText(result interface{}) string {
	if s, ok := result.(string); ok {
		return s
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(raw)
}

// call sends a request and blocks for its matching response.
func (e *Engine) call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	id := atomic.AddInt64(&e.nextID, 1)
	req := Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	pr := &pendingRequest{resultCh: make(chan Response, 1)}
	e.mu.Lock()
	e.pending[id] = pr
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
	}()

	if e.sender == nil {
		return nil, fmt.Errorf("mcp: no transport attached")
	}
	if err := e.sender.SendMCP(data); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	tctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	select {
	case resp := <-pr.resultCh:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-tctx.Done():
		return nil, fmt.Errorf("mcp: request %q timed out after %s", method, requestTimeout)
	}
}

// HandleInbound dispatches one inbound JSON-RPC payload: a response
// correlates to a pending call; a request is served from the local
// Registry (server role). Never returns an error that should close the
// connection: a payload that fails to parse is logged at debug level and
// dropped, and an unknown method or tool resolves to a JSON-RPC error
// response.
func (e *Engine) HandleInbound(raw json.RawMessage) {
	var probe struct {
		ID     *int64 `json:"id"`
		Method string `json:"method"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		e.logger.Debugw("mcp: malformed payload", "err", err)
		return
	}

	if probe.Method == "" {
		// A response to one of our outbound calls.
		var resp Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			e.logger.Debugw("mcp: malformed response", "err", err)
			return
		}
		e.mu.Lock()
		pr, ok := e.pending[resp.ID]
		e.mu.Unlock()
		if ok {
			pr.resultCh <- resp
		}
		return
	}

	// Inbound request: serve from our Registry.
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		e.logger.Debugw("mcp: malformed request", "err", err)
		return
	}
	e.serveRequest(req)
}

func (e *Engine) serveRequest(req Request) {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		result := map[string]interface{}{
			"protocolVersion": ProtocolVersion,
			"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
			"serverInfo":      ServerInfo{Name: serverName, Version: serverVersion},
		}
		raw, _ := json.Marshal(result)
		resp.Result = raw
	case "tools/list":
		raw, _ := json.Marshal(ToolsListResult{Tools: e.registry.List()})
		resp.Result = raw
	case "tools/call":
		var params ToolsCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &RPCError{Code: CodeInvalidParams, Message: err.Error()}
			break
		}
		td, ok := e.registry.Get(params.Name)
		if !ok {
			resp.Error = &RPCError{Code: CodeMethodNotFound, Message: "unknown tool: " + params.Name}
			break
		}
		result, err := td.Handler(params.Arguments)
		if err != nil {
			resp.Error = &RPCError{Code: CodeInternalError, Message: err.Error()}
			break
		}
		raw, _ := json.Marshal(ToolCallResult{
			Content: []ToolContent{{Type: "text", Text: resultText(result)}},
			IsError: false,
		})
		resp.Result = raw
	default:
		resp.Error = &RPCError{Code: CodeMethodNotFound, Message: "unknown method: " + req.Method}
	}

	data, err := json.Marshal(resp)
	if err != nil {
		e.logger.Errorw("mcp: failed to marshal response", "err", err)
		return
	}
	if e.sender != nil {
		if err := e.sender.SendMCP(data); err != nil {
			e.logger.Warnw("mcp: failed to send response", "err", err)
		}
	}
}
