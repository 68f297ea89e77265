package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// fakeSender loops every outbound payload straight into a test-controlled
// handler, simulating a remote peer without a real transport.
type fakeSender struct {
	onSend func(payload []byte)
}

func (f *fakeSender) SendMCP(payload []byte) error {
	if f.onSend != nil {
		f.onSend(payload)
	}
	return nil
}

func newEchoPeer(t *testing.T, engine *Engine, tools []ToolDescriptor) *fakeSender {
	t.Helper()
	sender := &fakeSender{}
	sender.onSend = func(payload []byte) {
		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			t.Fatalf("peer: malformed request: %v", err)
		}
		resp := Response{JSONRPC: "2.0", ID: req.ID}
		switch req.Method {
		case "initialize":
			raw, _ := json.Marshal(map[string]interface{}{"protocolVersion": ProtocolVersion})
			resp.Result = raw
		case "tools/list":
			raw, _ := json.Marshal(ToolsListResult{Tools: tools})
			resp.Result = raw
		case "tools/call":
			raw, _ := json.Marshal(map[string]interface{}{"ok": true})
			resp.Result = raw
		default:
			resp.Error = &RPCError{Code: CodeMethodNotFound, Message: "unknown method"}
		}
		data, _ := json.Marshal(resp)
		go engine.HandleInbound(data)
	}
	return sender
}

func TestEngineInitializeDiscoversRemoteTools(t *testing.T) {
	engine := New(NewRegistry(), nil)
	peer := newEchoPeer(t, engine, []ToolDescriptor{{Name: "lamp.turn_on"}})
	engine.SetSender(peer)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := engine.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !engine.Ready() {
		t.Fatal("expected Ready() true after Initialize")
	}
	tools := engine.RemoteTools()
	if len(tools) != 1 || tools[0].Name != "lamp.turn_on" {
		t.Errorf("RemoteTools = %+v, want [lamp.turn_on]", tools)
	}
}

func TestEngineCallToolBeforeInitializeFails(t *testing.T) {
	engine := New(NewRegistry(), nil)
	engine.SetSender(&fakeSender{})
	_, err := engine.CallTool(context.Background(), "lamp.turn_on", nil)
	if err != errNotReady {
		t.Fatalf("got err %v, want errNotReady", err)
	}
}

func TestEngineCallToolRoundTrip(t *testing.T) {
	engine := New(NewRegistry(), nil)
	peer := newEchoPeer(t, engine, nil)
	engine.SetSender(peer)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := engine.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	result, err := engine.CallTool(ctx, "lamp.turn_on", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	var decoded struct{ OK bool `json:"ok"` }
	if err := json.Unmarshal(result, &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !decoded.OK {
		t.Error("expected ok=true")
	}
}

func TestEngineCallTimesOut(t *testing.T) {
	engine := New(NewRegistry(), nil)
	// Sender that never produces a response.
	engine.SetSender(&fakeSender{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := engine.call(ctx, "initialize", nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	engine.mu.Lock()
	n := len(engine.pending)
	engine.mu.Unlock()
	if n != 0 {
		t.Errorf("pending map not cleaned up after timeout, len=%d", n)
	}
}

func TestEngineServesLocalToolCall(t *testing.T) {
	registry := NewRegistry()
	called := false
	registry.Register(ToolDescriptor{
		Name: "lamp.turn_on",
		Handler: func(args json.RawMessage) (interface{}, error) {
			called = true
			return map[string]interface{}{"state": "on"}, nil
		},
	})
	engine := New(registry, nil)

	var captured []byte
	engine.SetSender(&fakeSender{onSend: func(payload []byte) { captured = payload }})

	params, _ := json.Marshal(ToolsCallParams{Name: "lamp.turn_on"})
	reqData, _ := json.Marshal(Request{JSONRPC: "2.0", ID: 7, Method: "tools/call", Params: params})
	engine.HandleInbound(reqData)

	if !called {
		t.Fatal("expected handler to be invoked")
	}
	var resp Response
	if err := json.Unmarshal(captured, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != 7 || resp.Error != nil {
		t.Errorf("got resp %+v, want id=7 no error", resp)
	}
}

func TestEngineServeInitializeIncludesServerInfo(t *testing.T) {
	engine := New(NewRegistry(), nil)

	var captured []byte
	engine.SetSender(&fakeSender{onSend: func(payload []byte) { captured = payload }})

	reqData, _ := json.Marshal(Request{JSONRPC: "2.0", ID: 3, Method: "initialize"})
	engine.HandleInbound(reqData)

	var resp Response
	if err := json.Unmarshal(captured, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var result struct {
		ProtocolVersion string     `json:"protocolVersion"`
		ServerInfo      ServerInfo `json:"serverInfo"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.ServerInfo.Name != "verdure" || result.ServerInfo.Version == "" {
		t.Errorf("got serverInfo %+v, want name=verdure and a non-empty version", result.ServerInfo)
	}
}

func TestEngineUnknownToolReturnsMethodNotFoundError(t *testing.T) {
	registry := NewRegistry()
	engine := New(registry, nil)

	var captured []byte
	engine.SetSender(&fakeSender{onSend: func(payload []byte) { captured = payload }})

	params, _ := json.Marshal(ToolsCallParams{Name: "nonexistent"})
	reqData, _ := json.Marshal(Request{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: params})
	engine.HandleInbound(reqData)

	var resp Response
	if err := json.Unmarshal(captured, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Errorf("got %+v, want CodeMethodNotFound", resp.Error)
	}
}
