package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rustyguts/verdure/internal/protocol"
)

var testUpgrader = websocket.Upgrader{}

// startEchoServer runs a minimal server that replies to hello with a hello
// echo, then echoes back anything else it receives (audio as binary,
// control/MCP as text), to exercise WSTransport's dispatch paths.
func startEchoServer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		// Hello handshake.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		helloReply, _ := protocol.Marshal(protocol.HelloMessage{Type: protocol.TypeHello, Version: 1})
		if err := conn.WriteMessage(websocket.TextMessage, helloReply); err != nil {
			return
		}

		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(msgType, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSTransportConnectCompletesHelloHandshake(t *testing.T) {
	addr := startEchoServer(t)
	tr := NewWSTransport(16000, 1, 60, nil)
	defer tr.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tr.Connect(ctx, addr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func TestWSTransportSendAudioRoundTrip(t *testing.T) {
	addr := startEchoServer(t)
	tr := NewWSTransport(16000, 1, 60, nil)
	defer tr.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tr.Connect(ctx, addr); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	received := make(chan []byte, 1)
	tr.SetOnAudioReceived(func(data []byte) { received <- data })

	if err := tr.SendAudio([]byte{1, 2, 3}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case data := <-received:
		if len(data) != 3 || data[0] != 1 {
			t.Errorf("got %v, want [1 2 3]", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for echoed audio frame")
	}
}

func TestWSTransportSendMCPRoundTripUnwrapsEnvelope(t *testing.T) {
	addr := startEchoServer(t)
	tr := NewWSTransport(16000, 1, 60, nil)
	defer tr.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tr.Connect(ctx, addr); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	received := make(chan []byte, 1)
	tr.SetOnMCPMessage(func(payload []byte) { received <- payload })

	rpcPayload := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if err := tr.SendMCP(rpcPayload); err != nil {
		t.Fatalf("SendMCP: %v", err)
	}

	select {
	case payload := <-received:
		if !strings.Contains(string(payload), "tools/list") {
			t.Errorf("got %q, want it to contain tools/list", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for echoed mcp payload")
	}
}

func TestWSTransportDisconnectInvokesCallback(t *testing.T) {
	addr := startEchoServer(t)
	tr := NewWSTransport(16000, 1, 60, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tr.Connect(ctx, addr); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	disconnected := make(chan string, 1)
	tr.SetOnDisconnected(func(reason string) { disconnected <- reason })

	tr.Disconnect()
	// Closing the socket makes readLoop's pending read fail, and readLoop
	// reports that through onDisconnected; the transport is left unusable.
	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onDisconnected after Disconnect")
	}
	if err := tr.SendAudio([]byte{1}); err == nil {
		t.Error("expected SendAudio to fail after Disconnect")
	}
}
