// Package transport connects the assistant to its conversational server.
// Two concrete implementations are provided: a WebSocket client
// (github.com/gorilla/websocket) and an MQTT client
// (github.com/eclipse/paho.golang), selected by configuration.
package transport

import "context"

// Transporter is the session surface the orchestrator depends on. Trimmed
// to this repo's single-server voice session, unlike a multi-peer chat
// transport's user/channel/moderation surface.
type Transporter interface {
	// Connect performs the hello handshake and starts the background
	// read loop. Blocks until the handshake completes or times out.
	Connect(ctx context.Context, addr string) error
	Disconnect()

	// SendAudio ships one encoded Opus frame to the server.
	SendAudio(opusFrame []byte) error
	// SendControl ships one marshaled protocol envelope (see
	// internal/protocol) as a text frame.
	SendControl(payload []byte) error
	// SendMCP implements mcp.Sender, multiplexing JSON-RPC traffic over
	// the same control channel inside an MCP envelope.
	SendMCP(payload []byte) error

	SetOnAudioReceived(fn func(opusFrame []byte))
	SetOnControlMessage(fn func(payload []byte))
	SetOnMCPMessage(fn func(payload []byte))
	SetOnDisconnected(fn func(reason string))

	GetMetrics() Metrics
}
