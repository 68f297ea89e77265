// Package protocol defines the typed wire messages exchanged with the
// conversational server, replacing ad hoc JSON field navigation with a
// parse-once, type-switch-dispatch boundary.
package protocol

import "encoding/json"

// Type is the envelope discriminator.
type Type string

const (
	TypeHello   Type = "hello"
	TypeListen  Type = "listen"
	TypeTTS     Type = "tts"
	TypeLLM     Type = "llm"
	TypeMusic   Type = "music"
	TypeIoT     Type = "iot"
	TypeMCP     Type = "mcp"
	TypeAbort   Type = "abort"
)

// Envelope is the common header every message carries; Type selects which
// typed payload Parse returns.
type Envelope struct {
	Type Type `json:"type"`
}

// AudioParams describes the codec and framing both sides negotiate during
// the hello handshake. The server's reply is authoritative: subsequent
// audio frames must use its values, not the client's proposal (spec §3).
type AudioParams struct {
	Format       string `json:"format"`
	SampleRate   int    `json:"sample_rate"`
	Channels     int    `json:"channels"`
	FrameDurMs   int    `json:"frame_duration"`
}

// HelloMessage is the initial handshake sent by the client and echoed by
// the server with its own session_id, audio_params, and feature set.
type HelloMessage struct {
	Type        Type            `json:"type"`
	Version     int             `json:"version"`
	SessionID   string          `json:"session_id,omitempty"`
	Transport   string          `json:"transport"`
	AudioParams AudioParams     `json:"audio_params"`
	Features    map[string]bool `json:"features"`
}

// MCPFeatureEnabled reports whether the peer's hello advertised MCP
// support, the sole trigger for the MCP engine's initialize handshake
// (spec module G).
func (h HelloMessage) MCPFeatureEnabled() bool {
	return h.Features["mcp"]
}

// ListenMessage starts or stops the server's speech recognition for this
// session.
type ListenMessage struct {
	Type  Type   `json:"type"`
	State string `json:"state"` // "start" | "stop" | "detect"
	Mode  string `json:"mode,omitempty"`
	Text  string `json:"text,omitempty"`
}

// TTSMessage carries synthesized-speech lifecycle notifications from the
// server (the audio itself travels as binary frames).
type TTSMessage struct {
	Type  Type   `json:"type"`
	State string `json:"state"` // "start" | "sentence_start" | "stop"
	Text  string `json:"text,omitempty"`
}

// LLMMessage carries assistant text output/status.
type LLMMessage struct {
	Type Type   `json:"type"`
	Text string `json:"text"`
}

// MusicMessage controls local music playback coordination.
type MusicMessage struct {
	Type   Type   `json:"type"`
	Action string `json:"action"` // "play" | "pause" | "resume" | "stop"
	Track  string `json:"track,omitempty"`
}

// IoTMessage carries device control intents outside the MCP tool-call path.
type IoTMessage struct {
	Type       Type                   `json:"type"`
	Device     string                 `json:"device"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// MCPMessage wraps a JSON-RPC 2.0 payload inside the envelope so MCP traffic
// can be multiplexed alongside the other message types on one connection.
type MCPMessage struct {
	Type      Type            `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// AbortMessage requests that any in-progress TTS/LLM turn stop immediately
// (user interrupt).
type AbortMessage struct {
	Type   Type   `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// ParseError wraps a malformed envelope; receiving it must never close the
// connection (see the transport's read loop).
type ParseError struct {
	Raw []byte
	Err error
}

func (e *ParseError) Error() string { return "protocol: " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

// Parse inspects the envelope's type field and unmarshals into the matching
// typed message. Unknown types return (nil, nil) so callers can log and
// ignore rather than treat the connection as broken.
func Parse(data []byte) (interface{}, error) {
	var head Envelope
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, &ParseError{Raw: data, Err: err}
	}

	var (
		out interface{}
		err error
	)
	switch head.Type {
	case TypeHello:
		var m HelloMessage
		err = json.Unmarshal(data, &m)
		out = m
	case TypeListen:
		var m ListenMessage
		err = json.Unmarshal(data, &m)
		out = m
	case TypeTTS:
		var m TTSMessage
		err = json.Unmarshal(data, &m)
		out = m
	case TypeLLM:
		var m LLMMessage
		err = json.Unmarshal(data, &m)
		out = m
	case TypeMusic:
		var m MusicMessage
		err = json.Unmarshal(data, &m)
		out = m
	case TypeIoT:
		var m IoTMessage
		err = json.Unmarshal(data, &m)
		out = m
	case TypeMCP:
		var m MCPMessage
		err = json.Unmarshal(data, &m)
		out = m
	case TypeAbort:
		var m AbortMessage
		err = json.Unmarshal(data, &m)
		out = m
	default:
		return nil, nil
	}
	if err != nil {
		return nil, &ParseError{Raw: data, Err: err}
	}
	return out, nil
}

// Marshal serializes any typed message back to its wire form.
func Marshal(msg interface{}) ([]byte, error) {
	return json.Marshal(msg)
}
