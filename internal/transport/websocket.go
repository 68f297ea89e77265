package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rustyguts/verdure/internal/protocol"
)

// helloTimeout bounds how long Connect waits for the server's hello
// handshake response.
const helloTimeout = 5 * time.Second

// readIdleTimeout makes readLoop report a disconnect if no data frame (text
// or binary) arrives for this long. Ping and pong control frames are handled
// inside ReadMessage and do not extend the deadline.
const readIdleTimeout = 30 * time.Second

// backoff bounds for reconnect attempts, reset to the floor on every
// successful hello.
const (
	backoffFloor = 250 * time.Millisecond
	backoffCeil  = 8 * time.Second
)

// WSTransport is a Transporter backed by a single WebSocket connection.
// gorilla/websocket allows only one concurrent reader and one concurrent
// writer per connection: reads happen exclusively in readLoop, writes are
// serialized by writeMu.
type WSTransport struct {
	logger *zap.SugaredLogger

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	writeMu sync.Mutex

	sampleRate, channels, frameDurMs int

	helloMu     sync.RWMutex
	serverHello protocol.HelloMessage

	cbMu              sync.RWMutex
	onAudioReceived   func([]byte)
	onControlMessage  func([]byte)
	onMCPMessage      func([]byte)
	onDisconnected    func(reason string)

	textCh chan []byte

	metricsMu    sync.Mutex
	lastPingSent time.Time
	smoothedRTT  float64
	bytesSent    uint64
	lastMetrics  time.Time
}

// NewWSTransport creates a ready-to-use transport. sampleRate/channels/
// frameDurMs populate the outbound hello handshake.
func NewWSTransport(sampleRate, channels, frameDurMs int, logger *zap.SugaredLogger) *WSTransport {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &WSTransport{
		logger:     logger,
		sampleRate: sampleRate,
		channels:   channels,
		frameDurMs: frameDurMs,
		lastMetrics: time.Now(),
	}
}

func (t *WSTransport) SetOnAudioReceived(fn func([]byte))   { t.cbMu.Lock(); t.onAudioReceived = fn; t.cbMu.Unlock() }
func (t *WSTransport) SetOnControlMessage(fn func([]byte))  { t.cbMu.Lock(); t.onControlMessage = fn; t.cbMu.Unlock() }
func (t *WSTransport) SetOnMCPMessage(fn func([]byte))      { t.cbMu.Lock(); t.onMCPMessage = fn; t.cbMu.Unlock() }
func (t *WSTransport) SetOnDisconnected(fn func(string))    { t.cbMu.Lock(); t.onDisconnected = fn; t.cbMu.Unlock() }

// Connect dials addr, performs the hello handshake, and starts the
// background read, dispatch and ping loops. It does not reconnect after a
// drop; ConnectLoop does.
func (t *WSTransport) Connect(ctx context.Context, addr string) error {
	dialCtx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, addr, nil)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	hello := protocol.HelloMessage{
		Type:      protocol.TypeHello,
		Version:   1,
		Transport: "websocket",
		AudioParams: protocol.AudioParams{
			Format:     "opus",
			SampleRate: t.sampleRate,
			Channels:   t.channels,
			FrameDurMs: t.frameDurMs,
		},
		Features: map[string]bool{"mcp": true},
	}
	data, err := protocol.Marshal(hello)
	if err != nil {
		conn.Close()
		return fmt.Errorf("transport: marshal hello: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		conn.Close()
		return fmt.Errorf("transport: send hello: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	_, reply, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("transport: hello response: %w", err)
	}
	parsed, err := protocol.Parse(reply)
	if err != nil {
		conn.Close()
		return fmt.Errorf("transport: malformed hello response: %w", err)
	}
	serverHello, ok := parsed.(protocol.HelloMessage)
	if !ok {
		conn.Close()
		return fmt.Errorf("transport: expected hello response, got %T", parsed)
	}
	t.helloMu.Lock()
	t.serverHello = serverHello
	t.helloMu.Unlock()
	// The server's audio_params are authoritative for the rest of the
	// session (spec §3): subsequent frames the orchestrator encodes must
	// use these, not the ones this client proposed.
	if serverHello.AudioParams.SampleRate != 0 {
		t.sampleRate = serverHello.AudioParams.SampleRate
	}
	if serverHello.AudioParams.Channels != 0 {
		t.channels = serverHello.AudioParams.Channels
	}
	if serverHello.AudioParams.FrameDurMs != 0 {
		t.frameDurMs = serverHello.AudioParams.FrameDurMs
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	textCh := make(chan []byte)
	t.mu.Lock()
	t.conn = conn
	t.cancel = runCancel
	t.textCh = textCh
	t.mu.Unlock()

	go t.readLoop(runCtx, conn, textCh)
	go t.textDispatchLoop(runCtx, textCh)
	go t.pingLoop(runCtx, conn)

	return nil
}

// ServerHello returns the hello the server echoed during the most recent
// successful handshake, including the session_id and authoritative
// audio_params/features the orchestrator must honor.
func (t *WSTransport) ServerHello() protocol.HelloMessage {
	t.helloMu.RLock()
	defer t.helloMu.RUnlock()
	return t.serverHello
}

// SessionID returns the server-assigned session_id of the last successful
// handshake, or "" if none has completed yet.
func (t *WSTransport) SessionID() string {
	return t.ServerHello().SessionID
}

// NegotiatedAudioParams returns the sample rate/channels this transport is
// now using after the server's hello reply, which may differ from the
// values NewWSTransport was constructed with.
func (t *WSTransport) NegotiatedAudioParams() (sampleRate, channels, frameDurMs int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sampleRate, t.channels, t.frameDurMs
}

// ConnectLoop dials addr and keeps reconnecting with exponential backoff
// (250ms floor, 8s ceiling, reset to the floor on every successful hello)
// until ctx is cancelled. onConnected fires after each successful
// handshake; the caller is expected to have already wired
// SetOnDisconnected to learn when a connection drops so it can react (e.g.
// force the state machine to Connecting) while this loop keeps retrying
// underneath.
func (t *WSTransport) ConnectLoop(ctx context.Context, addr string, onConnected func()) {
	backoff := backoffFloor
	for {
		if ctx.Err() != nil {
			return
		}
		err := t.Connect(ctx, addr)
		if err != nil {
			t.logger.Warnw("transport: connect failed, backing off", "err", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > backoffCeil {
				backoff = backoffCeil
			}
			continue
		}

		backoff = backoffFloor
		if onConnected != nil {
			onConnected()
		}

		t.awaitDisconnect(ctx)
		if ctx.Err() != nil {
			return
		}
	}
}

// awaitDisconnect wraps the current onDisconnected callback so it can block
// until the next drop without polling, then restores the previous callback.
func (t *WSTransport) awaitDisconnect(ctx context.Context) {
	ch := make(chan struct{})
	t.cbMu.Lock()
	prev := t.onDisconnected
	t.onDisconnected = func(reason string) {
		if prev != nil {
			prev(reason)
		}
		close(ch)
	}
	t.cbMu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
	}

	t.cbMu.Lock()
	t.onDisconnected = prev
	t.cbMu.Unlock()
}

// Disconnect closes the current connection and stops its background loops.
func (t *WSTransport) Disconnect() {
	t.mu.Lock()
	conn := t.conn
	cancel := t.cancel
	t.conn = nil
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
}

func (t *WSTransport) SendAudio(opusFrame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn := t.currentConn()
	if conn == nil {
		return fmt.Errorf("transport: not connected")
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, opusFrame); err != nil {
		return err
	}
	t.metricsMu.Lock()
	t.bytesSent += uint64(len(opusFrame))
	t.metricsMu.Unlock()
	return nil
}

func (t *WSTransport) SendControl(payload []byte) error {
	return t.writeText(payload)
}

// SendMCP implements mcp.Sender by wrapping payload in an MCP envelope
// before sending it as a text frame alongside the other control messages.
func (t *WSTransport) SendMCP(payload []byte) error {
	env := protocol.MCPMessage{Type: protocol.TypeMCP, SessionID: t.SessionID(), Payload: payload}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return t.writeText(data)
}

func (t *WSTransport) writeText(payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn := t.currentConn()
	if conn == nil {
		return fmt.Errorf("transport: not connected")
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *WSTransport) currentConn() *websocket.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

// readLoop is the sole reader of conn. Binary frames are audio: dispatched
// to onAudioReceived directly, inline, since there is nothing to decode.
// Text frames are JSON control/MCP envelopes, which can be arbitrarily large
// and slow to unmarshal, so readLoop hands them to textDispatchLoop over
// textCh and goes back to ReadMessage as soon as the dispatcher takes the
// frame, without waiting for its decode. textCh is unbuffered: a text frame
// that arrives while the dispatcher is still decoding the previous one holds
// readLoop, and any audio frame behind it, until that decode finishes.
func (t *WSTransport) readLoop(ctx context.Context, conn *websocket.Conn, textCh chan<- []byte) {
	for {
		conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.handleDisconnect(fmt.Sprintf("read: %v", err))
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			t.cbMu.RLock()
			fn := t.onAudioReceived
			t.cbMu.RUnlock()
			if fn != nil {
				fn(data)
			}
		case websocket.TextMessage:
			select {
			case textCh <- data:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// textDispatchLoop drains textCh and decodes/routes each control or MCP
// envelope off the hot read path.
func (t *WSTransport) textDispatchLoop(ctx context.Context, textCh <-chan []byte) {
	for {
		select {
		case data := <-textCh:
			t.dispatchText(data)
		case <-ctx.Done():
			return
		}
	}
}

func (t *WSTransport) dispatchText(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.logger.Debugw("transport: malformed text frame", "err", err)
		return
	}
	if env.Type == protocol.TypeMCP {
		var mcpMsg protocol.MCPMessage
		if err := json.Unmarshal(data, &mcpMsg); err != nil {
			t.logger.Debugw("transport: malformed mcp envelope", "err", err)
			return
		}
		t.cbMu.RLock()
		fn := t.onMCPMessage
		t.cbMu.RUnlock()
		if fn != nil {
			fn(mcpMsg.Payload)
		}
		return
	}
	t.cbMu.RLock()
	fn := t.onControlMessage
	t.cbMu.RUnlock()
	if fn != nil {
		fn(data)
	}
}

func (t *WSTransport) handleDisconnect(reason string) {
	t.mu.Lock()
	t.conn = nil
	t.mu.Unlock()

	t.cbMu.RLock()
	fn := t.onDisconnected
	t.cbMu.RUnlock()
	if fn != nil {
		fn(reason)
	}
}

// pingLoop sends a ping every 2 s and measures RTT from the pong replies. A
// failed ping write ends the loop without reporting a disconnect; drops are
// detected by readLoop.
func (t *WSTransport) pingLoop(ctx context.Context, conn *websocket.Conn) {
	conn.SetPongHandler(func(string) error {
		t.metricsMu.Lock()
		if !t.lastPingSent.IsZero() {
			rtt := float64(time.Since(t.lastPingSent).Milliseconds())
			t.smoothedRTT = ewma(t.smoothedRTT, rtt)
		}
		t.metricsMu.Unlock()
		return nil
	})

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.metricsMu.Lock()
			t.lastPingSent = time.Now()
			t.metricsMu.Unlock()

			t.writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// GetMetrics returns a point-in-time snapshot of connection health.
func (t *WSTransport) GetMetrics() Metrics {
	t.metricsMu.Lock()
	defer t.metricsMu.Unlock()

	elapsed := time.Since(t.lastMetrics).Seconds()
	var bitrateKbps float64
	if elapsed > 0 {
		bitrateKbps = float64(t.bytesSent*8) / 1000 / elapsed
	}
	t.bytesSent = 0
	t.lastMetrics = time.Now()

	return Metrics{
		RTTMs:        t.smoothedRTT,
		BitrateKbps:  bitrateKbps,
		QualityLevel: qualityLevel(0, t.smoothedRTT, 0, 0),
	}
}
