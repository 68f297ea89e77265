package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rustyguts/verdure/internal/protocol"
)

// mqtt topic scheme: a session gets three topics under its own namespace so
// QoS and retention can differ between control and audio traffic.
func topicDown(session string) string  { return "verdure/" + session + "/down" }
func topicUp(session string) string    { return "verdure/" + session + "/up" }
func topicAudio(session string) string { return "verdure/" + session + "/audio" }

// MQTTTransport is a Transporter backed by an MQTT broker, for deployments
// that route through existing IoT messaging infrastructure instead of a
// direct WebSocket connection.
type MQTTTransport struct {
	logger  *zap.SugaredLogger
	session string

	sampleRate, channels, frameDurMs int

	mu   sync.Mutex
	conn *autopaho.ConnectionManager

	cbMu             sync.RWMutex
	onAudioReceived  func([]byte)
	onControlMessage func([]byte)
	onMCPMessage     func([]byte)
	onDisconnected   func(reason string)

	metricsMu   sync.Mutex
	bytesSent   uint64
	lastMetrics time.Time
}

// NewMQTTTransport creates a transport for the given session namespace.
func NewMQTTTransport(session string, sampleRate, channels, frameDurMs int, logger *zap.SugaredLogger) *MQTTTransport {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if session == "" {
		session = uuid.NewString()
	}
	return &MQTTTransport{
		logger:      logger,
		session:     session,
		sampleRate:  sampleRate,
		channels:    channels,
		frameDurMs:  frameDurMs,
		lastMetrics: time.Now(),
	}
}

func (t *MQTTTransport) SetOnAudioReceived(fn func([]byte))  { t.cbMu.Lock(); t.onAudioReceived = fn; t.cbMu.Unlock() }
func (t *MQTTTransport) SetOnControlMessage(fn func([]byte)) { t.cbMu.Lock(); t.onControlMessage = fn; t.cbMu.Unlock() }
func (t *MQTTTransport) SetOnMCPMessage(fn func([]byte))     { t.cbMu.Lock(); t.onMCPMessage = fn; t.cbMu.Unlock() }
func (t *MQTTTransport) SetOnDisconnected(fn func(string))   { t.cbMu.Lock(); t.onDisconnected = fn; t.cbMu.Unlock() }

// Connect dials the broker at addr (an mqtt:// or mqtts:// URL), subscribes
// to this session's down topic, and publishes the client hello on the up
// topic. It does not wait for a hello reply from the server.
func (t *MQTTTransport) Connect(ctx context.Context, addr string) error {
	brokerURL, err := url.Parse(addr)
	if err != nil {
		return fmt.Errorf("transport: parse broker addr: %w", err)
	}

	connUpCh := make(chan struct{}, 1)
	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     20,
		CleanStartOnInitialConnection: true,
		ConnectRetryDelay:             backoffFloor,
		ConnectTimeout:                helloTimeout,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			_, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: topicDown(t.session), QoS: 1}},
			})
			if err != nil {
				t.logger.Warnw("mqtt: subscribe failed", "err", err)
				return
			}
			select {
			case connUpCh <- struct{}{}:
			default:
			}
		},
		OnConnectError: func(err error) {
			t.logger.Debugw("mqtt: connect attempt failed", "err", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "verdure-" + t.session,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					t.dispatch(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				t.handleDisconnect(err.Error())
			},
		},
	}

	cm, err := autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return fmt.Errorf("transport: mqtt connect: %w", err)
	}
	if err := cm.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("transport: mqtt await connection: %w", err)
	}

	t.mu.Lock()
	t.conn = cm
	t.mu.Unlock()

	hello := protocol.HelloMessage{
		Type:      protocol.TypeHello,
		Version:   1,
		Transport: "mqtt",
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
		return fmt.Errorf("transport: marshal hello: %w", err)
	}
	if err := t.SendControl(data); err != nil {
		return fmt.Errorf("transport: send hello: %w", err)
	}

	return nil
}

func (t *MQTTTransport) dispatch(topic string, payload []byte) {
	switch topic {
	case topicAudio(t.session):
		t.cbMu.RLock()
		fn := t.onAudioReceived
		t.cbMu.RUnlock()
		if fn != nil {
			fn(payload)
		}
	case topicDown(t.session):
		if msg, err := protocol.Parse(payload); err == nil && msg != nil {
			if mcp, ok := msg.(protocol.MCPMessage); ok {
				t.cbMu.RLock()
				fn := t.onMCPMessage
				t.cbMu.RUnlock()
				if fn != nil {
					fn(mcp.Payload)
				}
				return
			}
		}
		t.cbMu.RLock()
		fn := t.onControlMessage
		t.cbMu.RUnlock()
		if fn != nil {
			fn(payload)
		}
	}
}

// Disconnect tears down the MQTT connection.
func (t *MQTTTransport) Disconnect() {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		conn.Disconnect(context.Background())
	}
}

func (t *MQTTTransport) SendAudio(opusFrame []byte) error {
	return t.publish(topicAudio(t.session), opusFrame)
}

func (t *MQTTTransport) SendControl(payload []byte) error {
	return t.publish(topicUp(t.session), payload)
}

// SendMCP implements mcp.Sender.
func (t *MQTTTransport) SendMCP(payload []byte) error {
	env := protocol.MCPMessage{Type: protocol.TypeMCP, Payload: payload}
	data, err := protocol.Marshal(env)
	if err != nil {
		return err
	}
	return t.publish(topicUp(t.session), data)
}

func (t *MQTTTransport) publish(topic string, payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: not connected")
	}
	_, err := conn.Publish(context.Background(), &paho.Publish{
		Topic:   topic,
		QoS:     1,
		Payload: payload,
	})
	if err != nil {
		return err
	}
	t.metricsMu.Lock()
	t.bytesSent += uint64(len(payload))
	t.metricsMu.Unlock()
	return nil
}

func (t *MQTTTransport) handleDisconnect(reason string) {
	t.cbMu.RLock()
	fn := t.onDisconnected
	t.cbMu.RUnlock()
	if fn != nil {
		fn(reason)
	}
}

// GetMetrics returns a point-in-time snapshot; MQTT brokers don't expose
// per-connection RTT/jitter the way a direct socket does, so only
// throughput is tracked here.
func (t *MQTTTransport) GetMetrics() Metrics {
	t.metricsMu.Lock()
	defer t.metricsMu.Unlock()

	elapsed := time.Since(t.lastMetrics).Seconds()
	var bitrateKbps float64
	if elapsed > 0 {
		bitrateKbps = float64(t.bytesSent*8) / 1000 / elapsed
	}
	t.bytesSent = 0
	t.lastMetrics = time.Now()

	return Metrics{BitrateKbps: bitrateKbps, QualityLevel: "good"}
}
