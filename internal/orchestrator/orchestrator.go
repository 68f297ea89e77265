// Package orchestrator wires every subsystem (capture, codec, transport,
// protocol, state machine, MCP engine, keyword spotter, interrupt
// coordinator, music coordinator) into the assistant's public surface.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyguts/verdure/internal/adapt"
	"github.com/rustyguts/verdure/internal/assistant"
	"github.com/rustyguts/verdure/internal/audio"
	"github.com/rustyguts/verdure/internal/audio/vad"
	"github.com/rustyguts/verdure/internal/config"
	"github.com/rustyguts/verdure/internal/interrupt"
	"github.com/rustyguts/verdure/internal/keyword"
	"github.com/rustyguts/verdure/internal/mcp"
	"github.com/rustyguts/verdure/internal/mcp/devices"
	"github.com/rustyguts/verdure/internal/music"
	"github.com/rustyguts/verdure/internal/notify"
	"github.com/rustyguts/verdure/internal/protocol"
	"github.com/rustyguts/verdure/internal/state"
	"github.com/rustyguts/verdure/internal/transport"
)

// Events is the observable surface external callers (a CLI, a future UI
// binding layer) subscribe to. Any field left nil is simply never called.
type Events struct {
	OnMessageReceived       func(kind string, payload interface{})
	OnDeviceStateChanged    func(from, to, trigger string)
	OnListeningModeChanged  func(mode string)
	OnErrorOccurred         func(err *assistant.AssistantError)
	OnVoiceChatStateChanged func(active bool)
	OnTtsStateChanged       func(state string, text string)
	OnLlmMessageReceived    func(text string)
	OnMusicMessageReceived  func(action, track string)
	OnMcpEvent              func(event string, detail interface{})
}

// connectTimeout bounds Connect/Initialize per spec §5's 10s lifecycle
// ceiling; the hello handshake itself is bounded tighter, inside the
// transport.
const connectTimeout = 10 * time.Second

// autoStopRearmDelay is the pause before a keep-listening re-arm, so the
// tail of the completed turn's playback doesn't bleed into the next
// capture window.
const autoStopRearmDelay = 150 * time.Millisecond

// Orchestrator owns the assistant's lifecycle: initialize(config),
// startVoiceChat/stopVoiceChat, sendTextMessage, toggleChatState, plus the
// wiring between every other component (spec module I).
type Orchestrator struct {
	logger *zap.SugaredLogger
	cfg    config.Config

	hub        *audio.CaptureHub
	codec      *audio.Codec
	playback   *audio.PlaybackQueue
	player     *audio.PlaybackDevice
	notifyGen  *notify.Generator
	spotter    *keyword.Spotter
	tr         transport.Transporter
	machine    *state.Machine
	mcpReg     *mcp.Registry
	mcpEng     *mcp.Engine
	interruptC *interrupt.Coordinator
	musicC     *music.Coordinator

	mu             sync.Mutex
	sessionID      string
	captureSub     *audio.Subscription
	voiceWatchStop context.CancelFunc
	voiceChatOn    bool
	autoStop       bool
	currentBitrate int

	eventsMu sync.RWMutex
	events   Events

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New constructs an idle Orchestrator. Call Initialize to start it.
func New(logger *zap.SugaredLogger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Orchestrator{
		logger:     logger,
		interruptC: interrupt.New(16),
	}
}

// SetEvents registers the observable event callbacks. Replaces any
// previously registered set; the orchestrator has exactly one subscriber,
// matching the teacher's single-frontend-binding assumption.
func (o *Orchestrator) SetEvents(ev Events) {
	o.eventsMu.Lock()
	o.events = ev
	o.eventsMu.Unlock()
}

func (o *Orchestrator) emit(fn func(Events)) {
	o.eventsMu.RLock()
	ev := o.events
	o.eventsMu.RUnlock()
	fn(ev)
}

func (o *Orchestrator) reportError(kind assistant.Kind, err error) {
	aerr := assistant.New(kind, err)
	o.logger.Warnw("assistant error", "kind", kind, "err", err)
	o.playCue(notify.SoundError)
	o.emit(func(ev Events) {
		if ev.OnErrorOccurred != nil {
			ev.OnErrorOccurred(aerr)
		}
	})
}

// playCue appends a synthesized notification tone to the playback queue,
// behind whatever is already queued, so it comes out the same speaker as the
// assistant's voice. A nil notifyGen (not yet Initialized) is a silent no-op.
func (o *Orchestrator) playCue(sound notify.Sound) {
	if o.notifyGen == nil {
		return
	}
	for _, frame := range o.notifyGen.Frames(sound) {
		o.playback.Push(audio.FloatToInt16(frame))
	}
}

// Initialize loads config (if cfg is zero-valued, callers should call
// config.Load themselves first), builds every subsystem, and connects to
// the configured server. Mirrors the teacher's App.Connect, generalized to
// this repo's single-session voice surface.
func (o *Orchestrator) Initialize(ctx context.Context, cfg config.Config) error {
	o.mu.Lock()
	o.cfg = cfg
	o.autoStop = cfg.ListeningMode != "PushToTalk"
	o.mu.Unlock()

	o.hub = audio.NewCaptureHub(o.logger)
	o.hub.SetParams(cfg.SampleRate, cfg.Channels, cfg.FrameDurMs)
	o.playback = audio.NewPlaybackQueue()
	o.playback.SetVolume(cfg.OutputVolume)
	o.playback.SetOnPlaybackCompleted(func() {
		o.machine.Fire(o.ctx(), state.TriggerAudioPlaybackCompleted)
	})
	o.player = audio.NewPlaybackDevice(o.playback, o.logger)
	cueFrameSize := cfg.SampleRate * cfg.FrameDurMs / 1000 * cfg.Channels
	o.notifyGen = notify.NewGenerator(cfg.SampleRate, cueFrameSize)

	codec, err := audio.NewCodec(cfg.SampleRate, cfg.Channels, cfg.FrameDurMs, audio.AppVoIP, o.logger)
	if err != nil {
		return fmt.Errorf("orchestrator: codec init: %w", err)
	}
	o.codec = codec
	o.currentBitrate = adapt.DefaultKbps
	if cfg.OpusBitrate > 0 {
		o.currentBitrate = cfg.OpusBitrate
	}
	_ = codec.SetBitrate(o.currentBitrate)

	o.spotter = keyword.New(o.hub, o.logger)
	o.spotter.OnDetected = func(keyword.Detection) {
		o.playCue(notify.SoundWakeDetected)
		select {
		case o.interruptC.Keyword() <- interrupt.Event{Source: interrupt.SourceKeyword}:
		default:
		}
	}

	o.mcpReg = mcp.NewRegistry()
	o.mcpEng = mcp.New(o.mcpReg, o.logger)

	lamp := devices.NewLampAdapter(o.mcpReg)
	camera := devices.NewCameraAdapter(o.mcpReg)
	speaker := devices.NewSpeakerAdapter(o.mcpReg, o.playback)
	player := devices.NewPlayerAdapter(o.mcpReg)
	devices.RegisterDeviceStatus(o.mcpReg, map[string]devices.StatusProvider{
		"lamp":    lamp,
		"camera":  camera,
		"speaker": speaker,
		"player":  player,
	})

	o.musicC = music.New(player, o.logger)

	switch cfg.Transport {
	case "mqtt":
		o.tr = transport.NewMQTTTransport("", cfg.SampleRate, cfg.Channels, cfg.FrameDurMs, o.logger)
	default:
		o.tr = transport.NewWSTransport(cfg.SampleRate, cfg.Channels, cfg.FrameDurMs, o.logger)
	}
	o.mcpEng.SetSender(o.tr)

	o.machine = state.New(o.buildHooks(), o.logger)
	o.machine.SetOnChanged(o.onStateChanged)

	o.wireTransportCallbacks()

	o.runCtx, o.runCancel = context.WithCancel(context.Background())
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.interruptC.Run(o.runCtx)
	}()
	o.wg.Add(1)
	go o.drainInterrupts()
	o.wg.Add(1)
	go o.adaptLoop()
	frameDur := time.Duration(cfg.FrameDurMs) * time.Millisecond
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.playback.Watch(frameDur, o.runCtx.Done())
	}()

	if cfg.ServerAddr != "" {
		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := o.connect(cctx); err != nil {
			o.reportError(assistant.KindTransport, err)
		}
	}

	return nil
}

func (o *Orchestrator) ctx() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runCtx != nil {
		return o.runCtx
	}
	return context.Background()
}

func (o *Orchestrator) connect(ctx context.Context) error {
	if wst, ok := o.tr.(*transport.WSTransport); ok {
		if err := wst.Connect(ctx, o.cfg.ServerAddr); err != nil {
			return err
		}
		o.mu.Lock()
		o.sessionID = wst.SessionID()
		o.mu.Unlock()
		o.playCue(notify.SoundConnect)
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			wst.ConnectLoop(o.runCtx, o.cfg.ServerAddr, func() {
				o.machine.Fire(o.runCtx, state.TriggerConnectToServer)
				o.afterReconnect(wst)
			})
		}()
		return nil
	}
	if err := o.tr.Connect(ctx, o.cfg.ServerAddr); err != nil {
		return err
	}
	o.playCue(notify.SoundConnect)
	o.afterReconnect(o.tr)
	return nil
}

func (o *Orchestrator) afterReconnect(tr transport.Transporter) {
	wst, ok := tr.(*transport.WSTransport)
	if !ok || !wst.ServerHello().MCPFeatureEnabled() {
		return
	}
	go func() {
		cctx, cancel := context.WithTimeout(o.runCtx, connectTimeout)
		defer cancel()
		if err := o.mcpEng.Initialize(cctx); err != nil {
			o.reportError(assistant.KindMCP, err)
		}
	}()
}

// buildHooks implements spec §4.H's entry/exit actions.
func (o *Orchestrator) buildHooks() state.Hooks {
	return state.Hooks{
		OnEnterListening: func(ctx context.Context) {
			if err := o.hub.Start(ctx, o.cfg.SampleRate, o.cfg.Channels, o.cfg.FrameDurMs); err != nil {
				o.reportError(assistant.KindAudioDevice, err)
				o.machine.Fire(ctx, state.TriggerForceIdle, state.ReasonAudioDeviceError)
				return
			}
			frameSize := o.cfg.SampleRate * o.cfg.FrameDurMs / 1000 * o.cfg.Channels
			if err := o.player.Start(ctx, o.cfg.SampleRate, o.cfg.Channels, frameSize); err != nil {
				o.reportError(assistant.KindAudioDevice, err)
				o.machine.Fire(ctx, state.TriggerForceIdle, state.ReasonAudioDeviceError)
				return
			}
			o.spotter.Pause()
			o.playback.Flush()
			o.startSendingLoop(ctx)
			_ = o.sendListen(true)
			o.musicC.OnEnterListening()
		},
		OnEnterSpeaking: func(ctx context.Context) {
			o.spotter.Pause()
			o.musicC.OnEnterSpeaking()
			o.startVoiceInterruptWatch()
		},
		OnEnterIdle: func(ctx context.Context) {
			o.stopVoiceInterruptWatch()
			o.stopSendingLoop()
			_ = o.sendListen(false)
			o.musicC.OnEnterIdle()
			o.mu.Lock()
			voiceChatOn := o.voiceChatOn
			keepListening := o.cfg.KeepListening && o.autoStop
			o.mu.Unlock()
			if !voiceChatOn {
				return
			}
			if keepListening {
				// Deferred re-arm: skip wake-word gating and go straight
				// back to Listening for the next turn.
				go func() {
					time.Sleep(autoStopRearmDelay)
					o.machine.Fire(o.ctx(), state.TriggerKeywordDetected)
				}()
				return
			}
			if o.cfg.ListeningMode != "AlwaysOn" {
				o.spotter.Resume()
			}
		},
		OnEnterConnecting: func(ctx context.Context) {
			o.stopVoiceInterruptWatch()
			o.playback.Flush()
		},
	}
}

func (o *Orchestrator) onStateChanged(c state.Changed) {
	o.logger.Infow("state transition", "from", c.From, "to", c.To, "trigger", c.Trigger, "reason", c.Reason)
	o.emit(func(ev Events) {
		if ev.OnDeviceStateChanged != nil {
			ev.OnDeviceStateChanged(c.From, c.To, c.Trigger)
		}
	})
}

func (o *Orchestrator) sendListen(start bool) error {
	msg := protocol.ListenMessage{Type: protocol.TypeListen, Mode: "auto"}
	if start {
		msg.State = "start"
	} else {
		msg.State = "stop"
	}
	data, err := protocol.Marshal(msg)
	if err != nil {
		return err
	}
	return o.tr.SendControl(data)
}

// startSendingLoop subscribes to the capture hub and ships every frame
// through the codec to the transport for as long as the machine stays in
// Listening (spec §4.I's "Capture → Codec → Transport only during
// Listening" wiring rule).
func (o *Orchestrator) startSendingLoop(ctx context.Context) {
	o.mu.Lock()
	if o.captureSub != nil {
		o.mu.Unlock()
		return
	}
	sub := o.hub.Subscribe()
	o.captureSub = sub
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for frame := range sub.C() {
			if o.machine.Current() != state.Listening {
				continue
			}
			pcm := audio.FloatToInt16(frame.Samples)
			packet, err := o.codec.Encode(pcm)
			if err != nil {
				o.reportError(assistant.KindAudioDevice, err)
				continue
			}
			if err := o.tr.SendAudio(packet); err != nil {
				o.reportError(assistant.KindTransport, err)
			}
		}
	}()
}

// voiceInterruptFrames is how many consecutive above-threshold frames must
// be observed during Speaking before it counts as a user interruption
// rather than echo bleed from the speaker.
const voiceInterruptFrames = 3

// startVoiceInterruptWatch subscribes to the capture hub for the duration
// of one Speaking turn, feeding a VAD to detect the user talking over the
// assistant's own reply (spec module J's VoiceInterruption).
func (o *Orchestrator) startVoiceInterruptWatch() {
	sub := o.hub.Subscribe()
	wctx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.voiceWatchStop = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer sub.Close()
		v := vad.New()
		streak := 0
		for {
			select {
			case <-wctx.Done():
				return
			case frame, ok := <-sub.C():
				if !ok {
					return
				}
				if v.ShouldSend(vad.RMS(frame.Samples)) {
					streak++
				} else {
					streak = 0
				}
				if streak >= voiceInterruptFrames {
					select {
					case o.interruptC.Voice() <- interrupt.Event{Source: interrupt.SourceVoice}:
					default:
					}
					return
				}
			}
		}
	}()
}

func (o *Orchestrator) stopVoiceInterruptWatch() {
	o.mu.Lock()
	cancel := o.voiceWatchStop
	o.voiceWatchStop = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// metricsPollInterval is how often adaptLoop samples the transport's
// connection-quality metrics to step the Opus bitrate ladder. A var, not a
// const, so tests can shorten it instead of waiting out the real interval.
var metricsPollInterval = 5 * time.Second

// adaptLoop steps the Opus target bitrate up or down the ladder in
// internal/adapt based on the transport's reported loss/RTT, and feeds
// loss into the decoder's packet-loss-concealment tuning. Runs for the
// orchestrator's whole lifetime; a nil tr (not yet connected) is a no-op
// tick.
func (o *Orchestrator) adaptLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(metricsPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.runCtx.Done():
			return
		case <-ticker.C:
			if o.tr == nil {
				continue
			}
			m := o.tr.GetMetrics()
			o.mu.Lock()
			current := o.currentBitrate
			o.mu.Unlock()
			next := adapt.NextBitrate(current, m.PacketLoss, m.RTTMs)
			if next != current {
				if err := o.codec.SetBitrate(next); err != nil {
					o.logger.Warnw("adapt: set bitrate failed", "kbps", next, "err", err)
					continue
				}
				o.logger.Infow("adapt: stepped bitrate", "from", current, "to", next, "loss", m.PacketLoss, "rtt_ms", m.RTTMs)
				o.mu.Lock()
				o.currentBitrate = next
				o.mu.Unlock()
			}
			_ = o.codec.SetPacketLoss(int(m.PacketLoss * 100))
		}
	}
}

// stopSendingLoop closes this orchestrator's own capture subscription.
// It does not force the hub's physical stream closed: the keyword spotter
// may hold its own subscription open across this call (Keyword mode keeps
// listening for the wake word between turns), and CaptureHub only tears
// the stream down once its last subscriber unsubscribes.
func (o *Orchestrator) stopSendingLoop() {
	o.mu.Lock()
	sub := o.captureSub
	o.captureSub = nil
	o.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

func (o *Orchestrator) wireTransportCallbacks() {
	o.tr.SetOnAudioReceived(func(opusFrame []byte) {
		// Only Listening/Speaking admit inbound audio: Speaking is the
		// steady state, Listening covers the gap while a reply is still
		// arriving but TtsStarted hasn't been dispatched yet.
		switch o.machine.Current() {
		case state.Listening, state.Speaking:
			pcm := o.codec.Decode(opusFrame)
			o.playback.Push(pcm)
		}
	})
	o.tr.SetOnControlMessage(func(payload []byte) {
		o.handleControl(payload)
	})
	o.tr.SetOnMCPMessage(func(payload []byte) {
		o.mcpEng.HandleInbound(payload)
		o.emit(func(ev Events) {
			if ev.OnMcpEvent != nil {
				ev.OnMcpEvent("inbound", payload)
			}
		})
	})
	o.tr.SetOnDisconnected(func(reason string) {
		o.playCue(notify.SoundDisconnect)
		o.reportError(assistant.KindTransport, fmt.Errorf("disconnected: %s", reason))
		o.machine.Fire(o.ctx(), state.TriggerServerDisconnected, state.ReasonNetworkError)
	})
}

func (o *Orchestrator) handleControl(payload []byte) {
	msg, err := protocol.Parse(payload)
	if err != nil {
		o.reportError(assistant.KindProtocol, err)
		return
	}
	if msg == nil {
		return
	}
	switch m := msg.(type) {
	case protocol.TTSMessage:
		switch m.State {
		case "start", "sentence_start":
			o.machine.Fire(o.ctx(), state.TriggerTtsStarted)
		case "stop":
			o.machine.Fire(o.ctx(), state.TriggerTtsCompleted)
		}
		o.emit(func(ev Events) {
			if ev.OnTtsStateChanged != nil {
				ev.OnTtsStateChanged(m.State, m.Text)
			}
		})
	case protocol.LLMMessage:
		o.emit(func(ev Events) {
			if ev.OnLlmMessageReceived != nil {
				ev.OnLlmMessageReceived(m.Text)
			}
		})
	case protocol.MusicMessage:
		o.emit(func(ev Events) {
			if ev.OnMusicMessageReceived != nil {
				ev.OnMusicMessageReceived(m.Action, m.Track)
			}
		})
	case protocol.AbortMessage:
		select {
		case o.interruptC.Network() <- interrupt.Event{Source: interrupt.SourceNetwork, Payload: m}:
		default:
		}
	case protocol.IoTMessage:
		o.emit(func(ev Events) {
			if ev.OnMessageReceived != nil {
				ev.OnMessageReceived("iot", m)
			}
		})
	}
}

func (o *Orchestrator) drainInterrupts() {
	defer o.wg.Done()
	for {
		select {
		case <-o.runCtx.Done():
			return
		case ev, ok := <-o.interruptC.Out():
			if !ok {
				return
			}
			o.handleInterrupt(ev)
		}
	}
}

func (o *Orchestrator) handleInterrupt(ev interrupt.Event) {
	var reason state.AbortReason
	switch ev.Source {
	case interrupt.SourceNetwork:
		reason = state.ReasonSystemError
	case interrupt.SourceUser:
		reason = state.ReasonUserInterruption
	case interrupt.SourceVoice:
		reason = state.ReasonVoiceInterruption
	case interrupt.SourceKeyword:
		reason = state.ReasonWakeWordDetected
	}
	if o.machine.Current() == state.Speaking {
		o.playback.Flush()
	}
	if ev.Source != interrupt.SourceKeyword {
		o.machine.Fire(o.ctx(), state.TriggerUserInterrupt, reason)
		return
	}
	o.machine.Fire(o.ctx(), state.TriggerKeywordDetected, reason)
}

// StartVoiceChat begins a voice session: the keyword spotter starts
// listening for its wake word, or (in AlwaysOn mode) listening starts
// immediately.
func (o *Orchestrator) StartVoiceChat(ctx context.Context) error {
	o.mu.Lock()
	o.voiceChatOn = true
	o.mu.Unlock()

	o.emit(func(ev Events) {
		if ev.OnVoiceChatStateChanged != nil {
			ev.OnVoiceChatStateChanged(true)
		}
	})

	if o.cfg.ListeningMode == "AlwaysOn" {
		o.machine.Fire(ctx, state.TriggerStartVoiceChat)
		return nil
	}
	if err := o.spotter.Start(ctx); err != nil {
		return fmt.Errorf("orchestrator: start keyword spotter: %w", err)
	}
	return nil
}

// StopVoiceChat ends the voice session and returns the machine to Idle.
func (o *Orchestrator) StopVoiceChat(ctx context.Context) error {
	o.mu.Lock()
	o.voiceChatOn = false
	o.mu.Unlock()
	o.spotter.Stop()
	o.machine.Fire(ctx, state.TriggerStopVoiceChat)
	o.emit(func(ev Events) {
		if ev.OnVoiceChatStateChanged != nil {
			ev.OnVoiceChatStateChanged(false)
		}
	})
	return nil
}

// ToggleChatState flips between an active and stopped voice session.
func (o *Orchestrator) ToggleChatState(ctx context.Context) error {
	o.mu.Lock()
	on := o.voiceChatOn
	o.mu.Unlock()
	if on {
		return o.StopVoiceChat(ctx)
	}
	return o.StartVoiceChat(ctx)
}

// SendTextMessage delivers a typed message to the server in place of a
// voice utterance, going straight through the LLM path without audio
// capture.
func (o *Orchestrator) SendTextMessage(ctx context.Context, text string) error {
	msg := protocol.ListenMessage{Type: protocol.TypeListen, State: "start", Mode: "manual", Text: text}
	data, err := protocol.Marshal(msg)
	if err != nil {
		return fmt.Errorf("orchestrator: marshal text message: %w", err)
	}
	return o.tr.SendControl(data)
}

// CallTool invokes a remote MCP tool by name, for a caller that wants to
// drive the server's own tool surface directly.
func (o *Orchestrator) CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	return o.mcpEng.CallTool(ctx, name, args)
}

// Registry exposes the local MCP tool registry so callers can register
// device adapters before Initialize's handshake completes.
func (o *Orchestrator) Registry() *mcp.Registry { return o.mcpReg }

// CurrentState returns the state machine's current state name.
func (o *Orchestrator) CurrentState() string { return o.machine.Current() }

// Shutdown cancels every background loop and awaits drain, bounded by the
// spec's 10s lifecycle ceiling.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if o.runCancel != nil {
		o.runCancel()
	}
	o.spotter.Stop()
	o.stopVoiceInterruptWatch()
	o.stopSendingLoop()
	if o.tr != nil {
		o.tr.Disconnect()
	}
	if o.player != nil {
		_ = o.player.Stop(ctx)
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(connectTimeout):
		o.logger.Warnw("orchestrator shutdown timed out, forcing exit")
		return fmt.Errorf("orchestrator: shutdown timed out")
	}
}
