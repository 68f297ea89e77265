// Package state implements the assistant's conversation lifecycle as an
// explicit, testable finite state machine built on looplab/fsm.
package state

import (
	"context"
	"sync"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// States the assistant can occupy.
const (
	Idle       = "Idle"
	Connecting = "Connecting"
	Listening  = "Listening"
	Speaking   = "Speaking"
)

// Triggers drive state transitions.
const (
	TriggerConnectToServer        = "ConnectToServer"
	TriggerServerDisconnected     = "ServerDisconnected"
	TriggerStartVoiceChat         = "StartVoiceChat"
	TriggerStopVoiceChat          = "StopVoiceChat"
	TriggerKeywordDetected        = "KeywordDetected"
	TriggerTtsStarted             = "TtsStarted"
	TriggerTtsCompleted           = "TtsCompleted"
	TriggerAudioPlaybackCompleted = "AudioPlaybackCompleted"
	TriggerUserInterrupt          = "UserInterrupt"
	TriggerForceIdle              = "ForceIdle"
)

// AbortReason tags why a conversation turn ended, carried alongside the
// UserInterrupt/KeywordDetected/ServerDisconnected/ForceIdle triggers that
// converge several distinct causes onto the same transition.
type AbortReason string

const (
	ReasonNone                 AbortReason = ""
	ReasonWakeWordDetected     AbortReason = "WakeWordDetected"
	ReasonUserInterruption     AbortReason = "UserInterruption"
	ReasonVoiceInterruption    AbortReason = "VoiceInterruption"
	ReasonKeyboardInterruption AbortReason = "KeyboardInterruption"
	ReasonSystemError          AbortReason = "SystemError"
	ReasonNetworkError         AbortReason = "NetworkError"
	ReasonAudioDeviceError     AbortReason = "AudioDeviceError"
)

// Hooks are invoked on entry to each state. Any may be left nil.
type Hooks struct {
	OnEnterIdle       func(ctx context.Context)
	OnEnterConnecting func(ctx context.Context)
	OnEnterListening  func(ctx context.Context)
	OnEnterSpeaking   func(ctx context.Context)
}

// Changed is the StateChanged(from, to, trigger, reason) event spec module H
// says every transition emits.
type Changed struct {
	From    string
	To      string
	Trigger string
	Reason  AbortReason
}

// Machine wraps an fsm.FSM with the assistant's transition table (spec
// module H, the table in section 4.H). (state, trigger) pairs absent from
// the table are rejected and leave the state unchanged, per the table's own
// "partial" note; three triggers the table omits but the rest of the spec
// requires (ConnectToServer, AudioPlaybackCompleted, UserInterrupt) are
// resolved as an open question — see DESIGN.md — by extending the table
// rather than leaving them permanently unreachable.
type Machine struct {
	fsm    *fsm.FSM
	logger *zap.SugaredLogger

	onChangedMu sync.Mutex
	onChanged   func(Changed)
}

// New builds the state machine starting in Idle, wiring hooks as
// looplab/fsm enter_<state> callbacks.
func New(hooks Hooks, logger *zap.SugaredLogger) *Machine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	m := &Machine{logger: logger}

	m.fsm = fsm.NewFSM(
		Idle,
		fsm.Events{
			// Open-question extension (DESIGN.md): the only way to reach
			// Connecting other than a disconnect.
			{Name: TriggerConnectToServer, Src: []string{Idle}, Dst: Connecting},

			{Name: TriggerStartVoiceChat, Src: []string{Idle}, Dst: Listening},
			{Name: TriggerKeywordDetected, Src: []string{Idle}, Dst: Listening},
			{Name: TriggerStopVoiceChat, Src: []string{Idle}, Dst: Idle},
			{Name: TriggerServerDisconnected, Src: []string{Idle}, Dst: Connecting},
			{Name: TriggerForceIdle, Src: []string{Idle}, Dst: Idle},

			{Name: TriggerStopVoiceChat, Src: []string{Connecting}, Dst: Idle},
			{Name: TriggerServerDisconnected, Src: []string{Connecting}, Dst: Connecting},
			{Name: TriggerForceIdle, Src: []string{Connecting}, Dst: Idle},

			// KeywordDetected/UserInterrupt during Listening or Speaking is
			// the "interrupt" case: abandon the turn back to Idle.
			{Name: TriggerKeywordDetected, Src: []string{Listening, Speaking}, Dst: Idle},
			{Name: TriggerUserInterrupt, Src: []string{Listening, Speaking}, Dst: Idle},
			{Name: TriggerTtsStarted, Src: []string{Listening}, Dst: Speaking},
			{Name: TriggerTtsStarted, Src: []string{Speaking}, Dst: Speaking},
			{Name: TriggerTtsCompleted, Src: []string{Listening, Speaking}, Dst: Idle},
			// AudioPlaybackCompleted marks the same turn boundary as
			// TtsCompleted once the last decoded frame has drained.
			{Name: TriggerAudioPlaybackCompleted, Src: []string{Listening, Speaking}, Dst: Idle},
			{Name: TriggerStopVoiceChat, Src: []string{Listening, Speaking}, Dst: Idle},
			{Name: TriggerServerDisconnected, Src: []string{Listening, Speaking}, Dst: Connecting},
			{Name: TriggerForceIdle, Src: []string{Listening, Speaking}, Dst: Idle},
		},
		fsm.Callbacks{
			"enter_" + Idle: func(ctx context.Context, e *fsm.Event) {
				if hooks.OnEnterIdle != nil {
					hooks.OnEnterIdle(ctx)
				}
			},
			"enter_" + Connecting: func(ctx context.Context, e *fsm.Event) {
				if hooks.OnEnterConnecting != nil {
					hooks.OnEnterConnecting(ctx)
				}
			},
			"enter_" + Listening: func(ctx context.Context, e *fsm.Event) {
				if hooks.OnEnterListening != nil {
					hooks.OnEnterListening(ctx)
				}
			},
			"enter_" + Speaking: func(ctx context.Context, e *fsm.Event) {
				if hooks.OnEnterSpeaking != nil {
					hooks.OnEnterSpeaking(ctx)
				}
			},
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				m.onChangedMu.Lock()
				cb := m.onChanged
				m.onChangedMu.Unlock()
				if cb == nil {
					return
				}
				var reason AbortReason
				if len(e.Args) > 0 {
					if r, ok := e.Args[0].(AbortReason); ok {
						reason = r
					}
				}
				cb(Changed{From: e.Src, To: e.Dst, Trigger: e.Event, Reason: reason})
			},
		},
	)

	return m
}

// SetOnChanged registers the callback invoked after every completed
// transition (never for a rejected one). Only one callback may be
// registered at a time; the orchestrator is this machine's sole owner.
func (m *Machine) SetOnChanged(fn func(Changed)) {
	m.onChangedMu.Lock()
	m.onChanged = fn
	m.onChangedMu.Unlock()
}

// Current returns the current state name.
func (m *Machine) Current() string {
	return m.fsm.Current()
}

// CanTransition reports whether trigger is legal from the current state.
func (m *Machine) CanTransition(trigger string) bool {
	return m.fsm.Can(trigger)
}

// Fire attempts trigger, tagging the resulting Changed event (if any) with
// reason. A rejected transition (fsm.InvalidEventError, or any other no-op
// transition) is absorbed: logged at debug level, state left unchanged, no
// error propagated to the caller — conversation lifecycle events from
// multiple sources routinely race against each other and none of them
// should be able to crash the orchestrator.
func (m *Machine) Fire(ctx context.Context, trigger string, reason ...AbortReason) {
	var r AbortReason
	if len(reason) > 0 {
		r = reason[0]
	}
	if err := m.fsm.Event(ctx, trigger, r); err != nil {
		if _, ok := err.(fsm.InvalidEventError); ok {
			m.logger.Debugw("state: rejected transition", "trigger", trigger, "state", m.Current())
			return
		}
		if _, ok := err.(fsm.NoTransitionError); ok {
			return
		}
		m.logger.Debugw("state: transition error", "trigger", trigger, "err", err)
	}
}
