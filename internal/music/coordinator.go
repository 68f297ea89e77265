// Package music coordinates local media playback with the voice assistant's
// conversation state: music pauses while the assistant is listening or
// speaking and resumes only if this coordinator was the one that paused it.
package music

import "go.uber.org/zap"

// Player is the minimal control surface a local media player must expose.
// The MCP player device adapter is the default implementation.
type Player interface {
	Pause() error
	Resume() error
	IsPlaying() bool
}

// Coordinator tracks whether it paused playback itself, so it never resumes
// music the user paused manually while the assistant was mid-turn.
type Coordinator struct {
	player     Player
	logger     *zap.SugaredLogger
	pausedByUs bool
}

// New creates a Coordinator driving player.
func New(player Player, logger *zap.SugaredLogger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Coordinator{player: player, logger: logger}
}

// OnEnterListening pauses music once when the assistant starts listening.
func (c *Coordinator) OnEnterListening() {
	c.pauseOnce()
}

// OnEnterSpeaking pauses music once when the assistant starts speaking.
func (c *Coordinator) OnEnterSpeaking() {
	c.pauseOnce()
}

// OnEnterIdle resumes music only if this coordinator paused it.
func (c *Coordinator) OnEnterIdle() {
	if !c.pausedByUs {
		return
	}
	if err := c.player.Resume(); err != nil {
		c.logger.Warnw("music: resume failed", "err", err)
	}
	c.pausedByUs = false
}

func (c *Coordinator) pauseOnce() {
	if c.pausedByUs || !c.player.IsPlaying() {
		return
	}
	if err := c.player.Pause(); err != nil {
		c.logger.Warnw("music: pause failed", "err", err)
		return
	}
	c.pausedByUs = true
}
