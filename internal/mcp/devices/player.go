package devices

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rustyguts/verdure/internal/mcp"
)

// PlayerAdapter is the default local media player: it doesn't drive real
// audio output, only tracks play/pause/track state, but satisfies
// internal/music.Player so the Music-Voice Coordinator can pause and resume
// it across conversation turns the same way it would a real player.
type PlayerAdapter struct {
	mu      sync.Mutex
	playing bool
	track   string
}

// NewPlayerAdapter registers the player's tools into reg.
func NewPlayerAdapter(reg *mcp.Registry) *PlayerAdapter {
	a := &PlayerAdapter{}

	reg.Register(mcp.ToolDescriptor{
		Name:        "self.player.play",
		Description: "Start or change the current track",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"track": map[string]interface{}{"type": "string"}},
		},
		Handler: func(args json.RawMessage) (interface{}, error) {
			var params struct {
				Track string `json:"track"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return nil, fmt.Errorf("player.play: %w", err)
			}
			a.mu.Lock()
			a.playing = true
			if params.Track != "" {
				a.track = params.Track
			}
			a.mu.Unlock()
			return a.status(), nil
		},
	})
	reg.Register(mcp.ToolDescriptor{
		Name:        "self.player.pause",
		Description: "Pause playback",
		Handler: func(json.RawMessage) (interface{}, error) {
			a.mu.Lock()
			a.playing = false
			a.mu.Unlock()
			return a.status(), nil
		},
	})
	reg.Register(mcp.ToolDescriptor{
		Name:        "self.player.resume",
		Description: "Resume playback",
		Handler: func(json.RawMessage) (interface{}, error) {
			a.mu.Lock()
			a.playing = true
			a.mu.Unlock()
			return a.status(), nil
		},
	})
	reg.Register(mcp.ToolDescriptor{
		Name:        "self.player.stop",
		Description: "Stop playback and clear the current track",
		Handler: func(json.RawMessage) (interface{}, error) {
			a.mu.Lock()
			a.playing = false
			a.track = ""
			a.mu.Unlock()
			return a.status(), nil
		},
	})

	return a
}

// Pause implements internal/music.Player.
func (a *PlayerAdapter) Pause() error {
	a.mu.Lock()
	a.playing = false
	a.mu.Unlock()
	return nil
}

// Resume implements internal/music.Player.
func (a *PlayerAdapter) Resume() error {
	a.mu.Lock()
	a.playing = true
	a.mu.Unlock()
	return nil
}

// IsPlaying implements internal/music.Player.
func (a *PlayerAdapter) IsPlaying() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playing
}

func (a *PlayerAdapter) status() map[string]interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return map[string]interface{}{"playing": a.playing, "track": a.track}
}

// Properties reports the player's current state for self.get_device_status.
func (a *PlayerAdapter) Properties() map[string]interface{} {
	return a.status()
}
