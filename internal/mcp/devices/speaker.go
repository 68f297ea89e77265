package devices

import (
	"encoding/json"
	"fmt"

	"github.com/rustyguts/verdure/internal/audio"
	"github.com/rustyguts/verdure/internal/mcp"
)

// SpeakerAdapter exposes volume control over the assistant's own playback
// output, backed directly by the active PlaybackQueue.
type SpeakerAdapter struct {
	queue *audio.PlaybackQueue
}

// NewSpeakerAdapter registers the speaker's tools against queue, the same
// PlaybackQueue instance driving audible output.
func NewSpeakerAdapter(reg *mcp.Registry, queue *audio.PlaybackQueue) *SpeakerAdapter {
	a := &SpeakerAdapter{queue: queue}

	reg.Register(mcp.ToolDescriptor{
		Name:        "self.audio_speaker.set_volume",
		Description: "Set speaker volume as a fraction of unity gain (0.0-2.0)",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"volume": map[string]interface{}{"type": "number"}},
		},
		Handler: func(args json.RawMessage) (interface{}, error) {
			var params struct {
				Volume float64 `json:"volume"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return nil, fmt.Errorf("audio_speaker.set_volume: %w", err)
			}
			a.queue.SetVolume(params.Volume)
			return a.status(), nil
		},
	})
	reg.Register(mcp.ToolDescriptor{
		Name:        "self.audio_speaker.mute",
		Description: "Mute the speaker",
		Handler: func(json.RawMessage) (interface{}, error) {
			a.queue.SetVolume(0)
			return a.status(), nil
		},
	})

	return a
}

func (a *SpeakerAdapter) status() map[string]interface{} {
	return map[string]interface{}{"volume": a.queue.Volume()}
}

// Properties reports the speaker's current state for self.get_device_status.
func (a *SpeakerAdapter) Properties() map[string]interface{} {
	return a.status()
}
