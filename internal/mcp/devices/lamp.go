// Package devices holds the MCP tool adapters exposed by this device:
// lamp, speaker, camera, and music player. Each adapter builds its
// ToolDescriptors at construction time and registers them into an
// internal/mcp.Registry; device property mutation through those tool calls
// is the only path to state change.
package devices

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rustyguts/verdure/internal/mcp"
)

// LampAdapter exposes on/off and brightness control for a single lamp.
type LampAdapter struct {
	mu         sync.Mutex
	on         bool
	brightness int
}

// NewLampAdapter registers the lamp's tools into reg and returns the
// adapter for direct use (e.g. by tests or local UI).
func NewLampAdapter(reg *mcp.Registry) *LampAdapter {
	a := &LampAdapter{brightness: 100}

	reg.Register(mcp.ToolDescriptor{
		Name:        "self.lamp.turn_on",
		Description: "Turn the lamp on, optionally setting brightness",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"brightness": map[string]interface{}{"type": "integer"}},
		},
		Handler: func(args json.RawMessage) (interface{}, error) {
			var params struct {
				Brightness *int `json:"brightness"`
			}
			if len(args) > 0 {
				if err := json.Unmarshal(args, &params); err != nil {
					return nil, fmt.Errorf("lamp.turn_on: %w", err)
				}
			}
			a.mu.Lock()
			a.on = true
			if params.Brightness != nil {
				a.brightness = clamp(*params.Brightness, 0, 100)
			}
			brightness := a.brightness
			a.mu.Unlock()
			return fmt.Sprintf("Smart lamp turned on with brightness %d", brightness), nil
		},
	})
	reg.Register(mcp.ToolDescriptor{
		Name:        "self.lamp.turn_off",
		Description: "Turn the lamp off",
		Handler: func(json.RawMessage) (interface{}, error) {
			a.mu.Lock()
			a.on = false
			a.mu.Unlock()
			return a.status(), nil
		},
	})
	reg.Register(mcp.ToolDescriptor{
		Name:        "self.lamp.set_brightness",
		Description: "Set lamp brightness (0-100)",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"brightness": map[string]interface{}{"type": "integer"}},
		},
		Handler: func(args json.RawMessage) (interface{}, error) {
			var params struct {
				Brightness int `json:"brightness"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return nil, fmt.Errorf("lamp.set_brightness: %w", err)
			}
			a.mu.Lock()
			a.brightness = clamp(params.Brightness, 0, 100)
			a.mu.Unlock()
			return a.status(), nil
		},
	})

	return a
}

func (a *LampAdapter) status() map[string]interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return map[string]interface{}{"on": a.on, "brightness": a.brightness}
}

// Properties reports the lamp's current state for self.get_device_status.
func (a *LampAdapter) Properties() map[string]interface{} {
	return a.status()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
