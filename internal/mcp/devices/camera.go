package devices

import (
	"encoding/json"
	"sync"

	"github.com/rustyguts/verdure/internal/mcp"
)

// CameraAdapter exposes on/off control for a single camera. This repo does
// not drive an actual capture device; the adapter tracks state so the
// orchestrator and remote peer have a consistent view of it.
type CameraAdapter struct {
	mu      sync.Mutex
	enabled bool
}

// NewCameraAdapter registers the camera's tools into reg.
func NewCameraAdapter(reg *mcp.Registry) *CameraAdapter {
	a := &CameraAdapter{}

	reg.Register(mcp.ToolDescriptor{
		Name:        "self.camera.enable",
		Description: "Enable the camera",
		Handler: func(json.RawMessage) (interface{}, error) {
			a.mu.Lock()
			a.enabled = true
			a.mu.Unlock()
			return a.status(), nil
		},
	})
	reg.Register(mcp.ToolDescriptor{
		Name:        "self.camera.disable",
		Description: "Disable the camera",
		Handler: func(json.RawMessage) (interface{}, error) {
			a.mu.Lock()
			a.enabled = false
			a.mu.Unlock()
			return a.status(), nil
		},
	})

	return a
}

func (a *CameraAdapter) status() map[string]interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return map[string]interface{}{"enabled": a.enabled}
}

// Properties reports the camera's current state for self.get_device_status.
func (a *CameraAdapter) Properties() map[string]interface{} {
	return a.status()
}
