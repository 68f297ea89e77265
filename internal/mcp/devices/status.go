package devices

import (
	"encoding/json"

	"github.com/rustyguts/verdure/internal/mcp"
)

// StatusProvider is implemented by every adapter in this package.
type StatusProvider interface {
	Properties() map[string]interface{}
}

// RegisterDeviceStatus registers the self.get_device_status tool, which
// aggregates every adapter's Properties() into one snapshot keyed by device
// name. Call it once all device adapters have been constructed.
func RegisterDeviceStatus(reg *mcp.Registry, devices map[string]StatusProvider) {
	reg.Register(mcp.ToolDescriptor{
		Name:        "self.get_device_status",
		Description: "Report current state for every registered device",
		Handler: func(json.RawMessage) (interface{}, error) {
			out := make(map[string]interface{}, len(devices))
			for name, d := range devices {
				out[name] = d.Properties()
			}
			return out, nil
		},
	})
}
