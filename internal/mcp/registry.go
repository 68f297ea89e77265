package mcp

import "sync"

// Registry holds the local tools this device exposes to the remote peer's
// tools/list and tools/call requests. Registration happens once at
// construction time; there is no runtime add/remove path (spec module G).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ToolDescriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]ToolDescriptor)}
}

// Register adds a tool. Intended to be called only during adapter
// construction, before the engine starts serving requests.
func (r *Registry) Register(td ToolDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[td.Name] = td
}

// List returns all registered tool descriptors. Handlers are copied along
// with the rest; their json:"-" tag keeps them out of the wire format.
func (r *Registry) List() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(r.tools))
	for _, td := range r.tools {
		out = append(out, td)
	}
	return out
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	td, ok := r.tools[name]
	return td, ok
}
