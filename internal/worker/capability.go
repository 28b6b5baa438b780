package worker

import (
	"fmt"
	"sort"

	"github.com/jobwire/worker-node/internal/protocol"
)

// Capability is one declared kind of work with its concurrency limit and
// the handler that executes it.
type Capability struct {
	Name     string
	Slots    int
	Metadata map[string]interface{}
	Handler  Handler
}

// Registry is the worker's declared capability set. It is populated at
// startup and read-only afterwards.
type Registry struct {
	caps map[string]Capability
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

// Register adds one capability. Called only during startup.
func (r *Registry) Register(c Capability) error {
	if c.Name == "" {
		return fmt.Errorf("capability name is required")
	}
	if c.Slots <= 0 {
		return fmt.Errorf("capability %q: slots must be greater than 0", c.Name)
	}
	if c.Handler == nil {
		return fmt.Errorf("capability %q: handler is required", c.Name)
	}
	if _, exists := r.caps[c.Name]; exists {
		return fmt.Errorf("capability %q already registered", c.Name)
	}
	r.caps[c.Name] = c
	return nil
}

// Lookup returns the capability for a job type.
func (r *Registry) Lookup(name string) (Capability, bool) {
	c, ok := r.caps[name]
	return c, ok
}

// Names returns the declared capability names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of declared capabilities.
func (r *Registry) Len() int {
	return len(r.caps)
}

// TotalSlots returns the summed concurrency limit across capabilities.
func (r *Registry) TotalSlots() int {
	total := 0
	for _, c := range r.caps {
		total += c.Slots
	}
	return total
}

// Advertise returns the capability mapping for worker_status messages.
func (r *Registry) Advertise() map[string]protocol.Capability {
	out := make(map[string]protocol.Capability, len(r.caps))
	for name, c := range r.caps {
		out[name] = protocol.Capability{Slots: c.Slots, Metadata: c.Metadata}
	}
	return out
}
