package harness

import (
	"errors"
	"fmt"
	"sync"

	ports "github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/ports"

	"github.com/armon/go-radix"
)

// ErrDuplicateTool is returned when a tool name is registered twice.
var ErrDuplicateTool = errors.New("tool already registered")

// Registry is the set of tools offered to the model, keyed by name. Names are
// kept in a radix tree so a namespace ("ticket_") can be listed in order.
type Registry struct {
	mu   sync.RWMutex
	tree *radix.Tree
}

// NewRegistry creates a registry holding tools. Later duplicates are ignored.
func NewRegistry(tools ...ports.Tool) *Registry {
	r := &Registry{tree: radix.New()}
	for _, tool := range tools {
		_ = r.Register(tool)
	}
	return r
}

// Register adds tool under its spec name.
func (r *Registry) Register(tool ports.Tool) error {
	name := tool.Spec().Name
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tree.Get(name); exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tree.Insert(name, tool)
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (ports.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.tree.Get(name)
	if !ok {
		return nil, false
	}
	return v.(ports.Tool), true
}

// WithPrefix lists the tools whose name starts with prefix, by name.
func (r *Registry) WithPrefix(prefix string) []ports.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tools []ports.Tool
	r.tree.WalkPrefix(prefix, func(_ string, v interface{}) bool {
		tools = append(tools, v.(ports.Tool))
		return false
	})
	return tools
}

// Specs returns the specs of every tool accepted by allow, by name. A nil
// allow accepts all.
func (r *Registry) Specs(allow func(name string) bool) []ports.ToolSpec {
	var specs []ports.ToolSpec
	for _, tool := range r.WithPrefix("") {
		spec := tool.Spec()
		if allow != nil && !allow(spec.Name) {
			continue
		}
		specs = append(specs, spec)
	}
	return specs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tree.Len()
}
