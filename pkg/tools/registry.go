package tools

import (
	"fmt"
	"sort"
	"sync"
)

// Registry stores tools by unique name in two layers: a static layer
// written once at startup (builtins plus app-registered tools) and dynamic
// per-namespace layers that external managers replace wholesale (e.g.
// MCP-discovered tools). Static always wins on name conflicts; duplicates
// across dynamic namespaces are rejected at set time.
type Registry struct {
	mu         sync.RWMutex
	static     map[string]Tool
	namespaces map[string]map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		static:     make(map[string]Tool),
		namespaces: make(map[string]map[string]Tool),
	}
}

// RegisterStatic adds tools to the static layer. Duplicate names are
// rejected; the static layer is meant to be written once at startup.
func (r *Registry) RegisterStatic(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tool := range tools {
		name := tool.Name()
		if name == "" {
			return fmt.Errorf("tool with empty name")
		}
		if _, exists := r.static[name]; exists {
			return fmt.Errorf("duplicate static tool: %s", name)
		}
		r.static[name] = tool
	}
	return nil
}

// SetNamespace replaces a dynamic namespace wholesale (copy-on-write: the
// namespace map is rebuilt, never mutated in place). Names colliding with
// another dynamic namespace are rejected; collisions with static tools are
// allowed but shadowed — static always wins on lookup.
func (r *Registry) SetNamespace(namespace string, tools []Tool) error {
	if namespace == "" {
		return fmt.Errorf("namespace is required")
	}

	next := make(map[string]Tool, len(tools))
	for _, tool := range tools {
		name := tool.Name()
		if _, dup := next[name]; dup {
			return fmt.Errorf("duplicate tool %s in namespace %s", name, namespace)
		}
		next[name] = tool
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for ns, existing := range r.namespaces {
		if ns == namespace {
			continue
		}
		for name := range next {
			if _, dup := existing[name]; dup {
				return fmt.Errorf("tool %s already provided by namespace %s", name, ns)
			}
		}
	}
	r.namespaces[namespace] = next
	return nil
}

// RemoveNamespace drops a dynamic namespace and all its tools.
func (r *Registry) RemoveNamespace(namespace string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.namespaces, namespace)
}

// Lookup resolves a tool by name, static layer first.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tool, ok := r.static[name]; ok {
		return tool, true
	}
	for _, ns := range r.namespaces {
		if tool, ok := ns[name]; ok {
			return tool, true
		}
	}
	return nil, false
}

// List returns all visible tools sorted by name. Dynamic tools shadowed by
// a static tool of the same name are excluded.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.static))
	for _, tool := range r.static {
		out = append(out, tool)
	}
	for _, ns := range r.namespaces {
		for name, tool := range ns {
			if _, shadowed := r.static[name]; !shadowed {
				out = append(out, tool)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ListGroup returns the visible tools of one group, sorted by name.
func (r *Registry) ListGroup(group string) []Tool {
	all := r.List()
	out := make([]Tool, 0, len(all))
	for _, tool := range all {
		if tool.Group() == group {
			out = append(out, tool)
		}
	}
	return out
}

// Definitions returns the OpenAI-formatted emissions for all visible tools.
func (r *Registry) Definitions() []Definition {
	all := r.List()
	out := make([]Definition, len(all))
	for i, tool := range all {
		out[i] = Definition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		}
	}
	return out
}
