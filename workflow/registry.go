package workflow

import (
	"fmt"
	"sort"
	"sync"

	"github.com/orchestral-ai/orchestral/types"
)

// Registry holds agent definitions for config assembly. It is an
// explicitly constructed collaborator: create one, register your agents,
// and pass the definitions into a Config. There is deliberately no
// package-level default instance.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]types.AgentDefinition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]types.AgentDefinition)}
}

// Register adds a definition. Duplicate ids are rejected.
func (r *Registry) Register(def types.AgentDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.ID]; exists {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("agent %q already registered", def.ID))
	}
	r.defs[def.ID] = def
	return nil
}

// Get returns the definition with the given id.
func (r *Registry) Get(id string) (types.AgentDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	return def, ok
}

// List returns all definitions sorted by id.
func (r *Registry) List() []types.AgentDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.AgentDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Definitions resolves ids in order, for building a Config's agent list.
func (r *Registry) Definitions(ids ...string) ([]types.AgentDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.AgentDefinition, 0, len(ids))
	for _, id := range ids {
		def, ok := r.defs[id]
		if !ok {
			return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("agent %q not registered", id))
		}
		out = append(out, def)
	}
	return out, nil
}
