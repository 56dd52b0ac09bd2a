package prompts

import (
	"fmt"
	"sort"
	"sync"
)

// PromptRegistry holds every registered version of each prompt.
type PromptRegistry struct {
	mu   sync.RWMutex
	byID map[string][]*Prompt // sorted by version, oldest first
}

var (
	builtinOnce     sync.Once
	builtinRegistry *PromptRegistry
)

// DefaultRegistry returns the registry holding the built-in wiki and answer prompts.
func DefaultRegistry() *PromptRegistry {
	builtinOnce.Do(func() {
		builtinRegistry = NewPromptRegistry()
		registerBuiltins(builtinRegistry)
	})
	return builtinRegistry
}

// NewPromptRegistry creates an empty prompt registry.
func NewPromptRegistry() *PromptRegistry {
	return &PromptRegistry{byID: make(map[string][]*Prompt)}
}

// Register adds p, replacing an existing prompt with the same id and version.
func (r *PromptRegistry) Register(p *Prompt) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.byID[p.ID]
	i := sort.Search(len(list), func(i int) bool { return list[i].Version >= p.Version })
	if i < len(list) && list[i].Version == p.Version {
		list[i] = p
		return
	}
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = p
	r.byID[p.ID] = list
}

// Get returns one exact version.
func (r *PromptRegistry) Get(id string, version PromptVersion) (*Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("prompt not found: %s", id)
	}
	for _, p := range list {
		if p.Version == version {
			return p, nil
		}
	}
	return nil, fmt.Errorf("prompt %s version %s not found", id, version)
}

// GetLatest returns the newest version that is not deprecated, or the newest
// version outright when all of them are.
func (r *PromptRegistry) GetLatest(id string) (*Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.byID[id]
	if len(list) == 0 {
		return nil, fmt.Errorf("prompt not found: %s", id)
	}
	for i := len(list) - 1; i >= 0; i-- {
		if !list[i].Deprecated {
			return list[i], nil
		}
	}
	return list[len(list)-1], nil
}

// Versions lists the registered versions of id, oldest first.
func (r *PromptRegistry) Versions(id string) []PromptVersion {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PromptVersion, len(r.byID[id]))
	for i, p := range r.byID[id] {
		out[i] = p.Version
	}
	return out
}
