package repo

import (
	"github.com/ChamsBouzaiene/repowiki/internal/cache"
)

// Registry hands out one shared Reference per normalized key.
type Registry struct {
	refs *cache.Cache[string, *Reference]
}

// NewRegistry creates a registry holding at most maxEntries references.
func NewRegistry(maxEntries int) *Registry {
	return &Registry{refs: cache.New[string, *Reference](maxEntries, 0, nil)}
}

// Resolve parses raw and returns the cached reference for its key when one exists.
// A request carrying a different token replaces the cached reference instead of mutating it.
func (r *Registry) Resolve(raw string, hostType HostType, token string) (*Reference, error) {
	parsed, err := Parse(raw, hostType, token)
	if err != nil {
		return nil, err
	}

	key := parsed.Key()
	if existing, ok := r.refs.Get(key); ok && (token == "" || existing.Token == token) {
		return existing, nil
	}
	r.refs.Put(key, parsed)
	return parsed, nil
}

// Lookup returns a previously resolved reference.
func (r *Registry) Lookup(key string) (*Reference, bool) {
	return r.refs.Get(key)
}
