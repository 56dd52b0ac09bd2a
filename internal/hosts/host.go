// Package hosts implements read-only access to repository hosting providers.
// Every provider is reached through the same two calls: list the file tree, read one file.
package hosts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
	"github.com/ChamsBouzaiene/repowiki/internal/repo"
)

// FileEntry is one file in a repository tree. Path is slash separated and relative to the root.
type FileEntry struct {
	Path string
	Size int64
}

// Host is the capability interface of a repository hosting provider.
type Host interface {
	ListFiles(ctx context.Context, ref *repo.Reference) ([]FileEntry, error)
	ReadFile(ctx context.Context, ref *repo.Reference, path string) ([]byte, error)
}

// Refresher is implemented by hosts that keep a local materialization (clones) which a
// forced re-index should discard.
type Refresher interface {
	Refresh(ctx context.Context, ref *repo.Reference) error
}

// Registry selects a Host by repository host type.
type Registry struct {
	mu    sync.RWMutex
	hosts map[repo.HostType]Host
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{hosts: make(map[repo.HostType]Host)}
}

// Register installs h for hostType, replacing any previous registration.
func (r *Registry) Register(hostType repo.HostType, h Host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[hostType] = h
}

// For returns the host serving ref.
func (r *Registry) For(ref *repo.Reference) (Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hosts[ref.HostType]
	if !ok {
		return nil, &engine.NotFoundError{What: fmt.Sprintf("no provider registered for host type %q", ref.HostType)}
	}
	return h, nil
}

// Types lists the registered host types in sorted order.
func (r *Registry) Types() []repo.HostType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]repo.HostType, 0, len(r.hosts))
	for t := range r.hosts {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Options configures the default registry.
type Options struct {
	CloneDir      string  // where gitlab/bitbucket/gitea (and github in clone mode) checkouts live
	GitHubMode    string  // "api" (default) or "clone"
	GitHubBaseURL string  // GitHub Enterprise API root; empty for github.com
	GitHubRate    float64 // proactive requests per second
	Retry         engine.RetryPolicy
}

// NewDefaultRegistry wires the built-in providers.
func NewDefaultRegistry(opts Options) (*Registry, error) {
	reg := NewRegistry()
	local := NewLocalHost()
	reg.Register(repo.HostLocal, local)

	clone := NewCloneHost(opts.CloneDir, local)
	reg.Register(repo.HostGitLab, clone)
	reg.Register(repo.HostBitbucket, clone)
	reg.Register(repo.HostGitea, clone)

	if opts.GitHubMode == "clone" {
		reg.Register(repo.HostGitHub, clone)
		return reg, nil
	}
	gh, err := NewGitHubHost(GitHubOptions{BaseURL: opts.GitHubBaseURL, Rate: opts.GitHubRate, Retry: opts.Retry})
	if err != nil {
		return nil, err
	}
	reg.Register(repo.HostGitHub, gh)
	return reg, nil
}

// classifyHostError keeps auth and resolution failures out of the retry loop.
func classifyHostError(err error) engine.RetryClass {
	var (
		access   *engine.AccessError
		notFound *engine.NotFoundError
	)
	if errors.As(err, &access) || errors.As(err, &notFound) {
		return engine.RetryClassNonRetryable
	}
	return engine.ClassifyProviderError(err)
}
