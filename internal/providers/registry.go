// Package providers selects generation and embedding backends by identifier.
package providers

import (
	"crypto/sha256"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
)

// Spec selects a provider and model. Empty fields fall back to the provider's defaults
// and its environment variables.
type Spec struct {
	Provider string  `json:"provider,omitempty" mapstructure:"provider"`
	Model    string  `json:"model,omitempty" mapstructure:"model"`
	BaseURL  string  `json:"base_url,omitempty" mapstructure:"base_url"`
	APIKey   string  `json:"-" mapstructure:"api_key"`
	RPS      float64 `json:"rps,omitempty" mapstructure:"rps"` // requests per second, 0 = unlimited
}

// GeneratorFactory builds a client for a resolved spec.
type GeneratorFactory func(spec Spec) (engine.LLMClient, error)

// EmbedderFactory builds an embedder for a resolved spec.
type EmbedderFactory func(spec Spec) (engine.Embedder, error)

// Preset describes where a provider lives and how it is configured from the environment.
type Preset struct {
	ID           string
	BaseURL      string
	BaseURLEnv   string
	KeyEnv       string
	KeyDefault   string // local servers accept any key
	ModelEnv     string
	DefaultModel string
	EmbedModel   string // empty when the provider has no embedding endpoint
}

type generatorEntry struct {
	preset  Preset
	factory GeneratorFactory
}

type embedderEntry struct {
	preset  Preset
	factory EmbedderFactory
}

// Registry maps provider identifiers to factories and memoizes built clients.
type Registry struct {
	mu         sync.Mutex
	generators map[string]generatorEntry
	embedders  map[string]embedderEntry
	clients    map[string]engine.LLMClient
	embeds     map[string]engine.Embedder
	getenv     func(string) string
}

// NewRegistry creates an empty registry reading defaults from the process environment.
func NewRegistry() *Registry {
	return &Registry{
		generators: make(map[string]generatorEntry),
		embedders:  make(map[string]embedderEntry),
		clients:    make(map[string]engine.LLMClient),
		embeds:     make(map[string]engine.Embedder),
		getenv:     os.Getenv,
	}
}

// RegisterGenerator adds a generation provider.
func (r *Registry) RegisterGenerator(preset Preset, factory GeneratorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[preset.ID] = generatorEntry{preset: preset, factory: factory}
}

// RegisterEmbedder adds an embedding provider.
func (r *Registry) RegisterEmbedder(preset Preset, factory EmbedderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedders[preset.ID] = embedderEntry{preset: preset, factory: factory}
}

// GeneratorIDs lists registered generation providers.
func (r *Registry) GeneratorIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.generators))
	for id := range r.generators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EmbedderIDs lists registered embedding providers.
func (r *Registry) EmbedderIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.embedders))
	for id := range r.embedders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// resolve fills empty spec fields from the preset and environment.
func (r *Registry) resolve(spec Spec, p Preset, modelEnv, defaultModel string) Spec {
	if spec.APIKey == "" && p.KeyEnv != "" {
		spec.APIKey = r.getenv(p.KeyEnv)
	}
	if spec.APIKey == "" {
		spec.APIKey = p.KeyDefault
	}
	if spec.BaseURL == "" && p.BaseURLEnv != "" {
		spec.BaseURL = r.getenv(p.BaseURLEnv)
	}
	if spec.BaseURL == "" {
		spec.BaseURL = p.BaseURL
	}
	if spec.Model == "" && modelEnv != "" {
		spec.Model = r.getenv(modelEnv)
	}
	if spec.Model == "" {
		spec.Model = defaultModel
	}
	return spec
}

func clientKey(spec Spec, withModel bool) string {
	key := spec.Provider + "|" + spec.BaseURL + "|" + fmt.Sprintf("%x", sha256.Sum256([]byte(spec.APIKey)))[:12]
	if withModel {
		key += "|" + spec.Model
	}
	return fmt.Sprintf("%s|%.3f", key, spec.RPS)
}

// Generator returns the client and model for spec. Clients are shared across calls
// with the same provider, endpoint and key.
func (r *Registry) Generator(spec Spec) (engine.Generator, error) {
	spec.Provider = strings.ToLower(strings.TrimSpace(spec.Provider))
	if spec.Provider == "" {
		spec.Provider = "openai"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.generators[spec.Provider]
	if !ok {
		return engine.Generator{}, fmt.Errorf("unknown provider: %s (supported: %s)", spec.Provider, strings.Join(r.sortedGeneratorIDs(), ", "))
	}
	spec = r.resolve(spec, entry.preset, entry.preset.ModelEnv, entry.preset.DefaultModel)
	if spec.APIKey == "" {
		return engine.Generator{}, fmt.Errorf("%s not set", entry.preset.KeyEnv)
	}

	key := clientKey(spec, false)
	client, ok := r.clients[key]
	if !ok {
		var err error
		client, err = entry.factory(spec)
		if err != nil {
			return engine.Generator{}, fmt.Errorf("failed to create %s client: %w", spec.Provider, err)
		}
		if spec.RPS > 0 {
			client = NewRateLimitedClient(client, rate.Limit(spec.RPS), 1)
		}
		r.clients[key] = client
	}
	return engine.Generator{Client: client, Model: spec.Model, Provider: spec.Provider}, nil
}

// Embedder returns the embedder for spec.
func (r *Registry) Embedder(spec Spec) (engine.Embedder, error) {
	spec.Provider = strings.ToLower(strings.TrimSpace(spec.Provider))
	if spec.Provider == "" {
		spec.Provider = "openai"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.embedders[spec.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown embedding provider: %s", spec.Provider)
	}
	spec = r.resolve(spec, entry.preset, "", entry.preset.EmbedModel)
	if spec.APIKey == "" && entry.preset.KeyEnv != "" {
		return nil, fmt.Errorf("%s not set", entry.preset.KeyEnv)
	}

	key := clientKey(spec, true)
	if emb, ok := r.embeds[key]; ok {
		return emb, nil
	}
	emb, err := entry.factory(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s embedder: %w", spec.Provider, err)
	}
	if spec.RPS > 0 {
		emb = NewRateLimitedEmbedder(emb, rate.Limit(spec.RPS), 1)
	}
	r.embeds[key] = emb
	return emb, nil
}

func (r *Registry) sortedGeneratorIDs() []string {
	ids := make([]string, 0, len(r.generators))
	for id := range r.generators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
