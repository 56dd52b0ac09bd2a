// Package knowledge wires repository access, indexing, wiki synthesis and
// question answering into the single Engine the adapters talk to.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ChamsBouzaiene/repowiki/internal/cache"
	"github.com/ChamsBouzaiene/repowiki/internal/engine"
	"github.com/ChamsBouzaiene/repowiki/internal/extractor"
	"github.com/ChamsBouzaiene/repowiki/internal/hosts"
	"github.com/ChamsBouzaiene/repowiki/internal/indexer"
	"github.com/ChamsBouzaiene/repowiki/internal/providers"
	"github.com/ChamsBouzaiene/repowiki/internal/repo"
	"github.com/ChamsBouzaiene/repowiki/internal/resolver"
	"github.com/ChamsBouzaiene/repowiki/internal/session"
	"github.com/ChamsBouzaiene/repowiki/internal/wiki"
)

// Store persists indexes and wikis. *store.Store satisfies it.
type Store interface {
	indexer.IndexStore
	wiki.Store
	DeleteWiki(ctx context.Context, key string) error
}

// Config tunes every component owned by the Engine.
type Config struct {
	Limits           extractor.Limits
	Pipeline         indexer.PipelineConfig
	Builder          indexer.BuilderConfig
	Wiki             wiki.Config
	Resolver         resolver.Config
	MaxTurns         int
	RepoCacheEntries int
	WikiCacheEntries int
	WatchDebounce    time.Duration
}

// DefaultConfig returns the defaults used by the CLI and servers.
func DefaultConfig() Config {
	return Config{
		Limits:           extractor.DefaultLimits(),
		Pipeline:         indexer.DefaultPipelineConfig(),
		Builder:          indexer.DefaultBuilderConfig(),
		Wiki:             wiki.DefaultConfig(),
		Resolver:         resolver.DefaultConfig(),
		MaxTurns:         session.DefaultMaxTurns,
		RepoCacheEntries: 256,
		WikiCacheEntries: 32,
		WatchDebounce:    time.Second,
	}
}

// Components are the collaborators built outside the Engine.
type Components struct {
	Hosts     *hosts.Registry
	Embedder  engine.Embedder
	Generator engine.Generator
	Store     Store               // nil keeps everything in memory
	Sessions  session.Store       // nil keeps sessions in memory
	Providers *providers.Registry // optional; enables per-request provider overrides
}

// Engine is safe for concurrent use by any number of adapters.
type Engine struct {
	config    Config
	refs      *repo.Registry
	hosts     *hosts.Registry
	extractor *extractor.Extractor
	builder   *indexer.Builder
	store     Store
	wikis     *cache.Cache[string, *wiki.Structure]
	wikiGroup singleflight.Group
	synth     *wiki.Synthesizer
	resolver  *resolver.Resolver
	providers *providers.Registry
	embedder  engine.Embedder
	generator engine.Generator
	started   time.Time

	mu       sync.Mutex
	watchers map[string]*indexer.RepoWatcher
}

// New assembles an Engine.
func New(config Config, c Components) (*Engine, error) {
	if c.Hosts == nil {
		return nil, errors.New("knowledge: no host registry")
	}
	if c.Embedder == nil {
		return nil, errors.New("knowledge: no embedder")
	}

	var idxStore indexer.IndexStore
	if c.Store != nil {
		idxStore = c.Store
	}
	builder := indexer.NewBuilder(indexer.NewPipeline(c.Embedder, config.Pipeline), idxStore, config.Builder)
	sessions := session.NewManager(c.Sessions, config.MaxTurns)

	return &Engine{
		config:    config,
		refs:      repo.NewRegistry(config.RepoCacheEntries),
		hosts:     c.Hosts,
		extractor: extractor.New(c.Hosts, config.Limits),
		builder:   builder,
		store:     c.Store,
		wikis: cache.New[string, *wiki.Structure](config.WikiCacheEntries, 0, nil,
			cache.WithOnEvict(func(key string, _ *wiki.Structure) {
				log.Printf("🧹 Evicted wiki %s from cache", key)
			})),
		synth:     wiki.NewSynthesizer(c.Embedder, c.Generator, config.Wiki),
		resolver:  resolver.New(builder, c.Embedder, c.Generator, sessions, config.Resolver),
		providers: c.Providers,
		embedder:  c.Embedder,
		generator: c.Generator,
		started:   time.Now(),
		watchers:  make(map[string]*indexer.RepoWatcher),
	}, nil
}

// RepoRequest names a repository and the subset of it to read.
type RepoRequest struct {
	RepoURL  string
	RepoType string
	Token    string
	Filters  extractor.Filters
}

// IndexRequest asks for a repository to be indexed.
type IndexRequest struct {
	RepoRequest
	Force bool
}

// IndexResult reports the index serving a repository.
type IndexResult struct {
	Ref   *repo.Reference
	Key   string
	Index *indexer.VectorIndex
}

// Reference resolves req to its shared, validated repository reference.
func (e *Engine) Reference(req RepoRequest) (*repo.Reference, error) {
	if strings.TrimSpace(req.RepoURL) == "" {
		return nil, &engine.NotFoundError{What: "repository url is required"}
	}
	hostType, err := repo.ParseHostType(req.RepoType)
	if err != nil {
		return nil, &engine.NotFoundError{What: err.Error()}
	}
	ref, err := e.refs.Resolve(req.RepoURL, hostType, req.Token)
	if err != nil {
		return nil, err
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return ref, nil
}

// Index returns a compatible index for the repository, building it when needed.
func (e *Engine) Index(ctx context.Context, req IndexRequest) (*IndexResult, error) {
	ref, err := e.Reference(req.RepoRequest)
	if err != nil {
		return nil, err
	}
	return e.index(ctx, ref, req.Filters, req.Force)
}

func (e *Engine) index(ctx context.Context, ref *repo.Reference, filters extractor.Filters, force bool) (*IndexResult, error) {
	key := ref.Key()
	if force {
		if err := e.refresh(ctx, ref); err != nil {
			return nil, err
		}
	}

	idx, err := e.builder.Build(ctx, indexer.BuildRequest{
		RepoKey:    key,
		FilterHash: indexer.FilterHash(filters),
		Force:      force,
		Extract: func(ctx context.Context) (*extractor.Result, error) {
			return e.extractor.Extract(ctx, ref, filters)
		},
	})
	if err != nil {
		return nil, err
	}
	return &IndexResult{Ref: ref, Key: key, Index: idx}, nil
}

func (e *Engine) refresh(ctx context.Context, ref *repo.Reference) error {
	host, err := e.hosts.For(ref)
	if err != nil {
		return err
	}
	if r, ok := host.(hosts.Refresher); ok {
		return r.Refresh(ctx, ref)
	}
	return nil
}

// WikiRequest asks for the wiki of a repository in one language.
type WikiRequest struct {
	RepoRequest
	Language string
	Force    bool // regenerate even when a current wiki exists
	Provider string
	Model    string
}

// Wiki returns the wiki for the repository, indexing and synthesizing on demand.
// A failed regeneration leaves any previously stored wiki in place.
func (e *Engine) Wiki(ctx context.Context, req WikiRequest) (*wiki.Structure, error) {
	gen, err := e.generatorFor(req.Provider, req.Model)
	if err != nil {
		return nil, err
	}
	res, err := e.Index(ctx, IndexRequest{RepoRequest: req.RepoRequest})
	if err != nil {
		return nil, err
	}
	lang := req.Language
	if lang == "" {
		lang = "en"
	}
	cacheKey := wikiCacheKey(res.Key, lang)

	if !req.Force {
		if w, ok := e.wikis.Get(cacheKey); ok && current(w, res.Index) {
			return w, nil
		}
		if e.store != nil {
			w, err := e.store.LoadWiki(ctx, res.Key, lang)
			if err != nil {
				log.Printf("⚠️  Loading stored wiki for %s failed: %v", res.Key, err)
			} else if w != nil && current(w, res.Index) {
				e.wikis.Put(cacheKey, w)
				return w, nil
			}
		}
	}

	ch := e.wikiGroup.DoChan(cacheKey, func() (interface{}, error) {
		return e.synthesize(context.WithoutCancel(ctx), res, wiki.Request{
			RepoKey:   res.Key,
			RepoName:  repoName(res.Ref),
			Language:  lang,
			Generator: gen,
		})
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*wiki.Structure), nil
	}
}

func (e *Engine) synthesize(ctx context.Context, res *IndexResult, req wiki.Request) (*wiki.Structure, error) {
	w, err := e.synth.Synthesize(ctx, res.Index, req)
	if err != nil {
		log.Printf("❌ Wiki generation for %s failed: %v", res.Key, err)
		return nil, err
	}
	if e.store != nil {
		if err := e.store.SaveWiki(ctx, w); err != nil {
			return nil, fmt.Errorf("persist wiki %s: %w", res.Key, err)
		}
	}
	e.wikis.Put(wikiCacheKey(res.Key, req.Language), w)
	return w, nil
}

// current reports whether w was generated from idx rather than an earlier build.
func current(w *wiki.Structure, idx *indexer.VectorIndex) bool {
	return w.IndexVersion == idx.Meta.IndexVersion && !w.GeneratedAt.Before(idx.Meta.BuiltAt)
}

func wikiCacheKey(key, language string) string {
	return key + "|" + strings.ToLower(language)
}

func repoName(ref *repo.Reference) string {
	if ref.Owner != "" {
		return ref.Owner + "/" + ref.Name
	}
	return ref.Name
}

// QueryRequest is one question about a repository.
type QueryRequest struct {
	RepoRequest
	Question  string
	FilePath  string
	SessionID string
	Messages  []session.Message // caller-owned history; bypasses stored sessions
	Language  string
	TopK      int
	Provider  string
	Model     string
}

func (e *Engine) resolverRequest(ref *repo.Reference, req QueryRequest) (resolver.Request, error) {
	gen, err := e.generatorFor(req.Provider, req.Model)
	if err != nil {
		return resolver.Request{}, err
	}
	return resolver.Request{
		RepoKey:   ref.Key(),
		RepoName:  repoName(ref),
		Question:  req.Question,
		FilePath:  req.FilePath,
		SessionID: req.SessionID,
		Messages:  req.Messages,
		Language:  req.Language,
		TopK:      req.TopK,
		Generator: gen,
	}, nil
}

// Resolve answers a question about an already indexed repository.
func (e *Engine) Resolve(ctx context.Context, req QueryRequest) (*resolver.Answer, error) {
	ref, err := e.Reference(req.RepoRequest)
	if err != nil {
		return nil, err
	}
	rreq, err := e.resolverRequest(ref, req)
	if err != nil {
		return nil, err
	}
	return e.resolver.Resolve(ctx, rreq)
}

// Stream answers a question about an already indexed repository as fragments.
func (e *Engine) Stream(ctx context.Context, req QueryRequest) (*resolver.AnswerStream, error) {
	ref, err := e.Reference(req.RepoRequest)
	if err != nil {
		return nil, err
	}
	rreq, err := e.resolverRequest(ref, req)
	if err != nil {
		return nil, err
	}
	return e.resolver.Stream(ctx, rreq)
}

// Ask indexes the repository when needed, then resolves the question.
func (e *Engine) Ask(ctx context.Context, req QueryRequest) (*resolver.Answer, error) {
	rreq, err := e.indexedRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.resolver.Resolve(ctx, rreq)
}

// AskStream indexes the repository when needed, then streams the answer.
func (e *Engine) AskStream(ctx context.Context, req QueryRequest) (*resolver.AnswerStream, error) {
	rreq, err := e.indexedRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.resolver.Stream(ctx, rreq)
}

// indexedRequest builds the index for req and pins it to the resolver request,
// so the answer comes from the index this call produced.
func (e *Engine) indexedRequest(ctx context.Context, req QueryRequest) (resolver.Request, error) {
	res, err := e.Index(ctx, IndexRequest{RepoRequest: req.RepoRequest})
	if err != nil {
		return resolver.Request{}, err
	}
	rreq, err := e.resolverRequest(res.Ref, req)
	if err != nil {
		return resolver.Request{}, err
	}
	rreq.Index = res.Index
	return rreq, nil
}

func (e *Engine) generatorFor(provider, model string) (*engine.Generator, error) {
	if provider == "" && model == "" {
		return nil, nil
	}
	if provider == "" {
		gen := e.generator
		gen.Model = model
		return &gen, nil
	}
	if e.providers == nil {
		return nil, fmt.Errorf("provider %q requested but no provider registry is configured", provider)
	}
	gen, err := e.providers.Generator(providers.Spec{Provider: provider, Model: model})
	if err != nil {
		return nil, err
	}
	return &gen, nil
}

// Invalidate drops every cached and stored artifact for a repository key.
func (e *Engine) Invalidate(ctx context.Context, key string) error {
	e.stopWatch(key)
	e.wikis.InvalidateFunc(func(k string) bool { return strings.HasPrefix(k, key+"|") })
	if err := e.builder.Invalidate(ctx, key); err != nil {
		return err
	}
	if e.store != nil {
		return e.store.DeleteWiki(ctx, key)
	}
	return nil
}

// Status describes what the Engine holds for one repository.
type Status struct {
	Key      string            `json:"key"`
	Indexed  bool              `json:"indexed"`
	Index    *indexer.Metadata `json:"index,omitempty"`
	Wikis    []string          `json:"wiki_languages,omitempty"`
	Watching bool              `json:"watching"`
}

// Status reports the index and cached wikis for key.
func (e *Engine) Status(ctx context.Context, key string) (*Status, error) {
	st := &Status{Key: key}
	idx, err := e.builder.Get(ctx, key)
	var notIndexed *engine.NotIndexedError
	switch {
	case errors.As(err, &notIndexed):
	case err != nil:
		return nil, err
	default:
		meta := idx.Meta
		st.Indexed = true
		st.Index = &meta
	}
	for _, k := range e.wikis.Keys() {
		if lang, ok := strings.CutPrefix(k, key+"|"); ok {
			st.Wikis = append(st.Wikis, lang)
		}
	}
	sort.Strings(st.Wikis)
	e.mu.Lock()
	_, st.Watching = e.watchers[key]
	e.mu.Unlock()
	return st, nil
}

// Health is the liveness report served by adapters.
type Health struct {
	Status     string      `json:"status"`
	Service    string      `json:"service"`
	Uptime     string      `json:"uptime"`
	Hosts      []string    `json:"hosts"`
	Embedding  string      `json:"embedding_model"`
	Generation string      `json:"generation_model,omitempty"`
	Providers  []string    `json:"providers,omitempty"`
	IndexCache cache.Stats `json:"index_cache"`
	WikiCache  cache.Stats `json:"wiki_cache"`
	Builds     int64       `json:"builds"`
}

// Health reports the Engine's configuration and cache counters.
func (e *Engine) Health() Health {
	h := Health{
		Status:     "healthy",
		Service:    "repowiki",
		Uptime:     time.Since(e.started).Round(time.Second).String(),
		Embedding:  e.embedder.ModelID(),
		IndexCache: e.builder.CacheStats(),
		WikiCache:  e.wikis.Stats(),
		Builds:     e.builder.Executions(),
	}
	for _, t := range e.hosts.Types() {
		h.Hosts = append(h.Hosts, string(t))
	}
	if e.generator.Client != nil {
		h.Generation = e.generator.Provider + "/" + e.generator.Model
	} else {
		h.Status = "degraded"
	}
	if e.providers != nil {
		h.Providers = e.providers.GeneratorIDs()
	}
	return h
}

// Watch re-indexes a local repository whenever its files change, until ctx ends
// or the key is invalidated. Remote repositories cannot be watched.
func (e *Engine) Watch(ctx context.Context, req IndexRequest) error {
	ref, err := e.Reference(req.RepoRequest)
	if err != nil {
		return err
	}
	if ref.IsRemote() {
		return fmt.Errorf("watch %s: only local repositories can be watched", ref)
	}
	key := ref.Key()

	e.mu.Lock()
	if _, ok := e.watchers[key]; ok {
		e.mu.Unlock()
		return nil
	}
	rw, err := indexer.NewRepoWatcher(ref.LocalPath, extractor.NewMatcher(req.Filters, nil), e.config.WatchDebounce)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.watchers[key] = rw
	e.mu.Unlock()

	err = rw.Watch(func(paths []string) {
		log.Printf("🔁 %d files changed in %s, re-indexing", len(paths), key)
		if _, err := e.index(ctx, ref, req.Filters, true); err != nil {
			log.Printf("❌ Re-index of %s failed: %v", key, err)
		}
	})
	if err != nil {
		e.stopWatch(key)
		return err
	}
	log.Printf("👀 Watching %s", ref.LocalPath)

	go func() {
		<-ctx.Done()
		e.stopWatch(key)
	}()
	return nil
}

func (e *Engine) stopWatch(key string) {
	e.mu.Lock()
	rw, ok := e.watchers[key]
	delete(e.watchers, key)
	e.mu.Unlock()
	if ok {
		if err := rw.Close(); err != nil {
			log.Printf("⚠️  Stopping watcher for %s: %v", key, err)
		}
	}
}

// Close stops every watcher. The store is owned by the caller.
func (e *Engine) Close() error {
	e.mu.Lock()
	keys := make([]string, 0, len(e.watchers))
	for k := range e.watchers {
		keys = append(keys, k)
	}
	e.mu.Unlock()
	sort.Strings(keys)
	for _, k := range keys {
		e.stopWatch(k)
	}
	return nil
}
