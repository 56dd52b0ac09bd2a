package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ChamsBouzaiene/repowiki/internal/cache"
	"github.com/ChamsBouzaiene/repowiki/internal/engine"
	"github.com/ChamsBouzaiene/repowiki/internal/extractor"
)

// IndexStore persists vector indexes by repository key.
type IndexStore interface {
	SaveIndex(ctx context.Context, idx *VectorIndex) error
	// LoadIndex returns (nil, nil) when no index is stored for key.
	LoadIndex(ctx context.Context, key string) (*VectorIndex, error)
	DeleteIndex(ctx context.Context, key string) error
}

// Source produces the records to index. A partial result returned with a
// *engine.SizeLimitError is indexed and flagged as truncated.
type Source func(ctx context.Context) (*extractor.Result, error)

// BuildRequest asks the Builder for an index.
type BuildRequest struct {
	RepoKey    string
	FilterHash string
	Force      bool // rebuild even when a compatible index exists
	Extract    Source
}

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	Workers      int           // builds running at once across repositories
	BuildTimeout time.Duration // bound on one build, independent of any caller
	CacheEntries int
	CacheBytes   int64
}

// DefaultBuilderConfig returns the defaults used by the CLI and servers.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		Workers:      4,
		BuildTimeout: 30 * time.Minute,
		CacheEntries: 16,
		CacheBytes:   1 << 30,
	}
}

// Builder owns every VectorIndex in the process. Builds for one key are
// collapsed into a single execution; builds for different keys run in parallel
// up to Workers. A new index replaces the old one only after it is fully built
// and persisted.
type Builder struct {
	pipeline *Pipeline
	store    IndexStore
	indexes  *cache.Cache[string, *VectorIndex]
	group    singleflight.Group
	sem      chan struct{}
	timeout  time.Duration

	executions atomic.Int64
}

// NewBuilder creates a builder. store may be nil for memory-only operation.
func NewBuilder(pipeline *Pipeline, store IndexStore, config BuilderConfig) *Builder {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &Builder{
		pipeline: pipeline,
		store:    store,
		indexes: cache.New[string, *VectorIndex](config.CacheEntries, config.CacheBytes,
			func(idx *VectorIndex) int64 { return idx.SizeBytes() },
			cache.WithOnEvict(func(key string, _ *VectorIndex) {
				log.Printf("🧹 Evicted index %s from cache", key)
			})),
		sem:     make(chan struct{}, config.Workers),
		timeout: config.BuildTimeout,
	}
}

// Pipeline returns the chunk and embed pipeline.
func (b *Builder) Pipeline() *Pipeline { return b.pipeline }

// Executions counts builds that actually ran.
func (b *Builder) Executions() int64 { return b.executions.Load() }

// Build returns a compatible existing index, or builds one. Concurrent calls for
// the same key share one build and receive the same *VectorIndex. Canceling ctx
// abandons the wait but not the shared build.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*VectorIndex, error) {
	if req.Extract == nil {
		return nil, fmt.Errorf("build %s: no source", req.RepoKey)
	}
	if !req.Force {
		if idx, err := b.Get(ctx, req.RepoKey); err == nil && b.reusable(idx, req) {
			return idx, nil
		}
	}

	for {
		ch := b.group.DoChan(req.RepoKey, func() (interface{}, error) {
			return b.run(context.WithoutCancel(ctx), req)
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-ch:
		}
		if res.Err != nil {
			return nil, res.Err
		}
		idx := res.Val.(*VectorIndex)
		if filtersMatch(idx, req) {
			return idx, nil
		}
		// The joined build was started with other filters; build again with ours.
		log.Printf("🔁 Joined build for %s used filters %q, rebuilding with %q",
			req.RepoKey, idx.Meta.FilterHash, req.FilterHash)
	}
}

func (b *Builder) reusable(idx *VectorIndex, req BuildRequest) bool {
	if idx.Meta.IndexVersion != b.pipeline.IndexVersion() {
		return false
	}
	return filtersMatch(idx, req)
}

// filtersMatch reports whether idx honors the caller's filters. An empty
// FilterHash states no preference.
func filtersMatch(idx *VectorIndex, req BuildRequest) bool {
	return req.FilterHash == "" || req.FilterHash == idx.Meta.FilterHash
}

func (b *Builder) run(ctx context.Context, req BuildRequest) (*VectorIndex, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-b.sem }()

	b.executions.Add(1)
	log.Printf("🔨 Building index for %s", req.RepoKey)

	res, err := req.Extract(ctx)
	if err != nil {
		var sizeErr *engine.SizeLimitError
		if !errors.As(err, &sizeErr) || res == nil {
			return nil, err
		}
		log.Printf("⚠️  Indexing partial content for %s: %v", req.RepoKey, err)
	}

	idx, err := b.pipeline.Build(ctx, req.RepoKey, res.Indexable())
	if err != nil {
		log.Printf("❌ Index build for %s failed: %v", req.RepoKey, err)
		return nil, err
	}
	idx.Meta.FilterHash = req.FilterHash
	idx.Meta.Truncated = res.Truncated
	if len(res.Skipped) > 0 {
		idx.Meta.Skipped = res.Skipped
	}

	if b.store != nil {
		if err := b.store.SaveIndex(ctx, idx); err != nil {
			return nil, fmt.Errorf("persist index %s: %w", req.RepoKey, err)
		}
	}
	b.indexes.Put(req.RepoKey, idx)
	log.Printf("✅ Index for %s ready (%d chunks, truncated=%t)", req.RepoKey, idx.Len(), idx.Meta.Truncated)
	return idx, nil
}

// Get returns the current index for key from the cache or the store.
// Indexes built with another embedding model are not returned.
func (b *Builder) Get(ctx context.Context, key string) (*VectorIndex, error) {
	if idx, ok := b.indexes.Get(key); ok {
		return idx, nil
	}
	if b.store == nil {
		return nil, &engine.NotIndexedError{RepoKey: key}
	}

	idx, err := b.store.LoadIndex(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load index %s: %w", key, err)
	}
	if idx == nil {
		return nil, &engine.NotIndexedError{RepoKey: key}
	}
	if idx.Meta.EmbeddingModelID != b.pipeline.Embedder().ModelID() {
		log.Printf("⚠️  Stored index for %s uses %s, current model is %s; re-index required",
			key, idx.Meta.EmbeddingModelID, b.pipeline.Embedder().ModelID())
		return nil, &engine.NotIndexedError{RepoKey: key}
	}
	b.indexes.Put(key, idx)
	return idx, nil
}

// Invalidate drops the cached and stored index for key.
func (b *Builder) Invalidate(ctx context.Context, key string) error {
	b.indexes.Invalidate(key)
	if b.store != nil {
		return b.store.DeleteIndex(ctx, key)
	}
	return nil
}

// CacheStats reports index cache counters.
func (b *Builder) CacheStats() cache.Stats { return b.indexes.Stats() }

// FilterHash fingerprints a filter set; empty filters hash to "".
func FilterHash(f extractor.Filters) string {
	if len(f.ExcludedDirs)+len(f.ExcludedFiles)+len(f.IncludedDirs)+len(f.IncludedFiles) == 0 {
		return ""
	}
	sorted := func(in []string) []string {
		out := append([]string(nil), in...)
		sort.Strings(out)
		return out
	}
	data, _ := json.Marshal([][]string{
		sorted(f.ExcludedDirs), sorted(f.ExcludedFiles), sorted(f.IncludedDirs), sorted(f.IncludedFiles),
	})
	return fmt.Sprintf("%x", sha256.Sum256(data))[:16]
}
