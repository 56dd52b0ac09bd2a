package indexer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
	"github.com/ChamsBouzaiene/repowiki/internal/extractor"
)

// PipelineConfig configures chunking and embedding.
type PipelineConfig struct {
	Chunker     Chunker
	BatchSize   int // chunks per embedding call, capped by the embedder's MaxBatch
	Concurrency int // embedding calls in flight
	Retry       engine.RetryPolicy
	CallTimeout time.Duration // bound on each embedding attempt
	Provider    string        // provider name used in errors
}

// DefaultPipelineConfig returns the defaults used by the CLI and servers.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Chunker:     DefaultChunker(),
		BatchSize:   64,
		Concurrency: 2,
		Retry:       engine.DefaultRetryConfig().EmbedPolicy,
		CallTimeout: engine.DefaultTimeouts().Embed,
	}
}

// Pipeline turns content records into a VectorIndex.
type Pipeline struct {
	embedder engine.Embedder
	config   PipelineConfig
}

// NewPipeline creates a pipeline bound to one embedder.
func NewPipeline(embedder engine.Embedder, config PipelineConfig) *Pipeline {
	if config.Chunker.MaxChars <= 0 {
		config.Chunker = DefaultChunker()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}
	if limit := embedder.MaxBatch(); limit > 0 && config.BatchSize > limit {
		config.BatchSize = limit
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.Provider == "" {
		config.Provider = embedder.ModelID()
	}
	return &Pipeline{embedder: embedder, config: config}
}

// Embedder returns the embedder the pipeline writes vectors with.
func (p *Pipeline) Embedder() engine.Embedder { return p.embedder }

// IndexVersion identifies chunking parameters plus embedding space.
func (p *Pipeline) IndexVersion() string {
	return p.config.Chunker.Version() + "@" + p.embedder.ModelID()
}

// Chunk splits indexable records into chunks without vectors, in path then line order.
func (p *Pipeline) Chunk(records []extractor.ContentRecord) []Chunk {
	version := p.IndexVersion()
	var chunks []Chunk
	for _, rec := range records {
		if !rec.Indexable() {
			continue
		}
		for _, span := range p.config.Chunker.Split(rec.Content) {
			chunks = append(chunks, Chunk{
				ID:        chunkID(rec.Path, span.StartLine, span.EndLine, version),
				Path:      rec.Path,
				StartLine: span.StartLine,
				EndLine:   span.EndLine,
				Language:  string(rec.Language),
				Text:      span.Text,
			})
		}
	}
	return chunks
}

// Build chunks and embeds records. Nothing is returned unless every batch succeeded;
// on failure the *engine.ProviderError reports how many chunks were embedded.
func (p *Pipeline) Build(ctx context.Context, repoKey string, records []extractor.ContentRecord) (*VectorIndex, error) {
	chunks := p.Chunk(records)
	if len(chunks) == 0 {
		return nil, &engine.EmptyInputError{RepoKey: repoKey}
	}

	started := time.Now()
	if err := p.embed(ctx, chunks); err != nil {
		return nil, err
	}

	dim := len(chunks[0].Vector)
	meta := Metadata{
		RepoKey:          repoKey,
		EmbeddingModelID: p.embedder.ModelID(),
		IndexVersion:     p.IndexVersion(),
		Dimension:        dim,
		BuiltAt:          time.Now().UTC(),
	}
	idx := NewVectorIndex(meta, chunks)
	log.Printf("✅ Embedded %d chunks from %d files for %s in %v", idx.Len(), idx.Meta.FileCount, repoKey, time.Since(started).Round(time.Millisecond))
	return idx, nil
}

type batchResult struct {
	index   int
	vectors [][]float32
	err     error
}

// embed fills chunk vectors in place. Batches run on a pool of Concurrency workers and
// land at their original positions, so ordering never depends on completion order.
func (p *Pipeline) embed(ctx context.Context, chunks []Chunk) error {
	size := p.config.BatchSize
	numBatches := (len(chunks) + size - 1) / size

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	results := make(chan batchResult, numBatches)
	var wg sync.WaitGroup
	var embedded atomic.Int64

	for w := 0; w < min(p.config.Concurrency, numBatches); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range jobs {
				if ctx.Err() != nil {
					continue
				}
				lo, hi := b*size, min((b+1)*size, len(chunks))
				vectors, err := p.embedBatch(ctx, b, chunks[lo:hi])
				if err != nil {
					cancel()
				} else {
					embedded.Add(int64(hi - lo))
				}
				results <- batchResult{index: b, vectors: vectors, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for b := 0; b < numBatches; b++ {
			select {
			case jobs <- b:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	dim := 0
	for r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		if firstErr != nil {
			continue
		}
		lo := r.index * size
		for i, v := range r.vectors {
			if dim == 0 {
				dim = len(v)
			}
			if len(v) != dim {
				firstErr = fmt.Errorf("embedding dimension changed from %d to %d in batch %d", dim, len(v), r.index+1)
				cancel()
				break
			}
			chunks[lo+i].Vector = v
		}
	}

	if firstErr == nil && ctx.Err() != nil {
		firstErr = ctx.Err()
	}
	if firstErr != nil {
		return &engine.ProviderError{
			Provider: p.config.Provider,
			Op:       "embed",
			Embedded: int(embedded.Load()),
			Err:      firstErr,
		}
	}
	return nil
}

func (p *Pipeline) embedBatch(ctx context.Context, b int, batch []Chunk) ([][]float32, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Path + "\n" + c.Text
	}

	call := engine.WithCallTimeout(p.config.CallTimeout, func(ctx context.Context) ([][]float32, error) {
		vectors, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(texts) {
			return nil, engine.NewEngineError(
				fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts)),
				engine.RetryClassNonRetryable)
		}
		return vectors, nil
	})

	return engine.RetryWithPolicy(ctx, p.config.Retry, call, engine.ClassifyProviderError,
		func(attempt int, delay time.Duration, err error) {
			log.Printf("🔄 Embedding batch %d failed (attempt %d), retrying in %v: %v", b+1, attempt, delay, err)
		})
}
