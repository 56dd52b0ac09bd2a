package indexer

import (
	"fmt"
	"log"
	"sort"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// BM25Result represents a BM25 search result.
type BM25Result struct {
	ChunkID string
	Score   float64
}

// BM25Index provides keyword search over the chunks of one VectorIndex.
// It lives in memory next to the index it was built from.
type BM25Index struct {
	index bleve.Index
}

// newBM25Index builds an in-memory bleve index over chunks.
func newBM25Index(chunks []Chunk) (*BM25Index, error) {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create BM25 index: %w", err)
	}

	const batchSize = 500
	batch := index.NewBatch()
	for i := range chunks {
		c := &chunks[i]
		doc := map[string]interface{}{
			"path": c.Path,
			"lang": c.Language,
			"text": c.Text,
		}
		if err := batch.Index(c.ID, doc); err != nil {
			return nil, fmt.Errorf("failed to add chunk %s to batch: %w", c.ID, err)
		}
		if batch.Size() >= batchSize {
			if err := index.Batch(batch); err != nil {
				return nil, fmt.Errorf("failed to index batch: %w", err)
			}
			batch = index.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := index.Batch(batch); err != nil {
			return nil, fmt.Errorf("failed to index batch: %w", err)
		}
	}
	return &BM25Index{index: index}, nil
}

// buildIndexMapping creates the index mapping for code chunks.
func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	chunkMapping := bleve.NewDocumentMapping()

	pathField := bleve.NewTextFieldMapping()
	pathField.Analyzer = keyword.Name
	pathField.Store = true
	chunkMapping.AddFieldMappingsAt("path", pathField)

	langField := bleve.NewTextFieldMapping()
	langField.Analyzer = keyword.Name
	chunkMapping.AddFieldMappingsAt("lang", langField)

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = false
	chunkMapping.AddFieldMappingsAt("text", textField)

	indexMapping.DefaultMapping = chunkMapping
	return indexMapping
}

// Search performs a BM25 match query over chunk text.
func (b *BM25Index) Search(query string, k int) ([]BM25Result, error) {
	q := bleve.NewMatchQuery(query)
	q.SetField("text")

	req := bleve.NewSearchRequest(q)
	req.Size = k

	res, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("BM25 search failed: %w", err)
	}

	results := make([]BM25Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, BM25Result{ChunkID: hit.ID, Score: hit.Score})
	}
	return results, nil
}

// Close releases the index.
func (b *BM25Index) Close() error {
	return b.index.Close()
}

func (idx *VectorIndex) keywordIndex() (*BM25Index, error) {
	idx.bm25Once.Do(func() {
		idx.bm25, idx.bm25Err = newBM25Index(idx.chunks)
		if idx.bm25Err == nil {
			log.Printf("📚 BM25 index ready for %s (%d chunks)", idx.Meta.RepoKey, len(idx.chunks))
		}
	})
	return idx.bm25, idx.bm25Err
}

// rrfK is the reciprocal rank fusion offset.
const rrfK = 60.0

// HybridSearch fuses cosine ranking with BM25 ranking by reciprocal rank fusion.
// If the keyword leg fails, it degrades to pure vector search.
func (idx *VectorIndex) HybridSearch(queryText string, query []float32, k int, opts SearchOptions) []ScoredChunk {
	if k <= 0 || len(idx.chunks) == 0 {
		return nil
	}
	candidates := max(k*4, 100)

	vec := idx.Search(query, candidates, opts)

	bm, err := idx.keywordIndex()
	var kw []BM25Result
	if err == nil {
		kw, err = bm.Search(queryText, candidates)
	}
	if err != nil {
		log.Printf("⚠️  BM25 search failed, using vector ranking only: %v", err)
		if len(vec) > k {
			vec = vec[:k]
		}
		return vec
	}

	byID := make(map[string]Chunk, len(vec)+len(kw))
	scores := make(map[string]float64, len(vec)+len(kw))
	for i, r := range vec {
		byID[r.ID] = r.Chunk
		scores[r.ID] += 1.0 / (rrfK + float64(i+1))
	}
	rank := 0
	for _, r := range kw {
		if opts.Exclude[r.ChunkID] {
			continue
		}
		if _, ok := byID[r.ChunkID]; !ok {
			c, ok := idx.chunkByID(r.ChunkID)
			if !ok {
				continue
			}
			byID[r.ChunkID] = c
		}
		rank++
		scores[r.ChunkID] += 1.0 / (rrfK + float64(rank))
	}

	fused := make([]ScoredChunk, 0, len(scores))
	for id, s := range scores {
		fused = append(fused, ScoredChunk{Chunk: byID[id], Score: s})
	}
	sort.Slice(fused, func(i, j int) bool { return fused[i].ID < fused[j].ID })
	sortScored(fused)
	if len(fused) > k {
		fused = fused[:k]
	}
	return fused
}

func (idx *VectorIndex) chunkByID(id string) (Chunk, bool) {
	for _, c := range idx.chunks {
		if c.ID == id {
			return c, true
		}
	}
	return Chunk{}, false
}
