package indexer

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Chunk is a bounded span of a source file with its embedding.
type Chunk struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	StartLine int       `json:"start_line"`
	EndLine   int       `json:"end_line"`
	Language  string    `json:"language,omitempty"`
	Text      string    `json:"text"`
	Vector    []float32 `json:"-"`
}

// Metadata describes a built index.
type Metadata struct {
	RepoKey          string    `json:"repo_key"`
	EmbeddingModelID string    `json:"embedding_model_id"`
	IndexVersion     string    `json:"index_version"`
	Dimension        int       `json:"dimension"`
	BuiltAt          time.Time `json:"built_at"`
	ChunkCount       int       `json:"chunk_count"`
	FileCount        int       `json:"file_count"`
	FilterHash       string    `json:"filter_hash,omitempty"`
	// Truncated is set when extraction hit a size budget and the index is partial.
	Truncated bool              `json:"truncated"`
	Skipped   map[string]string `json:"skipped,omitempty"`
}

// VectorIndex is the immutable, searchable collection of one repository's chunks.
// All chunks share Meta.EmbeddingModelID.
type VectorIndex struct {
	Meta Metadata

	chunks []Chunk
	norms  []float64
	byPath map[string][]int

	bm25Once sync.Once
	bm25     *BM25Index
	bm25Err  error
}

// NewVectorIndex assembles an index from chunks in their canonical order.
func NewVectorIndex(meta Metadata, chunks []Chunk) *VectorIndex {
	idx := &VectorIndex{
		Meta:   meta,
		chunks: chunks,
		norms:  make([]float64, len(chunks)),
		byPath: make(map[string][]int),
	}
	idx.Meta.ChunkCount = len(chunks)
	files := 0
	for i, c := range chunks {
		idx.norms[i] = norm(c.Vector)
		if _, ok := idx.byPath[c.Path]; !ok {
			files++
		}
		idx.byPath[c.Path] = append(idx.byPath[c.Path], i)
	}
	if idx.Meta.FileCount == 0 {
		idx.Meta.FileCount = files
	}
	return idx
}

// Len returns the number of chunks.
func (idx *VectorIndex) Len() int { return len(idx.chunks) }

// Chunks returns the chunks in canonical (path, start line) order. Callers must not modify them.
func (idx *VectorIndex) Chunks() []Chunk { return idx.chunks }

// Paths returns the indexed file paths in lexicographic order.
func (idx *VectorIndex) Paths() []string {
	paths := make([]string, 0, len(idx.byPath))
	for p := range idx.byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// ChunksForPath returns the chunks of one file ordered by start line.
func (idx *VectorIndex) ChunksForPath(path string) []Chunk {
	positions := idx.byPath[path]
	out := make([]Chunk, len(positions))
	for i, pos := range positions {
		out[i] = idx.chunks[pos]
	}
	return out
}

// SizeBytes approximates the memory held by the index.
func (idx *VectorIndex) SizeBytes() int64 {
	var n int64
	for _, c := range idx.chunks {
		n += int64(len(c.Text)+len(c.Path)+len(c.ID)) + int64(4*len(c.Vector)) + 64
	}
	return n
}

// ScoredChunk is a search hit.
type ScoredChunk struct {
	Chunk
	Score float64
}

// SearchOptions narrows a search.
type SearchOptions struct {
	Exclude map[string]bool // chunk ids to leave out
}

// Search returns the top k chunks by cosine similarity to query.
// Ties are broken by path, then start line, so results are reproducible.
func (idx *VectorIndex) Search(query []float32, k int, opts SearchOptions) []ScoredChunk {
	if k <= 0 || len(idx.chunks) == 0 {
		return nil
	}
	qn := norm(query)

	scored := make([]ScoredChunk, 0, len(idx.chunks))
	for i, c := range idx.chunks {
		if opts.Exclude[c.ID] {
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: c, Score: cosine(query, qn, c.Vector, idx.norms[i])})
	}
	sortScored(scored)
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

func sortScored(scored []ScoredChunk) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Path != scored[j].Path {
			return scored[i].Path < scored[j].Path
		}
		return scored[i].StartLine < scored[j].StartLine
	})
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosine computes cosine similarity with precomputed norms.
func cosine(a []float32, na float64, b []float32, nb float64) float64 {
	if len(a) != len(b) || na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}
