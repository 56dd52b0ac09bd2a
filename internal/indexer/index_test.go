package indexer

import (
	"context"
	"testing"
)

func TestSearch_TiesBrokenByPathThenStartLine(t *testing.T) {
	same := []float32{1, 0, 0}
	idx := NewVectorIndex(Metadata{RepoKey: "k"}, []Chunk{
		{ID: "z1", Path: "z.go", StartLine: 1, EndLine: 5, Vector: same},
		{ID: "a9", Path: "a.go", StartLine: 9, EndLine: 12, Vector: same},
		{ID: "a1", Path: "a.go", StartLine: 1, EndLine: 8, Vector: same},
		{ID: "far", Path: "0.go", StartLine: 1, EndLine: 2, Vector: []float32{0, 1, 0}},
	})

	got := idx.Search([]float32{1, 0, 0}, 3, SearchOptions{})
	want := []string{"a1", "a9", "z1"}
	if len(got) != len(want) {
		t.Fatalf("got %d results, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("result %d = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestSearch_CosineOrderAndExclude(t *testing.T) {
	idx := NewVectorIndex(Metadata{}, []Chunk{
		{ID: "close", Path: "a.go", StartLine: 1, Vector: []float32{0.9, 0.1, 0}},
		{ID: "exact", Path: "b.go", StartLine: 1, Vector: []float32{2, 0, 0}},
		{ID: "other", Path: "c.go", StartLine: 1, Vector: []float32{0, 1, 0}},
	})

	got := idx.Search([]float32{1, 0, 0}, 10, SearchOptions{})
	if got[0].ID != "exact" || got[1].ID != "close" || got[2].ID != "other" {
		t.Errorf("unexpected order: %s %s %s", got[0].ID, got[1].ID, got[2].ID)
	}

	got = idx.Search([]float32{1, 0, 0}, 10, SearchOptions{Exclude: map[string]bool{"exact": true}})
	for _, r := range got {
		if r.ID == "exact" {
			t.Error("excluded chunk returned")
		}
	}
}

func TestChunksForPath(t *testing.T) {
	idx := NewVectorIndex(Metadata{}, []Chunk{
		{ID: "1", Path: "a.py", StartLine: 1},
		{ID: "2", Path: "a.py", StartLine: 17},
		{ID: "3", Path: "b.py", StartLine: 1},
	})
	got := idx.ChunksForPath("a.py")
	if len(got) != 2 || got[0].StartLine != 1 || got[1].StartLine != 17 {
		t.Errorf("ChunksForPath = %+v", got)
	}
	if idx.Meta.FileCount != 2 || idx.Meta.ChunkCount != 3 {
		t.Errorf("metadata counts = %d files, %d chunks", idx.Meta.FileCount, idx.Meta.ChunkCount)
	}
	if len(idx.ChunksForPath("missing")) != 0 {
		t.Error("unknown path returned chunks")
	}
}

func TestHybridSearch_KeywordHitIsFused(t *testing.T) {
	emb := NewHashEmbedder(64)
	texts := map[string]string{
		"auth.go":   "func ValidateToken(token string) error { return verifySignature(token) }",
		"server.go": "func ListenAndServe(addr string) error { return http.ListenAndServe(addr, nil) }",
		"util.go":   "func Max(a, b int) int { if a > b { return a }; return b }",
	}
	var chunks []Chunk
	for _, p := range []string{"auth.go", "server.go", "util.go"} {
		vecs, _ := emb.Embed(context.Background(), []string{texts[p]})
		chunks = append(chunks, Chunk{ID: p, Path: p, StartLine: 1, EndLine: 1, Text: texts[p], Vector: vecs[0]})
	}
	idx := NewVectorIndex(Metadata{RepoKey: "hybrid"}, chunks)

	q, _ := emb.Embed(context.Background(), []string{"verifySignature"})
	got := idx.HybridSearch("verifySignature", q[0], 2, SearchOptions{})
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].Path != "auth.go" {
		t.Errorf("top hybrid result = %s, want auth.go", got[0].Path)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	v := []float32{0.25, -1.5, 3}
	got, err := DecodeVector(EncodeVector(v))
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	for i := range v {
		if got[i] != v[i] {
			t.Fatalf("vector mismatch at %d: %v vs %v", i, got[i], v[i])
		}
	}
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated vector data")
	}
}
