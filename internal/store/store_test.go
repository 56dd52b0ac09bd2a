package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/repowiki/internal/indexer"
	"github.com/ChamsBouzaiene/repowiki/internal/wiki"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testIndex(key string) *indexer.VectorIndex {
	meta := indexer.Metadata{
		RepoKey:          key,
		EmbeddingModelID: "hash/8",
		IndexVersion:     "v1",
		Dimension:        3,
		BuiltAt:          time.UnixMilli(1700000000000).UTC(),
		Skipped:          map[string]string{"big.bin": "binary"},
	}
	return indexer.NewVectorIndex(meta, []indexer.Chunk{
		{ID: "a.go#1", Path: "a.go", StartLine: 1, EndLine: 10, Language: "go", Text: "package a", Vector: []float32{1, 0, 0}},
		{ID: "a.go#2", Path: "a.go", StartLine: 8, EndLine: 20, Language: "go", Text: "func A() {}", Vector: []float32{0, 1, 0}},
		{ID: "README.md#1", Path: "README.md", StartLine: 1, EndLine: 3, Language: "markdown", Text: "# Demo", Vector: []float32{0.5, 0.5, 0.25}},
	})
}

func TestIndexRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if got, err := s.LoadIndex(ctx, "local:/missing"); err != nil || got != nil {
		t.Fatalf("LoadIndex(missing) = %v, %v; want nil, nil", got, err)
	}

	want := testIndex("local:/demo")
	if err := s.SaveIndex(ctx, want); err != nil {
		t.Fatalf("SaveIndex: %v", err)
	}

	got, err := s.LoadIndex(ctx, "local:/demo")
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if got == nil {
		t.Fatal("expected stored index")
	}
	if got.Meta.EmbeddingModelID != "hash/8" || got.Meta.IndexVersion != "v1" {
		t.Errorf("metadata mismatch: %+v", got.Meta)
	}
	if !got.Meta.BuiltAt.Equal(want.Meta.BuiltAt) {
		t.Errorf("BuiltAt = %v, want %v", got.Meta.BuiltAt, want.Meta.BuiltAt)
	}
	if got.Meta.Skipped["big.bin"] != "binary" {
		t.Errorf("skipped files lost: %v", got.Meta.Skipped)
	}
	if got.Len() != 3 {
		t.Fatalf("expected 3 chunks, got %d", got.Len())
	}
	for i, c := range got.Chunks() {
		w := want.Chunks()[i]
		if c.ID != w.ID || c.Path != w.Path || c.StartLine != w.StartLine || c.EndLine != w.EndLine || c.Text != w.Text {
			t.Errorf("chunk %d = %+v, want %+v", i, c, w)
		}
		if len(c.Vector) != len(w.Vector) {
			t.Fatalf("chunk %d vector length %d, want %d", i, len(c.Vector), len(w.Vector))
		}
		for j := range c.Vector {
			if c.Vector[j] != w.Vector[j] {
				t.Errorf("chunk %d vector[%d] = %v, want %v", i, j, c.Vector[j], w.Vector[j])
			}
		}
	}

	// Saving again replaces rather than appends.
	smaller := indexer.NewVectorIndex(want.Meta, want.Chunks()[:1])
	if err := s.SaveIndex(ctx, smaller); err != nil {
		t.Fatalf("SaveIndex (replace): %v", err)
	}
	got, err = s.LoadIndex(ctx, "local:/demo")
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if got.Len() != 1 {
		t.Errorf("expected replaced index with 1 chunk, got %d", got.Len())
	}
}

func TestListAndDeleteIndexes(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, key := range []string{"local:/b", "github:acme/a"} {
		if err := s.SaveIndex(ctx, testIndex(key)); err != nil {
			t.Fatalf("SaveIndex(%s): %v", key, err)
		}
	}

	list, err := s.ListIndexes(ctx)
	if err != nil {
		t.Fatalf("ListIndexes: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 indexes, got %d", len(list))
	}
	if list[0].RepoKey != "github:acme/a" || list[1].RepoKey != "local:/b" {
		t.Errorf("unexpected order: %+v", list)
	}
	if list[0].ChunkCount != 3 || list[0].EmbeddingModelID != "hash/8" {
		t.Errorf("unexpected summary: %+v", list[0])
	}

	if err := s.DeleteIndex(ctx, "local:/b"); err != nil {
		t.Fatalf("DeleteIndex: %v", err)
	}
	if got, err := s.LoadIndex(ctx, "local:/b"); err != nil || got != nil {
		t.Errorf("index should be gone, got %v, %v", got, err)
	}
	list, err = s.ListIndexes(ctx)
	if err != nil {
		t.Fatalf("ListIndexes: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 index after delete, got %d", len(list))
	}
}

func TestWikiPerLanguage(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	key := "github:acme/demo"

	if got, err := s.LoadWiki(ctx, key, "en"); err != nil || got != nil {
		t.Fatalf("LoadWiki(missing) = %v, %v; want nil, nil", got, err)
	}

	base := time.UnixMilli(1700000000000).UTC()
	save := func(lang, title string, at time.Time) {
		t.Helper()
		w := &wiki.Structure{
			ID:          "wiki-root",
			RepoKey:     key,
			Language:    lang,
			Title:       title,
			Pages:       []wiki.Page{{ID: "overview", Title: "Overview", RelatedPageIDs: []string{}}},
			GeneratedAt: at,
		}
		if err := s.SaveWiki(ctx, w); err != nil {
			t.Fatalf("SaveWiki: %v", err)
		}
	}
	save("en", "First", base)
	save("en", "Second", base.Add(time.Minute))
	save("fr", "Premier", base)

	en, err := s.LoadWiki(ctx, key, "en")
	if err != nil || en == nil {
		t.Fatalf("LoadWiki(en) = %v, %v", en, err)
	}
	if en.Title != "Second" {
		t.Errorf("expected latest generation, got %q", en.Title)
	}
	if len(en.Pages) != 1 || en.Pages[0].ID != "overview" {
		t.Errorf("pages not preserved: %+v", en.Pages)
	}

	fr, err := s.LoadWiki(ctx, key, "fr")
	if err != nil || fr == nil || fr.Title != "Premier" {
		t.Fatalf("LoadWiki(fr) = %v, %v", fr, err)
	}

	if err := s.DeleteWiki(ctx, key); err != nil {
		t.Fatalf("DeleteWiki: %v", err)
	}
	for _, lang := range []string{"en", "fr"} {
		if got, err := s.LoadWiki(ctx, key, lang); err != nil || got != nil {
			t.Errorf("wiki %s should be gone, got %v, %v", lang, got, err)
		}
	}
}

func TestWikiHistoryIsPruned(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.UnixMilli(1700000000000).UTC()

	for i := 0; i < wikiVersionsKept+3; i++ {
		w := &wiki.Structure{RepoKey: "local:/x", Language: "en", GeneratedAt: base.Add(time.Duration(i) * time.Second)}
		if err := s.SaveWiki(ctx, w); err != nil {
			t.Fatalf("SaveWiki: %v", err)
		}
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wiki_structures WHERE repo_key = ?`, "local:/x").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != wikiVersionsKept {
		t.Errorf("expected %d generations kept, got %d", wikiVersionsKept, n)
	}
}
