package wiki

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
	"github.com/ChamsBouzaiene/repowiki/internal/indexer"
)

// MockLLM answers structure prompts with structureReply and page prompts with a cited paragraph.
type MockLLM struct {
	mu             sync.Mutex
	structureReply []string // consumed in order; the last one repeats
	structureCalls int
	pageCalls      int
	pageErr        error
}

func (m *MockLLM) Chat(ctx context.Context, model string, msgs []engine.ChatMessage, opts engine.ChatOptions) (engine.LLMResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if opts.JSONMode {
		reply := m.structureReply[min(m.structureCalls, len(m.structureReply)-1)]
		m.structureCalls++
		return engine.LLMResponse{Text: reply}, nil
	}
	m.pageCalls++
	if m.pageErr != nil {
		return engine.LLMResponse{}, m.pageErr
	}
	return engine.LLMResponse{Text: "The service logs in users [auth/login.go:1-3]."}, nil
}

func (m *MockLLM) Stream(ctx context.Context, model string, msgs []engine.ChatMessage, opts engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	events := make(chan engine.StreamEvent)
	errs := make(chan error, 1)
	close(events)
	errs <- errors.New("not used")
	return events, errs
}

func testIndex(t *testing.T) *indexer.VectorIndex {
	t.Helper()
	emb := indexer.NewHashEmbedder(32)
	p := indexer.NewPipeline(emb, indexer.PipelineConfig{BatchSize: 16})
	recs := records(map[string]string{
		"README.md":      "# Demo\n\nDemo service.\n",
		"auth/login.go":  "package auth\n\nfunc Login() {}\n",
		"auth/logout.go": "package auth\n\nfunc Logout() {}\n",
		"db/conn.go":     "package db\n\nfunc Connect() {}\n",
		"main.go":        "package main\n\nfunc main() {}\n",
	})
	idx, err := p.Build(context.Background(), "github/acme/demo", recs)
	if err != nil {
		t.Fatalf("build index: %v", err)
	}
	return idx
}

func testConfig() Config {
	policy := engine.RetryPolicy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	cfg := DefaultConfig()
	cfg.Retry = engine.RetryConfig{EmbedPolicy: policy, GeneratePolicy: policy, FetchPolicy: policy}
	cfg.MinPages = 2
	cfg.MaxPages = 4
	return cfg
}

const goodStructure = "Here is the plan:\n```json\n" + `{
  "title": "Demo Wiki",
  "description": "A demo.",
  "pages": [
    {"id": "page-auth", "title": "Authentication", "description": "Login flow", "importance": "high",
     "filePaths": ["auth/login.go", "does/not/exist.go"], "relatedPageIds": ["page-db", "page-auth"]},
    {"id": "page-db", "title": "Database", "filePaths": ["db/conn.go"], "relatedPageIds": []},
    {"id": "page-main", "title": "Entry Point", "filePaths": ["main.go"]}
  ],
  "sections": [
    {"id": "section-core", "title": "Core", "pageIds": ["page-auth", "page-db"], "subsectionIds": ["section-core"]}
  ],
  "rootSections": ["section-core"]
}` + "\n```"

func TestSynthesize_RepairsAndDrafts(t *testing.T) {
	llm := &MockLLM{structureReply: []string{goodStructure}}
	s := NewSynthesizer(indexer.NewHashEmbedder(32), engine.Generator{Client: llm, Model: "m", Provider: "mock"}, testConfig())

	w, err := s.Synthesize(context.Background(), testIndex(t), Request{RepoKey: "github/acme/demo"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if err := Validate(w); err != nil {
		t.Fatalf("result invalid: %v", err)
	}
	if w.Title != "Demo Wiki" || w.Language != "en" || w.GeneratedAt.IsZero() {
		t.Errorf("unexpected header %+v", w)
	}
	if llm.pageCalls != 3 {
		t.Errorf("expected 3 page drafts, got %d", llm.pageCalls)
	}

	auth, _ := w.Page("page-auth")
	if len(auth.FilePaths) != 1 {
		t.Errorf("unknown files should be dropped, got %v", auth.FilePaths)
	}
	if len(auth.RelatedPageIDs) != 1 || auth.RelatedPageIDs[0] != "page-db" {
		t.Errorf("self reference should be dropped, got %v", auth.RelatedPageIDs)
	}
	if len(auth.Sources) != 1 || auth.Sources[0].Path != "auth/login.go" {
		t.Errorf("sources = %+v", auth.Sources)
	}

	root, ok := w.Section(RootSectionID)
	if !ok || len(root.PageIDs) != 1 || root.PageIDs[0] != "page-main" {
		t.Errorf("page-main should be adopted by the synthetic root, got %+v", root)
	}
}

func TestSynthesize_RetriesUnusableStructure(t *testing.T) {
	llm := &MockLLM{structureReply: []string{"I cannot do that.", `{"title": "T", "pages": []}`, goodStructure}}
	s := NewSynthesizer(indexer.NewHashEmbedder(32), engine.Generator{Client: llm, Model: "m"}, testConfig())

	if _, err := s.Synthesize(context.Background(), testIndex(t), Request{RepoKey: "k"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if llm.structureCalls != 3 {
		t.Errorf("expected 3 structure attempts, got %d", llm.structureCalls)
	}
}

func TestSynthesize_GivesUpWithSynthesisError(t *testing.T) {
	llm := &MockLLM{structureReply: []string{"nope"}}
	s := NewSynthesizer(indexer.NewHashEmbedder(32), engine.Generator{Client: llm, Model: "m"}, testConfig())

	_, err := s.Synthesize(context.Background(), testIndex(t), Request{RepoKey: "k"})
	var synth *engine.SynthesisError
	if !errors.As(err, &synth) {
		t.Fatalf("expected SynthesisError, got %v", err)
	}
}

func TestSynthesize_PageFailureIsProviderError(t *testing.T) {
	llm := &MockLLM{
		structureReply: []string{goodStructure},
		pageErr:        engine.NewEngineError(errors.New("invalid api key"), engine.RetryClassNonRetryable),
	}
	s := NewSynthesizer(indexer.NewHashEmbedder(32), engine.Generator{Client: llm, Model: "m", Provider: "mock"}, testConfig())

	_, err := s.Synthesize(context.Background(), testIndex(t), Request{RepoKey: "k"})
	var provErr *engine.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
}

func TestParseProposal_RepairsJSON(t *testing.T) {
	raw := "```json\n{\"title\": \"T\", \"pages\": [{\"id\": \"a\", \"title\": \"A\",}],}\n```"
	p, err := parseProposal(raw)
	if err != nil {
		t.Fatalf("parseProposal: %v", err)
	}
	if p.Title != "T" || len(p.Pages) != 1 {
		t.Errorf("unexpected proposal %+v", p)
	}

	if _, err := parseProposal(`{"pages": [{"id": "a"}]}`); err == nil {
		t.Error("missing title must fail schema validation")
	}
}

func TestFileTree(t *testing.T) {
	paths := []string{"README.md", "cmd/app/main.go", "internal/a/a.go", "internal/b.go"}
	got := FileTree(paths, 4, 15)
	want := "./\n" +
		"  - cmd/\n" +
		"      - app/\n" +
		"          - main.go\n" +
		"  - internal/\n" +
		"      - a/\n" +
		"          - a.go\n" +
		"      - b.go\n" +
		"  - README.md\n"
	if got != want {
		t.Errorf("FileTree:\n%s\nwant:\n%s", got, want)
	}

	var many []string
	for i := 0; i < 20; i++ {
		many = append(many, fmt.Sprintf("gen/f%02d.go", i))
	}
	if tree := FileTree(many, 4, 15); !strings.Contains(tree, "[20 files]") {
		t.Errorf("large directories should be summarized:\n%s", tree)
	}
}

func TestSampleChunks_Stratified(t *testing.T) {
	files := map[string]string{"main.go": "package main\n"}
	for i := 0; i < 30; i++ {
		files[fmt.Sprintf("big/f%02d.go", i)] = "package big\n"
	}
	files["small/one.go"] = "package small\n"
	p := indexer.NewPipeline(indexer.NewHashEmbedder(8), indexer.PipelineConfig{})
	idx, err := p.Build(context.Background(), "k", records(files))
	if err != nil {
		t.Fatal(err)
	}

	sample := SampleChunks(idx, 6, 0)
	if len(sample) != 6 {
		t.Fatalf("expected 6 chunks, got %d", len(sample))
	}
	groups := map[string]int{}
	for _, c := range sample {
		groups[topLevel(c.Path)]++
	}
	if groups["."] != 1 || groups["small"] != 1 || groups["big"] != 4 {
		t.Errorf("unexpected distribution %v", groups)
	}

	again := SampleChunks(idx, 6, 0)
	for i := range sample {
		if sample[i].ID != again[i].ID {
			t.Fatal("sampling must be deterministic")
		}
	}
}

func TestExport(t *testing.T) {
	w := &Structure{
		Title:        "Demo",
		Pages:        []Page{{ID: "a", Title: "Alpha", Content: "Alpha body", RelatedPageIDs: []string{"b"}, Sources: []Source{{Path: "a.go", StartLine: 1, EndLine: 5}}}, {ID: "b", Title: "Beta"}},
		Sections:     []Section{{ID: "s", Title: "Main", PageIDs: []string{"a", "b"}}},
		RootSections: []string{"s"},
	}

	md, err := Export(w, "markdown")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"# Demo", "## Main", "### Alpha", "Alpha body", "`a.go:1-5`", "[Beta](#beta)"} {
		if !strings.Contains(string(md), want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}

	out, err := Export(w, "yaml")
	if err != nil {
		t.Fatal(err)
	}
	var back Structure
	if err := yaml.Unmarshal(out, &back); err != nil || len(back.Pages) != 2 {
		t.Errorf("yaml export unreadable: %v", err)
	}

	if _, err := Export(w, "pdf"); err == nil {
		t.Error("unknown format should fail")
	}
}
