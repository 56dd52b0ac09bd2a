package wiki

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
	"github.com/ChamsBouzaiene/repowiki/internal/indexer"
	"github.com/ChamsBouzaiene/repowiki/internal/prompts"
)

// Store persists generated wikis.
type Store interface {
	SaveWiki(ctx context.Context, w *Structure) error
	// LoadWiki returns (nil, nil) when nothing is stored.
	LoadWiki(ctx context.Context, key, language string) (*Structure, error)
}

// Config tunes synthesis.
type Config struct {
	MinPages          int
	MaxPages          int
	SampleSize        int // chunks shown when planning the structure
	SampleChars       int
	PageChunks        int // retrieved chunks per page
	PageChars         int
	Concurrency       int // pages drafted at once
	StructureAttempts int
	Temperature       float32
	Retry             engine.RetryConfig
	Timeouts          engine.Timeouts
}

// DefaultConfig returns the defaults used by the CLI and servers.
func DefaultConfig() Config {
	return Config{
		MinPages:          4,
		MaxPages:          12,
		SampleSize:        40,
		SampleChars:       40000,
		PageChunks:        10,
		PageChars:         30000,
		Concurrency:       4,
		StructureAttempts: 3,
		Temperature:       0.2,
		Retry:             engine.DefaultRetryConfig(),
		Timeouts:          engine.DefaultTimeouts(),
	}
}

// Request names the wiki to build.
type Request struct {
	RepoKey   string
	RepoName  string
	Language  string
	Generator *engine.Generator // per-request override of the default generator
}

// Synthesizer plans a wiki from an index and drafts its pages.
type Synthesizer struct {
	embedder  engine.Embedder
	generator engine.Generator
	prompts   *prompts.PromptRegistry
	config    Config
	now       func() time.Time
}

// NewSynthesizer creates a synthesizer. Zero config fields take their defaults.
func NewSynthesizer(embedder engine.Embedder, generator engine.Generator, config Config) *Synthesizer {
	def := DefaultConfig()
	if config.MinPages <= 0 {
		config.MinPages = def.MinPages
	}
	if config.MaxPages < config.MinPages {
		config.MaxPages = max(def.MaxPages, config.MinPages)
	}
	if config.SampleSize <= 0 {
		config.SampleSize = def.SampleSize
	}
	if config.PageChunks <= 0 {
		config.PageChunks = def.PageChunks
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.StructureAttempts <= 0 {
		config.StructureAttempts = 1
	}
	return &Synthesizer{
		embedder:  embedder,
		generator: generator,
		prompts:   prompts.DefaultRegistry(),
		config:    config,
		now:       time.Now,
	}
}

// Synthesize plans the structure, drafts every page and repairs the result.
// Nothing is returned unless the repaired structure passes Validate.
func (s *Synthesizer) Synthesize(ctx context.Context, idx *indexer.VectorIndex, req Request) (*Structure, error) {
	gen := s.generator
	if req.Generator != nil {
		gen = *req.Generator
	}
	if gen.Client == nil {
		return nil, fmt.Errorf("no generation provider configured")
	}
	if idx.Len() == 0 {
		return nil, &engine.EmptyInputError{RepoKey: req.RepoKey}
	}
	if req.RepoName == "" {
		req.RepoName = req.RepoKey
	}
	if req.Language == "" {
		req.Language = "en"
	}
	started := time.Now()

	prop, err := s.planStructure(ctx, gen, idx, req)
	if err != nil {
		return nil, err
	}

	w := &Structure{
		ID:           uuid.NewString(),
		RepoKey:      req.RepoKey,
		Language:     req.Language,
		Title:        prop.Title,
		Description:  prop.Description,
		Pages:        prop.Pages,
		Sections:     prop.Sections,
		RootSections: prop.RootSections,
		IndexVersion: idx.Meta.IndexVersion,
	}
	s.keepKnownFiles(w, idx)
	if repairs := Repair(w); len(repairs) > 0 {
		log.Printf("🔧 Repaired wiki structure for %s: %d fixes", req.RepoKey, len(repairs))
	}
	if err := Validate(w); err != nil {
		return nil, err
	}
	log.Printf("📐 Planned %d pages in %d sections for %s", len(w.Pages), len(w.Sections), req.RepoKey)

	if err := s.draftPages(ctx, gen, idx, req, w); err != nil {
		return nil, err
	}

	w.GeneratedAt = s.now().UTC()
	log.Printf("✅ Wiki for %s ready in %v", req.RepoKey, time.Since(started).Round(time.Millisecond))
	return w, nil
}

// keepKnownFiles drops page file paths that are not in the index.
func (s *Synthesizer) keepKnownFiles(w *Structure, idx *indexer.VectorIndex) {
	known := make(map[string]bool)
	for _, p := range idx.Paths() {
		known[p] = true
	}
	for i := range w.Pages {
		p := &w.Pages[i]
		kept := p.FilePaths[:0]
		for _, fp := range p.FilePaths {
			fp = strings.TrimPrefix(strings.TrimSpace(fp), "./")
			if known[fp] {
				kept = append(kept, fp)
			} else {
				w.Repairs = append(w.Repairs, fmt.Sprintf("page %s: dropped unknown file %q", p.ID, fp))
			}
		}
		p.FilePaths = kept
	}
}

func (s *Synthesizer) chat(ctx context.Context, gen engine.Generator, msgs []engine.ChatMessage, opts engine.ChatOptions) (string, error) {
	resp, err := engine.RetryWithPolicy(ctx, s.config.Retry.GeneratePolicy,
		engine.WithCallTimeout(s.config.Timeouts.Generate, func(ctx context.Context) (engine.LLMResponse, error) {
			return gen.Client.Chat(ctx, gen.Model, msgs, opts)
		}),
		engine.ClassifyProviderError,
		func(attempt int, delay time.Duration, err error) {
			log.Printf("🔄 Wiki generation failed (attempt %d), retrying in %v: %v", attempt, delay, err)
		})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &engine.ProviderError{Provider: gen.Provider, Op: "generate", Err: err}
	}
	return resp.Text, nil
}

func (s *Synthesizer) planStructure(ctx context.Context, gen engine.Generator, idx *indexer.VectorIndex, req Request) (*proposal, error) {
	b, err := prompts.NewLatestBuilder(s.prompts, prompts.WikiStructureID)
	if err != nil {
		return nil, err
	}
	var samples strings.Builder
	for _, c := range SampleChunks(idx, s.config.SampleSize, s.config.SampleChars) {
		fmt.Fprintf(&samples, "### %s:%d-%d\n%s\n\n", c.Path, c.StartLine, c.EndLine, strings.TrimRight(c.Text, "\n"))
	}
	system, err := b.
		SetVariable("repo", req.RepoName).
		SetVariable("min_pages", strconv.Itoa(s.config.MinPages)).
		SetVariable("max_pages", strconv.Itoa(s.config.MaxPages)).
		SetVariable("language", prompts.LanguageName(req.Language)).
		AddSection("file_tree", FileTree(idx.Paths(), 4, 15)).
		AddSection("readme", readme(idx, 5000)).
		AddSection("code_samples", samples.String()).
		Build()
	if err != nil {
		return nil, err
	}

	msgs := []engine.ChatMessage{
		{Role: engine.RoleSystem, Content: system},
		{Role: engine.RoleUser, Content: "Propose the wiki structure now. Reply with the JSON object only."},
	}
	opts := engine.ChatOptions{Temperature: s.config.Temperature, JSONMode: true}

	var lastErr error
	for attempt := 1; attempt <= s.config.StructureAttempts; attempt++ {
		text, err := s.chat(ctx, gen, msgs, opts)
		if err != nil {
			return nil, err
		}
		prop, err := parseProposal(text)
		if err == nil {
			return prop, nil
		}
		lastErr = err
		log.Printf("⚠️  Wiki structure attempt %d/%d for %s rejected: %v", attempt, s.config.StructureAttempts, req.RepoKey, err)
		msgs = append(msgs,
			engine.ChatMessage{Role: engine.RoleAssistant, Content: text},
			engine.ChatMessage{Role: engine.RoleUser, Content: fmt.Sprintf("That reply was not usable: %v. Reply again with only the corrected JSON object.", err)},
		)
	}
	return nil, &engine.SynthesisError{Violation: "model did not produce a valid structure", Err: lastErr}
}

// embedQueries embeds page queries in batches the embedder accepts.
func (s *Synthesizer) embedQueries(ctx context.Context, queries []string) ([][]float32, error) {
	size := s.embedder.MaxBatch()
	if size <= 0 {
		size = len(queries)
	}
	out := make([][]float32, 0, len(queries))
	for lo := 0; lo < len(queries); lo += size {
		batch := queries[lo:min(lo+size, len(queries))]
		vecs, err := engine.RetryWithPolicy(ctx, s.config.Retry.EmbedPolicy,
			engine.WithCallTimeout(s.config.Timeouts.Embed, func(ctx context.Context) ([][]float32, error) {
				return s.embedder.Embed(ctx, batch)
			}),
			engine.ClassifyProviderError, nil)
		if err == nil && len(vecs) != len(batch) {
			err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(batch))
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &engine.ProviderError{Provider: s.embedder.ModelID(), Op: "embed", Embedded: len(out), Err: err}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (s *Synthesizer) draftPages(ctx context.Context, gen engine.Generator, idx *indexer.VectorIndex, req Request, w *Structure) error {
	queries := make([]string, len(w.Pages))
	for i, p := range w.Pages {
		queries[i] = strings.TrimSpace(p.Title + "\n" + p.Description)
	}
	vectors, err := s.embedQueries(ctx, queries)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for i := range w.Pages {
		i := i
		g.Go(func() error {
			page := &w.Pages[i]
			excerpts := s.pageContext(idx, page, queries[i], vectors[i])
			content, err := s.draftPage(gctx, gen, req, page, excerpts)
			if err != nil {
				return fmt.Errorf("page %s: %w", page.ID, err)
			}
			page.Content = content
			page.Sources = citedSources(content, excerpts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var provErr *engine.ProviderError
		if errors.As(err, &provErr) || ctx.Err() != nil {
			return err
		}
		return &engine.SynthesisError{Violation: "page drafting failed", Err: err}
	}
	return nil
}

// pageContext gathers the opening chunks of the page's files, then the best matches for its topic.
func (s *Synthesizer) pageContext(idx *indexer.VectorIndex, page *Page, query string, vec []float32) []indexer.Chunk {
	var out []indexer.Chunk
	exclude := make(map[string]bool)
	budget := s.config.PageChars
	add := func(c indexer.Chunk) bool {
		if exclude[c.ID] {
			return true
		}
		if budget > 0 && len(c.Text) > budget && len(out) > 0 {
			return false
		}
		budget -= len(c.Text)
		exclude[c.ID] = true
		out = append(out, c)
		return true
	}

	perFile := 2
	for _, fp := range page.FilePaths {
		chunks := idx.ChunksForPath(fp)
		for j := 0; j < len(chunks) && j < perFile; j++ {
			if !add(chunks[j]) {
				return out
			}
		}
	}
	for _, hit := range idx.HybridSearch(query, vec, s.config.PageChunks, indexer.SearchOptions{Exclude: exclude}) {
		if !add(hit.Chunk) {
			break
		}
	}
	return out
}

func (s *Synthesizer) draftPage(ctx context.Context, gen engine.Generator, req Request, page *Page, excerpts []indexer.Chunk) (string, error) {
	b, err := prompts.NewLatestBuilder(s.prompts, prompts.WikiPageID)
	if err != nil {
		return "", err
	}
	system, err := b.
		SetVariable("repo", req.RepoName).
		SetVariable("page_title", page.Title).
		SetVariable("page_description", page.Description).
		SetVariable("language", prompts.LanguageName(req.Language)).
		Build()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("<source_excerpts>\n")
	for _, c := range excerpts {
		fmt.Fprintf(&sb, "### [%s:%d-%d]\n```%s\n%s\n```\n\n", c.Path, c.StartLine, c.EndLine, c.Language, strings.TrimRight(c.Text, "\n"))
	}
	sb.WriteString("</source_excerpts>\n\nWrite the page now.")

	text, err := s.chat(ctx, gen, []engine.ChatMessage{
		{Role: engine.RoleSystem, Content: system},
		{Role: engine.RoleUser, Content: sb.String()},
	}, engine.ChatOptions{Temperature: s.config.Temperature})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

var citationRe = regexp.MustCompile(`\[([^\[\]\s:]+):(\d+)(?:-(\d+))?\]`)

// citedSources lists the excerpts content cites, in path then line order. When content
// cites nothing recognizable, every excerpt it was drafted from is listed.
func citedSources(content string, excerpts []indexer.Chunk) []Source {
	type span struct{ start, end int }
	cites := make(map[string][]span)
	for _, m := range citationRe.FindAllStringSubmatch(content, -1) {
		start, _ := strconv.Atoi(m[2])
		end := start
		if m[3] != "" {
			end, _ = strconv.Atoi(m[3])
		}
		cites[m[1]] = append(cites[m[1]], span{start, end})
	}

	var out []Source
	for _, c := range excerpts {
		for _, sp := range cites[c.Path] {
			if sp.start <= c.EndLine && sp.end >= c.StartLine {
				out = append(out, Source{Path: c.Path, StartLine: c.StartLine, EndLine: c.EndLine})
				break
			}
		}
	}
	if len(out) == 0 {
		for _, c := range excerpts {
			out = append(out, Source{Path: c.Path, StartLine: c.StartLine, EndLine: c.EndLine})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].StartLine < out[j].StartLine
	})
	return out
}
