// Package resolver answers questions about an indexed repository with retrieval-augmented generation.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
	"github.com/ChamsBouzaiene/repowiki/internal/indexer"
	"github.com/ChamsBouzaiene/repowiki/internal/prompts"
	"github.com/ChamsBouzaiene/repowiki/internal/session"
)

// DeepResearchPrefix marks a question that asks for an in-depth, structured answer.
const DeepResearchPrefix = "[DEEP RESEARCH]"

// IndexSource yields the current index for a repository key, or *engine.NotIndexedError.
type IndexSource interface {
	Get(ctx context.Context, key string) (*indexer.VectorIndex, error)
}

// Config tunes retrieval and generation.
type Config struct {
	TopK            int
	Hybrid          bool // fuse BM25 ranking into the vector ranking
	MaxContextChars int  // budget for retrieved excerpts in the prompt
	Temperature     float32
	MaxOutputTokens int
	Retry           engine.RetryConfig
	Timeouts        engine.Timeouts
}

// DefaultConfig returns the defaults used by the CLI and servers.
func DefaultConfig() Config {
	return Config{
		TopK:            20,
		Hybrid:          true,
		MaxContextChars: 60000,
		Temperature:     0.2,
		Retry:           engine.DefaultRetryConfig(),
		Timeouts:        engine.DefaultTimeouts(),
	}
}

// Request is one question.
type Request struct {
	RepoKey  string
	RepoName string // shown to the model; defaults to RepoKey
	Question string
	FilePath string // chunks of this file are always included

	// SessionID continues a stored session. Ignored when Messages is non-nil.
	SessionID string
	// Messages carries caller-owned history instead of a stored session. A trailing
	// user message is taken as the question when Question is empty.
	Messages []session.Message

	Language  string
	TopK      int
	Generator *engine.Generator // per-request override of the default generator
	// Index, when set, is answered from directly instead of looking up RepoKey.
	Index *indexer.VectorIndex
}

// Context is one retrieved excerpt with provenance.
type Context struct {
	Path      string  `json:"path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Language  string  `json:"language,omitempty"`
	Score     float64 `json:"score"`
	Pinned    bool    `json:"pinned,omitempty"`
	Text      string  `json:"text"`
}

// Answer is a completed response.
type Answer struct {
	Text      string            `json:"text"`
	Contexts  []Context         `json:"contexts"`
	SessionID string            `json:"session_id,omitempty"`
	Messages  []session.Message `json:"messages,omitempty"`
	Usage     engine.Usage      `json:"usage"`
}

// Resolver retrieves context and asks the generator.
type Resolver struct {
	indexes   IndexSource
	embedder  engine.Embedder
	generator engine.Generator
	sessions  *session.Manager
	prompts   *prompts.PromptRegistry
	config    Config
}

// New creates a resolver. sessions may be nil for an in-memory manager.
func New(indexes IndexSource, embedder engine.Embedder, generator engine.Generator, sessions *session.Manager, config Config) *Resolver {
	if sessions == nil {
		sessions = session.NewManager(nil, 0)
	}
	if config.TopK <= 0 {
		config.TopK = DefaultConfig().TopK
	}
	if config.MaxContextChars <= 0 {
		config.MaxContextChars = DefaultConfig().MaxContextChars
	}
	return &Resolver{
		indexes:   indexes,
		embedder:  embedder,
		generator: generator,
		sessions:  sessions,
		prompts:   prompts.DefaultRegistry(),
		config:    config,
	}
}

// Sessions returns the session manager.
func (r *Resolver) Sessions() *session.Manager { return r.sessions }

// prepared is everything needed to call the generator, plus the claimed turn.
type prepared struct {
	question  string
	messages  []engine.ChatMessage
	contexts  []Context
	generator engine.Generator
	turn      *session.Turn     // nil in caller-owned history mode
	history   []session.Message // caller-owned history
}

// finish records a completed answer. In stored mode the session turn is committed.
func (p *prepared) finish(ctx context.Context, text string, usage engine.Usage) (*Answer, error) {
	ans := &Answer{Text: text, Contexts: p.contexts, Usage: usage}
	if p.turn == nil {
		now := time.Now().UTC()
		ans.Messages = append(append([]session.Message(nil), p.history...),
			session.Message{Role: engine.RoleUser, Text: p.question, Timestamp: now},
			session.Message{Role: engine.RoleAssistant, Text: text, Timestamp: now})
		return ans, nil
	}
	sess, err := p.turn.Commit(ctx, p.question, text)
	if err != nil {
		return nil, err
	}
	ans.SessionID = sess.ID
	ans.Messages = sess.Messages
	return ans, nil
}

func (p *prepared) abandon() {
	if p.turn != nil {
		p.turn.Release()
	}
}

func (r *Resolver) prepare(ctx context.Context, req Request) (*prepared, error) {
	question := strings.TrimSpace(req.Question)
	history := req.Messages
	if question == "" && len(history) > 0 && history[len(history)-1].Role == engine.RoleUser {
		question = strings.TrimSpace(history[len(history)-1].Text)
		history = history[:len(history)-1]
	}
	if question == "" {
		return nil, &engine.TurnOrderError{Index: len(history), Reason: "no question to answer"}
	}
	if req.Messages != nil {
		if err := session.ValidateOrder(history, false); err != nil {
			return nil, err
		}
	}

	var err error
	idx := req.Index
	if idx == nil {
		if idx, err = r.indexes.Get(ctx, req.RepoKey); err != nil {
			return nil, err
		}
	}

	gen := r.generator
	if req.Generator != nil {
		gen = *req.Generator
	}
	if gen.Client == nil {
		return nil, fmt.Errorf("no generation provider configured")
	}

	p := &prepared{question: question, generator: gen}
	if req.Messages != nil {
		p.history = session.Window(history, r.sessions.MaxTurns())
	} else {
		turn, err := r.sessions.Begin(ctx, req.RepoKey, req.SessionID)
		if err != nil {
			return nil, err
		}
		p.turn = turn
		p.history = turn.History()
	}

	p.contexts, err = r.retrieve(ctx, idx, question, req)
	if err != nil {
		p.abandon()
		return nil, err
	}

	p.messages, err = r.buildMessages(req, question, p.history, p.contexts)
	if err != nil {
		p.abandon()
		return nil, err
	}
	return p, nil
}

// retrieve pins the chunks of req.FilePath, then fills up to TopK by similarity.
func (r *Resolver) retrieve(ctx context.Context, idx *indexer.VectorIndex, question string, req Request) ([]Context, error) {
	k := req.TopK
	if k <= 0 {
		k = r.config.TopK
	}

	var contexts []Context
	exclude := make(map[string]bool)
	budget := r.config.MaxContextChars

	if fp := normalizePath(req.FilePath); fp != "" {
		pinned := idx.ChunksForPath(fp)
		if len(pinned) == 0 {
			log.Printf("⚠️  %s has no indexed chunks for %s", req.RepoKey, fp)
		}
		for _, c := range pinned {
			exclude[c.ID] = true
			if budget-len(c.Text) < 0 && len(contexts) > 0 {
				break
			}
			budget -= len(c.Text)
			contexts = append(contexts, toContext(c, 1, true))
		}
	}

	vectors, err := engine.RetryWithPolicy(ctx, r.config.Retry.EmbedPolicy,
		engine.WithCallTimeout(r.config.Timeouts.Embed, func(ctx context.Context) ([][]float32, error) {
			return r.embedder.Embed(ctx, []string{question})
		}),
		engine.ClassifyProviderError, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &engine.ProviderError{Provider: r.embedder.ModelID(), Op: "embed", Err: err}
	}
	if len(vectors) != 1 {
		return nil, &engine.ProviderError{Provider: r.embedder.ModelID(), Op: "embed",
			Err: fmt.Errorf("expected 1 query vector, got %d", len(vectors))}
	}

	opts := indexer.SearchOptions{Exclude: exclude}
	var hits []indexer.ScoredChunk
	if r.config.Hybrid {
		hits = idx.HybridSearch(question, vectors[0], k, opts)
	} else {
		hits = idx.Search(vectors[0], k, opts)
	}
	for _, h := range hits {
		if budget-len(h.Text) < 0 {
			break
		}
		budget -= len(h.Text)
		contexts = append(contexts, toContext(h.Chunk, h.Score, false))
	}
	return contexts, nil
}

func toContext(c indexer.Chunk, score float64, pinned bool) Context {
	return Context{
		Path:      c.Path,
		StartLine: c.StartLine,
		EndLine:   c.EndLine,
		Language:  c.Language,
		Score:     score,
		Pinned:    pinned,
		Text:      c.Text,
	}
}

func normalizePath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, `\`, "/"))
	if p == "" {
		return ""
	}
	p = path.Clean(strings.TrimLeft(p, "/"))
	if p == "." {
		return ""
	}
	return p
}

// Resolve answers req and, on success only, records the turn.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Answer, error) {
	p, err := r.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	opts := engine.ChatOptions{Temperature: r.config.Temperature, MaxOutputTokens: r.config.MaxOutputTokens}
	resp, err := engine.RetryWithPolicy(ctx, r.config.Retry.GeneratePolicy,
		engine.WithCallTimeout(r.config.Timeouts.Generate, func(ctx context.Context) (engine.LLMResponse, error) {
			return p.generator.Client.Chat(ctx, p.generator.Model, p.messages, opts)
		}),
		engine.ClassifyProviderError,
		func(attempt int, delay time.Duration, err error) {
			log.Printf("🔄 Generation failed (attempt %d), retrying in %v: %v", attempt, delay, err)
		})
	if err != nil {
		p.abandon()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &engine.ProviderError{Provider: p.generator.Provider, Op: "generate", Err: err}
	}

	ans, err := p.finish(ctx, resp.Text, resp.Usage)
	if err != nil {
		return nil, err
	}
	return ans, nil
}

// IsDeepResearch reports whether question asks for a deep research answer.
func IsDeepResearch(question string) bool {
	return strings.HasPrefix(strings.TrimSpace(question), DeepResearchPrefix)
}

var errStreamConsumed = errors.New("answer stream already consumed")
