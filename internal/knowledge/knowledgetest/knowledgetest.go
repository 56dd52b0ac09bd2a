// Package knowledgetest builds offline Engines over throwaway local repositories.
package knowledgetest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
	"github.com/ChamsBouzaiene/repowiki/internal/hosts"
	"github.com/ChamsBouzaiene/repowiki/internal/indexer"
	"github.com/ChamsBouzaiene/repowiki/internal/knowledge"
	"github.com/ChamsBouzaiene/repowiki/internal/repo"
)

// Structure is the wiki plan FakeLLM returns for JSON-mode requests.
const Structure = `{
  "title": "Demo Wiki",
  "description": "A small demo service.",
  "pages": [
    {"id": "overview", "title": "Overview", "filePaths": ["README.md", "main.go"], "relatedPageIds": ["auth"]},
    {"id": "auth", "title": "Authentication", "filePaths": ["auth/login.go"]}
  ],
  "sections": [{"id": "basics", "title": "Basics", "pageIds": ["overview", "auth"]}],
  "rootSections": ["basics"]
}`

// Files is the default repository content.
var Files = map[string]string{
	"README.md":     "# Demo\n\nA demo service with login.\n",
	"main.go":       "package main\n\nfunc main() {\n\tstart()\n}\n",
	"auth/login.go": "package auth\n\nfunc Login(user, password string) error {\n\treturn check(user, password)\n}\n",
}

// FakeLLM answers JSON-mode requests with Structure and everything else with Reply.
// Streams deliver Reply in two fragments, after Block is closed when it is set.
type FakeLLM struct {
	Reply string
	Err   error
	Block chan struct{}

	mu    sync.Mutex
	calls [][]engine.ChatMessage
}

// Calls returns the message lists received so far.
func (f *FakeLLM) Calls() [][]engine.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]engine.ChatMessage(nil), f.calls...)
}

func (f *FakeLLM) record(msgs []engine.ChatMessage) {
	f.mu.Lock()
	f.calls = append(f.calls, msgs)
	f.mu.Unlock()
}

func (f *FakeLLM) reply() string {
	if f.Reply == "" {
		return "Login lives in auth [auth/login.go:1-5]."
	}
	return f.Reply
}

func (f *FakeLLM) Chat(ctx context.Context, model string, msgs []engine.ChatMessage, opts engine.ChatOptions) (engine.LLMResponse, error) {
	f.record(msgs)
	if f.Err != nil {
		return engine.LLMResponse{}, f.Err
	}
	if opts.JSONMode {
		return engine.LLMResponse{Text: Structure}, nil
	}
	return engine.LLMResponse{Text: f.reply(), Usage: engine.Usage{Prompt: 10, Completion: 5, Total: 15}}, nil
}

func (f *FakeLLM) Stream(ctx context.Context, model string, msgs []engine.ChatMessage, opts engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	f.record(msgs)
	events := make(chan engine.StreamEvent)
	errs := make(chan error, 1)
	go func() {
		var err error
		defer func() { errs <- err }()
		defer close(events)
		if f.Err != nil {
			err = f.Err
			return
		}
		if f.Block != nil {
			select {
			case <-f.Block:
			case <-ctx.Done():
				err = ctx.Err()
				return
			}
		}
		text := f.reply()
		half := len(text) / 2
		for _, ev := range []engine.StreamEvent{
			{Type: engine.StreamTextDelta, Text: text[:half]},
			{Type: engine.StreamTextDelta, Text: text[half:]},
			{Type: engine.StreamUsage, Usage: engine.Usage{Prompt: 10, Completion: 5, Total: 15}},
		} {
			select {
			case events <- ev:
			case <-ctx.Done():
				err = ctx.Err()
				return
			}
		}
	}()
	return events, errs
}

// WriteRepo materializes files under a fresh temporary directory and returns its path.
func WriteRepo(t testing.TB, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return root
}

// Config returns an Engine configuration with fast retries and small budgets.
func Config() knowledge.Config {
	cfg := knowledge.DefaultConfig()
	policy := engine.RetryPolicy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	retry := engine.RetryConfig{EmbedPolicy: policy, GeneratePolicy: policy, FetchPolicy: policy}
	cfg.Pipeline.Retry = policy
	cfg.Wiki.Retry = retry
	cfg.Wiki.MinPages = 1
	cfg.Resolver.Retry = retry
	cfg.Resolver.TopK = 4
	cfg.Builder.Workers = 2
	cfg.WatchDebounce = 50 * time.Millisecond
	return cfg
}

// NewEngine builds an Engine that reads local repositories only, embeds with
// a hash embedder and generates with llm. store may be nil.
func NewEngine(t testing.TB, llm *FakeLLM, store knowledge.Store) *knowledge.Engine {
	t.Helper()
	reg := hosts.NewRegistry()
	reg.Register(repo.HostLocal, hosts.NewLocalHost())

	e, err := knowledge.New(Config(), knowledge.Components{
		Hosts:     reg,
		Embedder:  indexer.NewHashEmbedder(64),
		Generator: engine.Generator{Client: llm, Model: "fake", Provider: "fake"},
		Store:     store,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// Request is a RepoRequest for a local checkout.
func Request(root string) knowledge.RepoRequest {
	return knowledge.RepoRequest{RepoURL: root, RepoType: "local"}
}
