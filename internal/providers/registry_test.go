package providers

import (
	"context"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
)

func testRegistry(env map[string]string) *Registry {
	r := DefaultRegistry()
	r.getenv = func(k string) string { return env[k] }
	return r
}

func TestRegistry_UnknownProvider(t *testing.T) {
	r := testRegistry(nil)
	_, err := r.Generator(Spec{Provider: "nope"})
	if err == nil || !strings.Contains(err.Error(), "unknown provider") {
		t.Fatalf("expected unknown provider error, got %v", err)
	}
}

func TestRegistry_MissingKey(t *testing.T) {
	r := testRegistry(nil)
	_, err := r.Generator(Spec{Provider: "openai"})
	if err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestRegistry_DefaultsFromEnvironment(t *testing.T) {
	r := testRegistry(map[string]string{"GROQ_API_KEY": "k", "GROQ_MODEL": "mixtral"})
	gen, err := r.Generator(Spec{Provider: "GROQ"})
	if err != nil {
		t.Fatalf("Generator: %v", err)
	}
	if gen.Model != "mixtral" || gen.Provider != "groq" {
		t.Errorf("got model=%q provider=%q", gen.Model, gen.Provider)
	}

	gen, err = r.Generator(Spec{Provider: "groq", Model: "explicit"})
	if err != nil {
		t.Fatalf("Generator: %v", err)
	}
	if gen.Model != "explicit" {
		t.Errorf("explicit model should win, got %q", gen.Model)
	}
}

func TestRegistry_LocalProvidersNeedNoKey(t *testing.T) {
	r := testRegistry(nil)
	gen, err := r.Generator(Spec{Provider: "ollama"})
	if err != nil {
		t.Fatalf("Generator: %v", err)
	}
	if gen.Model != "llama3.1" {
		t.Errorf("unexpected default model %q", gen.Model)
	}
}

func TestRegistry_ClientsAreShared(t *testing.T) {
	r := testRegistry(map[string]string{"DEEPSEEK_API_KEY": "k"})
	a, err := r.Generator(Spec{Provider: "deepseek", Model: "deepseek-chat"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Generator(Spec{Provider: "deepseek", Model: "deepseek-reasoner"})
	if err != nil {
		t.Fatal(err)
	}
	if a.Client != b.Client {
		t.Error("same provider, endpoint and key should share a client")
	}
	c, err := r.Generator(Spec{Provider: "deepseek", APIKey: "other"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Client == a.Client {
		t.Error("a different key must get its own client")
	}
}

func TestRegistry_HashEmbedder(t *testing.T) {
	r := testRegistry(nil)
	emb, err := r.Embedder(Spec{Provider: "hash", Model: "32"})
	if err != nil {
		t.Fatalf("Embedder: %v", err)
	}
	if emb.Dimension() != 32 || emb.ModelID() != "hash-32" {
		t.Errorf("got dim=%d id=%s", emb.Dimension(), emb.ModelID())
	}
	again, _ := r.Embedder(Spec{Provider: "hash", Model: "32"})
	if again != emb {
		t.Error("embedder should be memoized")
	}

	if _, err := r.Embedder(Spec{Provider: "anthropic"}); err == nil {
		t.Error("anthropic has no embedding endpoint")
	}
}

func TestRegistry_RateLimitedWhenRPSSet(t *testing.T) {
	r := testRegistry(nil)
	gen, err := r.Generator(Spec{Provider: "lmstudio", RPS: 2})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := gen.Client.(*RateLimitedClient); !ok {
		t.Errorf("expected rate limited client, got %T", gen.Client)
	}
}

type countingEmbedder struct{ calls int }

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	return make([][]float32, len(texts)), nil
}
func (e *countingEmbedder) ModelID() string { return "counting" }
func (e *countingEmbedder) Dimension() int  { return 1 }
func (e *countingEmbedder) MaxBatch() int   { return 8 }

func TestRateLimitedEmbedder_RespectsContext(t *testing.T) {
	inner := &countingEmbedder{}
	emb := NewRateLimitedEmbedder(inner, rate.Every(time.Hour), 1)

	if _, err := emb.Embed(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("first call should use the burst: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := emb.Embed(ctx, []string{"b"}); err == nil {
		t.Fatal("second call should fail waiting for a token")
	}
	if inner.calls != 1 {
		t.Errorf("inner embedder called %d times, want 1", inner.calls)
	}
	var _ engine.Embedder = emb
}
