package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_LayersFileAndEnvironment(t *testing.T) {
	path := writeFile(t, "config.yaml", `
data_dir: /tmp/repowiki-test
generation:
  provider: anthropic
  model: claude-test
sessions:
  store: memory
  ttl: 1h
server:
  addr: ":9000"
`)
	t.Setenv("REPOWIKI_SERVER_ADDR", ":9100")
	t.Setenv("REPOWIKI_EMBEDDING_PROVIDER", "hash")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9100" {
		t.Errorf("env should override file, got addr %q", cfg.Server.Addr)
	}
	if cfg.Generation.Provider != "anthropic" || cfg.Generation.Model != "claude-test" {
		t.Errorf("unexpected generation spec %+v", cfg.Generation)
	}
	if cfg.Embedding.Provider != "hash" {
		t.Errorf("expected hash embeddings, got %q", cfg.Embedding.Provider)
	}
	if cfg.Sessions.Store != SessionsMemory || cfg.Sessions.TTL != time.Hour {
		t.Errorf("unexpected sessions %+v", cfg.Sessions)
	}
	if cfg.Sessions.MaxTurns != 10 {
		t.Errorf("expected default max turns, got %d", cfg.Sessions.MaxTurns)
	}
	if cfg.IndexDBPath() != filepath.Join("/tmp/repowiki-test", "repowiki.db") {
		t.Errorf("unexpected db path %s", cfg.IndexDBPath())
	}
	if l := cfg.ExtractorLimits(); l.MaxFiles != 20000 || l.Concurrency == 0 {
		t.Errorf("unexpected limits %+v", l)
	}
}

func TestLoad_RejectsUnknownSessionStore(t *testing.T) {
	path := writeFile(t, "config.json", `{"sessions": {"store": "etcd"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown session store")
	}
}

func TestLoad_EmbeddingFallback(t *testing.T) {
	path := writeFile(t, "config.json", `{}`)

	t.Setenv("OPENAI_API_KEY", "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Embedding.Provider != "hash" {
		t.Errorf("expected hash fallback, got %q", cfg.Embedding.Provider)
	}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Embedding.Provider != "openai" {
		t.Errorf("expected openai embeddings, got %q", cfg.Embedding.Provider)
	}
}

func TestManager_SetGetUnset(t *testing.T) {
	m := NewManagerAt(filepath.Join(t.TempDir(), "repowiki", "config.json"))
	if m.Exists() {
		t.Fatal("config should not exist yet")
	}

	if err := m.Set("generation.provider", "ollama"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Set("server.addr", ":7000"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Set("no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}

	info, err := os.Stat(m.Path())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected 0600 permissions, got %o", perm)
	}

	got, ok, err := m.Get("generation.provider")
	if err != nil || !ok || got != "ollama" {
		t.Fatalf("Get = %v, %v, %v", got, ok, err)
	}

	cfg, err := Load(m.Path())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Generation.Provider != "ollama" || cfg.Server.Addr != ":7000" {
		t.Errorf("saved values not loaded: %+v", cfg)
	}

	if err := m.Unset("server.addr"); err != nil {
		t.Fatalf("Unset: %v", err)
	}
	if _, ok, _ := m.Get("server.addr"); ok {
		t.Error("server.addr should be unset")
	}
	if _, ok, _ := m.Get("generation.provider"); !ok {
		t.Error("generation.provider should survive Unset of another key")
	}
	if err := m.Unset("server.addr"); err == nil {
		t.Error("expected error unsetting a missing key")
	}
}
