package providers

import (
	"strconv"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
	"github.com/ChamsBouzaiene/repowiki/internal/indexer"
)

// Presets lists the built-in generation providers. Everything except anthropic
// speaks the OpenAI chat completions protocol.
var Presets = []Preset{
	{ID: "openai", BaseURLEnv: "OPENAI_BASE_URL", KeyEnv: "OPENAI_API_KEY", ModelEnv: "OPENAI_MODEL",
		DefaultModel: "gpt-4o-mini", EmbedModel: "text-embedding-3-small"},
	{ID: "anthropic", BaseURLEnv: "ANTHROPIC_BASE_URL", KeyEnv: "ANTHROPIC_API_KEY", ModelEnv: "ANTHROPIC_MODEL",
		DefaultModel: "claude-3-5-sonnet-20241022"},
	{ID: "google", BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai", KeyEnv: "GEMINI_API_KEY",
		ModelEnv: "GEMINI_MODEL", DefaultModel: "gemini-1.5-flash", EmbedModel: "text-embedding-004"},
	{ID: "gemini", BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai", KeyEnv: "GEMINI_API_KEY",
		ModelEnv: "GEMINI_MODEL", DefaultModel: "gemini-1.5-flash", EmbedModel: "text-embedding-004"},
	{ID: "openrouter", BaseURL: "https://openrouter.ai/api/v1", KeyEnv: "OPENROUTER_API_KEY",
		ModelEnv: "OPENROUTER_MODEL", DefaultModel: "openai/gpt-4o-mini"},
	{ID: "ollama", BaseURL: "http://localhost:11434/v1", BaseURLEnv: "OLLAMA_BASE_URL", KeyEnv: "OLLAMA_API_KEY",
		KeyDefault: "ollama", ModelEnv: "OLLAMA_MODEL", DefaultModel: "llama3.1", EmbedModel: "nomic-embed-text"},
	{ID: "lmstudio", BaseURL: "http://localhost:1234/v1", BaseURLEnv: "LMSTUDIO_BASE_URL", KeyEnv: "LMSTUDIO_API_KEY",
		KeyDefault: "lm-studio", ModelEnv: "LMSTUDIO_MODEL", DefaultModel: "local-model"},
	{ID: "deepseek", BaseURL: "https://api.deepseek.com/v1", KeyEnv: "DEEPSEEK_API_KEY",
		ModelEnv: "DEEPSEEK_MODEL", DefaultModel: "deepseek-chat"},
	{ID: "groq", BaseURL: "https://api.groq.com/openai/v1", KeyEnv: "GROQ_API_KEY",
		ModelEnv: "GROQ_MODEL", DefaultModel: "llama-3.1-70b-versatile"},
	{ID: "kimi", BaseURL: "https://ark.ap-southeast.bytepluses.com/api/v3", BaseURLEnv: "KIMI_BASE_URL",
		KeyEnv: "KIMI_API_KEY", ModelEnv: "KIMI_MODEL", DefaultModel: "kimi-k2-250711"},
	{ID: "glm", BaseURL: "https://open.bigmodel.cn/api/paas/v4", KeyEnv: "GLM_API_KEY",
		ModelEnv: "GLM_MODEL", DefaultModel: "glm-4-plus"},
	{ID: "minimax", BaseURL: "https://api.minimax.chat/v1", KeyEnv: "MINIMAX_API_KEY",
		ModelEnv: "MINIMAX_MODEL", DefaultModel: "abab6.5s-chat"},
}

// hashPreset is the offline embedder; it needs no key and no network.
var hashPreset = Preset{ID: "hash", EmbedModel: "256"}

// embedBatchLimits caps request sizes per embedding provider.
var embedBatchLimits = map[string]int{
	"openai": 2048,
	"google": 100,
	"gemini": 100,
	"ollama": 64,
}

// DefaultRegistry returns a registry with every built-in provider.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, p := range Presets {
		p := p
		if p.ID == "anthropic" {
			r.RegisterGenerator(p, func(spec Spec) (engine.LLMClient, error) {
				return NewAnthropicClient(spec.APIKey, spec.BaseURL)
			})
		} else {
			r.RegisterGenerator(p, func(spec Spec) (engine.LLMClient, error) {
				return NewOpenAIClient(p.ID, spec.APIKey, spec.BaseURL)
			})
		}
		if p.EmbedModel != "" {
			r.RegisterEmbedder(p, func(spec Spec) (engine.Embedder, error) {
				return NewOpenAIEmbedder(p.ID, spec.APIKey, spec.BaseURL, spec.Model, embedBatchLimits[p.ID]), nil
			})
		}
	}
	r.RegisterEmbedder(hashPreset, func(spec Spec) (engine.Embedder, error) {
		dim, _ := strconv.Atoi(spec.Model)
		return indexer.NewHashEmbedder(dim), nil
	})
	return r
}
