// Package config layers built-in defaults, the user config file, .env and
// REPOWIKI_* environment variables into one Config.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ChamsBouzaiene/repowiki/internal/extractor"
	"github.com/ChamsBouzaiene/repowiki/internal/indexer"
	"github.com/ChamsBouzaiene/repowiki/internal/providers"
)

// EnvPrefix prefixes every environment override, e.g. REPOWIKI_SERVER_ADDR.
const EnvPrefix = "REPOWIKI"

// Config is the resolved process configuration.
type Config struct {
	DataDir    string         `mapstructure:"data_dir"`
	Verbose    bool           `mapstructure:"verbose"`
	Generation providers.Spec `mapstructure:"generation"`
	Embedding  providers.Spec `mapstructure:"embedding"`
	GitHub     GitHubConfig   `mapstructure:"github"`
	Sessions   SessionConfig  `mapstructure:"sessions"`
	Server     ServerConfig   `mapstructure:"server"`
	Limits     LimitsConfig   `mapstructure:"limits"`
	Index      IndexConfig    `mapstructure:"index"`
}

// GitHubConfig selects how GitHub repositories are read.
type GitHubConfig struct {
	Mode    string  `mapstructure:"mode"` // api or clone
	BaseURL string  `mapstructure:"base_url"`
	RPS     float64 `mapstructure:"rps"`
}

// SessionConfig selects the conversation store.
type SessionConfig struct {
	Store    string        `mapstructure:"store"` // memory, file or redis
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
	MaxTurns int           `mapstructure:"max_turns"`
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LimitsConfig bounds extraction.
type LimitsConfig struct {
	MaxFileBytes  int64 `mapstructure:"max_file_bytes"`
	MaxTotalBytes int64 `mapstructure:"max_total_bytes"`
	MaxFiles      int   `mapstructure:"max_files"`
}

// IndexConfig sizes the index builder.
type IndexConfig struct {
	Workers      int           `mapstructure:"workers"`
	CacheEntries int           `mapstructure:"cache_entries"`
	BuildTimeout time.Duration `mapstructure:"build_timeout"`
}

// Session store kinds.
const (
	SessionsMemory = "memory"
	SessionsFile   = "file"
	SessionsRedis  = "redis"
)

func defaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "repowiki")
	}
	return ".repowiki"
}

func setDefaults(v *viper.Viper) {
	limits := extractor.DefaultLimits()
	builder := indexer.DefaultBuilderConfig()

	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("verbose", false)

	for _, prefix := range []string{"generation", "embedding"} {
		v.SetDefault(prefix+".provider", "")
		v.SetDefault(prefix+".model", "")
		v.SetDefault(prefix+".base_url", "")
		v.SetDefault(prefix+".api_key", "")
		v.SetDefault(prefix+".rps", 0)
	}

	v.SetDefault("github.mode", "api")
	v.SetDefault("github.base_url", "")
	v.SetDefault("github.rps", 0)

	v.SetDefault("sessions.store", SessionsFile)
	v.SetDefault("sessions.redis_url", "redis://localhost:6379/0")
	v.SetDefault("sessions.ttl", 7*24*time.Hour)
	v.SetDefault("sessions.max_turns", 10)

	v.SetDefault("server.addr", ":8001")

	v.SetDefault("limits.max_file_bytes", limits.MaxFileBytes)
	v.SetDefault("limits.max_total_bytes", limits.MaxTotalBytes)
	v.SetDefault("limits.max_files", limits.MaxFiles)

	v.SetDefault("index.workers", builder.Workers)
	v.SetDefault("index.cache_entries", builder.CacheEntries)
	v.SetDefault("index.build_timeout", builder.BuildTimeout)
}

// Keys lists every configurable key.
func Keys() []string {
	v := viper.New()
	setDefaults(v)
	keys := v.AllKeys()
	sort.Strings(keys)
	return keys
}

// IsKnownKey reports whether key is configurable.
func IsKnownKey(key string) bool {
	for _, k := range Keys() {
		if k == key {
			return true
		}
	}
	return false
}

// Load resolves the configuration. path selects a config file; empty means the
// user config file, which is optional. .env in the working directory is loaded
// first so its values act as environment variables.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path == "" {
		if m, err := NewManager(); err == nil && m.Exists() {
			path = m.Path()
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(configType(path))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyEmbeddingFallback(os.Getenv)
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Sessions.Store {
	case SessionsMemory, SessionsFile, SessionsRedis:
	default:
		return fmt.Errorf("sessions.store must be memory, file or redis, got %q", c.Sessions.Store)
	}
	switch c.GitHub.Mode {
	case "api", "clone":
	default:
		return fmt.Errorf("github.mode must be api or clone, got %q", c.GitHub.Mode)
	}
	if c.Sessions.MaxTurns < 0 {
		return fmt.Errorf("sessions.max_turns must not be negative")
	}
	return nil
}

// applyEmbeddingFallback picks OpenAI embeddings when a key is available and the
// offline hash embedder otherwise.
func (c *Config) applyEmbeddingFallback(getenv func(string) string) {
	if c.Embedding.Provider != "" {
		return
	}
	if c.Embedding.APIKey != "" || getenv("OPENAI_API_KEY") != "" {
		c.Embedding.Provider = "openai"
		return
	}
	log.Println("📊 No embedding provider configured and OPENAI_API_KEY unset; using offline hash embeddings")
	c.Embedding.Provider = "hash"
}

// IndexDBPath is the sqlite file holding indexes and wikis.
func (c *Config) IndexDBPath() string {
	return filepath.Join(c.DataDir, "repowiki.db")
}

// CloneDir is where remote checkouts are kept.
func (c *Config) CloneDir() string {
	return filepath.Join(c.DataDir, "repos")
}

// ExtractorLimits converts the configured limits, keeping default concurrency.
func (c *Config) ExtractorLimits() extractor.Limits {
	l := extractor.DefaultLimits()
	if c.Limits.MaxFileBytes > 0 {
		l.MaxFileBytes = c.Limits.MaxFileBytes
	}
	if c.Limits.MaxTotalBytes > 0 {
		l.MaxTotalBytes = c.Limits.MaxTotalBytes
	}
	if c.Limits.MaxFiles > 0 {
		l.MaxFiles = c.Limits.MaxFiles
	}
	return l
}

// Debugf logs only in verbose mode.
func (c *Config) Debugf(format string, args ...any) {
	if c.Verbose {
		log.Printf("[DEBUG] "+format, args...)
	}
}
