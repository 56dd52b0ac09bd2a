package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/ChamsBouzaiene/repowiki/internal/config"
	"github.com/ChamsBouzaiene/repowiki/internal/engine"
	"github.com/ChamsBouzaiene/repowiki/internal/hosts"
	"github.com/ChamsBouzaiene/repowiki/internal/knowledge"
	"github.com/ChamsBouzaiene/repowiki/internal/providers"
	"github.com/ChamsBouzaiene/repowiki/internal/session"
	"github.com/ChamsBouzaiene/repowiki/internal/store"
)

// runtimeEnv owns the engine and the resources it was built from.
type runtimeEnv struct {
	cfg    *config.Config
	engine *knowledge.Engine
	store  *store.Store
	redis  *redis.Client
}

func (r *runtimeEnv) Close() {
	if r.engine != nil {
		_ = r.engine.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			log.Printf("⚠️  Closing store: %v", err)
		}
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
}

func prepareRuntimeEnv(ctx context.Context, cfg *config.Config) (env *runtimeEnv, err error) {
	env = &runtimeEnv{cfg: cfg}
	defer func() {
		if err != nil {
			env.Close()
			env = nil
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	registry := providers.DefaultRegistry()
	embedder, err := registry.Embedder(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	log.Printf("📊 Embeddings: %s", embedder.ModelID())

	generator, err := registry.Generator(cfg.Generation)
	if err != nil {
		// Indexing still works; questions and wikis will report the missing provider.
		log.Printf("⚠️  Generation provider unavailable: %v", err)
		generator = engine.Generator{}
	} else {
		log.Printf("🧠 Generation: %s/%s", generator.Provider, generator.Model)
	}

	hostRegistry, err := hosts.NewDefaultRegistry(hosts.Options{
		CloneDir:      cfg.CloneDir(),
		GitHubMode:    cfg.GitHub.Mode,
		GitHubBaseURL: cfg.GitHub.BaseURL,
		GitHubRate:    cfg.GitHub.RPS,
		Retry:         engine.DefaultRetryConfig().FetchPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("repository hosts: %w", err)
	}

	env.store, err = store.Open(ctx, cfg.IndexDBPath())
	if err != nil {
		return nil, err
	}
	cfg.Debugf("index store at %s", cfg.IndexDBPath())

	sessions, err := env.sessionStore(ctx)
	if err != nil {
		return nil, err
	}

	kc := knowledge.DefaultConfig()
	kc.Limits = cfg.ExtractorLimits()
	if cfg.Index.Workers > 0 {
		kc.Builder.Workers = cfg.Index.Workers
	}
	if cfg.Index.CacheEntries > 0 {
		kc.Builder.CacheEntries = cfg.Index.CacheEntries
	}
	if cfg.Index.BuildTimeout > 0 {
		kc.Builder.BuildTimeout = cfg.Index.BuildTimeout
	}
	if cfg.Sessions.MaxTurns > 0 {
		kc.MaxTurns = cfg.Sessions.MaxTurns
	}

	env.engine, err = knowledge.New(kc, knowledge.Components{
		Hosts:     hostRegistry,
		Embedder:  embedder,
		Generator: generator,
		Store:     env.store,
		Sessions:  sessions,
		Providers: registry,
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

func (r *runtimeEnv) sessionStore(ctx context.Context) (session.Store, error) {
	switch r.cfg.Sessions.Store {
	case config.SessionsMemory:
		return nil, nil
	case config.SessionsRedis:
		opts, err := redis.ParseURL(r.cfg.Sessions.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid sessions.redis_url: %w", err)
		}
		r.redis = redis.NewClient(opts)
		if err := r.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis session store unreachable: %w", err)
		}
		log.Printf("💬 Sessions in redis at %s", opts.Addr)
		return session.NewRedisStore(r.redis, r.cfg.Sessions.TTL), nil
	default:
		r.cfg.Debugf("sessions under %s", r.cfg.DataDir)
		return session.NewFileStore(r.cfg.DataDir), nil
	}
}
