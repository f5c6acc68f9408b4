/*
Code execution service HTTP boundary:
1.- Receive a code snippet (or a code snippet plus test cases) from the client
2.- Select the appropriate language recipe via the registry
3.- Run it inside an isolated container, once or once per test case
4.- Return the outcome to the client
*/
package main

import (
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/IMMZEK/codeexec/internal/authn"
	"github.com/IMMZEK/codeexec/internal/config"
	"github.com/IMMZEK/codeexec/internal/dedup"
	"github.com/IMMZEK/codeexec/internal/engine"
	"github.com/IMMZEK/codeexec/internal/limits"
	"github.com/IMMZEK/codeexec/internal/obslog"
	"github.com/IMMZEK/codeexec/internal/ratelimit"
	"github.com/IMMZEK/codeexec/internal/registry"
	"github.com/IMMZEK/codeexec/internal/sandbox"
	"github.com/IMMZEK/codeexec/internal/sanitize"
	"github.com/IMMZEK/codeexec/internal/workspace"
)

func main() {
	cfg := config.Load()

	logger, err := obslog.New(obslog.Config{Level: "info", Format: "json"})
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}

	reg, err := registry.New(cfg.LangRecipeOverrides)
	if err != nil {
		logger.Fatalw("building language registry", "error", err)
	}

	workspaces := workspace.NewManager(cfg.TempRoot, logger)

	executor, err := sandbox.NewExecutor(logger)
	if err != nil {
		logger.Fatalw("building sandbox executor", "error", err)
	}

	defaultLimits := defaultsFromCeilings(cfg.Ceilings)
	eng := engine.New(reg, workspaces, executor, cfg.Ceilings, defaultLimits, cfg.MaxConcurrentExecutions, logger)

	sanitizer := sanitize.New(64 * 1024)

	cache := dedup.New(dedupBackend(cfg, logger), cfg.DedupCacheTTL)

	srv := NewServer(eng, sanitizer, cache, logger)

	limiter := ratelimit.New(120, 20)
	go sweepVisitorsForever(limiter, logger)

	var verifier *authn.Verifier
	if cfg.JWTSigningSecret != "" {
		verifier = authn.New(cfg.JWTSigningSecret)
	}

	router := srv.Router(limiter, verifier)

	addr := ":" + cfg.RESTPort
	logger.Infow("starting server", "addr", addr)
	log.Fatal(http.ListenAndServe(addr, router))
}

// dedupBackend builds the dedup.Store backing the dedup cache: nil when
// DEDUP_ENABLED is false (which disables the cache entirely, per
// dedup.Cache's nil-backend contract), Redis when REDIS_URL is also set
// and parses, and the in-memory store otherwise.
func dedupBackend(cfg config.Config, logger *zap.SugaredLogger) dedup.Store {
	if !cfg.DedupEnabled {
		return nil
	}
	if cfg.RedisURL == "" {
		return dedup.NewMemoryStore()
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warnw("invalid REDIS_URL, falling back to in-memory dedup store", "error", err)
		return dedup.NewMemoryStore()
	}
	return dedup.NewRedisStore(redis.NewClient(opts))
}

// defaultsFromCeilings derives the host's default Limits: the
// package-level defaults, with wall_time and memory_bytes lowered to the
// configured ceiling wherever that ceiling is tighter than the default.
func defaultsFromCeilings(ceilings limits.Ceilings) limits.Limits {
	d := limits.Defaults()
	if ceilings.MaxWallTime > 0 && ceilings.MaxWallTime < d.WallTime {
		d.WallTime = ceilings.MaxWallTime
	}
	if ceilings.MaxMemoryBytes > 0 && ceilings.MaxMemoryBytes < d.MemoryBytes {
		d.MemoryBytes = ceilings.MaxMemoryBytes
	}
	return d
}

func sweepVisitorsForever(limiter *ratelimit.Limiter, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		limiter.Sweep(10 * time.Minute)
		logger.Debugw("rate limiter visitor sweep complete")
	}
}
