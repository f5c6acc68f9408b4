// Package config implements the host configuration surface (spec.md
// §6): environment-driven options loaded once at startup, following
// the teacher's flat-const style (executor/executor.go's Default*
// consts) but generalized into a loader so every value can be
// overridden per deployment without a rebuild. Grounded on
// spencerandtheteagues-apex-build-platform/backend's godotenv.Load +
// os.Getenv bootstrap pattern.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/IMMZEK/codeexec/internal/limits"
)

// Config is the process-wide, read-once-at-startup configuration.
type Config struct {
	RESTPort string
	// GRPCPort is read but never consulted: this repo has no gRPC
	// transport (SPEC_FULL.md's dropped-dependency list), it is kept only
	// so an operator setting it in a shared .env does not produce an
	// "unknown key" surprise.
	GRPCPort string

	Ceilings limits.Ceilings

	DedupEnabled  bool
	DedupCacheTTL time.Duration
	RedisURL      string

	MaxConcurrentExecutions int
	TempRoot                string

	LangRecipeOverrides string

	JWTSigningSecret string
}

// Load reads .env (if present, via godotenv) and then the process
// environment, applying the same defaults the teacher hard-coded as
// package constants.
func Load() Config {
	_ = godotenv.Load() // a missing .env is not an error; production deploys set real env vars

	return Config{
		RESTPort: getString("REST_PORT", "8080"),
		GRPCPort: getString("GRPC_PORT", ""),

		Ceilings: limits.Ceilings{
			MaxWallTime:    getDuration("MAX_WALL_TIME_CEILING", 30*time.Second),
			MaxMemoryBytes: getInt64("MAX_MEMORY_CEILING_BYTES", 512*1024*1024),
		},

		DedupEnabled:  getBool("DEDUP_ENABLED", false),
		DedupCacheTTL: getDuration("DEDUP_CACHE_TTL", 5*time.Minute),
		RedisURL:      getString("REDIS_URL", ""),

		MaxConcurrentExecutions: getInt("MAX_CONCURRENT_EXECUTIONS", 32),
		TempRoot:                getString("TEMP_ROOT", os.TempDir()),

		LangRecipeOverrides: getString("LANG_RECIPE_OVERRIDES", ""),

		JWTSigningSecret: getString("JWT_SIGNING_SECRET", ""),
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}
