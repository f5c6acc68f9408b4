// Package engine supplies the top-level entry point that spec.md §2
// implies but never names: a single constructed object dispatching
// either to the Execution Pipeline (C6) directly, or to the External
// Input Resolver (C8) followed by the Test-Case Harness (C7),
// depending on which shape the caller asks for. cmd/server constructs
// the registry, workspace manager, and sandbox executor once at startup
// and then routes every request through this package; cmd/replclient
// reaches it only over cmd/server's HTTP API.
package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/IMMZEK/codeexec/internal/harness"
	"github.com/IMMZEK/codeexec/internal/limits"
	"github.com/IMMZEK/codeexec/internal/pipeline"
	"github.com/IMMZEK/codeexec/internal/registry"
	"github.com/IMMZEK/codeexec/internal/resolver"
	"github.com/IMMZEK/codeexec/internal/sandbox"
	"github.com/IMMZEK/codeexec/internal/workspace"
)

// LanguageInfo is the public, image-free view of a supported language.
type LanguageInfo struct {
	Name  string
	Label string
}

// Executor is the sandbox collaborator an Engine runs every compile
// and run phase through. *sandbox.Executor satisfies it; tests
// substitute a fake so the rest of the engine can be exercised without
// a Docker daemon.
type Executor interface {
	Run(ctx context.Context, spec sandbox.Spec) sandbox.Outcome
}

// Engine is the process-wide facade over the registry, pipeline, and
// harness. It is safe for concurrent use: every call it makes
// downstream acquires its own workspace and container.
type Engine struct {
	registry *registry.Registry
	pipeline *pipeline.Pipeline
	harness  *harness.Harness
	resolver *resolver.Resolver
	defaults limits.Limits
	ceilings limits.Ceilings
	logger   *zap.SugaredLogger
}

// New builds an Engine from its already-constructed collaborators.
// ceilings bounds the Limits Execute accepts and the per-test Override
// values the harness accepts;
// defaults is the base Limits used whenever a caller does not supply
// its own. maxConcurrent gates how many submissions may hold the
// container runtime socket at once (spec.md §5's concurrency-limit
// semaphore); a value ≤ 0 means no gating.
func New(reg *registry.Registry, workspaces *workspace.Manager, exec Executor, ceilings limits.Ceilings, defaults limits.Limits, maxConcurrent int, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	gated := exec
	if maxConcurrent > 0 {
		gated = &gatedExecutor{inner: exec, gate: make(chan struct{}, maxConcurrent)}
	}
	p := pipeline.New(reg, workspaces, gated, logger)
	return &Engine{
		registry: reg,
		pipeline: p,
		harness:  harness.New(p, ceilings, logger),
		resolver: resolver.New(),
		defaults: defaults,
		ceilings: ceilings,
		logger:   logger,
	}
}

// gatedExecutor enforces spec.md §5's concurrency limit: every call into
// C5 acquires a slot in a buffered channel first and releases it on
// return, so submissions above the cap wait in arrival order rather
// than all hitting the container runtime socket at once.
type gatedExecutor struct {
	inner Executor
	gate  chan struct{}
}

func (g *gatedExecutor) Run(ctx context.Context, spec sandbox.Spec) sandbox.Outcome {
	select {
	case g.gate <- struct{}{}:
	case <-ctx.Done():
		return sandbox.Outcome{Kind: sandbox.KindTimedOut, Reason: "cancelled while waiting for a concurrency slot"}
	}
	defer func() { <-g.gate }()
	return g.inner.Run(ctx, spec)
}

// Execute runs code once against stdin — C6 only, spec.md §4.6. lim is
// validated against the engine's ceilings first; a *limits.OutOfRangeError
// is returned without running anything.
func (e *Engine) Execute(ctx context.Context, language string, code, stdin []byte, lim limits.Limits) (pipeline.Result, error) {
	if err := limits.Validate(lim, e.ceilings); err != nil {
		return pipeline.Result{}, err
	}
	return e.pipeline.Run(ctx, pipeline.Request{
		Language: language,
		Code:     code,
		Stdin:    stdin,
		Limits:   lim,
	})
}

// ExecuteWithInlineCases runs code against already-canonical test
// cases — C8's Inline normalization, then C7.
func (e *Engine) ExecuteWithInlineCases(ctx context.Context, language string, code []byte, cases []resolver.InlineCase, lim limits.Limits) (harness.SubmissionResult, error) {
	return e.harness.Run(ctx, language, code, e.resolver.Inline(cases), lim)
}

// ExecuteWithFileCases runs code against file-content test cases — C8's
// Files normalization, then C7.
func (e *Engine) ExecuteWithFileCases(ctx context.Context, language string, code []byte, cases []resolver.FileCase, lim limits.Limits) (harness.SubmissionResult, error) {
	return e.harness.Run(ctx, language, code, e.resolver.Files(cases), lim)
}

// ExecuteWithURLCases fetches each test case's input over HTTP — C8's
// URLs normalization — then runs C7. A single fetch failure fails the
// whole submission before any case executes (spec.md §4.8).
func (e *Engine) ExecuteWithURLCases(ctx context.Context, language string, code []byte, cases []resolver.URLCase, lim limits.Limits) (harness.SubmissionResult, error) {
	resolved, err := e.resolver.URLs(ctx, cases)
	if err != nil {
		return harness.SubmissionResult{}, err
	}
	return e.harness.Run(ctx, language, code, resolved, lim)
}

// ListLanguages returns the registry's public view — C1.
func (e *Engine) ListLanguages() []LanguageInfo {
	infos := e.registry.List()
	out := make([]LanguageInfo, len(infos))
	for i, info := range infos {
		out[i] = LanguageInfo{Name: info.Name, Label: info.Label}
	}
	return out
}

// Defaults returns the base Limits callers should merge request-level
// overrides over, when they don't supply their own.
func (e *Engine) Defaults() limits.Limits {
	return e.defaults
}

// DefaultsFor returns the base Limits for one language: the host
// defaults with that language's recipe.DefaultLimits layered on top
// (spec.md §3's "default_limits: optional override of the global
// defaults"), so a request's own explicit override still applies last,
// on top of this result. An unknown language just returns the host
// defaults unchanged — Execute itself is what surfaces
// UnsupportedLanguageError.
func (e *Engine) DefaultsFor(language string) limits.Limits {
	recipe, err := e.registry.Lookup(language)
	if err != nil {
		return e.defaults
	}
	return limits.Merge(e.defaults, recipe.DefaultLimits)
}
