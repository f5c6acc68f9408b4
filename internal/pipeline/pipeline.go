// Package pipeline implements the Execution Pipeline (C6): one program,
// run once. It orchestrates the Workspace Manager (C3), Container
// Command Planner (C4), and Sandboxed Executor (C5) behind the state
// machine in spec.md §4.6, generalizing the teacher's per-language
// two-phase (compile, then run) functions in packages/lang/*.go into a
// single recipe-driven flow.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/IMMZEK/codeexec/internal/limits"
	"github.com/IMMZEK/codeexec/internal/planner"
	"github.com/IMMZEK/codeexec/internal/registry"
	"github.com/IMMZEK/codeexec/internal/sandbox"
	"github.com/IMMZEK/codeexec/internal/workspace"
)

// Kind is the pipeline-level outcome classification from spec.md §4.6,
// distinct from sandbox.Kind: it adds CompileFailed and collapses
// sandbox-level OOM/pid signals into LimitExceeded.
type Kind string

const (
	KindCompleted     Kind = "completed"
	KindTimedOut      Kind = "timed_out"
	KindCompileFailed Kind = "compile_failed"
	KindLimitExceeded Kind = "limit_exceeded"
	KindInternal      Kind = "internal"
)

// LimitKind names which resource a LimitExceeded outcome concerns.
type LimitKind string

const (
	LimitMemory  LimitKind = "memory"
	LimitProcess LimitKind = "process"
)

// Result is the pipeline's public outcome (spec.md §4.6's five
// terminal states).
type Result struct {
	Kind Kind

	Stdout      string
	Stderr      string
	ExitCode    int
	WallElapsed time.Duration

	// Populated only for KindCompileFailed.
	CompileStdout string
	CompileStderr string

	// Populated only for KindLimitExceeded.
	LimitKind LimitKind

	// Populated for KindInternal; logged in full, surfaced to the
	// client with minimal detail per spec.md §7's propagation policy.
	Reason string
}

// Request is one pipeline invocation's inputs — already
// limit-validated by the caller (internal/engine or internal/harness),
// so the pipeline itself never rejects a request for LimitOutOfRange.
type Request struct {
	Language string
	Code     []byte
	Stdin    []byte
	Limits   limits.Limits
}

// executor is the slice of *sandbox.Executor the pipeline depends on.
// Depending on the interface rather than the concrete type lets tests
// substitute a fake sandbox without a Docker daemon.
type executor interface {
	Run(ctx context.Context, spec sandbox.Spec) sandbox.Outcome
}

// Pipeline glues C1/C3/C4/C5 together for one invocation.
type Pipeline struct {
	registry   *registry.Registry
	workspaces *workspace.Manager
	executor   executor
	logger     *zap.SugaredLogger
}

// New builds a Pipeline from its already-constructed collaborators.
func New(reg *registry.Registry, workspaces *workspace.Manager, exec executor, logger *zap.SugaredLogger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Pipeline{registry: reg, workspaces: workspaces, executor: exec, logger: logger}
}

// Run executes req.Code once: write the source, compile it if the
// recipe requires it, then run it. The workspace is released on every
// exit path via defer, discharging spec.md §4.3's scoped-acquisition
// invariant even when the pipeline returns early on a compile failure.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	session, compileResult, err := p.Prepare(ctx, req.Language, req.Code)
	if err != nil {
		return Result{}, err
	}
	defer session.Close()

	if compileResult != nil {
		return *compileResult, nil
	}

	return session.RunCase(ctx, req.Stdin, req.Limits), nil
}

// Session is a prepared workspace — source written, compile step
// already run if the recipe needed one — that the Test-Case Harness
// (C7) holds open across many RunCase calls so a compiled artifact is
// built exactly once per submission (spec.md §4.7: "compile once").
type Session struct {
	pipeline *Pipeline
	recipe   registry.Recipe
	ws       *workspace.Workspace
}

// Prepare acquires a workspace, writes the source, and runs the
// compile step if the recipe requires one. When compilation fails (or
// an infrastructure error occurs), compileResult is non-nil and the
// caller must not call RunCase; the Session must still be Closed to
// release the workspace.
func (p *Pipeline) Prepare(ctx context.Context, language string, code []byte) (*Session, *Result, error) {
	recipe, err := p.registry.Lookup(language)
	if err != nil {
		return nil, nil, err
	}

	ws, err := p.workspaces.Acquire()
	if err != nil {
		p.logger.Errorw("pipeline: workspace acquire failed", "language", language, "error", err)
		result := Result{Kind: KindInternal, Reason: "could not allocate a workspace"}
		return &Session{pipeline: p, recipe: recipe}, &result, nil
	}

	session := &Session{pipeline: p, recipe: recipe, ws: ws}

	if err := ws.WriteSource(recipe.SourceFilename, code); err != nil {
		p.logger.Errorw("pipeline: write source failed", "language", language, "error", err)
		result := Result{Kind: KindInternal, Reason: "could not write source file"}
		return session, &result, nil
	}

	if recipe.NeedsCompile() {
		if compileResult, done := p.runCompile(ctx, recipe, ws.Path); done {
			return session, &compileResult, nil
		}
	}

	return session, nil, nil
}

// RunCase runs the session's recipe once more with fresh stdin and
// limits, reusing the already-compiled workspace.
func (s *Session) RunCase(ctx context.Context, stdin []byte, lim limits.Limits) Result {
	if s.ws == nil {
		return Result{Kind: KindInternal, Reason: "session has no workspace"}
	}
	return s.pipeline.runProgram(ctx, s.recipe, s.ws.Path, Request{Stdin: stdin, Limits: lim})
}

// Close releases the session's workspace. Infallible and idempotent
// with workspace.Close's own contract; safe to call even when Prepare
// returned a non-nil compileResult or a nil workspace.
func (s *Session) Close() {
	if s != nil && s.ws != nil {
		s.ws.Close()
	}
}

// runCompile runs the recipe's compile step. The second return value
// is true when the pipeline must stop here (compile failed or an
// infrastructure error occurred) and false when compilation succeeded
// and the run phase should proceed.
func (p *Pipeline) runCompile(ctx context.Context, recipe registry.Recipe, workspacePath string) (Result, bool) {
	// Compile is not counted against the user's run budget (spec.md
	// §4.6): it uses the host defaults rather than the request's
	// (possibly tighter or looser) run-phase limits.
	outcome := p.executor.Run(ctx, sandbox.Spec{
		Image:             recipe.Image,
		WorkspaceHostPath: workspacePath,
		Command:           recipe.Compile,
		Limits:            limits.Defaults(),
		Phase:             planner.PhaseCompile,
	})

	switch outcome.Kind {
	case sandbox.KindCompleted:
		if outcome.ExitCode != 0 {
			return Result{
				Kind:          KindCompileFailed,
				CompileStdout: outcome.Stdout,
				CompileStderr: outcome.Stderr,
				ExitCode:      outcome.ExitCode,
			}, true
		}
		return Result{}, false
	case sandbox.KindTimedOut:
		return Result{
			Kind:          KindCompileFailed,
			CompileStdout: outcome.Stdout,
			CompileStderr: outcome.Stderr,
			ExitCode:      sandbox.ExitCodeTimeout,
		}, true
	default:
		p.logger.Errorw("pipeline: compile phase failed to run", "reason", outcome.Reason)
		return Result{Kind: KindInternal, Reason: outcome.Reason}, true
	}
}

// runProgram runs the recipe's run step with the request's limits and
// stdin, classifying the sandbox.Outcome into a pipeline Result.
func (p *Pipeline) runProgram(ctx context.Context, recipe registry.Recipe, workspacePath string, req Request) Result {
	outcome := p.executor.Run(ctx, sandbox.Spec{
		Image:             recipe.Image,
		WorkspaceHostPath: workspacePath,
		Command:           recipe.Run,
		Limits:            req.Limits,
		Phase:             planner.PhaseRun,
		Stdin:             req.Stdin,
	})

	switch outcome.Kind {
	case sandbox.KindCompleted:
		if outcome.OOMKilled {
			return Result{Kind: KindLimitExceeded, LimitKind: LimitMemory, WallElapsed: outcome.WallElapsed}
		}
		if outcome.PidsExceeded {
			return Result{Kind: KindLimitExceeded, LimitKind: LimitProcess, WallElapsed: outcome.WallElapsed}
		}
		return Result{
			Kind:        KindCompleted,
			Stdout:      outcome.Stdout,
			Stderr:      outcome.Stderr,
			ExitCode:    outcome.ExitCode,
			WallElapsed: outcome.WallElapsed,
		}
	case sandbox.KindTimedOut:
		return Result{
			Kind:        KindTimedOut,
			Stdout:      outcome.Stdout,
			Stderr:      outcome.Stderr,
			ExitCode:    sandbox.ExitCodeTimeout,
			WallElapsed: outcome.WallElapsed,
		}
	default:
		p.logger.Errorw("pipeline: run phase failed to run", "reason", outcome.Reason)
		return Result{Kind: KindInternal, Reason: outcome.Reason, WallElapsed: outcome.WallElapsed}
	}
}
