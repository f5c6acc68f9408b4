// Package sandbox implements the Sandboxed Executor (C5): one container
// lifecycle per invocation, producing the tagged Outcome result from
// spec.md §3. It wraps github.com/docker/docker exactly as the teacher's
// executor.CodeExecutor does (ContainerCreate/Start/Wait/Inspect/Logs/
// Stop/Kill/Remove), generalized to run an arbitrary planned command
// instead of a fixed per-language switch, and to return a tagged
// Outcome instead of a flat ExecutionResult.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"

	"github.com/IMMZEK/codeexec/internal/limits"
	"github.com/IMMZEK/codeexec/internal/planner"
)

// dockerAPI is the slice of the Docker client the executor depends on.
// *client.Client satisfies it; tests substitute a fake so C5's
// container-lifecycle sequencing can be verified without a Docker
// daemon.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (dockertypes.HijackedResponse, error)
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerInspect(ctx context.Context, containerID string) (dockertypes.ContainerJSON, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerKill(ctx context.Context, containerID string, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// OutputCap is the per-stream byte ceiling past which stdout/stderr are
// truncated rather than buffered without bound (spec.md §4.5).
const OutputCap = 1 << 20 // 1 MiB

// StopGrace is the timeout cleanup passes to ContainerStop, i.e. how
// long the container gets after the graceful stop signal before Docker
// kills it.
const StopGrace = 2 * time.Second

// Spec bundles one invocation's inputs: the planner already decided
// the argument vector (for audit/testing); Spec carries the pieces an
// Executor needs to enact the equivalent via the Docker SDK.
type Spec struct {
	Image             string
	WorkspaceHostPath string
	Command           []string
	Limits            limits.Limits
	Phase             planner.Phase
	Stdin             []byte
}

// SpawnFailedError wraps a failure to create or start the container —
// distinct from the child program's own failure, which is reported as
// a normal Completed outcome with a non-zero exit code.
type SpawnFailedError struct{ Cause error }

func (e *SpawnFailedError) Error() string { return fmt.Sprintf("spawn failed: %v", e.Cause) }
func (e *SpawnFailedError) Unwrap() error { return e.Cause }

// Executor drives one container per Run call through the Docker
// engine API.
type Executor struct {
	docker dockerAPI
	logger *zap.SugaredLogger
}

// NewExecutor dials the local Docker daemon exactly as the teacher's
// NewExecutorWithConfig does (client.FromEnv + API version
// negotiation), returning an error instead of silently falling back to
// a mock — spec.md has no mock-mode Non-goal carve-out, so a
// misconfigured daemon must surface as a startup failure, not as
// fabricated output.
func NewExecutor(logger *zap.SugaredLogger) (*Executor, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: docker client: %w", err)
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("sandbox: docker ping: %w", err)
	}
	return newExecutor(cli, logger), nil
}

// newExecutor builds an Executor around any dockerAPI implementation —
// the real SDK client in production, a fake in tests.
func newExecutor(docker dockerAPI, logger *zap.SugaredLogger) *Executor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Executor{docker: docker, logger: logger}
}

// Run creates a container from spec, streams stdin in, drains bounded
// stdout/stderr, enforces the wall-time deadline, and always removes
// the container before returning — the "no process outlives the
// executor call" invariant, discharged with defer regardless of which
// return path is taken.
func (e *Executor) Run(ctx context.Context, spec Spec) Outcome {
	start := time.Now()

	wallTime := spec.Limits.WallTime
	if wallTime <= 0 {
		wallTime = limits.Defaults().WallTime
	}
	ctx, cancel := context.WithTimeout(ctx, wallTime)
	defer cancel()

	in := planner.Input{
		WorkspaceHostPath: spec.WorkspaceHostPath,
		Image:             spec.Image,
		Command:           spec.Command,
		Limits:            spec.Limits,
		Phase:             spec.Phase,
	}
	cmd := planner.ContainerCmd(in)

	containerID, err := e.createAndStart(ctx, spec, cmd)
	if err != nil {
		if containerID != "" {
			e.cleanup(containerID)
		}
		if ctx.Err() != nil {
			return Outcome{Kind: KindTimedOut, WallElapsed: time.Since(start), Reason: "container did not start before the wall-time deadline"}
		}
		return Outcome{Kind: KindSpawnFailed, WallElapsed: time.Since(start), Reason: err.Error()}
	}
	defer e.cleanup(containerID)

	statusCh, errCh := e.docker.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	var exitCode int64
	var timedOut bool
	select {
	case waitErr := <-errCh:
		if ctx.Err() != nil {
			timedOut = true
		} else if waitErr != nil {
			return Outcome{Kind: KindInternal, WallElapsed: time.Since(start), Reason: waitErr.Error()}
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	case <-ctx.Done():
		timedOut = true
	}

	elapsed := time.Since(start)

	if timedOut {
		stdout, stderr, outTrunc, errTrunc, _ := e.collectLogs(containerID)
		return Outcome{
			Kind:            KindTimedOut,
			Stdout:          stdout,
			Stderr:          stderr,
			WallElapsed:     elapsed,
			StdoutTruncated: outTrunc,
			StderrTruncated: errTrunc,
			Reason:          "wall-time limit exceeded",
		}
	}

	stdout, stderr, outTrunc, errTrunc, err := e.collectLogs(containerID)
	if err != nil {
		return Outcome{Kind: KindInternal, WallElapsed: elapsed, Reason: fmt.Sprintf("reading container logs: %v", err)}
	}

	oomKilled, pidsExceeded := e.inspectLimitSignals(containerID, stderr)

	return Outcome{
		Kind:            KindCompleted,
		Stdout:          stdout,
		Stderr:          stderr,
		ExitCode:        int(exitCode),
		WallElapsed:     elapsed,
		StdoutTruncated: outTrunc,
		StderrTruncated: errTrunc,
		OOMKilled:       oomKilled,
		PidsExceeded:    pidsExceeded,
	}
}

// createAndStart mirrors the teacher's createAndStartContainer, generalized:
// the bind mount is the caller-supplied workspace, the Cmd is the planned
// shell invocation, and host-level isolation (network, caps, readonly
// root, memory/pid caps) is derived from spec.Limits rather than fixed
// defaults.
func (e *Executor) createAndStart(ctx context.Context, spec Spec, cmd []string) (string, error) {
	mounts := []mount.Mount{
		{
			Type:   mount.TypeBind,
			Source: spec.WorkspaceHostPath,
			Target: planner.InContainerWorkdir,
		},
	}

	cfg := &container.Config{
		Image:       spec.Image,
		Cmd:         cmd,
		Tty:         false,
		WorkingDir:  planner.InContainerWorkdir,
		OpenStdin:   len(spec.Stdin) > 0,
		StdinOnce:   true,
		AttachStdin: len(spec.Stdin) > 0,
	}

	pidsLimit := spec.Limits.MaxProcesses
	hostCfg := &container.HostConfig{
		Mounts:         mounts,
		NetworkMode:    container.NetworkMode("none"),
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Tmpfs:          map[string]string{"/tmp": "rw,noexec,nosuid,size=64m"},
		Resources: container.Resources{
			Memory:     spec.Limits.MemoryBytes,
			MemorySwap: spec.Limits.MemoryBytes,
			NanoCPUs:   int64(1e9), // one core; per-submission CPU budget is enforced by the in-container ulimit, not by cgroup shares
			PidsLimit:  &pidsLimit,
		},
	}

	resp, err := e.docker.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", &SpawnFailedError{Cause: err}
	}

	if len(spec.Stdin) > 0 {
		attach, err := e.docker.ContainerAttach(ctx, resp.ID, container.AttachOptions{Stream: true, Stdin: true})
		if err != nil {
			return resp.ID, &SpawnFailedError{Cause: err}
		}
		go func() {
			defer attach.Close()
			io.Copy(attach.Conn, bytes.NewReader(spec.Stdin))
			attach.CloseWrite()
		}()
	}

	if err := e.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return resp.ID, &SpawnFailedError{Cause: err}
	}

	return resp.ID, nil
}

// collectLogs demuxes the container's combined log stream into bounded
// stdout/stderr buffers, grounded on the teacher's getContainerLogs but
// capping each stream at OutputCap instead of buffering without limit
// (spec.md §4.5's "bounded output buffer" requirement).
func (e *Executor) collectLogs(containerID string) (stdout, stderr string, outTrunc, errTrunc bool, err error) {
	reader, err := e.docker.ContainerLogs(context.Background(), containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", false, false, err
	}
	defer reader.Close()

	var outBuf, errBuf boundedBuffer
	outBuf.limit = OutputCap
	errBuf.limit = OutputCap

	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, reader); err != nil && !errors.Is(err, io.EOF) {
		return "", "", false, false, err
	}
	return outBuf.String(), errBuf.String(), outBuf.truncated, errBuf.truncated, nil
}

// pidsLimitSignatures are the characteristic messages a fork(2)/clone(2)
// rejection prints to the invoking shell or runtime when PidsLimit is
// already saturated (glibc's perror text for EAGAIN, and the matching
// messages from bash, Python's subprocess, and the JVM's thread
// creation path) — Docker itself does not surface a pids-limit error
// through ContainerInspect, only through the child process failing to
// spawn and reporting it on stderr.
var pidsLimitSignatures = []string{
	"resource temporarily unavailable",
	"cannot allocate memory", // glibc clone() also reports ENOMEM under some kernels when the pid cgroup is exhausted
	"could not create a new native thread", // JVM
	"can't start new thread",               // CPython
}

// inspectLimitSignals checks the container's final state and stderr for
// the two resource-exhaustion signals the pipeline (C6) needs to derive
// LimitExceeded from a Completed-shaped outcome (spec.md §4.6): OOM
// kill (exposed directly by ContainerInspect), and a pid limit
// rejection (best-effort: Docker does not expose this directly, so it
// is inferred from the characteristic fork-refusal text the child
// process itself prints once PidsLimit blocks it from spawning).
func (e *Executor) inspectLimitSignals(containerID, stderr string) (oomKilled, pidsExceeded bool) {
	info, err := e.docker.ContainerInspect(context.Background(), containerID)
	if err == nil && info.State != nil {
		oomKilled = info.State.OOMKilled
	}
	lower := strings.ToLower(stderr)
	for _, signature := range pidsLimitSignatures {
		if strings.Contains(lower, signature) {
			pidsExceeded = true
			break
		}
	}
	return oomKilled, pidsExceeded
}

// cleanup stops and removes the container, grounded on the teacher's
// cleanupContainer: try a graceful stop first, fall back to a forceful
// kill, then always remove. Every call uses a fresh background context
// so cleanup is never itself cut short by the caller's deadline.
func (e *Executor) cleanup(containerID string) {
	ctx := context.Background()
	grace := int(StopGrace.Seconds())
	if err := e.docker.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &grace}); err != nil {
		if killErr := e.docker.ContainerKill(ctx, containerID, "SIGKILL"); killErr != nil {
			e.logger.Warnw("sandbox: container kill failed", "container_id", containerID, "error", killErr)
		}
	}
	if err := e.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		e.logger.Warnw("sandbox: container remove failed", "container_id", containerID, "error", err)
	}
}

// boundedBuffer caps the number of bytes it will retain, flagging
// truncated once the limit is hit instead of growing unbounded —
// a misbehaving submission that prints gigabytes must not be able to
// exhaust the executor's own memory.
type boundedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if b.truncated {
		return n, nil
	}
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return n, nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return n, nil
	}
	b.buf.Write(p)
	return n, nil
}

func (b *boundedBuffer) String() string { return b.buf.String() }
