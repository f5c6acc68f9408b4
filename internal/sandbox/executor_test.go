package sandbox

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IMMZEK/codeexec/internal/limits"
	"github.com/IMMZEK/codeexec/internal/planner"
)

// fakeDocker is a minimal in-memory stand-in for the Docker engine API,
// recording calls so tests can assert on the create/start/wait/
// inspect/logs/stop/remove sequencing without a daemon.
type fakeDocker struct {
	createErr error
	startErr  error

	waitStatus   int64
	waitErr      error
	blockOnWait  bool // never sends on either channel; lets the caller's ctx time out

	oomKilled bool

	stdoutLog string
	stderrLog string
	logsErr   error

	stopErr   error
	killCalls int
	removed   bool
}

func (f *fakeDocker) ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	return container.CreateResponse{ID: "fake-container-id"}, nil
}

func (f *fakeDocker) ContainerStart(ctx context.Context, id string, _ container.StartOptions) error {
	return f.startErr
}

func (f *fakeDocker) ContainerAttach(ctx context.Context, id string, _ container.AttachOptions) (dockertypes.HijackedResponse, error) {
	return dockertypes.HijackedResponse{}, errors.New("attach not supported by fake")
}

func (f *fakeDocker) ContainerWait(ctx context.Context, id string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	if f.blockOnWait {
		return statusCh, errCh
	}
	if f.waitErr != nil {
		errCh <- f.waitErr
	} else {
		statusCh <- container.WaitResponse{StatusCode: f.waitStatus}
	}
	return statusCh, errCh
}

func (f *fakeDocker) ContainerInspect(ctx context.Context, id string) (dockertypes.ContainerJSON, error) {
	return dockertypes.ContainerJSON{
		ContainerJSONBase: &dockertypes.ContainerJSONBase{
			State: &dockertypes.ContainerState{OOMKilled: f.oomKilled},
		},
	}, nil
}

func (f *fakeDocker) ContainerLogs(ctx context.Context, id string, _ container.LogsOptions) (io.ReadCloser, error) {
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	return io.NopCloser(strings.NewReader(muxFrames(f.stdoutLog, f.stderrLog))), nil
}

func (f *fakeDocker) ContainerStop(ctx context.Context, id string, _ container.StopOptions) error {
	return f.stopErr
}

func (f *fakeDocker) ContainerKill(ctx context.Context, id string, _ string) error {
	f.killCalls++
	return nil
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, id string, _ container.RemoveOptions) error {
	f.removed = true
	return nil
}

// muxFrames builds a minimal stdcopy-framed stream: an 8-byte header
// (stream type, 3 reserved bytes, 4-byte big-endian length) followed
// by payload, for both stdout and stderr.
func muxFrames(stdout, stderr string) string {
	var b strings.Builder
	frame := func(streamType byte, payload string) {
		b.WriteByte(streamType)
		b.WriteByte(0)
		b.WriteByte(0)
		b.WriteByte(0)
		n := len(payload)
		b.WriteByte(byte(n >> 24))
		b.WriteByte(byte(n >> 16))
		b.WriteByte(byte(n >> 8))
		b.WriteByte(byte(n))
		b.WriteString(payload)
	}
	if stdout != "" {
		frame(1, stdout)
	}
	if stderr != "" {
		frame(2, stderr)
	}
	return b.String()
}

func baseSpec() Spec {
	return Spec{
		Image:             "codeexec/python:3.12",
		WorkspaceHostPath: "/tmp/exec-abc",
		Command:           []string{"python3", "main.py"},
		Limits:            limits.Defaults(),
		Phase:             planner.PhaseRun,
	}
}

func TestRunReturnsCompletedWithDemuxedOutput(t *testing.T) {
	fd := &fakeDocker{stdoutLog: "hello\n", stderrLog: "warn\n", waitStatus: 0}
	ex := newExecutor(fd, nil)

	outcome := ex.Run(context.Background(), baseSpec())

	require.Equal(t, KindCompleted, outcome.Kind)
	assert.Equal(t, "hello\n", outcome.Stdout)
	assert.Equal(t, "warn\n", outcome.Stderr)
	assert.Equal(t, 0, outcome.ExitCode)
	assert.True(t, fd.removed)
}

func TestRunReturnsNonZeroExitCode(t *testing.T) {
	fd := &fakeDocker{waitStatus: 42}
	ex := newExecutor(fd, nil)

	outcome := ex.Run(context.Background(), baseSpec())

	require.Equal(t, KindCompleted, outcome.Kind)
	assert.Equal(t, 42, outcome.ExitCode)
}

func TestRunDetectsOOMKill(t *testing.T) {
	fd := &fakeDocker{waitStatus: 137, oomKilled: true}
	ex := newExecutor(fd, nil)

	outcome := ex.Run(context.Background(), baseSpec())

	require.Equal(t, KindCompleted, outcome.Kind)
	assert.True(t, outcome.OOMKilled)
}

func TestRunDetectsPidsLimitFromStderr(t *testing.T) {
	fd := &fakeDocker{waitStatus: 1, stderrLog: "fork: retry: Resource temporarily unavailable\n"}
	ex := newExecutor(fd, nil)

	outcome := ex.Run(context.Background(), baseSpec())

	require.Equal(t, KindCompleted, outcome.Kind)
	assert.True(t, outcome.PidsExceeded)
}

func TestRunDoesNotFlagPidsExceededOnOrdinaryStderr(t *testing.T) {
	fd := &fakeDocker{waitStatus: 1, stderrLog: "Traceback (most recent call last):\n"}
	ex := newExecutor(fd, nil)

	outcome := ex.Run(context.Background(), baseSpec())

	require.Equal(t, KindCompleted, outcome.Kind)
	assert.False(t, outcome.PidsExceeded)
}

func TestRunUsesWallTimeFromSpecLimits(t *testing.T) {
	fd := &fakeDocker{blockOnWait: true}
	ex := newExecutor(fd, nil)

	spec := baseSpec()
	spec.Limits.WallTime = 10 * time.Millisecond

	start := time.Now()
	outcome := ex.Run(context.Background(), spec)

	require.Equal(t, KindTimedOut, outcome.Kind)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunReportsSpawnFailure(t *testing.T) {
	fd := &fakeDocker{createErr: errors.New("no such image")}
	ex := newExecutor(fd, nil)

	outcome := ex.Run(context.Background(), baseSpec())

	require.Equal(t, KindSpawnFailed, outcome.Kind)
	assert.Contains(t, outcome.Reason, "no such image")
}

func TestRunTimesOutAndStillRemovesContainer(t *testing.T) {
	fd := &fakeDocker{blockOnWait: true}
	ex := newExecutor(fd, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	outcome := ex.Run(ctx, baseSpec())

	require.Equal(t, KindTimedOut, outcome.Kind)
	assert.True(t, fd.removed)
}

func TestCleanupFallsBackToKillWhenStopFails(t *testing.T) {
	fd := &fakeDocker{stopErr: errors.New("stop unsupported"), waitStatus: 0}
	ex := newExecutor(fd, nil)

	ex.Run(context.Background(), baseSpec())

	assert.Equal(t, 1, fd.killCalls)
	assert.True(t, fd.removed)
}

func TestCollectLogsTruncatesPastOutputCap(t *testing.T) {
	big := strings.Repeat("a", OutputCap+10)
	fd := &fakeDocker{stdoutLog: big}
	ex := newExecutor(fd, nil)

	outcome := ex.Run(context.Background(), baseSpec())

	require.Equal(t, KindCompleted, outcome.Kind)
	assert.True(t, outcome.StdoutTruncated)
	assert.LessOrEqual(t, len(outcome.Stdout), OutputCap)
}
