// Package planner implements the Container Command Planner (C4): a
// pure function from (workspace, recipe, limits, phase) to the
// argument vector that launches one sandboxed invocation.
//
// The planner performs no I/O (Design Note "Planner purity") so it is
// trivially unit-testable by string comparison of the produced vector.
package planner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/IMMZEK/codeexec/internal/limits"
)

// Phase identifies which recipe command is being planned.
type Phase string

const (
	PhaseCompile Phase = "compile"
	PhaseRun     Phase = "run"
)

// InContainerWorkdir is the fixed mount point inside every sandbox
// container; it never varies across invocations.
const InContainerWorkdir = "/workspace"

// Input bundles everything the planner needs. It is intentionally
// built from plain values (not a registry.Recipe) so this package has
// no dependency on the registry — it stays a pure function of data.
type Input struct {
	WorkspaceHostPath string
	Image             string
	Command           []string
	Limits            limits.Limits
	Phase             Phase
}

// Plan returns the full `docker run` argument vector implementing
// spec.md §4.4's seven numbered requirements: container from the
// recipe's image, working directory set to the mounted workspace,
// remove-on-exit, no network, dropped capabilities and no privilege
// escalation, memory/pid caps at the container level, and a ulimit
// shell prelude for CPU time, stack, and open files.
func Plan(in Input) []string {
	args := []string{
		"run", "--rm",
		"--network", "none",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--memory", strconv.FormatInt(in.Limits.MemoryBytes, 10),
		"--memory-swap", strconv.FormatInt(in.Limits.MemoryBytes, 10), // no swap beyond the hard cap
		"--pids-limit", strconv.FormatInt(in.Limits.MaxProcesses, 10),
		"--read-only",
		"--tmpfs", "/tmp:rw,noexec,nosuid,size=64m",
		"-v", in.WorkspaceHostPath + ":" + InContainerWorkdir,
		"-w", InContainerWorkdir,
		in.Image,
		"/bin/sh", "-c", shellCommand(in),
	}
	return args
}

// ContainerCmd returns just the in-container entrypoint ([]string{"/bin/sh",
// "-c", <prelude + command>}) that Plan embeds as its final three
// arguments. The sandbox executor (C5) uses this directly as
// container.Config.Cmd when driving the Docker SDK, so the shell
// prelude it runs is always exactly what Plan's pure output claims it
// to be — the two can never drift apart.
func ContainerCmd(in Input) []string {
	return []string{"/bin/sh", "-c", shellCommand(in)}
}

// shellCommand builds the ulimit prelude (spec.md §4.4 item 7) followed
// by the phase's command, as a single shell string executed by
// /bin/sh -c inside the container.
func shellCommand(in Input) string {
	cpuSeconds := int64(in.Limits.CPUTime.Seconds())
	if cpuSeconds <= 0 {
		cpuSeconds = 1
	}
	stackKB := in.Limits.StackBytes / 1024
	prelude := fmt.Sprintf(
		"ulimit -t %d -s %d -n %d",
		cpuSeconds, stackKB, in.Limits.MaxOpenFiles,
	)
	return prelude + "; exec " + quoteArgs(in.Command)
}

// quoteArgs joins argv into a POSIX-sh-safe command string. Each token
// is wrapped in single quotes with embedded quotes escaped, so the
// user's source filename or compiler flags can never break out of the
// shell prelude.
func quoteArgs(argv []string) string {
	quoted := make([]string, len(argv))
	for i, tok := range argv {
		quoted[i] = "'" + strings.ReplaceAll(tok, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}
