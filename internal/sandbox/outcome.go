package sandbox

import "time"

// Outcome is the tagged result of one executor call (spec.md §3). Kind
// says which of the embedded fields are meaningful; callers switch on
// Kind rather than on nil-ness of the optional fields.
type Kind string

const (
	KindCompleted   Kind = "completed"
	KindTimedOut    Kind = "timed_out"
	KindSpawnFailed Kind = "spawn_failed"
	KindInternal    Kind = "internal_error"
)

// Outcome captures exactly one of the four RunOutcome shapes from
// spec.md §3.
type Outcome struct {
	Kind Kind

	// Populated for KindCompleted and (partially) KindTimedOut.
	Stdout      string
	Stderr      string
	ExitCode    int
	WallElapsed time.Duration
	PeakMemory  *int64 // Executor.Run never samples memory usage, so this is always nil

	// Flags set when a bounded output buffer overflowed (spec.md §4.5);
	// the child is not killed for this.
	StdoutTruncated bool
	StderrTruncated bool

	// OOMKilled / PidsExceeded let the pipeline (C6) derive
	// LimitExceeded(memory|process) from a Completed-shaped outcome per
	// spec.md §4.6.
	OOMKilled    bool
	PidsExceeded bool

	// Populated for KindSpawnFailed and KindInternal.
	Reason string
}

// ReservedExitCode values spec.md §6 assigns special meaning to.
const (
	ExitCodeTimeout = 124
	ExitCodeKilled  = 137
)
