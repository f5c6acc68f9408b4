// Package harness implements the Test-Case Harness (C7): one
// submission driven against many test cases through a single compiled
// (or shared-workspace interpreted) pipeline.Session, aggregating a
// SubmissionResult. Grounded on the teacher's per-language loop shape
// generalized to be recipe-driven, and on AwlOJ-judge's
// prepare-once/run-many-cases environment reuse.
package harness

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/IMMZEK/codeexec/internal/limits"
	"github.com/IMMZEK/codeexec/internal/pipeline"
)

// TestCase is one case in a submission (spec.md §3).
type TestCase struct {
	Name        string
	Input       []byte
	Expected    []byte
	HasExpected bool
	Override    *limits.Override
}

// TestResult is one case's verdict (spec.md §3).
type TestResult struct {
	Name     string
	Passed   bool
	Outcome  pipeline.Result
	Expected []byte
	Actual   []byte
	Message  string
}

// SubmissionResult aggregates every case's result (spec.md §3).
type SubmissionResult struct {
	AggregatedStdout string
	AggregatedStderr string
	OverallExitCode  int
	PerTest          []TestResult
	Cancelled        bool
}

// Harness drives a pipeline.Pipeline across a case list.
type Harness struct {
	pipeline *pipeline.Pipeline
	ceilings limits.Ceilings
	logger   *zap.SugaredLogger
}

// New builds a Harness around an already-constructed Pipeline.
func New(p *pipeline.Pipeline, ceilings limits.Ceilings, logger *zap.SugaredLogger) *Harness {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Harness{pipeline: p, ceilings: ceilings, logger: logger}
}

// Run compiles code once (if its language requires it) and executes
// cases sequentially, in declaration order, against the resulting
// workspace.
func (h *Harness) Run(ctx context.Context, language string, code []byte, cases []TestCase, baseLimits limits.Limits) (SubmissionResult, error) {
	session, compileResult, err := h.pipeline.Prepare(ctx, language, code)
	if err != nil {
		return SubmissionResult{}, err
	}
	defer session.Close()

	if compileResult != nil {
		return h.compileFailedResult(*compileResult, cases), nil
	}

	var (
		perTest       []TestResult
		firstFailExit int
		sawFailure    bool
		cancelled     bool
	)

	for _, tc := range cases {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		merged := limits.Merge(baseLimits, tc.Override)
		if err := limits.Validate(merged, h.ceilings); err != nil {
			result := TestResult{
				Name:    tc.Name,
				Passed:  false,
				Expected: tc.Expected,
				Message: err.Error(),
			}
			perTest = append(perTest, result)
			if !sawFailure {
				sawFailure = true
				firstFailExit = 1
			}
			continue
		}

		outcome := session.RunCase(ctx, tc.Input, merged)
		passed, message := h.evaluate(outcome, tc)

		perTest = append(perTest, TestResult{
			Name:     tc.Name,
			Passed:   passed,
			Outcome:  outcome,
			Expected: tc.Expected,
			Actual:   []byte(outcome.Stdout),
			Message:  message,
		})

		if !passed && !sawFailure {
			sawFailure = true
			firstFailExit = exitCodeFor(outcome)
		}
	}

	overallExitCode := 0
	if sawFailure {
		overallExitCode = firstFailExit
	}

	return SubmissionResult{
		AggregatedStdout: aggregate(perTest, func(r TestResult) string { return r.Outcome.Stdout }),
		AggregatedStderr: aggregate(perTest, func(r TestResult) string { return r.Outcome.Stderr }),
		OverallExitCode:  overallExitCode,
		PerTest:          perTest,
		Cancelled:        cancelled,
	}, nil
}

// compileFailedResult marks every case failed with the shared compile
// error, per spec.md §4.7: compile errors are a program property, not
// a per-case property, so no test is executed.
func (h *Harness) compileFailedResult(compileResult pipeline.Result, cases []TestCase) SubmissionResult {
	perTest := make([]TestResult, 0, len(cases))
	for _, tc := range cases {
		perTest = append(perTest, TestResult{
			Name:    tc.Name,
			Passed:  false,
			Outcome: compileResult,
			Message: "compile error",
		})
	}
	exitCode := compileResult.ExitCode
	if exitCode == 0 {
		exitCode = 1
	}
	return SubmissionResult{
		AggregatedStdout: compileResult.CompileStdout,
		AggregatedStderr: compileResult.CompileStderr,
		OverallExitCode:  exitCode,
		PerTest:          perTest,
	}
}

// evaluate compares a case's outcome to its expectation (spec.md
// §4.7): byte-equal after trimming a single trailing newline from both
// sides when an expected output is given; otherwise pass iff the run
// completed with exit code 0.
func (h *Harness) evaluate(outcome pipeline.Result, tc TestCase) (passed bool, message string) {
	if outcome.Kind != pipeline.KindCompleted {
		return false, string(outcome.Kind)
	}
	if !tc.HasExpected {
		if outcome.ExitCode != 0 {
			return false, fmt.Sprintf("exit code %d", outcome.ExitCode)
		}
		return true, ""
	}
	if bytes.Equal(trimOneTrailingNewline([]byte(outcome.Stdout)), trimOneTrailingNewline(tc.Expected)) {
		return true, ""
	}
	return false, "output mismatch"
}

// trimOneTrailingNewline strips at most one trailing "\n" (and a
// preceding "\r", for CRLF sources) — spec.md §4.7's "single trailing
// newline" normalization, not a general whitespace trim.
func trimOneTrailingNewline(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\n' {
		b = b[:len(b)-1]
		if len(b) > 0 && b[len(b)-1] == '\r' {
			b = b[:len(b)-1]
		}
	}
	return b
}

// exitCodeFor derives the exit code spec.md §3 wants recorded for the
// first failing case of a submission's overall_exit_code.
func exitCodeFor(outcome pipeline.Result) int {
	switch outcome.Kind {
	case pipeline.KindTimedOut:
		return outcome.ExitCode // sandbox.ExitCodeTimeout, 124
	case pipeline.KindCompleted:
		if outcome.ExitCode != 0 {
			return outcome.ExitCode
		}
		return 1 // completed but failed the expected-output comparison
	default:
		return 1
	}
}

// aggregate concatenates a per-stream field across every case,
// delimited by a header line naming the case (spec.md §4.7).
func aggregate(perTest []TestResult, field func(TestResult) string) string {
	var b strings.Builder
	for _, r := range perTest {
		fmt.Fprintf(&b, "--- %s ---\n", r.Name)
		b.WriteString(field(r))
		if !strings.HasSuffix(field(r), "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
