package zest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum-optimism/infra/op-zest/exitcodes"
	"github.com/ethereum-optimism/infra/op-zest/runner"
	"github.com/ethereum-optimism/infra/op-zest/types"
)

// maxNamedFailures bounds how many failing zests a TestFailureError names
const maxNamedFailures = 5

// RuntimeError is an operational error, such as a bad flag, an unreadable
// output folder or a worker pool that cannot start. It implements
// cli.ExitCoder and exits with exitcodes.RuntimeErr.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func (e *RuntimeError) ExitCode() int {
	return exitcodes.RuntimeErr
}

func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return errors.As(err, &runtimeErr)
}

// TestFailureError reports a finished run that must exit with
// exitcodes.TestFailure: failed zests, worker faults or authoring warnings.
type TestFailureError struct {
	RunID    string
	Failed   []string // full names of failed zests, in completion order
	Faults   []string // roots whose worker broke off
	Warnings int
}

// NewTestFailureError summarizes the failures of result
func NewTestFailureError(result *runner.RunnerResult) *TestFailureError {
	e := &TestFailureError{RunID: result.RunID, Warnings: len(result.Warnings)}
	for _, rec := range result.Results {
		if rec.Status() == types.TestStatusFail {
			e.Failed = append(e.Failed, rec.FullName)
		}
	}
	for _, fault := range result.Faults {
		e.Faults = append(e.Faults, fault.Root)
	}
	return e
}

func (e *TestFailureError) Error() string {
	var parts []string
	if n := len(e.Failed); n > 0 {
		parts = append(parts, fmt.Sprintf("%d zest(s) failed: %s", n, nameList(e.Failed)))
	}
	if n := len(e.Faults); n > 0 {
		parts = append(parts, fmt.Sprintf("%d worker fault(s) in %s", n, nameList(e.Faults)))
	}
	if e.Warnings > 0 {
		parts = append(parts, fmt.Sprintf("%d warning(s)", e.Warnings))
	}
	if len(parts) == 0 {
		parts = append(parts, "run did not complete")
	}
	return fmt.Sprintf("zest run %s failed: %s", e.RunID, strings.Join(parts, "; "))
}

func (e *TestFailureError) ExitCode() int {
	return exitcodes.TestFailure
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return errors.As(err, &testErr)
}

func nameList(names []string) string {
	if len(names) <= maxNamedFailures {
		return strings.Join(names, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(names[:maxNamedFailures], ", "), len(names)-maxNamedFailures)
}
