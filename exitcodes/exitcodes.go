// Package exitcodes defines the exit codes of an op-zest run.
package exitcodes

// A run exits with:
//
// * Success (0): every zest passed or was skipped
// * TestFailure (1): a zest failed, a structural warning was raised or a worker faulted
// * RuntimeErr (2): configuration errors, workers that cannot be launched, panics
const (
	Success     = 0
	TestFailure = 1
	RuntimeErr  = 2
)
