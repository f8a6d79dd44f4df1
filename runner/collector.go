package runner

import (
	"time"

	"github.com/ethereum-optimism/infra/op-zest/engine"
	"github.com/ethereum-optimism/infra/op-zest/metrics"
	"github.com/ethereum-optimism/infra/op-zest/types"
)

var _ ResultCollector = (*resultCollector)(nil)

// ResultCollector handles aggregation of records into a RunnerResult
type ResultCollector interface {
	// Initialize a new run result
	NewRunResult(runID string, workers int) *RunnerResult

	// Add a stop record; start records are ignored
	AddRecord(result *RunnerResult, rec *types.ResultRecord)

	// Add structural warnings reported for a root
	AddWarnings(result *RunnerResult, warnings []string)

	// Add a worker fault
	AddFault(result *RunnerResult, fault *WorkerFault)

	// Finalize results and calculate status and exit code
	FinalizeResults(result *RunnerResult)
}

// resultCollector implements ResultCollector
type resultCollector struct{}

// NewResultCollector creates a new result collector
func NewResultCollector() ResultCollector {
	return &resultCollector{}
}

// NewRunResult initializes a new run result
func (c *resultCollector) NewRunResult(runID string, workers int) *RunnerResult {
	return &RunnerResult{
		RunID:   runID,
		Workers: workers,
		Status:  types.TestStatusFail,
		Retcode: 1,
		Stats: ResultStats{
			StartTime: time.Now(),
		},
	}
}

// AddRecord appends a stop record and updates the statistics
func (c *resultCollector) AddRecord(result *RunnerResult, rec *types.ResultRecord) {
	if result == nil {
		panic("result cannot be nil")
	}
	if rec == nil || rec.IsRunning {
		return
	}

	result.Results = append(result.Results, rec)
	result.CallLog = append(result.CallLog, rec.FullName)
	if rec.Error != nil {
		result.CallErrors = append(result.CallErrors, engine.CallError{Error: rec.Error, Stack: rec.CallStack})
	}
	if rec.Depth() == 0 {
		result.Stats.Roots++
	}

	result.Stats.Total++
	status := rec.Status()
	switch status {
	case types.TestStatusPass:
		result.Stats.Passed++
	case types.TestStatusFail:
		result.Stats.Failed++
	case types.TestStatusSkip:
		result.Stats.Skipped++
	}
	metrics.RecordZest(result.RunID, types.RootName(rec.FullName), status, rec.Duration())
}

// AddWarnings appends structural warnings
func (c *resultCollector) AddWarnings(result *RunnerResult, warnings []string) {
	result.Warnings = append(result.Warnings, warnings...)
}

// AddFault appends a worker fault
func (c *resultCollector) AddFault(result *RunnerResult, fault *WorkerFault) {
	if fault == nil {
		return
	}
	result.Faults = append(result.Faults, fault)
	metrics.RecordWorkerFault(fault.Error.ClassName)
}

// FinalizeResults calculates the final status, exit code and wall clock time
func (c *resultCollector) FinalizeResults(result *RunnerResult) {
	result.Stats.EndTime = time.Now()
	result.Duration = result.Stats.EndTime.Sub(result.Stats.StartTime)

	anyFailed := len(result.CallErrors) > 0 || len(result.Warnings) > 0 || len(result.Faults) > 0 || result.Interrupted
	allSkipped := result.Stats.Total == result.Stats.Skipped
	result.Status = determineStatusFromFlags(allSkipped, anyFailed)

	// decode warnings are reported but do not fail the run
	if anyFailed {
		result.Retcode = 1
	} else {
		result.Retcode = 0
	}
}

// determineStatusFromFlags returns a status based on zest results.
// It prioritizes failures over skips - if any zest failed, the overall status is fail.
func determineStatusFromFlags(allSkipped, anyFailed bool) types.TestStatus {
	if anyFailed {
		return types.TestStatusFail
	}
	if allSkipped {
		return types.TestStatusSkip
	}
	return types.TestStatusPass
}
