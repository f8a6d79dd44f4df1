package reporting

import (
	"time"

	"github.com/ethereum-optimism/infra/op-zest/runner"
	"github.com/ethereum-optimism/infra/op-zest/types"
)

// ReportError is one failed zest with the stack it failed under
type ReportError struct {
	Stack       []string
	Error       *types.ErrorInfo
	WorkerIndex int
}

// Leaf returns the full name of the zest that failed
func (e ReportError) Leaf() string {
	if len(e.Stack) == 0 {
		return ""
	}
	return e.Stack[len(e.Stack)-1]
}

// ReportData contains all the structured data needed for any report format
type ReportData struct {
	// Run Information
	RunID     string
	Timestamp time.Time
	Duration  time.Duration
	Workers   int

	// Outcome
	Status      types.TestStatus
	Retcode     int
	Interrupted bool
	Ran         int // length of the call log

	Tree           *types.ResultTree
	Errors         []ReportError
	Faults         []*runner.WorkerFault
	Warnings       []string
	DecodeWarnings []string
	Slowest        []*types.ResultTreeNode
}

// ReportBuilder turns runner results into ReportData
type ReportBuilder struct {
	slowestPercent int
}

// NewReportBuilder creates a builder listing the slowest 5% of zests
func NewReportBuilder() *ReportBuilder {
	return &ReportBuilder{slowestPercent: 5}
}

// WithSlowestPercent changes the share of zests listed as slowest
func (rb *ReportBuilder) WithSlowestPercent(percent int) *ReportBuilder {
	rb.slowestPercent = percent
	return rb
}

// BuildFromRunnerResult collects everything the formatters need
func (rb *ReportBuilder) BuildFromRunnerResult(result *runner.RunnerResult) *ReportData {
	tree := types.BuildResultTree(result.Results, result.RunID)
	data := &ReportData{
		RunID:       result.RunID,
		Timestamp:   result.Stats.StartTime,
		Duration:    result.Duration,
		Workers:     result.Workers,
		Status:      result.Status,
		Retcode:     result.Retcode,
		Interrupted: result.Interrupted,
		Ran:         len(result.CallLog),
		Tree:        tree,
		Faults:      result.Faults,
		Warnings:    result.Warnings,
	}

	for _, callErr := range result.CallErrors {
		reportErr := ReportError{Stack: callErr.Stack, Error: callErr.Error, WorkerIndex: types.UnassignedWorker}
		if node := tree.FindNode(reportErr.Leaf()); node != nil {
			reportErr.WorkerIndex = node.WorkerIndex
		}
		data.Errors = append(data.Errors, reportErr)
	}
	for _, w := range result.DecodeWarnings {
		data.DecodeWarnings = append(data.DecodeWarnings, w.String())
	}

	executed := len(tree.Slowest(-1))
	data.Slowest = tree.Slowest(slowestCount(executed, rb.slowestPercent))
	return data
}

// slowestCount returns how many of n timings lie strictly above the
// (100-percent)th percentile
func slowestCount(n, percent int) int {
	if percent <= 0 || n == 0 {
		return 0
	}
	cut := (100 - percent) * n / 100
	if count := n - 1 - cut; count > 0 {
		return count
	}
	return 0
}
