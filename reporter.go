package zest

import (
	"github.com/ethereum-optimism/infra/op-zest/metrics"
	"github.com/ethereum-optimism/infra/op-zest/runner"
)

// MetricsReporter publishes the outcome of a finished run
type MetricsReporter interface {
	ReportResults(result *runner.RunnerResult)
}

// DefaultMetricsReporter sets the run gauges of the metrics package
type DefaultMetricsReporter struct{}

func NewDefaultMetricsReporter() *DefaultMetricsReporter {
	return &DefaultMetricsReporter{}
}

func (r *DefaultMetricsReporter) ReportResults(result *runner.RunnerResult) {
	metrics.RecordRun(
		result.RunID,
		string(result.Status),
		result.Stats.Total,
		result.Stats.Passed,
		result.Stats.Failed,
		result.Stats.Skipped,
		result.Duration,
	)
}
