package zest

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-zest/logging"
	"github.com/ethereum-optimism/infra/op-zest/reporting"
	"github.com/ethereum-optimism/infra/op-zest/runner"
	"github.com/ethereum-optimism/infra/op-zest/ui"
)

// ResultFormatter displays the results of a finished run
type ResultFormatter interface {
	FormatResults(result *runner.RunnerResult) error
}

// ConsoleResultFormatter prints the result table and the run summary, and
// appends the summary to summary.log when a FileLogger is set
type ConsoleResultFormatter struct {
	logger      log.Logger
	out         io.Writer
	projectRoot string
	verbose     ui.Verbosity
	fileLogger  *logging.FileLogger
}

// NewConsoleResultFormatter creates a new ConsoleResultFormatter.
func NewConsoleResultFormatter(logger log.Logger, out io.Writer, projectRoot string, verbose ui.Verbosity, fileLogger *logging.FileLogger) *ConsoleResultFormatter {
	return &ConsoleResultFormatter{
		logger:      logger,
		out:         out,
		projectRoot: projectRoot,
		verbose:     verbose,
		fileLogger:  fileLogger,
	}
}

// tableDepth shows roots only in dot mode and every level when tracing
func (f *ConsoleResultFormatter) tableDepth() int {
	if f.verbose >= ui.Trace {
		return -1
	}
	return 0
}

func (f *ConsoleResultFormatter) FormatResults(result *runner.RunnerResult) error {
	f.logger.Debug("Printing results...")
	builder := reporting.NewReportBuilder()
	data := builder.BuildFromRunnerResult(result)
	summary := reporting.NewTextSummaryFormatter(f.projectRoot, true)

	if f.fileLogger != nil {
		fileReport := reporting.NewReportGenerator(builder, reporting.NewSummaryWriter(f.fileLogger), summary)
		if err := fileReport.Generate(data); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}

	formatters := []reporting.ReportFormatter{}
	if f.verbose > ui.Silent && data.Tree != nil {
		title := fmt.Sprintf("Zest Results (%s)", result.RunID)
		formatters = append(formatters, reporting.NewTreeTableFormatter(title, f.tableDepth(), result.Workers > 0))
	}
	formatters = append(formatters, summary)

	console := reporting.NewReportGenerator(builder, reporting.NewStreamWriter(f.out), formatters...)
	if err := console.Generate(data); err != nil {
		return fmt.Errorf("failed to print results: %w", err)
	}
	return nil
}
