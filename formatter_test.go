package zest

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-zest/logging"
	"github.com/ethereum-optimism/infra/op-zest/runner"
	"github.com/ethereum-optimism/infra/op-zest/types"
	"github.com/ethereum-optimism/infra/op-zest/ui"
)

// createSampleResult builds a finalized in-process result with one failure
func createSampleResult() *runner.RunnerResult {
	failure := &types.ErrorInfo{
		ClassName: "Failure",
		Message:   "want 4, got 5",
		Frames:    []string{"/src/zests/sum.go:14 in example.com/zests.init.func1.1"},
	}
	collector := runner.NewResultCollector()
	result := collector.NewRunResult("sample-run", 0)
	for _, rec := range []*types.ResultRecord{
		types.NewStopRecord("zest_sum.it_adds", []string{"zest_sum", "zest_sum.it_adds"}, 7, 3*time.Millisecond, "", nil),
		types.NewStopRecord("zest_sum.it_carries", []string{"zest_sum", "zest_sum.it_carries"}, 7, 5*time.Millisecond, "", failure),
		types.NewStopRecord("zest_sum.it_later", []string{"zest_sum", "zest_sum.it_later"}, 7, 0, "not yet", nil),
		types.NewStopRecord("zest_sum", []string{"zest_sum"}, 7, 10*time.Millisecond, "", nil),
	} {
		collector.AddRecord(result, rec)
	}
	collector.FinalizeResults(result)
	return result
}

func TestConsoleResultFormatter_FormatResults(t *testing.T) {
	tests := []struct {
		name      string
		verbose   ui.Verbosity
		wantTable bool
		wantLeaf  bool
	}{
		{name: "silent prints the summary only", verbose: ui.Silent},
		{name: "dots adds the root table", verbose: ui.Dots, wantTable: true},
		{name: "trace shows every level", verbose: ui.Trace, wantTable: true, wantLeaf: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			formatter := NewConsoleResultFormatter(log.New(), &out, "/src", tt.verbose, nil)
			require.NoError(t, formatter.FormatResults(createSampleResult()))

			plain := stripansi.Strip(out.String())
			assert.Contains(t, plain, "Ran 4 tests")
			assert.Contains(t, plain, "1 ERROR")
			assert.Contains(t, plain, "File ./zests/sum.go:14")
			assert.Equal(t, tt.wantTable, bytes.Contains(out.Bytes(), []byte("TOTAL")))
			assert.Equal(t, tt.wantLeaf, bytes.Contains(out.Bytes(), []byte("it_later")))
		})
	}
}

func TestConsoleResultFormatter_WritesSummaryLog(t *testing.T) {
	outputFolder := t.TempDir()
	fileLogger, err := logging.NewFileLogger(outputFolder, "sample-run")
	require.NoError(t, err)

	var out bytes.Buffer
	formatter := NewConsoleResultFormatter(log.New(), &out, "/src", ui.Dots, fileLogger)
	require.NoError(t, formatter.FormatResults(createSampleResult()))
	require.NoError(t, fileLogger.Complete())

	summary, err := os.ReadFile(fileLogger.GetSummaryFile())
	require.NoError(t, err)
	assert.Contains(t, string(summary), "Ran 4 tests")
	assert.Equal(t, stripansi.Strip(string(summary)), string(summary))
	assert.NotContains(t, string(summary), "TOTAL", "the table is only printed to the console")
}
