package reporting

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-zest/engine"
	"github.com/ethereum-optimism/infra/op-zest/logging"
	"github.com/ethereum-optimism/infra/op-zest/runner"
	"github.com/ethereum-optimism/infra/op-zest/types"
	"github.com/ethereum-optimism/infra/op-zest/ui"
)

// DefaultWidth is used for rule headers when the terminal width is unknown
const DefaultWidth = 100

var (
	colorError   = text.Colors{text.FgRed}
	colorLeaf    = text.Colors{text.Bold, text.FgRed}
	colorFunc    = text.Colors{text.Bold, text.FgMagenta}
	colorFile    = text.Colors{text.FgYellow}
	colorLib     = text.Colors{text.FgHiBlack}
	colorWarning = text.Colors{text.FgYellow}
	colorSuccess = text.Colors{text.FgGreen}
)

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

// ReportFormatter defines the interface for rendering ReportData
type ReportFormatter interface {
	Format(data *ReportData) (string, error)
}

// ReportWriter defines the interface for writing reports to various destinations
type ReportWriter interface {
	Write(content string) error
}

// FileWriter writes reports to a file
type FileWriter struct {
	path string
}

// NewFileWriter creates a new file writer
func NewFileWriter(path string) *FileWriter {
	return &FileWriter{path: path}
}

// Write writes the content to the file
func (fw *FileWriter) Write(content string) error {
	return os.WriteFile(fw.path, []byte(content), 0644)
}

// StdoutWriter writes reports to stdout
type StdoutWriter struct{}

// NewStdoutWriter creates a new stdout writer
func NewStdoutWriter() *StdoutWriter {
	return &StdoutWriter{}
}

// Write writes the content to stdout
func (sw *StdoutWriter) Write(content string) error {
	_, err := fmt.Print(content)
	return err
}

// StreamWriter writes reports to an io.Writer
type StreamWriter struct {
	w io.Writer
}

func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{w: w}
}

func (sw *StreamWriter) Write(content string) error {
	_, err := io.WriteString(sw.w, content)
	return err
}

// SummaryWriter appends reports to the run's summary.log, colors removed
type SummaryWriter struct {
	logger *logging.FileLogger
}

// NewSummaryWriter creates a writer backed by a FileLogger
func NewSummaryWriter(logger *logging.FileLogger) *SummaryWriter {
	return &SummaryWriter{logger: logger}
}

func (w *SummaryWriter) Write(content string) error {
	return w.logger.LogSummary(content)
}

// MultiWriter writes the same report to several writers, stopping at the
// first error
type MultiWriter []ReportWriter

func (m MultiWriter) Write(content string) error {
	for _, w := range m {
		if err := w.Write(content); err != nil {
			return err
		}
	}
	return nil
}

// TextSummaryFormatter renders failures, the run outcome, the slowest zests
// and warnings
type TextSummaryFormatter struct {
	// ProjectRoot marks frames under it as user code; others are dimmed
	ProjectRoot    string
	Width          int
	IncludeSlowest bool
}

// NewTextSummaryFormatter creates a formatter for the end-of-run summary
func NewTextSummaryFormatter(projectRoot string, includeSlowest bool) *TextSummaryFormatter {
	return &TextSummaryFormatter{
		ProjectRoot:    projectRoot,
		Width:          DefaultWidth,
		IncludeSlowest: includeSlowest,
	}
}

func (f *TextSummaryFormatter) Format(data *ReportData) (string, error) {
	var buf bytes.Buffer

	for _, reportErr := range data.Errors {
		f.writeError(&buf, reportErr)
	}
	for _, fault := range data.Faults {
		f.writeFault(&buf, fault.Root, fault.Pid, fault.Error, fault.Output)
	}

	fmt.Fprintf(&buf, "\nRan %d tests", data.Ran)
	if data.Workers > 1 {
		fmt.Fprintf(&buf, " on %d workers", data.Workers)
	}
	fmt.Fprintf(&buf, " in %s. ", formatDuration(data.Duration))
	failures := len(data.Errors) + len(data.Faults)
	switch {
	case data.Interrupted:
		buf.WriteString(colorError.Sprint("INTERRUPTED") + "\n")
	case failures > 0:
		buf.WriteString(colorLeaf.Sprintf("%d ERROR(s)", failures) + "\n")
	case data.Retcode != 0:
		buf.WriteString(colorLeaf.Sprint("FAILED") + "\n")
	default:
		buf.WriteString(colorSuccess.Sprint("SUCCESS") + "\n")
	}

	if f.IncludeSlowest && len(data.Slowest) > 0 {
		buf.WriteString("Slowest 5%\n")
		for _, node := range data.Slowest {
			fmt.Fprintf(&buf, "  %s %s\n", node.FullName, colorLib.Sprintf("%d ms", node.Duration.Milliseconds()))
		}
	}

	for _, warning := range data.Warnings {
		buf.WriteString(colorWarning.Sprint(warning) + "\n")
	}
	for _, warning := range data.DecodeWarnings {
		buf.WriteString(colorWarning.Sprint("event log: "+warning) + "\n")
	}
	return buf.String(), nil
}

func (f *TextSummaryFormatter) writeError(buf *bytes.Buffer, reportErr ReportError) {
	names := make([]string, len(reportErr.Stack))
	for i, full := range reportErr.Stack {
		names[i] = types.ShortName(full)
	}
	label := strings.Join(names, " . ")
	if reportErr.WorkerIndex != types.UnassignedWorker {
		label += fmt.Sprintf(" [worker %d]", reportErr.WorkerIndex)
	}
	leaf := ""
	if len(names) > 0 {
		leaf = names[len(names)-1]
	}
	f.writeHeader(buf, label)
	f.writeFrames(buf, reportErr.Error, leaf)
	f.writeRaised(buf, reportErr.Error)
}

func (f *TextSummaryFormatter) writeFault(buf *bytes.Buffer, root string, pid int, errInfo *types.ErrorInfo, output string) {
	f.writeHeader(buf, fmt.Sprintf("%s (worker pid %d)", root, pid))
	f.writeFrames(buf, errInfo, "")
	f.writeRaised(buf, errInfo)
	if output != "" {
		buf.WriteString(colorLib.Sprint(ui.BuildRuleHeader("worker output", ui.RuleLight, f.Width)) + "\n")
		buf.WriteString(strings.TrimRight(output, "\n") + "\n")
	}
}

func (f *TextSummaryFormatter) writeHeader(buf *bytes.Buffer, label string) {
	buf.WriteString("\n" + colorError.Sprint(ui.BuildRuleHeader(label, ui.RuleHeavy, f.Width)) + "\n")
}

// writeFrames prints the stack outermost first, user code highlighted
func (f *TextSummaryFormatter) writeFrames(buf *bytes.Buffer, errInfo *types.ErrorInfo, leaf string) {
	if errInfo == nil {
		return
	}
	for i := len(errInfo.Frames) - 1; i >= 0; i-- {
		file, line, fn, ok := splitFrame(errInfo.Frames[i])
		if !ok {
			buf.WriteString(errInfo.Frames[i] + "\n")
			continue
		}
		if !f.isUserCode(file) {
			buf.WriteString(colorLib.Sprintf("File %s:%s in function %s", file, line, fn) + "\n")
			continue
		}
		dir, base := filepath.Split(f.relative(file))
		fnColor := colorFunc
		if leaf != "" && strings.HasSuffix(fn, leaf) {
			fnColor = colorLeaf
		}
		fmt.Fprintf(buf, "File %s%s:%s in function %s\n",
			colorFile.Sprint(dir), colorLeaf.Sprint(base), colorFile.Sprint(line), fnColor.Sprint(fn))
	}
}

func (f *TextSummaryFormatter) writeRaised(buf *bytes.Buffer, errInfo *types.ErrorInfo) {
	if errInfo == nil {
		return
	}
	buf.WriteString(colorError.Sprint("raised: ") + colorLeaf.Sprint(errInfo.ClassName) + "\n")
	if msg := strings.TrimSpace(errInfo.Message); msg != "" {
		buf.WriteString(colorError.Sprint(msg) + "\n")
	}
}

func (f *TextSummaryFormatter) isUserCode(file string) bool {
	if f.ProjectRoot == "" {
		return true
	}
	rel, err := filepath.Rel(f.ProjectRoot, file)
	return err == nil && !strings.HasPrefix(rel, "..")
}

func (f *TextSummaryFormatter) relative(file string) string {
	if f.ProjectRoot == "" {
		return file
	}
	if rel, err := filepath.Rel(f.ProjectRoot, file); err == nil {
		return "./" + rel
	}
	return file
}

// splitFrame parses "file:line in function"
func splitFrame(frame string) (file, line, fn string, ok bool) {
	loc, fn, found := strings.Cut(frame, " in ")
	if !found {
		return "", "", "", false
	}
	idx := strings.LastIndex(loc, ":")
	if idx <= 0 {
		return "", "", "", false
	}
	return loc[:idx], loc[idx+1:], fn, true
}

// TreeTableFormatter renders the result tree as a table
type TreeTableFormatter struct {
	title        string
	maxDepth     int // -1 shows every level
	showWorkers  bool
	hideFiltered bool
}

// NewTreeTableFormatter creates a new tree-based table formatter
func NewTreeTableFormatter(title string, maxDepth int, showWorkers bool) *TreeTableFormatter {
	return &TreeTableFormatter{
		title:        title,
		maxDepth:     maxDepth,
		showWorkers:  showWorkers,
		hideFiltered: true,
	}
}

// Format formats the result tree as an ASCII table
func (f *TreeTableFormatter) Format(data *ReportData) (string, error) {
	tree := data.Tree
	if tree == nil {
		return "", fmt.Errorf("report has no result tree")
	}

	var buf bytes.Buffer
	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle(f.title)

	headers := table.Row{"ID", "DURATION", "ZESTS", "PASSED", "FAILED", "SKIPPED", "STATUS"}
	if f.showWorkers {
		headers = append(headers, "WORKER")
	}
	t.AppendHeader(headers)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "ID", WidthMax: 120, WidthMaxEnforcer: text.WrapSoft},
		{Name: "DURATION", Align: text.AlignRight},
		{Name: "ZESTS", Align: text.AlignRight},
		{Name: "PASSED", Align: text.AlignRight},
		{Name: "FAILED", Align: text.AlignRight},
		{Name: "SKIPPED", Align: text.AlignRight},
		{Name: "WORKER", Align: text.AlignRight},
	})

	tree.Walk(func(node *types.ResultTreeNode) bool {
		if f.maxDepth >= 0 && node.Depth > f.maxDepth {
			return true
		}
		if f.hideFiltered && node.Skip == engine.SkipReasonFiltered {
			return true
		}
		f.addNodeRow(t, node)
		return true
	})

	switch tree.Stats.Status {
	case types.TestStatusFail:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case types.TestStatusSkip:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	case types.TestStatusPass:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	default:
		t.SetStyle(table.StyleDefault)
	}

	footer := table.Row{
		"TOTAL",
		formatDuration(data.Duration),
		tree.Stats.Total,
		tree.Stats.Passed,
		tree.Stats.Failed,
		tree.Stats.Skipped,
		strings.ToUpper(string(data.Status)),
	}
	if f.showWorkers {
		footer = append(footer, data.Workers)
	}
	t.AppendFooter(footer)

	t.Render()
	return buf.String(), nil
}

func (f *TreeTableFormatter) addNodeRow(t table.Writer, node *types.ResultTreeNode) {
	stats := node.Stats()
	row := table.Row{
		treePrefix(node) + node.Name,
		formatDuration(node.Duration),
		stats.Total,
		stats.Passed,
		stats.Failed,
		stats.Skipped,
		strings.ToUpper(string(node.Status)),
	}
	if f.showWorkers {
		worker := "-"
		if node.WorkerIndex != types.UnassignedWorker {
			worker = fmt.Sprintf("%d", node.WorkerIndex)
		}
		row = append(row, worker)
	}
	t.AppendRow(row)
}

// treePrefix builds the box-drawing prefix of a node from its ancestors
func treePrefix(node *types.ResultTreeNode) string {
	if node.Depth == 0 {
		return ""
	}
	var parentIsLast []bool
	for p := node.Parent; p != nil && p.Depth > 0; p = p.Parent {
		parentIsLast = append([]bool{isLastSibling(p)}, parentIsLast...)
	}
	return ui.BuildTreePrefix(node.Depth, isLastSibling(node), parentIsLast)
}

func isLastSibling(node *types.ResultTreeNode) bool {
	if node.Parent == nil {
		return true
	}
	siblings := node.Parent.Children
	return len(siblings) == 0 || siblings[len(siblings)-1] == node
}

// ReportGenerator builds, formats and writes a report in one call
type ReportGenerator struct {
	builder    *ReportBuilder
	formatters []ReportFormatter
	writer     ReportWriter
}

// NewReportGenerator creates a generator running every formatter in order
func NewReportGenerator(builder *ReportBuilder, writer ReportWriter, formatters ...ReportFormatter) *ReportGenerator {
	return &ReportGenerator{builder: builder, formatters: formatters, writer: writer}
}

// GenerateFromRunnerResult builds the report data and generates the report
func (rg *ReportGenerator) GenerateFromRunnerResult(result *runner.RunnerResult) error {
	return rg.Generate(rg.builder.BuildFromRunnerResult(result))
}

// Generate renders data with every formatter and writes the concatenation
func (rg *ReportGenerator) Generate(data *ReportData) error {
	var sb strings.Builder
	for _, f := range rg.formatters {
		content, err := f.Format(data)
		if err != nil {
			return fmt.Errorf("failed to format report: %w", err)
		}
		sb.WriteString(content)
	}
	if err := rg.writer.Write(sb.String()); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
