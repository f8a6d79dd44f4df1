package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/op-zest/types"
)

const (
	SummaryFilename = "summary.log"
	AllLogsFilename = "all.log"
	FailedDirname   = "failed"
)

// ResultSink is an interface for different ways of consuming stop records
type ResultSink interface {
	// Consume processes a single stop record
	Consume(rec *types.ResultRecord, runID string) error
	// Complete is called when all records have been consumed
	Complete(runID string) error
}

// FileLogger writes human-readable run artifacts next to the event logs
type FileLogger struct {
	outputFolder string                // Folder shared with the event logs
	failedDir    string                // Directory for per-failure logs
	summaryFile  string                // Path to the summary file
	allLogsFile  string                // Path to the combined log file
	mu           sync.Mutex            // Protects concurrent file operations
	sinks        []ResultSink          // Collection of record consumers
	asyncWriters map[string]*AsyncFile // Map of async file writers
	runID        string                // Current run ID
}

// AsyncFile provides non-blocking file writing capabilities
type AsyncFile struct {
	file    *os.File
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewAsyncFile creates a new AsyncFile for non-blocking writes
func NewAsyncFile(filepath string) (*AsyncFile, error) {
	file, err := os.Create(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", filepath, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 100), // Buffer channel to reduce blocking
	}

	af.wg.Add(1)
	go af.processQueue()

	return af, nil
}

// Write queues data to be written asynchronously
func (af *AsyncFile) Write(data []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return fmt.Errorf("async file is closed")
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	af.queue <- dataCopy
	return nil
}

func (af *AsyncFile) processQueue() {
	defer af.wg.Done()

	for data := range af.queue {
		if _, err := af.file.Write(data); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing to file: %v\n", err)
		}
	}
}

// Close stops the async writer and closes the file
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if !af.stopped {
		af.stopped = true
		close(af.queue)
	}
	af.mu.Unlock()

	af.wg.Wait()
	return af.file.Close()
}

// NewFileLogger creates a FileLogger writing into outputFolder
func NewFileLogger(outputFolder string, runID string) (*FileLogger, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if outputFolder == "" {
		return nil, fmt.Errorf("outputFolder cannot be empty")
	}

	failedDir := filepath.Join(outputFolder, FailedDirname)
	for _, dir := range []string{outputFolder, failedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	logger := &FileLogger{
		outputFolder: outputFolder,
		failedDir:    failedDir,
		summaryFile:  filepath.Join(outputFolder, SummaryFilename),
		allLogsFile:  filepath.Join(outputFolder, AllLogsFilename),
		asyncWriters: make(map[string]*AsyncFile),
		runID:        runID,
	}
	logger.sinks = []ResultSink{
		&AllLogsFileSink{logger: logger},
		&FailedTestFileSink{logger: logger, processed: make(map[string]bool)},
	}
	return logger, nil
}

// getAsyncWriter gets or creates an AsyncFile for the given path
func (l *FileLogger) getAsyncWriter(path string) (*AsyncFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if writer, exists := l.asyncWriters[path]; exists {
		return writer, nil
	}

	writer, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}
	l.asyncWriters[path] = writer
	return writer, nil
}

func (l *FileLogger) closeAllWriters() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, writer := range l.asyncWriters {
		_ = writer.Close()
	}
	l.asyncWriters = make(map[string]*AsyncFile)
}

// LogRecord feeds a record to all sinks. Start records are ignored.
func (l *FileLogger) LogRecord(rec *types.ResultRecord) error {
	if rec == nil || rec.IsRunning {
		return nil
	}
	for _, sink := range l.sinks {
		if err := sink.Consume(rec, l.runID); err != nil {
			return fmt.Errorf("error in sink: %w", err)
		}
	}
	return nil
}

// LogSummary writes the run summary to summary.log with colors removed
func (l *FileLogger) LogSummary(summary string) error {
	writer, err := l.getAsyncWriter(l.summaryFile)
	if err != nil {
		return err
	}
	return writer.Write([]byte(stripansi.Strip(summary)))
}

// Complete finalizes all sinks and closes all file writers
func (l *FileLogger) Complete() error {
	for _, sink := range l.sinks {
		if err := sink.Complete(l.runID); err != nil {
			return fmt.Errorf("error completing sink: %w", err)
		}
	}
	l.closeAllWriters()
	return nil
}

// GetRunID returns the current runID
func (l *FileLogger) GetRunID() string {
	return l.runID
}

// GetOutputFolder returns the folder this logger writes to
func (l *FileLogger) GetOutputFolder() string {
	return l.outputFolder
}

// GetFailedDir returns the directory containing logs for failed zests
func (l *FileLogger) GetFailedDir() string {
	return l.failedDir
}

// GetSummaryFile returns the path to the summary file
func (l *FileLogger) GetSummaryFile() string {
	return l.summaryFile
}

// GetAllLogsFile returns the path to the all logs file
func (l *FileLogger) GetAllLogsFile() string {
	return l.allLogsFile
}

// safeFilename converts a string to a safe filename by replacing problematic characters
func safeFilename(s string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", " ", "_",
	)
	return replacer.Replace(s)
}

// AllLogsFileSink writes every stop record to a single "all.log" file
type AllLogsFileSink struct {
	logger *FileLogger
}

// Consume writes a stop record to the all.log file
func (s *AllLogsFileSink) Consume(rec *types.ResultRecord, runID string) error {
	writer, err := s.logger.getAsyncWriter(s.logger.allLogsFile)
	if err != nil {
		return err
	}

	var content strings.Builder
	fmt.Fprintf(&content, "\n")
	fmt.Fprintf(&content, "┌─────────────────────────────────────────────────────────────────────┐\n")
	fmt.Fprintf(&content, "│ ZEST: %-64s │\n", truncateString(rec.FullName, 64))
	fmt.Fprintf(&content, "├─────────────────────────────────────────────────────────────────────┤\n")
	fmt.Fprintf(&content, "│ Status:   %-62s │\n", rec.Status())
	fmt.Fprintf(&content, "│ Worker:   %-62s │\n", workerLabel(rec))
	fmt.Fprintf(&content, "│ Duration: %-62s │\n", formatDuration(rec.Duration()))
	if rec.Skip != "" {
		fmt.Fprintf(&content, "│ Skip:     %-62s │\n", truncateString(rec.Skip, 62))
	}
	fmt.Fprintf(&content, "└─────────────────────────────────────────────────────────────────────┘\n")

	if rec.Error != nil {
		fmt.Fprintf(&content, "ERROR:\n")
		fmt.Fprintf(&content, "~~~~~~\n")
		fmt.Fprintf(&content, "%s\n", indentText(rec.Error.Formatted(), "  "))
	}

	return writer.Write([]byte(content.String()))
}

// Complete is a no-op for AllLogsFileSink
func (s *AllLogsFileSink) Complete(runID string) error {
	return nil
}

// FailedTestFileSink writes one log file per failed zest into failed/
type FailedTestFileSink struct {
	logger *FileLogger

	mu        sync.Mutex
	processed map[string]bool
}

// Consume writes the failure report of a failed stop record
func (s *FailedTestFileSink) Consume(rec *types.ResultRecord, runID string) error {
	if rec.Error == nil {
		return nil
	}

	s.mu.Lock()
	if s.processed[rec.FullName] {
		s.mu.Unlock()
		return nil
	}
	s.processed[rec.FullName] = true
	s.mu.Unlock()

	path := filepath.Join(s.logger.failedDir, safeFilename(rec.FullName)+".log")
	var content strings.Builder
	fmt.Fprintf(&content, "ZEST: %s\n", rec.FullName)
	fmt.Fprintf(&content, "RUN: %s\n", runID)
	fmt.Fprintf(&content, "WORKER: %s\n", workerLabel(rec))
	fmt.Fprintf(&content, "DURATION: %s\n", formatDuration(rec.Duration()))
	fmt.Fprintf(&content, "CALL STACK: %s\n\n", strings.Join(rec.CallStack, " > "))
	fmt.Fprintf(&content, "%s\n", rec.Error.Formatted())

	if err := os.WriteFile(path, []byte(content.String()), 0644); err != nil {
		return fmt.Errorf("failed to write failure log %s: %w", path, err)
	}
	return nil
}

// Complete is a no-op for FailedTestFileSink
func (s *FailedTestFileSink) Complete(runID string) error {
	return nil
}

func workerLabel(rec *types.ResultRecord) string {
	if rec.WorkerIndex == types.UnassignedWorker {
		return fmt.Sprintf("pid %d", rec.Pid)
	}
	return fmt.Sprintf("%d (pid %d)", rec.WorkerIndex, rec.Pid)
}

// indentText adds indentation to each line of text for better readability
func indentText(text, indent string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = indent + line
		}
	}
	return strings.Join(lines, "\n")
}

// truncateString truncates a string to the specified max length
// and adds an ellipsis if needed
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}
