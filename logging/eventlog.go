package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum-optimism/infra/op-zest/types"
)

// EventLogExt is the extension of the per-root event log files
const EventLogExt = ".evt"

// EventLogPath returns the event log path of root inside outputFolder
func EventLogPath(outputFolder, root string) string {
	return filepath.Join(outputFolder, root+EventLogExt)
}

// EventLog is the durable, single-writer record log of one root. Every record
// goes to the file in a single unbuffered write, so a crash can only lose the
// line being written and never corrupts earlier ones.
type EventLog struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// OpenEventLog truncates and opens the event log of root for appending
func OpenEventLog(outputFolder, root string) (*EventLog, error) {
	if outputFolder == "" {
		return nil, errors.New("output folder cannot be empty")
	}
	if root == "" {
		return nil, errors.New("root name cannot be empty")
	}
	if err := os.MkdirAll(outputFolder, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output folder %s: %w", outputFolder, err)
	}

	path := EventLogPath(outputFolder, root)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log %s: %w", path, err)
	}
	return &EventLog{path: path, file: file}, nil
}

// Path returns the file backing this log
func (l *EventLog) Path() string {
	return l.path
}

// Emit appends one record
func (l *EventLog) Emit(rec *types.ResultRecord) error {
	line, err := types.EncodeRecord(rec)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("event log %s is closed", l.path)
	}
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("failed to write event log %s: %w", l.path, err)
	}
	return nil
}

// Close closes the log. It is safe to call more than once.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReplayEventLog reads back every valid record of an event log
func ReplayEventLog(path string) ([]*types.ResultRecord, []types.DecodeWarning, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open event log %s: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()
	return types.ReadAllRecords(file)
}

// ListEventLogs returns the event log files in outputFolder, sorted by name
func ListEventLogs(outputFolder string) ([]string, error) {
	entries, err := os.ReadDir(outputFolder)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read output folder %s: %w", outputFolder, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), EventLogExt) {
			continue
		}
		paths = append(paths, filepath.Join(outputFolder, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// FailedFromEventLogs returns the full names of every zest that recorded an
// error in the event logs of a previous run, sorted and de-duplicated
func FailedFromEventLogs(outputFolder string) ([]string, []types.DecodeWarning, error) {
	paths, err := ListEventLogs(outputFolder)
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[string]struct{})
	var warnings []types.DecodeWarning
	for _, path := range paths {
		records, warns, err := ReplayEventLog(path)
		if err != nil {
			return nil, warnings, err
		}
		warnings = append(warnings, warns...)
		for _, rec := range records {
			if !rec.IsRunning && rec.Error != nil {
				seen[rec.FullName] = struct{}{}
			}
		}
	}

	failed := make([]string, 0, len(seen))
	for name := range seen {
		failed = append(failed, name)
	}
	sort.Strings(failed)
	return failed, warnings, nil
}
