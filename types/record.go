package types

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"
)

// UnassignedWorker marks a record whose worker slot is not known yet
const UnassignedWorker = -1

// maxRecordLineBytes bounds a single encoded record; long tracebacks fit comfortably
const maxRecordLineBytes = 4 * 1024 * 1024

// ErrorInfo is the structured, serializable form of a failure
type ErrorInfo struct {
	ClassName string   `json:"class_name"`
	Message   string   `json:"message"`
	Frames    []string `json:"formatted_frames,omitempty"`
}

func (e *ErrorInfo) Error() string {
	if e.Message == "" {
		return e.ClassName
	}
	return fmt.Sprintf("%s: %s", e.ClassName, e.Message)
}

// Formatted renders the error with its frames, one per line
func (e *ErrorInfo) Formatted() string {
	var sb strings.Builder
	for _, frame := range e.Frames {
		sb.WriteString(frame)
		sb.WriteString("\n")
	}
	sb.WriteString(e.Error())
	return sb.String()
}

// ResultRecord is the life-cycle event emitted when a zest starts or stops.
// Records are not modified once emitted; the only exception is WorkerIndex,
// which the coordinator stamps on the copy it decoded.
type ResultRecord struct {
	FullName    string     `json:"full_name"`
	ShortName   string     `json:"short_name"`
	CallStack   []string   `json:"call_stack"`
	IsRunning   bool       `json:"is_running"`
	Error       *ErrorInfo `json:"error,omitempty"`
	Elapsed     float64    `json:"elapsed"`
	Skip        string     `json:"skip,omitempty"`
	Pid         int        `json:"pid,omitempty"`
	WorkerIndex int        `json:"worker_index"`
}

// NewStartRecord creates the record emitted when a zest begins
func NewStartRecord(fullName string, callStack []string, pid int) *ResultRecord {
	return &ResultRecord{
		FullName:    fullName,
		ShortName:   ShortName(fullName),
		CallStack:   snapshot(callStack),
		IsRunning:   true,
		Pid:         pid,
		WorkerIndex: UnassignedWorker,
	}
}

// NewStopRecord creates the record emitted when a zest ends
func NewStopRecord(fullName string, callStack []string, pid int, elapsed time.Duration, skip string, errInfo *ErrorInfo) *ResultRecord {
	return &ResultRecord{
		FullName:    fullName,
		ShortName:   ShortName(fullName),
		CallStack:   snapshot(callStack),
		IsRunning:   false,
		Error:       errInfo,
		Elapsed:     elapsed.Seconds(),
		Skip:        skip,
		Pid:         pid,
		WorkerIndex: UnassignedWorker,
	}
}

func snapshot(stack []string) []string {
	cp := make([]string, len(stack))
	copy(cp, stack)
	return cp
}

// Status derives the test status carried by this record
func (r *ResultRecord) Status() TestStatus {
	switch {
	case r.IsRunning:
		return TestStatusRunning
	case r.Skip != "":
		return TestStatusSkip
	case r.Error != nil:
		return TestStatusFail
	default:
		return TestStatusPass
	}
}

// Duration returns Elapsed as a time.Duration
func (r *ResultRecord) Duration() time.Duration {
	return time.Duration(math.Round(r.Elapsed * float64(time.Second)))
}

// Depth returns the nesting depth of the record (0 for a root)
func (r *ResultRecord) Depth() int {
	if len(r.CallStack) == 0 {
		return 0
	}
	return len(r.CallStack) - 1
}

// EncodeRecord serializes a record as one newline-terminated line
func EncodeRecord(r *ResultRecord) ([]byte, error) {
	if r == nil {
		return nil, errors.New("cannot encode nil record")
	}
	line, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record %s: %w", r.FullName, err)
	}
	return append(line, '\n'), nil
}

// DecodeRecord parses one encoded line. Surrounding whitespace is ignored.
func DecodeRecord(line []byte) (*ResultRecord, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, errors.New("empty record line")
	}
	r := &ResultRecord{WorkerIndex: UnassignedWorker}
	if err := json.Unmarshal(line, r); err != nil {
		return nil, fmt.Errorf("malformed record line: %w", err)
	}
	if r.FullName == "" {
		return nil, errors.New("record line has no full_name")
	}
	if r.ShortName == "" {
		r.ShortName = ShortName(r.FullName)
	}
	return r, nil
}

// DecodeWarning describes a line that could not be decoded
type DecodeWarning struct {
	Line int
	Err  error
}

func (w DecodeWarning) String() string {
	return fmt.Sprintf("line %d: %v", w.Line, w.Err)
}

// RecordReader decodes newline-delimited records from a stream. Malformed
// lines, including a trailing line with no newline, are reported through
// the warning callback and skipped.
type RecordReader struct {
	reader *bufio.Reader
	line   int
	onWarn func(DecodeWarning)
}

// NewRecordReader creates a reader over r. onWarn may be nil.
func NewRecordReader(r io.Reader, onWarn func(DecodeWarning)) *RecordReader {
	return &RecordReader{
		reader: bufio.NewReaderSize(r, 64*1024),
		onWarn: onWarn,
	}
}

// Next returns the next valid record, or io.EOF when the stream is exhausted
func (rr *RecordReader) Next() (*ResultRecord, error) {
	for {
		raw, err := readLine(rr.reader)
		if len(raw) > 0 {
			rr.line++
			complete := raw[len(raw)-1] == '\n'
			if !complete {
				rr.warn(errors.New("truncated record line"))
			} else if len(bytes.TrimSpace(raw)) > 0 {
				rec, decErr := DecodeRecord(raw)
				if decErr == nil {
					return rec, nil
				}
				rr.warn(decErr)
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

func (rr *RecordReader) warn(err error) {
	if rr.onWarn != nil {
		rr.onWarn(DecodeWarning{Line: rr.line, Err: err})
	}
}

// readLine reads through the next newline. Lines longer than the limit are
// consumed and returned without their newline so the caller rejects them.
func readLine(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	overflow := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !overflow && len(buf)+len(chunk) <= maxRecordLineBytes {
			buf = append(buf, chunk...)
		} else {
			overflow = true
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if overflow {
			return bytes.TrimRight(buf, "\n"), err
		}
		return buf, err
	}
}

// ReadAllRecords decodes every valid record from r
func ReadAllRecords(r io.Reader) ([]*ResultRecord, []DecodeWarning, error) {
	var warnings []DecodeWarning
	reader := NewRecordReader(r, func(w DecodeWarning) {
		warnings = append(warnings, w)
	})

	var records []*ResultRecord
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return records, warnings, nil
		}
		if err != nil {
			return records, warnings, err
		}
		records = append(records, rec)
	}
}
