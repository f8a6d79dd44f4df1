package runner

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ethereum-optimism/infra/op-zest/types"
)

// WorkOrder asks a worker to run one root
type WorkOrder struct {
	FullName       string   `json:"full_name"`
	ModuleLocator  string   `json:"module_locator"`
	OutputFolder   string   `json:"output_folder"`
	Capture        bool     `json:"capture"`
	RunAll         bool     `json:"run_all"`
	AllowToRun     []string `json:"allow_to_run,omitempty"`
	DisableShuffle bool     `json:"disable_shuffle"`
	BypassSkip     []string `json:"bypass_skip,omitempty"`
	Seed           int64    `json:"seed"`
}

// MessageKind identifies what a worker message carries
type MessageKind string

const (
	// MessageRecord carries one start or stop record
	MessageRecord MessageKind = "record"
	// MessageDone ends a work order and carries its warnings
	MessageDone MessageKind = "done"
	// MessageFault ends a work order that could not be run to completion
	MessageFault MessageKind = "fault"
	// MessageExit is the last message of a worker
	MessageExit MessageKind = "exit"
)

// Message is what workers put on the shared queue
type Message struct {
	Kind     MessageKind         `json:"kind"`
	Pid      int                 `json:"pid"`
	Root     string              `json:"root,omitempty"`
	Record   *types.ResultRecord `json:"record,omitempty"`
	Warnings []string            `json:"warnings,omitempty"`
	Fault    *WorkerFault        `json:"fault,omitempty"`
}

// WorkerFault describes a work order that failed outside of any zest
type WorkerFault struct {
	Root   string           `json:"root"`
	Pid    int              `json:"pid"`
	Error  *types.ErrorInfo `json:"error"`
	Output string           `json:"output,omitempty"` // tail of the worker's stdout/stderr
}

func (f *WorkerFault) String() string {
	return fmt.Sprintf("worker %d failed running '%s': %v", f.Pid, f.Root, f.Error)
}

// stackFramer is implemented by errors that carry the frames they were
// raised from
type stackFramer interface {
	StackFrames() []string
}

func newFault(root string, pid int, className string, err error) *WorkerFault {
	info := &types.ErrorInfo{ClassName: className, Message: err.Error()}
	var sf stackFramer
	if errors.As(err, &sf) {
		info.Frames = sf.StackFrames()
	}
	return &WorkerFault{
		Root:  root,
		Pid:   pid,
		Error: info,
	}
}

// lineEncoder writes values as JSON lines. Concurrent writers never
// interleave within a line.
type lineEncoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newLineEncoder(w io.Writer) *lineEncoder {
	return &lineEncoder{enc: json.NewEncoder(w)}
}

func (e *lineEncoder) Encode(v any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(v)
}

// lineDecoder reads JSON values written by a lineEncoder
type lineDecoder struct {
	dec *json.Decoder
}

func newLineDecoder(r io.Reader) *lineDecoder {
	return &lineDecoder{dec: json.NewDecoder(bufio.NewReader(r))}
}

func (d *lineDecoder) Decode(v any) error {
	if err := d.dec.Decode(v); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return io.EOF
		}
		return err
	}
	return nil
}

// validate rejects messages that cannot be attributed
func (m *Message) validate() error {
	switch m.Kind {
	case MessageRecord:
		if m.Record == nil {
			return errors.New("record message without record")
		}
	case MessageFault:
		if m.Fault == nil {
			return errors.New("fault message without fault")
		}
	case MessageDone, MessageExit:
	default:
		return fmt.Errorf("unknown message kind '%s'", m.Kind)
	}
	return nil
}
