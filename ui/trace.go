package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-zest/engine"
	"github.com/ethereum-optimism/infra/op-zest/types"
)

// Verbosity selects how much the trace display prints
type Verbosity int

const (
	Silent    Verbosity = 0 // nothing
	Dots      Verbosity = 1 // one character per finished zest
	Trace     Verbosity = 2 // one line per zest, indented by depth
	FullTrace Verbosity = 3 // trace plus filtered zests, workers and inline errors
)

var (
	colorName    = text.Colors{text.FgYellow}
	colorPass    = text.Colors{text.FgGreen}
	colorFail    = text.Colors{text.Bold, text.FgRed}
	colorSkip    = text.Colors{text.Bold, text.FgYellow}
	colorElapsed = text.Colors{text.FgHiBlack}
)

// TraceDisplay renders zest start/stop events as they happen. It is an
// engine.Hooks and only makes sense when events arrive from one tree at a
// time, i.e. in-process runs.
type TraceDisplay struct {
	mu        sync.Mutex
	out       io.Writer
	verbosity Verbosity

	// pending is a started zest whose line is not written yet. Writing is
	// deferred so filtered zests can be dropped entirely.
	pending *types.ResultRecord
	dots    int
}

var _ engine.Hooks = (*TraceDisplay)(nil)

// NewTraceDisplay creates a display writing to out
func NewTraceDisplay(out io.Writer, verbosity Verbosity) *TraceDisplay {
	return &TraceDisplay{out: out, verbosity: verbosity}
}

func (d *TraceDisplay) OnTestStart(rec *types.ResultRecord) {
	if d.verbosity < Trace {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	// a child started, so the pending parent gets a line of its own
	if d.pending != nil {
		d.writeName(d.pending)
		fmt.Fprint(d.out, "\n")
	}
	d.pending = rec
}

func (d *TraceDisplay) OnTestStop(rec *types.ResultRecord) {
	if d.verbosity == Silent {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	filtered := rec.Skip == engine.SkipReasonFiltered
	if d.verbosity == Dots {
		if !filtered {
			fmt.Fprint(d.out, dot(rec))
			d.dots++
		}
		return
	}

	if d.pending != nil && d.pending.FullName == rec.FullName {
		d.pending = nil
		if filtered && d.verbosity < FullTrace {
			return
		}
		d.writeName(rec)
	} else {
		fmt.Fprint(d.out, Indent(rec.Depth()))
	}
	fmt.Fprint(d.out, d.status(rec), "\n")

	if d.verbosity >= FullTrace && rec.Error != nil {
		for _, line := range strings.Split(rec.Error.Error(), "\n") {
			fmt.Fprint(d.out, Indent(rec.Depth()+1), colorFail.Sprint(line), "\n")
		}
	}
}

// Finish terminates a line of dots
func (d *TraceDisplay) Finish() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dots > 0 {
		fmt.Fprint(d.out, "\n")
		d.dots = 0
	}
}

func (d *TraceDisplay) writeName(rec *types.ResultRecord) {
	fmt.Fprint(d.out, Indent(rec.Depth()), colorName.Sprint(rec.ShortName), ": ")
}

func (d *TraceDisplay) status(rec *types.ResultRecord) string {
	var s string
	switch rec.Status() {
	case types.TestStatusSkip:
		s = colorSkip.Sprint("SKIPPED ") + rec.Skip
	case types.TestStatusFail:
		s = colorFail.Sprint("ERROR") + colorElapsed.Sprintf(" (in %d ms)", rec.Duration().Milliseconds())
	default:
		s = colorPass.Sprint("SUCCESS") + colorElapsed.Sprintf(" (in %d ms)", rec.Duration().Milliseconds())
	}
	if d.verbosity >= FullTrace && rec.WorkerIndex != types.UnassignedWorker {
		s += colorElapsed.Sprintf(" [worker %d]", rec.WorkerIndex)
	}
	return s
}

func dot(rec *types.ResultRecord) string {
	switch rec.Status() {
	case types.TestStatusFail:
		return colorFail.Sprint("F")
	case types.TestStatusSkip:
		return colorSkip.Sprint("s")
	default:
		return colorPass.Sprint(".")
	}
}
