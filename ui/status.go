package ui

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-zest/runner"
)

const (
	clearToEOL = "\033[K"
	cursorUp   = "\033[%dA"
)

// StatusBoard redraws one line per worker slot in place
type StatusBoard struct {
	out   io.Writer
	lines int
}

// NewStatusBoard creates a board writing to out
func NewStatusBoard(out io.Writer) *StatusBoard {
	return &StatusBoard{out: out}
}

// Draw writes the worker lines and moves the cursor back to the first one
func (b *StatusBoard) Draw(workers []runner.WorkerStatus) {
	if len(workers) == 0 {
		return
	}
	for i, w := range workers {
		fmt.Fprint(b.out, WorkerLine(i, w), clearToEOL, "\n")
	}
	fmt.Fprintf(b.out, cursorUp, len(workers))
	b.lines = len(workers)
}

// Clear blanks the lines written by the last Draw
func (b *StatusBoard) Clear() {
	for i := 0; i < b.lines; i++ {
		fmt.Fprint(b.out, clearToEOL, "\n")
	}
	if b.lines > 0 {
		fmt.Fprintf(b.out, cursorUp, b.lines)
	}
	b.lines = 0
}

// WorkerLine formats the status of slot i
func WorkerLine(i int, w runner.WorkerStatus) string {
	if w.Pid == 0 {
		return fmt.Sprintf("%2d: %s", i, text.FgHiBlack.Sprint("NOT STARTED"))
	}
	state := text.FgYellow.Sprintf("%-8s", "RUNNING")
	if w.Idle {
		state = text.FgGreen.Sprintf("%-8s", "DONE")
	}
	name := w.Root
	if w.Last != nil {
		name = w.Last.FullName
	}
	return fmt.Sprintf("%2d: %s %s", i, state, name)
}
