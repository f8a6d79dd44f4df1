package engine

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/ethereum-optimism/infra/op-zest/types"
)

// frame collects what a body declares while it runs
type frame struct {
	children []*TestNode
	names    map[string]struct{}
	done     bool
	closed   bool
	before   []func(z *Z)
	after    []func(z *Z)
}

func newFrame() *frame {
	return &frame{names: make(map[string]struct{})}
}

// Z is handed to every zest body. It declares children, reports failures and
// gives access to the run context. A Z must not be used after its body has
// returned.
type Z struct {
	ctx   context.Context
	node  *TestNode
	frame *frame
	state *RunState

	failure *types.ErrorInfo
}

// Context returns the context of the run
func (z *Z) Context() context.Context {
	return z.ctx
}

// Name returns the local name of the running zest
func (z *Z) Name() string {
	return z.node.ShortName()
}

// FullName returns the dot-delimited name of the running zest
func (z *Z) FullName() string {
	return z.node.FullName
}

// It declares a child zest. Children run after the body returns, and only if
// the body ended with Done.
func (z *Z) It(name string, body func(z *Z), opts ...NodeOption) {
	_, file, line, _ := runtime.Caller(1)
	source := types.SourceLocation{File: file, Line: line}

	if z.frame.closed {
		z.state.Warn(fmt.Sprintf("zest '%s' (@ %s) declared child '%s' after its body returned", z.node.FullName, source, name))
		return
	}
	if err := types.ValidateLocalName(name); err != nil {
		z.state.Warn(fmt.Sprintf("zest '%s' (@ %s): %v", z.node.FullName, source, err))
		return
	}
	if _, dup := z.frame.names[name]; dup {
		z.state.Warn(fmt.Sprintf("zest '%s' (@ %s) declared child '%s' more than once", z.node.FullName, source, name))
		return
	}
	z.frame.names[name] = struct{}{}
	z.frame.children = append(z.frame.children, NewTestNode(types.JoinFullName(z.node.FullName, name), body, source, opts...))
}

// Done terminates the declaration of children. Without it, declared children
// are not executed and a warning is recorded.
func (z *Z) Done() {
	if z.frame.closed {
		z.warnClosed("Done()")
		return
	}
	z.frame.done = true
}

// BeforeEach registers fn to run before the body of each child
func (z *Z) BeforeEach(fn func(z *Z)) {
	if z.frame.closed {
		z.warnClosed("BeforeEach()")
		return
	}
	z.frame.before = append(z.frame.before, fn)
}

// AfterEach registers fn to run after each child and its subtree
func (z *Z) AfterEach(fn func(z *Z)) {
	if z.frame.closed {
		z.warnClosed("AfterEach()")
		return
	}
	z.frame.after = append(z.frame.after, fn)
}

func (z *Z) warnClosed(call string) {
	_, file, line, _ := runtime.Caller(2)
	z.state.Warn(fmt.Sprintf("zest '%s' (@ %s:%d) called %s after its body returned", z.node.FullName, file, line, call))
}

// Logf writes a line to standard output, prefixed with the zest name
func (z *Z) Logf(format string, args ...any) {
	fmt.Fprintf(os.Stdout, "[%s] %s\n", z.node.FullName, fmt.Sprintf(format, args...))
}

// Errorf records a failure and lets the body continue
func (z *Z) Errorf(format string, args ...any) {
	z.fail(fmt.Sprintf(format, args...))
}

// Fatalf records a failure and stops the body
func (z *Z) Fatalf(format string, args ...any) {
	z.fail(fmt.Sprintf(format, args...))
	panic(failNow{})
}

// Failed reports whether a failure has been recorded for this zest
func (z *Z) Failed() bool {
	return z.failure != nil
}

// fail records msg on z. A Z captured by a closure and used while another
// zest runs charges that zest instead, and the misuse is warned about.
func (z *Z) fail(msg string) {
	frames := callerFrames(2)
	running := z.state.running()
	if running == z {
		z.record(msg, frames)
		return
	}
	z.state.Warn(fmt.Sprintf("zest '%s' (@ %s) reported a failure after its body returned: %s", z.node.FullName, z.node.Source, msg))
	if running != nil {
		running.record(msg, frames)
	}
}

// only the first failure is kept
func (z *Z) record(msg string, frames []string) {
	if z.failure == nil {
		z.failure = failureInfo(msg, frames)
	}
}
