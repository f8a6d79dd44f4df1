package engine

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/ethereum-optimism/infra/op-zest/types"
)

// Failure is raised by Z.Fatalf and recorded by Z.Errorf
type Failure struct {
	Message string
}

func (f *Failure) Error() string {
	return f.Message
}

// InternalError reports an engine bookkeeping inconsistency. It is fatal to
// the run, unlike a zest failure which is only recorded.
type InternalError struct {
	Root   string
	Msg    string
	Frames []string // where the inconsistency was detected, innermost first
}

func newInternalError(root, msg string) *InternalError {
	return &InternalError{Root: root, Msg: msg, Frames: callerFrames(1)}
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error running zest '%s': %s", e.Root, e.Msg)
}

// StackFrames returns the frames captured when the error was created
func (e *InternalError) StackFrames() []string {
	return e.Frames
}

// IsInternalError reports whether err wraps an *InternalError
func IsInternalError(err error) bool {
	var ie *InternalError
	return errors.As(err, &ie)
}

// failNow unwinds a body after Fatalf
type failNow struct{}

var enginePkgPrefix = reflect.TypeOf(Engine{}).PkgPath() + "."

// className names the type of a panic value the way it is shown to users
func className(v any) string {
	name := fmt.Sprintf("%T", v)
	name = strings.TrimLeft(name, "*")
	if idx := strings.LastIndex(name, "."); idx != -1 {
		name = name[idx+1:]
	}
	if name == "string" {
		return "panic"
	}
	return name
}

// errorInfoFromPanic converts a recovered value into an ErrorInfo
func errorInfoFromPanic(v any, frames []string) *types.ErrorInfo {
	var msg string
	switch x := v.(type) {
	case error:
		msg = x.Error()
	case fmt.Stringer:
		msg = x.String()
	default:
		msg = fmt.Sprint(v)
	}
	return &types.ErrorInfo{
		ClassName: className(v),
		Message:   msg,
		Frames:    frames,
	}
}

func failureInfo(msg string, frames []string) *types.ErrorInfo {
	return &types.ErrorInfo{
		ClassName: "Failure",
		Message:   msg,
		Frames:    frames,
	}
}

// callerFrames captures the current goroutine stack without runtime and
// engine frames, innermost first
func callerFrames(skip int) []string {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip+2, pcs)
	iter := runtime.CallersFrames(pcs[:n])

	var frames []string
	for {
		frame, more := iter.Next()
		fn := frame.Function
		if fn != "" && !strings.HasPrefix(fn, "runtime.") && !strings.HasPrefix(fn, enginePkgPrefix) {
			frames = append(frames, fmt.Sprintf("%s:%d in %s", frame.File, frame.Line, fn))
		}
		if !more {
			break
		}
	}
	return frames
}
