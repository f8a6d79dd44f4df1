package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-zest/types"
)

// Hooks receives the life-cycle records of every zest, in emission order
type Hooks interface {
	OnTestStart(rec *types.ResultRecord)
	OnTestStop(rec *types.ResultRecord)
}

// HookFuncs adapts plain functions to Hooks. Nil fields are ignored.
type HookFuncs struct {
	Start func(rec *types.ResultRecord)
	Stop  func(rec *types.ResultRecord)
}

func (h HookFuncs) OnTestStart(rec *types.ResultRecord) {
	if h.Start != nil {
		h.Start(rec)
	}
}

func (h HookFuncs) OnTestStop(rec *types.ResultRecord) {
	if h.Stop != nil {
		h.Stop(rec)
	}
}

// MultiHooks fans each record out to several hooks in order
type MultiHooks []Hooks

func (m MultiHooks) OnTestStart(rec *types.ResultRecord) {
	for _, h := range m {
		if h != nil {
			h.OnTestStart(rec)
		}
	}
}

func (m MultiHooks) OnTestStop(rec *types.ResultRecord) {
	for _, h := range m {
		if h != nil {
			h.OnTestStop(rec)
		}
	}
}

// Engine walks a zest tree depth-first, executing bodies and emitting
// records. It holds no per-run state and may be reused.
type Engine struct {
	log    log.Logger
	tracer trace.Tracer
}

// NewEngine creates an engine that logs to lgr
func NewEngine(lgr log.Logger) *Engine {
	if lgr == nil {
		lgr = log.New()
	}
	return &Engine{
		log:    lgr,
		tracer: otel.Tracer("zest engine"),
	}
}

// RunRoot executes root and its subtree against state. Failures inside zests
// are recorded in state; the returned error is non-nil only for an invalid
// root or an *InternalError.
func (e *Engine) RunRoot(ctx context.Context, root *TestNode, state *RunState, hooks Hooks) error {
	if root == nil {
		return fmt.Errorf("cannot run nil zest")
	}
	if state == nil {
		return fmt.Errorf("cannot run zest '%s' without a run state", root.FullName)
	}
	if !root.IsRoot() {
		return fmt.Errorf("zest '%s' is not a root", root.FullName)
	}
	if hooks == nil {
		hooks = HookFuncs{}
	}
	if len(state.CallStack) != 0 {
		return newInternalError(root.FullName, fmt.Sprintf("call stack not empty before run: %v", state.CallStack))
	}

	ctx, span := e.tracer.Start(ctx, "zest root")
	span.SetAttributes(attribute.String("zest.root", root.FullName))
	defer span.End()

	e.log.Debug("Running zest root", "root", root.FullName, "seed", state.Seed, "shuffle", !state.DisableShuffle)
	e.runNode(ctx, root, state, hooks, nil)

	if len(state.CallStack) != 0 {
		span.SetStatus(codes.Error, "call stack not empty")
		return newInternalError(root.FullName, fmt.Sprintf("call stack not empty after run: %v", state.CallStack))
	}
	if len(state.CallErrors) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d zest(s) failed", len(state.CallErrors)))
	}
	return nil
}

// runNode pushes the node, decides whether it runs, executes it and pops it.
// Start and stop records carry the same call stack.
func (e *Engine) runNode(ctx context.Context, node *TestNode, state *RunState, hooks Hooks, parent *frame) {
	ctx, span := e.tracer.Start(ctx, node.FullName)
	defer span.End()

	state.push(node.FullName)
	stack := state.stackSnapshot()
	hooks.OnTestStart(types.NewStartRecord(node.FullName, stack, state.Pid))

	start := time.Now()
	skip := state.SkipReason(node)
	var errInfo *types.ErrorInfo
	if skip == "" {
		errInfo = e.execute(ctx, node, state, hooks, parent)
	} else {
		span.SetAttributes(attribute.String("zest.skip", skip))
	}

	if errInfo != nil {
		state.CallErrors = append(state.CallErrors, CallError{Error: errInfo, Stack: stack})
		span.SetStatus(codes.Error, errInfo.Error())
		e.log.Debug("Zest failed", "zest", node.FullName, "err", errInfo.Error())
	}

	state.pop(node.FullName)
	elapsed := time.Since(start)
	hooks.OnTestStop(types.NewStopRecord(node.FullName, stack, state.Pid, elapsed, skip, errInfo))
	state.CallLog = append(state.CallLog, node.FullName)
}

// execute runs the parent's before hooks, the body, the children and the
// parent's after hooks. The first failure wins.
func (e *Engine) execute(ctx context.Context, node *TestNode, state *RunState, hooks Hooks, parent *frame) *types.ErrorInfo {
	fr := newFrame()
	z := &Z{ctx: ctx, node: node, frame: fr, state: state}

	var errInfo *types.ErrorInfo
	if parent != nil {
		for _, fn := range parent.before {
			if errInfo = e.invoke(z, fn); errInfo != nil {
				break
			}
		}
	}
	if errInfo == nil && node.Body != nil {
		errInfo = e.invoke(z, node.Body)
	}
	fr.closed = true

	if errInfo == nil {
		for _, child := range state.order(e.children(node, fr, state)) {
			if ctx.Err() != nil {
				break
			}
			e.runNode(ctx, child, state, hooks, fr)
		}
	}

	if parent != nil {
		for _, fn := range parent.after {
			if afterErr := e.invoke(z, fn); afterErr != nil && errInfo == nil {
				errInfo = afterErr
			}
		}
	}
	return errInfo
}

// children returns the static children followed by the ones the body
// declared. Nothing runs if the body declared children but never called Done.
func (e *Engine) children(node *TestNode, fr *frame, state *RunState) []*TestNode {
	if len(fr.children) > 0 && !fr.done {
		state.Warn(fmt.Sprintf("zest '%s' (@ %s) did not terminate with a call to Done()", node.FullName, node.Source))
		names := make([]string, 0, len(fr.children))
		for _, c := range fr.children {
			names = append(names, c.ShortName())
		}
		e.log.Warn("Zest children not executed", "zest", node.FullName, "children", strings.Join(names, ","))
		return nil
	}
	if len(node.Children) == 0 {
		return fr.children
	}
	all := make([]*TestNode, 0, len(node.Children)+len(fr.children))
	all = append(all, node.Children...)
	return append(all, fr.children...)
}

// invoke calls fn, turning panics and recorded failures into an ErrorInfo
func (e *Engine) invoke(z *Z, fn func(z *Z)) (errInfo *types.ErrorInfo) {
	z.state.enter(z)
	defer func() {
		z.state.leave()
		r := recover()
		if r == nil {
			return
		}
		if _, ok := r.(failNow); ok {
			if z.failure == nil {
				z.failure = failureInfo("Fatalf called on a zest whose body has returned", callerFrames(1))
			}
			errInfo = z.failure
			return
		}
		if z.failure == nil {
			z.failure = errorInfoFromPanic(r, callerFrames(1))
		}
		errInfo = z.failure
	}()
	fn(z)
	return z.failure
}
