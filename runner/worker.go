package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-zest/engine"
	"github.com/ethereum-optimism/infra/op-zest/registry"
	"github.com/ethereum-optimism/infra/op-zest/types"
)

// WorkerConfig configures the worker side of the protocol
type WorkerConfig struct {
	Log      log.Logger
	Engine   *engine.Engine
	Registry *registry.Registry
	In       io.Reader // work orders
	Out      io.Writer // messages
	Pid      int

	// in-process workers share os.Stdout with the coordinator
	DisableCapture bool
}

// ServeWorker runs work orders read from cfg.In until it is closed, then
// sends the exit message. An order that cannot be run produces a fault
// message and ends the worker.
func ServeWorker(ctx context.Context, cfg WorkerConfig) error {
	if cfg.Registry == nil {
		return errors.New("worker needs a registry")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.Engine == nil {
		cfg.Engine = engine.NewEngine(cfg.Log)
	}
	lgr := cfg.Log.New("component", "worker", "pid", cfg.Pid)

	out := newLineEncoder(cfg.Out)
	in := newLineDecoder(cfg.In)
	send := func(msg Message) error {
		msg.Pid = cfg.Pid
		return out.Encode(msg)
	}

	for ctx.Err() == nil {
		var order WorkOrder
		if err := in.Decode(&order); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to read work order: %w", err)
		}

		lgr.Debug("Received work order", "root", order.FullName)
		if err := serveOrder(ctx, cfg, order, send); err != nil {
			lgr.Error("Work order failed", "root", order.FullName, "err", err)
			fault := newFault(order.FullName, cfg.Pid, faultClass(err), err)
			if sendErr := send(Message{Kind: MessageFault, Root: order.FullName, Fault: fault}); sendErr != nil {
				return fmt.Errorf("failed to send fault: %w", sendErr)
			}
			break
		}
	}

	lgr.Debug("Worker exiting")
	return send(Message{Kind: MessageExit})
}

// orderPanic is a panic that escaped the engine while an order ran
type orderPanic struct {
	value  any
	frames []string
}

func (p *orderPanic) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

func (p *orderPanic) StackFrames() []string {
	return p.frames
}

// serveOrder runs one order. Zest panics are trapped by the engine, so a
// panic reaching this point is a framework fault and ends the worker.
func serveOrder(ctx context.Context, cfg WorkerConfig, order WorkOrder, send func(Message) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &orderPanic{value: r, frames: panicFrames()}
		}
	}()
	return runOrder(ctx, cfg, order, send)
}

// panicFrames formats the stack of a panicking goroutine from inside its
// deferred recover, innermost first and without runtime frames
func panicFrames() []string {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(3, pcs)
	iter := runtime.CallersFrames(pcs[:n])

	var frames []string
	for {
		frame, more := iter.Next()
		if frame.Function != "" && !strings.HasPrefix(frame.Function, "runtime.") {
			frames = append(frames, fmt.Sprintf("%s:%d in %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return frames
}

func runOrder(ctx context.Context, cfg WorkerConfig, order WorkOrder, send func(Message) error) error {
	root, ok := cfg.Registry.Lookup(order.FullName)
	if !ok {
		return fmt.Errorf("root '%s' is not registered in this binary", order.FullName)
	}
	if order.ModuleLocator != "" && root.ModuleLocator != order.ModuleLocator {
		return fmt.Errorf("root '%s' comes from module %s, not %s", order.FullName, root.ModuleLocator, order.ModuleLocator)
	}

	var sendErr error
	relay := func(rec *types.ResultRecord) {
		if sendErr == nil {
			sendErr = send(Message{Kind: MessageRecord, Root: order.FullName, Record: rec})
		}
	}

	var allow *engine.AllowList
	if !order.RunAll {
		allow = engine.NewAllowList(order.AllowToRun)
	}
	run := rootRun{
		engine:       cfg.Engine,
		root:         root,
		outputFolder: order.OutputFolder,
		capture:      order.Capture && !cfg.DisableCapture,
		opts: engine.RunOptions{
			AllowToRun:     allow,
			DisableShuffle: order.DisableShuffle,
			BypassSkip:     order.BypassSkip,
			Seed:           order.Seed,
			Pid:            cfg.Pid,
		},
		hooks: engine.HookFuncs{Start: relay, Stop: relay},
	}

	state, err := run.execute(ctx)
	if err != nil {
		return err
	}
	if sendErr != nil {
		return fmt.Errorf("failed to send record: %w", sendErr)
	}
	return send(Message{Kind: MessageDone, Root: order.FullName, Warnings: state.CallWarnings})
}

func faultClass(err error) string {
	var p *orderPanic
	switch {
	case errors.As(err, &p):
		return "WorkerPanic"
	case engine.IsInternalError(err):
		return "InternalError"
	}
	return "WorkerError"
}

// ServeProcessWorker serves orders from stdin and writes messages to
// WorkerMessageFD. This is what the worker subcommand runs.
func ServeProcessWorker(ctx context.Context, lgr log.Logger, reg *registry.Registry, eng *engine.Engine) error {
	out := os.NewFile(uintptr(WorkerMessageFD), "zest-messages")
	if out == nil {
		return fmt.Errorf("message descriptor %d is not available", WorkerMessageFD)
	}
	defer out.Close()

	return ServeWorker(ctx, WorkerConfig{
		Log:      lgr,
		Engine:   eng,
		Registry: reg,
		In:       os.Stdin,
		Out:      out,
		Pid:      os.Getpid(),
	})
}
