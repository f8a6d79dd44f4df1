package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-zest/engine"
	"github.com/ethereum-optimism/infra/op-zest/registry"
)

// WorkerConn is the coordinator's end of one worker
type WorkerConn interface {
	Pid() int
	// Send hands the worker one work order
	Send(order WorkOrder) error
	// Recv blocks for the next message; it fails once the worker is gone
	Recv() (Message, error)
	// CloseInput tells the worker no more orders are coming
	CloseInput() error
	Wait() error
	Kill() error
	// Output is the tail of what the worker printed, if known
	Output() string
}

// WorkerLauncher starts workers
type WorkerLauncher interface {
	Launch(ctx context.Context) (WorkerConn, error)
}

// ProcessLauncher starts each worker by re-executing a binary with the
// worker subcommand. Orders go to the child's stdin and messages come back
// on WorkerMessageFD, leaving stdout and stderr to the zests.
type ProcessLauncher struct {
	Log        log.Logger
	Executable string   // defaults to the running binary
	Args       []string // defaults to WorkerCommand
	Env        []string // appended to the current environment
	Stdout     io.Writer
	Stderr     io.Writer
	TailBytes  int
}

var _ WorkerLauncher = (*ProcessLauncher)(nil)

// NewProcessLauncher re-executes the running binary
func NewProcessLauncher(lgr log.Logger) *ProcessLauncher {
	return &ProcessLauncher{
		Log:    lgr,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

func (l *ProcessLauncher) Launch(ctx context.Context) (WorkerConn, error) {
	exe := l.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
	}
	args := l.Args
	if len(args) == 0 {
		args = []string{WorkerCommand}
	}

	msgR, msgW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create message pipe: %w", err)
	}

	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Env = append(os.Environ(), l.Env...)
	// ExtraFiles[i] becomes fd 3+i in the child
	cmd.ExtraFiles = []*os.File{msgW}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = msgR.Close()
		_ = msgW.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	tail := newTailBuffer(l.TailBytes)
	cmd.Stdout = forward(l.Stdout, tail)
	cmd.Stderr = forward(l.Stderr, tail)

	if err := cmd.Start(); err != nil {
		_ = msgR.Close()
		_ = msgW.Close()
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	// the child holds its own copy; ours would keep Recv from seeing EOF
	_ = msgW.Close()

	if l.Log != nil {
		l.Log.Debug("Launched worker", "pid", cmd.Process.Pid, "exe", exe)
	}
	return &processConn{
		cmd:   cmd,
		stdin: stdin,
		msgs:  msgR,
		enc:   newLineEncoder(stdin),
		dec:   newLineDecoder(msgR),
		tail:  tail,
	}, nil
}

func forward(w io.Writer, tail *tailBuffer) io.Writer {
	if w == nil {
		return tail
	}
	return io.MultiWriter(w, tail)
}

type processConn struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	msgs  *os.File
	enc   *lineEncoder
	dec   *lineDecoder
	tail  *tailBuffer

	waitOnce sync.Once
	waitErr  error
}

func (c *processConn) Pid() int {
	return c.cmd.Process.Pid
}

func (c *processConn) Send(order WorkOrder) error {
	return c.enc.Encode(order)
}

func (c *processConn) Recv() (Message, error) {
	var msg Message
	err := c.dec.Decode(&msg)
	return msg, err
}

func (c *processConn) CloseInput() error {
	return c.stdin.Close()
}

func (c *processConn) Wait() error {
	c.waitOnce.Do(func() {
		c.waitErr = c.cmd.Wait()
		_ = c.msgs.Close()
	})
	return c.waitErr
}

func (c *processConn) Kill() error {
	err := c.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (c *processConn) Output() string {
	return c.tail.Snippet()
}

// inProcessPidBase keeps synthetic pids clear of real ones
const inProcessPidBase = 1_000_000

// InProcessLauncher runs each worker as a goroutine speaking the same wire
// protocol over io.Pipes. Captured output is disabled since the workers
// share this process's stdout.
type InProcessLauncher struct {
	Log      log.Logger
	Engine   *engine.Engine
	Registry *registry.Registry

	next atomic.Int64
}

var _ WorkerLauncher = (*InProcessLauncher)(nil)

func NewInProcessLauncher(lgr log.Logger, eng *engine.Engine, reg *registry.Registry) *InProcessLauncher {
	return &InProcessLauncher{Log: lgr, Engine: eng, Registry: reg}
}

func (l *InProcessLauncher) Launch(ctx context.Context) (WorkerConn, error) {
	if l.Registry == nil {
		return nil, errors.New("in-process launcher needs a registry")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pid := inProcessPidBase + int(l.next.Add(1))

	ordersR, ordersW := io.Pipe()
	msgsR, msgsW := io.Pipe()
	ctx, cancel := context.WithCancel(ctx)

	conn := &inProcessConn{
		pid:    pid,
		orders: ordersW,
		msgs:   msgsR,
		enc:    newLineEncoder(ordersW),
		dec:    newLineDecoder(msgsR),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(conn.done)
		conn.err = ServeWorker(ctx, WorkerConfig{
			Log:            l.Log,
			Engine:         l.Engine,
			Registry:       l.Registry,
			In:             ordersR,
			Out:            msgsW,
			Pid:            pid,
			DisableCapture: true,
		})
		_ = ordersR.Close()
		_ = msgsW.CloseWithError(conn.err)
	}()
	return conn, nil
}

var errWorkerKilled = errors.New("worker killed")

type inProcessConn struct {
	pid    int
	orders *io.PipeWriter
	msgs   *io.PipeReader
	enc    *lineEncoder
	dec    *lineDecoder
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (c *inProcessConn) Pid() int {
	return c.pid
}

func (c *inProcessConn) Send(order WorkOrder) error {
	return c.enc.Encode(order)
}

func (c *inProcessConn) Recv() (Message, error) {
	var msg Message
	err := c.dec.Decode(&msg)
	return msg, err
}

func (c *inProcessConn) CloseInput() error {
	return c.orders.Close()
}

// Wait returns once the worker goroutine has returned
func (c *inProcessConn) Wait() error {
	<-c.done
	return c.err
}

// Kill cancels the worker's context and breaks both pipes. Zest bodies that
// ignore their context keep the goroutine alive until they return.
func (c *inProcessConn) Kill() error {
	c.cancel()
	_ = c.orders.CloseWithError(errWorkerKilled)
	_ = c.msgs.CloseWithError(errWorkerKilled)
	return nil
}

func (c *inProcessConn) Output() string {
	return ""
}
