package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
)

// Pool runs work orders on a fixed number of worker slots. Each slot starts
// its worker on the first order it takes and reuses it for later orders.
// Every message from every worker ends up on a single queue.
type Pool struct {
	log      log.Logger
	launcher WorkerLauncher
	size     int

	orders chan WorkOrder
	queue  chan Message

	cancel context.CancelFunc
	done   chan struct{}
	err    error

	mu   sync.Mutex
	live map[int]WorkerConn
}

// NewPool submits all orders and starts size slots
func NewPool(ctx context.Context, lgr log.Logger, launcher WorkerLauncher, size int, orders []WorkOrder) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		log:      lgr.New("component", "pool"),
		launcher: launcher,
		size:     size,
		orders:   make(chan WorkOrder, len(orders)),
		queue:    make(chan Message, DefaultQueueSize),
		done:     make(chan struct{}),
		live:     make(map[int]WorkerConn),
	}
	for _, order := range orders {
		p.orders <- order
	}
	close(p.orders)

	ctx, p.cancel = context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < size; i++ {
		group.Go(func() error {
			return p.slot(gctx, i)
		})
	}
	go func() {
		p.err = group.Wait()
		close(p.done)
	}()

	p.log.Debug("Pool started", "slots", size, "orders", len(orders))
	return p
}

// Queue is where worker messages arrive
func (p *Pool) Queue() <-chan Message {
	return p.queue
}

// Done reports whether every slot has returned
func (p *Pool) Done() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until every slot has returned. The error is set when a
// worker could not be launched.
func (p *Pool) Wait() error {
	<-p.done
	return p.err
}

// Live counts workers that have been launched and not yet reaped
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// Terminate stops handing out orders and kills every live worker
func (p *Pool) Terminate() {
	p.cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	for pid, conn := range p.live {
		if err := conn.Kill(); err != nil {
			p.log.Warn("Failed to kill worker", "pid", pid, "err", err)
		}
	}
}

func (p *Pool) slot(ctx context.Context, index int) error {
	lgr := p.log.New("slot", index)
	var conn WorkerConn
	defer func() {
		if conn != nil {
			p.retire(ctx, conn, "", nil)
		}
	}()

	for {
		var order WorkOrder
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-p.orders:
			if !ok {
				return nil
			}
			order = next
		}
		if ctx.Err() != nil {
			return nil
		}

		if conn == nil {
			c, err := p.launcher.Launch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("failed to launch worker for '%s': %w", order.FullName, err)
			}
			conn = c
			p.track(ctx, conn)
			lgr.Debug("Worker started", "pid", conn.Pid())
		}

		lgr.Debug("Sending work order", "pid", conn.Pid(), "root", order.FullName)
		healthy, cause := false, conn.Send(order)
		if cause == nil {
			healthy, cause = p.relay(ctx, conn)
		}
		if !healthy {
			p.retire(ctx, conn, order.FullName, cause)
			conn = nil
		}
	}
}

// relay forwards messages for one order until the worker reports done or
// fault. A worker that broke the protocol is returned as the cause.
func (p *Pool) relay(ctx context.Context, conn WorkerConn) (healthy bool, cause error) {
	for {
		msg, err := conn.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("worker closed its message stream")
			}
			return false, err
		}
		if err := msg.validate(); err != nil {
			return false, err
		}
		if msg.Kind == MessageExit {
			return false, errors.New("worker exited before finishing its order")
		}
		msg.Pid = conn.Pid()
		p.emit(ctx, msg)

		switch msg.Kind {
		case MessageDone:
			return true, nil
		case MessageFault:
			return false, nil
		}
	}
}

// retire reaps a worker and emits its exit message. A worker retired with a
// cause is killed and reported as a fault of root once its output is
// complete; otherwise it is asked to finish and drained.
func (p *Pool) retire(ctx context.Context, conn WorkerConn, root string, cause error) {
	pid := conn.Pid()
	if cause != nil {
		_ = conn.Kill()
	} else {
		_ = conn.CloseInput()
		for {
			msg, err := conn.Recv()
			if err != nil || msg.Kind == MessageExit {
				break
			}
			if msg.validate() != nil {
				continue
			}
			msg.Pid = pid
			p.emit(ctx, msg)
		}
	}

	waitErr := conn.Wait()
	switch {
	case cause != nil:
		if waitErr != nil {
			cause = fmt.Errorf("%w (%v)", cause, waitErr)
		}
		p.fault(ctx, conn, root, cause)
	case waitErr != nil && ctx.Err() == nil:
		p.log.Warn("Worker exited with error", "pid", pid, "err", waitErr)
	}

	p.emit(ctx, Message{Kind: MessageExit, Pid: pid})
	p.untrack(pid)
	p.log.Debug("Worker retired", "pid", pid)
}

// fault reports a worker that broke off in the middle of an order. Nothing
// is reported once the pool is being terminated.
func (p *Pool) fault(ctx context.Context, conn WorkerConn, root string, err error) {
	if ctx.Err() != nil {
		return
	}
	f := newFault(root, conn.Pid(), "WorkerCrash", err)
	f.Output = conn.Output()
	p.emit(ctx, Message{Kind: MessageFault, Pid: conn.Pid(), Root: root, Fault: f})
}

func (p *Pool) emit(ctx context.Context, msg Message) {
	select {
	case p.queue <- msg:
	case <-ctx.Done():
	}
}

// track registers a live worker. A worker launched while Terminate was
// running is killed right away.
func (p *Pool) track(ctx context.Context, conn WorkerConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live[conn.Pid()] = conn
	if ctx.Err() != nil {
		_ = conn.Kill()
	}
}

func (p *Pool) untrack(pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, pid)
}
