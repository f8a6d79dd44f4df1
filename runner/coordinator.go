package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-zest/engine"
	"github.com/ethereum-optimism/infra/op-zest/logging"
	"github.com/ethereum-optimism/infra/op-zest/metrics"
	"github.com/ethereum-optimism/infra/op-zest/types"
)

// CoordinatorState is the lifecycle state of a multi-process run
type CoordinatorState string

const (
	StateSubmitted CoordinatorState = "submitted"
	StateRunning   CoordinatorState = "running"
	StateStopping  CoordinatorState = "stopping"
	StateDone      CoordinatorState = "done"
)

// WorkerStatus is the coordinator's view of one worker slot
type WorkerStatus struct {
	Pid  int
	Root string
	// Last is the most recent record the worker sent
	Last *types.ResultRecord
	Idle bool
}

// CoordinatorConfig configures a Coordinator
type CoordinatorConfig struct {
	Log          log.Logger
	Launcher     WorkerLauncher
	Workers      int
	Orders       []WorkOrder
	TickInterval time.Duration
	OnTick       func(c *Coordinator)

	Collector  ResultCollector
	Result     *RunnerResult
	Hooks      engine.Hooks
	FileLogger *logging.FileLogger
}

// Coordinator drives a Pool and folds its messages into a RunnerResult.
// Poll and Run must be called from one goroutine.
type Coordinator struct {
	cfg   CoordinatorConfig
	log   log.Logger
	pool  *Pool
	state CoordinatorState

	slots  []*WorkerStatus // nil when free
	slotOf map[int]int
	err    error
}

// NewCoordinator validates cfg; no worker is started before Start
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Launcher == nil {
		return nil, fmt.Errorf("launcher is required")
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("at least one worker is required, got %d", cfg.Workers)
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.Collector == nil {
		cfg.Collector = NewResultCollector()
	}
	if cfg.Result == nil {
		cfg.Result = cfg.Collector.NewRunResult("", cfg.Workers)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	return &Coordinator{
		cfg:    cfg,
		log:    cfg.Log.New("component", "coordinator"),
		state:  StateSubmitted,
		slots:  make([]*WorkerStatus, cfg.Workers),
		slotOf: make(map[int]int),
	}, nil
}

// Start hands every order to a new pool
func (c *Coordinator) Start(ctx context.Context) {
	if c.state != StateSubmitted {
		return
	}
	c.pool = NewPool(ctx, c.cfg.Log, c.cfg.Launcher, c.cfg.Workers, c.cfg.Orders)
	c.state = StateRunning
	c.log.Info("Coordinator running", "workers", c.cfg.Workers, "orders", len(c.cfg.Orders))
}

// State returns the current lifecycle state
func (c *Coordinator) State() CoordinatorState {
	return c.state
}

// Result returns the result being built; it is final once State is done
func (c *Coordinator) Result() *RunnerResult {
	return c.cfg.Result
}

// Err returns the runtime error that ended the run, if any
func (c *Coordinator) Err() error {
	return c.err
}

// Workers returns a copy of the worker slots. Free slots have a zero Pid.
func (c *Coordinator) Workers() []WorkerStatus {
	out := make([]WorkerStatus, len(c.slots))
	for i, s := range c.slots {
		if s != nil {
			out[i] = *s
		}
	}
	return out
}

// Poll drains the queue without blocking and reports whether the run is
// done. requestStop terminates the pool; the run then ends once no worker
// is left alive.
func (c *Coordinator) Poll(requestStop bool) bool {
	switch c.state {
	case StateSubmitted:
		return false
	case StateDone:
		return true
	}

	if requestStop && c.state == StateRunning {
		c.log.Warn("Stop requested, terminating workers", "live", c.pool.Live())
		c.cfg.Result.Interrupted = true
		c.pool.Terminate()
		c.state = StateStopping
	}

	c.drain()
	metrics.SetLiveWorkers(c.pool.Live())

	switch c.state {
	case StateRunning:
		// the pool may enqueue its last messages right before it is done
		if c.pool.Done() && len(c.pool.Queue()) == 0 {
			c.finish()
		}
	case StateStopping:
		if c.pool.Live() == 0 && c.pool.Done() {
			c.drain()
			c.finish()
		}
	}
	return c.state == StateDone
}

// Run polls until the run is done. Cancelling ctx turns into a stop request.
func (c *Coordinator) Run(ctx context.Context) (*RunnerResult, error) {
	c.Start(ctx)

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		stopping := ctx.Err() != nil
		if c.Poll(stopping) {
			break
		}
		if c.cfg.OnTick != nil {
			c.cfg.OnTick(c)
		}
		if stopping {
			<-ticker.C
			continue
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
		}
	}
	if c.cfg.OnTick != nil {
		c.cfg.OnTick(c)
	}
	return c.cfg.Result, c.err
}

func (c *Coordinator) drain() {
	queue := c.pool.Queue()
	for {
		select {
		case msg := <-queue:
			c.handle(msg)
		default:
			return
		}
	}
}

func (c *Coordinator) handle(msg Message) {
	if msg.Kind == MessageExit {
		c.release(msg.Pid)
		return
	}
	index := c.bind(msg.Pid)
	status := c.slots[index]
	result := c.cfg.Result

	switch msg.Kind {
	case MessageRecord:
		rec := msg.Record
		rec.WorkerIndex = index
		status.Root, status.Last, status.Idle = msg.Root, rec, false
		if rec.IsRunning {
			if c.cfg.Hooks != nil {
				c.cfg.Hooks.OnTestStart(rec)
			}
			return
		}
		c.cfg.Collector.AddRecord(result, rec)
		if c.cfg.FileLogger != nil {
			if err := c.cfg.FileLogger.LogRecord(rec); err != nil {
				c.log.Warn("Failed to log record", "zest", rec.FullName, "err", err)
			}
		}
		if c.cfg.Hooks != nil {
			c.cfg.Hooks.OnTestStop(rec)
		}
	case MessageDone:
		status.Idle = true
		c.cfg.Collector.AddWarnings(result, msg.Warnings)
		c.log.Debug("Root finished", "root", msg.Root, "pid", msg.Pid, "slot", index)
	case MessageFault:
		status.Idle = true
		c.log.Error("Worker fault", "root", msg.Root, "pid", msg.Pid, "slot", index, "err", msg.Fault.Error)
		c.cfg.Collector.AddFault(result, msg.Fault)
	}
}

// bind returns the slot of pid, claiming the lowest free slot on first sight
func (c *Coordinator) bind(pid int) int {
	if index, ok := c.slotOf[pid]; ok {
		return index
	}
	for i, s := range c.slots {
		if s == nil {
			c.slots[i] = &WorkerStatus{Pid: pid, Idle: true}
			c.slotOf[pid] = i
			return i
		}
	}
	// a worker whose exit was dropped still holds its slot
	c.log.Warn("No free worker slot", "pid", pid)
	c.slots = append(c.slots, &WorkerStatus{Pid: pid, Idle: true})
	c.slotOf[pid] = len(c.slots) - 1
	return len(c.slots) - 1
}

func (c *Coordinator) release(pid int) {
	index, ok := c.slotOf[pid]
	if !ok {
		return
	}
	delete(c.slotOf, pid)
	c.slots[index] = nil
}

func (c *Coordinator) finish() {
	if err := c.pool.Wait(); err != nil {
		c.err = err
	}
	c.cfg.Collector.FinalizeResults(c.cfg.Result)
	c.state = StateDone
	c.log.Info("Coordinator done", "status", c.cfg.Result.Status, "faults", len(c.cfg.Result.Faults),
		"interrupted", c.cfg.Result.Interrupted)
}
