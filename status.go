package zest

import (
	"sync"

	"github.com/ethereum-optimism/infra/op-zest/engine"
	"github.com/ethereum-optimism/infra/op-zest/runner"
	"github.com/ethereum-optimism/infra/op-zest/service"
	"github.com/ethereum-optimism/infra/op-zest/types"
)

const (
	stateIdle    = "idle"
	stateRunning = "running"
)

// statusTracker keeps the live view served on /status. In-process runs
// feed it through the engine hooks, multi-process runs through the
// coordinator tick.
type statusTracker struct {
	mu      sync.RWMutex
	runID   string
	state   string
	workers []service.WorkerSnapshot
	last    *service.ResultSnapshot
}

var (
	_ service.StatusSource = (*statusTracker)(nil)
	_ engine.Hooks         = (*statusTracker)(nil)
)

func newStatusTracker() *statusTracker {
	return &statusTracker{state: stateIdle}
}

func (s *statusTracker) Snapshot() service.StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := service.StatusSnapshot{
		RunID:   s.runID,
		State:   s.state,
		Workers: append([]service.WorkerSnapshot{}, s.workers...),
	}
	if s.last != nil {
		last := *s.last
		snap.LastResult = &last
	}
	return snap
}

func (s *statusTracker) begin(runID string, workers int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID = runID
	s.state = stateRunning
	s.workers = make([]service.WorkerSnapshot, max(workers, 1))
	for i := range s.workers {
		s.workers[i] = service.WorkerSnapshot{Slot: i, Idle: true}
	}
}

// updateWorkers copies the coordinator's slots
func (s *statusTracker) updateWorkers(workers []runner.WorkerStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = s.workers[:0]
	for i, w := range workers {
		snap := service.WorkerSnapshot{Slot: i, Pid: w.Pid, Root: w.Root, Idle: w.Idle || w.Pid == 0}
		if w.Last != nil {
			snap.Current = w.Last.FullName
		}
		s.workers = append(s.workers, snap)
	}
}

func (s *statusTracker) OnTestStart(rec *types.ResultRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.workers) == 0 {
		return
	}
	s.workers[0] = service.WorkerSnapshot{
		Pid:     rec.Pid,
		Root:    types.RootName(rec.FullName),
		Current: rec.FullName,
	}
}

func (s *statusTracker) OnTestStop(*types.ResultRecord) {}

func (s *statusTracker) finish(result *runner.RunnerResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateIdle
	s.workers = nil
	if result == nil {
		return
	}
	s.last = &service.ResultSnapshot{
		RunID:   result.RunID,
		Status:  string(result.Status),
		Retcode: result.Retcode,
		Total:   result.Stats.Total,
		Passed:  result.Stats.Passed,
		Failed:  result.Stats.Failed,
		Skipped: result.Stats.Skipped,
	}
}
