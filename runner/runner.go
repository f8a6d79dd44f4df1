package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-zest/engine"
	"github.com/ethereum-optimism/infra/op-zest/logging"
	"github.com/ethereum-optimism/infra/op-zest/registry"
	"github.com/ethereum-optimism/infra/op-zest/types"
)

// RunnerResult captures the complete run results
type RunnerResult struct {
	RunID   string
	Workers int // 0 for an in-process run

	Results        []*types.ResultRecord // stop records, in arrival order
	CallLog        []string
	CallErrors     []engine.CallError
	Warnings       []string
	DecodeWarnings []types.DecodeWarning
	Faults         []*WorkerFault

	Interrupted bool
	Status      types.TestStatus
	Retcode     int
	Duration    time.Duration
	Stats       ResultStats
}

// ResultStats tracks zest statistics of a run
type ResultStats struct {
	Total     int
	Passed    int
	Failed    int
	Skipped   int
	Roots     int
	StartTime time.Time
	EndTime   time.Time
}

// Failed reports whether the run must exit non-zero
func (r *RunnerResult) Failed() bool {
	return r.Retcode != 0
}

// formatDuration formats the duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// String returns a short, plain representation of the results
func (r *RunnerResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Zest Run Results (%s):\n", formatDuration(r.Duration))
	fmt.Fprintf(&b, "Total: %d, Passed: %d, Failed: %d, Skipped: %d\n",
		r.Stats.Total, r.Stats.Passed, r.Stats.Failed, r.Stats.Skipped)
	for _, callErr := range r.CallErrors {
		fmt.Fprintf(&b, "├── Error: %s\n", strings.Join(callErr.Stack, " > "))
		fmt.Fprintf(&b, "│       └── %s\n", callErr.Error.Error())
	}
	for _, warning := range r.Warnings {
		fmt.Fprintf(&b, "├── Warning: %s\n", warning)
	}
	for _, fault := range r.Faults {
		fmt.Fprintf(&b, "├── Fault: %s\n", fault)
	}
	fmt.Fprintf(&b, "└── Status: %s (exit %d)\n", r.Status, r.Retcode)
	return b.String()
}

// Runner executes discovered roots
type Runner interface {
	Run(ctx context.Context, roots []*registry.Root) (*RunnerResult, error)
}

// Config holds configuration for creating a runner
type Config struct {
	Log      log.Logger
	Engine   *engine.Engine
	Registry *registry.Registry

	RunID          string
	OutputFolder   string
	Capture        bool
	AllowToRun     *engine.AllowList // nil runs everything
	DisableShuffle bool
	BypassSkip     []string
	Seed           int64

	// Workers above one selects the multi-process runner
	Workers      int
	Launcher     WorkerLauncher // defaults to re-executing this binary
	TickInterval time.Duration
	OnTick       func(c *Coordinator)

	Hooks      engine.Hooks
	FileLogger *logging.FileLogger
}

func (cfg *Config) check() error {
	if cfg.OutputFolder == "" {
		return fmt.Errorf("output folder is required")
	}
	if cfg.RunID == "" {
		return fmt.Errorf("run ID is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Engine == nil {
		cfg.Engine = engine.NewEngine(cfg.Log)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	return nil
}

func (cfg *Config) runOptions(pid int) engine.RunOptions {
	return engine.RunOptions{
		AllowToRun:     cfg.AllowToRun,
		DisableShuffle: cfg.DisableShuffle,
		BypassSkip:     cfg.BypassSkip,
		Seed:           cfg.Seed,
		Pid:            pid,
	}
}

// NewRunner picks the single- or multi-process runner from cfg.Workers
func NewRunner(cfg Config) (Runner, error) {
	if cfg.Workers > 1 {
		return NewMultiRunner(cfg)
	}
	return NewSingleRunner(cfg)
}
