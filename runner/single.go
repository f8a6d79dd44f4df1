package runner

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-zest/engine"
	"github.com/ethereum-optimism/infra/op-zest/registry"
	"github.com/ethereum-optimism/infra/op-zest/types"
)

var _ Runner = (*SingleRunner)(nil)

// SingleRunner runs every root sequentially in the current process
type SingleRunner struct {
	cfg       Config
	collector ResultCollector
	tracer    trace.Tracer
}

// NewSingleRunner creates an in-process runner
func NewSingleRunner(cfg Config) (*SingleRunner, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	cfg.Log.Debug("NewSingleRunner()", "outputFolder", cfg.OutputFolder, "capture", cfg.Capture,
		"disableShuffle", cfg.DisableShuffle, "seed", cfg.Seed)
	return &SingleRunner{
		cfg:       cfg,
		collector: NewResultCollector(),
		tracer:    otel.Tracer("single runner"),
	}, nil
}

// Run executes roots in order with a fresh RunState each. Zest failures are
// reported in the result; the error is only set for runtime errors.
func (r *SingleRunner) Run(ctx context.Context, roots []*registry.Root) (*RunnerResult, error) {
	ctx, span := r.tracer.Start(ctx, "run roots")
	defer span.End()

	result := r.collector.NewRunResult(r.cfg.RunID, 0)
	pid := os.Getpid()

	hooks := engine.MultiHooks{
		engine.HookFuncs{
			Stop: func(rec *types.ResultRecord) {
				r.collector.AddRecord(result, rec)
				if r.cfg.FileLogger != nil {
					if err := r.cfg.FileLogger.LogRecord(rec); err != nil {
						r.cfg.Log.Warn("Failed to log record", "zest", rec.FullName, "err", err)
					}
				}
			},
		},
		r.cfg.Hooks,
	}

	for _, root := range roots {
		if ctx.Err() != nil {
			break
		}
		r.cfg.Log.Debug("Running root", "root", root.Name, "module", root.ModuleLocator)

		run := rootRun{
			engine:       r.cfg.Engine,
			root:         root,
			outputFolder: r.cfg.OutputFolder,
			capture:      r.cfg.Capture,
			opts:         r.cfg.runOptions(pid),
			hooks:        hooks,
		}
		state, err := run.execute(ctx)
		if err != nil {
			return nil, fmt.Errorf("running root %s: %w", root.Name, err)
		}
		r.collector.AddWarnings(result, state.CallWarnings)
	}
	if ctx.Err() != nil {
		result.Interrupted = true
	}

	r.collector.FinalizeResults(result)
	r.cfg.Log.Info("Zest run completed", "runID", result.RunID, "status", result.Status,
		"total", result.Stats.Total, "failed", result.Stats.Failed, "duration", result.Duration)
	return result, nil
}
