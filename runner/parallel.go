package runner

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-zest/registry"
)

var _ Runner = (*MultiRunner)(nil)

// MultiRunner spreads roots over a pool of worker processes
type MultiRunner struct {
	cfg       Config
	collector ResultCollector
	tracer    trace.Tracer
}

// NewMultiRunner creates a multi-process runner with cfg.Workers slots
func NewMultiRunner(cfg Config) (*MultiRunner, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("workers must be positive, got %d", cfg.Workers)
	}
	if cfg.Workers > MaxReasonableConcurrency {
		cfg.Log.Warn("Very high worker count requested", "workers", cfg.Workers,
			"recommendation", "Consider using lower values to avoid resource exhaustion")
	}
	if cfg.Launcher == nil {
		cfg.Launcher = NewProcessLauncher(cfg.Log)
	}
	return &MultiRunner{
		cfg:       cfg,
		collector: NewResultCollector(),
		tracer:    otel.Tracer("multi runner"),
	}, nil
}

// Run submits one work order per root and coordinates the workers until
// every order is finished or ctx is cancelled.
func (r *MultiRunner) Run(ctx context.Context, roots []*registry.Root) (*RunnerResult, error) {
	ctx, span := r.tracer.Start(ctx, "run roots", trace.WithAttributes(
		attribute.Int("workers", r.cfg.Workers),
		attribute.Int("roots", len(roots)),
	))
	defer span.End()

	result := r.collector.NewRunResult(r.cfg.RunID, r.cfg.Workers)
	coordinator, err := NewCoordinator(CoordinatorConfig{
		Log:          r.cfg.Log,
		Launcher:     r.cfg.Launcher,
		Workers:      r.cfg.Workers,
		Orders:       r.workOrders(roots),
		TickInterval: r.cfg.TickInterval,
		OnTick:       r.cfg.OnTick,
		Collector:    r.collector,
		Result:       result,
		Hooks:        r.cfg.Hooks,
		FileLogger:   r.cfg.FileLogger,
	})
	if err != nil {
		return nil, err
	}

	result, err = coordinator.Run(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("multi-process run failed: %w", err)
	}
	r.cfg.Log.Info("Zest run completed", "runID", result.RunID, "status", result.Status, "workers", r.cfg.Workers,
		"total", result.Stats.Total, "failed", result.Stats.Failed, "faults", len(result.Faults), "duration", result.Duration)
	return result, nil
}

func (r *MultiRunner) workOrders(roots []*registry.Root) []WorkOrder {
	allow := r.cfg.AllowToRun.Entries()
	orders := make([]WorkOrder, 0, len(roots))
	for _, root := range roots {
		orders = append(orders, WorkOrder{
			FullName:       root.Name,
			ModuleLocator:  root.ModuleLocator,
			OutputFolder:   r.cfg.OutputFolder,
			Capture:        r.cfg.Capture,
			RunAll:         r.cfg.AllowToRun == nil,
			AllowToRun:     allow,
			DisableShuffle: r.cfg.DisableShuffle,
			BypassSkip:     r.cfg.BypassSkip,
			Seed:           r.cfg.Seed,
		})
	}
	return orders
}
