package zest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-zest/engine"
	"github.com/ethereum-optimism/infra/op-zest/exitcodes"
	"github.com/ethereum-optimism/infra/op-zest/logging"
	"github.com/ethereum-optimism/infra/op-zest/metrics"
	"github.com/ethereum-optimism/infra/op-zest/registry"
	"github.com/ethereum-optimism/infra/op-zest/runner"
	"github.com/ethereum-optimism/infra/op-zest/service"
	"github.com/ethereum-optimism/infra/op-zest/types"
	"github.com/ethereum-optimism/infra/op-zest/ui"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// ConfigSnapshotFilename is written into the output folder on every run
const ConfigSnapshotFilename = "effective-config.json"

// zest implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &zest{}

// zest discovers the registered zest roots and runs them, once or on an
// interval.
type zest struct {
	ctx      context.Context
	config   *Config
	version  string
	registry *registry.Registry
	engine   *engine.Engine
	reporter MetricsReporter
	service  *service.Service
	status   *statusTracker
	result   *runner.RunnerResult

	// launcher starts workers for multi-process runs; nil re-executes
	// this binary
	launcher runner.WorkerLauncher
	out      io.Writer

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, reg *registry.Registry, shutdownCallback func(error)) (*zest, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if reg == nil {
		return nil, errors.New("registry is required")
	}

	config.Log.Debug("Creating zest with config",
		"root", config.Root,
		"includeDirs", config.IncludeDirs,
		"workers", config.Workers,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce)

	status := newStatusTracker()
	return &zest{
		ctx:      ctx,
		config:   config,
		version:  version,
		registry: reg,
		engine:   engine.NewEngine(config.Log),
		reporter: NewDefaultMetricsReporter(),
		service: service.New(service.Config{
			StatusAddr:  config.StatusAddr,
			MetricsAddr: config.MetricsAddr,
			Status:      status,
		}),
		status:           status,
		out:              os.Stdout,
		done:             make(chan struct{}),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the zests immediately and then periodically at the configured
// interval.
// Start implements the cliapp.Lifecycle interface.
func (z *zest) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			z.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	z.ctx = ctx
	z.done = make(chan struct{})
	z.running.Store(true)
	z.service.Start(ctx)

	if z.config.RunOnce {
		z.config.Log.Info("Starting op-zest in run-once mode")
	} else {
		z.config.Log.Info("Starting op-zest in continuous mode", "interval", z.config.RunInterval)
	}

	if err := z.runTests(); err != nil {
		z.config.Log.Error("Runtime error running zests", "error", err)
		return cli.Exit(err.Error(), exitcodes.RuntimeErr)
	}

	if z.config.RunOnce {
		z.config.Log.Info("Zests completed, exiting (run-once mode)")
		if z.result != nil && z.result.Failed() {
			z.config.Log.Warn("Run-once zest run completed with failures, returning exit code 1")
			return NewTestFailureError(z.result)
		}

		go func() {
			z.shutdownCallback(nil)
		}()
		return nil
	}

	z.wg.Add(1)
	go func() {
		defer z.wg.Done()
		z.config.Log.Debug("Starting periodic zest runner goroutine", "interval", z.config.RunInterval)

		for {
			select {
			case <-time.After(z.config.RunInterval):
				if !z.running.Load() {
					z.config.Log.Debug("Service stopped, exiting periodic zest runner")
					return
				}

				z.config.Log.Info("Running periodic zests")
				if err := z.runTests(); err != nil {
					z.config.Log.Error("Error running periodic zests", "error", err)
				}
				z.config.Log.Info("Zest run interval", "interval", z.config.RunInterval)

			case <-z.done:
				z.config.Log.Debug("Done signal received, stopping periodic zest runner")
				return

			case <-ctx.Done():
				z.config.Log.Debug("Context canceled, stopping periodic zest runner")
				z.running.Store(false)
				return
			}
		}
	}()
	z.config.Log.Debug("op-zest started successfully")
	return nil
}

// runTests performs one full run: discovery, execution, reporting
func (z *zest) runTests() error {
	cfg := z.config
	runID := uuid.New().String()
	lgr := cfg.Log.New("runID", runID)

	roots, err := z.registry.Discover(cfg.Root, cfg.IncludeDirs, cfg.Groups)
	if err != nil {
		metrics.RecordErrorDetails("discover", err)
		return NewRuntimeError(fmt.Errorf("failed to discover zests: %w", err))
	}
	if len(roots) == 0 {
		lgr.Warn("No zest roots found", "root", cfg.Root, "includeDirs", cfg.IncludeDirs, "groups", cfg.Groups)
	}

	// __failed__ reads the previous event logs, before this run truncates them
	allow, decodeWarnings, err := runner.ResolveAllowToRun(cfg.AllowToRun, cfg.OutputFolder)
	if err != nil {
		metrics.RecordErrorDetails("allow_to_run", err)
		return NewRuntimeError(err)
	}

	fileLogger, err := logging.NewFileLogger(cfg.OutputFolder, runID)
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to create file logger: %w", err))
	}

	seed := cfg.Seed
	if seed == 0 && !cfg.DisableShuffle {
		seed = rand.Int64()
	}
	if err := writeConfigSnapshot(cfg.OutputFolder, cfg.Snapshot(runID, seed)); err != nil {
		lgr.Warn("Failed to write config snapshot", "err", err)
	}

	verbosity := ui.Verbosity(cfg.Verbose)
	hooks := engine.MultiHooks{z.status}
	var trace *ui.TraceDisplay
	var board *ui.StatusBoard
	if cfg.Workers > 1 {
		// interleaved traces from several workers are unreadable
		if verbosity > ui.Silent {
			board = ui.NewStatusBoard(z.out)
		}
	} else {
		trace = ui.NewTraceDisplay(z.out, verbosity)
		hooks = append(hooks, trace)
	}

	progress := runner.NewNoOpProgressIndicator()
	if cfg.ShowProgress {
		progress = runner.NewConsoleProgressIndicator(lgr, cfg.ProgressInterval)
	}
	hooks = append(hooks, progress)

	lgr.Info("Running zests...", "roots", len(roots), "workers", cfg.Workers, "seed", seed)
	z.status.begin(runID, cfg.Workers)
	r, err := runner.NewRunner(runner.Config{
		Log:            lgr,
		Engine:         z.engine,
		Registry:       z.registry,
		RunID:          runID,
		OutputFolder:   cfg.OutputFolder,
		Capture:        cfg.Capture,
		AllowToRun:     allow,
		DisableShuffle: cfg.DisableShuffle,
		BypassSkip:     cfg.BypassSkip,
		Seed:           seed,
		Workers:        cfg.Workers,
		Launcher:       z.launcher,
		TickInterval:   cfg.TickInterval,
		OnTick: func(c *runner.Coordinator) {
			workers := c.Workers()
			z.status.updateWorkers(workers)
			if board != nil {
				board.Draw(workers)
			}
		},
		Hooks:      hooks,
		FileLogger: fileLogger,
	})
	if err != nil {
		progress.Stop()
		z.status.finish(nil)
		return NewRuntimeError(fmt.Errorf("failed to create runner: %w", err))
	}

	result, err := r.Run(z.ctx, roots)
	progress.Stop()
	if board != nil {
		board.Clear()
	}
	if trace != nil {
		trace.Finish()
	}
	z.status.finish(result)
	if err != nil {
		metrics.RecordErrorDetails("run", err)
		_ = fileLogger.Complete()
		return NewRuntimeError(err)
	}
	result.DecodeWarnings = append(decodeWarnings, result.DecodeWarnings...)
	z.result = result
	z.reporter.ReportResults(result)

	formatter := NewConsoleResultFormatter(lgr, z.out, projectRoot(cfg.Root), verbosity, fileLogger)
	if err := formatter.FormatResults(result); err != nil {
		lgr.Error("Failed to format results", "err", err)
	}
	if err := fileLogger.Complete(); err != nil {
		lgr.Error("Failed to complete file logger", "err", err)
	}

	lgr.Info("Zest run completed", "status", result.Status, "retcode", result.Retcode,
		"summary", fileLogger.GetSummaryFile())
	return nil
}

// projectRoot is where user code lives in error frames
func projectRoot(root string) string {
	if root != "" {
		return root
	}
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return wd
}

func writeConfigSnapshot(outputFolder string, snap *types.EffectiveConfigSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config snapshot: %w", err)
	}
	path := filepath.Join(outputFolder, ConfigSnapshotFilename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Stop stops the op-zest service.
// Stop implements the cliapp.Lifecycle interface.
func (z *zest) Stop(ctx context.Context) error {
	z.config.Log.Info("Stopping op-zest")

	if !z.running.Load() {
		z.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	z.running.Store(false)
	close(z.done)
	z.service.Shutdown()

	z.config.Log.Info("op-zest stopped successfully")
	return nil
}

// Stopped returns true if the op-zest service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (z *zest) Stopped() bool {
	return !z.running.Load()
}

// WaitForShutdown blocks until the periodic runner goroutine has exited
func (z *zest) WaitForShutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		z.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
