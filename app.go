package zest

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-zest/engine"
	"github.com/ethereum-optimism/infra/op-zest/exitcodes"
	"github.com/ethereum-optimism/infra/op-zest/flags"
	"github.com/ethereum-optimism/infra/op-zest/registry"
	"github.com/ethereum-optimism/infra/op-zest/runner"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

// NewApp builds the command line application running the roots of reg.
// The hidden worker subcommand is what multi-process runs re-execute.
func NewApp(reg *registry.Registry, version string) *cli.App {
	app := cli.NewApp()
	app.Version = version
	app.Name = "op-zest"
	app.Usage = "Nested zest runner"
	app.Description = "op-zest discovers registered zest trees and runs them in-process or across worker processes"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(func(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
		return run(ctx, closeApp, reg, version)
	})
	app.Commands = []*cli.Command{
		listCommand(reg),
		{
			Name:   runner.WorkerCommand,
			Usage:  "Serve work orders from a coordinating op-zest process",
			Hidden: true,
			Action: func(ctx *cli.Context) error {
				return serveWorker(ctx, reg)
			},
		},
	}
	app.ExitErrHandler = exitErrHandler
	return app
}

// exitErrHandler exits with the code of the first cli.ExitCoder in err's
// chain. RuntimeError and TestFailureError both carry one.
func exitErrHandler(c *cli.Context, err error) {
	if err == nil {
		return
	}
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		cli.HandleExitCoder(exitErr)
		return
	}
	// unclassified errors count as a failed run
	cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.TestFailure))
}

// Main runs the application over reg with os.Args. Binaries declaring zests
// call it from their main function.
func Main(reg *registry.Registry, version string) {
	app := NewApp(reg, version)

	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc, reg *registry.Registry, version string) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	cfg, err := NewConfig(ctx, log)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}
	cfg.Log.Debug("Config", "config", cfg)

	z, err := New(ctx.Context, cfg, version, reg, closeApp)
	if err != nil {
		return nil, NewRuntimeError(fmt.Errorf("failed to create zest: %w", err))
	}
	return z, nil
}

// serveWorker runs inside a process started by runner.ProcessLauncher.
// Stdout belongs to the zests, so logs go to stderr.
func serveWorker(ctx *cli.Context, reg *registry.Registry) error {
	lgr := oplog.NewLogger(os.Stderr, oplog.ReadCLIConfig(ctx)).New("component", "worker", "pid", os.Getpid())
	if err := runner.ServeProcessWorker(ctx.Context, lgr, reg, engine.NewEngine(lgr)); err != nil {
		lgr.Error("Worker failed", "err", err)
		return NewRuntimeError(err)
	}
	return nil
}
