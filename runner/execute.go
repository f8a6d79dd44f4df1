package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum-optimism/infra/op-zest/engine"
	"github.com/ethereum-optimism/infra/op-zest/logging"
	"github.com/ethereum-optimism/infra/op-zest/registry"
	"github.com/ethereum-optimism/infra/op-zest/types"
)

// rootRun holds what is needed to execute one root in this process
type rootRun struct {
	engine       *engine.Engine
	root         *registry.Root
	outputFolder string
	capture      bool
	opts         engine.RunOptions
	hooks        engine.Hooks
}

// execute runs the root against a fresh RunState. Every record is written to
// the root's event log before it reaches the hooks. The returned error is a
// runtime error; zest failures are in the state. The event log is closed and
// captured output restored even when a panic unwinds through here.
func (r rootRun) execute(ctx context.Context) (state *engine.RunState, err error) {
	evt, err := logging.OpenEventLog(r.outputFolder, r.root.Name)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := evt.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close event log: %w", closeErr)
		}
	}()

	var emitErr error
	emit := func(rec *types.ResultRecord) {
		if emitErr != nil {
			return
		}
		emitErr = evt.Emit(rec)
	}
	hooks := engine.MultiHooks{
		engine.HookFuncs{Start: emit, Stop: emit},
		r.hooks,
	}

	if r.capture {
		restore, captureErr := captureOutput(filepath.Join(r.outputFolder, r.root.Name+CaptureExt))
		if captureErr != nil {
			return nil, captureErr
		}
		defer func() {
			if restoreErr := restore(); restoreErr != nil && err == nil {
				err = restoreErr
			}
		}()
	}

	state = engine.NewRunState(r.opts)
	if err := r.engine.RunRoot(ctx, r.root.Node, state, hooks); err != nil {
		return state, err
	}
	return state, emitErr
}

// captureOutput points os.Stdout and os.Stderr at path until the returned
// function is called. Only one capture may be active per process.
func captureOutput(path string) (func() error, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file %s: %w", path, err)
	}

	stdout, stderr := os.Stdout, os.Stderr
	os.Stdout, os.Stderr = file, file
	return func() error {
		os.Stdout, os.Stderr = stdout, stderr
		return errors.Join(file.Sync(), file.Close())
	}, nil
}
