package main

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-zest/exitcodes"
	"github.com/ethereum-optimism/infra/op-zest/logging"
	"github.com/ethereum-optimism/infra/op-zest/runner"
)

const (
	helperEnv = "ZEST_CMD_HELPER"
	argsEnv   = "ZEST_CMD_ARGS"
)

// TestMain turns the test binary into op-zest when helperEnv is set. Worker
// processes re-execute the same binary with the worker subcommand.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		args := os.Args[1:]
		if len(args) == 0 || args[0] != runner.WorkerCommand {
			args = strings.Fields(os.Getenv(argsEnv))
		}
		os.Args = append([]string{"op-zest"}, args...)
		main()
		os.Exit(exitcodes.Success)
	}
	os.Exit(m.Run())
}

// runOpZest runs op-zest in a child process and returns its exit code
func runOpZest(t *testing.T, args ...string) (int, string) {
	t.Helper()
	cmd := exec.Command(os.Args[0])
	cmd.Env = append(os.Environ(),
		helperEnv+"=1",
		argsEnv+"="+strings.Join(append([]string{"--log.level=error", "--verbose=0"}, args...), " "),
	)
	out, err := cmd.CombinedOutput()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), string(out)
	}
	require.NoError(t, err, string(out))
	return exitcodes.Success, string(out)
}

// TestExitCodeBehavior verifies that op-zest returns the correct exit codes in run-once mode:
// - Exit code 0 when every zest passes
// - Exit code 1 when any zest fails
// - Exit code 2 when there's a runtime error
func TestExitCodeBehavior(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping CLI integration test in short mode")
	}

	testCases := []struct {
		name           string
		args           []string
		expectedStatus int
	}{
		{
			name:           "Passing zests should exit with code 0",
			expectedStatus: exitcodes.Success,
		},
		{
			name:           "Bypassed skip of a failing zest should exit with code 1",
			args:           []string{"--bypass-skip=zest_nesting.it_is_skipped"},
			expectedStatus: exitcodes.TestFailure,
		},
		{
			name:           "Invalid worker count should exit with code 2",
			args:           []string{"--workers=0"},
			expectedStatus: exitcodes.RuntimeErr,
		},
		{
			name:           "Missing profile should exit with code 2",
			args:           []string{"--config=does-not-exist.yaml"},
			expectedStatus: exitcodes.RuntimeErr,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			outputFolder := t.TempDir()
			args := append([]string{"--output-folder=" + outputFolder}, tc.args...)
			code, out := runOpZest(t, args...)
			assert.Equal(t, tc.expectedStatus, code, out)
		})
	}
}

func TestRunOnce_WritesArtifacts(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping CLI integration test in short mode")
	}

	for _, workers := range []string{"1", "2"} {
		t.Run("workers="+workers, func(t *testing.T) {
			outputFolder := t.TempDir()
			code, out := runOpZest(t, "--output-folder="+outputFolder, "--workers="+workers)
			require.Equal(t, exitcodes.Success, code, out)

			for _, root := range []string{"zest_names", "zest_allow_list", "zest_nesting"} {
				assert.FileExists(t, logging.EventLogPath(outputFolder, root))
			}
			assert.FileExists(t, filepath.Join(outputFolder, logging.SummaryFilename))
			assert.FileExists(t, filepath.Join(outputFolder, "effective-config.json"))

			summary, err := os.ReadFile(filepath.Join(outputFolder, logging.SummaryFilename))
			require.NoError(t, err)
			assert.Contains(t, string(summary), "SUCCESS")
		})
	}
}

func TestRerunFailed(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping CLI integration test in short mode")
	}

	outputFolder := t.TempDir()
	code, out := runOpZest(t, "--output-folder="+outputFolder, "--bypass-skip=zest_nesting.it_is_skipped")
	require.Equal(t, exitcodes.TestFailure, code, out)

	failed, _, err := logging.FailedFromEventLogs(outputFolder)
	require.NoError(t, err)
	assert.Contains(t, failed, "zest_nesting.it_is_skipped")

	// only the failed zest reruns, and without the bypass it is skipped again
	code, out = runOpZest(t, "--output-folder="+outputFolder, "--allow-to-run=__failed__")
	assert.Equal(t, exitcodes.Success, code, out)
}
