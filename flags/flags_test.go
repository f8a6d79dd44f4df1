package flags

import (
	"strings"
	"testing"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// TestOptionalFlagsDontSetRequired asserts that all flags deemed optional set
// the Required field to false.
func TestOptionalFlagsDontSetRequired(t *testing.T) {
	for _, flag := range optionalFlags {
		reqFlag, ok := flag.(cli.RequiredFlag)
		require.True(t, ok)
		require.False(t, reqFlag.IsRequired())
	}
}

// TestUniqueFlags asserts that all flag names are unique, to avoid accidental conflicts between the many flags.
func TestUniqueFlags(t *testing.T) {
	seenCLI := make(map[string]struct{})
	for _, flag := range Flags {
		name := flag.Names()[0]
		if _, ok := seenCLI[name]; ok {
			t.Errorf("duplicate flag %s", name)
			continue
		}
		seenCLI[name] = struct{}{}
	}
}

func TestEnvVarFormat(t *testing.T) {
	for _, flag := range Flags {
		flagName := flag.Names()[0]

		t.Run(flagName, func(t *testing.T) {
			envFlagGetter, ok := flag.(interface {
				GetEnvVars() []string
			})
			require.True(t, ok, "must be able to cast the flag to an EnvVar interface")
			envFlags := envFlagGetter.GetEnvVars()
			require.Equal(t, 1, len(envFlags), "flags should have exactly one env var")

			expectedEnvVar := opservice.FlagNameToEnvVarName(flagName, EnvVarPrefix)
			require.Equal(t, expectedEnvVar, envFlags[0])
			require.True(t, strings.HasPrefix(envFlags[0], EnvVarPrefix+"_"))
		})
	}
}

func TestDefaults(t *testing.T) {
	app := &cli.App{
		Flags: Flags,
		Action: func(ctx *cli.Context) error {
			assert.Equal(t, DefaultAllowToRun, ctx.String(AllowToRun.Name))
			assert.Equal(t, DefaultOutputFolder, ctx.String(OutputFolder.Name))
			assert.Equal(t, DefaultWorkers, ctx.Int(Workers.Name))
			assert.Equal(t, DefaultVerbose, ctx.Int(Verbose.Name))
			assert.Equal(t, DefaultTickInterval, ctx.Duration(TickInterval.Name))
			assert.Zero(t, ctx.Duration(RunInterval.Name))
			assert.False(t, ctx.Bool(Capture.Name))
			return CheckRequired(ctx)
		},
	}
	require.NoError(t, app.Run([]string{"app"}))
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("OP_ZEST_WORKERS", "4")
	t.Setenv("OP_ZEST_ALLOW_TO_RUN", "__failed__")

	app := &cli.App{
		Flags: Flags,
		Action: func(ctx *cli.Context) error {
			assert.Equal(t, 4, ctx.Int(Workers.Name))
			assert.Equal(t, "__failed__", ctx.String(AllowToRun.Name))
			return nil
		},
	}
	require.NoError(t, app.Run([]string{"app"}))
}

func TestValidateVerbose(t *testing.T) {
	for level := 0; level <= 3; level++ {
		assert.NoError(t, ValidateVerbose(level))
	}
	assert.Error(t, ValidateVerbose(-1))
	assert.Error(t, ValidateVerbose(4))
}
