package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_ZEST"

// Defaults shared with the YAML profile
const (
	DefaultAllowToRun       = "__all__"
	DefaultOutputFolder     = ".zest_results"
	DefaultWorkers          = 1
	DefaultVerbose          = 1
	DefaultTickInterval     = 50 * time.Millisecond
	DefaultProgressInterval = 30 * time.Second
)

var (
	Root = &cli.StringFlag{
		Name:    "root",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ROOT"),
		Usage:   "Directory whose source files declare the zests to run. Empty runs every zest compiled into the binary",
	}
	IncludeDirs = &cli.StringFlag{
		Name:    "include-dirs",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "INCLUDE_DIRS"),
		Usage:   "Colon-delimited list of directories under --root to search",
	}
	AllowToRun = &cli.StringFlag{
		Name:    "allow-to-run",
		Value:   DefaultAllowToRun,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ALLOW_TO_RUN"),
		Usage:   "Colon-delimited list of full zest names (eg. 'zest_name.it_tests') allowed to run. Specials: '__all__', '__failed__'",
	}
	Groups = &cli.StringFlag{
		Name:    "groups",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GROUPS"),
		Usage:   "Colon-delimited list of root groups to run. Empty runs every group",
	}
	DisableShuffle = &cli.BoolFlag{
		Name:    "disable-shuffle",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DISABLE_SHUFFLE"),
		Usage:   "Run children in declaration order instead of shuffling them",
	}
	Seed = &cli.Int64Flag{
		Name:    "seed",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SEED"),
		Usage:   "Shuffle seed. 0 picks a random seed that is logged",
	}
	Workers = &cli.IntFlag{
		Name:    "workers",
		Value:   DefaultWorkers,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WORKERS"),
		Usage:   "Number of worker processes. 1 runs in-process",
	}
	Capture = &cli.BoolFlag{
		Name:    "capture",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CAPTURE"),
		Usage:   "Capture each root's stdout/stderr into <output-folder>/<root>.out",
	}
	BypassSkip = &cli.StringFlag{
		Name:    "bypass-skip",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BYPASS_SKIP"),
		Usage:   "Colon-delimited list of full zest names whose skip marks are ignored",
	}
	OutputFolder = &cli.StringFlag{
		Name:    "output-folder",
		Value:   DefaultOutputFolder,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "OUTPUT_FOLDER"),
		Usage:   "Folder receiving event logs, captured output and the run summary",
	}
	Verbose = &cli.IntFlag{
		Name:    "verbose",
		Value:   DefaultVerbose,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "VERBOSE"),
		Usage:   "0=silent, 1=dot-mode, 2=run-trace, 3=full-trace",
	}
	TickInterval = &cli.DurationFlag{
		Name:    "tick-interval",
		Value:   DefaultTickInterval,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TICK_INTERVAL"),
		Usage:   "How often the coordinator polls workers and redraws their status",
	}
	StatusAddr = &cli.StringFlag{
		Name:    "status.addr",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STATUS_ADDR"),
		Usage:   "Address serving /healthz and /status (eg. '0.0.0.0:8080'). Empty disables it",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	ConfigFile = &cli.StringFlag{
		Name:    "config",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:   "Path to a YAML run profile (eg. 'zest.yaml'). Flags set explicitly take precedence",
	}
	ShowProgress = &cli.BoolFlag{
		Name:    "show-progress",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_PROGRESS"),
		Usage:   "Log periodic progress updates during a run",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   DefaultProgressInterval,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_INTERVAL"),
		Usage:   "Interval between progress updates when --show-progress is set",
	}
)

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	Root,
	IncludeDirs,
	AllowToRun,
	Groups,
	DisableShuffle,
	Seed,
	Workers,
	Capture,
	BypassSkip,
	OutputFolder,
	Verbose,
	TickInterval,
	StatusAddr,
	RunInterval,
	ConfigFile,
	ShowProgress,
	ProgressInterval,
}

var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}

// ValidateVerbose rejects verbosity levels outside 0..3
func ValidateVerbose(level int) error {
	if level < 0 || level > 3 {
		return fmt.Errorf("verbose must be between 0 and 3, got %d", level)
	}
	return nil
}
