package zest

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-zest/flags"
	"github.com/ethereum-optimism/infra/op-zest/types"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

// Config holds the application configuration
type Config struct {
	Root         string   // Directory whose files declare the zests to run, "" for all
	IncludeDirs  []string // Directories under Root to search
	AllowToRun   string   // Allow-list spec: __all__, __failed__ or a colon list
	Groups       []string // Root groups to run, empty for all
	BypassSkip   []string // Full names whose skip marks are ignored
	OutputFolder string   // Absolute path of the folder receiving run artifacts

	DisableShuffle bool
	Seed           int64 // 0 picks a fresh seed for every run
	Workers        int   // 1 runs in-process
	Capture        bool
	Verbose        int

	TickInterval     time.Duration // Coordinator poll interval
	RunInterval      time.Duration // Interval between runs
	RunOnce          bool          // Exit after one run
	ShowProgress     bool          // Log periodic progress updates during a run
	ProgressInterval time.Duration // Interval between progress updates when ShowProgress is 'true'

	StatusAddr  string // "" disables /healthz and /status
	MetricsAddr string // "" disables /metrics
	ConfigFile  string // YAML profile the values were merged from

	Log log.Logger
}

// Profile is the YAML run profile. Unset fields keep the flag defaults.
type Profile struct {
	Root           *string  `yaml:"root"`
	IncludeDirs    []string `yaml:"include_dirs"`
	AllowToRun     *string  `yaml:"allow_to_run"`
	Groups         []string `yaml:"groups"`
	BypassSkip     []string `yaml:"bypass_skip"`
	OutputFolder   *string  `yaml:"output_folder"`
	DisableShuffle *bool    `yaml:"disable_shuffle"`
	Seed           *int64   `yaml:"seed"`
	Workers        *int     `yaml:"workers"`
	Capture        *bool    `yaml:"capture"`
	Verbose        *int     `yaml:"verbose"`
}

// LoadProfile reads a YAML run profile. Unknown keys are rejected.
func LoadProfile(path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile: %w", err)
	}
	defer f.Close()

	var p Profile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to parse profile '%s': %w", path, err)
	}
	return &p, nil
}

// SplitList splits a colon-delimited list, dropping blank entries
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ":") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// NewConfig creates a new Config from cli context. Values from the --config
// profile apply to every flag that was not set explicitly.
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	cfg := &Config{
		Root:             ctx.String(flags.Root.Name),
		IncludeDirs:      SplitList(ctx.String(flags.IncludeDirs.Name)),
		AllowToRun:       ctx.String(flags.AllowToRun.Name),
		Groups:           SplitList(ctx.String(flags.Groups.Name)),
		BypassSkip:       SplitList(ctx.String(flags.BypassSkip.Name)),
		OutputFolder:     ctx.String(flags.OutputFolder.Name),
		DisableShuffle:   ctx.Bool(flags.DisableShuffle.Name),
		Seed:             ctx.Int64(flags.Seed.Name),
		Workers:          ctx.Int(flags.Workers.Name),
		Capture:          ctx.Bool(flags.Capture.Name),
		Verbose:          ctx.Int(flags.Verbose.Name),
		TickInterval:     ctx.Duration(flags.TickInterval.Name),
		RunInterval:      ctx.Duration(flags.RunInterval.Name),
		ShowProgress:     ctx.Bool(flags.ShowProgress.Name),
		ProgressInterval: ctx.Duration(flags.ProgressInterval.Name),
		StatusAddr:       ctx.String(flags.StatusAddr.Name),
		ConfigFile:       ctx.String(flags.ConfigFile.Name),
		Log:              log,
	}

	if cfg.ConfigFile != "" {
		profile, err := LoadProfile(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg.applyProfile(profile, ctx.IsSet)
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	if err := metricsCfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid metrics config: %w", err)
	}
	if metricsCfg.Enabled {
		cfg.MetricsAddr = net.JoinHostPort(metricsCfg.ListenAddr, strconv.Itoa(metricsCfg.ListenPort))
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyProfile copies profile values into fields whose flag isSet reports
// as not given on the command line
func (c *Config) applyProfile(p *Profile, isSet func(string) bool) {
	setString := func(flag string, dst *string, v *string) {
		if v != nil && !isSet(flag) {
			*dst = *v
		}
	}
	setList := func(flag string, dst *[]string, v []string) {
		if v != nil && !isSet(flag) {
			*dst = v
		}
	}
	setBool := func(flag string, dst *bool, v *bool) {
		if v != nil && !isSet(flag) {
			*dst = *v
		}
	}
	setInt := func(flag string, dst *int, v *int) {
		if v != nil && !isSet(flag) {
			*dst = *v
		}
	}

	setString(flags.Root.Name, &c.Root, p.Root)
	setList(flags.IncludeDirs.Name, &c.IncludeDirs, p.IncludeDirs)
	setString(flags.AllowToRun.Name, &c.AllowToRun, p.AllowToRun)
	setList(flags.Groups.Name, &c.Groups, p.Groups)
	setList(flags.BypassSkip.Name, &c.BypassSkip, p.BypassSkip)
	setString(flags.OutputFolder.Name, &c.OutputFolder, p.OutputFolder)
	setBool(flags.DisableShuffle.Name, &c.DisableShuffle, p.DisableShuffle)
	setBool(flags.Capture.Name, &c.Capture, p.Capture)
	setInt(flags.Workers.Name, &c.Workers, p.Workers)
	setInt(flags.Verbose.Name, &c.Verbose, p.Verbose)
	if p.Seed != nil && !isSet(flags.Seed.Name) {
		c.Seed = *p.Seed
	}
}

// finalize validates the merged values and resolves paths
func (c *Config) finalize() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if err := flags.ValidateVerbose(c.Verbose); err != nil {
		return err
	}
	if c.TickInterval <= 0 {
		return errors.New("tick interval must be positive")
	}
	if c.RunInterval < 0 {
		return errors.New("run interval must not be negative")
	}
	c.RunOnce = c.RunInterval == 0
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = flags.DefaultProgressInterval
	}

	if c.OutputFolder == "" {
		c.OutputFolder = flags.DefaultOutputFolder
	}
	absOutput, err := filepath.Abs(c.OutputFolder)
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path for output folder '%s': %w", c.OutputFolder, err)
	}
	c.OutputFolder = absOutput

	if c.Root != "" {
		absRoot, err := filepath.Abs(c.Root)
		if err != nil {
			return fmt.Errorf("failed to resolve absolute path for root '%s': %w", c.Root, err)
		}
		c.Root = absRoot
	}
	return nil
}

// Snapshot returns the effective configuration of one run
func (c *Config) Snapshot(runID string, seed int64) *types.EffectiveConfigSnapshot {
	return &types.EffectiveConfigSnapshot{
		RunID: runID,
		Discovery: types.DiscoveryConfigSnapshot{
			Root:        c.Root,
			IncludeDirs: c.IncludeDirs,
			Groups:      c.Groups,
			AllowToRun:  c.AllowToRun,
		},
		Execution: types.ExecutionConfigSnapshot{
			Workers:        c.Workers,
			DisableShuffle: c.DisableShuffle,
			Seed:           seed,
			BypassSkip:     c.BypassSkip,
			RunInterval:    c.RunInterval,
			RunOnce:        c.RunOnce,
		},
		Output: types.OutputConfigSnapshot{
			OutputFolder: c.OutputFolder,
			Capture:      c.Capture,
			Verbose:      c.Verbose,
			TickInterval: c.TickInterval,
		},
	}
}
