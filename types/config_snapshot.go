package types

import "time"

// EffectiveConfigSnapshot represents the effective runtime configuration grouped by domain.
type EffectiveConfigSnapshot struct {
	Discovery DiscoveryConfigSnapshot `json:"discovery"`
	Execution ExecutionConfigSnapshot `json:"execution"`
	Output    OutputConfigSnapshot    `json:"output"`

	RunID string `json:"runId,omitempty"`
}

type DiscoveryConfigSnapshot struct {
	Root        string   `json:"root"`
	IncludeDirs []string `json:"includeDirs,omitempty"`
	Groups      []string `json:"groups,omitempty"`
	AllowToRun  string   `json:"allowToRun"`
}

type ExecutionConfigSnapshot struct {
	Workers        int           `json:"workers"`
	DisableShuffle bool          `json:"disableShuffle"`
	Seed           int64         `json:"seed"`
	BypassSkip     []string      `json:"bypassSkip,omitempty"`
	RunInterval    time.Duration `json:"runInterval"`
	RunOnce        bool          `json:"runOnce"`
}

type OutputConfigSnapshot struct {
	OutputFolder string        `json:"outputFolder"`
	Capture      bool          `json:"capture"`
	Verbose      int           `json:"verbose"`
	TickInterval time.Duration `json:"tickInterval"`
}
