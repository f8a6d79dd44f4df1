package runner

import (
	"fmt"
	"strings"

	"github.com/ethereum-optimism/infra/op-zest/engine"
	"github.com/ethereum-optimism/infra/op-zest/logging"
	"github.com/ethereum-optimism/infra/op-zest/types"
)

// ResolveAllowToRun turns an allow-to-run value into an AllowList.
// AllowAll and the empty string give nil, which runs everything.
// AllowFailed reruns the zests that failed in the event logs found in
// outputFolder; it must be read before a new run truncates them.
func ResolveAllowToRun(spec, outputFolder string) (*engine.AllowList, []types.DecodeWarning, error) {
	spec = strings.TrimSpace(spec)
	switch spec {
	case "", AllowAll:
		return nil, nil, nil
	case AllowFailed:
		failed, warnings, err := logging.FailedFromEventLogs(outputFolder)
		if err != nil {
			return nil, warnings, fmt.Errorf("failed to read previous run from %s: %w", outputFolder, err)
		}
		return engine.NewAllowList(failed), warnings, nil
	default:
		return engine.NewAllowList(strings.Split(spec, AllowListSeparator)), nil, nil
	}
}
