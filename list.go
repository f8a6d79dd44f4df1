package zest

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-zest/flags"
	"github.com/ethereum-optimism/infra/op-zest/registry"
)

// ListRoots prints the discovered roots without running them
func ListRoots(out io.Writer, roots []*registry.Root) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle(fmt.Sprintf("Zest Roots (%d)", len(roots)))
	t.AppendHeader(table.Row{"ROOT", "GROUPS", "SKIP", "MODULE", "SOURCE"})
	for _, root := range roots {
		t.AppendRow(table.Row{
			root.Name,
			strings.Join(root.Groups(), ","),
			strings.Join(root.Node.SkipReasons, ","),
			root.ModuleLocator,
			root.Source.String(),
		})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}

func listCommand(reg *registry.Registry) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List the zest roots --root, --include-dirs and --groups select",
		Action: func(ctx *cli.Context) error {
			roots, err := reg.Discover(
				ctx.String(flags.Root.Name),
				SplitList(ctx.String(flags.IncludeDirs.Name)),
				SplitList(ctx.String(flags.Groups.Name)),
			)
			if err != nil {
				return NewRuntimeError(fmt.Errorf("failed to discover zests: %w", err))
			}
			ListRoots(ctx.App.Writer, roots)
			return nil
		},
	}
}
