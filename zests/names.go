// Package zests holds the zest trees op-zest runs against itself.
package zests

import (
	"github.com/ethereum-optimism/infra/op-zest/engine"
	"github.com/ethereum-optimism/infra/op-zest/registry"
	"github.com/ethereum-optimism/infra/op-zest/types"
)

func init() {
	registry.Register("zest_names", zestNames)
}

func zestNames(z *engine.Z) {
	z.It("it_joins_segments", func(z *engine.Z) {
		if got := types.JoinFullName("a", "", "b", "c"); got != "a.b.c" {
			z.Errorf("JoinFullName() = %q, want %q", got, "a.b.c")
		}
	})

	z.It("it_splits_segments", func(z *engine.Z) {
		if got := types.RootName("a.b.c"); got != "a" {
			z.Errorf("RootName() = %q, want %q", got, "a")
		}
		if got := types.ShortName("a.b.c"); got != "c" {
			z.Errorf("ShortName() = %q, want %q", got, "c")
		}
		ancestors := types.Ancestors("a.b.c")
		if len(ancestors) != 2 || ancestors[0] != "a" || ancestors[1] != "a.b" {
			z.Errorf("Ancestors() = %v", ancestors)
		}
	})

	z.It("it_rejects_bad_names", func(z *engine.Z) {
		for _, name := range []string{"", "a.b", "a b", "a:b"} {
			if types.ValidateLocalName(name) == nil {
				z.Errorf("ValidateLocalName(%q) accepted an invalid name", name)
			}
		}
	})

	z.Done()
}
