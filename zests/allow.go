package zests

import (
	"github.com/ethereum-optimism/infra/op-zest/engine"
	"github.com/ethereum-optimism/infra/op-zest/registry"
)

func init() {
	registry.Register("zest_allow_list", zestAllowList)
}

func zestAllowList(z *engine.Z) {
	var allow *engine.AllowList
	z.BeforeEach(func(z *engine.Z) {
		allow = engine.NewAllowList([]string{"a.b"})
	})

	z.It("it_allows_descendants", func(z *engine.Z) {
		for _, name := range []string{"a.b", "a.b.c", "a.b.c.d"} {
			if !allow.Allows(name) {
				z.Errorf("%s should be allowed", name)
			}
		}
	})

	z.It("it_allows_ancestors", func(z *engine.Z) {
		if !allow.Allows("a") {
			z.Fatalf("ancestor a should be allowed")
		}
		if !allow.AllowsRoot("a") {
			z.Errorf("root a should be allowed")
		}
	})

	z.It("it_rejects_siblings", func(z *engine.Z) {
		for _, name := range []string{"a.c", "a.bb", "b"} {
			if allow.Allows(name) {
				z.Errorf("%s should not be allowed", name)
			}
		}
	})

	z.Done()
}
