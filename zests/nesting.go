package zests

import (
	"github.com/ethereum-optimism/infra/op-zest/engine"
	"github.com/ethereum-optimism/infra/op-zest/registry"
)

func init() {
	registry.Register("zest_nesting", zestNesting, engine.Group("engine"))
}

// zestNesting checks the order in which hooks and bodies run
func zestNesting(z *engine.Z) {
	var calls []string
	z.BeforeEach(func(z *engine.Z) { calls = append(calls, "before:"+z.Name()) })
	z.AfterEach(func(z *engine.Z) { calls = append(calls, "after:"+z.Name()) })

	z.It("it_runs_hooks_around_children", func(z *engine.Z) {
		if len(calls) == 0 || calls[len(calls)-1] != "before:"+z.Name() {
			z.Fatalf("BeforeEach did not run before %s: %v", z.Name(), calls)
		}
		calls = append(calls, "body:"+z.Name())

		z.It("it_sees_parent_state", func(z *engine.Z) {
			if calls[len(calls)-1] != "body:it_runs_hooks_around_children" {
				z.Errorf("child ran before its parent body finished: %v", calls)
			}
		})
		z.Done()
	})

	z.It("it_is_skipped", func(z *engine.Z) {
		z.Errorf("skipped zests must not run")
	}, engine.Skip("skip marks are honoured"))

	z.Done()
}
