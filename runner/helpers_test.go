package runner

import (
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-zest/engine"
	"github.com/ethereum-optimism/infra/op-zest/registry"
	"github.com/ethereum-optimism/infra/op-zest/types"
)

// registerMath adds the classic arithmetic root: one pass, one panic, one skip
func registerMath(t testing.TB, reg *registry.Registry) *registry.Root {
	root, err := reg.Register("zest_math", func(z *engine.Z) {
		z.It("it_adds", func(z *engine.Z) {
			if 1+1 != 2 {
				z.Errorf("math is broken")
			}
		})
		z.It("it_divides", func(z *engine.Z) {
			zero := 0
			_ = 1 / zero
		})
		z.It("it_legacy", func(z *engine.Z) {
			z.Fatalf("should never run")
		}, engine.Skip("legacy behaviour"))
		z.Done()
	})
	require.NoError(t, err)
	return root
}

func registerPassing(t testing.TB, reg *registry.Registry, name string) *registry.Root {
	root, err := reg.Register(name, func(z *engine.Z) {
		z.It("it_works", func(z *engine.Z) {})
		z.Done()
	})
	require.NoError(t, err)
	return root
}

// gate blocks zest bodies until it is opened or their context ends
type gate struct {
	ch   chan struct{}
	once sync.Once
}

func newGate() *gate {
	return &gate{ch: make(chan struct{})}
}

func (g *gate) open() {
	g.once.Do(func() { close(g.ch) })
}

func (g *gate) wait(z *engine.Z) {
	select {
	case <-g.ch:
	case <-z.Context().Done():
	}
}

func registerBlocking(t testing.TB, reg *registry.Registry, name string, g *gate) *registry.Root {
	root, err := reg.Register(name, func(z *engine.Z) {
		g.wait(z)
	})
	require.NoError(t, err)
	return root
}

// hookRecorder collects records delivered to hooks
type hookRecorder struct {
	mu     sync.Mutex
	starts []*types.ResultRecord
	stops  []*types.ResultRecord
}

func (h *hookRecorder) OnTestStart(rec *types.ResultRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts = append(h.starts, rec)
}

func (h *hookRecorder) OnTestStop(rec *types.ResultRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops = append(h.stops, rec)
}

func (h *hookRecorder) rootStarts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var names []string
	for _, rec := range h.starts {
		if rec.Depth() == 0 {
			names = append(names, rec.FullName)
		}
	}
	return names
}

func testConfig(t testing.TB, reg *registry.Registry) Config {
	return Config{
		Log:            log.New(),
		Registry:       reg,
		RunID:          "test-run",
		OutputFolder:   t.TempDir(),
		DisableShuffle: true,
	}
}

func ordersFor(outputFolder string, roots ...*registry.Root) []WorkOrder {
	orders := make([]WorkOrder, 0, len(roots))
	for _, root := range roots {
		orders = append(orders, WorkOrder{
			FullName:       root.Name,
			ModuleLocator:  root.ModuleLocator,
			OutputFolder:   outputFolder,
			RunAll:         true,
			DisableShuffle: true,
		})
	}
	return orders
}
