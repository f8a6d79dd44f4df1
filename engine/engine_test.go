package engine_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-zest/engine"
	"github.com/ethereum-optimism/infra/op-zest/types"
)

// recorder collects emitted records in order
type recorder struct {
	starts []*types.ResultRecord
	stops  []*types.ResultRecord
}

func (r *recorder) OnTestStart(rec *types.ResultRecord) { r.starts = append(r.starts, rec) }
func (r *recorder) OnTestStop(rec *types.ResultRecord)  { r.stops = append(r.stops, rec) }

func (r *recorder) stop(fullName string) *types.ResultRecord {
	for _, rec := range r.stops {
		if rec.FullName == fullName {
			return rec
		}
	}
	return nil
}

func newEngine() *engine.Engine {
	return engine.NewEngine(log.New())
}

func mathRoot() *engine.TestNode {
	return engine.NewTestNode("zest_math", func(z *engine.Z) {
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
	}, types.SourceLocation{File: "math_zest.go", Line: 1})
}

func TestRunRoot_MathScenario(t *testing.T) {
	rec := &recorder{}
	state := engine.NewRunState(engine.RunOptions{Seed: 1})

	err := newEngine().RunRoot(context.Background(), mathRoot(), state, rec)
	require.NoError(t, err)

	require.Len(t, state.CallErrors, 1)
	assert.Contains(t, state.CallErrors[0].Error.Message, "divide by zero")
	assert.Equal(t, []string{"zest_math", "zest_math.it_divides"}, state.CallErrors[0].Stack)

	legacy := rec.stop("zest_math.it_legacy")
	require.NotNil(t, legacy)
	assert.Equal(t, "legacy behaviour", legacy.Skip)
	assert.Equal(t, types.TestStatusSkip, legacy.Status())

	assert.ElementsMatch(t,
		[]string{"zest_math", "zest_math.it_adds", "zest_math.it_divides", "zest_math.it_legacy"},
		state.CallLog)
	assert.Equal(t, "zest_math", state.CallLog[len(state.CallLog)-1], "root finishes last")
	assert.Empty(t, state.CallStack)
	assert.Empty(t, state.CallWarnings)
}

func TestRunRoot_RecordsArePaired(t *testing.T) {
	rec := &recorder{}
	state := engine.NewRunState(engine.RunOptions{Seed: 7, Pid: 4242})

	require.NoError(t, newEngine().RunRoot(context.Background(), mathRoot(), state, rec))
	require.Len(t, rec.starts, 4)
	require.Len(t, rec.stops, 4)

	for _, start := range rec.starts {
		assert.True(t, start.IsRunning)
		assert.Equal(t, 4242, start.Pid)
		assert.Equal(t, types.UnassignedWorker, start.WorkerIndex)

		stop := rec.stop(start.FullName)
		require.NotNil(t, stop, "missing stop for %s", start.FullName)
		assert.False(t, stop.IsRunning)
		assert.Equal(t, start.CallStack, stop.CallStack)
		assert.Equal(t, start.FullName, stop.CallStack[len(stop.CallStack)-1])
	}
	assert.Equal(t, "zest_math", rec.starts[0].FullName)
}

func TestRunRoot_DisableShuffleKeepsDeclarationOrder(t *testing.T) {
	root := engine.NewTestNode("ordered", func(z *engine.Z) {
		for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
			z.It(name, func(z *engine.Z) {})
		}
		z.Done()
	}, types.SourceLocation{})

	state := engine.NewRunState(engine.RunOptions{DisableShuffle: true})
	require.NoError(t, newEngine().RunRoot(context.Background(), root, state, nil))

	assert.Equal(t, []string{
		"ordered.a", "ordered.b", "ordered.c", "ordered.d", "ordered.e", "ordered.f", "ordered",
	}, state.CallLog)
}

func TestRunRoot_ShuffleIsSeeded(t *testing.T) {
	root := engine.NewTestNode("shuffled", func(z *engine.Z) {
		for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
			z.It(name, func(z *engine.Z) {})
		}
		z.Done()
	}, types.SourceLocation{})

	run := func(seed int64) []string {
		state := engine.NewRunState(engine.RunOptions{Seed: seed})
		require.NoError(t, newEngine().RunRoot(context.Background(), root, state, nil))
		return state.CallLog
	}

	first := run(99)
	assert.Equal(t, first, run(99), "same seed should give same order")
	assert.Len(t, first, 9)
}

func TestRunRoot_Idempotent(t *testing.T) {
	type outcome struct {
		name string
		err  string
		skip string
	}
	collect := func() []outcome {
		rec := &recorder{}
		state := engine.NewRunState(engine.RunOptions{Seed: 3})
		require.NoError(t, newEngine().RunRoot(context.Background(), mathRoot(), state, rec))
		var out []outcome
		for _, stop := range rec.stops {
			o := outcome{name: stop.FullName, skip: stop.Skip}
			if stop.Error != nil {
				o.err = stop.Error.Message
			}
			out = append(out, o)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
		return out
	}

	assert.Equal(t, collect(), collect())
}

func TestRunRoot_AllowList(t *testing.T) {
	tests := []struct {
		name      string
		allow     []string
		wantRun   []string
		wantSkips map[string]string
	}{
		{
			name:    "single leaf",
			allow:   []string{"zest_math.it_adds"},
			wantRun: []string{"zest_math", "zest_math.it_adds"},
			wantSkips: map[string]string{
				"zest_math.it_divides": engine.SkipReasonFiltered,
				"zest_math.it_legacy":  "legacy behaviour",
			},
		},
		{
			name:    "root prefix allows whole subtree",
			allow:   []string{"zest_math"},
			wantRun: []string{"zest_math", "zest_math.it_adds", "zest_math.it_divides"},
			wantSkips: map[string]string{
				"zest_math.it_legacy": "legacy behaviour",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			state := engine.NewRunState(engine.RunOptions{AllowToRun: engine.NewAllowList(tt.allow)})
			require.NoError(t, newEngine().RunRoot(context.Background(), mathRoot(), state, rec))

			var ran []string
			for _, stop := range rec.stops {
				if stop.Skip == "" {
					ran = append(ran, stop.FullName)
				} else {
					assert.Equal(t, tt.wantSkips[stop.FullName], stop.Skip, stop.FullName)
				}
			}
			assert.ElementsMatch(t, tt.wantRun, ran)
		})
	}
}

func TestRunRoot_FilteredRootRunsNothing(t *testing.T) {
	rec := &recorder{}
	state := engine.NewRunState(engine.RunOptions{AllowToRun: engine.NewAllowList([]string{"other"})})
	require.NoError(t, newEngine().RunRoot(context.Background(), mathRoot(), state, rec))

	require.Len(t, rec.stops, 1)
	assert.Equal(t, engine.SkipReasonFiltered, rec.stops[0].Skip)
	assert.Equal(t, []string{"zest_math"}, state.CallLog)
}

func TestRunRoot_SkipSubtreeAndBypass(t *testing.T) {
	build := func(ran *[]string) *engine.TestNode {
		return engine.NewTestNode("skippy", func(z *engine.Z) {
			z.It("branch", func(z *engine.Z) {
				*ran = append(*ran, "branch")
				z.It("leaf", func(z *engine.Z) {
					*ran = append(*ran, "leaf")
				})
				z.Done()
			}, engine.Skip("not today"), engine.Skip("flaky"))
			z.Done()
		}, types.SourceLocation{})
	}

	t.Run("skipped", func(t *testing.T) {
		var ran []string
		rec := &recorder{}
		state := engine.NewRunState(engine.RunOptions{})
		require.NoError(t, newEngine().RunRoot(context.Background(), build(&ran), state, rec))

		assert.Empty(t, ran)
		stop := rec.stop("skippy.branch")
		require.NotNil(t, stop)
		assert.Equal(t, "not today; flaky", stop.Skip)
		assert.Nil(t, rec.stop("skippy.branch.leaf"), "children of a skipped zest are never entered")
	})

	t.Run("bypassed", func(t *testing.T) {
		var ran []string
		state := engine.NewRunState(engine.RunOptions{BypassSkip: []string{"skippy.branch"}})
		require.NoError(t, newEngine().RunRoot(context.Background(), build(&ran), state, nil))

		assert.Equal(t, []string{"branch", "leaf"}, ran)
		assert.Contains(t, state.CallLog, "skippy.branch.leaf")
	})
}

func TestRunRoot_MissingDone(t *testing.T) {
	ran := false
	root := engine.NewTestNode("forgetful", func(z *engine.Z) {
		z.It("child", func(z *engine.Z) { ran = true })
	}, types.SourceLocation{File: "forgetful_zest.go", Line: 12})

	state := engine.NewRunState(engine.RunOptions{})
	require.NoError(t, newEngine().RunRoot(context.Background(), root, state, nil))

	assert.False(t, ran)
	assert.Equal(t, []string{"forgetful"}, state.CallLog)
	require.Len(t, state.CallWarnings, 1)
	assert.Equal(t,
		"zest 'forgetful' (@ forgetful_zest.go:12) did not terminate with a call to Done()",
		state.CallWarnings[0])
	assert.Empty(t, state.CallErrors)
}

func TestRunRoot_AuthoringWarnings(t *testing.T) {
	var leaked *engine.Z
	root := engine.NewTestNode("sloppy", func(z *engine.Z) {
		z.It("twice", func(z *engine.Z) {})
		z.It("twice", func(z *engine.Z) {})
		z.It("bad.name", func(z *engine.Z) {})
		z.It("keeper", func(z *engine.Z) { leaked = z })
		z.Done()
	}, types.SourceLocation{})

	state := engine.NewRunState(engine.RunOptions{DisableShuffle: true})
	require.NoError(t, newEngine().RunRoot(context.Background(), root, state, nil))
	require.NotNil(t, leaked)
	leaked.It("late", func(z *engine.Z) {})

	assert.Equal(t, []string{"sloppy.twice", "sloppy.keeper", "sloppy"}, state.CallLog)
	require.Len(t, state.CallWarnings, 3)
	assert.Contains(t, state.CallWarnings[0], "more than once")
	assert.Contains(t, state.CallWarnings[1], "cannot contain")
	assert.Contains(t, state.CallWarnings[2], "after its body returned")
}

func TestRunRoot_FailuresAreTrapped(t *testing.T) {
	tests := []struct {
		name      string
		body      func(z *engine.Z)
		wantClass string
		wantMsg   string
	}{
		{
			name:      "fatalf",
			body:      func(z *engine.Z) { z.Fatalf("expected %d got %d", 1, 2) },
			wantClass: "Failure",
			wantMsg:   "expected 1 got 2",
		},
		{
			name: "errorf keeps first",
			body: func(z *engine.Z) {
				z.Errorf("first")
				z.Errorf("second")
			},
			wantClass: "Failure",
			wantMsg:   "first",
		},
		{
			name:      "panic with error",
			body:      func(z *engine.Z) { panic(errors.New("boom")) },
			wantClass: "errorString",
			wantMsg:   "boom",
		},
		{
			name:      "panic with string",
			body:      func(z *engine.Z) { panic("kaput") },
			wantClass: "panic",
			wantMsg:   "kaput",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			childRan := false
			root := engine.NewTestNode("trap", func(z *engine.Z) {
				z.It("failing", func(z *engine.Z) {
					z.It("never", func(z *engine.Z) { childRan = true })
					z.Done()
					tt.body(z)
				})
				z.It("sibling", func(z *engine.Z) {})
				z.Done()
			}, types.SourceLocation{})

			state := engine.NewRunState(engine.RunOptions{})
			require.NoError(t, newEngine().RunRoot(context.Background(), root, state, nil))

			require.Len(t, state.CallErrors, 1)
			info := state.CallErrors[0].Error
			assert.Equal(t, tt.wantClass, info.ClassName)
			assert.Equal(t, tt.wantMsg, info.Message)
			assert.NotEmpty(t, info.Frames)
			for _, frame := range info.Frames {
				assert.False(t, strings.Contains(frame, " in runtime."), frame)
			}
			assert.False(t, childRan, "children of a failed body are not run")
			assert.Contains(t, state.CallLog, "trap.sibling")
		})
	}
}

func TestRunRoot_DynamicChildrenDoNotMutateNode(t *testing.T) {
	root := engine.NewTestNode("mixed", func(z *engine.Z) {
		z.It("dynamic", func(z *engine.Z) {})
		z.Done()
	}, types.SourceLocation{})
	root.AddChild("static", func(z *engine.Z) {})

	for i := 0; i < 2; i++ {
		state := engine.NewRunState(engine.RunOptions{DisableShuffle: true})
		require.NoError(t, newEngine().RunRoot(context.Background(), root, state, nil))
		assert.Equal(t, []string{"mixed.static", "mixed.dynamic", "mixed"}, state.CallLog)
		assert.Empty(t, state.CallWarnings)
	}

	require.Len(t, root.Children, 1)
	assert.Equal(t, "mixed.static", root.Children[0].FullName)
}

func TestRunRoot_FailureOnCapturedParent(t *testing.T) {
	tests := []struct {
		name    string
		body    func(outer, inner *engine.Z)
		wantMsg string
	}{
		{
			name:    "fatalf",
			body:    func(outer, inner *engine.Z) { outer.Fatalf("outer fatal") },
			wantMsg: "outer fatal",
		},
		{
			name:    "errorf",
			body:    func(outer, inner *engine.Z) { outer.Errorf("outer error") },
			wantMsg: "outer error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			root := engine.NewTestNode("captured", func(outer *engine.Z) {
				outer.It("it_uses_outer", func(inner *engine.Z) { tt.body(outer, inner) })
				outer.It("it_passes", func(inner *engine.Z) {})
				outer.Done()
			}, types.SourceLocation{File: "captured_zest.go", Line: 3})

			state := engine.NewRunState(engine.RunOptions{DisableShuffle: true})
			require.NoError(t, newEngine().RunRoot(context.Background(), root, state, rec))

			require.Len(t, state.CallErrors, 1)
			assert.Equal(t, "Failure", state.CallErrors[0].Error.ClassName)
			assert.Equal(t, tt.wantMsg, state.CallErrors[0].Error.Message)
			assert.Equal(t, []string{"captured", "captured.it_uses_outer"}, state.CallErrors[0].Stack)

			assert.Equal(t, types.TestStatusFail, rec.stop("captured.it_uses_outer").Status())
			assert.Equal(t, types.TestStatusPass, rec.stop("captured.it_passes").Status())
			assert.Equal(t, types.TestStatusPass, rec.stop("captured").Status())

			require.Len(t, state.CallWarnings, 1)
			assert.Contains(t, state.CallWarnings[0], "zest 'captured' (@ captured_zest.go:3) reported a failure after its body returned")
		})
	}
}

func TestRunRoot_FailureAfterRunIsWarned(t *testing.T) {
	var leaked *engine.Z
	root := engine.NewTestNode("leaky", func(z *engine.Z) { leaked = z }, types.SourceLocation{})

	state := engine.NewRunState(engine.RunOptions{})
	require.NoError(t, newEngine().RunRoot(context.Background(), root, state, nil))
	require.NotNil(t, leaked)
	leaked.Errorf("too late")

	assert.Empty(t, state.CallErrors)
	require.Len(t, state.CallWarnings, 1)
	assert.Contains(t, state.CallWarnings[0], "too late")
}

func TestRunRoot_LateHookRegistrationIsWarned(t *testing.T) {
	var leaked *engine.Z
	ran := false
	root := engine.NewTestNode("late_hooks", func(z *engine.Z) {
		leaked = z
		z.It("child", func(inner *engine.Z) {
			leaked.BeforeEach(func(*engine.Z) { ran = true })
			leaked.AfterEach(func(*engine.Z) { ran = true })
		})
		z.It("sibling", func(*engine.Z) {})
		z.Done()
	}, types.SourceLocation{})

	state := engine.NewRunState(engine.RunOptions{DisableShuffle: true})
	require.NoError(t, newEngine().RunRoot(context.Background(), root, state, nil))

	assert.False(t, ran)
	assert.Empty(t, state.CallErrors)
	require.Len(t, state.CallWarnings, 2)
	assert.Contains(t, state.CallWarnings[0], "called BeforeEach() after its body returned")
	assert.Contains(t, state.CallWarnings[1], "called AfterEach() after its body returned")
}

func TestRunRoot_BeforeAndAfterEach(t *testing.T) {
	var events []string
	root := engine.NewTestNode("hooks", func(z *engine.Z) {
		z.BeforeEach(func(z *engine.Z) { events = append(events, "before "+z.Name()) })
		z.AfterEach(func(z *engine.Z) { events = append(events, "after "+z.Name()) })
		z.It("one", func(z *engine.Z) {
			events = append(events, "one")
			z.It("inner", func(z *engine.Z) { events = append(events, "inner") })
			z.Done()
		})
		z.It("two", func(z *engine.Z) { events = append(events, "two") })
		z.Done()
	}, types.SourceLocation{})

	state := engine.NewRunState(engine.RunOptions{DisableShuffle: true})
	require.NoError(t, newEngine().RunRoot(context.Background(), root, state, nil))

	assert.Equal(t, []string{
		"before one", "one", "inner", "after one",
		"before two", "two", "after two",
	}, events)
}

func TestRunRoot_RejectsBadInput(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	require.Error(t, e.RunRoot(ctx, nil, engine.NewRunState(engine.RunOptions{}), nil))
	require.Error(t, e.RunRoot(ctx, mathRoot(), nil, nil))

	child := engine.NewTestNode("a.b", nil, types.SourceLocation{})
	require.Error(t, e.RunRoot(ctx, child, engine.NewRunState(engine.RunOptions{}), nil))

	dirty := engine.NewRunState(engine.RunOptions{})
	dirty.CallStack = []string{"leftover"}
	err := e.RunRoot(ctx, mathRoot(), dirty, nil)
	require.Error(t, err)
	assert.True(t, engine.IsInternalError(err))
	var internal *engine.InternalError
	require.True(t, errors.As(err, &internal))
	assert.NotEmpty(t, internal.StackFrames())
}

func TestRunRoot_SeparateStatesDoNotInterfere(t *testing.T) {
	e := newEngine()
	a := engine.NewRunState(engine.RunOptions{Seed: 1})
	b := engine.NewRunState(engine.RunOptions{Seed: 2})

	require.NoError(t, e.RunRoot(context.Background(), mathRoot(), a, nil))
	require.NoError(t, e.RunRoot(context.Background(), mathRoot(), b, nil))

	assert.Len(t, a.CallLog, 4)
	assert.Len(t, b.CallLog, 4)
	assert.Len(t, a.CallErrors, 1)
	assert.Len(t, b.CallErrors, 1)
}
