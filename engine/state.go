package engine

import (
	"math/rand"
	"sort"
	"strings"

	"github.com/ethereum-optimism/infra/op-zest/types"
)

// SkipReasonFiltered is the skip reason of zests excluded by the allow-list
const SkipReasonFiltered = "filtered"

// CallError pairs a failure with the call stack at the time it was recorded
type CallError struct {
	Error *types.ErrorInfo
	Stack []string
}

// RunState holds the accounting of one engine invocation. Each root run gets
// its own instance; nothing here is shared between runs or processes.
type RunState struct {
	CallStack    []string
	CallLog      []string
	CallErrors   []CallError
	CallWarnings []string

	AllowToRun     *AllowList // nil runs everything
	DisableShuffle bool
	BypassSkip     map[string]struct{}
	Seed           int64
	Pid            int

	rng *rand.Rand
	// Zs whose body or hook is currently being invoked, innermost last
	active []*Z
}

// RunOptions configures a new RunState
type RunOptions struct {
	AllowToRun     *AllowList
	DisableShuffle bool
	BypassSkip     []string
	Seed           int64
	Pid            int
}

// NewRunState creates a fresh run state. The shuffle generator is seeded
// from opts.Seed so repeated runs with the same seed order siblings alike.
func NewRunState(opts RunOptions) *RunState {
	bypass := make(map[string]struct{}, len(opts.BypassSkip))
	for _, name := range opts.BypassSkip {
		if name != "" {
			bypass[name] = struct{}{}
		}
	}
	return &RunState{
		AllowToRun:     opts.AllowToRun,
		DisableShuffle: opts.DisableShuffle,
		BypassSkip:     bypass,
		Seed:           opts.Seed,
		Pid:            opts.Pid,
		rng:            rand.New(rand.NewSource(opts.Seed)),
	}
}

func (s *RunState) push(fullName string) {
	s.CallStack = append(s.CallStack, fullName)
}

// pop removes fullName from the top of the stack. A mismatch leaves the
// stack untouched so the end-of-root check reports it.
func (s *RunState) pop(fullName string) bool {
	n := len(s.CallStack)
	if n == 0 || s.CallStack[n-1] != fullName {
		return false
	}
	s.CallStack = s.CallStack[:n-1]
	return true
}

func (s *RunState) enter(z *Z) {
	s.active = append(s.active, z)
}

func (s *RunState) leave() {
	if n := len(s.active); n > 0 {
		s.active = s.active[:n-1]
	}
}

// running returns the Z whose body or hook is executing, or nil
func (s *RunState) running() *Z {
	if n := len(s.active); n > 0 {
		return s.active[n-1]
	}
	return nil
}

func (s *RunState) stackSnapshot() []string {
	cp := make([]string, len(s.CallStack))
	copy(cp, s.CallStack)
	return cp
}

// Warn appends a free-text warning
func (s *RunState) Warn(msg string) {
	s.CallWarnings = append(s.CallWarnings, msg)
}

func (s *RunState) bypassed(fullName string) bool {
	_, ok := s.BypassSkip[fullName]
	return ok
}

// SkipReason returns why node must not execute, or "" when it may run
func (s *RunState) SkipReason(node *TestNode) string {
	if len(node.SkipReasons) > 0 && !s.bypassed(node.FullName) {
		return strings.Join(node.SkipReasons, "; ")
	}
	if !s.AllowToRun.Allows(node.FullName) {
		return SkipReasonFiltered
	}
	return ""
}

func (s *RunState) order(children []*TestNode) []*TestNode {
	ordered := make([]*TestNode, len(children))
	copy(ordered, children)
	if s.DisableShuffle || len(ordered) < 2 {
		return ordered
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(s.Seed))
	}
	s.rng.Shuffle(len(ordered), func(i, j int) {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	})
	return ordered
}

// AllowList is the set of full names permitted to execute. Explicit entries
// allow themselves and every descendant; their ancestors are allowed too,
// but only for themselves, so the path down to an entry is walked without
// running unrelated siblings.
type AllowList struct {
	explicit map[string]struct{}
	implied  map[string]struct{}
}

// NewAllowList builds an allow-list from explicit full names or prefixes
func NewAllowList(entries []string) *AllowList {
	a := &AllowList{
		explicit: make(map[string]struct{}),
		implied:  make(map[string]struct{}),
	}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		a.explicit[entry] = struct{}{}
		for _, ancestor := range types.Ancestors(entry) {
			a.implied[ancestor] = struct{}{}
		}
	}
	return a
}

// Allows reports whether fullName may execute. A nil list allows everything.
func (a *AllowList) Allows(fullName string) bool {
	if a == nil {
		return true
	}
	if _, ok := a.explicit[fullName]; ok {
		return true
	}
	if _, ok := a.implied[fullName]; ok {
		return true
	}
	for _, ancestor := range types.Ancestors(fullName) {
		if _, ok := a.explicit[ancestor]; ok {
			return true
		}
	}
	return false
}

// AllowsRoot reports whether any zest under root could be allowed
func (a *AllowList) AllowsRoot(root string) bool {
	return a.Allows(types.RootName(root))
}

// Entries returns the explicit entries in sorted order
func (a *AllowList) Entries() []string {
	if a == nil {
		return nil
	}
	entries := make([]string, 0, len(a.explicit))
	for entry := range a.explicit {
		entries = append(entries, entry)
	}
	sort.Strings(entries)
	return entries
}
