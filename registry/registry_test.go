package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-zest/engine"
)

const thisModule = "github.com/ethereum-optimism/infra/op-zest/registry"

func noop(z *engine.Z) {}

func TestRegistry_Register(t *testing.T) {
	reg := New(nil)

	root, err := reg.Register("zest_math", noop, engine.Group("math"))
	require.NoError(t, err)
	assert.Equal(t, "zest_math", root.Name)
	assert.Equal(t, "zest_math", root.Node.FullName)
	assert.Equal(t, thisModule, root.ModuleLocator)
	assert.Equal(t, "registry_test.go", filepath.Base(root.Source.File))
	assert.Greater(t, root.Source.Line, 0)
	assert.Equal(t, []string{"math"}, root.Groups())

	got, ok := reg.Lookup("zest_math")
	require.True(t, ok)
	assert.Same(t, root, got)

	_, ok = reg.Lookup("missing")
	assert.False(t, ok)
}

func TestRegistry_RegisterErrors(t *testing.T) {
	reg := New(nil)
	_, err := reg.Register("dup", noop)
	require.NoError(t, err)

	tests := []struct {
		name string
		root string
		body func(z *engine.Z)
	}{
		{"duplicate", "dup", noop},
		{"empty name", "", noop},
		{"dotted name", "a.b", noop},
		{"nil body", "nobody", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Register(tt.root, tt.body)
			assert.Error(t, err)
		})
	}
}

func TestRegistry_RootsOrderedBySource(t *testing.T) {
	reg := New(nil)
	_, err := reg.Register("second_declared_first_line_later", noop)
	require.NoError(t, err)
	_, err = reg.Register("another", noop)
	require.NoError(t, err)

	roots := reg.Roots()
	require.Len(t, roots, 2)
	assert.Equal(t, "second_declared_first_line_later", roots[0].Name)
	assert.Equal(t, "another", roots[1].Name)
	assert.Less(t, roots[0].Source.Line, roots[1].Source.Line)
}

func TestRegistry_Discover(t *testing.T) {
	reg := New(nil)
	_, err := reg.Register("untagged", noop)
	require.NoError(t, err)
	_, err = reg.Register("slow_one", noop, engine.Group("slow"))
	require.NoError(t, err)

	names := func(roots []*Root) []string {
		var out []string
		for _, r := range roots {
			out = append(out, r.Name)
		}
		return out
	}

	tests := []struct {
		name        string
		rootDir     string
		includeDirs []string
		groups      []string
		want        []string
	}{
		{"everything", "", nil, nil, []string{"untagged", "slow_one"}},
		{"package dir", ".", nil, nil, []string{"untagged", "slow_one"}},
		{"default group", ".", nil, []string{DefaultGroup}, []string{"untagged"}},
		{"named group", ".", nil, []string{"slow"}, []string{"slow_one"}},
		{"unknown group", ".", nil, []string{"nope"}, nil},
		{"include dir elsewhere", ".", []string{"testdata"}, nil, nil},
		{"include dir here", "..", []string{"registry"}, nil, []string{"untagged", "slow_one"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roots, err := reg.Discover(tt.rootDir, tt.includeDirs, tt.groups)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(roots))
		})
	}
}

func TestRegistry_DiscoverBadRoot(t *testing.T) {
	reg := New(nil)
	_, err := reg.Discover(filepath.Join(t.TempDir(), "missing"), nil, nil)
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	_, err = reg.Discover(file, nil, nil)
	assert.Error(t, err)
}

func TestLocatorFromGoMod(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/zests\n\ngo 1.22\n"), 0644))
	nested := filepath.Join(dir, "pkg", "math")
	require.NoError(t, os.MkdirAll(nested, 0755))

	locator, err := locatorFromGoMod(nested)
	require.NoError(t, err)
	assert.Equal(t, "example.com/zests/pkg/math", locator)

	locator, err = locatorFromGoMod(dir)
	require.NoError(t, err)
	assert.Equal(t, "example.com/zests", locator)
}

func TestCallerPackage(t *testing.T) {
	root, err := New(nil).Register("probe", noop)
	require.NoError(t, err)
	assert.Equal(t, thisModule, root.ModuleLocator)
}
