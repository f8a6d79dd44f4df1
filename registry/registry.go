package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/mod/modfile"

	"github.com/ethereum-optimism/infra/op-zest/engine"
	"github.com/ethereum-optimism/infra/op-zest/types"
)

// DefaultGroup is the group of roots registered without one
const DefaultGroup = "unit"

// Root is a registered top-level zest
type Root struct {
	Name          string
	ModuleLocator string // import path of the package that registered the root
	Source        types.SourceLocation
	Node          *engine.TestNode
}

// Groups returns the root's groups, DefaultGroup when it has none
func (r *Root) Groups() []string {
	if len(r.Node.Groups) == 0 {
		return []string{DefaultGroup}
	}
	return r.Node.GroupNames()
}

// InGroups reports whether the root belongs to any of the given groups. An
// empty filter matches every root.
func (r *Root) InGroups(groups []string) bool {
	if len(groups) == 0 {
		return true
	}
	for _, have := range r.Groups() {
		for _, want := range groups {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Registry holds the roots compiled into the binary
type Registry struct {
	mu      sync.RWMutex
	roots   map[string]*Root
	modules map[string]string // directory -> module locator
	log     log.Logger
}

// Default is the registry used by the package-level Register
var Default = New(nil)

// New creates an empty registry
func New(lgr log.Logger) *Registry {
	if lgr == nil {
		lgr = log.New()
	}
	return &Registry{
		roots:   make(map[string]*Root),
		modules: make(map[string]string),
		log:     lgr,
	}
}

// Register adds a root zest to the Default registry. It is meant to be
// called from package init functions.
func Register(name string, body func(z *engine.Z), opts ...engine.NodeOption) *Root {
	root, err := Default.register(name, body, 2, opts...)
	if err != nil {
		panic(err)
	}
	return root
}

// Register adds a root zest declared by the caller
func (r *Registry) Register(name string, body func(z *engine.Z), opts ...engine.NodeOption) (*Root, error) {
	return r.register(name, body, 2, opts...)
}

func (r *Registry) register(name string, body func(z *engine.Z), skip int, opts ...engine.NodeOption) (*Root, error) {
	if err := types.ValidateLocalName(name); err != nil {
		return nil, fmt.Errorf("invalid root name: %w", err)
	}
	if body == nil {
		return nil, fmt.Errorf("root '%s' has no body", name)
	}

	pc, file, line, _ := runtime.Caller(skip)
	source := types.SourceLocation{File: file, Line: line}
	locator := r.moduleLocator(file, callerPackage(pc))

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.roots[name]; ok {
		return nil, fmt.Errorf("root '%s' already registered at %s", name, existing.Source)
	}
	root := &Root{
		Name:          name,
		ModuleLocator: locator,
		Source:        source,
		Node:          engine.NewTestNode(name, body, source, opts...),
	}
	r.roots[name] = root
	r.log.Debug("Registered zest root", "root", name, "module", locator, "source", source)
	return root, nil
}

// Lookup returns the root with the given name
func (r *Registry) Lookup(name string) (*Root, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	root, ok := r.roots[name]
	return root, ok
}

// Roots returns every registered root ordered by source file, then line
func (r *Registry) Roots() []*Root {
	r.mu.RLock()
	roots := make([]*Root, 0, len(r.roots))
	for _, root := range r.roots {
		roots = append(roots, root)
	}
	r.mu.RUnlock()

	sort.Slice(roots, func(i, j int) bool {
		a, b := roots[i].Source, roots[j].Source
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return roots[i].Name < roots[j].Name
	})
	return roots
}

// Discover returns the roots declared in files under rootDir or one of
// includeDirs (relative to rootDir), restricted to the given groups. An empty
// rootDir matches every registered root.
func (r *Registry) Discover(rootDir string, includeDirs []string, groups []string) ([]*Root, error) {
	dirs, err := searchDirs(rootDir, includeDirs)
	if err != nil {
		return nil, err
	}

	var found []*Root
	for _, root := range r.Roots() {
		if len(dirs) > 0 && !underAny(root.Source.File, dirs) {
			continue
		}
		if !root.InGroups(groups) {
			continue
		}
		found = append(found, root)
	}
	r.log.Debug("Discovered zest roots", "rootDir", rootDir, "includeDirs", includeDirs, "groups", groups, "found", len(found))
	return found, nil
}

func searchDirs(rootDir string, includeDirs []string) ([]string, error) {
	if rootDir == "" {
		return nil, nil
	}
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root directory %s: %w", rootDir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("root directory %s: %w", rootDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root directory %s is not a directory", rootDir)
	}
	if len(includeDirs) == 0 {
		return []string{abs}, nil
	}

	dirs := make([]string, 0, len(includeDirs))
	for _, dir := range includeDirs {
		if dir == "" {
			continue
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(abs, dir)
		}
		dirs = append(dirs, filepath.Clean(dir))
	}
	return dirs, nil
}

func underAny(file string, dirs []string) bool {
	file = filepath.Clean(file)
	for _, dir := range dirs {
		if file == dir || strings.HasPrefix(file, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// callerPackage extracts the import path from a function's symbol name
func callerPackage(pc uintptr) string {
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return ""
	}
	name := fn.Name()
	slash := strings.LastIndex(name, "/")
	if dot := strings.Index(name[slash+1:], "."); dot != -1 {
		return name[:slash+1+dot]
	}
	return name
}

// moduleLocator resolves the import path of the package in file's directory
// from the nearest go.mod, falling back to the symbol-derived package path
// when the sources are not available (e.g. a binary run elsewhere)
func (r *Registry) moduleLocator(file, fallback string) string {
	dir := filepath.Dir(file)

	r.mu.RLock()
	locator, ok := r.modules[dir]
	r.mu.RUnlock()
	if ok {
		return locator
	}

	locator, err := locatorFromGoMod(dir)
	if err != nil || locator == "" {
		locator = fallback
	}

	r.mu.Lock()
	r.modules[dir] = locator
	r.mu.Unlock()
	return locator
}

func locatorFromGoMod(dir string) (string, error) {
	for cur := dir; ; cur = filepath.Dir(cur) {
		goModPath := filepath.Join(cur, "go.mod")
		content, err := os.ReadFile(goModPath)
		if err == nil {
			modPath := modfile.ModulePath(content)
			if modPath == "" {
				return "", fmt.Errorf("could not find module name in %s", goModPath)
			}
			rel, err := filepath.Rel(cur, dir)
			if err != nil {
				return "", err
			}
			if rel == "." {
				return modPath, nil
			}
			return modPath + "/" + filepath.ToSlash(rel), nil
		}
		if parent := filepath.Dir(cur); parent == cur {
			return "", fmt.Errorf("no go.mod found above %s", dir)
		}
	}
}
