package types

import (
	"fmt"
	"strings"
)

// TestStatus represents the possible states of a zest
type TestStatus string

const (
	TestStatusRunning TestStatus = "running"
	TestStatusPass    TestStatus = "pass"
	TestStatusFail    TestStatus = "fail"
	TestStatusSkip    TestStatus = "skip"
)

// NameSeparator separates the segments of a full name
const NameSeparator = "."

// SourceLocation points at the place a zest was declared
type SourceLocation struct {
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
}

func (l SourceLocation) String() string {
	if l.File == "" {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// ParseFullName splits a dot-delimited full name into its path segments.
// Returns depth (0=root, 1=first child, etc.) and the cleaned path.
func ParseFullName(fullName string) (depth int, path []string) {
	if fullName == "" {
		return 0, []string{}
	}

	parts := strings.Split(fullName, NameSeparator)
	cleanPath := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			cleanPath = append(cleanPath, part)
		}
	}

	if len(cleanPath) == 0 {
		return 0, []string{}
	}
	return len(cleanPath) - 1, cleanPath
}

// JoinFullName builds a full name from its segments, dropping empty ones
func JoinFullName(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			clean = append(clean, part)
		}
	}
	return strings.Join(clean, NameSeparator)
}

// ShortName returns the last path segment of a full name
func ShortName(fullName string) string {
	if idx := strings.LastIndex(fullName, NameSeparator); idx != -1 {
		return fullName[idx+1:]
	}
	return fullName
}

// RootName returns the first path segment of a full name
func RootName(fullName string) string {
	if idx := strings.Index(fullName, NameSeparator); idx != -1 {
		return fullName[:idx]
	}
	return fullName
}

// Ancestors returns every strict prefix of a full name, outermost first.
// For "a.b.c" it returns ["a", "a.b"].
func Ancestors(fullName string) []string {
	_, path := ParseFullName(fullName)
	if len(path) <= 1 {
		return nil
	}
	ancestors := make([]string, 0, len(path)-1)
	for i := 1; i < len(path); i++ {
		ancestors = append(ancestors, strings.Join(path[:i], NameSeparator))
	}
	return ancestors
}

// ValidateLocalName checks that a name can be used as one path segment
func ValidateLocalName(name string) error {
	if name == "" {
		return fmt.Errorf("zest name cannot be empty")
	}
	if strings.Contains(name, NameSeparator) {
		return fmt.Errorf("zest name '%s' cannot contain '%s'", name, NameSeparator)
	}
	if strings.ContainsAny(name, " \t\n:") {
		return fmt.Errorf("zest name '%s' cannot contain whitespace or ':'", name)
	}
	return nil
}
