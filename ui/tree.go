package ui

import (
	"strings"
	"unicode/utf8"
)

// Tree hierarchy symbols using box drawing characters
const (
	TreeBranch     = "├── "
	TreeLastBranch = "└── "
	TreeVertical   = "│"

	TreeContinue = "│   " // parent has more siblings
	TreeIndent   = "    " // parent was last
)

// Rule characters for section headers
const (
	RuleHeavy = "="
	RuleLight = "─"
)

// BuildTreePrefix generates a tree prefix based on depth, position, and
// whether each ancestor level was the last of its siblings
func BuildTreePrefix(depth int, isLast bool, parentIsLast []bool) string {
	if depth == 0 {
		return ""
	}

	var sb strings.Builder
	for i := 0; i < depth-1; i++ {
		if i < len(parentIsLast) && parentIsLast[i] {
			sb.WriteString(TreeIndent)
		} else {
			sb.WriteString(TreeContinue)
		}
	}
	if isLast {
		sb.WriteString(TreeLastBranch)
	} else {
		sb.WriteString(TreeBranch)
	}
	return sb.String()
}

// BuildRuleHeader renders "===== label =========" padded with fill to width.
// The label is never truncated.
func BuildRuleHeader(label, fill string, width int) string {
	const lead = 5
	tail := width - lead - 2 - utf8.RuneCountInString(label)
	if tail < lead {
		tail = lead
	}
	return repeatString(fill, lead) + " " + label + " " + repeatString(fill, tail)
}

// Indent returns n levels of two-space indentation
func Indent(n int) string {
	return repeatString("  ", n)
}

func repeatString(s string, n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(s, n)
}
