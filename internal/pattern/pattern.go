// Package pattern compiles the path-like strings used by sandbox rules into
// whole-string matchers.
//
// Two wildcards are recognised:
//
//	*   matches exactly one segment and never crosses a separator
//	**  matches any run of characters, separators included
//
// Every other character is literal. Class and name rules use '.' as the
// segment separator ("java.awt.*" matches "java.awt.Point" but not
// "java.awt.geom.Point"); file rules use '/'.
package pattern

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// ErrEmpty is returned when a rule has no text to compile.
var ErrEmpty = errors.New("empty pattern")

const (
	// NameSeparator delimits segments of class, member, property and module names.
	NameSeparator = '.'

	// PathSeparator delimits segments of file paths.
	PathSeparator = '/'
)

// Pattern is a compiled rule matcher. It is immutable and safe for concurrent use.
type Pattern struct {
	source string
	g      glob.Glob
}

// Compile compiles a rule using '.' as the segment separator.
func Compile(rule string) (*Pattern, error) {
	return compile(rule, NameSeparator)
}

// CompilePath compiles a file path rule using '/' as the segment separator.
func CompilePath(rule string) (*Pattern, error) {
	return compile(rule, PathSeparator)
}

// MustCompile is like Compile but panics on error. Intended for package-level
// tables of built-in rules.
func MustCompile(rule string) *Pattern {
	p, err := Compile(rule)
	if err != nil {
		panic(err)
	}
	return p
}

func compile(rule string, sep rune) (*Pattern, error) {
	if strings.TrimSpace(rule) == "" {
		return nil, ErrEmpty
	}

	g, err := glob.Compile(translate(rule), sep)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", rule, err)
	}

	return &Pattern{source: rule, g: g}, nil
}

// translate quotes every literal run of the rule so that only '*' keeps a
// special meaning, and collapses runs of three or more stars to "**".
func translate(rule string) string {
	var sb strings.Builder
	sb.Grow(len(rule) * 2)

	for i := 0; i < len(rule); {
		if rule[i] == '*' {
			j := i
			for j < len(rule) && rule[j] == '*' {
				j++
			}
			if j-i == 1 {
				sb.WriteString("*")
			} else {
				sb.WriteString("**")
			}
			i = j
			continue
		}

		j := strings.IndexByte(rule[i:], '*')
		if j < 0 {
			j = len(rule)
		} else {
			j += i
		}
		sb.WriteString(glob.QuoteMeta(rule[i:j]))
		i = j
	}

	return sb.String()
}

// Match reports whether candidate matches the whole pattern.
func (p *Pattern) Match(candidate string) bool {
	if p == nil {
		return false
	}
	return p.g.Match(candidate)
}

// String returns the rule the pattern was compiled from.
func (p *Pattern) String() string {
	return p.source
}

// HasWildcard reports whether the rule contains a wildcard.
func (p *Pattern) HasWildcard() bool {
	return strings.ContainsRune(p.source, '*')
}

// Set is an ordered list of patterns that matches when any member does.
type Set []*Pattern

// Match reports whether any pattern in the set matches candidate.
func (s Set) Match(candidate string) bool {
	for _, p := range s {
		if p.Match(candidate) {
			return true
		}
	}
	return false
}

// Strings returns the source rules of the set in order.
func (s Set) Strings() []string {
	out := make([]string, len(s))
	for i, p := range s {
		out[i] = p.source
	}
	return out
}
