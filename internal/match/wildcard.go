// Package match implements '*' wildcard patterns used to select SonarQube projects.
package match

import "strings"

// Pattern is a compiled '*' wildcard.
// Params: literal segments between wildcards and anchor flags.
// Returns: reusable matcher.
type Pattern struct {
	raw      string
	segments []string
	prefix   bool
	suffix   bool
	any      bool
}

// Compile parses a wildcard pattern.
// Params: pattern may contain any number of '*'.
// Returns: compiled pattern and false when pattern is blank.
func Compile(pattern string) (Pattern, bool) {
	p := strings.TrimSpace(pattern)
	if p == "" {
		return Pattern{}, false
	}
	if strings.Trim(p, "*") == "" {
		return Pattern{raw: p, any: true}, true
	}

	return Pattern{
		raw:      p,
		segments: strings.Split(p, "*"),
		prefix:   !strings.HasPrefix(p, "*"),
		suffix:   !strings.HasSuffix(p, "*"),
	}, true
}

// String returns the source pattern.
func (p Pattern) String() string {
	return p.raw
}

// Match reports whether value matches the pattern.
// Params: value is the text to test.
// Returns: true on match.
func (p Pattern) Match(value string) bool {
	if p.any {
		return true
	}
	if len(p.segments) == 0 {
		return false
	}
	if len(p.segments) == 1 {
		return value == p.segments[0]
	}

	first := p.segments[0]
	last := p.segments[len(p.segments)-1]
	middle := p.segments[1 : len(p.segments)-1]

	rest := value
	if p.prefix {
		if !strings.HasPrefix(rest, first) {
			return false
		}
		rest = rest[len(first):]
	}

	if p.suffix {
		if !strings.HasSuffix(rest, last) {
			return false
		}
		rest = rest[:len(rest)-len(last)]
	}

	for _, segment := range middle {
		if segment == "" {
			continue
		}
		idx := strings.Index(rest, segment)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(segment):]
	}
	return true
}

// Set combines include and exclude patterns.
// Params: an empty include list admits everything not excluded.
// Returns: project selector.
type Set struct {
	include []Pattern
	exclude []Pattern
}

// NewSet compiles include and exclude pattern lists, skipping blank entries.
// Params: include and exclude raw patterns.
// Returns: compiled set.
func NewSet(include, exclude []string) Set {
	return Set{
		include: compileAll(include),
		exclude: compileAll(exclude),
	}
}

// Allow reports whether value passes the set.
// Params: value is the text to test.
// Returns: true when value is included and not excluded.
func (s Set) Allow(value string) bool {
	if anyMatch(s.exclude, value) {
		return false
	}
	if len(s.include) == 0 {
		return true
	}
	return anyMatch(s.include, value)
}

// Empty reports whether the set has no patterns at all.
func (s Set) Empty() bool {
	return len(s.include) == 0 && len(s.exclude) == 0
}

func compileAll(patterns []string) []Pattern {
	out := make([]Pattern, 0, len(patterns))
	for _, raw := range patterns {
		if compiled, ok := Compile(raw); ok {
			out = append(out, compiled)
		}
	}
	return out
}

func anyMatch(patterns []Pattern, value string) bool {
	for _, p := range patterns {
		if p.Match(value) {
			return true
		}
	}
	return false
}
