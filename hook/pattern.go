package hook

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// maxBraceDepth bounds {a,b} nesting; deeper patterns are rejected outright.
const maxBraceDepth = 10

// Pattern is a compiled dot-delimited glob: * matches one path segment, **
// matches zero or more, {a,b} expands alternatives, a leading ! negates the
// whole pattern.
type Pattern struct {
	raw     string
	negated bool
	glob    string
}

// CompilePattern validates and compiles a pattern.
func CompilePattern(raw string) (*Pattern, error) {
	p := &Pattern{raw: raw}
	body := raw
	if strings.HasPrefix(body, "!") {
		p.negated = true
		body = body[1:]
	}
	if body == "" {
		return nil, fmt.Errorf("empty hook pattern %q", raw)
	}
	if err := checkBraces(body); err != nil {
		return nil, err
	}
	p.glob = strings.ReplaceAll(body, ".", "/")
	if !doublestar.ValidatePattern(p.glob) {
		return nil, fmt.Errorf("invalid hook pattern %q", raw)
	}
	return p, nil
}

// Match tests a dotted path against the pattern.
func (p *Pattern) Match(path string) bool {
	ok, err := doublestar.Match(p.glob, strings.ReplaceAll(path, ".", "/"))
	matched := err == nil && ok
	if p.negated {
		return !matched
	}
	return matched
}

// String returns the original pattern text.
func (p *Pattern) String() string { return p.raw }

func checkBraces(s string) error {
	depth, max := 0, 0
	for _, r := range s {
		switch r {
		case '{':
			depth++
			if depth > max {
				max = depth
			}
		case '}':
			depth--
			if depth < 0 {
				return fmt.Errorf("unbalanced braces in pattern %q", s)
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("unbalanced braces in pattern %q", s)
	}
	if max > maxBraceDepth {
		return fmt.Errorf("brace nesting exceeds %d in pattern %q", maxBraceDepth, s)
	}
	return nil
}
