// Package sanitize maps raw file and folder names to dotted-identifier-safe
// API keys. Casing is rule driven: exact and glob tokens can pin a segment's
// case before the default camel-casing applies.
package sanitize

import (
	"strings"
	"unicode"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gosimple/slug"
	"github.com/iancoleman/strcase"
)

// Rules configures segment casing. Token lists are checked in precedence
// order Leave > LeaveInsensitive > Upper > Lower; tokens may be literal or
// contain * / ? wildcards. The boundary form **tok** matches only when the
// token is surrounded by other characters in the original name.
type Rules struct {
	LowerFirst       bool     `yaml:"lowerFirst"`
	Leave            []string `yaml:"leave"`
	LeaveInsensitive []string `yaml:"leaveInsensitive"`
	Upper            []string `yaml:"upper"`
	Lower            []string `yaml:"lower"`
}

// DefaultRules returns the rule set used when a loader is given none.
func DefaultRules() *Rules {
	return &Rules{LowerFirst: true}
}

// Key converts a raw segment (a file or folder name, extension already
// stripped) into a dotted-identifier-safe key. Applying Key to its own
// output returns the output unchanged.
func Key(raw string, rules *Rules) string {
	if rules == nil {
		rules = DefaultRules()
	}
	if raw == "" {
		return "_"
	}
	if isIdentifier(raw) {
		return raw
	}
	folded := raw
	if !isASCII(folded) {
		// transliterate before splitting so accented names survive
		folded = slug.Make(folded)
	}
	segments := splitSegments(folded)
	if len(segments) == 0 {
		return "_"
	}
	var out strings.Builder
	first := true
	for _, seg := range segments {
		if first {
			seg = stripNonStarters(seg)
			if seg == "" {
				continue
			}
		}
		out.WriteString(applyRules(seg, raw, first, rules))
		first = false
	}
	result := out.String()
	if result == "" {
		return "_"
	}
	if !isStarter(rune(result[0])) {
		result = "_" + result
	}
	return result
}

// ExportKey maps an exported Go symbol name to its API key. Unlike Key it
// applies the casing rules even to already-valid identifiers: Go exports
// are necessarily capitalized, so the default casing must still run.
func ExportKey(name string, rules *Rules) string {
	if rules == nil {
		rules = DefaultRules()
	}
	if !isIdentifier(name) {
		return Key(name, rules)
	}
	if matchToken(rules.Leave, name, name, false) || matchToken(rules.LeaveInsensitive, name, name, true) {
		return name
	}
	if matchToken(rules.Upper, name, name, true) {
		return strings.ToUpper(name)
	}
	if matchToken(rules.Lower, name, name, true) {
		return strings.ToLower(name)
	}
	if !rules.LowerFirst {
		return name
	}
	if name == strings.ToUpper(name) {
		return strings.ToLower(name)
	}
	return lowerFirst(name)
}

func applyRules(seg, original string, first bool, rules *Rules) string {
	if matchToken(rules.Leave, seg, original, false) {
		return seg
	}
	if matchToken(rules.LeaveInsensitive, seg, original, true) {
		return seg
	}
	if matchToken(rules.Upper, seg, original, true) {
		return strings.ToUpper(seg)
	}
	if matchToken(rules.Lower, seg, original, true) {
		return strings.ToLower(seg)
	}
	if first {
		if rules.LowerFirst {
			return lowerFirst(seg)
		}
		return seg
	}
	return strcase.ToCamel(seg)
}

// matchToken checks seg against a token list. Boundary tokens of the form
// **tok** only match when tok occurs inside the original string with
// characters on both sides.
func matchToken(tokens []string, seg, original string, insensitive bool) bool {
	target := seg
	if insensitive {
		target = strings.ToLower(seg)
	}
	for _, tok := range tokens {
		boundary := false
		t := tok
		if strings.HasPrefix(t, "**") && strings.HasSuffix(t, "**") && len(t) > 4 {
			boundary = true
			t = t[2 : len(t)-2]
		}
		if insensitive {
			t = strings.ToLower(t)
		}
		var ok bool
		if strings.ContainsAny(t, "*?") {
			m, err := doublestar.Match(t, target)
			ok = err == nil && m
		} else {
			ok = t == target
		}
		if !ok {
			continue
		}
		if boundary && !insideBoundary(original, seg, insensitive) {
			continue
		}
		return true
	}
	return false
}

func insideBoundary(original, seg string, insensitive bool) bool {
	haystack, needle := original, seg
	if insensitive {
		haystack = strings.ToLower(haystack)
		needle = strings.ToLower(needle)
	}
	idx := strings.Index(haystack, needle)
	for idx >= 0 {
		if idx > 0 && idx+len(needle) < len(haystack) {
			return true
		}
		next := strings.Index(haystack[idx+1:], needle)
		if next < 0 {
			break
		}
		idx += 1 + next
	}
	return false
}

func splitSegments(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !isIdentRune(r)
	})
}

func stripNonStarters(seg string) string {
	for i, r := range seg {
		if isStarter(r) {
			return seg[i:]
		}
	}
	return ""
}

func lowerFirst(s string) string {
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

func isIdentifier(s string) bool {
	for i, r := range s {
		if i == 0 && !isStarter(r) {
			return false
		}
		if !isIdentRune(r) {
			return false
		}
	}
	return s != ""
}

func isStarter(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentRune(r rune) bool {
	return isStarter(r) || (r >= '0' && r <= '9')
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
