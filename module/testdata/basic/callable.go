package callable

// Default is a callable namespace: invoking it doubles, members scale.
var Default = map[string]any{
	"default": func(a int) int { return a * 2 },
	"scale":   10,
}
