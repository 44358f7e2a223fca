package wrapped

// Exports bundles the module surface under a single wrapper.
var Exports = map[string]any{
	"default": func(s string) string { return "wrapped:" + s },
	"extra":   42,
}
