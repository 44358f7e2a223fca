package x

// X reports the serving implementation's version.
func X(v string) string { return "v1" }
