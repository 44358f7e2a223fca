package x

// Default reports the serving implementation's version.
func Default(v string) string { return "v2" }
