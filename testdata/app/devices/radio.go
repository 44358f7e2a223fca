package radio

// Default tunes the radio to the given frequency.
func Default(freq string) string { return "radio:" + freq }
