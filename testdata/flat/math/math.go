package math

// Math returns the sum of a and b.
func Math(a, b int) int { return a + b }

// Default is the module entry point.
var Default = Math
