package greet

import "strings"

// Hello greets name.
func Hello(name string) string { return "Hello, " + name }

// Shout greets name loudly.
func Shout(name string) string { return strings.ToUpper(name) + "!" }

// Default is the module entry point.
var Default = Hello
