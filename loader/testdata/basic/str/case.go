package caseops

import "strings"

// Upper uppercases s.
func Upper(s string) string { return strings.ToUpper(s) }

// Lower lowercases s.
func Lower(s string) string { return strings.ToLower(s) }
