package users

import "slothlet/runtime"

// GetUser returns the current user from the hosting instance's context.
func GetUser() string {
	ctx := runtime.Context()
	if v, ok := ctx["user"].(string); ok {
		return v
	}
	return ""
}

// SetNote writes into the instance reference mapping.
func SetNote(note string) bool {
	ref := runtime.Reference()
	if ref == nil {
		return false
	}
	ref["note"] = note
	return true
}
