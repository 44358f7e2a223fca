package leaf

// Leaf marks the bottom of the tree.
func Leaf() string { return "leaf" }
