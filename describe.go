package slothlet

import (
	"github.com/cldmv/slothlet/api"
)

// Description is the structural snapshot of a slot: its kind, the owner
// currently serving it, and its children. Lazy slots are described from
// their listings without being realized.
type Description struct {
	Path     string         `json:"path,omitempty"`
	Kind     string         `json:"kind"`
	Owner    string         `json:"owner,omitempty"`
	Realized bool           `json:"realized"`
	Children []*Description `json:"children,omitempty"`
}

// Describe returns the structural description of the whole API.
func (b *BoundApi) Describe() *Description {
	s := b.s
	s.mu.Lock()
	root := s.root
	owners := make(map[string]string, len(s.ownership))
	for p, stack := range s.ownership {
		if len(stack) > 0 {
			owners[p] = stack[len(stack)-1]
		}
	}
	s.mu.Unlock()
	return describe(root, "", owners)
}

func describe(value any, path string, owners map[string]string) *Description {
	d := &Description{
		Path:     path,
		Kind:     api.KindOf(value),
		Owner:    owners[path],
		Realized: true,
	}
	if fw, ok := value.(*api.Forwarder); ok {
		d.Realized = fw.Realized()
		if !d.Realized {
			// listing-level children only; nothing materializes
			for _, k := range fw.Keys() {
				d.Children = append(d.Children, &Description{
					Path:  api.JoinPath(path, k),
					Kind:  "unrealized",
					Owner: owners[api.JoinPath(path, k)],
				})
			}
			return d
		}
		realized, err := fw.Value()
		if err != nil {
			return d
		}
		value = realized
	}
	if node, ok := value.(api.Node); ok {
		for _, k := range node.Keys() {
			if child, ok := node.Get(k); ok {
				d.Children = append(d.Children, describe(child, api.JoinPath(path, k), owners))
			}
		}
	}
	return d
}
