// Package resolve decides, per module file, how its exports collapse into
// API paths: preserved as a namespace, flattened into the parent or the
// containing category, or promoted to the callable root.
package resolve

import (
	"strings"

	"github.com/cldmv/slothlet/module"
)

// Outcome is one of the five mutually exclusive flattening decisions.
type Outcome int

const (
	// PreserveNamespace keeps the module under its own key.
	PreserveNamespace Outcome = iota
	// AutoFlattenSingleNamed replaces the module's slot with its single
	// named export's value.
	AutoFlattenSingleNamed
	// FlattenToParent merges the module's named exports into the parent
	// container.
	FlattenToParent
	// FlattenToCategory makes the module's value the containing
	// directory's own slot.
	FlattenToCategory
	// UseAsRootCallable promotes the module's default function to the API
	// root itself.
	UseAsRootCallable
)

func (o Outcome) String() string {
	switch o {
	case AutoFlattenSingleNamed:
		return "auto-flatten-single-named-export"
	case FlattenToParent:
		return "flatten-to-parent"
	case FlattenToCategory:
		return "flatten-to-category"
	case UseAsRootCallable:
		return "use-as-root-callable"
	default:
		return "preserve-namespace"
	}
}

// DefaultGenericNames are file keys treated as meaningless for namespacing.
// The list is configuration, not doctrine; mod covers Go trees whose single
// file carries the folder's implementation.
var DefaultGenericNames = []string{"singlefile", "index", "main", "default", "mod"}

// Input carries everything a decision depends on.
type Input struct {
	Analysis *module.Analysis
	// Key is the file's sanitized basename key.
	Key string
	// Category is the containing directory's sanitized key.
	Category string
	// Depth is the directory depth, 0 for the root.
	Depth int
	// Dir is the containing directory's census.
	Dir *module.DirAnalysis
	// RootDefaultFuncs counts default-function modules across the root
	// directory; the root-callable rule requires exactly one.
	RootDefaultFuncs int
	// GenericNames overrides DefaultGenericNames when non-nil.
	GenericNames []string
}

// Decision is the chosen outcome plus key adjustments: PreferredKey
// replaces the file key when a contained function's name wins, RenameTo
// renames an anonymous default function.
type Decision struct {
	Outcome      Outcome
	PreferredKey string
	RenameTo     string
}

// Decide applies the rule ladder; the first matching rule wins. It is total
// over its inputs and never fails.
func Decide(in Input) Decision {
	a := in.Analysis

	// 1. self-referential modules keep their namespace
	if a.IsSelfReferential {
		return Decision{Outcome: PreserveNamespace}
	}

	// 2. multi-default directories: defaults stay namespaced, the rest
	// merge into the parent
	if in.Dir != nil && in.Dir.HasMultipleDefaults {
		if a.HasDefault {
			return Decision{Outcome: PreserveNamespace}
		}
		return Decision{Outcome: FlattenToParent}
	}

	// 3. single named export matching the file key collapses the slot
	if !a.HasDefault && len(a.Named) == 1 && a.Named[0].Key == in.Key {
		return Decision{Outcome: AutoFlattenSingleNamed}
	}

	// 4+5. file key equals the category key: the module takes over the
	// directory slot
	if in.Key == in.Category && in.Depth > 0 {
		if a.HasDefault && a.DefaultKind == module.KindObject {
			return Decision{Outcome: FlattenToCategory}
		}
		if a.IsFunction() {
			return Decision{Outcome: FlattenToCategory}
		}
	}

	// 6. generic filenames alone in a folder promote their single export
	if in.Depth > 0 && isGeneric(in.Key, in.generics()) &&
		in.Dir != nil && len(in.Dir.Files) == 1 &&
		!a.HasDefault && len(a.Named) == 1 {
		return Decision{Outcome: FlattenToParent, PreferredKey: a.Named[0].Key}
	}

	// 7. a contained function whose name case-matches the file key wins
	// the spelling
	if a.FuncName != "" && a.FuncName != in.Key && strings.EqualFold(a.FuncName, in.Key) {
		return Decision{Outcome: PreserveNamespace, PreferredKey: a.FuncName}
	}

	// 8. anonymous default functions take over and are renamed after the
	// category
	if in.Depth > 0 && a.HasDefault && a.DefaultKind == module.KindFunction &&
		(a.FuncName == "" || a.FuncName == "default") {
		return Decision{Outcome: FlattenToCategory, RenameTo: in.Category}
	}

	// 9. a lone default function at the root makes the root callable
	if in.Depth == 0 && a.HasDefault && a.DefaultKind == module.KindFunction &&
		in.RootDefaultFuncs == 1 {
		return Decision{Outcome: UseAsRootCallable}
	}

	// 10. everything else keeps its namespace
	return Decision{Outcome: PreserveNamespace}
}

func (in Input) generics() []string {
	if in.GenericNames != nil {
		return in.GenericNames
	}
	return DefaultGenericNames
}

func isGeneric(key string, generics []string) bool {
	for _, g := range generics {
		if key == g {
			return true
		}
	}
	return false
}
