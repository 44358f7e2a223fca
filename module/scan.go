package module

import (
	"context"
	"fmt"
	"unicode"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// FileScan is the static view of a module file: exported symbol names in
// declaration order plus the default-export markers, obtained without
// executing anything. Lazy-mode shape answers and the directory census run
// on scans alone.
type FileScan struct {
	PackageName string
	// Exports lists exported value symbols (funcs, vars, consts) in
	// declaration order, excluding Default and the Exports wrapper.
	Exports []string
	// HasDefault is true when the file declares an exported Default symbol.
	HasDefault bool
	// DefaultIsFunc is true when Default is declared as a function or
	// aliases a declared function.
	DefaultIsFunc bool
	// DefaultAlias names the declared function Default aliases
	// (var Default = TvCtl), empty otherwise.
	DefaultAlias string
	// HasWrapper is true when the file's only exported symbol is Exports.
	HasWrapper bool
}

// ScanSource statically scans Go source for its export surface.
func ScanSource(ctx context.Context, src []byte) (*FileScan, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(golang.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source: %w", err)
	}
	root := tree.RootNode()

	scan := &FileScan{}
	funcNames := map[string]bool{}
	var exported []string
	sawExports := false
	totalExported := 0

	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		switch n.Type() {
		case "package_clause":
			for j := 0; j < int(n.NamedChildCount()); j++ {
				if ch := n.NamedChild(j); ch.Type() == "package_identifier" {
					scan.PackageName = text(ch, src)
				}
			}
		case "function_declaration":
			name := fieldText(n, "name", src)
			if !isExported(name) {
				continue
			}
			totalExported++
			funcNames[name] = true
			if name == "Default" {
				scan.HasDefault = true
				scan.DefaultIsFunc = true
				continue
			}
			if name == "Exports" {
				sawExports = true
				continue
			}
			exported = append(exported, name)
		case "var_declaration", "const_declaration":
			for _, spec := range specs(n) {
				for _, name := range specNames(spec, src) {
					if !isExported(name) {
						continue
					}
					totalExported++
					switch name {
					case "Default":
						scan.HasDefault = true
						if alias := specAlias(spec, src); alias != "" && isExported(alias) {
							scan.DefaultAlias = alias
						}
						if isFuncLiteral(spec, src) {
							scan.DefaultIsFunc = true
						}
					case "Exports":
						sawExports = true
					default:
						exported = append(exported, name)
					}
				}
			}
		}
	}

	// resolve alias after all declarations are known
	if scan.DefaultAlias != "" {
		if funcNames[scan.DefaultAlias] {
			scan.DefaultIsFunc = true
		}
		filtered := exported[:0]
		for _, name := range exported {
			if name != scan.DefaultAlias {
				filtered = append(filtered, name)
			}
		}
		exported = filtered
	}

	scan.Exports = exported
	scan.HasWrapper = sawExports && totalExported == 1
	return scan, nil
}

func specs(decl *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		ch := decl.NamedChild(i)
		switch ch.Type() {
		case "var_spec", "const_spec":
			out = append(out, ch)
		case "var_spec_list":
			// parenthesized var declarations group their specs in a list node
			out = append(out, specs(ch)...)
		}
	}
	return out
}

// specNames collects the identifiers declared by a var/const spec; a spec
// may declare several names before its type or value.
func specNames(spec *sitter.Node, src []byte) []string {
	var names []string
	for i := 0; i < int(spec.NamedChildCount()); i++ {
		ch := spec.NamedChild(i)
		if ch.Type() != "identifier" {
			break
		}
		names = append(names, text(ch, src))
	}
	return names
}

// specAlias returns the identifier a single-name spec is initialized from
// (var Default = TvCtl), empty when the initializer is not a bare
// identifier.
func specAlias(spec *sitter.Node, src []byte) string {
	value := spec.ChildByFieldName("value")
	if value == nil {
		return ""
	}
	if value.Type() == "expression_list" && value.NamedChildCount() == 1 {
		value = value.NamedChild(0)
	}
	if value.Type() == "identifier" {
		return text(value, src)
	}
	return ""
}

func isFuncLiteral(spec *sitter.Node, src []byte) bool {
	value := spec.ChildByFieldName("value")
	if value == nil {
		return false
	}
	if value.Type() == "expression_list" && value.NamedChildCount() == 1 {
		value = value.NamedChild(0)
	}
	return value.Type() == "func_literal"
}

func fieldText(n *sitter.Node, field string, src []byte) string {
	ch := n.ChildByFieldName(field)
	if ch == nil {
		return ""
	}
	return text(ch, src)
}

func text(n *sitter.Node, src []byte) string {
	return string(src[n.StartByte():n.EndByte()])
}

func isExported(name string) bool {
	if name == "" {
		return false
	}
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}
