package module

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/storage"

	"github.com/cldmv/slothlet/sanitize"
)

// IncludeFunc decides whether a directory entry participates in loading.
type IncludeFunc func(name string, isDir bool) bool

// DefaultInclude accepts .go module files and plain subdirectories, skipping
// hidden and underscore-prefixed entries and test files.
func DefaultInclude(name string, isDir bool) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return false
	}
	if isDir {
		return true
	}
	if !strings.HasSuffix(name, ".go") {
		return false
	}
	return !strings.HasSuffix(name, "_test.go")
}

// Entry is one directory member selected for loading.
type Entry struct {
	Name string // base name as on disk
	Key  string // sanitized API key
	URL  string
}

// DirAnalysis is the per-directory census consumed by the flattening
// decider: module files, subdirectories, the directory-wide default-export
// count and the self-referential file set. It is produced from static scans
// only; no module code runs.
type DirAnalysis struct {
	URL     string
	Files   []Entry
	SubDirs []Entry
	Scans   map[string]*FileScan // keyed by file base name

	TotalDefaultExports int
	HasMultipleDefaults bool
	// DefaultFuncCount counts files whose default export is statically a
	// function; the root-callable rule needs exactly one.
	DefaultFuncCount int
	// SelfReferential marks basename keys whose file names an export after
	// itself.
	SelfReferential map[string]bool
}

// AnalyzeDir lists a directory and statically scans its module files.
func AnalyzeDir(ctx context.Context, fs afs.Service, url string, include IncludeFunc, rules *sanitize.Rules) (*DirAnalysis, error) {
	if include == nil {
		include = DefaultInclude
	}
	objects, err := fs.List(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", url, err)
	}
	out := &DirAnalysis{
		URL:             url,
		Scans:           map[string]*FileScan{},
		SelfReferential: map[string]bool{},
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Name() < objects[j].Name() })
	for _, object := range objects {
		if isSelf(object, url) {
			continue
		}
		name := object.Name()
		if !include(name, object.IsDir()) {
			continue
		}
		if object.IsDir() {
			out.SubDirs = append(out.SubDirs, Entry{
				Name: name,
				Key:  sanitize.Key(name, rules),
				URL:  object.URL(),
			})
			continue
		}
		key := sanitize.Key(FileKey(name), rules)
		entry := Entry{Name: name, Key: key, URL: object.URL()}
		out.Files = append(out.Files, entry)

		src, err := fs.DownloadWithURL(ctx, object.URL())
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", object.URL(), err)
		}
		scan, err := ScanSource(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", object.URL(), err)
		}
		out.Scans[name] = scan
		if scan.HasDefault {
			out.TotalDefaultExports++
			if scan.DefaultIsFunc {
				out.DefaultFuncCount++
			}
		}
		if len(scan.Exports) > 1 || scan.HasDefault {
			for _, export := range scan.Exports {
				if sanitize.ExportKey(export, rules) == key {
					out.SelfReferential[key] = true
				}
			}
		}
	}
	out.HasMultipleDefaults = out.TotalDefaultExports >= 2
	return out, nil
}

// FileKey strips the extension from a module file name.
func FileKey(name string) string {
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext)
}

// isSelf guards against listings that include the directory itself.
func isSelf(object storage.Object, url string) bool {
	return object.IsDir() && (object.URL() == url || object.Name() == path.Base(url))
}
