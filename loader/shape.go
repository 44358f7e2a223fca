package loader

import (
	"context"
	"strings"
	"sync"

	"github.com/cldmv/slothlet/module"
	"github.com/cldmv/slothlet/resolve"
	"github.com/cldmv/slothlet/sanitize"
)

// shapeEstimate answers a lazy forwarder's shape questions (Keys, Has,
// callable-ness) from static scans only, replaying the flattening rules on
// the scan-level view of each file. The scan does not see values, so some
// shapes are estimated wrongly until the slot materializes: map-valued
// default exports (their member keys and callable entries), struct-valued
// defaults in a file named after its folder (their fields), and a file named
// after its folder whose single named export has another name (listed under
// the file key, although it realizes as the folder's function).
type shapeEstimate struct {
	b      *Builder
	dir    string
	dirKey string

	once       sync.Once
	keysResult []string
	isCallable bool
}

func newShapeEstimate(b *Builder, dir, dirKey string) *shapeEstimate {
	return &shapeEstimate{b: b, dir: dir, dirKey: dirKey}
}

func (s *shapeEstimate) keys() []string {
	s.compute()
	return s.keysResult
}

func (s *shapeEstimate) callable() func() bool {
	return func() bool {
		s.compute()
		return s.isCallable
	}
}

func (s *shapeEstimate) compute() {
	s.once.Do(func() {
		ctx := context.Background()
		census, err := module.AnalyzeDir(ctx, s.b.cfg.FS, s.dir, s.b.cfg.Include, s.b.cfg.Rules)
		if err != nil {
			s.b.cfg.Log.Debug("shape estimate failed")
			return
		}
		var keys []string
		add := func(k string) {
			for _, existing := range keys {
				if existing == k {
					return
				}
			}
			keys = append(keys, k)
		}
		for _, entry := range census.Files {
			scan := census.Scans[entry.Name]
			if scan == nil {
				add(entry.Key)
				continue
			}
			named := make([]string, 0, len(scan.Exports))
			for _, export := range scan.Exports {
				named = append(named, sanitize.ExportKey(export, s.b.cfg.Rules))
			}
			funcName := ""
			if scan.HasDefault && scan.DefaultIsFunc {
				funcName = "default"
				if scan.DefaultAlias != "" {
					funcName = sanitize.ExportKey(scan.DefaultAlias, s.b.cfg.Rules)
				}
			}
			switch {
			case census.SelfReferential[entry.Key]:
				add(entry.Key)
			case census.HasMultipleDefaults && scan.HasDefault:
				add(entry.Key)
			case census.HasMultipleDefaults:
				for _, k := range named {
					add(k)
				}
			case !scan.HasDefault && len(named) == 1 && named[0] == entry.Key:
				add(entry.Key)
			case entry.Key == s.dirKey && scan.HasDefault && scan.DefaultIsFunc:
				// the function takes over; its named exports become members
				s.isCallable = true
				for _, k := range named {
					add(k)
				}
			case isGenericName(entry.Key, s.b.generics()) && len(census.Files) == 1 &&
				!scan.HasDefault && len(named) == 1:
				add(named[0])
			case funcName == "default" && scan.HasDefault:
				s.isCallable = true
				for _, k := range named {
					add(k)
				}
			case funcName != "" && funcName != entry.Key && strings.EqualFold(funcName, entry.Key):
				add(funcName)
			default:
				add(entry.Key)
			}
		}
		for _, sub := range census.SubDirs {
			add(sub.Key)
		}
		s.keysResult = keys
	})
}

func (b *Builder) generics() []string {
	if b.cfg.GenericNames != nil {
		return b.cfg.GenericNames
	}
	return resolve.DefaultGenericNames
}

func isGenericName(key string, generics []string) bool {
	for _, g := range generics {
		if key == g {
			return true
		}
	}
	return false
}
