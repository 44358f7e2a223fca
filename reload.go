package slothlet

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/minio/highwayhash"
	"github.com/viant/afs/storage"
	"github.com/viant/afs/url"
	"go.uber.org/zap"

	"github.com/cldmv/slothlet/api"
	"github.com/cldmv/slothlet/module"
	"github.com/cldmv/slothlet/runtime"
)

var hashKey = []byte("0123456789ABCDEF0123456789ABCDEF")

// fingerprint hashes module file contents so unchanged trees skip the
// rebuild.
func fingerprint(data []byte) (uint64, error) {
	h, err := highwayhash.New64(hashKey)
	if err != nil {
		return 0, err
	}
	_, err = h.Write(data)
	return h.Sum64(), err
}

// Reload rescans the root directory and swaps the core-owned tree in
// place: external references to the bound API and to previously resolved
// containers keep working, stale metadata is scrubbed, and recorded
// addApi grafts are replayed on top.
func (b *BoundApi) Reload(ctx context.Context) error {
	if err := b.s.guard(); err != nil {
		return err
	}
	s := b.s

	changed, err := s.treeChanged(ctx)
	if err != nil {
		return err
	}
	if !changed {
		s.log.Debug("reload skipped, fingerprints unchanged")
		return nil
	}

	fresh, err := s.builder.Build(ctx, s.cfg.Dir)
	if err != nil {
		return err
	}
	api.AttachMetadata(fresh, map[string]any{"owner": CoreOwner, "instanceId": s.id}, s.cfg.Dir)

	s.mu.Lock()
	old := s.root
	api.ScrubMetadata(old)
	if err := api.RebindDeep(old, fresh); err != nil {
		// shape class changed (object root became callable or vice versa):
		// replace wholesale and re-register the live target
		s.root = fresh
		s.reg.Update(s.id, func(e *runtime.Entry) { e.Self = fresh })
	}
	// rebuild core ownership from the fresh tree
	for p := range s.ownership {
		s.dropOwnership(CoreOwner, p)
	}
	s.installOwnership(CoreOwner, api.CollectPaths(s.root, ""))
	grafts := make([]addRecord, 0, len(s.history))
	for _, rec := range s.history {
		if rec.Owner != CoreOwner && rec.Path != "" {
			grafts = append(grafts, rec)
		}
	}
	s.mu.Unlock()

	for _, rec := range grafts {
		if err := s.addApi(ctx, rec.Path, rec.Dir, rec.Owner, addOptions{forceOverwrite: true, mutateExisting: true}); err != nil {
			s.log.Warn("graft replay failed during reload",
				zap.String("path", rec.Path), zap.Error(err))
		}
	}
	s.log.Debug("reload complete")
	return nil
}

// walkTree recurses through the module tree via the instance's filesystem
// service, honoring the include predicate, and hands every kept object to
// visit. Listing-based recursion mirrors the loader's walk.
func (s *Slothlet) walkTree(ctx context.Context, dir string, visit func(object storage.Object) error) error {
	include := s.cfg.Include
	if include == nil {
		include = module.DefaultInclude
	}
	objects, err := s.fs.List(ctx, dir)
	if err != nil {
		return err
	}
	for _, object := range objects {
		name := object.Name()
		if object.IsDir() {
			if object.URL() == dir || name == path.Base(dir) {
				continue
			}
			if !include(name, true) {
				continue
			}
			if err := visit(object); err != nil {
				return err
			}
			if err := s.walkTree(ctx, object.URL(), visit); err != nil {
				return err
			}
			continue
		}
		if !include(name, false) {
			continue
		}
		if err := visit(object); err != nil {
			return err
		}
	}
	return nil
}

// treeChanged walks the root directory and compares module fingerprints
// against the previous pass.
func (s *Slothlet) treeChanged(ctx context.Context) (bool, error) {
	fresh := map[string]uint64{}
	err := s.walkTree(ctx, s.cfg.Dir, func(object storage.Object) error {
		if object.IsDir() {
			return nil
		}
		data, err := s.fs.DownloadWithURL(ctx, object.URL())
		if err != nil {
			return err
		}
		sum, err := fingerprint(data)
		if err != nil {
			return err
		}
		fresh[object.URL()] = sum
		return nil
	})
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := len(fresh) != len(s.prints)
	if !changed {
		for p, sum := range fresh {
			if prev, ok := s.prints[p]; !ok || prev != sum {
				changed = true
				break
			}
		}
	}
	first := len(s.prints) == 0
	s.prints = fresh
	// the very first pass primes the cache and always counts as changed
	return changed || first, nil
}

// watcher debounces filesystem events into reloads.
type watcher struct {
	s       *Slothlet
	fsw     *fsnotify.Watcher
	done    chan struct{}
	stopped sync.Once
}

const watchDebounce = 200 * time.Millisecond

func newWatcher(s *Slothlet) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// fsnotify is not recursive: register every directory in the tree,
	// discovered through the instance's filesystem service
	ctx := context.Background()
	dirs := []string{url.Path(s.cfg.Dir)}
	err = s.walkTree(ctx, s.cfg.Dir, func(object storage.Object) error {
		if object.IsDir() {
			dirs = append(dirs, url.Path(object.URL()))
		}
		return nil
	})
	if err == nil {
		for _, dir := range dirs {
			if err = fsw.Add(dir); err != nil {
				break
			}
		}
	}
	if err != nil {
		_ = fsw.Close()
		return nil, err
	}
	w := &watcher{s: s, fsw: fsw, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *watcher) run() {
	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if object, err := w.s.fs.Object(context.Background(), event.Name); err == nil && object.IsDir() {
					_ = w.fsw.Add(event.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				timer.Reset(watchDebounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.s.log.Warn("watch error", zap.Error(err))
		case <-timerC:
			timer = nil
			timerC = nil
			if err := (&BoundApi{s: w.s}).Reload(context.Background()); err != nil {
				w.s.log.Warn("hot reload failed", zap.Error(err))
			}
		}
	}
}

func (w *watcher) stop() {
	w.stopped.Do(func() {
		close(w.done)
		_ = w.fsw.Close()
	})
}
