// Package watcher registers filesystem watches for services and, on a
// matching event, enqueues a debounced restart instead of calling
// Service.Restart synchronously (spec §4.5, §4.6 "Event → action").
package watcher

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// defaultExclude mirrors the spec's built-in default exclude set (§6, §8
// property 6): ".*", "**/{build,target}*", "*.o".
var defaultExclude = []string{".*", "**/build*", "**/target*", "*.o"}

// RestartFunc is called for every non-excluded event on a watched path of
// serviceID; the watcher itself does not debounce. The caller is expected
// to enqueue a coalesced scheduler event rather than restart synchronously
// (spec §4.6).
type RestartFunc func(serviceID int64)

// Spec is the per-service subset of configuration the watcher needs.
type Spec struct {
	Paths    []string
	Include  []string
	Exclude  []string
	MaxDepth int
}

// isExcluded reports whether name should be skipped: included patterns
// always win over excluded ones, which are checked against both the
// spec's own exclude list and the built-in default set (spec §8 property 6).
func (s Spec) isExcluded(name string) bool {
	for _, pat := range s.Include {
		if ok, _ := doublestar.Match(pat, name); ok {
			return false
		}
	}
	for _, pat := range s.Exclude {
		if ok, _ := doublestar.Match(pat, name); ok {
			return true
		}
	}
	for _, pat := range defaultExclude {
		if ok, _ := doublestar.Match(pat, name); ok {
			return true
		}
	}
	return false
}

// Watcher owns one fsnotify.Watcher shared across all registered services.
type Watcher struct {
	fsw *fsnotify.Watcher

	mu      sync.Mutex
	byPath  map[string]int64 // watched directory -> owning service
	specs   map[int64]Spec
	onEvent RestartFunc

	done chan struct{}
}

// New creates a Watcher; onEvent is invoked from the watcher's own
// goroutine and must not block.
func New(onEvent RestartFunc) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:     fsw,
		byPath:  make(map[string]int64),
		specs:   make(map[int64]Spec),
		onEvent: onEvent,
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Add registers (or replaces) the watch set for a service, recursively
// registering directories up to spec.MaxDepth (spec §4.5).
func (w *Watcher) Add(serviceID int64, spec Spec) error {
	w.Remove(serviceID)
	if spec.MaxDepth <= 0 {
		spec.MaxDepth = 4
	}

	w.mu.Lock()
	w.specs[serviceID] = spec
	w.mu.Unlock()

	var firstErr error
	for _, root := range spec.Paths {
		if err := w.addTree(serviceID, spec, root, spec.MaxDepth); err != nil && firstErr == nil {
			// Watch registration failure is logged per path; the service
			// still runs (spec §7).
			firstErr = err
		}
	}
	return firstErr
}

// addTree registers dir and recurses into its non-excluded subdirectories
// up to depth. Configured root paths are never excluded themselves, even
// if they would match an exclude pattern — only descendants are filtered.
func (w *Watcher) addTree(serviceID int64, spec Spec, dir string, depth int) error {
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	w.mu.Lock()
	w.byPath[dir] = serviceID
	w.mu.Unlock()

	if depth <= 1 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if spec.isExcluded(e.Name()) {
			continue
		}
		_ = w.addTree(serviceID, spec, filepath.Join(dir, e.Name()), depth-1)
	}
	return nil
}

// Remove unregisters every watch owned by serviceID.
func (w *Watcher) Remove(serviceID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.specs, serviceID)
	for path, owner := range w.byPath {
		if owner == serviceID {
			_ = w.fsw.Remove(path)
			delete(w.byPath, path)
		}
	}
}

// HasWatch reports whether serviceID currently owns any registered path.
func (w *Watcher) HasWatch(serviceID int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.specs[serviceID]
	return ok
}

// Close stops the watcher goroutine and releases the underlying fsnotify
// watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case <-w.fsw.Errors:
			// Watch registration failures surface at Add() time; runtime
			// errors here are drained and dropped.
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	dir := filepath.Dir(ev.Name)
	base := filepath.Base(ev.Name)

	w.mu.Lock()
	serviceID, ok := w.byPath[dir]
	var spec Spec
	if ok {
		spec = w.specs[serviceID]
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	if spec.isExcluded(base) {
		return
	}
	if w.onEvent != nil {
		w.onEvent(serviceID)
	}
}
