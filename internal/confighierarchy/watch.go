package confighierarchy

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch starts watching the hierarchy's global and project .archiflow
// directories for changes and invalidates the cache whenever one of the
// known settings or context files is created, written, or removed. onChange
// is invoked (on the watcher's own goroutine) after each invalidation so a
// caller can trigger Controller.ReloadConfig. The returned close function
// stops the watcher; Watch does nothing further after it is called.
func (h *Hierarchy) Watch(onChange func()) (close func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	known := make(map[string]struct{})
	dirs := make(map[string]struct{})
	for _, p := range h.paths.all() {
		known[p] = struct{}{}
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for dir := range dirs {
		// A directory that doesn't exist yet simply isn't watched; Load's
		// mtime fingerprint still catches it once it's created, the next
		// time something triggers a reload.
		_ = watcher.Add(dir)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if _, ok := known[event.Name]; !ok {
					continue
				}
				h.ClearCache()
				if onChange != nil {
					onChange()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return watcher.Close, nil
}
