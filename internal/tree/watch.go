package tree

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"specforge/internal/logging"
)

// Watcher invalidates cache entries when files under the tree change on
// disk outside the engine's own writes, such as a developer editing
// generated output mid-run.
type Watcher struct {
	tree    *FileTree
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch starts watching the tree root. The returned Watcher must be
// closed when the run ends.
func Watch(t *FileTree) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(t.Root()); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		tree:    t,
		watcher: fsw,
		done:    make(chan struct{}),
	}
	go w.loop()
	logging.Tree("watching %s for external changes", t.Root())
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			rel, err := filepath.Rel(w.tree.Root(), event.Name)
			if err != nil || strings.HasPrefix(rel, "..") {
				continue
			}
			rel = filepath.ToSlash(rel)
			logging.TreeDebug("external change detected: %s (%s)", rel, event.Op)
			if err := w.tree.Invalidate(rel); err != nil {
				logging.Get(logging.CategoryTree).Warn("failed to invalidate %s after external change: %v", rel, err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryTree).Warn("watcher error: %v", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
