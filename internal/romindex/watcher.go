package romindex

import (
	"github.com/fsnotify/fsnotify"

	"github.com/patchfs/patchfs/internal/logger"
)

// Watcher observes the index's base directory non-recursively and triggers
// a Refresh whenever a direct child is created, written, removed, or
// renamed. Errors from the underlying watch are logged, not propagated: a
// watch failure degrades to "the index only updates when asked", it never
// aborts the mount.
type Watcher struct {
	idx  *Index
	fsw  *fsnotify.Watcher
	done chan struct{}
}

// NewWatcher starts watching idx's base directory in the background. The
// caller must call Close to release the underlying inotify/kqueue handle.
func NewWatcher(idx *Index) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(idx.baseDir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{idx: idx, fsw: fsw, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.qualifies(event.Op) {
				if err := w.idx.Refresh(); err != nil {
					logger.Errorf("romindex watcher: refresh after %s on %s failed: %v", event.Op, event.Name, err)
				}
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Errorf("romindex watcher: %v", err)
		case <-w.done:
			return
		}
	}
}

// qualifies reports whether op should trigger a refresh: create, write,
// remove, and both sides of a rename (fsnotify reports a file moved into
// the directory as Create and one moved out as Rename). fsnotify's Write is
// a modification event, not close-after-write, so a file still being copied
// in may be scanned part-way through; each later Write triggers another
// refresh, and the scan skips zero-length source candidates.
func (w *Watcher) qualifies(op fsnotify.Op) bool {
	return op&fsnotify.Create != 0 ||
		op&fsnotify.Write != 0 ||
		op&fsnotify.Remove != 0 ||
		op&fsnotify.Rename != 0
}

// Close stops the watcher and releases its underlying OS resources.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
