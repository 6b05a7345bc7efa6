package fs

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/polystore/polystore/lib/storage"
)

// watcher bridges fsnotify events to the adapter's notification consumers.
// Because the signal comes from the filesystem itself, mutations performed
// by other processes on the same root are observed too.
type watcher struct {
	adapter *adapterImpl
	fsw     *fsnotify.Watcher
	done    chan struct{}
}

// newWatcher creates the fsnotify watcher, registers the root and every
// existing subdirectory, and starts the event loop.
func newWatcher(adapter *adapterImpl) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &watcher{
		adapter: adapter,
		fsw:     fsw,
		done:    make(chan struct{}),
	}

	if err := w.addRecursive(adapter.root); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

// addRecursive registers path and all directories beneath it. fsnotify
// watches are not recursive on their own.
func (w *watcher) addRecursive(path string) error {
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(p)
		}
		return nil
	})
}

// loop translates raw filesystem events into record change notifications.
func (w *watcher) loop() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Keep watching despite errors
			w.adapter.logger.Warn().Err(err).Msg("filesystem watcher error")
		}
	}
}

func (w *watcher) handle(event fsnotify.Event) {
	// New directories must be added to the watch set before their files
	// start changing.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.adapter.logger.Warn().Err(err).Str("dir", event.Name).Msg("cannot watch new directory")
			}
			// Record files written into the directory before the watch was in
			// place produced no events; announce them now.
			w.announceExisting(event.Name)
			return
		}
	}

	key, ok := w.adapter.pathToKey(event.Name)
	if !ok {
		return
	}

	switch {
	case event.Op&fsnotify.Create != 0:
		doc, _, _ := w.adapter.read(key)
		w.adapter.Emit(storage.OpCreate, key, doc)

	case event.Op&fsnotify.Write != 0:
		doc, _, _ := w.adapter.read(key)
		w.adapter.Emit(storage.OpUpdateOne, key, doc)

	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.adapter.Emit(storage.OpDelete, key, nil)
	}
}

// announceExisting emits a create notification for every record file already
// present beneath dir.
func (w *watcher) announceExisting(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if key, ok := w.adapter.pathToKey(p); ok {
			doc, _, _ := w.adapter.read(key)
			w.adapter.Emit(storage.OpCreate, key, doc)
		}
		return nil
	})
}

func (w *watcher) close() error {
	close(w.done)
	return w.fsw.Close()
}
