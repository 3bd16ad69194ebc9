package watcher

// Package watcher provides a recursive file system watcher.
// It uses fsnotify to listen for file writes and triggers a callback once a
// file has been quiet for the debounce period. New subdirectories are added
// to the watch list automatically and directory changes can be observed
// through a separate hook.

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher handles the file system events using fsnotify.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration
	onFile    func(string)
	logger    *slog.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	dirs    map[string]struct{}
	onDir   func(string)
	closed  bool
	stopped chan struct{}
}

// NewWatcher creates and initializes a recursive watcher on the given root directory.
//
// Arguments:
//
//	root: The directory path to start watching.
//	debounce: How long a file must stay quiet before onFile fires.
//	onFile: A function to call when a file has settled.
//	logger: Destination for watch errors.
func NewWatcher(root string, debounce time.Duration, onFile func(string), logger *slog.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{
		fsWatcher: fs,
		debounce:  debounce,
		onFile:    onFile,
		logger:    logger,
		timers:    make(map[string]*time.Timer),
		dirs:      make(map[string]struct{}),
		stopped:   make(chan struct{}),
	}

	go w.loop()

	if err := w.AddRecursive(root); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// OnDirectoryChange registers a hook fired when a watched subdirectory is
// created or removed.
func (w *Watcher) OnDirectoryChange(fn func(string)) {
	w.mu.Lock()
	w.onDir = fn
	w.mu.Unlock()
}

func (w *Watcher) loop() {
	defer close(w.stopped)
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			// New directory: watch it too (recursive)
			if err := w.AddRecursive(event.Name); err != nil {
				w.logger.Warn("Failed to watch directory", "path", event.Name, "error", err)
			}
			w.notifyDir(event.Name)
			return
		}
		w.schedule(event.Name)

	case event.Has(fsnotify.Write):
		w.schedule(event.Name)

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.mu.Lock()
		_, wasDir := w.dirs[event.Name]
		delete(w.dirs, event.Name)
		if t, ok := w.timers[event.Name]; ok {
			t.Stop()
			delete(w.timers, event.Name)
		}
		w.mu.Unlock()
		if wasDir {
			w.notifyDir(event.Name)
		}
	}
}

// schedule (re)arms the debounce timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		closed := w.closed
		w.mu.Unlock()
		if !closed && w.onFile != nil {
			w.onFile(path)
		}
	})
}

func (w *Watcher) notifyDir(path string) {
	w.mu.Lock()
	fn := w.onDir
	w.mu.Unlock()
	if fn != nil {
		fn(path)
	}
}

// AddRecursive adds the given path and all its sub-directories to the watcher.
func (w *Watcher) AddRecursive(path string) error {
	return filepath.Walk(path, func(newPath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			w.logger.Debug("Watching", "path", newPath)
			if err := w.fsWatcher.Add(newPath); err != nil {
				return err
			}
			w.mu.Lock()
			w.dirs[newPath] = struct{}{}
			w.mu.Unlock()
		}
		return nil
	})
}

// Close shuts down the file system watcher and cancels pending callbacks.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()

	w.fsWatcher.Close()
	<-w.stopped
}
