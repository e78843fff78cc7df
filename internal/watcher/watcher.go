// file: internal/watcher/watcher.go
// version: 3.0.0
// guid: b2c3d4e5-f6a7-8901-bcde-f23456789012

// Package watcher guards the persistence directory against out-of-band
// removal. When the directory or one of its tracked files disappears the
// directory is recreated and a debounced callback asks the owner to write
// its state again.
package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/jdfalk/paced-downloader/internal/logging"
)

// DefaultDebounce is the default debounce period.
const DefaultDebounce = time.Second

// Callback is invoked after the debounce period with the watched directory.
type Callback func(dir string)

// Watcher monitors one directory and a set of file names inside it.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	dir       string
	tracked   map[string]bool
	debounce  time.Duration
	callback  Callback
	stop      chan struct{}
	stopped   chan struct{}
	mu        sync.Mutex
	timer     *time.Timer
	running   bool
	logger    *log.Logger
}

// New creates a Watcher for dir. Removing dir itself, or any of the named
// files inside it, triggers callback once events settle for debounce.
// Pass 0 for debounce to use DefaultDebounce.
func New(dir string, files []string, callback Callback, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	tracked := make(map[string]bool, len(files))
	for _, f := range files {
		tracked[f] = true
	}
	return &Watcher{
		dir:      filepath.Clean(dir),
		tracked:  tracked,
		debounce: debounce,
		callback: callback,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		logger:   logging.WithPrefix("watcher"),
	}
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Start creates the directory if needed and begins watching it and its
// parent. It is safe to call only once.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsWatcher = fsw

	if err := fsw.Add(filepath.Dir(w.dir)); err != nil {
		fsw.Close()
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return err
	}

	go w.eventLoop()
	return nil
}

// Stop gracefully shuts down the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stop)
	if w.fsWatcher != nil {
		w.fsWatcher.Close()
		<-w.stopped
	}

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
}

func (w *Watcher) eventLoop() {
	defer close(w.stopped)

	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch error", "err", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	name := filepath.Clean(event.Name)

	switch {
	case name == w.dir:
		w.logger.Warn("state directory removed, recreating", "dir", w.dir)
		if err := os.MkdirAll(w.dir, 0o755); err != nil {
			w.logger.Error("failed to recreate state directory", "dir", w.dir, "err", err)
			return
		}
		if err := w.fsWatcher.Add(w.dir); err != nil {
			w.logger.Warn("cannot re-watch state directory", "dir", w.dir, "err", err)
		}
	case filepath.Dir(name) == w.dir && w.tracked[filepath.Base(name)]:
		w.logger.Warn("state file removed", "file", name)
	default:
		return
	}
	w.scheduleCallback()
}

func (w *Watcher) scheduleCallback() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if w.timer != nil {
		w.timer.Reset(w.debounce)
		return
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		w.timer = nil
		w.mu.Unlock()

		w.logger.Info("triggering state rewrite", "dir", w.dir)
		if w.callback != nil {
			w.callback(w.dir)
		}
	})
}
