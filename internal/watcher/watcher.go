// Package watcher reports raw creates and deletes below a project root.
//
// fsnotify watches single directories, so the watcher adds every directory
// of the tree and each one created later. The kernel reports a rename as the
// old name going away followed by the new name appearing. Deletes are held
// back for a short window and released right after the next create, so the
// sink always sees the create of a rename before its delete; pairing them is
// left to the sink. A delete followed by a create of the same path is a
// replacement and reaches the sink as the create alone.
// Entries created inside a new directory before its watch is in place are
// not reported; reconciliation picks them up.
package watcher

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"storyteller/internal/logging"
)

// DefaultHold is how long a delete waits for a create before it is
// reported on its own.
const DefaultHold = 50 * time.Millisecond

// Sink receives raw notifications as file system paths.
type Sink interface {
	Created(path string)
	Deleted(path string)
}

// Config configures a Watcher.
type Config struct {
	Root string
	// Ignore filters out paths such as the history store's own directory.
	Ignore func(path string) bool
	// Hold is how long a delete waits for a following create.
	Hold   time.Duration
	Logger *slog.Logger
}

// Watcher monitors a directory tree.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	cfg       Config
	sink      Sink

	dirsMu sync.Mutex
	dirs   map[string]bool

	// held deletes, oldest first. Only the event loop touches it.
	held []string

	errors chan error

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New creates a watcher for cfg.Root reporting to sink.
func New(cfg Config, sink Sink) (*Watcher, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, err
	}
	cfg.Root = root
	if cfg.Ignore == nil {
		cfg.Ignore = func(string) bool { return false }
	}
	if cfg.Hold <= 0 {
		cfg.Hold = DefaultHold
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		cfg:       cfg,
		sink:      sink,
		dirs:      make(map[string]bool),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}, nil
}

// Errors returns the channel of watch errors. Errors are dropped when it
// is full.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start watches the existing tree and begins reporting.
func (w *Watcher) Start() error {
	info, err := os.Stat(w.cfg.Root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &fs.PathError{Op: "watch", Path: w.cfg.Root, Err: fs.ErrInvalid}
	}
	if err := w.addTree(w.cfg.Root); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.eventLoop()

	w.cfg.Logger.Info("watching project", "root", w.cfg.Root, "directories", len(w.WatchedDirs()))
	return nil
}

// Stop gracefully shuts down the watcher.
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
		w.wg.Wait()
		close(w.errors)
	})
	return err
}

// WatchedDirs returns the watched directories in lexical order.
func (w *Watcher) WatchedDirs() []string {
	w.dirsMu.Lock()
	defer w.dirsMu.Unlock()
	out := make([]string, 0, len(w.dirs))
	for d := range w.dirs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// addTree watches dir and every directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			// A directory vanished mid-walk; its delete is reported anyway.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.cfg.Root && w.cfg.Ignore(p) {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(p); err != nil {
			return err
		}
		w.dirsMu.Lock()
		w.dirs[p] = true
		w.dirsMu.Unlock()
		return nil
	})
}

// forget drops dir and everything below it from the watched set. The
// kernel watch goes away with the directory itself.
func (w *Watcher) forget(dir string) {
	w.dirsMu.Lock()
	defer w.dirsMu.Unlock()
	for d := range w.dirs {
		if d == dir || strings.HasPrefix(d, dir+string(filepath.Separator)) {
			delete(w.dirs, d)
		}
	}
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()
	defer w.releaseDeletes()

	var release <-chan time.Time
	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case <-release:
			w.releaseDeletes()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.cfg.Logger.Warn("watch error", "error", err)
			select {
			case w.errors <- err:
			default:
			}
		}

		switch {
		case len(w.held) == 0:
			release = nil
		case release == nil:
			release = time.After(w.cfg.Hold)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Name == w.cfg.Root || w.cfg.Ignore(ev.Name) {
		return
	}

	switch {
	case ev.Op&fsnotify.Create != 0:
		if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
			// Watch before reporting so the sink never sees the directory
			// without the notifications for its children.
			if err := w.addTree(ev.Name); err != nil {
				w.cfg.Logger.Warn("cannot watch new directory", "path", ev.Name, "error", err)
			}
		}
		w.dropHeld(ev.Name)
		w.sink.Created(ev.Name)
		w.releaseDeletes()

	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.forget(ev.Name)
		w.holdDelete(ev.Name)
	}
}

// holdDelete queues a delete once. A moved directory is reported both by
// its parent and by its own watch.
func (w *Watcher) holdDelete(name string) {
	for _, h := range w.held {
		if h == name {
			return
		}
	}
	w.held = append(w.held, name)
}

// dropHeld forgets a held delete of a path that has just been created again.
func (w *Watcher) dropHeld(name string) {
	for i, h := range w.held {
		if h == name {
			w.held = append(w.held[:i], w.held[i+1:]...)
			w.cfg.Logger.Debug("path replaced", "path", name)
			return
		}
	}
}

// releaseDeletes reports every held delete, oldest first.
func (w *Watcher) releaseDeletes() {
	held := w.held
	w.held = nil
	for _, name := range held {
		w.sink.Deleted(name)
	}
}
