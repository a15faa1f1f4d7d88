// Package disambig turns raw filesystem create and delete notifications into
// creates, deletes, moves and renames.
//
// A rename or move shows up as a create of the new path and a delete of the
// old one in quick succession. Each create waits in a FIFO queue for a short
// window; a delete arriving meanwhile is paired with the oldest waiting
// create. Pairing is FIFO only, so unrelated operations racing inside the
// window can be paired wrongly. That yields a wrong but valid move or rename,
// never an error.
package disambig

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"storyteller/internal/logging"
)

// DefaultWindow is how long a create waits for a matching delete.
const DefaultWindow = 10 * time.Millisecond

// Op is the kind of a decision.
type Op uint8

const (
	OpCreate Op = iota + 1
	OpDelete
	OpMove
	OpRename
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	case OpMove:
		return "move"
	case OpRename:
		return "rename"
	}
	return "unknown"
}

// Decision is one classified filesystem change. For deletes Dir is not
// known, since the path no longer exists; the receiver resolves it from the
// node it tracks at Path.
type Decision struct {
	Op      Op
	Path    string // created, deleted or destination path
	OldPath string // source path of a move or rename
	Dir     bool
	At      time.Time
}

// Handler receives decisions. It is called from the goroutine that reported
// the delete, or from a timer goroutine for creates.
type Handler func(Decision)

// StatFunc reports whether path is a directory.
type StatFunc func(path string) (isDir bool, err error)

// Config tunes a Disambiguator. Zero fields get defaults.
type Config struct {
	Window time.Duration
	Clock  Clock
	Stat   StatFunc
	// Ignore filters out paths such as the history store's own directory.
	Ignore func(path string) bool
	Logger *slog.Logger
}

type pending struct {
	path    string
	arrived time.Time
	timer   Timer
}

// Disambiguator classifies raw notifications. Its methods are safe for
// concurrent use.
type Disambiguator struct {
	mu      sync.Mutex
	cfg     Config
	handler Handler
	queue   []*pending
	byPath  map[string]*pending
	closed  bool
}

// New creates a Disambiguator that reports to handler.
func New(cfg Config, handler Handler) *Disambiguator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Stat == nil {
		cfg.Stat = osStat
	}
	if cfg.Ignore == nil {
		cfg.Ignore = func(string) bool { return false }
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Disambiguator{
		cfg:     cfg,
		handler: handler,
		byPath:  make(map[string]*pending),
	}
}

func osStat(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// Created queues a raw create notification.
func (d *Disambiguator) Created(path string) {
	if d.cfg.Ignore(path) {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if prev, ok := d.byPath[path]; ok {
		// A second create of a waiting path restarts its window.
		prev.timer.Stop()
		d.remove(prev)
	}

	p := &pending{path: path, arrived: d.cfg.Clock.Now()}
	p.timer = d.cfg.Clock.AfterFunc(d.cfg.Window, func() { d.expire(p) })
	d.queue = append(d.queue, p)
	d.byPath[path] = p
}

// Deleted classifies a raw delete notification, pairing it with the oldest
// waiting create if there is one.
func (d *Disambiguator) Deleted(path string) {
	if d.cfg.Ignore(path) {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	var p *pending
	if len(d.queue) > 0 {
		p = d.queue[0]
		p.timer.Stop()
		d.remove(p)
	}
	d.mu.Unlock()

	now := d.cfg.Clock.Now()
	if p == nil {
		d.emit(Decision{Op: OpDelete, Path: path, At: now})
		return
	}

	if p.path == path {
		d.cfg.Logger.Debug("path created and deleted inside window", "path", path)
		return
	}
	isDir, err := d.cfg.Stat(p.path)
	if err != nil {
		// The paired path is gone too; nothing survived to be moved.
		d.cfg.Logger.Debug("paired create vanished", "path", p.path, "error", err)
		d.emit(Decision{Op: OpDelete, Path: path, At: now})
		return
	}

	op := OpMove
	if filepath.Dir(p.path) == filepath.Dir(path) {
		op = OpRename
	}
	d.cfg.Logger.Debug("paired create with delete",
		"op", op.String(), "from", path, "to", p.path, "waited", now.Sub(p.arrived))
	d.emit(Decision{Op: op, Path: p.path, OldPath: path, Dir: isDir, At: now})
}

// expire runs when a create's window closes without a matching delete.
func (d *Disambiguator) expire(p *pending) {
	d.mu.Lock()
	if d.closed || d.byPath[p.path] != p {
		d.mu.Unlock()
		return
	}
	d.remove(p)
	d.mu.Unlock()

	d.fire(p)
}

func (d *Disambiguator) fire(p *pending) {
	isDir, err := d.cfg.Stat(p.path)
	if err != nil {
		d.cfg.Logger.Warn("dropping create of vanished path", "path", p.path, "error", err)
		return
	}
	d.emit(Decision{Op: OpCreate, Path: p.path, Dir: isDir, At: d.cfg.Clock.Now()})
}

// Flush emits every waiting create immediately, oldest first.
func (d *Disambiguator) Flush() {
	d.mu.Lock()
	queue := d.queue
	d.queue = nil
	d.byPath = make(map[string]*pending)
	for _, p := range queue {
		p.timer.Stop()
	}
	d.mu.Unlock()

	for _, p := range queue {
		d.fire(p)
	}
}

// Pending returns the waiting create paths, oldest first.
func (d *Disambiguator) Pending() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.queue))
	for i, p := range d.queue {
		out[i] = p.path
	}
	return out
}

// Close flushes waiting creates and ignores later notifications.
func (d *Disambiguator) Close() {
	d.Flush()
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

func (d *Disambiguator) emit(dec Decision) {
	if d.handler != nil {
		d.handler(dec)
	}
}

// remove drops p from the queue. The caller holds d.mu.
func (d *Disambiguator) remove(p *pending) {
	for i, q := range d.queue {
		if q == p {
			d.queue = append(d.queue[:i], d.queue[i+1:]...)
			break
		}
	}
	if d.byPath[p.path] == p {
		delete(d.byPath, p.path)
	}
}
