// Package session owns everything one capture session of a project needs:
// the event log and its durable backend, the live model, the move/rename
// disambiguator, the clipboard tracker, the developers and an exclusive
// lock that keeps other sessions out of the same project.
//
// Capture calls are serialized by the session. The only asynchronous input
// is the disambiguator, whose decisions are applied under the same lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"storyteller/internal/capture"
	"storyteller/internal/clipboard"
	"storyteller/internal/config"
	"storyteller/internal/developer"
	"storyteller/internal/disambig"
	"storyteller/internal/event"
	"storyteller/internal/eventlog"
	"storyteller/internal/export"
	"storyteller/internal/logging"
	"storyteller/internal/project"
	"storyteller/internal/reconcile"
	"storyteller/internal/store"
	"storyteller/internal/tree"
)

// Errors
var (
	ErrLocked             = errors.New("session: project is in use by another session")
	ErrNotInitialized     = errors.New("session: project is not initialized")
	ErrAlreadyInitialized = errors.New("session: project is already initialized")
	ErrClosed             = errors.New("session: closed")
)

const (
	lockFileName       = "lock"
	developersFileName = "developers.json"
)

// Options configures a session.
type Options struct {
	Root string
	// StateDir is the name of the directory below Root holding the history.
	StateDir string
	// Storage selects the backend. An empty Path for a file backend means
	// the default file in the state directory.
	Storage store.Config

	Window             time.Duration
	SaveMarkerInterval time.Duration
	Ignore             []string
	SkipIrrelevant     bool

	// Clock drives the disambiguation window; Now stamps events.
	Clock disambig.Clock
	Now   func() time.Time

	// OnDecision observes each applied filesystem decision and its outcome.
	OnDecision func(disambig.Decision, error)

	Logger *slog.Logger
}

// OptionsFromConfig maps a loaded configuration onto session options.
func OptionsFromConfig(root string, cfg *config.Config) Options {
	return Options{
		Root:     root,
		StateDir: config.StateDirName,
		Storage: store.Config{
			Type: cfg.Storage.Type,
			Path: cfg.StoragePath(root),
			DSN:  cfg.Storage.DSN,
		},
		Window:             cfg.Window(),
		SaveMarkerInterval: cfg.SaveMarkerInterval(),
		Ignore:             append([]string(nil), cfg.Capture.Ignore...),
		SkipIrrelevant:     cfg.Playback.SkipIrrelevant,
	}
}

func (o *Options) defaults() error {
	if o.Root == "" {
		return fmt.Errorf("session: root is required")
	}
	root, err := filepath.Abs(o.Root)
	if err != nil {
		return err
	}
	o.Root = root
	if o.StateDir == "" {
		o.StateDir = config.StateDirName
	}
	if o.Storage.Type == "" {
		o.Storage.Type = store.TypeSQLite
	}
	if o.Storage.Path == "" {
		o.Storage.Path = store.DefaultPath(o.stateDir(), o.Storage.Type)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	return nil
}

func (o *Options) stateDir() string {
	return filepath.Join(o.Root, o.StateDir)
}

// Session is one open project.
type Session struct {
	mu sync.Mutex

	id     string
	opts   Options
	logger *slog.Logger

	lock    *os.File
	log     *eventlog.Log
	rec     *capture.Recorder
	devs    *developer.Manager
	clip    *clipboard.Tracker
	dis     *disambig.Disambiguator
	recon   *reconcile.Engine
	started time.Time

	// lastMarked is the log length at the last save marker.
	lastMarked int
	failed     error
	// halted is closed when failed is set.
	halted chan struct{}
	closed bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Init creates a project at opts.Root and imports whatever already exists
// there as never-relevant setup events, so playback starts after them.
func Init(ctx context.Context, opts Options) (*Session, error) {
	if err := opts.defaults(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.stateDir(), 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	s, err := open(ctx, opts)
	if err != nil {
		return nil, err
	}
	if s.log.Len() > 0 {
		s.Close()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInitialized, opts.Root)
	}
	if err := s.rec.EnsureRoot(ctx); err != nil {
		s.Close()
		return nil, err
	}

	importer := reconcile.New(opts.Root, s.rec.Setup(), s.reconcileConfig())
	found, err := importer.Find(ctx)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("scan project: %w", err)
	}
	if err := importer.ResolveAll(ctx, found, reconcile.Plan{Untracked: reconcile.Create}); err != nil {
		s.Close()
		return nil, fmt.Errorf("import project: %w", err)
	}
	s.lastMarked = s.log.Len()
	s.logger.Info("initialized project",
		"root", opts.Root, "directories", len(found.UntrackedDirs), "files", len(found.UntrackedFiles))

	s.startMarkers()
	return s, nil
}

// Open opens an initialized project.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if err := opts.defaults(); err != nil {
		return nil, err
	}
	if info, err := os.Stat(opts.stateDir()); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotInitialized, opts.Root)
	}

	s, err := open(ctx, opts)
	if err != nil {
		return nil, err
	}
	if s.log.Len() == 0 || s.rec.Model().Tree().RootID() == "" {
		s.Close()
		return nil, fmt.Errorf("%w: %s has no history", ErrNotInitialized, opts.Root)
	}
	s.startMarkers()
	return s, nil
}

// Import creates a project history at opts.Root from an exported document.
// The project must not have a history yet. Files on disk are left alone;
// reconcile them on the next capture.
func Import(ctx context.Context, opts Options, doc export.Document) (int, error) {
	if err := opts.defaults(); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(opts.stateDir(), 0700); err != nil {
		return 0, fmt.Errorf("create state directory: %w", err)
	}
	s, err := open(ctx, opts)
	if err != nil {
		return 0, err
	}
	defer s.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log.Len() > 0 {
		return 0, fmt.Errorf("%w: %s", ErrAlreadyInitialized, opts.Root)
	}
	n, err := export.Import(ctx, s.log, doc)
	if err != nil {
		return n, err
	}
	s.logger.Info("imported history", "events", n)
	return n, nil
}

// History loads the recorded events of a project without locking it, so a
// running capture session is not disturbed. The result is a fixed snapshot.
func History(ctx context.Context, opts Options) (eventlog.Snapshot, error) {
	if err := opts.defaults(); err != nil {
		return eventlog.Snapshot{}, err
	}
	if info, err := os.Stat(opts.stateDir()); err != nil || !info.IsDir() {
		return eventlog.Snapshot{}, fmt.Errorf("%w: %s", ErrNotInitialized, opts.Root)
	}
	backend, err := store.Open(ctx, opts.Storage)
	if err != nil {
		return eventlog.Snapshot{}, fmt.Errorf("open storage: %w", err)
	}
	log, err := eventlog.Open(ctx, backend)
	if err != nil {
		backend.Close()
		return eventlog.Snapshot{}, err
	}
	defer log.Close()
	if log.Len() == 0 {
		return eventlog.Snapshot{}, fmt.Errorf("%w: %s has no history", ErrNotInitialized, opts.Root)
	}
	return log.Snapshot(), nil
}

func open(ctx context.Context, opts Options) (*Session, error) {
	s := &Session{
		id:      event.NewID(),
		opts:    opts,
		clip:    clipboard.New(),
		started: opts.Now(),
		stop:    make(chan struct{}),
		halted:  make(chan struct{}),
	}
	ctx = logging.ContextWithSessionID(ctx, s.id)
	s.logger = logging.WithContext(ctx, opts.Logger)

	lock, err := acquire(filepath.Join(opts.stateDir(), lockFileName))
	if err != nil {
		return nil, err
	}
	s.lock = lock

	cleanup := func() {
		unlockFile(s.lock)
		s.lock.Close()
	}

	backend, err := store.Open(ctx, opts.Storage)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log, err := eventlog.Open(ctx, backend, eventlog.WithClock(opts.Now))
	if err != nil {
		backend.Close()
		cleanup()
		return nil, err
	}
	model, err := project.Replay(log.Events())
	if err != nil {
		log.Close()
		cleanup()
		return nil, fmt.Errorf("replay history: %w", err)
	}

	devPath := ""
	if opts.Storage.Type != store.TypeMemory {
		devPath = filepath.Join(opts.stateDir(), developersFileName)
	}
	devs, err := developer.Open(devPath)
	if err != nil {
		log.Close()
		cleanup()
		return nil, err
	}

	s.log = log
	s.devs = devs
	s.lastMarked = log.Len()
	s.rec = capture.NewRecorder(log, model, devs.ActiveGroupID, s.logger.With(slog.String("component", "capture")))
	s.recon = reconcile.New(opts.Root, s.rec, s.reconcileConfig())
	s.dis = disambig.New(disambig.Config{
		Window: opts.Window,
		Clock:  opts.Clock,
		Ignore: s.IgnoredOS,
		Logger: s.logger.With(slog.String("component", "disambig")),
	}, s.decide)

	s.logger.Info("opened project", "root", opts.Root, "storage", opts.Storage.Type, "events", log.Len())
	return s, nil
}

func acquire(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, err
		}
		return nil, fmt.Errorf("lock project: %w", err)
	}
	return f, nil
}

func (s *Session) reconcileConfig() reconcile.Config {
	return reconcile.Config{
		Ignore:   s.opts.Ignore,
		StateDir: s.opts.StateDir,
		Logger:   s.logger.With(slog.String("component", "reconcile")),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Root returns the absolute project root.
func (s *Session) Root() string { return s.opts.Root }

// StateDir returns the absolute state directory.
func (s *Session) StateDir() string { return s.opts.stateDir() }

// Developers returns the developer manager.
func (s *Session) Developers() *developer.Manager { return s.devs }

// Err returns the integrity error that stopped capture, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Halted is closed once an integrity error stops capture; Err returns it.
func (s *Session) Halted() <-chan struct{} { return s.halted }

// Ignored reports whether the project path p is never recorded.
func (s *Session) Ignored(p string) bool {
	return reconcile.Ignored(p, s.opts.StateDir, s.opts.Ignore)
}

// IgnoredOS is Ignored for file system paths; paths outside the root are
// ignored too.
func (s *Session) IgnoredOS(name string) bool {
	p, err := tree.FromOS(s.opts.Root, name)
	if err != nil {
		return true
	}
	return s.Ignored(p)
}

// usable checks that capture may proceed. The caller holds s.mu.
func (s *Session) usable() error {
	if s.closed {
		return ErrClosed
	}
	return s.failed
}

// check records a fatal integrity failure. The caller holds s.mu.
func (s *Session) check(err error) error {
	if err != nil && event.IsLogIntegrity(err) && s.failed == nil {
		s.failed = err
		close(s.halted)
		s.logger.Error("capture stopped", "error", err)
	}
	return err
}

func (s *Session) startMarkers() {
	if s.opts.SaveMarkerInterval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.opts.SaveMarkerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.periodicMarker()
			}
		}
	}()
}

// periodicMarker records a marker when something happened since the last.
func (s *Session) periodicMarker() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usable() != nil || s.log.Len() == s.lastMarked {
		return
	}
	if _, err := s.saveMarker(context.Background(), false); err != nil {
		s.logger.Warn("periodic save marker failed", "error", err)
	}
}

// Close flushes waiting filesystem notifications, stops background work
// and releases the project.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	if s.dis != nil {
		s.dis.Close()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true

	var errs []error
	if s.log != nil {
		errs = append(errs, s.log.Close())
	}
	if s.lock != nil {
		errs = append(errs, unlockFile(s.lock), s.lock.Close())
	}
	s.logger.Info("closed project", "events", s.logLen(), "duration", s.opts.Now().Sub(s.started))
	return errors.Join(errs...)
}

func (s *Session) logLen() int {
	if s.log == nil {
		return 0
	}
	return s.log.Len()
}
