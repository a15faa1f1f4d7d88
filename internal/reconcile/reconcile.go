// Package reconcile finds and resolves differences between the file system
// and the project state rebuilt from the event history, for use when capture
// resumes after a gap.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"unicode/utf8"

	"storyteller/internal/capture"
	"storyteller/internal/event"
	"storyteller/internal/logging"
	"storyteller/internal/tree"
)

// Category groups discrepancies by how they are resolved.
type Category string

const (
	Modified  Category = "modified"
	Untracked Category = "untracked"
	Missing   Category = "missing"
)

// Policy is the caller's choice for one discrepancy.
type Policy string

const (
	// Unset means the caller made no choice.
	Unset Policy = ""

	// Modified files
	AcceptChanges Policy = "accept-changes"
	Recreate      Policy = "recreate"

	// Untracked paths
	Create Policy = "create"
	Delete Policy = "delete"

	// Missing nodes; Recreate also applies
	AcceptDelete Policy = "accept-delete"
)

// Errors
var (
	ErrBadPolicy   = errors.New("reconcile: policy does not apply to category")
	ErrUnknownKey  = errors.New("reconcile: no such discrepancy")
	ErrNotResolved = errors.New("reconcile: discrepancy still present")
)

// DefaultPolicy never destroys data: changed and new files on disk are
// recorded in history, and missing nodes are written back from it.
func DefaultPolicy(c Category) Policy {
	switch c {
	case Modified:
		return AcceptChanges
	case Untracked:
		return Create
	case Missing:
		return Recreate
	}
	return Unset
}

// Valid reports whether p can resolve a discrepancy of category c.
func (p Policy) Valid(c Category) bool {
	switch c {
	case Modified:
		return p == AcceptChanges || p == Recreate
	case Untracked:
		return p == Create || p == Delete
	case Missing:
		return p == Recreate || p == AcceptDelete
	}
	return false
}

// ParsePolicy checks a policy name given for category c.
func ParsePolicy(c Category, s string) (Policy, error) {
	p := Policy(s)
	if p == Unset || p.Valid(c) {
		return p, nil
	}
	return Unset, fmt.Errorf("%w: %q for %s", ErrBadPolicy, s, c)
}

// Discrepancies lists every difference found. Untracked paths are in
// top-down discovery order; ids follow the tree's path order.
type Discrepancies struct {
	UntrackedDirs       []string `json:"untrackedDirs" yaml:"untrackedDirs"`
	UntrackedFiles      []string `json:"untrackedFiles" yaml:"untrackedFiles"`
	MissingDirectoryIDs []string `json:"missingDirectoryIds" yaml:"missingDirectoryIds"`
	MissingFileIDs      []string `json:"missingFileIds" yaml:"missingFileIds"`
	ModifiedFileIDs     []string `json:"modifiedFileIds" yaml:"modifiedFileIds"`
}

// Empty reports whether nothing differs.
func (d Discrepancies) Empty() bool { return d.Count() == 0 }

// Count returns the number of discrepancies.
func (d Discrepancies) Count() int {
	return len(d.UntrackedDirs) + len(d.UntrackedFiles) + len(d.MissingDirectoryIDs) +
		len(d.MissingFileIDs) + len(d.ModifiedFileIDs)
}

// Config configures an Engine.
type Config struct {
	// Ignore holds path.Match globs tested against each project path and its
	// base name.
	Ignore []string

	// StateDir is the name of the directory holding the history itself,
	// never reported.
	StateDir string

	Logger *slog.Logger
}

// Engine compares the directory root with the model behind a recorder and
// records the resolutions through that recorder.
type Engine struct {
	root   string
	rec    *capture.Recorder
	ignore []string
	state  string
	logger *slog.Logger
}

// New returns an engine for the project rooted at root.
func New(root string, rec *capture.Recorder, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{
		root:   root,
		rec:    rec,
		ignore: cfg.Ignore,
		state:  cfg.StateDir,
		logger: logger.With("component", "reconcile"),
	}
}

// Ignored reports whether the project path p is excluded from comparison.
func (e *Engine) Ignored(p string) bool {
	return Ignored(p, e.state, e.ignore)
}

// Ignored reports whether project path p is the state directory, lies
// inside it, or matches one of the globs.
func Ignored(p, stateDir string, globs []string) bool {
	p = tree.Clean(p)
	if p == tree.Root {
		return false
	}
	if stateDir != "" && tree.Within(p, tree.Join(tree.Root, stateDir)) {
		return true
	}
	rel := p[1:]
	base := path.Base(p)
	for _, g := range globs {
		if ok, _ := path.Match(g, rel); ok {
			return true
		}
		if ok, _ := path.Match(g, base); ok {
			return true
		}
	}
	return false
}

// Find walks the root directory and the model and returns what differs.
// It changes nothing, so calling it twice returns the same result.
func (e *Engine) Find(ctx context.Context) (Discrepancies, error) {
	var d Discrepancies
	t := e.rec.Model().Tree()

	err := filepath.WalkDir(e.root, func(name string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := tree.FromOS(e.root, name)
		if err != nil {
			return err
		}
		if p == tree.Root {
			return nil
		}
		if e.Ignored(p) {
			if de.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		entry, tracked := t.Lookup(p)
		switch {
		case de.IsDir():
			if !tracked || entry.Kind != tree.Directory {
				d.UntrackedDirs = append(d.UntrackedDirs, p)
			}
		case de.Type().IsRegular():
			if tracked && entry.Kind == tree.File {
				changed, err := e.changed(name, entry.ID)
				if err != nil || !changed {
					return err
				}
			}
			_, ok, err := e.readText(name)
			if err != nil {
				return err
			}
			if !ok {
				e.logger.Warn("skipping file that is not valid UTF-8", "path", p)
				return nil
			}
			if tracked && entry.Kind == tree.File {
				d.ModifiedFileIDs = append(d.ModifiedFileIDs, entry.ID)
			} else {
				d.UntrackedFiles = append(d.UntrackedFiles, p)
			}
		}
		return nil
	})
	if err != nil {
		return Discrepancies{}, fmt.Errorf("walk %s: %w", e.root, err)
	}

	for _, entry := range t.Entries() {
		if entry.Path == tree.Root || e.Ignored(entry.Path) {
			continue
		}
		if e.present(entry) {
			continue
		}
		if entry.Kind == tree.Directory {
			d.MissingDirectoryIDs = append(d.MissingDirectoryIDs, entry.ID)
		} else {
			d.MissingFileIDs = append(d.MissingFileIDs, entry.ID)
		}
	}

	e.logger.Debug("found discrepancies",
		"untracked_dirs", len(d.UntrackedDirs), "untracked_files", len(d.UntrackedFiles),
		"missing_dirs", len(d.MissingDirectoryIDs), "missing_files", len(d.MissingFileIDs),
		"modified", len(d.ModifiedFileIDs))
	return d, nil
}

// changed reports whether the file on disk differs from the model's content
// of file id. The disk file is streamed, never held in memory.
func (e *Engine) changed(name, id string) (bool, error) {
	f, err := e.rec.Model().File(id)
	if err != nil {
		return false, err
	}
	want := []byte(f.String())
	sum, size, err := DigestFile(name)
	if err != nil {
		return false, err
	}
	return size != int64(len(want)) || sum != Digest(want), nil
}

// present reports whether a tracked node exists on disk as the same kind.
func (e *Engine) present(entry tree.Entry) bool {
	info, err := os.Lstat(tree.ToOS(e.root, entry.Path))
	if err != nil {
		return false
	}
	if entry.Kind == tree.Directory {
		return info.IsDir()
	}
	return info.Mode().IsRegular()
}

func (e *Engine) readText(name string) (string, bool, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", name, err)
	}
	if !utf8.Valid(data) {
		return "", false, nil
	}
	return string(data), true, nil
}

// Resolve settles one discrepancy. key is a node id for modified and
// missing entries and a project path for untracked ones. An Unset policy
// applies the category's default and returns a DiscrepancyUnresolvedError
// once that default has been applied.
func (e *Engine) Resolve(ctx context.Context, c Category, key string, p Policy) error {
	unresolved := p == Unset
	if unresolved {
		p = DefaultPolicy(c)
	}
	if !p.Valid(c) {
		return fmt.Errorf("%w: %q for %s", ErrBadPolicy, p, c)
	}

	var err error
	switch c {
	case Modified:
		err = e.resolveModified(ctx, key, p)
	case Untracked:
		err = e.resolveUntracked(ctx, key, p)
	case Missing:
		err = e.resolveMissing(ctx, key, p)
	}
	if err != nil {
		return fmt.Errorf("resolve %s %s (%s): %w", c, key, p, err)
	}
	e.logger.Info("resolved discrepancy", "category", string(c), "key", key, "policy", string(p))

	if unresolved {
		return &event.DiscrepancyUnresolvedError{Category: string(c), Key: key, Applied: string(p)}
	}
	return nil
}

func (e *Engine) node(id string) (tree.Entry, error) {
	t := e.rec.Model().Tree()
	if !t.Visible(id) {
		return tree.Entry{}, fmt.Errorf("%w: %s", ErrUnknownKey, id)
	}
	p, err := t.Path(id)
	if err != nil {
		return tree.Entry{}, err
	}
	entry, _ := t.Lookup(p)
	return entry, nil
}

func (e *Engine) resolveModified(ctx context.Context, id string, p Policy) error {
	entry, err := e.node(id)
	if err != nil {
		return err
	}
	name := tree.ToOS(e.root, entry.Path)
	switch p {
	case AcceptChanges:
		text, ok, err := e.readText(name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s is not valid UTF-8", entry.Path)
		}
		return e.rec.Rewrite(ctx, entry.Path, text)
	default:
		return e.writeFile(entry)
	}
}

func (e *Engine) resolveUntracked(ctx context.Context, p string, policy Policy) error {
	p = tree.Clean(p)
	name := tree.ToOS(e.root, p)
	info, err := os.Lstat(name)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownKey, p)
	}

	if policy == Delete {
		if !info.IsDir() {
			return os.Remove(name)
		}
		// Ignored and non-text files are never listed, so they go with
		// their directory.
		return os.RemoveAll(name)
	}

	if entry, ok := e.rec.Model().Tree().Lookup(p); ok {
		if (entry.Kind == tree.Directory) == info.IsDir() {
			return nil
		}
		// Occupied by a node of the other kind, which is missing; record its
		// deletion first.
		if _, err := e.rec.Remove(ctx, entry.Path); err != nil {
			return err
		}
	}
	if info.IsDir() {
		_, err := e.rec.CreateDirectory(ctx, p)
		return err
	}
	text, ok, err := e.readText(name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s is not valid UTF-8", p)
	}
	return e.rec.ImportFile(ctx, p, text)
}

func (e *Engine) resolveMissing(ctx context.Context, id string, p Policy) error {
	entry, err := e.node(id)
	if err != nil {
		return err
	}
	if p == AcceptDelete {
		_, err := e.rec.Remove(ctx, entry.Path)
		return err
	}
	if entry.Kind == tree.Directory {
		return os.MkdirAll(tree.ToOS(e.root, entry.Path), 0755)
	}
	return e.writeFile(entry)
}

// writeFile writes the model's content of a file entry to disk.
func (e *Engine) writeFile(entry tree.Entry) error {
	text, err := e.rec.Model().Content(entry.ID)
	if err != nil {
		return err
	}
	name := tree.ToOS(e.root, entry.Path)
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return err
	}
	return os.WriteFile(name, []byte(text), 0644)
}

// Plan chooses a policy per category, with per-discrepancy overrides keyed
// like Resolve's key.
type Plan struct {
	Modified  Policy
	Untracked Policy
	Missing   Policy
	Overrides map[string]Policy
}

func (pl Plan) policy(c Category, key string) Policy {
	if p, ok := pl.Overrides[key]; ok {
		return p
	}
	switch c {
	case Modified:
		return pl.Modified
	case Untracked:
		return pl.Untracked
	default:
		return pl.Missing
	}
}

// ResolveAll settles every discrepancy in d: modified files first, then
// untracked paths, then missing nodes. Untracked creations go parents
// first; untracked deletions remove files and then directories deepest
// first. Missing directories are handled before missing files, and a
// missing node hidden by an earlier accepted delete is skipped.
//
// Choices left Unset get their default; the DiscrepancyUnresolvedErrors for
// them are joined into the returned error after everything is applied.
func (e *Engine) ResolveAll(ctx context.Context, d Discrepancies, plan Plan) error {
	var unresolved []error
	resolve := func(c Category, key string) error {
		err := e.Resolve(ctx, c, key, plan.policy(c, key))
		var due *event.DiscrepancyUnresolvedError
		if errors.As(err, &due) {
			unresolved = append(unresolved, err)
			return nil
		}
		return err
	}

	for _, id := range d.ModifiedFileIDs {
		if err := resolve(Modified, id); err != nil {
			return err
		}
	}

	deleting := func(key string) bool { return plan.policy(Untracked, key) == Delete }
	for _, p := range d.UntrackedDirs {
		if !deleting(p) {
			if err := resolve(Untracked, p); err != nil {
				return err
			}
		}
	}
	for _, p := range d.UntrackedFiles {
		if !deleting(p) {
			if err := resolve(Untracked, p); err != nil {
				return err
			}
		}
	}
	for _, p := range d.UntrackedFiles {
		if deleting(p) {
			if err := resolve(Untracked, p); err != nil {
				return err
			}
		}
	}
	dirs := slices.Clone(d.UntrackedDirs)
	slices.Reverse(dirs)
	for _, p := range dirs {
		if deleting(p) {
			if err := resolve(Untracked, p); err != nil {
				return err
			}
		}
	}

	t := e.rec.Model().Tree()
	for _, id := range append(slices.Clone(d.MissingDirectoryIDs), d.MissingFileIDs...) {
		if !t.Visible(id) {
			continue
		}
		if err := resolve(Missing, id); err != nil {
			return err
		}
	}

	return errors.Join(unresolved...)
}

// Verify runs Find again and fails if anything is left.
func (e *Engine) Verify(ctx context.Context) error {
	d, err := e.Find(ctx)
	if err != nil {
		return err
	}
	if !d.Empty() {
		return fmt.Errorf("%w: %d left", ErrNotResolved, d.Count())
	}
	return nil
}
