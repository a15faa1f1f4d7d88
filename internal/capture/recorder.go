// Package capture turns observed changes into events. A Recorder applies
// each new event to the live model first and appends it to the log second,
// so the log never holds an event the model rejected.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"storyteller/internal/content"
	"storyteller/internal/event"
	"storyteller/internal/eventlog"
	"storyteller/internal/logging"
	"storyteller/internal/project"
	"storyteller/internal/tree"
)

// Errors
var (
	ErrUntracked = errors.New("capture: path is not tracked")
	ErrExists    = errors.New("capture: path is already tracked")
	ErrNotFile   = errors.New("capture: path is not a file")
	ErrNotDir    = errors.New("capture: parent is not a directory")
)

// Recorder writes events for one project. It is not safe for concurrent use;
// the session serializes calls.
type Recorder struct {
	log       *eventlog.Log
	model     *project.Model
	group     func() string
	relevance event.Relevance
	logger    *slog.Logger
}

// NewRecorder returns a recorder appending to log and keeping model in step.
// group supplies the developer group stamped on each event.
func NewRecorder(log *eventlog.Log, model *project.Model, group func() string, logger *slog.Logger) *Recorder {
	if group == nil {
		group = func() string { return "" }
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Recorder{log: log, model: model, group: group, logger: logger}
}

// Setup returns a recorder sharing r's log and model whose events are
// marked never-relevant.
func (r *Recorder) Setup() *Recorder {
	c := *r
	c.relevance = event.NeverRelevant
	return &c
}

// Model returns the live model.
func (r *Recorder) Model() *project.Model { return r.model }

// Log returns the log.
func (r *Recorder) Log() *eventlog.Log { return r.log }

func (r *Recorder) record(ctx context.Context, p event.Payload) (event.Event, error) {
	ev := r.log.Prepare(event.Event{
		DeveloperGroupID: r.group(),
		Relevance:        r.relevance,
		Payload:          p,
	})
	if err := ev.Validate(); err != nil {
		return event.Event{}, err
	}
	if err := r.model.Apply(ev); err != nil {
		return event.Event{}, err
	}
	if err := r.log.AppendRecorded(ctx, ev); err != nil {
		// Applied just now, so the inverse cannot fail.
		_ = r.model.Revert(ev)
		return event.Event{}, err
	}
	r.logger.Debug("recorded event", "seq", ev.Sequence, "kind", ev.Kind().String(), "target", event.Target(p))
	return ev, nil
}

// EnsureRoot records the root directory if the project has none.
func (r *Recorder) EnsureRoot(ctx context.Context) error {
	if r.model.Tree().RootID() != "" {
		return nil
	}
	_, err := r.Setup().record(ctx, event.CreateDirectory{DirectoryID: event.NewID(), Path: tree.Root})
	return err
}

// Lookup resolves a tracked path.
func (r *Recorder) Lookup(p string) (tree.Entry, error) {
	e, ok := r.model.Tree().Lookup(p)
	if !ok {
		return tree.Entry{}, fmt.Errorf("%w: %s", ErrUntracked, tree.Clean(p))
	}
	return e, nil
}

func (r *Recorder) file(p string) (tree.Entry, *content.File, error) {
	e, err := r.Lookup(p)
	if err != nil {
		return tree.Entry{}, nil, err
	}
	if e.Kind != tree.File {
		return tree.Entry{}, nil, fmt.Errorf("%w: %s", ErrNotFile, e.Path)
	}
	f, err := r.model.File(e.ID)
	if err != nil {
		return tree.Entry{}, nil, err
	}
	return e, f, nil
}

// Insertion describes text entering a file.
type Insertion struct {
	Line, Column int
	Text         string

	// One provenance id per character, or nil for freshly typed text.
	Provenance []string
	External   bool
}

// Insert records one Insert per character. Line breaks move the position
// to the start of the next line. On error the events recorded so far are
// returned with it.
func (r *Recorder) Insert(ctx context.Context, p string, in Insertion) ([]event.Event, error) {
	e, _, err := r.file(p)
	if err != nil {
		return nil, err
	}
	runes := []rune(in.Text)
	if in.Provenance != nil && len(in.Provenance) != len(runes) {
		r.logger.Warn("ignoring provenance of mismatched length", "path", e.Path, "chars", len(runes), "ids", len(in.Provenance))
		in.Provenance = nil
	}

	line, col := in.Line, in.Column
	out := make([]event.Event, 0, len(runes))
	for i, ch := range runes {
		payload := event.Insert{FileID: e.ID, Line: line, Column: col, Char: string(ch), ExternalPaste: in.External}
		if in.Provenance != nil {
			payload.ProvenanceEventID = in.Provenance[i]
			payload.ExternalPaste = false
		}
		ev, err := r.record(ctx, payload)
		if err != nil {
			return out, fmt.Errorf("insert %q at (%d,%d) in %s: %w", ch, line, col, e.Path, err)
		}
		out = append(out, ev)
		if ch == '\n' {
			line, col = line+1, 0
		} else {
			col++
		}
	}
	return out, nil
}

// Delete records one Delete of count characters starting at (line, col),
// carrying the removed characters and their attribution.
func (r *Recorder) Delete(ctx context.Context, p string, line, col, count int) (event.Event, error) {
	e, f, err := r.file(p)
	if err != nil {
		return event.Event{}, err
	}
	start, err := f.Offset(line, col)
	if err != nil {
		return event.Event{}, err
	}
	chars, err := f.Range(start, start+count)
	if err != nil {
		return event.Event{}, err
	}

	payload := event.Delete{FileID: e.ID, Line: line, Column: col, Chars: make([]event.DeletedChar, len(chars))}
	for i, c := range chars {
		payload.Chars[i] = event.DeletedChar{
			Char:               string(c.Rune),
			OriginatingEventID: c.OriginatingEventID,
			InsertEventID:      c.InsertEventID,
		}
	}
	return r.record(ctx, payload)
}

// Selection returns the attributed characters between two positions.
func (r *Recorder) Selection(p string, startLine, startCol, endLine, endCol int) ([]content.Char, error) {
	_, f, err := r.file(p)
	if err != nil {
		return nil, err
	}
	return f.InsertEventsInRange(startLine, startCol, endLine, endCol)
}

func (r *Recorder) parentOf(p string) (string, error) {
	dir, _ := tree.Split(p)
	parent, err := r.Lookup(dir)
	if err != nil {
		return "", err
	}
	if parent.Kind != tree.Directory {
		return "", fmt.Errorf("%w: %s", ErrNotDir, parent.Path)
	}
	return parent.ID, nil
}

// CreateFile records a new, empty file.
func (r *Recorder) CreateFile(ctx context.Context, p string) (event.Event, error) {
	p = tree.Clean(p)
	if e, ok := r.model.Tree().Lookup(p); ok {
		return event.Event{}, fmt.Errorf("%w: %s (%s)", ErrExists, p, e.ID)
	}
	parentID, err := r.parentOf(p)
	if err != nil {
		return event.Event{}, err
	}
	return r.record(ctx, event.CreateFile{FileID: event.NewID(), ParentID: parentID, Path: p})
}

// CreateDirectory records a new directory.
func (r *Recorder) CreateDirectory(ctx context.Context, p string) (event.Event, error) {
	p = tree.Clean(p)
	if e, ok := r.model.Tree().Lookup(p); ok {
		return event.Event{}, fmt.Errorf("%w: %s (%s)", ErrExists, p, e.ID)
	}
	parentID, err := r.parentOf(p)
	if err != nil {
		return event.Event{}, err
	}
	return r.record(ctx, event.CreateDirectory{DirectoryID: event.NewID(), ParentID: parentID, Path: p})
}

// ImportFile records a new file and its whole content.
func (r *Recorder) ImportFile(ctx context.Context, p, text string) error {
	if _, err := r.CreateFile(ctx, p); err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	_, err := r.Insert(ctx, p, Insertion{Text: text})
	return err
}

// Remove records the deletion of the tracked node at p, using its tracked
// type since the path is gone from disk.
func (r *Recorder) Remove(ctx context.Context, p string) (event.Event, error) {
	e, err := r.Lookup(p)
	if err != nil {
		return event.Event{}, err
	}
	if e.Kind == tree.Directory {
		return r.record(ctx, event.DeleteDirectory{DirectoryID: e.ID, Path: e.Path})
	}
	return r.record(ctx, event.DeleteFile{FileID: e.ID, Path: e.Path})
}

// Relocate records a move or a rename of the tracked node at oldPath. It is
// a rename when the parent directory stays the same.
func (r *Recorder) Relocate(ctx context.Context, oldPath, newPath string) (event.Event, error) {
	e, err := r.Lookup(oldPath)
	if err != nil {
		return event.Event{}, err
	}
	newPath = tree.Clean(newPath)
	if other, ok := r.model.Tree().Lookup(newPath); ok {
		return event.Event{}, fmt.Errorf("%w: %s (%s)", ErrExists, newPath, other.ID)
	}
	parentID, err := r.parentOf(newPath)
	if err != nil {
		return event.Event{}, err
	}

	rel := event.Relocation{
		NodeID:      e.ID,
		OldPath:     e.Path,
		NewPath:     newPath,
		OldParentID: e.ParentID,
		NewParentID: parentID,
	}
	rename := rel.OldParentID == rel.NewParentID
	var p event.Payload
	switch {
	case e.Kind == tree.File && rename:
		p = event.RenameFile{Relocation: rel}
	case e.Kind == tree.File:
		p = event.MoveFile{Relocation: rel}
	case rename:
		p = event.RenameDirectory{Relocation: rel}
	default:
		p = event.MoveDirectory{Relocation: rel}
	}
	return r.record(ctx, p)
}

// SaveMarker records a checkpoint.
func (r *Recorder) SaveMarker(ctx context.Context, explicit bool) (event.Event, error) {
	return r.record(ctx, event.SaveMarker{Explicit: explicit})
}

// Rewrite replaces a file's whole content with text by deleting and
// inserting only the span between their common prefix and suffix.
func (r *Recorder) Rewrite(ctx context.Context, p, text string) error {
	_, f, err := r.file(p)
	if err != nil {
		return err
	}
	old := []rune(f.String())
	next := []rune(text)

	prefix := 0
	for prefix < len(old) && prefix < len(next) && old[prefix] == next[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(old)-prefix && suffix < len(next)-prefix &&
		old[len(old)-1-suffix] == next[len(next)-1-suffix] {
		suffix++
	}
	removed := len(old) - prefix - suffix
	added := next[prefix : len(next)-suffix]

	line, col, err := f.Position(prefix)
	if err != nil {
		return err
	}
	if removed > 0 {
		if _, err := r.Delete(ctx, p, line, col, removed); err != nil {
			return err
		}
	}
	if len(added) > 0 {
		if _, err := r.Insert(ctx, p, Insertion{Line: line, Column: col, Text: string(added)}); err != nil {
			return err
		}
	}
	return nil
}
