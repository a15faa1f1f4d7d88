// Package project materializes project state from history: the directory
// tree plus the content of every file ever created.
package project

import (
	"errors"
	"fmt"

	"storyteller/internal/content"
	"storyteller/internal/event"
	"storyteller/internal/tree"
)

// ErrFileNotFound is returned for file ids the model has never seen.
var ErrFileNotFound = errors.New("project: file not found")

// Model is the tree and file contents reached by applying a prefix of the
// log. Apply and Revert are atomic: on error nothing changes.
type Model struct {
	tree  *tree.Tree
	files map[string]*content.File
}

// NewModel returns the empty model that precedes the first event.
func NewModel() *Model {
	return &Model{
		tree:  tree.New(),
		files: make(map[string]*content.File),
	}
}

// Replay builds a model by applying events in order.
func Replay(events []event.Event) (*Model, error) {
	m := NewModel()
	for _, ev := range events {
		if err := m.Apply(ev); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Tree exposes the directory tree. Callers must not mutate it.
func (m *Model) Tree() *tree.Tree { return m.tree }

// File returns the content of a file, deleted or not.
func (m *Model) File(id string) (*content.File, error) {
	f, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	return f, nil
}

// Content returns the text of a file.
func (m *Model) Content(id string) (string, error) {
	f, err := m.File(id)
	if err != nil {
		return "", err
	}
	return f.String(), nil
}

// Apply moves the model one event forward.
func (m *Model) Apply(ev event.Event) error {
	if err := m.apply(ev); err != nil {
		return &event.ReplayConsistencyError{Sequence: ev.Sequence, EventID: ev.ID, Kind: ev.Kind(), Err: err}
	}
	return nil
}

// Revert moves the model one event backward. ev must be the last event
// applied.
func (m *Model) Revert(ev event.Event) error {
	if err := m.revert(ev); err != nil {
		return &event.ReplayConsistencyError{Sequence: ev.Sequence, EventID: ev.ID, Kind: ev.Kind(), Backward: true, Err: err}
	}
	return nil
}

func (m *Model) apply(ev event.Event) error {
	switch p := ev.Payload.(type) {
	case event.Insert:
		f, err := m.liveFile(p.FileID)
		if err != nil {
			return err
		}
		return f.Insert(p.Line, p.Column, p.Rune(), ev.ID, p.ProvenanceEventID)

	case event.Delete:
		f, err := m.liveFile(p.FileID)
		if err != nil {
			return err
		}
		removed := make([]content.Removed, len(p.Chars))
		for i, c := range p.Chars {
			removed[i] = content.Removed{Rune: c.Rune(), InsertEventID: c.InsertEventID}
		}
		return f.Delete(p.Line, p.Column, removed)

	case event.CreateFile:
		if err := m.create(p.FileID, tree.File, p.ParentID, p.Path); err != nil {
			return err
		}
		if _, ok := m.files[p.FileID]; !ok {
			m.files[p.FileID] = content.NewFile()
		}
		return nil

	case event.CreateDirectory:
		if p.ParentID == "" {
			return m.tree.CreateRoot(p.DirectoryID)
		}
		return m.create(p.DirectoryID, tree.Directory, p.ParentID, p.Path)

	case event.DeleteFile:
		return m.tree.Delete(p.FileID, tree.File)

	case event.DeleteDirectory:
		return m.tree.Delete(p.DirectoryID, tree.Directory)

	case event.MoveFile:
		return m.relocate(p.Relocation, tree.File, false)
	case event.MoveDirectory:
		return m.relocate(p.Relocation, tree.Directory, false)
	case event.RenameFile:
		return m.relocate(p.Relocation, tree.File, false)
	case event.RenameDirectory:
		return m.relocate(p.Relocation, tree.Directory, false)

	case event.SaveMarker:
		return nil
	}
	return fmt.Errorf("%w: %T", event.ErrUnknownKind, ev.Payload)
}

func (m *Model) revert(ev event.Event) error {
	switch p := ev.Payload.(type) {
	case event.Insert:
		f, err := m.liveFile(p.FileID)
		if err != nil {
			return err
		}
		return f.Uninsert(p.Line, p.Column, ev.ID)

	case event.Delete:
		f, err := m.liveFile(p.FileID)
		if err != nil {
			return err
		}
		ids := make([]string, len(p.Chars))
		for i, c := range p.Chars {
			ids[i] = c.InsertEventID
		}
		return f.Restore(p.Line, p.Column, ids)

	case event.CreateFile:
		return m.tree.Delete(p.FileID, tree.File)

	case event.CreateDirectory:
		if p.ParentID == "" {
			return m.tree.DeleteRoot(p.DirectoryID)
		}
		return m.tree.Delete(p.DirectoryID, tree.Directory)

	case event.DeleteFile:
		return m.tree.Revive(p.FileID, tree.File)

	case event.DeleteDirectory:
		return m.tree.Revive(p.DirectoryID, tree.Directory)

	case event.MoveFile:
		return m.relocate(p.Relocation, tree.File, true)
	case event.MoveDirectory:
		return m.relocate(p.Relocation, tree.Directory, true)
	case event.RenameFile:
		return m.relocate(p.Relocation, tree.File, true)
	case event.RenameDirectory:
		return m.relocate(p.Relocation, tree.Directory, true)

	case event.SaveMarker:
		return nil
	}
	return fmt.Errorf("%w: %T", event.ErrUnknownKind, ev.Payload)
}

// liveFile returns a file that is visible in the tree.
func (m *Model) liveFile(id string) (*content.File, error) {
	f, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	if !m.tree.Visible(id) {
		return nil, fmt.Errorf("%w: %s", tree.ErrNotAlive, id)
	}
	return f, nil
}

func (m *Model) create(id string, kind tree.Kind, parentID, p string) error {
	_, name := tree.Split(p)
	if err := m.checkPath(parentID, p); err != nil {
		return err
	}
	return m.tree.Create(id, kind, parentID, name)
}

// relocate applies a move or rename, or its inverse when backward is set.
// The node must currently sit at the path the event says it leaves.
func (m *Model) relocate(r event.Relocation, kind tree.Kind, backward bool) error {
	from, to, parentID := r.OldPath, r.NewPath, r.NewParentID
	if backward {
		from, to, parentID = r.NewPath, r.OldPath, r.OldParentID
	}
	current, err := m.tree.Path(r.NodeID)
	if err != nil {
		return err
	}
	if current != tree.Clean(from) {
		return fmt.Errorf("node %s is at %q, not %q", r.NodeID, current, from)
	}
	if err := m.checkPath(parentID, to); err != nil {
		return err
	}
	_, name := tree.Split(to)
	return m.tree.Move(r.NodeID, kind, parentID, name)
}

// checkPath verifies that parentID is the directory holding p.
func (m *Model) checkPath(parentID, p string) error {
	parentPath, err := m.tree.Path(parentID)
	if err != nil {
		return err
	}
	if dir, _ := tree.Split(p); dir != parentPath {
		return fmt.Errorf("path %q is not inside %q (%s)", p, parentPath, parentID)
	}
	return nil
}
