package project

import (
	"storyteller/internal/content"
	"storyteller/internal/tree"
)

// FileState is a visible file with its text.
type FileState struct {
	ID      string
	Path    string
	Content string
	Chars   []content.Char
}

// State is a comparable view of everything visible in a model.
type State struct {
	Entries []tree.Entry
	Files   []FileState
}

// State captures the visible tree and file contents, attribution included.
func (m *Model) State() State {
	s := State{Entries: m.tree.Entries()}
	for _, e := range m.tree.Files() {
		f := m.files[e.ID]
		s.Files = append(s.Files, FileState{ID: e.ID, Path: e.Path, Content: f.String(), Chars: f.Chars()})
	}
	return s
}

// FileByPath returns the visible file at path p.
func (m *Model) FileByPath(p string) (tree.Entry, *content.File, bool) {
	e, ok := m.tree.Lookup(p)
	if !ok || e.Kind != tree.File {
		return tree.Entry{}, nil, false
	}
	return e, m.files[e.ID], true
}
