package event

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Payload is the kind-specific part of an Event. The set of payloads is
// closed: only the types in this package implement it.
type Payload interface {
	Kind() Kind
	validate() error
}

// Insert places one character in a file.
type Insert struct {
	FileID string `json:"fileId"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Char   string `json:"char"`

	// ID of the Insert event that originally authored Char, when the
	// character arrived through a paste of tracked text.
	ProvenanceEventID string `json:"provenanceEventId,omitempty"`

	// Set when the pasted text came from outside the tracked history.
	ExternalPaste bool `json:"externalPaste,omitempty"`
}

func (Insert) Kind() Kind { return KindInsert }

func (p Insert) validate() error {
	if p.FileID == "" {
		return errors.New("missing file id")
	}
	if p.Line < 0 || p.Column < 0 {
		return fmt.Errorf("negative position (%d,%d)", p.Line, p.Column)
	}
	if p.ProvenanceEventID != "" && p.ExternalPaste {
		return errors.New("external paste cannot carry provenance")
	}
	return singleRune(p.Char)
}

// Rune returns the inserted character.
func (p Insert) Rune() rune {
	r, _ := utf8.DecodeRuneInString(p.Char)
	return r
}

// DeletedChar is one tombstoned character recorded in a Delete.
type DeletedChar struct {
	Char string `json:"char"`

	// Authorship of the character at delete time.
	OriginatingEventID string `json:"originatingEventId"`

	// The Insert event that placed the character in this file.
	InsertEventID string `json:"insertEventId"`
}

// Rune returns the deleted character.
func (d DeletedChar) Rune() rune {
	r, _ := utf8.DecodeRuneInString(d.Char)
	return r
}

// Delete removes a run of characters starting at a position. Chars holds
// everything needed to put them back.
type Delete struct {
	FileID string        `json:"fileId"`
	Line   int           `json:"line"`
	Column int           `json:"column"`
	Chars  []DeletedChar `json:"chars"`
}

func (Delete) Kind() Kind { return KindDelete }

func (p Delete) validate() error {
	if p.FileID == "" {
		return errors.New("missing file id")
	}
	if p.Line < 0 || p.Column < 0 {
		return fmt.Errorf("negative position (%d,%d)", p.Line, p.Column)
	}
	if len(p.Chars) == 0 {
		return errors.New("no characters")
	}
	for i, c := range p.Chars {
		if err := singleRune(c.Char); err != nil {
			return fmt.Errorf("char %d: %w", i, err)
		}
		if c.InsertEventID == "" || c.OriginatingEventID == "" {
			return fmt.Errorf("char %d: missing event ids", i)
		}
	}
	return nil
}

// Text returns the deleted characters as a string.
func (p Delete) Text() string {
	buf := make([]rune, len(p.Chars))
	for i, c := range p.Chars {
		buf[i] = c.Rune()
	}
	return string(buf)
}

// CreateFile brings a new file node to life.
type CreateFile struct {
	FileID   string `json:"fileId"`
	ParentID string `json:"parentId"`
	Path     string `json:"path"`
}

func (CreateFile) Kind() Kind { return KindCreateFile }

func (p CreateFile) validate() error { return validateCreate(p.FileID, p.ParentID, p.Path) }

// CreateDirectory brings a new directory node to life. The project root is
// the only directory created without a parent.
type CreateDirectory struct {
	DirectoryID string `json:"directoryId"`
	ParentID    string `json:"parentId,omitempty"`
	Path        string `json:"path"`
}

func (CreateDirectory) Kind() Kind { return KindCreateDirectory }

func (p CreateDirectory) validate() error {
	if p.ParentID == "" {
		if p.DirectoryID == "" {
			return errors.New("missing node id")
		}
		if p.Path != "/" {
			return fmt.Errorf("directory %q has no parent", p.Path)
		}
		return nil
	}
	return validateCreate(p.DirectoryID, p.ParentID, p.Path)
}

func validateCreate(id, parentID, path string) error {
	if id == "" {
		return errors.New("missing node id")
	}
	if parentID == "" {
		return errors.New("missing parent id")
	}
	if path == "" || path == "/" {
		return fmt.Errorf("invalid path %q", path)
	}
	return nil
}

// DeleteFile marks a file node deleted.
type DeleteFile struct {
	FileID string `json:"fileId"`
	Path   string `json:"path"`
}

func (DeleteFile) Kind() Kind { return KindDeleteFile }

func (p DeleteFile) validate() error {
	if p.FileID == "" {
		return errors.New("missing file id")
	}
	return nil
}

// DeleteDirectory marks a directory node deleted. Its descendants become
// unreachable without being touched.
type DeleteDirectory struct {
	DirectoryID string `json:"directoryId"`
	Path        string `json:"path"`
}

func (DeleteDirectory) Kind() Kind { return KindDeleteDirectory }

func (p DeleteDirectory) validate() error {
	if p.DirectoryID == "" {
		return errors.New("missing directory id")
	}
	return nil
}

// Relocation is the payload shared by moves and renames.
type Relocation struct {
	NodeID      string `json:"nodeId"`
	OldPath     string `json:"oldPath"`
	NewPath     string `json:"newPath"`
	OldParentID string `json:"oldParentId"`
	NewParentID string `json:"newParentId"`
}

func (p Relocation) validate() error {
	if p.NodeID == "" {
		return errors.New("missing node id")
	}
	if p.OldParentID == "" || p.NewParentID == "" {
		return errors.New("missing parent id")
	}
	if p.OldPath == "" || p.NewPath == "" || p.OldPath == p.NewPath {
		return fmt.Errorf("invalid relocation %q -> %q", p.OldPath, p.NewPath)
	}
	return nil
}

// MoveFile relocates a file to a different directory.
type MoveFile struct{ Relocation }

func (MoveFile) Kind() Kind { return KindMoveFile }

// MoveDirectory relocates a directory, and with it every descendant path.
type MoveDirectory struct{ Relocation }

func (MoveDirectory) Kind() Kind { return KindMoveDirectory }

// RenameFile changes a file's name within the same directory.
type RenameFile struct{ Relocation }

func (RenameFile) Kind() Kind { return KindRenameFile }

func (p RenameFile) validate() error { return validateRename(p.Relocation) }

// RenameDirectory changes a directory's name within the same parent.
type RenameDirectory struct{ Relocation }

func (RenameDirectory) Kind() Kind { return KindRenameDirectory }

func (p RenameDirectory) validate() error { return validateRename(p.Relocation) }

func validateRename(r Relocation) error {
	if err := r.validate(); err != nil {
		return err
	}
	if r.OldParentID != r.NewParentID {
		return errors.New("rename changes parent directory")
	}
	return nil
}

// SaveMarker is a checkpoint boundary with no effect on project state.
type SaveMarker struct {
	// Set when the marker came from an explicit save rather than the
	// periodic timer.
	Explicit bool `json:"explicit,omitempty"`
}

func (SaveMarker) Kind() Kind { return KindSaveMarker }

func (SaveMarker) validate() error { return nil }

// Target returns the file or directory id an event addresses, or "" for
// save markers.
func Target(p Payload) string {
	switch v := p.(type) {
	case Insert:
		return v.FileID
	case Delete:
		return v.FileID
	case CreateFile:
		return v.FileID
	case CreateDirectory:
		return v.DirectoryID
	case DeleteFile:
		return v.FileID
	case DeleteDirectory:
		return v.DirectoryID
	case MoveFile:
		return v.NodeID
	case MoveDirectory:
		return v.NodeID
	case RenameFile:
		return v.NodeID
	case RenameDirectory:
		return v.NodeID
	}
	return ""
}
