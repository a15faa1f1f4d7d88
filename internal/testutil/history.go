// Package testutil builds event histories for tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"storyteller/internal/event"
	"storyteller/internal/project"
	"storyteller/internal/tree"
)

// History appends well-formed events while tracking the resulting model, so
// deletes and moves can be recorded the way capture records them.
type History struct {
	t      testing.TB
	model  *project.Model
	events []event.Event
	clock  time.Time
	group  string
}

// NewHistory starts a history whose first event creates the root directory.
func NewHistory(t testing.TB) *History {
	h := &History{
		t:     t,
		model: project.NewModel(),
		clock: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		group: "group-1",
	}
	h.append(event.CreateDirectory{DirectoryID: "root", Path: tree.Root}, event.NeverRelevant)
	return h
}

// Events returns the events appended so far.
func (h *History) Events() []event.Event {
	return append([]event.Event(nil), h.events...)
}

// Model returns the model after every event so far.
func (h *History) Model() *project.Model { return h.model }

// Last returns the most recent event.
func (h *History) Last() event.Event { return h.events[len(h.events)-1] }

// Group sets the developer group stamped on later events.
func (h *History) Group(id string) *History {
	h.group = id
	return h
}

// Mkdir records a CreateDirectory and returns the new node id.
func (h *History) Mkdir(p string) string {
	h.t.Helper()
	id := fmt.Sprintf("dir:%s:%d", tree.Clean(p), len(h.events))
	h.append(event.CreateDirectory{DirectoryID: id, ParentID: h.parent(p), Path: tree.Clean(p)}, event.Relevant)
	return id
}

// Touch records a CreateFile and returns the new node id.
func (h *History) Touch(p string) string {
	h.t.Helper()
	id := fmt.Sprintf("file:%s:%d", tree.Clean(p), len(h.events))
	h.append(event.CreateFile{FileID: id, ParentID: h.parent(p), Path: tree.Clean(p)}, event.Relevant)
	return id
}

// Type records one Insert per character of text starting at (line, col)
// and returns the event ids.
func (h *History) Type(p string, line, col int, text string) []string {
	h.t.Helper()
	id := h.lookup(p, tree.File)
	var ids []string
	for _, r := range text {
		ev := h.append(event.Insert{FileID: id, Line: line, Column: col, Char: string(r)}, event.Relevant)
		ids = append(ids, ev.ID)
		if r == '\n' {
			line++
			col = 0
		} else {
			col++
		}
	}
	return ids
}

// Paste records Inserts that carry provenance ids.
func (h *History) Paste(p string, line, col int, text string, provenance []string) []string {
	h.t.Helper()
	id := h.lookup(p, tree.File)
	var ids []string
	for i, r := range []rune(text) {
		ev := h.append(event.Insert{FileID: id, Line: line, Column: col + i, Char: string(r), ProvenanceEventID: provenance[i]}, event.Relevant)
		ids = append(ids, ev.ID)
	}
	return ids
}

// Erase records a Delete of count characters at (line, col).
func (h *History) Erase(p string, line, col, count int) event.Event {
	h.t.Helper()
	id := h.lookup(p, tree.File)
	f, err := h.model.File(id)
	if err != nil {
		h.t.Fatalf("erase %s: %v", p, err)
	}
	start, err := f.Offset(line, col)
	if err != nil {
		h.t.Fatalf("erase %s: %v", p, err)
	}
	chars, err := f.Range(start, start+count)
	if err != nil {
		h.t.Fatalf("erase %s: %v", p, err)
	}
	payload := event.Delete{FileID: id, Line: line, Column: col}
	for _, c := range chars {
		payload.Chars = append(payload.Chars, event.DeletedChar{
			Char:               string(c.Rune),
			OriginatingEventID: c.OriginatingEventID,
			InsertEventID:      c.InsertEventID,
		})
	}
	return h.append(payload, event.Relevant)
}

// Remove records a DeleteFile or DeleteDirectory for the node at p.
func (h *History) Remove(p string) event.Event {
	h.t.Helper()
	e, ok := h.model.Tree().Lookup(p)
	if !ok {
		h.t.Fatalf("remove %s: not found", p)
	}
	if e.Kind == tree.Directory {
		return h.append(event.DeleteDirectory{DirectoryID: e.ID, Path: e.Path}, event.Relevant)
	}
	return h.append(event.DeleteFile{FileID: e.ID, Path: e.Path}, event.Relevant)
}

// Move records a move or rename from one path to another, choosing the kind
// the way capture does.
func (h *History) Move(from, to string) event.Event {
	h.t.Helper()
	e, ok := h.model.Tree().Lookup(from)
	if !ok {
		h.t.Fatalf("move %s: not found", from)
	}
	r := event.Relocation{
		NodeID:      e.ID,
		OldPath:     tree.Clean(from),
		NewPath:     tree.Clean(to),
		OldParentID: e.ParentID,
		NewParentID: h.parent(to),
	}
	var p event.Payload
	rename := r.OldParentID == r.NewParentID
	switch {
	case e.Kind == tree.File && rename:
		p = event.RenameFile{Relocation: r}
	case e.Kind == tree.File:
		p = event.MoveFile{Relocation: r}
	case rename:
		p = event.RenameDirectory{Relocation: r}
	default:
		p = event.MoveDirectory{Relocation: r}
	}
	return h.append(p, event.Relevant)
}

// Save records a SaveMarker.
func (h *History) Save() event.Event {
	return h.append(event.SaveMarker{Explicit: true}, event.Relevant)
}

func (h *History) append(p event.Payload, rel event.Relevance) event.Event {
	h.t.Helper()
	h.clock = h.clock.Add(time.Second)
	ev := event.Event{
		Sequence:         int64(len(h.events)),
		ID:               fmt.Sprintf("e%d", len(h.events)),
		Timestamp:        h.clock,
		DeveloperGroupID: h.group,
		Relevance:        rel,
		Payload:          p,
	}
	if err := ev.Validate(); err != nil {
		h.t.Fatalf("build event: %v", err)
	}
	if err := h.model.Apply(ev); err != nil {
		h.t.Fatalf("apply event: %v", err)
	}
	h.events = append(h.events, ev)
	return ev
}

func (h *History) parent(p string) string {
	h.t.Helper()
	dir, _ := tree.Split(p)
	return h.lookup(dir, tree.Directory)
}

func (h *History) lookup(p string, kind tree.Kind) string {
	h.t.Helper()
	e, ok := h.model.Tree().Lookup(p)
	if !ok || e.Kind != kind {
		h.t.Fatalf("no %s at %s", kind, p)
	}
	return e.ID
}
