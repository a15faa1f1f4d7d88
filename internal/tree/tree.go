// Package tree models a project's directory structure as id-addressed
// nodes. Paths are derived from parent links and names; a node keeps its id
// across renames and moves, and deleted nodes stay addressable so a delete can
// be undone.
package tree

import (
	"errors"
	"fmt"
	"sort"
)

// Errors
var (
	ErrNotFound     = errors.New("tree: node not found")
	ErrExists       = errors.New("tree: node already exists")
	ErrPathTaken    = errors.New("tree: path already in use")
	ErrNotDirectory = errors.New("tree: parent is not a directory")
	ErrWrongKind    = errors.New("tree: node kind mismatch")
	ErrNotAlive     = errors.New("tree: node is deleted")
	ErrAlive        = errors.New("tree: node is not deleted")
	ErrCycle        = errors.New("tree: directory moved into itself")
)

// Kind is the type of a node.
type Kind uint8

const (
	File Kind = iota + 1
	Directory
)

func (k Kind) String() string {
	switch k {
	case File:
		return "file"
	case Directory:
		return "directory"
	}
	return "unknown"
}

// Node is one file or directory.
type Node struct {
	ID       string
	Kind     Kind
	Name     string
	ParentID string
	Alive    bool
}

// Entry is a visible node with its current path.
type Entry struct {
	ID       string `json:"id" yaml:"id"`
	Kind     Kind   `json:"-" yaml:"-"`
	Type     string `json:"type" yaml:"type"`
	Path     string `json:"path" yaml:"path"`
	ParentID string `json:"parentId,omitempty" yaml:"parentId,omitempty"`
}

// Tree holds every node ever created. A node is visible when it and all of
// its ancestors are alive.
type Tree struct {
	nodes    map[string]*Node
	children map[string]map[string]string // parent id -> name -> live child id
	rootID   string
}

// New returns an empty tree without a root.
func New() *Tree {
	return &Tree{
		nodes:    make(map[string]*Node),
		children: make(map[string]map[string]string),
	}
}

// RootID returns the id of the root directory, or "".
func (t *Tree) RootID() string { return t.rootID }

// CreateRoot creates, or brings back, the root directory.
func (t *Tree) CreateRoot(id string) error {
	if t.rootID != "" && t.rootID != id {
		return fmt.Errorf("%w: root is %s", ErrExists, t.rootID)
	}
	if n, ok := t.nodes[id]; ok {
		if n.Alive {
			return fmt.Errorf("%w: root %s", ErrExists, id)
		}
		n.Alive = true
		return nil
	}
	t.nodes[id] = &Node{ID: id, Kind: Directory, Alive: true}
	t.rootID = id
	return nil
}

// Create brings a node to life under parentID. Creating an id that exists
// but is deleted revives it with the given parent and name.
func (t *Tree) Create(id string, kind Kind, parentID, name string) error {
	if n, ok := t.nodes[id]; ok {
		if n.Alive {
			return fmt.Errorf("%w: %s", ErrExists, id)
		}
		if n.Kind != kind {
			return fmt.Errorf("%w: %s is a %s", ErrWrongKind, id, n.Kind)
		}
	}
	if name == "" {
		return fmt.Errorf("tree: empty name for %s", id)
	}
	if err := t.checkSlot(parentID, name); err != nil {
		return err
	}

	n, ok := t.nodes[id]
	if !ok {
		n = &Node{ID: id, Kind: kind}
		t.nodes[id] = n
	}
	n.Name, n.ParentID, n.Alive = name, parentID, true
	t.link(n)
	return nil
}

// Delete marks a node deleted. Descendants of a deleted directory keep their
// own state but stop being visible.
func (t *Tree) Delete(id string, kind Kind) error {
	n, err := t.get(id, kind)
	if err != nil {
		return err
	}
	if !n.Alive {
		return fmt.Errorf("%w: %s", ErrNotAlive, id)
	}
	if id == t.rootID {
		return fmt.Errorf("tree: cannot delete the root directory")
	}
	n.Alive = false
	t.unlink(n)
	return nil
}

// DeleteRoot marks the root deleted, which hides the whole tree.
func (t *Tree) DeleteRoot(id string) error {
	n, err := t.get(id, Directory)
	if err != nil {
		return err
	}
	if id != t.rootID || !n.Alive {
		return fmt.Errorf("%w: root %s", ErrNotAlive, id)
	}
	n.Alive = false
	return nil
}

// Revive undoes Delete.
func (t *Tree) Revive(id string, kind Kind) error {
	n, err := t.get(id, kind)
	if err != nil {
		return err
	}
	if n.Alive {
		return fmt.Errorf("%w: %s", ErrAlive, id)
	}
	if err := t.checkSlot(n.ParentID, n.Name); err != nil {
		return err
	}
	n.Alive = true
	t.link(n)
	return nil
}

// Move gives a visible node a new parent and name.
func (t *Tree) Move(id string, kind Kind, newParentID, newName string) error {
	n, err := t.get(id, kind)
	if err != nil {
		return err
	}
	if !t.Visible(id) || id == t.rootID {
		return fmt.Errorf("%w: %s", ErrNotAlive, id)
	}
	if newName == "" {
		return fmt.Errorf("tree: empty name for %s", id)
	}
	if n.ParentID == newParentID && n.Name == newName {
		return nil
	}
	if err := t.checkSlot(newParentID, newName); err != nil {
		return err
	}
	for p := newParentID; p != ""; p = t.nodes[p].ParentID {
		if p == id {
			return fmt.Errorf("%w: %s", ErrCycle, id)
		}
	}

	t.unlink(n)
	n.ParentID, n.Name = newParentID, newName
	t.link(n)
	return nil
}

// Node returns a copy of the node with the given id, deleted or not.
func (t *Tree) Node(id string) (Node, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Visible reports whether id and all of its ancestors are alive.
func (t *Tree) Visible(id string) bool {
	for id != "" {
		n, ok := t.nodes[id]
		if !ok || !n.Alive {
			return false
		}
		id = n.ParentID
	}
	return true
}

// Path returns the path of a node as of its current parent chain.
func (t *Tree) Path(id string) (string, error) {
	n, ok := t.nodes[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if n.ParentID == "" {
		return Root, nil
	}
	parent, err := t.Path(n.ParentID)
	if err != nil {
		return "", err
	}
	return Join(parent, n.Name), nil
}

// Lookup resolves a path to its visible node.
func (t *Tree) Lookup(p string) (Entry, bool) {
	if t.rootID == "" || !t.nodes[t.rootID].Alive {
		return Entry{}, false
	}
	id := t.rootID
	for _, name := range Segments(p) {
		child, ok := t.children[id][name]
		if !ok {
			return Entry{}, false
		}
		id = child
	}
	return t.entry(t.nodes[id], Clean(p)), true
}

// Entries returns every visible node sorted by path.
func (t *Tree) Entries() []Entry {
	if t.rootID == "" || !t.nodes[t.rootID].Alive {
		return nil
	}
	var out []Entry
	var visit func(id, p string)
	visit = func(id, p string) {
		out = append(out, t.entry(t.nodes[id], p))
		names := make([]string, 0, len(t.children[id]))
		for name := range t.children[id] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			visit(t.children[id][name], Join(p, name))
		}
	}
	visit(t.rootID, Root)
	return out
}

// Files returns the visible files sorted by path.
func (t *Tree) Files() []Entry { return t.filter(File) }

// Dirs returns the visible directories sorted by path, root included.
func (t *Tree) Dirs() []Entry { return t.filter(Directory) }

func (t *Tree) filter(kind Kind) []Entry {
	var out []Entry
	for _, e := range t.Entries() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (t *Tree) entry(n *Node, p string) Entry {
	return Entry{ID: n.ID, Kind: n.Kind, Type: n.Kind.String(), Path: p, ParentID: n.ParentID}
}

func (t *Tree) get(id string, kind Kind) (*Node, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if n.Kind != kind {
		return nil, fmt.Errorf("%w: %s is a %s", ErrWrongKind, id, n.Kind)
	}
	return n, nil
}

// checkSlot verifies that name is free under a visible directory parentID.
func (t *Tree) checkSlot(parentID, name string) error {
	parent, ok := t.nodes[parentID]
	if !ok {
		return fmt.Errorf("%w: parent %s", ErrNotFound, parentID)
	}
	if parent.Kind != Directory {
		return fmt.Errorf("%w: %s", ErrNotDirectory, parentID)
	}
	if !t.Visible(parentID) {
		return fmt.Errorf("%w: parent %s", ErrNotAlive, parentID)
	}
	if other, taken := t.children[parentID][name]; taken {
		return fmt.Errorf("%w: %q held by %s", ErrPathTaken, name, other)
	}
	return nil
}

func (t *Tree) link(n *Node) {
	kids, ok := t.children[n.ParentID]
	if !ok {
		kids = make(map[string]string)
		t.children[n.ParentID] = kids
	}
	kids[n.Name] = n.ID
}

func (t *Tree) unlink(n *Node) {
	delete(t.children[n.ParentID], n.Name)
}
