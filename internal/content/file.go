// Package content models the text of one file as an ordered sequence of
// characters, each attributed to the Insert event that placed it.
//
// Deleted characters are kept as tombstones so that a Delete can be undone
// with the exact same characters and ids. Characters live in a slice arena
// and are threaded into an implicit treap; every subtree caches its size, the
// number of live characters and the number of live line breaks, which makes
// (line, column) to offset conversion O(log n).
package content

import (
	"errors"
	"fmt"
	"strings"
)

// Errors
var (
	ErrInvalidPosition = errors.New("content: position out of range")
	ErrUnknownInsert   = errors.New("content: unknown insert event")
	ErrDuplicateInsert = errors.New("content: insert event already applied")
	ErrMismatch        = errors.New("content: characters do not match")
)

type handle int32

const none handle = -1

// node is one character slot in the arena.
type node struct {
	r        rune
	insertID string // Insert event that placed the character here
	originID string // Insert event that authored the character
	alive    bool

	prio                uint32
	left, right, parent handle

	size  int // nodes in subtree, tombstones included
	live  int // live characters in subtree
	lines int // live '\n' in subtree
}

// Char is a live character together with its attribution and position.
type Char struct {
	Rune               rune
	InsertEventID      string
	OriginatingEventID string
	Line               int
	Column             int
}

// File is the character sequence of one file. The zero value is not usable;
// call NewFile.
type File struct {
	nodes    []node
	free     []handle
	root     handle
	byInsert map[string]handle
	seed     uint32
}

// NewFile returns an empty file.
func NewFile() *File {
	return &File{
		root:     none,
		byInsert: make(map[string]handle),
		seed:     2463534242,
	}
}

// Len returns the number of live characters.
func (f *File) Len() int { return f.live(f.root) }

// LineCount returns the number of lines; an empty file has one line.
func (f *File) LineCount() int { return f.lines(f.root) + 1 }

// String returns the live content.
func (f *File) String() string {
	var b strings.Builder
	b.Grow(f.Len())
	f.walk(f.root, func(h handle) {
		if n := &f.nodes[h]; n.alive {
			b.WriteRune(n.r)
		}
	})
	return b.String()
}

// Offset converts a (line, column) position into a live-character offset.
// A column equal to the line's length addresses the end of the line.
func (f *File) Offset(line, col int) (int, error) {
	if line < 0 || col < 0 || line > f.lines(f.root) {
		return 0, fmt.Errorf("%w: (%d,%d)", ErrInvalidPosition, line, col)
	}
	start := f.lineStart(line)
	end := f.Len()
	if line < f.lines(f.root) {
		end = f.lineStart(line+1) - 1
	}
	if start+col > end {
		return 0, fmt.Errorf("%w: (%d,%d) past end of line", ErrInvalidPosition, line, col)
	}
	return start + col, nil
}

// Position converts a live-character offset into (line, column).
func (f *File) Position(offset int) (line, col int, err error) {
	if offset < 0 || offset > f.Len() {
		return 0, 0, fmt.Errorf("%w: offset %d", ErrInvalidPosition, offset)
	}
	line = f.linesBefore(offset)
	return line, offset - f.lineStart(line), nil
}

// Insert places r at (line, col), recording insertID as the placing event and
// originID as the author. An empty originID means insertID authored it.
func (f *File) Insert(line, col int, r rune, insertID, originID string) error {
	if _, ok := f.byInsert[insertID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateInsert, insertID)
	}
	offset, err := f.Offset(line, col)
	if err != nil {
		return err
	}
	if originID == "" {
		originID = insertID
	}

	h := f.alloc(node{r: r, insertID: insertID, originID: originID, alive: true})
	idx := f.size(f.root)
	if offset < f.Len() {
		idx = f.index(f.selectLive(offset))
	}
	left, right := f.split(f.root, idx)
	f.root = f.merge(f.merge(left, h), right)
	f.byInsert[insertID] = h
	return nil
}

// Uninsert removes the character placed by insertID, which must be live at
// (line, col). It is the exact inverse of Insert.
func (f *File) Uninsert(line, col int, insertID string) error {
	h, ok := f.byInsert[insertID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInsert, insertID)
	}
	offset, err := f.Offset(line, col)
	if err != nil {
		return err
	}
	if !f.nodes[h].alive || offset >= f.Len() || f.selectLive(offset) != h {
		return fmt.Errorf("%w: %s is not live at (%d,%d)", ErrMismatch, insertID, line, col)
	}

	left, rest := f.split(f.root, f.index(h))
	_, right := f.split(rest, 1)
	f.root = f.merge(left, right)
	delete(f.byInsert, insertID)
	f.release(h)
	return nil
}

// Removed describes one character expected at a delete position.
type Removed struct {
	Rune          rune
	InsertEventID string
}

// Delete tombstones len(chars) live characters starting at (line, col).
// Every character must match the recorded rune and placing event; nothing
// changes unless all of them do.
func (f *File) Delete(line, col int, chars []Removed) error {
	offset, err := f.Offset(line, col)
	if err != nil {
		return err
	}
	if offset+len(chars) > f.Len() {
		return fmt.Errorf("%w: %d characters at (%d,%d) past end of file", ErrInvalidPosition, len(chars), line, col)
	}

	handles := make([]handle, len(chars))
	for i, want := range chars {
		h := f.selectLive(offset + i)
		n := &f.nodes[h]
		if n.r != want.Rune || (want.InsertEventID != "" && n.insertID != want.InsertEventID) {
			return fmt.Errorf("%w: at offset %d have %q (%s), want %q (%s)",
				ErrMismatch, offset+i, n.r, n.insertID, want.Rune, want.InsertEventID)
		}
		handles[i] = h
	}
	for _, h := range handles {
		f.setAlive(h, false)
	}
	return nil
}

// Restore revives the tombstoned characters placed by insertIDs so that they
// reappear at (line, col). It is the exact inverse of Delete.
func (f *File) Restore(line, col int, insertIDs []string) error {
	offset, err := f.Offset(line, col)
	if err != nil {
		return err
	}

	handles := make([]handle, len(insertIDs))
	prev := -1
	for i, id := range insertIDs {
		h, ok := f.byInsert[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownInsert, id)
		}
		if f.nodes[h].alive {
			return fmt.Errorf("%w: %s is not deleted", ErrMismatch, id)
		}
		// With only tombstones between them, every revived node sits at the
		// same live rank and in increasing storage order.
		idx := f.index(h)
		if f.liveBefore(h) != offset || idx <= prev {
			return fmt.Errorf("%w: %s cannot be restored at (%d,%d)", ErrMismatch, id, line, col)
		}
		prev = idx
		handles[i] = h
	}
	for _, h := range handles {
		f.setAlive(h, true)
	}
	return nil
}

// CharAt returns the live character at offset.
func (f *File) CharAt(offset int) (Char, error) {
	if offset < 0 || offset >= f.Len() {
		return Char{}, fmt.Errorf("%w: offset %d", ErrInvalidPosition, offset)
	}
	n := &f.nodes[f.selectLive(offset)]
	line, col, _ := f.Position(offset)
	return Char{Rune: n.r, InsertEventID: n.insertID, OriginatingEventID: n.originID, Line: line, Column: col}, nil
}

// Range returns the live characters in [start, end) offsets.
func (f *File) Range(start, end int) ([]Char, error) {
	if start < 0 || end < start || end > f.Len() {
		return nil, fmt.Errorf("%w: range [%d,%d)", ErrInvalidPosition, start, end)
	}
	if start == end {
		return nil, nil
	}
	line, col, _ := f.Position(start)
	out := make([]Char, 0, end-start)
	for i := start; i < end; i++ {
		n := &f.nodes[f.selectLive(i)]
		out = append(out, Char{Rune: n.r, InsertEventID: n.insertID, OriginatingEventID: n.originID, Line: line, Column: col})
		if n.r == '\n' {
			line++
			col = 0
		} else {
			col++
		}
	}
	return out, nil
}

// InsertEventsInRange returns the live characters between two positions,
// end exclusive.
func (f *File) InsertEventsInRange(startLine, startCol, endLine, endCol int) ([]Char, error) {
	start, err := f.Offset(startLine, startCol)
	if err != nil {
		return nil, err
	}
	end, err := f.Offset(endLine, endCol)
	if err != nil {
		return nil, err
	}
	return f.Range(start, end)
}

// Chars returns every live character in order.
func (f *File) Chars() []Char {
	out, _ := f.Range(0, f.Len())
	return out
}

// Tombstones returns the number of deleted characters still held.
func (f *File) Tombstones() int { return f.size(f.root) - f.Len() }

// lineStart returns the offset of the first character of line.
func (f *File) lineStart(line int) int {
	if line == 0 {
		return 0
	}
	return f.liveBefore(f.selectNewline(line-1)) + 1
}
