package content

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// typeText inserts s at (line, col) with ids prefix0, prefix1, ...
func typeText(t *testing.T, f *File, line, col int, s, prefix string) {
	t.Helper()
	for i, r := range []rune(s) {
		require.NoError(t, f.Insert(line, col, r, fmt.Sprintf("%s%d", prefix, i), ""))
		if r == '\n' {
			line++
			col = 0
		} else {
			col++
		}
	}
}

func TestInsertAndUninsert(t *testing.T) {
	f := NewFile()
	require.NoError(t, f.Insert(0, 0, 'H', "e1", ""))
	require.NoError(t, f.Insert(0, 1, 'i', "e2", ""))
	assert.Equal(t, "Hi", f.String())

	chars := f.Chars()
	require.Len(t, chars, 2)
	assert.Equal(t, "e1", chars[0].InsertEventID)
	assert.Equal(t, "e2", chars[1].OriginatingEventID)

	require.NoError(t, f.Uninsert(0, 1, "e2"))
	require.NoError(t, f.Uninsert(0, 0, "e1"))
	assert.Equal(t, "", f.String())
	assert.Equal(t, 0, f.Tombstones())

	require.NoError(t, f.Insert(0, 0, 'H', "e1", ""))
	require.NoError(t, f.Insert(0, 1, 'i', "e2", ""))
	assert.Equal(t, "Hi", f.String())
	assert.Equal(t, "e2", f.Chars()[1].InsertEventID)
}

func TestInsertErrors(t *testing.T) {
	f := NewFile()
	typeText(t, f, 0, 0, "ab\ncd", "a")

	assert.ErrorIs(t, f.Insert(0, 3, 'x', "x1", ""), ErrInvalidPosition)
	assert.ErrorIs(t, f.Insert(2, 0, 'x', "x1", ""), ErrInvalidPosition)
	assert.ErrorIs(t, f.Insert(-1, 0, 'x', "x1", ""), ErrInvalidPosition)
	assert.ErrorIs(t, f.Insert(0, 0, 'x', "a0", ""), ErrDuplicateInsert)
	assert.Equal(t, "ab\ncd", f.String())

	assert.ErrorIs(t, f.Uninsert(0, 0, "missing"), ErrUnknownInsert)
	assert.ErrorIs(t, f.Uninsert(0, 0, "a1"), ErrMismatch)
	assert.Equal(t, "ab\ncd", f.String())
}

func TestDeleteAndRestore(t *testing.T) {
	f := NewFile()
	require.NoError(t, f.Insert(0, 0, 'H', "e1", ""))
	require.NoError(t, f.Insert(0, 1, 'i', "e2", ""))

	require.NoError(t, f.Delete(0, 1, []Removed{{Rune: 'i', InsertEventID: "e2"}}))
	assert.Equal(t, "H", f.String())
	assert.Equal(t, 1, f.Tombstones())

	require.NoError(t, f.Restore(0, 1, []string{"e2"}))
	assert.Equal(t, "Hi", f.String())
	assert.Equal(t, "e2", f.Chars()[1].InsertEventID)
	assert.Equal(t, "e2", f.Chars()[1].OriginatingEventID)
}

func TestDeleteMismatchLeavesFileUntouched(t *testing.T) {
	f := NewFile()
	typeText(t, f, 0, 0, "abc", "a")

	err := f.Delete(0, 0, []Removed{{Rune: 'a', InsertEventID: "a0"}, {Rune: 'x', InsertEventID: "a1"}})
	assert.ErrorIs(t, err, ErrMismatch)
	assert.Equal(t, "abc", f.String())

	err = f.Delete(0, 2, []Removed{{Rune: 'c'}, {Rune: 'd'}})
	assert.ErrorIs(t, err, ErrInvalidPosition)
	assert.Equal(t, "abc", f.String())

	err = f.Restore(0, 0, []string{"a0"})
	assert.ErrorIs(t, err, ErrMismatch)
}

func TestDeleteAcrossLines(t *testing.T) {
	f := NewFile()
	typeText(t, f, 0, 0, "one\ntwo\nthree", "a")
	require.Equal(t, 3, f.LineCount())

	// "e\ntw"
	removed := []Removed{{Rune: 'e'}, {Rune: '\n'}, {Rune: 't'}, {Rune: 'w'}}
	require.NoError(t, f.Delete(0, 2, removed))
	assert.Equal(t, "ono\nthree", f.String())
	assert.Equal(t, 2, f.LineCount())

	require.NoError(t, f.Restore(0, 2, []string{"a2", "a3", "a4", "a5"}))
	assert.Equal(t, "one\ntwo\nthree", f.String())
}

func TestInsertNextToTombstones(t *testing.T) {
	f := NewFile()
	typeText(t, f, 0, 0, "abc", "a")
	require.NoError(t, f.Delete(0, 1, []Removed{{Rune: 'b', InsertEventID: "a1"}}))

	require.NoError(t, f.Insert(0, 1, 'X', "x", ""))
	assert.Equal(t, "aXc", f.String())
	assert.Equal(t, 1, f.Tombstones())

	require.NoError(t, f.Uninsert(0, 1, "x"))
	require.NoError(t, f.Restore(0, 1, []string{"a1"}))
	assert.Equal(t, "abc", f.String())
}

func TestOffsetAndPosition(t *testing.T) {
	f := NewFile()
	typeText(t, f, 0, 0, "ab\n\ncde\n", "a")

	tests := []struct {
		line, col, offset int
	}{
		{0, 0, 0},
		{0, 2, 2},
		{1, 0, 3},
		{2, 0, 4},
		{2, 3, 7},
		{3, 0, 8},
	}
	for _, tt := range tests {
		off, err := f.Offset(tt.line, tt.col)
		require.NoError(t, err)
		assert.Equal(t, tt.offset, off, "offset of (%d,%d)", tt.line, tt.col)

		line, col, err := f.Position(tt.offset)
		require.NoError(t, err)
		assert.Equal(t, tt.line, line, "line of %d", tt.offset)
		assert.Equal(t, tt.col, col, "col of %d", tt.offset)
	}

	_, err := f.Offset(1, 1)
	assert.ErrorIs(t, err, ErrInvalidPosition)
	_, err = f.Offset(4, 0)
	assert.ErrorIs(t, err, ErrInvalidPosition)
	_, _, err = f.Position(9)
	assert.ErrorIs(t, err, ErrInvalidPosition)
}

func TestInsertEventsInRange(t *testing.T) {
	f := NewFile()
	typeText(t, f, 0, 0, "ab\ncd", "a")
	require.NoError(t, f.Insert(1, 1, 'Z', "z", "origin"))

	chars, err := f.InsertEventsInRange(0, 1, 1, 2)
	require.NoError(t, err)
	require.Len(t, chars, 4)

	assert.Equal(t, Char{Rune: 'b', InsertEventID: "a1", OriginatingEventID: "a1", Line: 0, Column: 1}, chars[0])
	assert.Equal(t, '\n', chars[1].Rune)
	assert.Equal(t, Char{Rune: 'c', InsertEventID: "a3", OriginatingEventID: "a3", Line: 1, Column: 0}, chars[2])
	assert.Equal(t, Char{Rune: 'Z', InsertEventID: "z", OriginatingEventID: "origin", Line: 1, Column: 1}, chars[3])

	empty, err := f.InsertEventsInRange(1, 1, 1, 1)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// TestRandomEditsRoundTrip checks the model against a plain rune slice and
// verifies that undoing every edit in reverse restores each earlier state.
func TestRandomEditsRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []rune("abc\n\n xyzé")

	type op struct {
		insert  bool
		line    int
		col     int
		id      string
		removed []Removed
		ids     []string
	}

	f := NewFile()
	var ref []rune
	var ops []op
	var states []string

	for i := 0; i < 600; i++ {
		states = append(states, f.String())
		if len(ref) == 0 || rng.Intn(3) > 0 {
			off := rng.Intn(len(ref) + 1)
			line, col, err := f.Position(off)
			require.NoError(t, err)
			r := alphabet[rng.Intn(len(alphabet))]
			id := fmt.Sprintf("i%d", i)
			require.NoError(t, f.Insert(line, col, r, id, ""))
			ref = append(ref[:off], append([]rune{r}, ref[off:]...)...)
			ops = append(ops, op{insert: true, line: line, col: col, id: id})
		} else {
			off := rng.Intn(len(ref))
			n := 1 + rng.Intn(min(4, len(ref)-off))
			line, col, err := f.Position(off)
			require.NoError(t, err)
			chars, err := f.Range(off, off+n)
			require.NoError(t, err)
			removed := make([]Removed, n)
			ids := make([]string, n)
			for j, c := range chars {
				removed[j] = Removed{Rune: c.Rune, InsertEventID: c.InsertEventID}
				ids[j] = c.InsertEventID
			}
			require.NoError(t, f.Delete(line, col, removed))
			ref = append(ref[:off], ref[off+n:]...)
			ops = append(ops, op{line: line, col: col, removed: removed, ids: ids})
		}
		require.Equal(t, string(ref), f.String(), "after op %d", i)
	}

	for i := len(ops) - 1; i >= 0; i-- {
		o := ops[i]
		if o.insert {
			require.NoError(t, f.Uninsert(o.line, o.col, o.id))
		} else {
			require.NoError(t, f.Restore(o.line, o.col, o.ids))
		}
		require.Equal(t, states[i], f.String(), "undoing op %d", i)
	}
	assert.Equal(t, 0, f.Len())
}
