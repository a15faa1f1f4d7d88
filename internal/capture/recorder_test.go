package capture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyteller/internal/event"
	"storyteller/internal/eventlog"
	"storyteller/internal/project"
)

func newRecorder(t *testing.T) *Recorder {
	t.Helper()
	r := NewRecorder(eventlog.New(), project.NewModel(), func() string { return "g1" }, nil)
	require.NoError(t, r.EnsureRoot(context.Background()))
	return r
}

func textOf(t *testing.T, r *Recorder, p string) string {
	t.Helper()
	_, f, err := r.file(p)
	require.NoError(t, err)
	return f.String()
}

func TestInsertAndDelete(t *testing.T) {
	ctx := context.Background()
	r := newRecorder(t)
	_, err := r.CreateFile(ctx, "/a.txt")
	require.NoError(t, err)

	events, err := r.Insert(ctx, "/a.txt", Insertion{Text: "Hi\nyo"})
	require.NoError(t, err)
	require.Len(t, events, 5)
	last := events[4].Payload.(event.Insert)
	assert.Equal(t, 1, last.Line)
	assert.Equal(t, 1, last.Column)
	assert.Equal(t, "g1", events[0].DeveloperGroupID)

	del, err := r.Delete(ctx, "/a.txt", 0, 1, 3)
	require.NoError(t, err)
	payload := del.Payload.(event.Delete)
	assert.Equal(t, "i\ny", payload.Text())
	assert.Equal(t, events[1].ID, payload.Chars[0].OriginatingEventID)
	assert.Equal(t, "Ho", textOf(t, r, "/a.txt"))

	assert.Equal(t, 8, r.Log().Len())
	first, _ := r.Log().At(0)
	assert.Equal(t, event.NeverRelevant, first.Relevance)

	_, err = r.Delete(ctx, "/a.txt", 0, 1, 5)
	assert.Error(t, err)
	assert.Equal(t, 8, r.Log().Len())
}

func TestProvenanceAndExternalMarks(t *testing.T) {
	ctx := context.Background()
	r := newRecorder(t)
	_, err := r.CreateFile(ctx, "/a.txt")
	require.NoError(t, err)

	pasted, err := r.Insert(ctx, "/a.txt", Insertion{Text: "ab", Provenance: []string{"p1", "p2"}, External: true})
	require.NoError(t, err)
	assert.Equal(t, "p1", pasted[0].Payload.(event.Insert).ProvenanceEventID)
	assert.False(t, pasted[0].Payload.(event.Insert).ExternalPaste)

	outside, err := r.Insert(ctx, "/a.txt", Insertion{Column: 2, Text: "c", External: true})
	require.NoError(t, err)
	assert.True(t, outside[0].Payload.(event.Insert).ExternalPaste)

	// Mismatched provenance is dropped rather than misattributed.
	typed, err := r.Insert(ctx, "/a.txt", Insertion{Column: 3, Text: "de", Provenance: []string{"only-one"}})
	require.NoError(t, err)
	assert.Empty(t, typed[0].Payload.(event.Insert).ProvenanceEventID)

	chars, err := r.Selection("/a.txt", 0, 0, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, "p2", chars[1].OriginatingEventID)
}

func TestTreeChanges(t *testing.T) {
	ctx := context.Background()
	r := newRecorder(t)

	_, err := r.CreateDirectory(ctx, "/src")
	require.NoError(t, err)
	_, err = r.CreateFile(ctx, "/src/a.go")
	require.NoError(t, err)
	_, err = r.CreateFile(ctx, "/src/a.go")
	assert.ErrorIs(t, err, ErrExists)
	_, err = r.CreateFile(ctx, "/missing/a.go")
	assert.ErrorIs(t, err, ErrUntracked)
	_, err = r.CreateFile(ctx, "/src/a.go/b.go")
	assert.ErrorIs(t, err, ErrNotDir)

	ev, err := r.Relocate(ctx, "/src/a.go", "/src/b.go")
	require.NoError(t, err)
	assert.Equal(t, event.KindRenameFile, ev.Kind())

	ev, err = r.Relocate(ctx, "/src/b.go", "/b.go")
	require.NoError(t, err)
	assert.Equal(t, event.KindMoveFile, ev.Kind())

	ev, err = r.Relocate(ctx, "/src", "/lib")
	require.NoError(t, err)
	assert.Equal(t, event.KindRenameDirectory, ev.Kind())

	ev, err = r.Remove(ctx, "/lib")
	require.NoError(t, err)
	assert.Equal(t, event.KindDeleteDirectory, ev.Kind())
	ev, err = r.Remove(ctx, "/b.go")
	require.NoError(t, err)
	assert.Equal(t, event.KindDeleteFile, ev.Kind())

	_, err = r.Remove(ctx, "/b.go")
	assert.ErrorIs(t, err, ErrUntracked)

	ev, err = r.SaveMarker(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, event.KindSaveMarker, ev.Kind())
}

func TestRewrite(t *testing.T) {
	tests := []struct {
		name, before, after string
		events              int
	}{
		{"middle edit", "hello world", "hello there world", 6},
		{"replace", "abc", "xyz", 4},
		{"truncate", "abcdef", "abc", 1},
		{"unchanged", "same", "same", 0},
		{"from empty", "", "new\n", 4},
		{"to empty", "gone", "", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			r := newRecorder(t)
			require.NoError(t, r.ImportFile(ctx, "/f.txt", tt.before))
			before := r.Log().Len()

			require.NoError(t, r.Rewrite(ctx, "/f.txt", tt.after))
			assert.Equal(t, tt.after, textOf(t, r, "/f.txt"))
			assert.Equal(t, tt.events, r.Log().Len()-before)

			m, err := project.Replay(r.Log().Events())
			require.NoError(t, err)
			_, f, ok := m.FileByPath("/f.txt")
			require.True(t, ok)
			assert.Equal(t, tt.after, f.String())
		})
	}
}
