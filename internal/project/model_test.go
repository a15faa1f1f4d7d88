package project_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyteller/internal/event"
	"storyteller/internal/project"
	"storyteller/internal/testutil"
)

func TestApplyRevertRoundTrip(t *testing.T) {
	h := testutil.NewHistory(t)
	h.Mkdir("/src")
	h.Touch("/src/a.txt")
	h.Type("/src/a.txt", 0, 0, "Hello\nworld")
	h.Erase("/src/a.txt", 0, 3, 4)
	h.Mkdir("/lib")
	h.Move("/src/a.txt", "/lib/a.txt")
	h.Move("/lib", "/pkg")
	h.Touch("/b.txt")
	h.Type("/b.txt", 0, 0, "x")
	h.Remove("/b.txt")
	h.Remove("/src")
	h.Save()

	events := h.Events()
	m := project.NewModel()
	var states []project.State
	for _, ev := range events {
		states = append(states, m.State())
		require.NoError(t, m.Apply(ev))
	}
	assert.Equal(t, h.Model().State(), m.State())

	content, err := m.Content(h.Model().State().Files[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Helorld", content)

	for i := len(events) - 1; i >= 0; i-- {
		require.NoError(t, m.Revert(events[i]))
		require.Equal(t, states[i], m.State(), "after reverting event %d", i)
	}
	assert.Empty(t, m.State().Entries)
}

func TestApplyUnknownTarget(t *testing.T) {
	m := project.NewModel()
	ev := event.Event{Sequence: 0, ID: "e0", Payload: event.Insert{FileID: "ghost", Char: "x"}}

	err := m.Apply(ev)
	require.Error(t, err)
	assert.ErrorIs(t, err, event.ErrReplayConsistency)
	assert.ErrorIs(t, err, project.ErrFileNotFound)

	var rce *event.ReplayConsistencyError
	require.ErrorAs(t, err, &rce)
	assert.Equal(t, "e0", rce.EventID)
	assert.False(t, rce.Backward)
}

func TestApplyMismatchedDeleteIsAtomic(t *testing.T) {
	h := testutil.NewHistory(t)
	id := h.Touch("/a.txt")
	h.Type("/a.txt", 0, 0, "abc")
	events := h.Events()

	m, err := project.Replay(events)
	require.NoError(t, err)

	bad := event.Event{Sequence: int64(len(events)), ID: "bad", Payload: event.Delete{
		FileID: id,
		Chars: []event.DeletedChar{
			{Char: "a", OriginatingEventID: "e2", InsertEventID: "e2"},
			{Char: "z", OriginatingEventID: "e3", InsertEventID: "e3"},
		},
	}}
	assert.ErrorIs(t, m.Apply(bad), event.ErrReplayConsistency)

	got, err := m.Content(id)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)
}

func TestRelocationMustMatchCurrentPath(t *testing.T) {
	h := testutil.NewHistory(t)
	h.Touch("/a.txt")
	h.Move("/a.txt", "/b.txt")
	events := h.Events()
	rename := events[len(events)-1]

	m, err := project.Replay(events[:len(events)-1])
	require.NoError(t, err)

	// Reverting a rename that was never applied must fail.
	assert.ErrorIs(t, m.Revert(rename), event.ErrReplayConsistency)
	require.NoError(t, m.Apply(rename))
	assert.ErrorIs(t, m.Apply(rename), event.ErrReplayConsistency)
}

func TestProvenanceAttribution(t *testing.T) {
	h := testutil.NewHistory(t)
	h.Touch("/a.txt")
	typed := h.Type("/a.txt", 0, 0, "ab")
	h.Touch("/b.txt")
	pasted := h.Paste("/b.txt", 0, 0, "ab", typed)

	m, err := project.Replay(h.Events())
	require.NoError(t, err)
	_, f, ok := m.FileByPath("/b.txt")
	require.True(t, ok)

	chars := f.Chars()
	require.Len(t, chars, 2)
	for i, c := range chars {
		assert.Equal(t, pasted[i], c.InsertEventID)
		assert.Equal(t, typed[i], c.OriginatingEventID)
	}
}
