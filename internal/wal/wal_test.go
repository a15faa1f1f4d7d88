package wal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyteller/internal/event"
)

func createTestWAL(t *testing.T) (*WAL, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.wal")
	w, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w, path
}

func testEvent(seq int64, p event.Payload) event.Event {
	return event.Event{
		Sequence:         seq,
		ID:               event.NewID(),
		Timestamp:        time.Date(2024, 5, 1, 12, 0, int(seq), 0, time.UTC),
		DeveloperGroupID: "g1",
		Payload:          p,
	}
}

func appendSample(t *testing.T, w *WAL, n int) []event.Event {
	t.Helper()
	events := []event.Event{testEvent(0, event.CreateDirectory{DirectoryID: "root", Path: "/"})}
	events[0].Relevance = event.NeverRelevant
	if n > 1 {
		events = append(events, testEvent(1, event.CreateFile{FileID: "f1", ParentID: "root", Path: "/a.txt"}))
	}
	for i := 2; i < n; i++ {
		events = append(events, testEvent(int64(i), event.Insert{FileID: "f1", Column: i - 2, Char: "x"}))
	}
	for _, ev := range events {
		require.NoError(t, w.Append(context.Background(), ev))
	}
	return events
}

func TestEntry_SerializeDeserialize(t *testing.T) {
	tests := []struct {
		name  string
		entry *Entry
	}{
		{"empty payload", &Entry{Sequence: 0, Payload: []byte{}}},
		{"with payload", &Entry{Sequence: 42, Payload: []byte(`{"kind":"insert"}`), PrevHash: [32]byte{1, 2, 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.entry.CRC32 = computeEntryCRC(tt.entry)
			data := serializeEntry(tt.entry)

			got, err := deserializeEntry(data)
			require.NoError(t, err)
			assert.Equal(t, uint32(len(data)), got.Length)
			assert.Equal(t, tt.entry.Sequence, got.Sequence)
			assert.Equal(t, tt.entry.Payload, got.Payload)
			assert.Equal(t, tt.entry.PrevHash, got.PrevHash)
			assert.Equal(t, tt.entry.CRC32, got.CRC32)
		})
	}

	_, err := deserializeEntry([]byte{0, 0, 0, 1})
	assert.Error(t, err)
}

func TestAppendAndLoad(t *testing.T) {
	w, _ := createTestWAL(t)
	want := appendSample(t, w, 5)

	got, err := w.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].Payload, got[i].Payload)
		assert.Equal(t, want[i].Relevance, got[i].Relevance)
		assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp))
	}
	assert.Equal(t, uint64(5), w.EntryCount())
}

func TestAppendRejectsGap(t *testing.T) {
	w, _ := createTestWAL(t)
	appendSample(t, w, 2)

	err := w.Append(context.Background(), testEvent(5, event.SaveMarker{}))
	assert.ErrorIs(t, err, ErrSequenceGap)
	assert.Equal(t, uint64(2), w.EntryCount())
}

func TestReopenContinues(t *testing.T) {
	w, path := createTestWAL(t)
	appendSample(t, w, 3)
	size := w.Size()
	require.NoError(t, w.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, uint64(3), reopened.EntryCount())
	assert.Equal(t, size, reopened.Size())
	assert.Zero(t, reopened.TornBytes())

	require.NoError(t, reopened.Append(context.Background(), testEvent(3, event.SaveMarker{Explicit: true})))
	events, err := reopened.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 4)
}

func TestTornTailIsTruncated(t *testing.T) {
	w, path := createTestWAL(t)
	appendSample(t, w, 3)
	good := w.Size()
	require.NoError(t, w.Close())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0600)
	require.NoError(t, err)
	// A frame header promising more bytes than were written.
	_, err = f.Write([]byte{0, 0, 1, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	report, err := Inspect(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), report.Entries)
	assert.Equal(t, int64(10), report.TornBytes)

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, int64(10), reopened.TornBytes())
	assert.Equal(t, good, reopened.Size())

	stat, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, good, stat.Size())
}

func TestCorruptionBeforeTail(t *testing.T) {
	w, path := createTestWAL(t)
	appendSample(t, w, 4)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Flip a payload byte of the first entry.
	data[HeaderSize+4+8+4+2] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0600))

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrCorruptedEntry)
	_, err = Inspect(path)
	assert.ErrorIs(t, err, ErrCorruptedEntry)
}

func TestInvalidHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wal")
	require.NoError(t, os.WriteFile(path, []byte("NOPE not a journal at all, really"), 0600))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

func TestClosed(t *testing.T) {
	w, path := createTestWAL(t)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.ErrorIs(t, w.Append(context.Background(), testEvent(0, event.SaveMarker{})), ErrWALClosed)
	_, err := w.ReadAll()
	assert.ErrorIs(t, err, ErrWALClosed)
	assert.True(t, Exists(path))
	assert.False(t, Exists(path+".missing"))
}
