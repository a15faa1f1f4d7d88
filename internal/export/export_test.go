package export

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyteller/internal/event"
	"storyteller/internal/eventlog"
	"storyteller/internal/testutil"
)

func sampleHistory(t *testing.T) []event.Event {
	h := testutil.NewHistory(t)
	h.Mkdir("/src")
	h.Touch("/src/a.go")
	typed := h.Type("/src/a.go", 0, 0, "hello")
	h.Paste("/src/a.go", 0, 5, "he", typed[:2])
	h.Erase("/src/a.go", 0, 0, 1)
	h.Move("/src/a.go", "/a.go")
	h.Save()
	return h.Events()
}

func encode(t *testing.T, doc Document) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, doc))
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	events := sampleHistory(t)
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	data := encode(t, New("demo", events, at))

	doc, err := Read(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, Version, doc.Version)
	assert.Equal(t, "demo", doc.Project)
	assert.True(t, at.Equal(doc.ExportedAt))
	require.Len(t, doc.Events, len(events))
	for i := range events {
		assert.Equal(t, events[i].ID, doc.Events[i].ID)
		assert.Equal(t, events[i].Kind(), doc.Events[i].Kind())
		assert.Equal(t, events[i].Payload, doc.Events[i].Payload)
	}

	// Re-encoding the decoded document gives the same bytes.
	assert.Equal(t, string(data), string(encode(t, doc)))
}

func TestEmptyHistory(t *testing.T) {
	data := encode(t, New("", nil, time.Time{}))
	assert.Contains(t, string(data), `"events": []`)
	doc, err := Read(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Empty(t, doc.Events)
}

// mutate decodes a valid export into generic JSON, edits it and re-encodes.
func mutate(t *testing.T, edit func(m map[string]any)) []byte {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(encode(t, New("demo", sampleHistory(t), time.Now())), &m))
	edit(m)
	out, err := json.Marshal(m)
	require.NoError(t, err)
	return out
}

func eventAt(m map[string]any, i int) map[string]any {
	return m["events"].([]any)[i].(map[string]any)
}

func TestReadRejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{
			name: "not json",
			data: []byte("{"),
			want: ErrSchema,
		},
		{
			name: "wrong version",
			data: mutate(t, func(m map[string]any) { m["version"] = 2 }),
			want: ErrSchema,
		},
		{
			name: "unknown kind",
			data: mutate(t, func(m map[string]any) { eventAt(m, 1)["kind"] = "teleport" }),
			want: ErrSchema,
		},
		{
			name: "insert without char",
			data: mutate(t, func(m map[string]any) {
				delete(eventAt(m, 3)["payload"].(map[string]any), "char")
			}),
			want: ErrSchema,
		},
		{
			name: "extra field",
			data: mutate(t, func(m map[string]any) { m["owner"] = "x" }),
			want: ErrSchema,
		},
		{
			name: "sequence gap",
			data: mutate(t, func(m map[string]any) {
				evs := m["events"].([]any)
				m["events"] = append(evs[:2], evs[3:]...)
			}),
			want: ErrSequence,
		},
		{
			name: "duplicate id",
			data: mutate(t, func(m map[string]any) { eventAt(m, 4)["id"] = eventAt(m, 3)["id"] }),
			want: ErrSequence,
		},
		{
			name: "does not replay",
			data: mutate(t, func(m map[string]any) {
				eventAt(m, 3)["payload"].(map[string]any)["fileId"] = "nowhere"
			}),
			want: ErrReplay,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(bytes.NewReader(tt.data))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	events := sampleHistory(t)
	doc, err := Read(bytes.NewReader(encode(t, New("demo", events, time.Now()))))
	require.NoError(t, err)

	log := eventlog.New()
	n, err := Import(ctx, log, doc)
	require.NoError(t, err)
	assert.Equal(t, len(events), n)
	assert.Equal(t, len(events), log.Len())
	last, ok := log.At(int64(n - 1))
	require.True(t, ok)
	assert.Equal(t, events[n-1].ID, last.ID)

	_, err = Import(ctx, log, doc)
	assert.ErrorIs(t, err, ErrNotEmpty)
}

func TestSchemaMentionsEveryKind(t *testing.T) {
	for k := event.KindInsert; k <= event.KindSaveMarker; k++ {
		assert.True(t, strings.Contains(string(schemaJSON), `"`+k.String()+`"`), k.String())
	}
}
