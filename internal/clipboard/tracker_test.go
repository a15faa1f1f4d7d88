package clipboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPasteOfCopiedTextKeepsProvenance(t *testing.T) {
	tr := New()
	tr.Copy("ab", []string{"e5", "e6"})

	tr.BeginPaste()
	assert.True(t, tr.Pasting())
	got := tr.Resolve("ab")
	assert.Equal(t, Attribution{EventIDs: []string{"e5", "e6"}}, got)
	assert.False(t, tr.Pasting())

	// The snapshot is consumed.
	_, ok := tr.Current()
	assert.False(t, ok)
	assert.Equal(t, Attribution{External: true}, tr.Resolve("ab"))
}

func TestPasteOfOtherText(t *testing.T) {
	tests := []struct {
		name   string
		copied string
		ids    []string
		pasted string
	}{
		{"edited after copy", "ab", []string{"e5", "e6"}, "aB"},
		{"longer", "ab", []string{"e5", "e6"}, "abc"},
		{"nothing copied", "", nil, "ab"},
		{"id count mismatch", "abc", []string{"e1"}, "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New()
			tr.Copy(tt.copied, tt.ids)
			tr.BeginPaste()
			assert.Equal(t, Attribution{External: true}, tr.Resolve(tt.pasted))
		})
	}
}

func TestNewerCopySupersedes(t *testing.T) {
	tr := New()
	tr.Copy("ab", []string{"e1", "e2"})
	tr.Copy("é\n", []string{"e7", "e8"})

	snap, ok := tr.Current()
	assert.True(t, ok)
	assert.Equal(t, "é\n", snap.Text)
	assert.Equal(t, Attribution{EventIDs: []string{"e7", "e8"}}, tr.Resolve("é\n"))

	tr.Copy("x", []string{"e9"})
	tr.BeginPaste()
	tr.Clear()
	assert.False(t, tr.Pasting())
	_, ok = tr.Current()
	assert.False(t, ok)
}
