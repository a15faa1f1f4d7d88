// Package clipboard carries authorship across copy, cut and paste.
//
// A copy or cut records the selected text together with the authoring event
// of each character. A paste of exactly that text lets the new Insert events
// point back at the original authors; any other paste is treated as text from
// outside the history.
package clipboard

import (
	"sync"
	"unicode/utf8"
)

// Snapshot is the text of the last copy or cut and one authoring event id
// per character.
type Snapshot struct {
	Text     string
	EventIDs []string
}

// Attribution is the outcome of a paste.
type Attribution struct {
	// One provenance id per pasted character, or nil.
	EventIDs []string
	// Set when the paste did not come from the tracked history.
	External bool
}

// Tracker holds at most one snapshot. It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	snap    *Snapshot
	inPaste bool
}

// New returns an empty tracker.
func New() *Tracker { return &Tracker{} }

// Copy records a snapshot, replacing any previous one. ids must hold one
// entry per character of text; otherwise the snapshot is cleared.
func (t *Tracker) Copy(text string, ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if text == "" || utf8.RuneCountInString(text) != len(ids) {
		t.snap = nil
		return
	}
	t.snap = &Snapshot{Text: text, EventIDs: append([]string(nil), ids...)}
}

// BeginPaste marks the next text insertion as a paste.
func (t *Tracker) BeginPaste() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inPaste = true
}

// Pasting reports whether a paste has begun and not been resolved.
func (t *Tracker) Pasting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inPaste
}

// Resolve attributes pasted text and consumes the snapshot and the paste
// flag. Text identical to the snapshot gets its ids; anything else is
// external.
func (t *Tracker) Resolve(text string) Attribution {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.inPaste = false
	snap := t.snap
	t.snap = nil
	if snap == nil || snap.Text != text {
		return Attribution{External: true}
	}
	return Attribution{EventIDs: snap.EventIDs}
}

// Current returns a copy of the snapshot, if any.
func (t *Tracker) Current() (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap == nil {
		return Snapshot{}, false
	}
	return Snapshot{Text: t.snap.Text, EventIDs: append([]string(nil), t.snap.EventIDs...)}, true
}

// Clear drops the snapshot and any pending paste.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap = nil
	t.inPaste = false
}
