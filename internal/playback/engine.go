// Package playback moves a pointer through a fixed snapshot of the log,
// applying events forward or inverting them backward so the materialized
// project always equals a forward replay of the events before the pointer.
package playback

import (
	"fmt"

	"storyteller/internal/content"
	"storyteller/internal/event"
	"storyteller/internal/eventlog"
	"storyteller/internal/project"
	"storyteller/internal/tree"
)

// Engine is a playback cursor. It is not safe for concurrent use.
type Engine struct {
	snap  eventlog.Snapshot
	model *project.Model
	pos   int
	start int
}

type options struct {
	skipIrrelevant bool
}

// Option configures an Engine.
type Option func(*options)

// WithSkipIrrelevant controls whether the engine starts just past the
// leading run of never-relevant events. It does by default.
func WithSkipIrrelevant(skip bool) Option {
	return func(o *options) { o.skipIrrelevant = skip }
}

// New creates an engine over snap.
func New(snap eventlog.Snapshot, opts ...Option) (*Engine, error) {
	o := options{skipIrrelevant: true}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{snap: snap, model: project.NewModel()}
	for e.start < snap.Len() && snap.At(e.start).Relevance == event.NeverRelevant {
		e.start++
	}
	if o.skipIrrelevant {
		if _, err := e.Step(e.start); err != nil {
			return nil, fmt.Errorf("apply setup events: %w", err)
		}
	}
	return e, nil
}

// Position is the number of events currently applied.
func (e *Engine) Position() int { return e.pos }

// Len is the number of events in the snapshot.
func (e *Engine) Len() int { return e.snap.Len() }

// Start is the position just past the leading never-relevant events.
func (e *Engine) Start() int { return e.start }

// Step applies n events forward, or -n backward when n is negative, and
// returns how many were applied. Steps past either end are clamped. If an
// event fails to apply, the events already applied by this call are undone
// and the position is unchanged.
func (e *Engine) Step(n int) (int, error) {
	switch {
	case n > 0:
		n = min(n, e.snap.Len()-e.pos)
		for i := 0; i < n; i++ {
			ev := e.snap.At(e.pos)
			if err := e.model.Apply(ev); err != nil {
				e.rewind(i)
				return 0, err
			}
			e.pos++
		}
	case n < 0:
		n = min(-n, e.pos)
		for i := 0; i < n; i++ {
			ev := e.snap.At(e.pos - 1)
			if err := e.model.Revert(ev); err != nil {
				e.replay(i)
				return 0, err
			}
			e.pos--
		}
	}
	return n, nil
}

// rewind undoes the last k forward steps after a failure.
func (e *Engine) rewind(k int) {
	for ; k > 0; k-- {
		e.pos--
		// Reverting an event that was just applied cannot fail.
		_ = e.model.Revert(e.snap.At(e.pos))
	}
}

// replay redoes the last k backward steps after a failure.
func (e *Engine) replay(k int) {
	for ; k > 0; k-- {
		_ = e.model.Apply(e.snap.At(e.pos))
		e.pos++
	}
}

// Seek moves to an absolute position, clamped to the snapshot.
func (e *Engine) Seek(pos int) error {
	_, err := e.Step(pos - e.pos)
	return err
}

// StepToEnd applies every remaining event.
func (e *Engine) StepToEnd() error { return e.Seek(e.snap.Len()) }

// StepToStart reverts every applied event.
func (e *Engine) StepToStart() error { return e.Seek(0) }

// EventAt returns the event at a log position.
func (e *Engine) EventAt(pos int) (event.Event, bool) {
	if pos < 0 || pos >= e.snap.Len() {
		return event.Event{}, false
	}
	return e.snap.At(pos), true
}

// Last returns the most recently applied event.
func (e *Engine) Last() (event.Event, bool) { return e.EventAt(e.pos - 1) }

// FileContent returns a file's text at the current position.
func (e *Engine) FileContent(fileID string) (string, error) {
	return e.model.Content(fileID)
}

// Tree returns the visible tree at the current position.
func (e *Engine) Tree() []tree.Entry { return e.model.Tree().Entries() }

// State returns the full visible state at the current position.
func (e *Engine) State() project.State { return e.model.State() }

// FileContentAt returns a file's text at pos and leaves the engine where it
// was.
func (e *Engine) FileContentAt(fileID string, pos int) (string, error) {
	var text string
	err := e.at(pos, func() error {
		var err error
		text, err = e.model.Content(fileID)
		return err
	})
	return text, err
}

// TreeAt returns the visible tree at pos and leaves the engine where it was.
func (e *Engine) TreeAt(pos int) ([]tree.Entry, error) {
	var entries []tree.Entry
	err := e.at(pos, func() error {
		entries = e.model.Tree().Entries()
		return nil
	})
	return entries, err
}

// InsertEventsInRange returns the attributed characters of a file between
// two positions at the current playback position.
func (e *Engine) InsertEventsInRange(fileID string, startLine, startCol, endLine, endCol int) ([]content.Char, error) {
	f, err := e.model.File(fileID)
	if err != nil {
		return nil, err
	}
	return f.InsertEventsInRange(startLine, startCol, endLine, endCol)
}

func (e *Engine) at(pos int, read func() error) error {
	back := e.pos
	if err := e.Seek(pos); err != nil {
		return err
	}
	readErr := read()
	if err := e.Seek(back); err != nil {
		return err
	}
	return readErr
}
