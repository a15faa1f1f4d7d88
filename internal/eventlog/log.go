// Package eventlog holds the append-only, gapless sequence of events that is
// the single source of truth for a project's history.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"storyteller/internal/event"
)

// Errors
var (
	ErrClosed   = errors.New("eventlog: log is closed")
	ErrNotEmpty = errors.New("eventlog: log is not empty")
)

// Backend persists events. Append must make ev durable before returning;
// Load returns every stored event in sequence order.
type Backend interface {
	Append(ctx context.Context, ev event.Event) error
	Load(ctx context.Context) ([]event.Event, error)
	Close() error
}

// Log is the in-memory view of the history, optionally backed by durable
// storage. Events become visible only after the backend has stored them.
type Log struct {
	mu      sync.RWMutex
	events  []event.Event
	byID    map[string]int
	backend Backend
	now     func() time.Time
	failed  error
	closed  bool
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the timestamp source for appended events.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New returns an empty log with no durable storage.
func New(opts ...Option) *Log {
	l := &Log{byID: make(map[string]int), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open loads every event from backend, checks sequence continuity and
// returns a log that persists later appends to the same backend.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Log, error) {
	stored, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	l := New(opts...)
	for _, ev := range stored {
		if err := l.admit(ev); err != nil {
			return nil, err
		}
	}
	l.backend = backend
	return l, nil
}

// Prepare fills in the sequence number, id and timestamp a draft event
// would get if appended next. It does not append.
func (l *Log) Prepare(draft event.Event) event.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	draft.Sequence = int64(len(l.events))
	if draft.ID == "" {
		draft.ID = event.NewID()
	}
	if draft.Timestamp.IsZero() {
		draft.Timestamp = l.now()
	}
	return draft
}

// Append assigns the next sequence number and an id to draft, stores it and
// returns the stored event.
func (l *Log) Append(ctx context.Context, draft event.Event) (event.Event, error) {
	ev := l.Prepare(draft)
	if err := l.AppendRecorded(ctx, ev); err != nil {
		return event.Event{}, err
	}
	return ev, nil
}

// AppendRecorded stores an event whose sequence number and id are already
// set. The sequence number must be the next one and the id must be new;
// anything else is a LogIntegrityError, after which the log refuses all
// further appends.
func (l *Log) AppendRecorded(ctx context.Context, ev event.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.failed != nil {
		return l.failed
	}
	if err := l.check(ev); err != nil {
		if event.IsLogIntegrity(err) {
			l.failed = err
		}
		return err
	}
	if l.backend != nil {
		if err := l.backend.Append(ctx, ev); err != nil {
			return fmt.Errorf("persist event %d: %w", ev.Sequence, err)
		}
	}
	l.push(ev)
	return nil
}

// admit adds a loaded event without persisting it.
func (l *Log) admit(ev event.Event) error {
	if err := l.check(ev); err != nil {
		return err
	}
	l.push(ev)
	return nil
}

func (l *Log) check(ev event.Event) error {
	next := int64(len(l.events))
	if ev.Sequence != next {
		reason := "sequence gap"
		if ev.Sequence < next {
			reason = "duplicate sequence"
		}
		return &event.LogIntegrityError{Expected: next, Got: ev.Sequence, EventID: ev.ID, Reason: reason}
	}
	if _, dup := l.byID[ev.ID]; dup {
		return &event.LogIntegrityError{Expected: next, Got: ev.Sequence, EventID: ev.ID, Reason: "duplicate event id"}
	}
	return ev.Validate()
}

func (l *Log) push(ev event.Event) {
	l.byID[ev.ID] = len(l.events)
	l.events = append(l.events, ev)
}

// Len returns the number of events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// At returns the event with the given sequence number.
func (l *Log) At(seq int64) (event.Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq < 0 || seq >= int64(len(l.events)) {
		return event.Event{}, false
	}
	return l.events[seq], true
}

// ByID returns the event with the given id.
func (l *Log) ByID(id string) (event.Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.byID[id]
	if !ok {
		return event.Event{}, false
	}
	return l.events[i], true
}

// Since returns a copy of the events with sequence numbers >= seq.
func (l *Log) Since(seq int64) []event.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq < 0 {
		seq = 0
	}
	if seq >= int64(len(l.events)) {
		return nil
	}
	return append([]event.Event(nil), l.events[seq:]...)
}

// Events returns a copy of every event.
func (l *Log) Events() []event.Event { return l.Since(0) }

// Snapshot returns an immutable view of the log as it is now. Later appends
// are not visible through it.
func (l *Log) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Snapshot{events: l.events[:len(l.events):len(l.events)]}
}

// Err returns the integrity error that stopped the log, if any.
func (l *Log) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.failed
}

// Close closes the backend. The in-memory events stay readable.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.backend != nil {
		return l.backend.Close()
	}
	return nil
}

// Snapshot is a fixed prefix of a log.
type Snapshot struct {
	events []event.Event
}

// NewSnapshot wraps events, which must already be in sequence order.
func NewSnapshot(events []event.Event) Snapshot {
	return Snapshot{events: append([]event.Event(nil), events...)}
}

// Len returns the number of events in the snapshot.
func (s Snapshot) Len() int { return len(s.events) }

// At returns the event at index i.
func (s Snapshot) At(i int) event.Event { return s.events[i] }

// Events returns a copy of the events.
func (s Snapshot) Events() []event.Event {
	return append([]event.Event(nil), s.events...)
}
