// Package event defines the immutable records stored in a project history.
//
// Every change to code text or to the project's directory structure is one
// Event. Events are totally ordered by Sequence and addressed by ID; each kind
// carries exactly one payload shape.
package event

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Kind discriminates the payload carried by an Event.
type Kind uint8

const (
	KindInsert          Kind = 1  // One character typed or pasted
	KindDelete          Kind = 2  // A run of characters removed
	KindCreateFile      Kind = 3  // New file node
	KindCreateDirectory Kind = 4  // New directory node
	KindDeleteFile      Kind = 5  // File node deleted
	KindDeleteDirectory Kind = 6  // Directory node deleted
	KindMoveFile        Kind = 7  // File moved to another directory
	KindMoveDirectory   Kind = 8  // Directory moved to another directory
	KindRenameFile      Kind = 9  // File renamed in place
	KindRenameDirectory Kind = 10 // Directory renamed in place
	KindSaveMarker      Kind = 11 // Checkpoint boundary
)

var kindNames = map[Kind]string{
	KindInsert:          "insert",
	KindDelete:          "delete",
	KindCreateFile:      "create-file",
	KindCreateDirectory: "create-directory",
	KindDeleteFile:      "delete-file",
	KindDeleteDirectory: "delete-directory",
	KindMoveFile:        "move-file",
	KindMoveDirectory:   "move-directory",
	KindRenameFile:      "rename-file",
	KindRenameDirectory: "rename-directory",
	KindSaveMarker:      "save-marker",
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind converts a wire name back into a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Relevance tells playback whether an event is worth showing.
type Relevance uint8

const (
	// Relevant events are shown during playback.
	Relevant Relevance = 0
	// NeverRelevant marks synthetic events such as the initial import of a
	// project's existing files. A leading run of them is skipped by playback.
	NeverRelevant Relevance = 1
)

func (r Relevance) String() string {
	if r == NeverRelevant {
		return "never-relevant"
	}
	return "relevant"
}

// ParseRelevance converts a wire name back into a Relevance.
func ParseRelevance(s string) (Relevance, error) {
	switch s {
	case "", "relevant":
		return Relevant, nil
	case "never-relevant":
		return NeverRelevant, nil
	}
	return 0, fmt.Errorf("event: unknown relevance %q", s)
}

// Event is one immutable entry in the history.
type Event struct {
	// Position in the log, starting at 0 and without gaps
	Sequence int64

	// Stable identity, independent of Sequence
	ID string

	Timestamp        time.Time
	DeveloperGroupID string
	Relevance        Relevance

	// Kind-specific data; the event's kind is Payload.Kind()
	Payload Payload
}

// Kind returns the kind of the event's payload, or 0 when it has none.
func (e Event) Kind() Kind {
	if e.Payload == nil {
		return 0
	}
	return e.Payload.Kind()
}

// Validate checks the event's own fields and its payload.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidEvent)
	}
	if e.Sequence < 0 {
		return fmt.Errorf("%w: negative sequence %d", ErrInvalidEvent, e.Sequence)
	}
	if e.Payload == nil {
		return fmt.Errorf("%w: event %s has no payload", ErrInvalidEvent, e.ID)
	}
	if err := e.Payload.validate(); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrInvalidEvent, e.Kind(), e.ID, err)
	}
	return nil
}

// NewID returns a fresh random identifier for events and nodes.
func NewID() string {
	return uuid.NewString()
}

func singleRune(s string) error {
	if utf8.RuneCountInString(s) != 1 || !utf8.ValidString(s) {
		return fmt.Errorf("want exactly one character, got %q", s)
	}
	return nil
}
