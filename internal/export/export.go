// Package export writes an event history to a portable JSON document and
// reads it back.
//
// A document is checked three ways before it is accepted: against the
// embedded JSON Schema, for gap-free sequence numbers with unique ids, and
// by replaying it into a fresh project model.
package export

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"storyteller/internal/event"
	"storyteller/internal/eventlog"
	"storyteller/internal/project"
)

// Version is the document format version.
const Version = 1

const schemaURL = "https://storyteller.dev/schema/events-v1.schema.json"

//go:embed schema/events-v1.schema.json
var schemaJSON []byte

// Errors
var (
	ErrSchema     = errors.New("export: document does not match schema")
	ErrSequence   = errors.New("export: events are not a continuous sequence")
	ErrReplay     = errors.New("export: events do not replay")
	ErrNotEmpty   = errors.New("export: target history is not empty")
	ErrBadVersion = errors.New("export: unsupported document version")
)

// Document is the exported form of a history.
type Document struct {
	Version    int           `json:"version"`
	ExportedAt time.Time     `json:"exportedAt,omitzero"`
	Project    string        `json:"project,omitempty"`
	Events     []event.Event `json:"events"`
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}

// New builds a document from events.
func New(project string, events []event.Event, at time.Time) Document {
	if events == nil {
		events = []event.Event{}
	}
	return Document{Version: Version, ExportedAt: at.UTC(), Project: project, Events: events}
}

// Write encodes doc as indented JSON.
func Write(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return nil
}

// Read decodes and checks a document.
func Read(r io.Reader) (Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Document{}, fmt.Errorf("read document: %w", err)
	}
	if err := Validate(data); err != nil {
		return Document{}, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}
	if doc.Version != Version {
		return Document{}, fmt.Errorf("%w: %d", ErrBadVersion, doc.Version)
	}
	if err := checkSequence(doc.Events); err != nil {
		return Document{}, err
	}
	if _, err := project.Replay(doc.Events); err != nil {
		return Document{}, fmt.Errorf("%w: %w", ErrReplay, err)
	}
	return doc, nil
}

// Validate checks raw document bytes against the schema.
func Validate(data []byte) error {
	s, err := schema()
	if err != nil {
		return err
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}
	if err := s.Validate(instance); err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}
	return nil
}

func checkSequence(events []event.Event) error {
	seen := make(map[string]int64, len(events))
	for i, ev := range events {
		if ev.Sequence != int64(i) {
			return fmt.Errorf("%w: event %s at index %d has sequence %d", ErrSequence, ev.ID, i, ev.Sequence)
		}
		if prev, dup := seen[ev.ID]; dup {
			return fmt.Errorf("%w: id %s used by events %d and %d", ErrSequence, ev.ID, prev, i)
		}
		seen[ev.ID] = ev.Sequence
	}
	return nil
}

// Import appends every event of doc to an empty log, keeping ids,
// sequence numbers and timestamps.
func Import(ctx context.Context, log *eventlog.Log, doc Document) (int, error) {
	if log.Len() != 0 {
		return 0, fmt.Errorf("%w: %d events", ErrNotEmpty, log.Len())
	}
	for i, ev := range doc.Events {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := log.AppendRecorded(ctx, ev); err != nil {
			return i, fmt.Errorf("import event %d: %w", ev.Sequence, err)
		}
	}
	return len(doc.Events), nil
}
