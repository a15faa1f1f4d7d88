package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"storyteller/internal/event"
	"storyteller/internal/eventlog"
	"storyteller/internal/wal"
)

// Backend types accepted by Open.
const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeWAL      = "wal"
	TypeMemory   = "memory"
)

// ErrUnknownType is returned by Open for an unsupported backend type.
var ErrUnknownType = errors.New("store: unknown backend type")

// Config selects and locates an event backend.
type Config struct {
	Type string
	// Path is the database or journal file for sqlite and wal.
	Path string
	// DSN is the connection string for postgres.
	DSN string
}

// Open returns the backend described by cfg.
func Open(ctx context.Context, cfg Config) (eventlog.Backend, error) {
	switch cfg.Type {
	case TypeSQLite, "":
		return OpenSQLite(ctx, cfg.Path)
	case TypePostgres:
		return NewPostgres(cfg.DSN)
	case TypeWAL:
		return wal.Open(cfg.Path)
	case TypeMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
}

// DefaultPath returns the conventional file for a backend type inside the
// project's state directory.
func DefaultPath(stateDir, typ string) string {
	switch typ {
	case TypeWAL:
		return filepath.Join(stateDir, "events.wal")
	default:
		return filepath.Join(stateDir, "events.db")
	}
}

// row is an event flattened to the columns of the events table.
type row struct {
	Seq              int64
	ID               string
	Kind             string
	TimestampNS      int64
	DeveloperGroupID string
	Relevance        string
	TargetID         string
	Payload          string
}

func toRow(ev event.Event) (row, error) {
	if ev.Payload == nil {
		return row{}, fmt.Errorf("%w: event %s has no payload", event.ErrInvalidEvent, ev.ID)
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return row{}, fmt.Errorf("marshal payload: %w", err)
	}
	return row{
		Seq:              ev.Sequence,
		ID:               ev.ID,
		Kind:             ev.Kind().String(),
		TimestampNS:      ev.Timestamp.UnixNano(),
		DeveloperGroupID: ev.DeveloperGroupID,
		Relevance:        ev.Relevance.String(),
		TargetID:         event.Target(ev.Payload),
		Payload:          string(payload),
	}, nil
}

func (r row) event() (event.Event, error) {
	kind, err := event.ParseKind(r.Kind)
	if err != nil {
		return event.Event{}, fmt.Errorf("event %d: %w", r.Seq, err)
	}
	relevance, err := event.ParseRelevance(r.Relevance)
	if err != nil {
		return event.Event{}, fmt.Errorf("event %d: %w", r.Seq, err)
	}
	payload, err := event.DecodePayload(kind, []byte(r.Payload))
	if err != nil {
		return event.Event{}, fmt.Errorf("event %d: %w", r.Seq, err)
	}
	return event.Event{
		Sequence:         r.Seq,
		ID:               r.ID,
		Timestamp:        time.Unix(0, r.TimestampNS).UTC(),
		DeveloperGroupID: r.DeveloperGroupID,
		Relevance:        relevance,
		Payload:          payload,
	}, nil
}
