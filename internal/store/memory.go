package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"storyteller/internal/event"
)

// Memory keeps events in process memory. It is used for tests and for
// throwaway sessions.
type Memory struct {
	mu     sync.Mutex
	events []event.Event
	closed bool
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Append(_ context.Context, ev event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("memory store: closed")
	}
	if ev.Sequence != int64(len(m.events)) {
		return fmt.Errorf("memory store: append sequence %d, want %d", ev.Sequence, len(m.events))
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) Load(context.Context) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.events), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
