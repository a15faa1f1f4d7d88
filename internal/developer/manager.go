// Package developer tracks the people behind captured events. Events are
// stamped with the id of the active developer group, one group per distinct
// set of developers working together.
package developer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"storyteller/internal/event"
)

// Errors
var (
	ErrInvalidEmail = errors.New("developer: an identifying email address is required")
	ErrNotFound     = errors.New("developer: not found")
	ErrDuplicate    = errors.New("developer: email already registered")
	ErrLastMember   = errors.New("developer: active group cannot be empty")
)

// Anonymous developer identity used until a real developer is named.
const (
	AnonymousName  = "Anonymous Developer"
	AnonymousEmail = "anonymous@mail.com"
)

// Developer is one person.
type Developer struct {
	ID       string `json:"id"`
	UserName string `json:"userName"`
	Email    string `json:"email"`
}

func (d Developer) String() string { return fmt.Sprintf("%s <%s>", d.UserName, d.Email) }

// Group is a set of developers working together.
type Group struct {
	ID        string   `json:"id"`
	MemberIDs []string `json:"memberIds"`
}

type state struct {
	Developers    []Developer `json:"developers"`
	Groups        []Group     `json:"groups"`
	ActiveGroupID string      `json:"activeGroupId"`
	AnonymousID   string      `json:"anonymousDeveloperId"`
}

// Manager owns the developers and groups of one project. With a non-empty
// path every change is written back to that JSON file.
type Manager struct {
	mu    sync.RWMutex
	path  string
	state state
}

// Open loads the developers file at path, creating it with an anonymous
// developer when it does not exist. An empty path keeps everything in memory.
func Open(path string) (*Manager, error) {
	m := &Manager{path: path}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, &m.state); err != nil {
				return nil, fmt.Errorf("parse developers file: %w", err)
			}
			if m.group(m.state.ActiveGroupID) == nil {
				return nil, fmt.Errorf("developers file: unknown active group %q", m.state.ActiveGroupID)
			}
			return m, nil
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read developers file: %w", err)
		}
	}

	anon := Developer{ID: event.NewID(), UserName: AnonymousName, Email: AnonymousEmail}
	m.state.Developers = []Developer{anon}
	m.state.AnonymousID = anon.ID
	m.state.ActiveGroupID = m.groupFor([]string{anon.ID}).ID
	if err := m.save(); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseInfo splits "Grace Hopper grace@mail.com" into a user name and an
// email. The last word must look like an email address.
func ParseInfo(s string) (userName, email string, err error) {
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return "", "", ErrInvalidEmail
	}
	email = parts[len(parts)-1]
	if !validEmail(email) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return strings.Join(parts[:len(parts)-1], " "), email, nil
}

func validEmail(s string) bool {
	return strings.Contains(s, "@") && strings.Contains(s, ".")
}

// Create registers a new developer without activating them.
func (m *Manager) Create(userName, email string) (Developer, error) {
	if !validEmail(email) {
		return Developer{}, fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.state.Developers {
		if strings.EqualFold(d.Email, email) {
			return Developer{}, fmt.Errorf("%w: %s", ErrDuplicate, email)
		}
	}
	d := Developer{ID: event.NewID(), UserName: userName, Email: email}
	m.state.Developers = append(m.state.Developers, d)
	return d, m.save()
}

// ReplaceAnonymous gives the anonymous developer a real identity, keeping
// its id so earlier events stay attributed to the same person.
func (m *Manager) ReplaceAnonymous(userName, email string) (Developer, error) {
	if !validEmail(email) {
		return Developer{}, fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.state.Developers {
		d := &m.state.Developers[i]
		if d.ID == m.state.AnonymousID {
			d.UserName, d.Email = userName, email
			return *d, m.save()
		}
	}
	return Developer{}, fmt.Errorf("%w: anonymous developer", ErrNotFound)
}

// Find looks a developer up by id, email or user name.
func (m *Manager) Find(key string) (Developer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.find(key)
}

func (m *Manager) find(key string) (Developer, error) {
	for _, d := range m.state.Developers {
		if d.ID == key || strings.EqualFold(d.Email, key) || d.UserName == key {
			return d, nil
		}
	}
	return Developer{}, fmt.Errorf("%w: %q", ErrNotFound, key)
}

// Activate adds developers to the active group.
func (m *Manager) Activate(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	members := slices.Clone(m.group(m.state.ActiveGroupID).MemberIDs)
	for _, key := range keys {
		d, err := m.find(key)
		if err != nil {
			return err
		}
		if !slices.Contains(members, d.ID) {
			members = append(members, d.ID)
		}
	}
	m.state.ActiveGroupID = m.groupFor(members).ID
	return m.save()
}

// Deactivate removes developers from the active group, which must keep at
// least one member.
func (m *Manager) Deactivate(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	members := slices.Clone(m.group(m.state.ActiveGroupID).MemberIDs)
	for _, key := range keys {
		d, err := m.find(key)
		if err != nil {
			return err
		}
		members = slices.DeleteFunc(members, func(id string) bool { return id == d.ID })
	}
	if len(members) == 0 {
		return ErrLastMember
	}
	m.state.ActiveGroupID = m.groupFor(members).ID
	return m.save()
}

// ActiveGroupID returns the id stamped on newly captured events.
func (m *Manager) ActiveGroupID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ActiveGroupID
}

// Active returns the members of the active group.
func (m *Manager) Active() []Developer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.members(m.state.ActiveGroupID, true)
}

// Inactive returns every developer outside the active group.
func (m *Manager) Inactive() []Developer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.members(m.state.ActiveGroupID, false)
}

// Developers returns every developer in registration order.
func (m *Manager) Developers() []Developer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.state.Developers)
}

// Group returns the members of a group.
func (m *Manager) Group(id string) ([]Developer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.group(id) == nil {
		return nil, fmt.Errorf("%w: group %s", ErrNotFound, id)
	}
	return m.members(id, true), nil
}

func (m *Manager) members(groupID string, in bool) []Developer {
	g := m.group(groupID)
	var out []Developer
	for _, d := range m.state.Developers {
		if slices.Contains(g.MemberIDs, d.ID) == in {
			out = append(out, d)
		}
	}
	return out
}

func (m *Manager) group(id string) *Group {
	for i := range m.state.Groups {
		if m.state.Groups[i].ID == id {
			return &m.state.Groups[i]
		}
	}
	return nil
}

// groupFor returns the group with exactly these members, creating it.
func (m *Manager) groupFor(members []string) Group {
	sorted := slices.Clone(members)
	sort.Strings(sorted)
	for _, g := range m.state.Groups {
		if slices.Equal(g.MemberIDs, sorted) {
			return g
		}
	}
	g := Group{ID: event.NewID(), MemberIDs: sorted}
	m.state.Groups = append(m.state.Groups, g)
	return g
}

func (m *Manager) save() error {
	if m.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode developers: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0700); err != nil {
		return fmt.Errorf("create developers directory: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write developers file: %w", err)
	}
	return os.Rename(tmp, m.path)
}
