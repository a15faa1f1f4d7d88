package developer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInfo(t *testing.T) {
	tests := []struct {
		in        string
		name      string
		email     string
		wantError bool
	}{
		{"Grace Hopper grace@mail.com", "Grace Hopper", "grace@mail.com", false},
		{"  Ada   Lovelace  ada@math.org ", "Ada Lovelace", "ada@math.org", false},
		{"solo@only.io", "", "solo@only.io", false},
		{"Grace Hopper", "", "", true},
		{"", "", "", true},
		{"Bob bob@localhost", "", "", true},
	}
	for _, tt := range tests {
		name, email, err := ParseInfo(tt.in)
		if tt.wantError {
			assert.ErrorIs(t, err, ErrInvalidEmail, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.name, name)
		assert.Equal(t, tt.email, email)
	}
}

func TestAnonymousStart(t *testing.T) {
	m, err := Open("")
	require.NoError(t, err)

	active := m.Active()
	require.Len(t, active, 1)
	assert.Equal(t, AnonymousName, active[0].UserName)
	anonGroup := m.ActiveGroupID()
	assert.NotEmpty(t, anonGroup)

	d, err := m.ReplaceAnonymous("Grace Hopper", "grace@mail.com")
	require.NoError(t, err)
	assert.Equal(t, active[0].ID, d.ID)
	assert.Equal(t, anonGroup, m.ActiveGroupID())

	_, err = m.ReplaceAnonymous("x", "nope")
	assert.ErrorIs(t, err, ErrInvalidEmail)
}

func TestGroupMembership(t *testing.T) {
	m, err := Open("")
	require.NoError(t, err)
	solo := m.ActiveGroupID()

	ada, err := m.Create("Ada Lovelace", "ada@math.org")
	require.NoError(t, err)
	_, err = m.Create("Imposter", "ADA@math.org")
	assert.ErrorIs(t, err, ErrDuplicate)

	assert.Len(t, m.Inactive(), 1)
	require.NoError(t, m.Activate("ada@math.org"))
	pair := m.ActiveGroupID()
	assert.NotEqual(t, solo, pair)
	assert.Len(t, m.Active(), 2)
	assert.Empty(t, m.Inactive())

	// Returning to an earlier membership reuses its group id.
	require.NoError(t, m.Deactivate(ada.ID))
	assert.Equal(t, solo, m.ActiveGroupID())
	require.NoError(t, m.Activate("Ada Lovelace"))
	assert.Equal(t, pair, m.ActiveGroupID())

	members, err := m.Group(pair)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	assert.ErrorIs(t, m.Deactivate(ada.ID, AnonymousEmail), ErrLastMember)
	assert.ErrorIs(t, m.Activate("ghost"), ErrNotFound)
	assert.Equal(t, pair, m.ActiveGroupID())
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "developers.json")
	m, err := Open(path)
	require.NoError(t, err)
	_, err = m.Create("Ada Lovelace", "ada@math.org")
	require.NoError(t, err)
	require.NoError(t, m.Activate("ada@math.org"))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, m.ActiveGroupID(), reopened.ActiveGroupID())
	assert.Equal(t, m.Developers(), reopened.Developers())
}
