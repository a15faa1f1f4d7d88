package tree

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	tr := New()
	require.NoError(t, tr.CreateRoot("root"))
	require.NoError(t, tr.Create("src", Directory, "root", "src"))
	require.NoError(t, tr.Create("main", File, "src", "main.go"))
	require.NoError(t, tr.Create("readme", File, "root", "README.md"))
	return tr
}

func paths(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

func TestCleanAndSplit(t *testing.T) {
	tests := []struct {
		in, clean, parent, name string
	}{
		{"", "/", "/", ""},
		{"a.txt", "/a.txt", "/", "a.txt"},
		{"/src/./main.go", "/src/main.go", "/src", "main.go"},
		{"src\\pkg\\", "/src/pkg", "/src", "pkg"},
		{"/a/../b", "/b", "/", "b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.clean, Clean(tt.in), tt.in)
		parent, name := Split(tt.in)
		assert.Equal(t, tt.parent, parent, tt.in)
		assert.Equal(t, tt.name, name, tt.in)
	}

	assert.Equal(t, "/src/a", Join("/src", "a"))
	assert.Equal(t, "/a", Join("/", "a"))
	assert.True(t, Within("/src/a", "/src"))
	assert.False(t, Within("/srcx/a", "/src"))
	assert.Equal(t, 2, Depth("/src/a"))
}

func TestOSPaths(t *testing.T) {
	root := filepath.Join("home", "dev", "proj")
	assert.Equal(t, filepath.Join(root, "src", "a.go"), ToOS(root, "/src/a.go"))
	assert.Equal(t, root, ToOS(root, Root))

	p, err := FromOS(root, filepath.Join(root, "src", "a.go"))
	require.NoError(t, err)
	assert.Equal(t, "/src/a.go", p)

	p, err = FromOS(root, root)
	require.NoError(t, err)
	assert.Equal(t, Root, p)

	_, err = FromOS(root, filepath.Join("home", "dev", "other"))
	assert.Error(t, err)
}

func TestCreateAndLookup(t *testing.T) {
	tr := newTestTree(t)

	e, ok := tr.Lookup("/src/main.go")
	require.True(t, ok)
	assert.Equal(t, "main", e.ID)
	assert.Equal(t, File, e.Kind)

	_, ok = tr.Lookup("/src/missing.go")
	assert.False(t, ok)

	assert.Equal(t, []string{"/", "/README.md", "/src", "/src/main.go"}, paths(tr.Entries()))
	assert.Equal(t, []string{"/README.md", "/src/main.go"}, paths(tr.Files()))

	assert.ErrorIs(t, tr.Create("dup", File, "src", "main.go"), ErrPathTaken)
	assert.ErrorIs(t, tr.Create("main", File, "src", "other.go"), ErrExists)
	assert.ErrorIs(t, tr.Create("x", File, "nope", "x"), ErrNotFound)
	assert.ErrorIs(t, tr.Create("x", File, "readme", "x"), ErrNotDirectory)
}

func TestDeleteHidesDescendants(t *testing.T) {
	tr := newTestTree(t)

	require.NoError(t, tr.Delete("src", Directory))
	_, ok := tr.Lookup("/src/main.go")
	assert.False(t, ok)
	assert.False(t, tr.Visible("main"))
	assert.Equal(t, []string{"/", "/README.md"}, paths(tr.Entries()))

	// The path is free again for an unrelated node.
	require.NoError(t, tr.Create("src2", Directory, "root", "src"))
	assert.ErrorIs(t, tr.Revive("src", Directory), ErrPathTaken)
	require.NoError(t, tr.Delete("src2", Directory))

	require.NoError(t, tr.Revive("src", Directory))
	e, ok := tr.Lookup("/src/main.go")
	require.True(t, ok)
	assert.Equal(t, "main", e.ID)

	assert.ErrorIs(t, tr.Delete("main", Directory), ErrWrongKind)
	assert.ErrorIs(t, tr.Revive("main", File), ErrAlive)
	assert.ErrorIs(t, tr.Delete("ghost", File), ErrNotFound)
}

func TestCreateRevivesDeletedID(t *testing.T) {
	tr := newTestTree(t)
	require.NoError(t, tr.Delete("readme", File))
	require.NoError(t, tr.Create("readme", File, "src", "README.md"))

	p, err := tr.Path("readme")
	require.NoError(t, err)
	assert.Equal(t, "/src/README.md", p)
	assert.ErrorIs(t, tr.Create("readme", Directory, "root", "x"), ErrExists)
}

func TestMoveRecomputesPaths(t *testing.T) {
	tr := newTestTree(t)
	require.NoError(t, tr.Create("lib", Directory, "root", "lib"))

	require.NoError(t, tr.Move("src", Directory, "lib", "source"))
	p, err := tr.Path("main")
	require.NoError(t, err)
	assert.Equal(t, "/lib/source/main.go", p)

	_, ok := tr.Lookup("/src")
	assert.False(t, ok)

	assert.ErrorIs(t, tr.Move("lib", Directory, "src", "lib"), ErrCycle)
	assert.ErrorIs(t, tr.Move("readme", File, "lib", "source"), ErrPathTaken)

	require.NoError(t, tr.Move("src", Directory, "root", "src"))
	assert.Equal(t, []string{"/", "/README.md", "/lib", "/src", "/src/main.go"}, paths(tr.Entries()))
}

func TestRoot(t *testing.T) {
	tr := New()
	_, ok := tr.Lookup("/")
	assert.False(t, ok)

	require.NoError(t, tr.CreateRoot("root"))
	assert.ErrorIs(t, tr.CreateRoot("other"), ErrExists)
	assert.Error(t, tr.Delete("root", Directory))

	require.NoError(t, tr.DeleteRoot("root"))
	assert.Empty(t, tr.Entries())
	require.NoError(t, tr.CreateRoot("root"))
	assert.Len(t, tr.Entries(), 1)
}
