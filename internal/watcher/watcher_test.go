package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type note struct {
	op   string
	path string
}

type recorder struct {
	mu    sync.Mutex
	notes []note
	ch    chan note
}

func newRecorder() *recorder { return &recorder{ch: make(chan note, 64)} }

func (r *recorder) Created(p string) { r.add(note{"create", p}) }
func (r *recorder) Deleted(p string) { r.add(note{"delete", p}) }

func (r *recorder) add(n note) {
	r.mu.Lock()
	r.notes = append(r.notes, n)
	r.mu.Unlock()
	r.ch <- n
}

// expect waits for a notification matching op and path.
func (r *recorder) expect(t *testing.T, op, path string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case n := <-r.ch:
			if n.op == op && n.path == path {
				return
			}
		case <-deadline:
			t.Fatalf("no %s notification for %s", op, path)
		}
	}
}

func (r *recorder) saw(op, path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notes {
		if n.op == op && n.path == path {
			return true
		}
	}
	return false
}

func (r *recorder) seen(fragment string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notes {
		if strings.Contains(n.path, fragment) {
			return true
		}
	}
	return false
}

func startWatcher(t *testing.T, root string) (*Watcher, *recorder) {
	t.Helper()
	return startWatcherHolding(t, root, 0)
}

func startWatcherHolding(t *testing.T, root string, hold time.Duration) (*Watcher, *recorder) {
	t.Helper()
	rec := newRecorder()
	w, err := New(Config{
		Root:   root,
		Ignore: func(p string) bool { return strings.Contains(p, ".storyteller") },
		Hold:   hold,
	}, rec)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { w.Stop() })
	return w, rec
}

func TestStartWatchesExistingTree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "pkg"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".storyteller"), 0755))

	w, _ := startWatcher(t, root)
	root, _ = filepath.Abs(root)
	assert.Equal(t, []string{root, filepath.Join(root, "src"), filepath.Join(root, "src", "pkg")}, w.WatchedDirs())
}

func TestCreateAndDelete(t *testing.T) {
	root := t.TempDir()
	_, rec := startWatcher(t, root)

	file := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("a"), 0644))
	rec.expect(t, "create", file)

	require.NoError(t, os.Remove(file))
	rec.expect(t, "delete", file)
}

func TestRenameReportsCreateBeforeDelete(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, "old.txt")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0644))
	_, rec := startWatcherHolding(t, root, time.Second)

	renamed := filepath.Join(root, "new.txt")
	require.NoError(t, os.Rename(old, renamed))
	rec.expect(t, "create", renamed)
	rec.expect(t, "delete", old)
}

func TestReplacedFileIsCreateOnly(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("a"), 0644))
	w, rec := startWatcherHolding(t, root, time.Second)

	require.NoError(t, os.Remove(file))
	require.NoError(t, os.WriteFile(file, []byte("b"), 0644))
	rec.expect(t, "create", file)
	require.NoError(t, w.Stop())
	assert.False(t, rec.saw("delete", file))
}

func TestCreateReleasesHeldDeletes(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("a"), 0644))
	_, rec := startWatcherHolding(t, root, time.Hour)

	require.NoError(t, os.Remove(file))
	other := filepath.Join(root, "b.txt")
	require.NoError(t, os.WriteFile(other, []byte("b"), 0644))
	rec.expect(t, "create", other)
	rec.expect(t, "delete", file)
}

func TestNewDirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	w, rec := startWatcher(t, root)

	dir := filepath.Join(root, "docs")
	require.NoError(t, os.Mkdir(dir, 0755))
	rec.expect(t, "create", dir)
	assert.Contains(t, w.WatchedDirs(), dir)

	inner := filepath.Join(dir, "guide.md")
	require.NoError(t, os.WriteFile(inner, []byte("#"), 0644))
	rec.expect(t, "create", inner)

	require.NoError(t, os.RemoveAll(dir))
	rec.expect(t, "delete", dir)
	assert.NotContains(t, w.WatchedDirs(), dir)
}

func TestIgnoredPathsAreSilent(t *testing.T) {
	root := t.TempDir()
	state := filepath.Join(root, ".storyteller")
	require.NoError(t, os.Mkdir(state, 0755))
	_, rec := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(state, "events.db"), []byte("db"), 0644))
	marker := filepath.Join(root, "after.txt")
	require.NoError(t, os.WriteFile(marker, []byte("m"), 0644))
	rec.expect(t, "create", marker)
	assert.False(t, rec.seen(".storyteller"))
}

func TestStartRejectsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	w, err := New(Config{Root: file}, newRecorder())
	require.NoError(t, err)
	assert.Error(t, w.Start())
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
