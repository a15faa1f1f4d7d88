package disambig_test

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyteller/internal/disambig"
	"storyteller/internal/testutil"
)

type recorder struct {
	mu        sync.Mutex
	decisions []disambig.Decision
}

func (r *recorder) handle(d disambig.Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.At = time.Time{}
	r.decisions = append(r.decisions, d)
}

func (r *recorder) all() []disambig.Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]disambig.Decision(nil), r.decisions...)
}

// fakeStat treats paths without an extension as directories and fails for
// anything listed in gone.
func fakeStat(gone ...string) disambig.StatFunc {
	return func(path string) (bool, error) {
		for _, g := range gone {
			if g == path {
				return false, errors.New("no such file")
			}
		}
		return !strings.Contains(path[strings.LastIndex(path, "/")+1:], "."), nil
	}
}

func setup(t *testing.T, gone ...string) (*disambig.Disambiguator, *testutil.FakeClock, *recorder) {
	t.Helper()
	clock := testutil.NewFakeClock()
	rec := &recorder{}
	d := disambig.New(disambig.Config{
		Clock:  clock,
		Stat:   fakeStat(gone...),
		Ignore: func(p string) bool { return strings.Contains(p, "/.storyteller") },
	}, rec.handle)
	return d, clock, rec
}

func TestRenameAndMoveClassification(t *testing.T) {
	tests := []struct {
		name    string
		created string
		deleted string
		want    disambig.Decision
	}{
		{
			name:    "rename in same directory",
			created: "/proj/new.txt",
			deleted: "/proj/old.txt",
			want:    disambig.Decision{Op: disambig.OpRename, Path: "/proj/new.txt", OldPath: "/proj/old.txt"},
		},
		{
			name:    "move to other directory",
			created: "/other/new.txt",
			deleted: "/proj/old.txt",
			want:    disambig.Decision{Op: disambig.OpMove, Path: "/other/new.txt", OldPath: "/proj/old.txt"},
		},
		{
			name:    "move keeping name",
			created: "/proj/sub/old.txt",
			deleted: "/proj/old.txt",
			want:    disambig.Decision{Op: disambig.OpMove, Path: "/proj/sub/old.txt", OldPath: "/proj/old.txt"},
		},
		{
			name:    "directory rename",
			created: "/proj/lib",
			deleted: "/proj/src",
			want:    disambig.Decision{Op: disambig.OpRename, Path: "/proj/lib", OldPath: "/proj/src", Dir: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, clock, rec := setup(t)
			d.Created(tt.created)
			clock.Advance(5 * time.Millisecond)
			d.Deleted(tt.deleted)

			assert.Equal(t, []disambig.Decision{tt.want}, rec.all())
			assert.Empty(t, d.Pending())

			// The cancelled timer never produces a create.
			clock.Advance(time.Second)
			assert.Len(t, rec.all(), 1)
		})
	}
}

func TestGenuineCreateAfterWindow(t *testing.T) {
	d, clock, rec := setup(t)
	d.Created("/proj/a.txt")
	d.Created("/proj/dir")
	assert.Equal(t, []string{"/proj/a.txt", "/proj/dir"}, d.Pending())

	clock.Advance(disambig.DefaultWindow - time.Millisecond)
	assert.Empty(t, rec.all())

	clock.Advance(time.Millisecond)
	assert.Equal(t, []disambig.Decision{
		{Op: disambig.OpCreate, Path: "/proj/a.txt"},
		{Op: disambig.OpCreate, Path: "/proj/dir", Dir: true},
	}, rec.all())

	// A delete after the window is a genuine delete.
	d.Deleted("/proj/a.txt")
	assert.Equal(t, disambig.Decision{Op: disambig.OpDelete, Path: "/proj/a.txt"}, rec.all()[2])
}

func TestFIFOPairing(t *testing.T) {
	d, clock, rec := setup(t)
	d.Created("/proj/first.txt")
	d.Created("/proj/other/second.txt")
	d.Deleted("/proj/old.txt")

	// The oldest create is paired, whatever the names say.
	require.Len(t, rec.all(), 1)
	assert.Equal(t, disambig.OpRename, rec.all()[0].Op)
	assert.Equal(t, "/proj/first.txt", rec.all()[0].Path)

	clock.Advance(disambig.DefaultWindow)
	assert.Equal(t, disambig.Decision{Op: disambig.OpCreate, Path: "/proj/other/second.txt"}, rec.all()[1])
}

func TestIgnoredAndVanishedPaths(t *testing.T) {
	d, clock, rec := setup(t, "/proj/tmp.txt")
	d.Created("/proj/.storyteller/events.db")
	d.Deleted("/proj/.storyteller/events.db-journal")
	assert.Empty(t, d.Pending())

	// A create whose path is gone when the window closes is dropped.
	d.Created("/proj/tmp.txt")
	clock.Advance(disambig.DefaultWindow)
	assert.Empty(t, rec.all())

	// Created and deleted within the window: nothing happened.
	d.Created("/proj/flash.txt")
	d.Deleted("/proj/flash.txt")
	clock.Advance(disambig.DefaultWindow)
	assert.Empty(t, rec.all())

	// Paired with a create that vanished: the delete stands alone.
	d.Created("/proj/tmp.txt")
	d.Deleted("/proj/old.txt")
	assert.Equal(t, []disambig.Decision{{Op: disambig.OpDelete, Path: "/proj/old.txt"}}, rec.all())
}

func TestFlushAndClose(t *testing.T) {
	d, clock, rec := setup(t)
	d.Created("/proj/a.txt")
	d.Created("/proj/a.txt")
	assert.Equal(t, []string{"/proj/a.txt"}, d.Pending())

	d.Close()
	assert.Equal(t, []disambig.Decision{{Op: disambig.OpCreate, Path: "/proj/a.txt"}}, rec.all())
	assert.Equal(t, 0, clock.Waiting())

	d.Created("/proj/b.txt")
	d.Deleted("/proj/c.txt")
	clock.Advance(time.Second)
	assert.Len(t, rec.all(), 1)
}

func TestCustomWindow(t *testing.T) {
	clock := testutil.NewFakeClock()
	rec := &recorder{}
	d := disambig.New(disambig.Config{Window: 50 * time.Millisecond, Clock: clock, Stat: fakeStat()}, rec.handle)

	d.Created("/proj/a.txt")
	clock.Advance(20 * time.Millisecond)
	d.Deleted("/proj/b.txt")
	require.Len(t, rec.all(), 1)
	assert.Equal(t, disambig.OpRename, rec.all()[0].Op)
}
