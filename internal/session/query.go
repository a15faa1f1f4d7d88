package session

import (
	"context"

	"storyteller/internal/content"
	"storyteller/internal/event"
	"storyteller/internal/playback"
	"storyteller/internal/reconcile"
	"storyteller/internal/tree"
)

// Len returns the number of recorded events.
func (s *Session) Len() int { return s.log.Len() }

// Events returns a copy of the recorded events.
func (s *Session) Events() []event.Event { return s.log.Events() }

// Playback returns a playback engine over the history as it is now. Later
// captures do not show up in it.
func (s *Session) Playback() (*playback.Engine, error) {
	s.mu.Lock()
	snap := s.log.Snapshot()
	s.mu.Unlock()
	return playback.New(snap, playback.WithSkipIrrelevant(s.opts.SkipIrrelevant))
}

// FileContentAt returns the text of a file after the first pos events.
func (s *Session) FileContentAt(fileID string, pos int) (string, error) {
	e, err := s.Playback()
	if err != nil {
		return "", err
	}
	return e.FileContentAt(fileID, pos)
}

// DirectoryTreeAt returns the visible tree after the first pos events.
func (s *Session) DirectoryTreeAt(pos int) ([]tree.Entry, error) {
	e, err := s.Playback()
	if err != nil {
		return nil, err
	}
	return e.TreeAt(pos)
}

// Lookup resolves a tracked project path in the live model.
func (s *Session) Lookup(path string) (tree.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Lookup(path)
}

// Tree returns the live tree.
func (s *Session) Tree() []tree.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Model().Tree().Entries()
}

// Content returns the live text of the file at path.
func (s *Session) Content(path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.rec.Lookup(path)
	if err != nil {
		return "", err
	}
	return s.rec.Model().Content(e.ID)
}

// InsertEventsInRange returns the live characters between two positions of
// the file at path with the events that placed and authored them.
func (s *Session) InsertEventsInRange(path string, startLine, startCol, endLine, endCol int) ([]content.Char, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Selection(path, startLine, startCol, endLine, endCol)
}

// FindDiscrepancies compares the history with the project on disk. Waiting
// creates are recorded first.
func (s *Session) FindDiscrepancies(ctx context.Context) (reconcile.Discrepancies, error) {
	s.Flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return reconcile.Discrepancies{}, err
	}
	return s.recon.Find(ctx)
}

// Resolve settles one discrepancy. key is a node id for modified and
// missing entries and a project path for untracked ones.
func (s *Session) Resolve(ctx context.Context, c reconcile.Category, key string, p reconcile.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	return s.check(s.recon.Resolve(ctx, c, key, p))
}

// ResolveAll settles every discrepancy in d following plan.
func (s *Session) ResolveAll(ctx context.Context, d reconcile.Discrepancies, plan reconcile.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	return s.check(s.recon.ResolveAll(ctx, d, plan))
}

// Verify checks that the history and the project on disk agree.
func (s *Session) Verify(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recon.Verify(ctx)
}

// Path returns the last known project path of a tracked node, which is
// still known for nodes that are missing on disk.
func (s *Session) Path(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Model().Tree().Path(id)
}
