package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"storyteller/internal/capture"
	"storyteller/internal/disambig"
	"storyteller/internal/event"
	"storyteller/internal/tree"
)

// HandleInsertedText records text typed or pasted into the file at path.
// While a paste is pending the clipboard decides the provenance of the
// text; otherwise it is fresh text by the active developer group.
func (s *Session) HandleInsertedText(ctx context.Context, path string, line, column int, text string) ([]event.Event, error) {
	in := capture.Insertion{Line: line, Column: column, Text: text}
	if s.clip.Pasting() {
		attr := s.clip.Resolve(text)
		in.Provenance = attr.EventIDs
		in.External = attr.External
	}
	return s.insert(ctx, path, in)
}

// HandleInsertedTextWithProvenance records text whose authoring event ids
// the caller already knows, one per character.
func (s *Session) HandleInsertedTextWithProvenance(ctx context.Context, path string, line, column int, text string, provenance []string) ([]event.Event, error) {
	return s.insert(ctx, path, capture.Insertion{Line: line, Column: column, Text: text, Provenance: provenance})
}

func (s *Session) insert(ctx context.Context, path string, in capture.Insertion) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	evs, err := s.rec.Insert(ctx, path, in)
	return evs, s.check(err)
}

// HandleDeletedText records the removal of count characters at (line, column).
func (s *Session) HandleDeletedText(ctx context.Context, path string, line, column, count int) (event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return event.Event{}, err
	}
	ev, err := s.rec.Delete(ctx, path, line, column, count)
	return ev, s.check(err)
}

// HandleReplacedText records a replaced selection: a delete of count
// characters followed by the insertion of text at the same position.
func (s *Session) HandleReplacedText(ctx context.Context, path string, line, column, count int, text string) ([]event.Event, error) {
	var out []event.Event
	if count > 0 {
		ev, err := s.HandleDeletedText(ctx, path, line, column, count)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if text == "" {
		return out, nil
	}
	evs, err := s.HandleInsertedText(ctx, path, line, column, text)
	return append(out, evs...), err
}

// HandleFileCreated reports a raw create of the file system path name.
// The event is recorded once the disambiguation window has passed.
func (s *Session) HandleFileCreated(name string) {
	s.dis.Created(s.abs(name))
}

// HandleFileOrDirDeleted reports a raw delete of the file system path name.
func (s *Session) HandleFileOrDirDeleted(name string) {
	s.dis.Deleted(s.abs(name))
}

// Created and Deleted let the session act as a watcher sink.
func (s *Session) Created(name string) { s.HandleFileCreated(name) }
func (s *Session) Deleted(name string) { s.HandleFileOrDirDeleted(name) }

func (s *Session) abs(name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(s.opts.Root, name)
}

// Flush records every create still waiting for a matching delete.
func (s *Session) Flush() {
	s.dis.Flush()
}

// PendingCreates returns the creates waiting for a matching delete.
func (s *Session) PendingCreates() []string {
	return s.dis.Pending()
}

// decide applies one disambiguator decision.
func (s *Session) decide(dec disambig.Decision) {
	s.mu.Lock()
	err := s.usable()
	if err == nil {
		err = s.check(s.applyDecision(context.Background(), dec))
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("filesystem change not recorded",
			"op", dec.Op.String(), "path", dec.Path, "old_path", dec.OldPath, "error", err)
	}
	if s.opts.OnDecision != nil {
		s.opts.OnDecision(dec, err)
	}
}

func (s *Session) applyDecision(ctx context.Context, dec disambig.Decision) error {
	p, err := tree.FromOS(s.opts.Root, dec.Path)
	if err != nil {
		return err
	}

	switch dec.Op {
	case disambig.OpCreate:
		return s.createFromDisk(ctx, p, dec.Path, dec.Dir)

	case disambig.OpDelete:
		_, err := s.rec.Remove(ctx, p)
		if errors.Is(err, capture.ErrUntracked) {
			s.logger.Debug("delete of untracked path", "path", p)
			return nil
		}
		return err

	case disambig.OpMove, disambig.OpRename:
		old, err := tree.FromOS(s.opts.Root, dec.OldPath)
		if err != nil {
			return err
		}
		if _, err := s.rec.Lookup(old); errors.Is(err, capture.ErrUntracked) {
			// Nothing known moved, so something new appeared.
			return s.createFromDisk(ctx, p, dec.Path, dec.Dir)
		}
		if _, err := s.rec.Lookup(p); err == nil {
			// The move replaced the node that was there.
			if _, err := s.rec.Remove(ctx, p); err != nil {
				return err
			}
		}
		_, err = s.rec.Relocate(ctx, old, p)
		return err
	}
	return fmt.Errorf("unknown decision %s", dec.Op)
}

// createFromDisk records a new node at p together with anything already
// inside it, since the watcher misses entries created before it watches a
// new directory.
func (s *Session) createFromDisk(ctx context.Context, p, name string, isDir bool) error {
	if !isDir {
		return s.importFile(ctx, p, name)
	}
	if _, err := s.rec.CreateDirectory(ctx, p); err != nil {
		if errors.Is(err, capture.ErrExists) {
			return nil
		}
		return err
	}
	return filepath.WalkDir(name, func(sub string, d fs.DirEntry, err error) error {
		if err != nil || sub == name {
			return err
		}
		rel, err := tree.FromOS(s.opts.Root, sub)
		if err != nil {
			return err
		}
		if s.Ignored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if _, err := s.rec.CreateDirectory(ctx, rel); err != nil && !errors.Is(err, capture.ErrExists) {
				return err
			}
			return nil
		}
		return s.importFile(ctx, rel, sub)
	})
}

// importFile records the file at p with its disk content. A file that is
// already tracked, as after an editor's write-and-rename save, is brought
// up to date instead.
func (s *Session) importFile(ctx context.Context, p, name string) error {
	data, err := os.ReadFile(name)
	if err != nil {
		return err
	}
	if !utf8.Valid(data) {
		s.logger.Warn("skipping file that is not UTF-8 text", "path", p)
		return nil
	}
	if e, err := s.rec.Lookup(p); err == nil {
		if e.Kind != tree.File {
			return fmt.Errorf("%w: %s", capture.ErrNotFile, p)
		}
		return s.rec.Rewrite(ctx, p, string(data))
	}
	return s.rec.ImportFile(ctx, p, string(data))
}

// SaveMarker records an explicit checkpoint.
func (s *Session) SaveMarker(ctx context.Context) (event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return event.Event{}, err
	}
	return s.saveMarker(ctx, true)
}

// saveMarker records a checkpoint. The caller holds s.mu.
func (s *Session) saveMarker(ctx context.Context, explicit bool) (event.Event, error) {
	ev, err := s.rec.SaveMarker(ctx, explicit)
	if err != nil {
		return event.Event{}, s.check(err)
	}
	s.lastMarked = s.log.Len()
	return ev, nil
}

// OnCopyOrCut snapshots the selection for a later paste, together with the
// authoring event of each selected character.
func (s *Session) OnCopyOrCut(path string, startLine, startCol, endLine, endCol int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	chars, err := s.rec.Selection(path, startLine, startCol, endLine, endCol)
	if err != nil {
		return err
	}
	var text strings.Builder
	ids := make([]string, len(chars))
	for i, c := range chars {
		text.WriteRune(c.Rune)
		ids[i] = c.OriginatingEventID
	}
	s.clip.Copy(text.String(), ids)
	return nil
}

// OnPasteBegin marks the next inserted text as a paste.
func (s *Session) OnPasteBegin() {
	s.clip.BeginPaste()
}
