// Package wal implements an append-only journal file for history events.
//
// Each entry holds one JSON-encoded event and is framed with its length, a
// hash of the previous entry and a CRC32. A torn entry at the tail, left by a
// crash during a write, is cut off when the journal is reopened; damage
// anywhere before the tail is reported as corruption.
package wal

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"storyteller/internal/event"
)

// Version and magic constants
const (
	Version    = 1
	Magic      = "STWL"
	HeaderSize = 32
)

// Errors
var (
	ErrInvalidMagic   = errors.New("wal: invalid magic number")
	ErrInvalidVersion = errors.New("wal: unsupported version")
	ErrCorruptedEntry = errors.New("wal: corrupted entry (CRC mismatch)")
	ErrBrokenChain    = errors.New("wal: broken hash chain")
	ErrWALClosed      = errors.New("wal: log is closed")
	ErrSequenceGap    = errors.New("wal: sequence number gap detected")
)

// fixed part of a frame: length, sequence, payload length, prev hash, crc
const frameOverhead = 4 + 8 + 4 + 32 + 4

// Entry is a single journal entry.
type Entry struct {
	// Length of the entire entry (for seeking)
	Length uint32

	// Event sequence number
	Sequence uint64

	// JSON-encoded event
	Payload []byte

	// Hash of previous entry (chain link)
	PrevHash [32]byte

	// CRC32 for corruption detection
	CRC32 uint32
}

// WAL is an event journal. It implements the event log's storage backend.
type WAL struct {
	mu sync.Mutex

	path      string
	file      *os.File
	createdAt time.Time

	nextSequence uint64
	lastHash     [32]byte
	closed       bool

	// Stats
	entryCount uint64
	byteCount  int64
	tornBytes  int64
}

// Open opens or creates a journal file. A torn tail is truncated.
func Open(path string) (*WAL, error) {
	if path == "" {
		return nil, fmt.Errorf("wal: empty journal path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create wal directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open wal file: %w", err)
	}

	w := &WAL{
		path: path,
		file: file,
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat wal file: %w", err)
	}

	if stat.Size() == 0 {
		if err := w.writeHeader(); err != nil {
			file.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
		w.byteCount = HeaderSize
		if _, err := file.Seek(HeaderSize, io.SeekStart); err != nil {
			file.Close()
			return nil, fmt.Errorf("seek after header: %w", err)
		}
		return w, nil
	}

	if err := w.readHeader(); err != nil {
		file.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}
	if err := w.scanToEnd(stat.Size()); err != nil {
		file.Close()
		return nil, fmt.Errorf("scan wal: %w", err)
	}
	return w, nil
}

func (w *WAL) writeHeader() error {
	w.createdAt = time.Now()

	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic)
	binary.BigEndian.PutUint32(buf[4:8], Version)
	binary.BigEndian.PutUint64(buf[8:16], uint64(w.createdAt.UnixNano()))
	// Reserved bytes 16-32 are zero

	if _, err := w.file.WriteAt(buf, 0); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *WAL) readHeader() error {
	buf := make([]byte, HeaderSize)
	if _, err := w.file.ReadAt(buf, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrInvalidMagic
		}
		return err
	}
	if string(buf[0:4]) != Magic {
		return ErrInvalidMagic
	}
	version := binary.BigEndian.Uint32(buf[4:8])
	if version != Version {
		return fmt.Errorf("%w: got %d, expected %d", ErrInvalidVersion, version, Version)
	}
	w.createdAt = time.Unix(0, int64(binary.BigEndian.Uint64(buf[8:16])))
	return nil
}

// scanToEnd walks the entries and cuts a torn tail off the file.
func (w *WAL) scanToEnd(size int64) error {
	offset, err := w.scan(size)
	if err != nil {
		return err
	}
	if offset < size {
		w.tornBytes = size - offset
		if err := w.file.Truncate(offset); err != nil {
			return fmt.Errorf("truncate torn tail: %w", err)
		}
		if err := w.file.Sync(); err != nil {
			return err
		}
	}
	w.byteCount = offset
	_, err = w.file.Seek(offset, io.SeekStart)
	return err
}

// scan reads entries from the header on and returns the offset just past
// the last good one. An unreadable entry that is not at the tail is an error.
func (w *WAL) scan(size int64) (int64, error) {
	offset := int64(HeaderSize)
	for offset < size {
		entry, err := w.readEntryAt(offset)
		if err != nil {
			if !w.isTail(offset, size) {
				return offset, fmt.Errorf("offset %d: %w", offset, err)
			}
			break
		}
		if entry.PrevHash != w.lastHash {
			return offset, fmt.Errorf("entry %d: %w", entry.Sequence, ErrBrokenChain)
		}
		if entry.Sequence != w.nextSequence {
			return offset, fmt.Errorf("%w: entry %d, expected %d", ErrSequenceGap, entry.Sequence, w.nextSequence)
		}
		w.nextSequence = entry.Sequence + 1
		w.lastHash = entry.Hash()
		w.entryCount++
		offset += int64(entry.Length)
	}
	return offset, nil
}

// Report describes a journal file without modifying it.
type Report struct {
	Entries   uint64
	Size      int64
	TornBytes int64
	CreatedAt time.Time
}

// Inspect checks the journal at path read-only. A torn tail is reported in
// the result; any other damage is returned as an error.
func Inspect(path string) (Report, error) {
	file, err := os.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("open wal file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return Report{}, fmt.Errorf("stat wal file: %w", err)
	}
	w := &WAL{path: path, file: file}
	if err := w.readHeader(); err != nil {
		return Report{}, err
	}
	offset, err := w.scan(stat.Size())
	if err != nil {
		return Report{}, err
	}
	return Report{
		Entries:   w.entryCount,
		Size:      stat.Size(),
		TornBytes: stat.Size() - offset,
		CreatedAt: w.createdAt,
	}, nil
}

// isTail reports whether the unreadable frame at offset is the last thing in
// the file, as a write cut short by a crash would be.
func (w *WAL) isTail(offset, size int64) bool {
	if size-offset < 4 {
		return true
	}
	lenBuf := make([]byte, 4)
	if _, err := w.file.ReadAt(lenBuf, offset); err != nil {
		return true
	}
	n := int64(binary.BigEndian.Uint32(lenBuf))
	return n < frameOverhead || offset+n >= size
}

// readEntryAt reads and checks the entry starting at offset. It returns
// io.EOF at the end of the file.
func (w *WAL) readEntryAt(offset int64) (*Entry, error) {
	lenBuf := make([]byte, 4)
	if _, err := w.file.ReadAt(lenBuf, offset); err != nil {
		return nil, err
	}
	entryLen := binary.BigEndian.Uint32(lenBuf)
	if entryLen < frameOverhead {
		return nil, ErrCorruptedEntry
	}

	entryBuf := make([]byte, entryLen)
	if _, err := w.file.ReadAt(entryBuf, offset); err != nil {
		return nil, err
	}
	entry, err := deserializeEntry(entryBuf)
	if err != nil {
		return nil, err
	}
	if entry.CRC32 != computeEntryCRC(entry) {
		return nil, fmt.Errorf("entry %d: %w", entry.Sequence, ErrCorruptedEntry)
	}
	return entry, nil
}

// Append writes ev as the next entry and syncs it to disk.
func (w *WAL) Append(_ context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}
	if ev.Sequence < 0 || uint64(ev.Sequence) != w.nextSequence {
		return fmt.Errorf("%w: append %d, next is %d", ErrSequenceGap, ev.Sequence, w.nextSequence)
	}

	entry := &Entry{
		Sequence: w.nextSequence,
		Payload:  payload,
		PrevHash: w.lastHash,
	}
	entry.CRC32 = computeEntryCRC(entry)
	data := serializeEntry(entry)
	entry.Length = uint32(len(data))

	if _, err := w.file.Write(data); err != nil {
		// Drop whatever part of the frame made it to disk.
		_ = w.file.Truncate(w.byteCount)
		_, _ = w.file.Seek(w.byteCount, io.SeekStart)
		return fmt.Errorf("write entry: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync entry: %w", err)
	}

	w.lastHash = entry.Hash()
	w.nextSequence++
	w.entryCount++
	w.byteCount += int64(len(data))
	return nil
}

// ReadAll reads every entry, verifying checksums and the hash chain.
func (w *WAL) ReadAll() ([]Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrWALClosed
	}
	return w.readEntries()
}

func (w *WAL) readEntries() ([]Entry, error) {
	var entries []Entry
	var prevHash [32]byte
	offset := int64(HeaderSize)

	for offset < w.byteCount {
		entry, err := w.readEntryAt(offset)
		if err != nil {
			return nil, fmt.Errorf("entry at offset %d: %w", offset, err)
		}
		if entry.PrevHash != prevHash {
			return nil, fmt.Errorf("entry %d: %w", entry.Sequence, ErrBrokenChain)
		}
		if entry.Sequence != uint64(len(entries)) {
			return nil, fmt.Errorf("%w: entry %d at position %d", ErrSequenceGap, entry.Sequence, len(entries))
		}
		entries = append(entries, *entry)
		prevHash = entry.Hash()
		offset += int64(entry.Length)
	}
	return entries, nil
}

// Load decodes every event in the journal.
func (w *WAL) Load(context.Context) ([]event.Event, error) {
	entries, err := w.ReadAll()
	if err != nil {
		return nil, err
	}
	events := make([]event.Event, 0, len(entries))
	for _, e := range entries {
		var ev event.Event
		if err := json.Unmarshal(e.Payload, &ev); err != nil {
			return nil, fmt.Errorf("decode entry %d: %w", e.Sequence, err)
		}
		if ev.Sequence != int64(e.Sequence) {
			return nil, fmt.Errorf("%w: entry %d holds event %d", ErrSequenceGap, e.Sequence, ev.Sequence)
		}
		events = append(events, ev)
	}
	return events, nil
}

// Hash computes the hash of an entry (for chain linking).
func (e *Entry) Hash() [32]byte {
	h := sha256.New()

	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], e.Sequence)
	h.Write(seqBuf[:])
	h.Write(e.Payload)
	h.Write(e.PrevHash[:])

	var result [32]byte
	copy(result[:], h.Sum(nil))
	return result
}

func computeEntryCRC(entry *Entry) uint32 {
	crc := crc32.NewIEEE()

	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], entry.Sequence)
	crc.Write(seqBuf[:])
	crc.Write(entry.Payload)
	crc.Write(entry.PrevHash[:])

	return crc.Sum32()
}

func serializeEntry(entry *Entry) []byte {
	size := frameOverhead + len(entry.Payload)
	buf := make([]byte, size)
	offset := 0

	binary.BigEndian.PutUint32(buf[offset:], uint32(size))
	offset += 4

	binary.BigEndian.PutUint64(buf[offset:], entry.Sequence)
	offset += 8

	binary.BigEndian.PutUint32(buf[offset:], uint32(len(entry.Payload)))
	offset += 4
	copy(buf[offset:], entry.Payload)
	offset += len(entry.Payload)

	copy(buf[offset:], entry.PrevHash[:])
	offset += 32

	binary.BigEndian.PutUint32(buf[offset:], entry.CRC32)
	return buf
}

func deserializeEntry(data []byte) (*Entry, error) {
	if len(data) < frameOverhead {
		return nil, errors.New("entry too short")
	}

	entry := &Entry{}
	offset := 0

	entry.Length = binary.BigEndian.Uint32(data[offset:])
	offset += 4

	entry.Sequence = binary.BigEndian.Uint64(data[offset:])
	offset += 8

	payloadLen := binary.BigEndian.Uint32(data[offset:])
	offset += 4
	if uint32(len(data)) != entry.Length || int(payloadLen) != len(data)-frameOverhead {
		return nil, errors.New("entry truncated")
	}

	entry.Payload = make([]byte, payloadLen)
	copy(entry.Payload, data[offset:offset+int(payloadLen)])
	offset += int(payloadLen)

	copy(entry.PrevHash[:], data[offset:offset+32])
	offset += 32

	entry.CRC32 = binary.BigEndian.Uint32(data[offset:])
	return entry, nil
}

// Size returns the current journal size in bytes.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.byteCount
}

// EntryCount returns the number of entries in the journal.
func (w *WAL) EntryCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entryCount
}

// TornBytes reports how many bytes were cut from the tail on open.
func (w *WAL) TornBytes() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tornBytes
}

// CreatedAt returns when the journal file was started.
func (w *WAL) CreatedAt() time.Time { return w.createdAt }

// Close closes the journal file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// Path returns the journal file path.
func (w *WAL) Path() string {
	return w.path
}

// Exists checks if a journal file exists at the given path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
