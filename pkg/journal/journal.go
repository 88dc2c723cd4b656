// Package journal keeps an append-only CBOR record of the edits made to a
// bin image.
package journal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

var ErrClosed = errors.New("journal: closed")

// Kind is what an entry records.
type Kind uint8

const (
	KindWrite Kind = iota + 1
	KindChecksum
	KindSave
	KindReplace
)

func (k Kind) String() string {
	switch k {
	case KindWrite:
		return "write"
	case KindChecksum:
		return "checksum"
	case KindSave:
		return "save"
	case KindReplace:
		return "replace"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind accepts the names String returns.
func ParseKind(s string) (Kind, error) {
	for k := KindWrite; k <= KindReplace; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("journal: unknown entry kind %q", s)
}

// Entry is one journaled event. Before and After hold the raw bytes of the
// touched range so an edit can be traced back to the image.
type Entry struct {
	Timestamp time.Time `cbor:"1,keyasint"`
	Session   string    `cbor:"2,keyasint"`
	Kind      Kind      `cbor:"3,keyasint"`
	ItemID    string    `cbor:"4,keyasint,omitempty"`
	Title     string    `cbor:"5,keyasint,omitempty"`
	Part      string    `cbor:"6,keyasint,omitempty"`
	Row       int       `cbor:"7,keyasint,omitempty"`
	Col       int       `cbor:"8,keyasint,omitempty"`
	Offset    int       `cbor:"9,keyasint,omitempty"`
	Before    []byte    `cbor:"10,keyasint,omitempty"`
	After     []byte    `cbor:"11,keyasint,omitempty"`
	Value     float64   `cbor:"12,keyasint,omitempty"`
	Path      string    `cbor:"13,keyasint,omitempty"`
}

func (e Entry) String() string {
	ts := e.Timestamp.Format(time.RFC3339)
	switch e.Kind {
	case KindWrite:
		return fmt.Sprintf("%s %s %s %q [%s %d,%d] = %g at 0x%X: % X -> % X",
			ts, e.Kind, e.ItemID, e.Title, e.Part, e.Row, e.Col, e.Value, e.Offset, e.Before, e.After)
	case KindChecksum:
		return fmt.Sprintf("%s %s %s at 0x%X: % X -> % X", ts, e.Kind, e.ItemID, e.Offset, e.Before, e.After)
	default:
		return fmt.Sprintf("%s %s %s", ts, e.Kind, e.Path)
	}
}

// Journal receives entries. Record returns an error rather than dropping an
// entry.
type Journal interface {
	Record(Entry) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(Entry) error { return nil }
func (Nop) Close() error       { return nil }

// Memory keeps entries in memory.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *Memory) Record(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) Close() error { return nil }

// Entries returns a copy of what was recorded.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// File appends entries to a CBOR file. It is safe for concurrent use.
type File struct {
	mu     sync.Mutex
	file   *os.File
	enc    *cbor.Encoder
	closed bool
}

// OpenFile opens path for appending, creating it with mode 0644.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &File{file: f, enc: newEncoder(f)}, nil
}

func (j *File) Record(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}
	if err := j.enc.Encode(e); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}

// Close is safe to call more than once.
func (j *File) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	return j.file.Close()
}

var (
	_ Journal = Nop{}
	_ Journal = (*Memory)(nil)
	_ Journal = (*File)(nil)
)

// Filter selects entries. Zero fields match everything.
type Filter struct {
	Session string
	ItemID  string
	Kind    Kind
	Since   time.Time
}

func (f Filter) matches(e Entry) bool {
	if f.Session != "" && e.Session != f.Session {
		return false
	}
	if f.ItemID != "" && e.ItemID != f.ItemID {
		return false
	}
	if f.Kind != 0 && e.Kind != f.Kind {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Reader streams entries from a journal file.
type Reader struct {
	file   *os.File
	dec    *cbor.Decoder
	filter Filter
}

// NewReader opens path and yields the entries matching filter.
func NewReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: f, dec: newDecoder(f), filter: filter}, nil
}

// Next returns the next matching entry or io.EOF.
func (r *Reader) Next() (Entry, error) {
	for {
		var e Entry
		if err := r.dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return Entry{}, io.EOF
			}
			return Entry{}, fmt.Errorf("journal: %w", err)
		}
		if r.filter.matches(e) {
			return e, nil
		}
	}
}

func (r *Reader) Close() error { return r.file.Close() }

// ReadAll returns every matching entry in path.
func ReadAll(path string, filter Filter) ([]Entry, error) {
	r, err := NewReader(path, filter)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	var out []Entry
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
}
