// Package tune is the editing session over one definition and one bin image.
//
// A Session owns the image bytes. Reads may run concurrently; each write
// holds the lock for its own duration only. Callers never see the live
// buffer: Snapshot returns a copy.
package tune

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tosih/xdftune/pkg/binimage"
	"github.com/tosih/xdftune/pkg/journal"
	"github.com/tosih/xdftune/pkg/layout"
	"github.com/tosih/xdftune/pkg/logging"
	"github.com/tosih/xdftune/pkg/xdf"
)

// RangePolicy decides what a write outside the allowed range does.
type RangePolicy int

const (
	// RangeReject fails the write with ErrValueOutOfRange.
	RangeReject RangePolicy = iota
	// RangeClamp stores the nearest allowed value instead.
	RangeClamp
)

func (p RangePolicy) String() string {
	if p == RangeClamp {
		return "clamp"
	}
	return "reject"
}

// ParseRangePolicy accepts "reject" and "clamp".
func ParseRangePolicy(s string) (RangePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return RangeReject, nil
	case "clamp":
		return RangeClamp, nil
	}
	return RangeReject, fmt.Errorf("unknown range policy %q", s)
}

// Options configure a session. The zero value rejects out-of-range writes,
// logs nowhere and keeps no journal.
type Options struct {
	RangePolicy RangePolicy
	Layout      layout.Options
	Logger      *zap.Logger
	Journal     journal.Journal
	// UpdateChecksums recomputes declared checksums on Save.
	UpdateChecksums bool
	// Backup copies an existing target aside before Save overwrites it.
	Backup    bool
	BackupDir string
}

// Session is the live, mutable tune.
type Session struct {
	mu      sync.RWMutex
	id      string
	def     *xdf.Definition
	img     *binimage.Image
	layout  *layout.Layout
	report  *layout.Report
	opts    Options
	log     *zap.Logger
	journal journal.Journal
	dirty   bool
}

// Open parses the definition and loads the bin. On failure no session is
// returned. The parse report is returned whenever parsing got that far.
func Open(defPath, binPath string, opts Options) (*Session, *xdf.Report, error) {
	def, rep, err := xdf.ParseFile(defPath)
	if err != nil {
		return nil, nil, &IOError{Op: "load definition", Path: defPath, Err: err}
	}
	img, err := binimage.Load(binPath)
	if err != nil {
		return nil, rep, &IOError{Op: "load image", Path: binPath, Err: err}
	}
	return New(def, img, opts), rep, nil
}

// New starts a session over def and img. The session takes ownership of img.
func New(def *xdf.Definition, img *binimage.Image, opts Options) *Session {
	s := &Session{
		id:      uuid.NewString(),
		def:     def,
		img:     img,
		opts:    opts,
		log:     logging.OrNop(opts.Logger),
		journal: opts.Journal,
	}
	if s.journal == nil {
		s.journal = journal.Nop{}
	}
	s.layout, s.report = layout.Resolve(def, img.Len(), opts.Layout)
	s.log = s.log.With(zap.String("session", s.id))
	s.log.Debug("session started",
		zap.String("definition", def.Info.Title),
		zap.Int("image_bytes", img.Len()),
		zap.Int("resolved", s.layout.Len()),
		zap.Int("unresolved", len(s.report.Errors)),
	)
	return s
}

// ID is the session identifier written to the journal.
func (s *Session) ID() string { return s.id }

// Definition is the parsed definition. It must not be modified.
func (s *Session) Definition() *xdf.Definition { return s.def }

// Layout is the current resolved layout.
func (s *Session) Layout() *layout.Layout {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layout
}

// Resolution lists the item parts that could not be placed in the image.
func (s *Session) Resolution() *layout.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report
}

// Categories is the navigation listing of the definition.
func (s *Session) Categories() []xdf.CategoryListing { return s.def.Categorized() }

// Items lists every item of the definition.
func (s *Session) Items() []xdf.Item { return s.def.Items() }

// Find resolves an identifier or title.
func (s *Session) Find(key string) (xdf.Item, error) {
	it, ok := s.def.Find(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownItem, key)
	}
	return it, nil
}

// Dirty reports whether the image has changes not yet saved.
func (s *Session) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Len is the image size.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.img.Len()
}

// Snapshot copies the current image.
func (s *Session) Snapshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.img.Clone()
}

// Replace swaps in a new image and resolves the layout again. The session
// is clean afterwards. The error is a journal failure only.
func (s *Session) Replace(img *binimage.Image) (*layout.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.img = img
	s.layout, s.report = layout.Resolve(s.def, img.Len(), s.opts.Layout)
	s.dirty = false
	s.log.Info("image replaced", zap.Int("image_bytes", img.Len()), zap.Int("unresolved", len(s.report.Errors)))
	return s.report, s.record(journal.Entry{Kind: journal.KindReplace})
}

// record appends to the journal. A journal failure is logged and returned;
// the image change it describes has already happened.
func (s *Session) record(e journal.Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = now()
	}
	e.Session = s.id
	if err := s.journal.Record(e); err != nil {
		s.log.Warn("journal write failed", zap.Error(err))
		return err
	}
	return nil
}

// Close releases the journal.
func (s *Session) Close() error {
	return s.journal.Close()
}
