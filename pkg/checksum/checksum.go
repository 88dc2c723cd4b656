// Package checksum recomputes the integrity checksums a definition declares.
package checksum

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/tosih/xdftune/pkg/binimage"
	"github.com/tosih/xdftune/pkg/xdf"
)

var (
	ErrUnsupportedChecksum = errors.New("checksum: unsupported algorithm")
	ErrOutOfBounds         = binimage.ErrOutOfBounds
)

// OffsetFunc maps a definition address to a file offset.
type OffsetFunc func(addr int64) int64

// Identity uses addresses as file offsets.
func Identity(addr int64) int64 { return addr }

// Result describes one checksum after Apply or Verify.
type Result struct {
	ID        string
	Title     string
	Algorithm string
	Offset    int
	Stored    uint64
	Computed  uint64
}

// OK reports whether the stored value matches.
func (r Result) OK() bool { return r.Stored == r.Computed }

func (r Result) String() string {
	state := "ok"
	if !r.OK() {
		state = "mismatch"
	}
	return fmt.Sprintf("%s %s at 0x%X: stored 0x%X computed 0x%X (%s)", r.ID, r.Algorithm, r.Offset, r.Stored, r.Computed, state)
}

type plan struct {
	algo  Algorithm
	store binimage.Element
	at    int
	spans [][2]int // half-open
}

func prepare(img *binimage.Image, cs *xdf.Checksum, offset OffsetFunc) (*plan, error) {
	algo, ok := Lookup(cs.Algorithm)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedChecksum, cs.Algorithm)
	}
	if offset == nil {
		offset = Identity
	}
	p := &plan{
		algo: algo,
		store: binimage.Element{
			Size:  cs.Store.ElementBits / 8,
			Order: cs.Store.Order(),
		},
		at: int(offset(cs.Store.Address)),
	}
	if err := img.CheckRange(p.at, p.store.Size); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	for _, r := range cs.Regions {
		start, end := int(offset(r.Start)), int(offset(r.End))+1
		if err := img.CheckRange(start, end-start); err != nil {
			return nil, fmt.Errorf("region 0x%X-0x%X: %w", r.Start, r.End, err)
		}
		// the stored checksum never sums over itself
		s0, s1 := p.at, p.at+p.store.Size
		if s0 < end && s1 > start {
			if start < s0 {
				p.spans = append(p.spans, [2]int{start, s0})
			}
			if s1 < end {
				p.spans = append(p.spans, [2]int{s1, end})
			}
			continue
		}
		p.spans = append(p.spans, [2]int{start, end})
	}
	return p, nil
}

func (p *plan) compute(img *binimage.Image) (uint64, error) {
	s := p.algo.New()
	for _, sp := range p.spans {
		b, err := img.CopyRange(sp[0], sp[1]-sp[0])
		if err != nil {
			return 0, err
		}
		s.Write(b)
	}
	return s.Sum() & (1<<uint(p.store.Bits()) - 1), nil
}

func run(img *binimage.Image, cs *xdf.Checksum, offset OffsetFunc, write bool) (Result, error) {
	res := Result{ID: cs.ID, Title: cs.Title, Algorithm: cs.Algorithm}
	p, err := prepare(img, cs, offset)
	if err != nil {
		return res, fmt.Errorf("checksum %s: %w", cs.ID, err)
	}
	res.Offset = p.at
	if res.Computed, err = p.compute(img); err != nil {
		return res, fmt.Errorf("checksum %s: %w", cs.ID, err)
	}
	if write {
		if err := img.PutValue(p.at, p.store, float64(res.Computed)); err != nil {
			return res, fmt.Errorf("checksum %s: %w", cs.ID, err)
		}
	}
	if res.Stored, err = img.Uint(p.at, p.store); err != nil {
		return res, fmt.Errorf("checksum %s: %w", cs.ID, err)
	}
	return res, nil
}

// Apply recomputes one checksum and stores it in img.
func Apply(img *binimage.Image, cs *xdf.Checksum, offset OffsetFunc) (Result, error) {
	return run(img, cs, offset, true)
}

// Verify recomputes one checksum without touching img.
func Verify(img *binimage.Image, cs *xdf.Checksum, offset OffsetFunc) (Result, error) {
	return run(img, cs, offset, false)
}

// ApplyAll applies every checksum in order, collecting failures instead of
// stopping at the first.
func ApplyAll(img *binimage.Image, list []*xdf.Checksum, offset OffsetFunc) ([]Result, error) {
	return each(img, list, offset, true)
}

// VerifyAll verifies every checksum.
func VerifyAll(img *binimage.Image, list []*xdf.Checksum, offset OffsetFunc) ([]Result, error) {
	return each(img, list, offset, false)
}

func each(img *binimage.Image, list []*xdf.Checksum, offset OffsetFunc, write bool) ([]Result, error) {
	var errs error
	out := make([]Result, 0, len(list))
	for _, cs := range list {
		res, err := run(img, cs, offset, write)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		out = append(out, res)
	}
	return out, errs
}
