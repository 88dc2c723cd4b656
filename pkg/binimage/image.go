// Package binimage owns the raw bytes of an ECU bin image and knows how to
// decode and re-encode the values stored in it.
package binimage

import (
	"errors"
	"fmt"
	"os"
)

var (
	ErrOutOfBounds      = errors.New("binimage: out of bounds")
	ErrUnsupportedWidth = errors.New("binimage: unsupported element width")
	ErrRawRange         = errors.New("binimage: raw value out of range")
	ErrBitField         = errors.New("binimage: invalid bit field")
)

// Image is an in-memory bin image. The byte slice is never handed out; callers
// get copies through Clone and CopyRange.
type Image struct {
	data []byte
}

// Load reads a whole bin file into memory.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Image{data: data}, nil
}

// New copies b into a fresh image.
func New(b []byte) *Image {
	data := make([]byte, len(b))
	copy(data, b)
	return &Image{data: data}
}

// Len is the image size in bytes.
func (im *Image) Len() int { return len(im.data) }

// Clone returns a copy of the whole image.
func (im *Image) Clone() []byte {
	out := make([]byte, len(im.data))
	copy(out, im.data)
	return out
}

func (im *Image) span(off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off > len(im.data)-n {
		return nil, fmt.Errorf("%w: 0x%X+%d exceeds image of %d bytes", ErrOutOfBounds, off, n, len(im.data))
	}
	return im.data[off : off+n], nil
}

// CheckRange reports whether [off, off+n) lies inside the image.
func (im *Image) CheckRange(off, n int) error {
	_, err := im.span(off, n)
	return err
}

// CopyRange returns a copy of n bytes at off.
func (im *Image) CopyRange(off, n int) ([]byte, error) {
	b, err := im.span(off, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// Patch overwrites bytes at off with b.
func (im *Image) Patch(off int, b []byte) error {
	dst, err := im.span(off, len(b))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// Uint reads the raw bit pattern of one element.
func (im *Image) Uint(off int, e Element) (uint64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}
	b, err := im.span(off, e.Size)
	if err != nil {
		return 0, err
	}
	return decodeUint(b, e), nil
}

// Value reads one element and interprets sign and float encoding.
func (im *Image) Value(off int, e Element) (float64, error) {
	u, err := im.Uint(off, e)
	if err != nil {
		return 0, err
	}
	return toValue(u, e), nil
}

// PutValue encodes v into the element at off.
func (im *Image) PutValue(off int, e Element, v float64) error {
	if err := e.Validate(); err != nil {
		return err
	}
	b, err := im.span(off, e.Size)
	if err != nil {
		return err
	}
	u, err := fromValue(v, e)
	if err != nil {
		return err
	}
	encodeUint(b, e, u)
	return nil
}

// Bits reads a bit field of the element at off, right-aligned.
func (im *Image) Bits(off int, e Element, bitOffset, bitWidth int) (uint64, error) {
	if err := checkField(e, bitOffset, bitWidth); err != nil {
		return 0, err
	}
	u, err := im.Uint(off, e)
	if err != nil {
		return 0, err
	}
	return (u & FieldMask(bitOffset, bitWidth)) >> uint(bitOffset), nil
}

// PutBits stores v in a bit field, leaving every bit outside the field as is.
func (im *Image) PutBits(off int, e Element, bitOffset, bitWidth int, v uint64) error {
	if err := checkField(e, bitOffset, bitWidth); err != nil {
		return err
	}
	if v > FieldMask(0, bitWidth) {
		return fmt.Errorf("%w: %d does not fit in %d bits", ErrRawRange, v, bitWidth)
	}
	b, err := im.span(off, e.Size)
	if err != nil {
		return err
	}
	mask := FieldMask(bitOffset, bitWidth)
	u := decodeUint(b, e)
	u = (u &^ mask) | (v << uint(bitOffset) & mask)
	encodeUint(b, e, u)
	return nil
}

func checkField(e Element, bitOffset, bitWidth int) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Float || bitWidth < 1 || bitOffset < 0 || bitOffset+bitWidth > e.Bits() {
		return fmt.Errorf("%w: offset %d width %d in %s", ErrBitField, bitOffset, bitWidth, e)
	}
	return nil
}
