package binimage

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Element describes how one stored value is encoded.
type Element struct {
	Size   int // bytes: 1, 2 or 4
	Order  binary.ByteOrder
	Signed bool
	Float  bool
}

// Validate checks the element can be decoded.
func (e Element) Validate() error {
	switch e.Size {
	case 1, 2, 4:
	default:
		return fmt.Errorf("%w: %d bytes", ErrUnsupportedWidth, e.Size)
	}
	if e.Float && e.Size != 4 {
		return fmt.Errorf("%w: float of %d bytes", ErrUnsupportedWidth, e.Size)
	}
	return nil
}

func (e Element) order() binary.ByteOrder {
	if e.Order == nil {
		return binary.BigEndian
	}
	return e.Order
}

// Bits is the element width in bits.
func (e Element) Bits() int { return e.Size * 8 }

// Range is the raw value range representable by the element.
func (e Element) Range() (lo, hi float64) {
	if e.Float {
		return -math.MaxFloat32, math.MaxFloat32
	}
	bits := uint(e.Bits())
	if e.Signed {
		return -math.Ldexp(1, int(bits-1)), math.Ldexp(1, int(bits-1)) - 1
	}
	return 0, math.Ldexp(1, int(bits)) - 1
}

func (e Element) String() string {
	kind := "uint"
	switch {
	case e.Float:
		kind = "float"
	case e.Signed:
		kind = "int"
	}
	endian := "BE"
	if e.order() == binary.LittleEndian {
		endian = "LE"
	}
	if e.Size == 1 {
		return fmt.Sprintf("%s%d", kind, e.Bits())
	}
	return fmt.Sprintf("%s%d %s", kind, e.Bits(), endian)
}

// decodeUint reads the unsigned bit pattern of one element from b.
func decodeUint(b []byte, e Element) uint64 {
	switch e.Size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(e.order().Uint16(b))
	default:
		return uint64(e.order().Uint32(b))
	}
}

func encodeUint(b []byte, e Element, v uint64) {
	switch e.Size {
	case 1:
		b[0] = byte(v)
	case 2:
		e.order().PutUint16(b, uint16(v))
	default:
		e.order().PutUint32(b, uint32(v))
	}
}

// toValue interprets a bit pattern as a number.
func toValue(u uint64, e Element) float64 {
	switch {
	case e.Float:
		return float64(math.Float32frombits(uint32(u)))
	case e.Signed:
		shift := 64 - uint(e.Bits())
		return float64(int64(u<<shift) >> shift)
	default:
		return float64(u)
	}
}

// fromValue encodes v as the element's bit pattern. v must be integral for
// integer elements and within Range.
func fromValue(v float64, e Element) (uint64, error) {
	lo, hi := e.Range()
	if math.IsNaN(v) || v < lo || v > hi {
		return 0, fmt.Errorf("%w: %g not in [%g, %g] for %s", ErrRawRange, v, lo, hi, e)
	}
	if e.Float {
		return uint64(math.Float32bits(float32(v))), nil
	}
	if v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: %g is not integral", ErrRawRange, v)
	}
	mask := uint64(1)<<uint(e.Bits()) - 1
	if e.Signed {
		return uint64(int64(v)) & mask, nil
	}
	return uint64(v) & mask, nil
}

// FieldMask returns the in-element mask of a bit field.
func FieldMask(bitOffset, bitWidth int) uint64 {
	return (uint64(1)<<uint(bitWidth) - 1) << uint(bitOffset)
}

// MaskField splits a contiguous mask into bit offset and width. ok is false
// for zero or non-contiguous masks.
func MaskField(mask uint64) (offset, width int, ok bool) {
	if mask == 0 {
		return 0, 0, false
	}
	for mask&1 == 0 {
		mask >>= 1
		offset++
	}
	for mask&1 == 1 {
		mask >>= 1
		width++
	}
	return offset, width, mask == 0
}
