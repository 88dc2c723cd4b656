package checksum

import (
	"encoding/binary"
	"hash/crc32"
	"sort"
	"strings"
)

const (
	crc16Polynomial = 0x1021
	crc16Initial    = 0xFFFF
)

// Algorithm folds a byte stream into a checksum of Bits width.
type Algorithm struct {
	Name string
	Bits int
	New  func() Summer
}

// Summer accumulates data across several regions.
type Summer interface {
	Write(p []byte)
	Sum() uint64
}

var registry = map[string]Algorithm{}

func register(name string, bits int, fn func() Summer) {
	registry[name] = Algorithm{Name: name, Bits: bits, New: fn}
}

func init() {
	register("sum8", 8, func() Summer { return &byteSum{mask: 0xFF} })
	register("sum16", 16, func() Summer { return &byteSum{mask: 0xFFFF} })
	register("sum32", 32, func() Summer { return &byteSum{mask: 0xFFFFFFFF} })
	register("sum16be", 16, func() Summer { return &wordSum{size: 2, order: binary.BigEndian} })
	register("sum16le", 16, func() Summer { return &wordSum{size: 2, order: binary.LittleEndian} })
	register("sum32be", 32, func() Summer { return &wordSum{size: 4, order: binary.BigEndian} })
	register("sum32le", 32, func() Summer { return &wordSum{size: 4, order: binary.LittleEndian} })
	register("twos8", 8, func() Summer { return &twos{byteSum{mask: 0xFF}} })
	register("twos16", 16, func() Summer { return &twos{byteSum{mask: 0xFFFF}} })
	register("xor8", 8, func() Summer { return new(xor8) })
	register("crc16-ccitt", 16, func() Summer { return &crc16{crc: crc16Initial} })
	register("crc32", 32, func() Summer { return &crc32Sum{} })
}

// Lookup finds an algorithm by identifier, case-insensitively.
func Lookup(name string) (Algorithm, bool) {
	a, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	return a, ok
}

// Names lists the registered identifiers.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

type byteSum struct {
	sum  uint64
	mask uint64
}

func (s *byteSum) Write(p []byte) {
	for _, b := range p {
		s.sum += uint64(b)
	}
}

func (s *byteSum) Sum() uint64 { return s.sum & s.mask }

// wordSum adds big or little endian words. A trailing partial word is zero
// padded.
type wordSum struct {
	size    int
	order   binary.ByteOrder
	sum     uint64
	pending []byte
}

func (s *wordSum) Write(p []byte) {
	buf := append(s.pending, p...)
	n := len(buf) / s.size * s.size
	for i := 0; i < n; i += s.size {
		s.sum += s.word(buf[i : i+s.size])
	}
	s.pending = append([]byte(nil), buf[n:]...)
}

func (s *wordSum) word(b []byte) uint64 {
	if s.size == 2 {
		return uint64(s.order.Uint16(b))
	}
	return uint64(s.order.Uint32(b))
}

func (s *wordSum) Sum() uint64 {
	sum := s.sum
	if len(s.pending) > 0 {
		w := make([]byte, s.size)
		copy(w, s.pending)
		sum += s.word(w)
	}
	return sum & (1<<(uint(s.size)*8) - 1)
}

// twos is the two's complement of a byte sum, so that sum + checksum is zero.
type twos struct {
	byteSum
}

func (s *twos) Sum() uint64 {
	return ((s.mask ^ s.byteSum.Sum()) + 1) & s.mask
}

type xor8 byte

func (s *xor8) Write(p []byte) {
	for _, b := range p {
		*s ^= xor8(b)
	}
}

func (s *xor8) Sum() uint64 { return uint64(*s) }

// crc16 is CRC-16-CCITT with initial value 0xFFFF and no final XOR.
type crc16 struct {
	crc uint16
}

func (s *crc16) Write(p []byte) {
	for _, b := range p {
		s.crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if s.crc&0x8000 != 0 {
				s.crc = s.crc<<1 ^ crc16Polynomial
			} else {
				s.crc <<= 1
			}
		}
	}
}

func (s *crc16) Sum() uint64 { return uint64(s.crc) }

type crc32Sum struct {
	crc uint32
}

func (s *crc32Sum) Write(p []byte) { s.crc = crc32.Update(s.crc, crc32.IEEETable, p) }

func (s *crc32Sum) Sum() uint64 { return uint64(s.crc) }
