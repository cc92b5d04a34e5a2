package header

import (
	"errors"
	"fmt"
)

var (
	ErrShortHeader   = errors.New("header: input shorter than header layout")
	ErrValueTooWide  = errors.New("header: value does not fit its field width")
	ErrFieldMismatch = errors.New("header: number of values does not match layout")
)

// --------------------------------------------------------------------------
// Bit field descriptors
// --------------------------------------------------------------------------

// BitField describes one header field by name and width in bits.
type BitField struct {
	Name  string
	Width int
}

// Layout is an ordered list of bit fields. Fields are packed back to back,
// MSB-first, without padding between them. If the total width is not a
// multiple of 8 the last byte is padded with zero bits.
type Layout []BitField

// Bits returns the total width of the layout in bits.
func (l Layout) Bits() int {
	n := 0
	for _, f := range l {
		n += f.Width
	}
	return n
}

// Len returns the number of bytes needed to hold the layout.
func (l Layout) Len() int {
	return (l.Bits() + 7) / 8
}

// Pack packs one value per field into a byte slice.
// Each value is a big-endian byte string. Values shorter than the field are
// zero-extended on the left, values with set bits beyond the field width are
// rejected with ErrValueTooWide.
func (l Layout) Pack(values ...[]byte) ([]byte, error) {
	if len(values) != len(l) {
		return nil, fmt.Errorf("%w: %d values for %d fields", ErrFieldMismatch, len(values), len(l))
	}

	w := bitWriter{buf: make([]byte, l.Len())}
	for i, f := range l {
		v := values[i]

		// reject values that would be silently truncated
		for bit := f.Width; bit < len(v)*8; bit++ {
			if bitAt(v, bit) == 1 {
				return nil, fmt.Errorf("%w: field %s (%d bits)", ErrValueTooWide, f.Name, f.Width)
			}
		}

		for bit := f.Width - 1; bit >= 0; bit-- {
			w.write(bitAt(v, bit))
		}
	}
	return w.buf, nil
}

// Unpack reads one value per field from b and returns the values together
// with the bytes following the layout. Each value is returned as a
// big-endian byte string of (width+7)/8 bytes.
func (l Layout) Unpack(b []byte) ([][]byte, []byte, error) {
	n := l.Len()
	if len(b) < n {
		return nil, nil, fmt.Errorf("%w: got %d bytes, need %d", ErrShortHeader, len(b), n)
	}

	r := bitReader{buf: b[:n]}
	values := make([][]byte, len(l))
	for i, f := range l {
		v := make([]byte, (f.Width+7)/8)
		for bit := f.Width - 1; bit >= 0; bit-- {
			if r.read() == 1 {
				v[len(v)-1-bit/8] |= 1 << (bit % 8)
			}
		}
		values[i] = v
	}
	return values, b[n:], nil
}

// --------------------------------------------------------------------------
// Integer helpers
// --------------------------------------------------------------------------

// UintBytes returns v as a big-endian byte string of (width+7)/8 bytes.
// Bits of v above the byte length are dropped, Pack rejects overflow.
func UintBytes(v uint64, width int) []byte {
	b := make([]byte, (width+7)/8)
	for i := len(b) - 1; i >= 0 && v > 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// BytesUint interprets b as a big-endian unsigned integer.
// Only the last 8 bytes are considered.
func BytesUint(b []byte) uint64 {
	if len(b) > 8 {
		b = b[len(b)-8:]
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// --------------------------------------------------------------------------
// Bit level reader / writer
// --------------------------------------------------------------------------

// bitAt returns bit i (counted from the least significant bit) of the
// big-endian byte string v. Bits beyond v are zero.
func bitAt(v []byte, i int) byte {
	idx := len(v) - 1 - i/8
	if idx < 0 {
		return 0
	}
	return (v[idx] >> (i % 8)) & 1
}

type bitWriter struct {
	buf []byte
	pos int // next bit position, 0 = MSB of buf[0]
}

func (w *bitWriter) write(bit byte) {
	if bit == 1 {
		w.buf[w.pos/8] |= 0x80 >> (w.pos % 8)
	}
	w.pos++
}

type bitReader struct {
	buf []byte
	pos int
}

func (r *bitReader) read() byte {
	bit := (r.buf[r.pos/8] >> (7 - r.pos%8)) & 1
	r.pos++
	return bit
}
