package dexfmt

import (
	"encoding/binary"
)

// Buffer is an immutable DEX image. Every read is a pure function of the
// buffer and the caller-supplied position, so a Buffer can be shared by
// any number of goroutines.
type Buffer []byte

// Len returns the buffer length in bytes.
func (b Buffer) Len() int { return len(b) }

func (b Buffer) check(pos, width int) error {
	if pos < 0 || width < 0 || pos > len(b) || width > len(b)-pos {
		return Truncated(pos, width, len(b))
	}
	return nil
}

// Slice returns n bytes at pos without copying.
func (b Buffer) Slice(pos, n int) ([]byte, error) {
	if err := b.check(pos, n); err != nil {
		return nil, err
	}
	return b[pos : pos+n : pos+n], nil
}

// U8 reads a byte.
func (b Buffer) U8(pos int) (uint8, error) {
	if err := b.check(pos, 1); err != nil {
		return 0, err
	}
	return b[pos], nil
}

// U16 reads a little-endian uint16.
func (b Buffer) U16(pos int) (uint16, error) {
	if err := b.check(pos, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[pos:]), nil
}

// U32 reads a little-endian uint32.
func (b Buffer) U32(pos int) (uint32, error) {
	if err := b.check(pos, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[pos:]), nil
}

// U64 reads a little-endian uint64.
func (b Buffer) U64(pos int) (uint64, error) {
	if err := b.check(pos, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[pos:]), nil
}

// DEX LEB128 values are at most 32 bits wide, so at most 5 bytes.
const maxLEB128Len = 5

// ULEB128 reads an unsigned LEB128 value and returns it with its encoded length.
//
// Each byte carries 7 bits of data, least significant group first. A set
// high bit means another byte follows.
func (b Buffer) ULEB128(pos int) (uint32, int, error) {
	var result uint32
	for i := 0; i < maxLEB128Len; i++ {
		c, err := b.U8(pos + i)
		if err != nil {
			return 0, 0, err
		}
		result |= uint32(c&0x7f) << (7 * i)
		if c&0x80 == 0 {
			return result, i + 1, nil
		}
	}
	return 0, 0, Errorf(KindFormat, int64(pos), "uleb128 longer than %d bytes", maxLEB128Len)
}

// ULEB128p1 reads a uleb128p1 value: the stored value minus one, so that
// NO_INDEX (-1) encodes as a single zero byte.
func (b Buffer) ULEB128p1(pos int) (int64, int, error) {
	v, n, err := b.ULEB128(pos)
	if err != nil {
		return 0, 0, err
	}
	return int64(v) - 1, n, nil
}

// SLEB128 reads a signed LEB128 value. The result is sign-extended from
// the highest data bit of the last byte.
func (b Buffer) SLEB128(pos int) (int32, int, error) {
	var result uint32
	for i := 0; i < maxLEB128Len; i++ {
		c, err := b.U8(pos + i)
		if err != nil {
			return 0, 0, err
		}
		result |= uint32(c&0x7f) << (7 * i)
		if c&0x80 == 0 {
			shift := uint(7 * (i + 1))
			if shift < 32 && c&0x40 != 0 {
				result |= ^uint32(0) << shift
			}
			return int32(result), i + 1, nil
		}
	}
	return 0, 0, Errorf(KindFormat, int64(pos), "sleb128 longer than %d bytes", maxLEB128Len)
}

// Stream is a sequential cursor over a Buffer. It is a convenience for
// parsing variable-length records; it holds no state besides the position.
type Stream struct {
	buf Buffer
	pos int
}

// NewStream creates a stream starting at offset within buf.
func NewStream(buf Buffer, offset int) *Stream {
	return &Stream{buf: buf, pos: offset}
}

// Position returns the current read position.
func (s *Stream) Position() int { return s.pos }

// Remaining returns the number of bytes after the current position.
func (s *Stream) Remaining() int { return max(len(s.buf)-s.pos, 0) }

// SetPosition sets the read position.
func (s *Stream) SetPosition(pos int) { s.pos = pos }

// Align advances position to the next alignment boundary.
func (s *Stream) Align(alignment int) {
	if rem := s.pos % alignment; rem != 0 {
		s.pos += alignment - rem
	}
}

// Skip advances the position by n bytes.
func (s *Stream) Skip(n int) error {
	if err := s.buf.check(s.pos, n); err != nil {
		return err
	}
	s.pos += n
	return nil
}

// U8 reads a byte.
func (s *Stream) U8() (uint8, error) {
	v, err := s.buf.U8(s.pos)
	if err == nil {
		s.pos++
	}
	return v, err
}

// U16 reads a little-endian uint16.
func (s *Stream) U16() (uint16, error) {
	v, err := s.buf.U16(s.pos)
	if err == nil {
		s.pos += 2
	}
	return v, err
}

// U32 reads a little-endian uint32.
func (s *Stream) U32() (uint32, error) {
	v, err := s.buf.U32(s.pos)
	if err == nil {
		s.pos += 4
	}
	return v, err
}

// ULEB128 reads an unsigned LEB128 value.
func (s *Stream) ULEB128() (uint32, error) {
	v, n, err := s.buf.ULEB128(s.pos)
	s.pos += n
	return v, err
}

// ULEB128p1 reads a uleb128p1 value.
func (s *Stream) ULEB128p1() (int64, error) {
	v, n, err := s.buf.ULEB128p1(s.pos)
	s.pos += n
	return v, err
}

// SLEB128 reads a signed LEB128 value.
func (s *Stream) SLEB128() (int32, error) {
	v, n, err := s.buf.SLEB128(s.pos)
	s.pos += n
	return v, err
}

// Bytes reads n bytes without copying.
func (s *Stream) Bytes(n int) ([]byte, error) {
	v, err := s.buf.Slice(s.pos, n)
	if err == nil {
		s.pos += n
	}
	return v, err
}
