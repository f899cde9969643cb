package dexfmt

import (
	"unicode/utf8"
)

// StringData reads a string_data_item at pos: a uleb128 UTF-16 length
// followed by NUL-terminated MUTF-8 bytes. It returns the decoded text and
// the position just past the terminator.
//
// Surrogate pairs written as two 3-byte sequences are joined into a single
// code point. A lone surrogate keeps its 3-byte form, so the result is not
// always valid UTF-8 but no information is lost.
func (b Buffer) StringData(pos int) (string, int, error) {
	units, n, err := b.ULEB128(pos)
	if err != nil {
		return "", 0, err
	}
	s, end, got, err := b.mutf8(pos + n)
	if err != nil {
		return "", 0, err
	}
	if got != int(units) {
		return "", 0, Errorf(KindFormat, int64(pos), "string length %d does not match %d decoded utf-16 units", units, got)
	}
	return s, end, nil
}

// mutf8 decodes NUL-terminated MUTF-8 at pos. It returns the text, the
// position after the NUL and the number of UTF-16 units decoded.
func (b Buffer) mutf8(pos int) (string, int, int, error) {
	out := make([]byte, 0, 16)
	units := 0
	i := pos
	for {
		c, err := b.U8(i)
		if err != nil {
			return "", 0, 0, err
		}
		switch {
		case c == 0:
			return string(out), i + 1, units, nil
		case c < 0x80:
			out = append(out, c)
			i++
			units++
		case c&0xe0 == 0xc0:
			c2, err := b.continuation(i, 1)
			if err != nil {
				return "", 0, 0, err
			}
			r := rune(c&0x1f)<<6 | rune(c2&0x3f)
			out = utf8.AppendRune(out, r)
			i += 2
			units++
		case c&0xf0 == 0xe0:
			r, err := b.threeByte(i)
			if err != nil {
				return "", 0, 0, err
			}
			i += 3
			units++
			if isHighSurrogate(r) {
				if lo, err := b.threeByte(i); err == nil && isLowSurrogate(lo) {
					out = utf8.AppendRune(out, 0x10000+(r-0xd800)<<10+(lo-0xdc00))
					i += 3
					units++
					continue
				}
			}
			if isHighSurrogate(r) || isLowSurrogate(r) {
				out = append(out, 0xe0|byte(r>>12), 0x80|byte(r>>6)&0x3f, 0x80|byte(r)&0x3f)
				continue
			}
			out = utf8.AppendRune(out, r)
		default:
			return "", 0, 0, Errorf(KindFormat, int64(i), "invalid mutf-8 lead byte 0x%02x", c)
		}
	}
}

func (b Buffer) continuation(lead, k int) (byte, error) {
	c, err := b.U8(lead + k)
	if err != nil {
		return 0, err
	}
	if c&0xc0 != 0x80 {
		return 0, Errorf(KindFormat, int64(lead+k), "invalid mutf-8 continuation byte 0x%02x", c)
	}
	return c, nil
}

func (b Buffer) threeByte(pos int) (rune, error) {
	c, err := b.U8(pos)
	if err != nil {
		return 0, err
	}
	if c&0xf0 != 0xe0 {
		return 0, Errorf(KindFormat, int64(pos), "expected 3-byte mutf-8 sequence")
	}
	c2, err := b.continuation(pos, 1)
	if err != nil {
		return 0, err
	}
	c3, err := b.continuation(pos, 2)
	if err != nil {
		return 0, err
	}
	return rune(c&0x0f)<<12 | rune(c2&0x3f)<<6 | rune(c3&0x3f), nil
}

func isHighSurrogate(r rune) bool { return r >= 0xd800 && r <= 0xdbff }
func isLowSurrogate(r rune) bool  { return r >= 0xdc00 && r <= 0xdfff }

// UTF16 returns s as UTF-16 code units. Invalid UTF-8 sequences produced
// for lone surrogates by StringData are mapped back to the surrogate unit.
func UTF16(s string) []uint16 {
	units := make([]uint16, 0, len(s))
	for i := 0; i < len(s); {
		c := s[i]
		if c&0xf0 == 0xe0 && i+2 < len(s) {
			r := rune(c&0x0f)<<12 | rune(s[i+1]&0x3f)<<6 | rune(s[i+2]&0x3f)
			if isHighSurrogate(r) || isLowSurrogate(r) {
				units = append(units, uint16(r))
				i += 3
				continue
			}
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r >= 0x10000 {
			r -= 0x10000
			units = append(units, uint16(0xd800+(r>>10)), uint16(0xdc00+(r&0x3ff)))
		} else {
			units = append(units, uint16(r))
		}
		i += size
	}
	return units
}

// EncodeMUTF8 encodes s in MUTF-8 without a terminator and returns the
// bytes plus the UTF-16 unit count. It is the inverse of StringData.
func EncodeMUTF8(s string) ([]byte, int) {
	units := UTF16(s)
	out := make([]byte, 0, len(s)+2)
	for _, u := range units {
		switch {
		case u != 0 && u < 0x80:
			out = append(out, byte(u))
		case u < 0x800:
			out = append(out, 0xc0|byte(u>>6), 0x80|byte(u)&0x3f)
		default:
			out = append(out, 0xe0|byte(u>>12), 0x80|byte(u>>6)&0x3f, 0x80|byte(u)&0x3f)
		}
	}
	return out, len(units)
}
