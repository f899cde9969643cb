package smali

import (
	"math"
	"strconv"
	"strings"

	"undex/internal/dexfmt"
)

// hexInt renders v as 0x.. or -0x.. in lowercase.
func hexInt(v int64) string {
	if v < 0 {
		// negate in uint64 so MinInt64 survives
		return "-0x" + strconv.FormatUint(uint64(-(v+1))+1, 16)
	}
	return "0x" + strconv.FormatInt(v, 16)
}

// wideLiteral renders a 64-bit literal. Values representable as int get no
// suffix, anything wider gets L.
func wideLiteral(v int64) string {
	if v >= math.MinInt32 && v <= math.MaxInt32 {
		return hexInt(v)
	}
	return hexInt(v) + "L"
}

func longLiteral(v int64) string  { return hexInt(v) + "L" }
func shortLiteral(v int64) string { return hexInt(v) + "s" }
func byteLiteral(v int64) string  { return hexInt(v) + "t" }

// javaFloat renders f the way Float.toString and Double.toString do:
// plain decimal with at least one fractional digit for magnitudes in
// [1e-3, 1e7), computerized scientific notation otherwise.
func javaFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}
	abs := math.Abs(f)
	if abs >= 1e-3 && abs < 1e7 {
		s := strconv.FormatFloat(f, 'f', -1, bits)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}
	s := strconv.FormatFloat(f, 'e', -1, bits)
	mant, exp, _ := strings.Cut(s, "e")
	if !strings.Contains(mant, ".") {
		mant += ".0"
	}
	exp = strings.TrimPrefix(exp, "+")
	neg := strings.HasPrefix(exp, "-")
	exp = strings.TrimLeft(strings.TrimPrefix(exp, "-"), "0")
	if exp == "" {
		exp = "0"
	}
	if neg {
		exp = "-" + exp
	}
	return mant + "E" + exp
}

func floatLiteral(bits uint32) string {
	return javaFloat(float64(math.Float32frombits(bits)), 32) + "f"
}

func doubleLiteral(bits uint64) string {
	return javaFloat(math.Float64frombits(bits), 64)
}

// escapeUnit appends the escaped form of one UTF-16 code unit. Printable
// ASCII is kept, quote and backslash are escaped, \n \r \t use their short
// forms and everything else becomes \uXXXX.
func escapeUnit(b *strings.Builder, c uint16) {
	if c >= 0x20 && c < 0x7f {
		if c == '\\' || c == '"' || c == '\'' {
			b.WriteByte('\\')
		}
		b.WriteByte(byte(c))
		return
	}
	switch c {
	case '\n':
		b.WriteString(`\n`)
		return
	case '\r':
		b.WriteString(`\r`)
		return
	case '\t':
		b.WriteString(`\t`)
		return
	}
	const digits = "0123456789abcdef"
	b.WriteString(`\u`)
	b.WriteByte(digits[c>>12&0xf])
	b.WriteByte(digits[c>>8&0xf])
	b.WriteByte(digits[c>>4&0xf])
	b.WriteByte(digits[c&0xf])
}

// quoteString renders s as a double-quoted string literal.
func quoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, c := range dexfmt.UTF16(s) {
		escapeUnit(&b, c)
	}
	b.WriteByte('"')
	return b.String()
}

// quoteChar renders c as a single-quoted char literal.
func quoteChar(c uint16) string {
	var b strings.Builder
	b.WriteByte('\'')
	escapeUnit(&b, c)
	b.WriteByte('\'')
	return b.String()
}
