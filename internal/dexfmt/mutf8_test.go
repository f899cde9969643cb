package dexfmt

import (
	"errors"
	"testing"
)

func stringItem(units byte, data ...byte) Buffer {
	return append(append(Buffer{units}, data...), 0)
}

func TestStringData(t *testing.T) {
	tests := []struct {
		name string
		in   Buffer
		want string
	}{
		{"empty", stringItem(0), ""},
		{"ascii", stringItem(5, 'h', 'e', 'l', 'l', 'o'), "hello"},
		{"embedded nul", stringItem(3, 'a', 0xc0, 0x80, 'b'), "a\x00b"},
		{"two byte", stringItem(1, 0xc3, 0xa9), "é"},
		{"three byte", stringItem(1, 0xe4, 0xb8, 0xad), "中"},
		// U+1F600 as the surrogate pair D83D DE00.
		{"surrogate pair", stringItem(2, 0xed, 0xa0, 0xbd, 0xed, 0xb8, 0x80), "\U0001F600"},
		// A lone high surrogate keeps its 3-byte form.
		{"lone surrogate", stringItem(2, 0xed, 0xa0, 0xbd, 'x'), "\xed\xa0\xbdx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, end, err := tt.in.StringData(0)
			if err != nil {
				t.Fatalf("StringData: %v", err)
			}
			if got != tt.want {
				t.Errorf("StringData = %q, want %q", got, tt.want)
			}
			if end != len(tt.in) {
				t.Errorf("end = %d, want %d", end, len(tt.in))
			}
		})
	}
}

func TestStringData_Errors(t *testing.T) {
	if _, _, err := stringItem(2, 'a').StringData(0); !errors.Is(err, ErrFormat) {
		t.Errorf("length mismatch: err = %v, want format", err)
	}
	if _, _, err := (Buffer{1, 'a'}).StringData(0); !errors.Is(err, ErrTruncated) {
		t.Errorf("missing terminator: err = %v, want truncated", err)
	}
	if _, _, err := stringItem(1, 0xc3, 'a').StringData(0); !errors.Is(err, ErrFormat) {
		t.Errorf("bad continuation: err = %v, want format", err)
	}
	if _, _, err := stringItem(1, 0xf0, 0x9f, 0x98, 0x80).StringData(0); !errors.Is(err, ErrFormat) {
		t.Errorf("4-byte utf-8: err = %v, want format", err)
	}
}

func TestEncodeMUTF8_RoundTrip(t *testing.T) {
	for _, s := range []string{"", "plain", "a\x00b", "café", "中文", "\U0001F600!", "\xed\xa0\xbd"} {
		data, units := EncodeMUTF8(s)
		buf := append(append(Buffer{byte(units)}, data...), 0)
		got, _, err := buf.StringData(0)
		if err != nil {
			t.Errorf("%q: %v", s, err)
			continue
		}
		if got != s {
			t.Errorf("round trip %q = %q", s, got)
		}
		if len(UTF16(s)) != units {
			t.Errorf("%q: units %d, UTF16 len %d", s, units, len(UTF16(s)))
		}
	}
}
