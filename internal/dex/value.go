package dex

import (
	"fmt"
	"math"

	"undex/internal/dexfmt"
)

// ValueType is the low 5 bits of an encoded_value header byte.
type ValueType uint8

const (
	ValueByte         ValueType = 0x00
	ValueShort        ValueType = 0x02
	ValueChar         ValueType = 0x03
	ValueInt          ValueType = 0x04
	ValueLong         ValueType = 0x06
	ValueFloat        ValueType = 0x10
	ValueDouble       ValueType = 0x11
	ValueMethodType   ValueType = 0x15
	ValueMethodHandle ValueType = 0x16
	ValueString       ValueType = 0x17
	ValueTypeRef      ValueType = 0x18
	ValueField        ValueType = 0x19
	ValueMethod       ValueType = 0x1a
	ValueEnum         ValueType = 0x1b
	ValueArray        ValueType = 0x1c
	ValueAnnotation   ValueType = 0x1d
	ValueNull         ValueType = 0x1e
	ValueBoolean      ValueType = 0x1f
)

// Value is a decoded encoded_value. Bits holds the sign- or zero-extended
// payload: the integer itself, the IEEE bit pattern for floats, or the
// pool index for reference types.
type Value struct {
	Type       ValueType
	Bits       uint64
	Array      []Value
	Annotation *Annotation
}

// Annotation is a decoded encoded_annotation.
type Annotation struct {
	TypeIdx  uint32
	Elements []AnnotationElement
}

// AnnotationElement is one name/value pair of an Annotation.
type AnnotationElement struct {
	NameIdx uint32
	Value   Value
}

func (v Value) Int() int64       { return int64(v.Bits) }
func (v Value) Index() uint32    { return uint32(v.Bits) }
func (v Value) Bool() bool       { return v.Bits != 0 }
func (v Value) Float32() float32 { return math.Float32frombits(uint32(v.Bits)) }
func (v Value) Float64() float64 { return math.Float64frombits(v.Bits) }

// IsZero reports whether v is the default value of its type: zero, false,
// null or +0.0. Negative zero is not a default.
func (v Value) IsZero() bool {
	switch v.Type {
	case ValueByte, ValueShort, ValueChar, ValueInt, ValueLong, ValueFloat, ValueDouble, ValueBoolean:
		return v.Bits == 0
	case ValueNull:
		return true
	}
	return false
}

// maximum encoded_value nesting accepted before the input is treated as hostile
const maxValueDepth = 64

// EncodedArray reads the encoded_array_item at off.
func (c *Container) EncodedArray(off uint32) ([]Value, error) {
	s := dexfmt.NewStream(c.buf, int(off))
	vals, err := readArray(s, 0)
	if err != nil {
		return nil, fmt.Errorf("encoded_array at 0x%x: %w", off, err)
	}
	return vals, nil
}

// ReadValue reads one encoded_value from s.
func ReadValue(s *dexfmt.Stream) (Value, error) {
	return readValue(s, 0)
}

func readArray(s *dexfmt.Stream, depth int) ([]Value, error) {
	n, err := s.ULEB128()
	if err != nil {
		return nil, err
	}
	// every value takes at least one byte
	if int64(n) > int64(s.Remaining()) {
		return nil, dexfmt.Errorf(dexfmt.KindTruncated, int64(s.Position()), "array of %d values", n)
	}
	out := make([]Value, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := readValue(s, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func readValue(s *dexfmt.Stream, depth int) (Value, error) {
	if depth > maxValueDepth {
		return Value{}, dexfmt.Errorf(dexfmt.KindFormat, int64(s.Position()), "encoded_value nested deeper than %d", maxValueDepth)
	}
	pos := s.Position()
	hdr, err := s.U8()
	if err != nil {
		return Value{}, err
	}
	typ, arg := ValueType(hdr&0x1f), int(hdr>>5)
	v := Value{Type: typ}

	switch typ {
	case ValueArray:
		v.Array, err = readArray(s, depth)
		return v, err
	case ValueAnnotation:
		v.Annotation, err = readAnnotation(s, depth)
		return v, err
	case ValueNull:
		return v, nil
	case ValueBoolean:
		v.Bits = uint64(arg & 1)
		return v, nil
	}

	size := arg + 1
	var width int
	switch typ {
	case ValueByte:
		width = 1
	case ValueShort, ValueChar:
		width = 2
	case ValueInt, ValueFloat, ValueMethodType, ValueMethodHandle, ValueString, ValueTypeRef, ValueField, ValueMethod, ValueEnum:
		width = 4
	case ValueLong, ValueDouble:
		width = 8
	default:
		return Value{}, dexfmt.Errorf(dexfmt.KindFormat, int64(pos), "unknown encoded_value type 0x%02x", uint8(typ))
	}
	if size > width {
		return Value{}, dexfmt.Errorf(dexfmt.KindFormat, int64(pos), "encoded_value type 0x%02x with %d bytes", uint8(typ), size)
	}
	raw, err := s.Bytes(size)
	if err != nil {
		return Value{}, err
	}
	var bits uint64
	for i, b := range raw {
		bits |= uint64(b) << (8 * i)
	}

	switch typ {
	case ValueByte, ValueShort, ValueInt, ValueLong:
		shift := uint(64 - 8*size)
		v.Bits = uint64(int64(bits<<shift) >> shift)
	case ValueFloat:
		// zero-extended to the right
		v.Bits = bits << (8 * (4 - size))
	case ValueDouble:
		v.Bits = bits << (8 * (8 - size))
	default:
		v.Bits = bits
	}
	return v, nil
}

func readAnnotation(s *dexfmt.Stream, depth int) (*Annotation, error) {
	typ, err := s.ULEB128()
	if err != nil {
		return nil, err
	}
	n, err := s.ULEB128()
	if err != nil {
		return nil, err
	}
	if int64(n) > int64(s.Remaining()) {
		return nil, dexfmt.Errorf(dexfmt.KindTruncated, int64(s.Position()), "annotation of %d elements", n)
	}
	a := &Annotation{TypeIdx: typ, Elements: make([]AnnotationElement, 0, n)}
	for i := uint32(0); i < n; i++ {
		name, err := s.ULEB128()
		if err != nil {
			return nil, err
		}
		v, err := readValue(s, depth+1)
		if err != nil {
			return nil, err
		}
		a.Elements = append(a.Elements, AnnotationElement{NameIdx: name, Value: v})
	}
	return a, nil
}

// StaticValues returns the initial values of def's static fields, in field
// order. The list may be shorter than the static field list; trailing
// fields take their type's default.
func (c *Container) StaticValues(def ClassDef) ([]Value, error) {
	if def.StaticValuesOff == 0 {
		return nil, nil
	}
	return c.EncodedArray(def.StaticValuesOff)
}
