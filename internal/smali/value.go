package smali

import (
	"fmt"
	"strings"

	"undex/internal/dex"
)

// value renders an encoded value. Multi-line forms (arrays, annotations)
// indent their continuation lines with indent.
func (r *Renderer) value(v dex.Value, indent string) (string, error) {
	switch v.Type {
	case dex.ValueByte:
		return byteLiteral(v.Int()), nil
	case dex.ValueShort:
		return shortLiteral(v.Int()), nil
	case dex.ValueChar:
		return quoteChar(uint16(v.Bits)), nil
	case dex.ValueInt:
		return hexInt(v.Int()), nil
	case dex.ValueLong:
		return longLiteral(v.Int()), nil
	case dex.ValueFloat:
		return floatLiteral(uint32(v.Bits)), nil
	case dex.ValueDouble:
		return doubleLiteral(v.Bits), nil
	case dex.ValueNull:
		return "null", nil
	case dex.ValueBoolean:
		if v.Bool() {
			return "true", nil
		}
		return "false", nil
	case dex.ValueString:
		s, err := r.pool.String(v.Index())
		if err != nil {
			return "", err
		}
		return quoteString(s), nil
	case dex.ValueTypeRef:
		return r.pool.Type(v.Index())
	case dex.ValueField:
		f, err := r.pool.Field(v.Index())
		if err != nil {
			return "", err
		}
		return f.String(), nil
	case dex.ValueEnum:
		f, err := r.pool.Field(v.Index())
		if err != nil {
			return "", err
		}
		return ".enum " + f.String(), nil
	case dex.ValueMethod:
		m, err := r.pool.Method(v.Index())
		if err != nil {
			return "", err
		}
		return m.String(), nil
	case dex.ValueMethodType:
		p, err := r.pool.Proto(v.Index())
		if err != nil {
			return "", err
		}
		return p.Descriptor(), nil
	case dex.ValueMethodHandle:
		h, err := r.pool.MethodHandle(v.Index())
		if err != nil {
			return "", err
		}
		return h.String(), nil
	case dex.ValueArray:
		return r.array(v.Array, indent)
	case dex.ValueAnnotation:
		return r.subannotation(v.Annotation, indent)
	}
	return "", fmt.Errorf("unknown encoded_value type 0x%02x", uint8(v.Type))
}

func (r *Renderer) array(vals []dex.Value, indent string) (string, error) {
	if len(vals) == 0 {
		return "{}", nil
	}
	inner := indent + "    "
	var b strings.Builder
	b.WriteString("{\n")
	for i, v := range vals {
		s, err := r.value(v, inner)
		if err != nil {
			return "", err
		}
		b.WriteString(inner)
		b.WriteString(s)
		if i < len(vals)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString(indent)
	b.WriteByte('}')
	return b.String(), nil
}

func (r *Renderer) subannotation(a *dex.Annotation, indent string) (string, error) {
	if a == nil {
		return "", fmt.Errorf("annotation value without body")
	}
	typ, err := r.pool.Type(a.TypeIdx)
	if err != nil {
		return "", err
	}
	inner := indent + "    "
	var b strings.Builder
	b.WriteString(".subannotation ")
	b.WriteString(typ)
	b.WriteByte('\n')
	for _, el := range a.Elements {
		name, err := r.pool.String(el.NameIdx)
		if err != nil {
			return "", err
		}
		s, err := r.value(el.Value, inner)
		if err != nil {
			return "", err
		}
		b.WriteString(inner)
		b.WriteString(name)
		b.WriteString(" = ")
		b.WriteString(s)
		b.WriteByte('\n')
	}
	b.WriteString(indent)
	b.WriteString(".end subannotation")
	return b.String(), nil
}
