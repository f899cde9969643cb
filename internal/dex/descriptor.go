package dex

import (
	"strings"

	"undex/internal/dexfmt"
)

var primitiveNames = map[byte]string{
	'V': "void",
	'Z': "boolean",
	'B': "byte",
	'S': "short",
	'C': "char",
	'I': "int",
	'J': "long",
	'F': "float",
	'D': "double",
}

var primitiveDescriptors = map[string]byte{
	"void":    'V',
	"boolean": 'Z',
	"byte":    'B',
	"short":   'S',
	"char":    'C',
	"int":     'I',
	"long":    'J',
	"float":   'F',
	"double":  'D',
}

func descErr(desc, format string, args ...any) error {
	return dexfmt.Errorf(dexfmt.KindFormat, -1, "descriptor %q: "+format, append([]any{desc}, args...)...)
}

// DisplayName converts a type descriptor to its source-level form:
// "Ljava/lang/String;" becomes "java.lang.String" and "[[I" becomes "int[][]".
//
// Descriptor inverts it for every descriptor except a default-package class
// named after a primitive ("Lint;" displays as "int", which reads back as
// "I"). Such classes are legal but cannot be told apart in display form.
func DisplayName(desc string) (string, error) {
	dims := 0
	for dims < len(desc) && desc[dims] == '[' {
		dims++
	}
	base := desc[dims:]
	if base == "" {
		return "", descErr(desc, "missing element type")
	}
	var name string
	switch {
	case len(base) == 1:
		p, ok := primitiveNames[base[0]]
		if !ok {
			return "", descErr(desc, "unknown primitive %q", base)
		}
		if base[0] == 'V' && dims > 0 {
			return "", descErr(desc, "array of void")
		}
		name = p
	case base[0] == 'L' && base[len(base)-1] == ';':
		inner := base[1 : len(base)-1]
		if err := checkClassName(desc, inner); err != nil {
			return "", err
		}
		name = strings.ReplaceAll(inner, "/", ".")
	default:
		return "", descErr(desc, "malformed")
	}
	return name + strings.Repeat("[]", dims), nil
}

func checkClassName(desc, inner string) error {
	if inner == "" {
		return descErr(desc, "empty class name")
	}
	if strings.ContainsAny(inner, ".;[") {
		return descErr(desc, "invalid character in class name")
	}
	for _, part := range strings.Split(inner, "/") {
		if part == "" {
			return descErr(desc, "empty package component")
		}
	}
	return nil
}

// Descriptor converts a display name back into a type descriptor.
func Descriptor(display string) (string, error) {
	dims := 0
	base := display
	for strings.HasSuffix(base, "[]") {
		base = base[:len(base)-2]
		dims++
	}
	prefix := strings.Repeat("[", dims)
	if c, ok := primitiveDescriptors[base]; ok {
		if c == 'V' && dims > 0 {
			return "", descErr(display, "array of void")
		}
		return prefix + string(c), nil
	}
	if base == "" || strings.ContainsAny(base, "/;[]") {
		return "", descErr(display, "malformed display name")
	}
	desc := prefix + "L" + strings.ReplaceAll(base, ".", "/") + ";"
	if err := checkClassName(desc, strings.ReplaceAll(base, ".", "/")); err != nil {
		return "", err
	}
	return desc, nil
}

// IsWide reports whether values of the type occupy a register pair.
func IsWide(desc string) bool { return desc == "J" || desc == "D" }
