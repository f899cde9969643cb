// Package dextest assembles small, valid DEX images for tests.
//
// Indices are handed out in insertion order and stay stable, so a test can
// intern a method reference, encode it into an instruction word, and
// attach the code to a class before calling Build.
package dextest

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"math"
	"sort"
	"strings"

	"undex/internal/dexfmt"
)

const (
	AccPublic      = 0x1
	AccPrivate     = 0x2
	AccStatic      = 0x8
	AccFinal       = 0x10
	AccInterface   = 0x200
	AccAbstract    = 0x400
	AccConstructor = 0x10000

	noIndex = 0xffffffff
)

// Builder accumulates pool entries and classes.
type Builder struct {
	Version int

	strings   []string
	stringIdx map[string]uint32
	types     []uint32
	typeIdx   map[string]uint32
	protos    []proto
	protoIdx  map[string]uint32
	fields    []memberRef
	fieldIdx  map[string]uint32
	methods   []memberRef
	methodIdx map[string]uint32
	handles   [][2]uint16
	callSites [][]byte
	classes   []*Class
}

type proto struct {
	shorty, ret uint32
	params      []uint32
}

type memberRef struct {
	class, typ uint16 // typ is a type index for fields, a proto index for methods
	name       uint32
}

// New returns a builder for a version 035 file.
func New() *Builder {
	return &Builder{
		Version:   35,
		stringIdx: map[string]uint32{},
		typeIdx:   map[string]uint32{},
		protoIdx:  map[string]uint32{},
		fieldIdx:  map[string]uint32{},
		methodIdx: map[string]uint32{},
	}
}

// String interns s and returns its string index.
func (b *Builder) String(s string) uint32 {
	if i, ok := b.stringIdx[s]; ok {
		return i
	}
	i := uint32(len(b.strings))
	b.strings = append(b.strings, s)
	b.stringIdx[s] = i
	return i
}

// Type interns a type descriptor and returns its type index.
func (b *Builder) Type(desc string) uint32 {
	if i, ok := b.typeIdx[desc]; ok {
		return i
	}
	i := uint32(len(b.types))
	b.types = append(b.types, b.String(desc))
	b.typeIdx[desc] = i
	return i
}

func shortyChar(desc string) string {
	if desc[0] == 'L' || desc[0] == '[' {
		return "L"
	}
	return desc[:1]
}

// Proto interns a prototype and returns its proto index.
func (b *Builder) Proto(ret string, params ...string) uint32 {
	key := "(" + strings.Join(params, "") + ")" + ret
	if i, ok := b.protoIdx[key]; ok {
		return i
	}
	shorty := shortyChar(ret)
	p := proto{ret: b.Type(ret)}
	for _, pd := range params {
		shorty += shortyChar(pd)
		p.params = append(p.params, b.Type(pd))
	}
	p.shorty = b.String(shorty)
	i := uint32(len(b.protos))
	b.protos = append(b.protos, p)
	b.protoIdx[key] = i
	return i
}

// Field interns a field reference and returns its field index.
func (b *Builder) Field(class, name, typ string) uint32 {
	key := class + "->" + name + ":" + typ
	if i, ok := b.fieldIdx[key]; ok {
		return i
	}
	f := memberRef{class: uint16(b.Type(class)), typ: uint16(b.Type(typ)), name: b.String(name)}
	i := uint32(len(b.fields))
	b.fields = append(b.fields, f)
	b.fieldIdx[key] = i
	return i
}

// Method interns a method reference and returns its method index.
func (b *Builder) Method(class, name, ret string, params ...string) uint32 {
	key := class + "->" + name + "(" + strings.Join(params, "") + ")" + ret
	if i, ok := b.methodIdx[key]; ok {
		return i
	}
	m := memberRef{class: uint16(b.Type(class)), typ: uint16(b.Proto(ret, params...)), name: b.String(name)}
	i := uint32(len(b.methods))
	b.methods = append(b.methods, m)
	b.methodIdx[key] = i
	return i
}

// MethodHandle adds a method_handle_item and returns its index.
func (b *Builder) MethodHandle(kind uint16, target uint32) uint32 {
	b.handles = append(b.handles, [2]uint16{kind, uint16(target)})
	return uint32(len(b.handles) - 1)
}

// CallSite adds a call site whose encoded array holds the bootstrap handle,
// the method name and the method type, followed by extra values.
func (b *Builder) CallSite(handle uint32, name string, protoIdx uint32, extra ...Value) uint32 {
	vals := append([]Value{MethodHandleValue(handle), StringValue(b.String(name)), MethodTypeValue(protoIdx)}, extra...)
	b.callSites = append(b.callSites, encodeArray(vals))
	return uint32(len(b.callSites) - 1)
}

// Class describes one class_def_item with its members.
type Class struct {
	b          *Builder
	typ        uint32
	flags      uint32
	super      uint32
	source     uint32
	interfaces []uint32

	staticFields   []field
	instanceFields []field
	direct         []method
	virtual        []method
}

type field struct {
	idx   uint32
	flags uint32
	typ   string
	value Value
}

type method struct {
	idx   uint32
	flags uint32
	code  *Code
}

// Code is a method body.
type Code struct {
	Registers, Ins, Outs uint16
	Insns                []uint16
	Tries                []Try

	// Raw, when set, is written verbatim in place of the encoded code_item.
	Raw []byte
}

// Try is one try_item with its own handler.
type Try struct {
	Start       uint32
	Count       uint16
	Catches     []Catch
	CatchAll    uint32
	HasCatchAll bool
}

// Catch is one typed catch clause.
type Catch struct {
	Type string
	Addr uint32
}

// Class adds a class. An empty super records no superclass.
func (b *Builder) Class(desc string, flags uint32, super string) *Class {
	c := &Class{b: b, typ: b.Type(desc), flags: flags, super: noIndex, source: noIndex}
	if super != "" {
		c.super = b.Type(super)
	}
	b.classes = append(b.classes, c)
	return c
}

// Source sets the source file name.
func (c *Class) Source(name string) *Class {
	c.source = c.b.String(name)
	return c
}

// Implements adds interfaces.
func (c *Class) Implements(descs ...string) *Class {
	for _, d := range descs {
		c.interfaces = append(c.interfaces, c.b.Type(d))
	}
	return c
}

func (c *Class) className() string { return c.b.strings[c.b.types[c.typ]] }

// StaticField adds a static field. A nil Value leaves the default.
func (c *Class) StaticField(name, typ string, flags uint32, v Value) uint32 {
	idx := c.b.Field(c.className(), name, typ)
	c.staticFields = append(c.staticFields, field{idx: idx, flags: flags | AccStatic, typ: typ, value: v})
	return idx
}

// InstanceField adds an instance field.
func (c *Class) InstanceField(name, typ string, flags uint32) uint32 {
	idx := c.b.Field(c.className(), name, typ)
	c.instanceFields = append(c.instanceFields, field{idx: idx, flags: flags, typ: typ})
	return idx
}

func (c *Class) internCatches(code *Code) {
	if code == nil {
		return
	}
	for _, t := range code.Tries {
		for _, ct := range t.Catches {
			c.b.Type(ct.Type)
		}
	}
}

// DirectMethod adds a direct method. A nil code marks it abstract or native.
func (c *Class) DirectMethod(name string, flags uint32, code *Code, ret string, params ...string) uint32 {
	idx := c.b.Method(c.className(), name, ret, params...)
	c.internCatches(code)
	c.direct = append(c.direct, method{idx: idx, flags: flags, code: code})
	return idx
}

// VirtualMethod adds a virtual method.
func (c *Class) VirtualMethod(name string, flags uint32, code *Code, ret string, params ...string) uint32 {
	idx := c.b.Method(c.className(), name, ret, params...)
	c.internCatches(code)
	c.virtual = append(c.virtual, method{idx: idx, flags: flags, code: code})
	return idx
}

// Value is an encoded_value in wire form.
type Value []byte

func encodeSigned(typ byte, v int64) Value {
	size := 1
	for size < 8 {
		shift := uint(64 - 8*size)
		if (v<<shift)>>shift == v {
			break
		}
		size++
	}
	out := Value{byte(size-1)<<5 | typ}
	for i := 0; i < size; i++ {
		out = append(out, byte(v>>(8*i)))
	}
	return out
}

func encodeUnsigned(typ byte, v uint64) Value {
	size := 1
	for size < 8 && v>>(8*size) != 0 {
		size++
	}
	out := Value{byte(size-1)<<5 | typ}
	for i := 0; i < size; i++ {
		out = append(out, byte(v>>(8*i)))
	}
	return out
}

// Right-zero-extended: trailing zero bytes are dropped from the low end.
func encodeRight(typ byte, bits uint64, width int) Value {
	raw := make([]byte, width)
	for i := range raw {
		raw[i] = byte(bits >> (8 * i))
	}
	start := 0
	for start < width-1 && raw[start] == 0 {
		start++
	}
	return append(Value{byte(width-start-1)<<5 | typ}, raw[start:]...)
}

func ByteValue(v int8) Value           { return encodeSigned(0x00, int64(v)) }
func ShortValue(v int16) Value         { return encodeSigned(0x02, int64(v)) }
func CharValue(v uint16) Value         { return encodeUnsigned(0x03, uint64(v)) }
func IntValue(v int32) Value           { return encodeSigned(0x04, int64(v)) }
func LongValue(v int64) Value          { return encodeSigned(0x06, v) }
func FloatValue(f float32) Value       { return encodeRight(0x10, uint64(math.Float32bits(f)), 4) }
func DoubleValue(f float64) Value      { return encodeRight(0x11, math.Float64bits(f), 8) }
func MethodTypeValue(p uint32) Value   { return encodeUnsigned(0x15, uint64(p)) }
func MethodHandleValue(h uint32) Value { return encodeUnsigned(0x16, uint64(h)) }
func StringValue(s uint32) Value       { return encodeUnsigned(0x17, uint64(s)) }
func TypeValue(t uint32) Value         { return encodeUnsigned(0x18, uint64(t)) }
func NullValue() Value                 { return Value{0x1e} }

func BoolValue(v bool) Value {
	if v {
		return Value{1<<5 | 0x1f}
	}
	return Value{0x1f}
}

// ArrayValue nests values in an encoded_array.
func ArrayValue(vals ...Value) Value {
	return append(Value{0x1c}, encodeArray(vals)...)
}

func encodeArray(vals []Value) []byte {
	out := ULEB128(nil, uint32(len(vals)))
	for _, v := range vals {
		out = append(out, v...)
	}
	return out
}

func defaultValue(desc string) Value {
	switch desc[0] {
	case 'Z':
		return BoolValue(false)
	case 'B':
		return ByteValue(0)
	case 'S':
		return ShortValue(0)
	case 'C':
		return CharValue(0)
	case 'I':
		return IntValue(0)
	case 'J':
		return LongValue(0)
	case 'F':
		return FloatValue(0)
	case 'D':
		return DoubleValue(0)
	}
	return NullValue()
}

// ULEB128 appends the unsigned LEB128 encoding of v.
func ULEB128(dst []byte, v uint32) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(dst, c)
		}
		dst = append(dst, c|0x80)
	}
}

// SLEB128 appends the signed LEB128 encoding of v.
func SLEB128(dst []byte, v int32) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(dst, c)
		}
		dst = append(dst, c|0x80)
	}
}

type writer struct {
	buf []byte
}

func (w *writer) align(n int) {
	for len(w.buf)%n != 0 {
		w.buf = append(w.buf, 0)
	}
}

func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *writer) put32(at int, v uint32) { binary.LittleEndian.PutUint32(w.buf[at:], v) }
func (w *writer) put16(at int, v uint16) { binary.LittleEndian.PutUint16(w.buf[at:], v) }

type mapEntry struct {
	typ       uint16
	size, off uint32
}

type sectionPair struct {
	n  int
	at uint32
}

// Build lays out the file and fills in the header, checksum and signature.
func (b *Builder) Build() []byte {
	const headerSize = 0x70
	off := uint32(headerSize)
	section := func(n, width int) uint32 {
		start := off
		off += uint32(n * width)
		return start
	}
	stringIDsOff := section(len(b.strings), 4)
	typeIDsOff := section(len(b.types), 4)
	protoIDsOff := section(len(b.protos), 12)
	fieldIDsOff := section(len(b.fields), 8)
	methodIDsOff := section(len(b.methods), 8)
	classDefsOff := section(len(b.classes), 32)
	callSiteIDsOff := section(len(b.callSites), 4)
	handlesOff := section(len(b.handles), 8)
	dataOff := off

	w := &writer{buf: make([]byte, dataOff)}
	var maps []mapEntry
	maps = append(maps, mapEntry{0x0000, 1, 0})
	addMap := func(typ uint16, n int, at uint32) {
		if n > 0 {
			maps = append(maps, mapEntry{typ, uint32(n), at})
		}
	}
	addMap(0x0001, len(b.strings), stringIDsOff)
	addMap(0x0002, len(b.types), typeIDsOff)
	addMap(0x0003, len(b.protos), protoIDsOff)
	addMap(0x0004, len(b.fields), fieldIDsOff)
	addMap(0x0005, len(b.methods), methodIDsOff)
	addMap(0x0006, len(b.classes), classDefsOff)
	addMap(0x0007, len(b.callSites), callSiteIDsOff)
	addMap(0x0008, len(b.handles), handlesOff)

	// type lists
	typeLists := map[string]uint32{}
	var typeListCount int
	var typeListStart uint32
	typeList := func(idx []uint32) uint32 {
		if len(idx) == 0 {
			return 0
		}
		key := fmt.Sprint(idx)
		if at, ok := typeLists[key]; ok {
			return at
		}
		w.align(4)
		at := uint32(len(w.buf))
		if typeListCount == 0 {
			typeListStart = at
		}
		typeListCount++
		w.u32(uint32(len(idx)))
		for _, t := range idx {
			w.u16(uint16(t))
		}
		typeLists[key] = at
		return at
	}
	protoParams := make([]uint32, len(b.protos))
	for i, p := range b.protos {
		protoParams[i] = typeList(p.params)
	}
	classIfaces := make([]uint32, len(b.classes))
	for i, c := range b.classes {
		classIfaces[i] = typeList(c.interfaces)
	}
	addMap(0x1001, typeListCount, typeListStart)

	// string data
	stringData := make([]uint32, len(b.strings))
	stringDataStart := uint32(len(w.buf))
	for i, s := range b.strings {
		stringData[i] = uint32(len(w.buf))
		enc, units := dexfmt.EncodeMUTF8(s)
		w.buf = ULEB128(w.buf, uint32(units))
		w.buf = append(w.buf, enc...)
		w.buf = append(w.buf, 0)
	}
	addMap(0x2002, len(b.strings), stringDataStart)

	// code items
	codeOffs := map[*Code]uint32{}
	var codeCount int
	var codeStart uint32
	for _, c := range b.classes {
		for _, list := range [][]method{c.direct, c.virtual} {
			for _, m := range list {
				if m.code == nil {
					continue
				}
				w.align(4)
				at := uint32(len(w.buf))
				if codeCount == 0 {
					codeStart = at
				}
				codeCount++
				codeOffs[m.code] = at
				b.writeCode(w, m.code)
			}
		}
	}
	addMap(0x2001, codeCount, codeStart)

	// class data
	classData := make([]uint32, len(b.classes))
	var cdCount int
	var cdStart uint32
	for i, c := range b.classes {
		if len(c.staticFields)+len(c.instanceFields)+len(c.direct)+len(c.virtual) == 0 {
			continue
		}
		at := uint32(len(w.buf))
		if cdCount == 0 {
			cdStart = at
		}
		cdCount++
		classData[i] = at
		sortFields(c.staticFields)
		sortFields(c.instanceFields)
		sortMethods(c.direct)
		sortMethods(c.virtual)
		w.buf = ULEB128(w.buf, uint32(len(c.staticFields)))
		w.buf = ULEB128(w.buf, uint32(len(c.instanceFields)))
		w.buf = ULEB128(w.buf, uint32(len(c.direct)))
		w.buf = ULEB128(w.buf, uint32(len(c.virtual)))
		for _, list := range [][]field{c.staticFields, c.instanceFields} {
			prev := uint32(0)
			for _, f := range list {
				w.buf = ULEB128(w.buf, f.idx-prev)
				w.buf = ULEB128(w.buf, f.flags)
				prev = f.idx
			}
		}
		for _, list := range [][]method{c.direct, c.virtual} {
			prev := uint32(0)
			for _, m := range list {
				w.buf = ULEB128(w.buf, m.idx-prev)
				w.buf = ULEB128(w.buf, m.flags)
				w.buf = ULEB128(w.buf, codeOffs[m.code])
				prev = m.idx
			}
		}
	}
	addMap(0x2000, cdCount, cdStart)

	// encoded arrays: static values, then call sites
	staticValues := make([]uint32, len(b.classes))
	var arrCount int
	var arrStart uint32
	addArray := func(data []byte) uint32 {
		at := uint32(len(w.buf))
		if arrCount == 0 {
			arrStart = at
		}
		arrCount++
		w.buf = append(w.buf, data...)
		return at
	}
	for i, c := range b.classes {
		last := -1
		for j, f := range c.staticFields {
			if f.value != nil {
				last = j
			}
		}
		if last < 0 {
			continue
		}
		vals := make([]Value, 0, last+1)
		for _, f := range c.staticFields[:last+1] {
			if f.value == nil {
				vals = append(vals, defaultValue(f.typ))
			} else {
				vals = append(vals, f.value)
			}
		}
		staticValues[i] = addArray(encodeArray(vals))
	}
	callSiteOffs := make([]uint32, len(b.callSites))
	for i, cs := range b.callSites {
		callSiteOffs[i] = addArray(cs)
	}
	addMap(0x2005, arrCount, arrStart)

	// map list
	w.align(4)
	mapOff := uint32(len(w.buf))
	maps = append(maps, mapEntry{0x1000, 1, mapOff})
	w.u32(uint32(len(maps)))
	for _, m := range maps {
		w.u16(m.typ)
		w.u16(0)
		w.u32(m.size)
		w.u32(m.off)
	}

	// id sections
	for i := range b.strings {
		w.put32(int(stringIDsOff)+4*i, stringData[i])
	}
	for i, t := range b.types {
		w.put32(int(typeIDsOff)+4*i, t)
	}
	for i, p := range b.protos {
		at := int(protoIDsOff) + 12*i
		w.put32(at, p.shorty)
		w.put32(at+4, p.ret)
		w.put32(at+8, protoParams[i])
	}
	for i, f := range b.fields {
		at := int(fieldIDsOff) + 8*i
		w.put16(at, f.class)
		w.put16(at+2, f.typ)
		w.put32(at+4, f.name)
	}
	for i, m := range b.methods {
		at := int(methodIDsOff) + 8*i
		w.put16(at, m.class)
		w.put16(at+2, m.typ)
		w.put32(at+4, m.name)
	}
	for i, c := range b.classes {
		at := int(classDefsOff) + 32*i
		w.put32(at, c.typ)
		w.put32(at+4, c.flags)
		w.put32(at+8, c.super)
		w.put32(at+12, classIfaces[i])
		w.put32(at+16, c.source)
		w.put32(at+20, 0)
		w.put32(at+24, classData[i])
		w.put32(at+28, staticValues[i])
	}
	for i := range b.callSites {
		w.put32(int(callSiteIDsOff)+4*i, callSiteOffs[i])
	}
	for i, h := range b.handles {
		at := int(handlesOff) + 8*i
		w.put16(at, h[0])
		w.put16(at+4, h[1])
	}

	// header
	copy(w.buf, fmt.Sprintf("dex\n%03d\x00", b.Version))
	fileSize := uint32(len(w.buf))
	w.put32(0x20, fileSize)
	w.put32(0x24, headerSize)
	w.put32(0x28, 0x12345678)
	w.put32(0x34, mapOff)
	pairs := []sectionPair{
		{len(b.strings), stringIDsOff},
		{len(b.types), typeIDsOff},
		{len(b.protos), protoIDsOff},
		{len(b.fields), fieldIDsOff},
		{len(b.methods), methodIDsOff},
		{len(b.classes), classDefsOff},
	}
	for i, p := range pairs {
		if p.n > 0 {
			w.put32(0x38+8*i, uint32(p.n))
			w.put32(0x3c+8*i, p.at)
		}
	}
	w.put32(0x68, fileSize-dataOff)
	w.put32(0x6c, dataOff)
	Fixup(w.buf)
	return w.buf
}

func (b *Builder) writeCode(w *writer, c *Code) {
	if c.Raw != nil {
		w.buf = append(w.buf, c.Raw...)
		return
	}
	w.u16(c.Registers)
	w.u16(c.Ins)
	w.u16(c.Outs)
	w.u16(uint16(len(c.Tries)))
	w.u32(0)
	w.u32(uint32(len(c.Insns)))
	for _, u := range c.Insns {
		w.u16(u)
	}
	if len(c.Tries) == 0 {
		return
	}
	if len(c.Insns)%2 == 1 {
		w.u16(0)
	}
	// one handler per try
	var list []byte
	list = ULEB128(list, uint32(len(c.Tries)))
	handlerOffs := make([]uint16, len(c.Tries))
	for i, t := range c.Tries {
		handlerOffs[i] = uint16(len(list))
		size := int32(len(t.Catches))
		if t.HasCatchAll {
			size = -size
		}
		list = SLEB128(list, size)
		for _, ct := range t.Catches {
			list = ULEB128(list, b.Type(ct.Type))
			list = ULEB128(list, ct.Addr)
		}
		if t.HasCatchAll {
			list = ULEB128(list, t.CatchAll)
		}
	}
	for i, t := range c.Tries {
		w.u32(t.Start)
		w.u16(t.Count)
		w.u16(handlerOffs[i])
	}
	w.buf = append(w.buf, list...)
}

func sortFields(fs []field) {
	sort.SliceStable(fs, func(i, j int) bool { return fs[i].idx < fs[j].idx })
}

func sortMethods(ms []method) {
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].idx < ms[j].idx })
}

// Fixup recomputes the signature and checksum of an edited image.
func Fixup(data []byte) {
	sig := sha1.Sum(data[32:])
	copy(data[12:32], sig[:])
	binary.LittleEndian.PutUint32(data[8:], adler32.Checksum(data[12:]))
}
