package dex

import (
	"fmt"

	"undex/internal/dexfmt"
)

// ProtoID is a proto_id_item.
type ProtoID struct {
	ShortyIdx     uint32 `json:"shorty_idx"`
	ReturnTypeIdx uint32 `json:"return_type_idx"`
	ParametersOff uint32 `json:"parameters_off"`
}

// FieldID is a field_id_item.
type FieldID struct {
	ClassIdx uint16 `json:"class_idx"`
	TypeIdx  uint16 `json:"type_idx"`
	NameIdx  uint32 `json:"name_idx"`
}

// MethodID is a method_id_item.
type MethodID struct {
	ClassIdx uint16 `json:"class_idx"`
	ProtoIdx uint16 `json:"proto_idx"`
	NameIdx  uint32 `json:"name_idx"`
}

// ClassDef is a class_def_item.
type ClassDef struct {
	ClassIdx        uint32      `json:"class_idx"`
	AccessFlags     AccessFlags `json:"access_flags"`
	SuperclassIdx   uint32      `json:"superclass_idx"`
	InterfacesOff   uint32      `json:"interfaces_off"`
	SourceFileIdx   uint32      `json:"source_file_idx"`
	AnnotationsOff  uint32      `json:"annotations_off"`
	ClassDataOff    uint32      `json:"class_data_off"`
	StaticValuesOff uint32      `json:"static_values_off"`
	Offset          uint32      `json:"offset"` // of the class_def_item
}

// HasSuperclass is false only for the root type.
func (d ClassDef) HasSuperclass() bool { return d.SuperclassIdx != NoIndex }

// HasSourceFile reports whether a source file name is recorded.
func (d ClassDef) HasSourceFile() bool { return d.SourceFileIdx != NoIndex }

// MethodHandleKind is the method_handle_item type.
type MethodHandleKind uint16

const (
	HandleStaticPut MethodHandleKind = iota
	HandleStaticGet
	HandleInstancePut
	HandleInstanceGet
	HandleInvokeStatic
	HandleInvokeInstance
	HandleInvokeConstructor
	HandleInvokeDirect
	HandleInvokeInterface
)

var handleKindNames = [...]string{
	"static-put", "static-get", "instance-put", "instance-get",
	"invoke-static", "invoke-instance", "invoke-constructor", "invoke-direct", "invoke-interface",
}

func (k MethodHandleKind) String() string {
	if int(k) < len(handleKindNames) {
		return handleKindNames[k]
	}
	return fmt.Sprintf("handle(%d)", uint16(k))
}

// IsField reports whether the handle's target is a field_id.
func (k MethodHandleKind) IsField() bool { return k <= HandleInstanceGet }

// MethodHandle is a method_handle_item.
type MethodHandle struct {
	Kind     MethodHandleKind `json:"kind"`
	TargetID uint16           `json:"target_id"`
}

// Container is one parsed DEX file. It is immutable after Parse and safe
// for concurrent use.
type Container struct {
	buf dexfmt.Buffer

	Header        *Header
	Map           []MapItem
	StringIDs     []uint32 // string_data_off per string
	TypeIDs       []uint32 // descriptor string index per type
	ProtoIDs      []ProtoID
	FieldIDs      []FieldID
	MethodIDs     []MethodID
	ClassDefs     []ClassDef
	CallSiteIDs   []uint32 // encoded_array_item offset per call site
	MethodHandles []MethodHandle
}

// Parse validates the header and eagerly reads every fixed index table.
// String text and code bodies are read on demand. Any failure here is fatal:
// there is no partial Container.
func Parse(data []byte) (*Container, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("dex: header: %w", err)
	}
	c := &Container{buf: dexfmt.Buffer(data[:h.FileSize]), Header: h}

	if h.MapOff != 0 {
		c.Map, err = parseMapList(c.buf, h.MapOff)
		if err != nil {
			return nil, fmt.Errorf("dex: %w", err)
		}
		if err := checkMapAgrees(h, c.Map); err != nil {
			return nil, fmt.Errorf("dex: %w", err)
		}
	}

	if err := c.readTables(); err != nil {
		return nil, fmt.Errorf("dex: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("dex: %w", err)
	}
	return c, nil
}

// Bytes returns the underlying image, limited to file_size.
func (c *Container) Bytes() dexfmt.Buffer { return c.buf }

// Version returns the numeric container version (35, 37, ...).
func (c *Container) Version() int { return c.Header.Version }

// table checks that count records of width bytes fit at off.
func (c *Container) table(name string, sec Section, width int) (*dexfmt.Stream, error) {
	if sec.Size == 0 {
		return dexfmt.NewStream(c.buf, 0), nil
	}
	need := uint64(sec.Size) * uint64(width)
	if uint64(sec.Off)+need > uint64(len(c.buf)) {
		return nil, dexfmt.Errorf(dexfmt.KindTruncated, int64(sec.Off),
			"%s: %d records at 0x%x run past end of file", name, sec.Size, sec.Off)
	}
	return dexfmt.NewStream(c.buf, int(sec.Off)), nil
}

// The bounds of each table are checked up front, so per-record reads
// inside the loops below cannot fail.
func (c *Container) readTables() error {
	h := c.Header

	s, err := c.table("string_ids", h.StringIDs, 4)
	if err != nil {
		return err
	}
	c.StringIDs = make([]uint32, h.StringIDs.Size)
	for i := range c.StringIDs {
		c.StringIDs[i], _ = s.U32()
	}

	if s, err = c.table("type_ids", h.TypeIDs, 4); err != nil {
		return err
	}
	c.TypeIDs = make([]uint32, h.TypeIDs.Size)
	for i := range c.TypeIDs {
		c.TypeIDs[i], _ = s.U32()
	}

	if s, err = c.table("proto_ids", h.ProtoIDs, 12); err != nil {
		return err
	}
	c.ProtoIDs = make([]ProtoID, h.ProtoIDs.Size)
	for i := range c.ProtoIDs {
		p := &c.ProtoIDs[i]
		p.ShortyIdx, _ = s.U32()
		p.ReturnTypeIdx, _ = s.U32()
		p.ParametersOff, _ = s.U32()
	}

	if s, err = c.table("field_ids", h.FieldIDs, 8); err != nil {
		return err
	}
	c.FieldIDs = make([]FieldID, h.FieldIDs.Size)
	for i := range c.FieldIDs {
		f := &c.FieldIDs[i]
		f.ClassIdx, _ = s.U16()
		f.TypeIdx, _ = s.U16()
		f.NameIdx, _ = s.U32()
	}

	if s, err = c.table("method_ids", h.MethodIDs, 8); err != nil {
		return err
	}
	c.MethodIDs = make([]MethodID, h.MethodIDs.Size)
	for i := range c.MethodIDs {
		m := &c.MethodIDs[i]
		m.ClassIdx, _ = s.U16()
		m.ProtoIdx, _ = s.U16()
		m.NameIdx, _ = s.U32()
	}

	if s, err = c.table("class_defs", h.ClassDefs, 32); err != nil {
		return err
	}
	c.ClassDefs = make([]ClassDef, h.ClassDefs.Size)
	for i := range c.ClassDefs {
		d := &c.ClassDefs[i]
		d.Offset = uint32(s.Position())
		d.ClassIdx, _ = s.U32()
		flags, _ := s.U32()
		d.AccessFlags = AccessFlags(flags)
		d.SuperclassIdx, _ = s.U32()
		d.InterfacesOff, _ = s.U32()
		d.SourceFileIdx, _ = s.U32()
		d.AnnotationsOff, _ = s.U32()
		d.ClassDataOff, _ = s.U32()
		d.StaticValuesOff, _ = s.U32()
	}

	if it, ok := c.Find(TypeCallSiteIDItem); ok {
		if s, err = c.table("call_site_ids", Section{Size: it.Size, Off: it.Off}, 4); err != nil {
			return err
		}
		c.CallSiteIDs = make([]uint32, it.Size)
		for i := range c.CallSiteIDs {
			c.CallSiteIDs[i], _ = s.U32()
		}
	}

	if it, ok := c.Find(TypeMethodHandleItem); ok {
		if s, err = c.table("method_handles", Section{Size: it.Size, Off: it.Off}, 8); err != nil {
			return err
		}
		c.MethodHandles = make([]MethodHandle, it.Size)
		for i := range c.MethodHandles {
			mh := &c.MethodHandles[i]
			kind, _ := s.U16()
			_ = s.Skip(2)
			mh.Kind = MethodHandleKind(kind)
			mh.TargetID, _ = s.U16()
			_ = s.Skip(2)
		}
	}
	return nil
}

// validate checks every fixed record's indices against the target table.
func (c *Container) validate() error {
	nStrings := uint32(len(c.StringIDs))
	nTypes := uint32(len(c.TypeIDs))
	nProtos := uint32(len(c.ProtoIDs))

	for i, off := range c.StringIDs {
		if off >= uint32(len(c.buf)) {
			return dexfmt.Errorf(dexfmt.KindTruncated, int64(off), "string %d data offset past end of file", i)
		}
	}
	for i, si := range c.TypeIDs {
		if si >= nStrings {
			return idxErr("type", i, dexfmt.OutOfRange("string", si, nStrings))
		}
	}
	for i, p := range c.ProtoIDs {
		if p.ShortyIdx >= nStrings {
			return idxErr("proto", i, dexfmt.OutOfRange("string", p.ShortyIdx, nStrings))
		}
		if p.ReturnTypeIdx >= nTypes {
			return idxErr("proto", i, dexfmt.OutOfRange("type", p.ReturnTypeIdx, nTypes))
		}
	}
	for i, f := range c.FieldIDs {
		switch {
		case uint32(f.ClassIdx) >= nTypes:
			return idxErr("field", i, dexfmt.OutOfRange("type", uint32(f.ClassIdx), nTypes))
		case uint32(f.TypeIdx) >= nTypes:
			return idxErr("field", i, dexfmt.OutOfRange("type", uint32(f.TypeIdx), nTypes))
		case f.NameIdx >= nStrings:
			return idxErr("field", i, dexfmt.OutOfRange("string", f.NameIdx, nStrings))
		}
	}
	for i, m := range c.MethodIDs {
		switch {
		case uint32(m.ClassIdx) >= nTypes:
			return idxErr("method", i, dexfmt.OutOfRange("type", uint32(m.ClassIdx), nTypes))
		case uint32(m.ProtoIdx) >= nProtos:
			return idxErr("method", i, dexfmt.OutOfRange("proto", uint32(m.ProtoIdx), nProtos))
		case m.NameIdx >= nStrings:
			return idxErr("method", i, dexfmt.OutOfRange("string", m.NameIdx, nStrings))
		}
	}
	for i, d := range c.ClassDefs {
		switch {
		case d.ClassIdx >= nTypes:
			return idxErr("class_def", i, dexfmt.OutOfRange("type", d.ClassIdx, nTypes))
		case d.HasSuperclass() && d.SuperclassIdx >= nTypes:
			return idxErr("class_def", i, dexfmt.OutOfRange("type", d.SuperclassIdx, nTypes))
		case d.HasSourceFile() && d.SourceFileIdx >= nStrings:
			return idxErr("class_def", i, dexfmt.OutOfRange("string", d.SourceFileIdx, nStrings))
		}
	}
	for i, mh := range c.MethodHandles {
		if mh.Kind > HandleInvokeInterface {
			return dexfmt.Errorf(dexfmt.KindFormat, -1, "method_handle %d: unknown kind %d", i, mh.Kind)
		}
		target, n := "method", uint32(len(c.MethodIDs))
		if mh.Kind.IsField() {
			target, n = "field", uint32(len(c.FieldIDs))
		}
		if uint32(mh.TargetID) >= n {
			return idxErr("method_handle", i, dexfmt.OutOfRange(target, uint32(mh.TargetID), n))
		}
	}
	return nil
}

func idxErr(table string, i int, err *dexfmt.Error) error {
	return fmt.Errorf("%s %d: %w", table, i, err)
}

// String decodes string i. It does not cache; see package pool.
func (c *Container) String(i uint32) (string, error) {
	if i >= uint32(len(c.StringIDs)) {
		return "", dexfmt.OutOfRange("string", i, uint32(len(c.StringIDs)))
	}
	s, _, err := c.buf.StringData(int(c.StringIDs[i]))
	if err != nil {
		return "", fmt.Errorf("string %d: %w", i, err)
	}
	return s, nil
}

// TypeDescriptor returns the descriptor string of type i.
func (c *Container) TypeDescriptor(i uint32) (string, error) {
	if i >= uint32(len(c.TypeIDs)) {
		return "", dexfmt.OutOfRange("type", i, uint32(len(c.TypeIDs)))
	}
	return c.String(c.TypeIDs[i])
}

// TypeList reads the type_list at off. A zero offset is an empty list.
func (c *Container) TypeList(off uint32) ([]uint16, error) {
	if off == 0 {
		return nil, nil
	}
	s := dexfmt.NewStream(c.buf, int(off))
	n, err := s.U32()
	if err != nil {
		return nil, fmt.Errorf("type_list: %w", err)
	}
	raw, err := s.Bytes(int(n) * 2)
	if err != nil {
		return nil, fmt.Errorf("type_list of %d entries: %w", n, err)
	}
	nTypes := uint32(len(c.TypeIDs))
	out := make([]uint16, n)
	for i := range out {
		out[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
		if uint32(out[i]) >= nTypes {
			return nil, dexfmt.OutOfRange("type", uint32(out[i]), nTypes)
		}
	}
	return out, nil
}
