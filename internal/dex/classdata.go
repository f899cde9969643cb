package dex

import (
	"fmt"

	"undex/internal/dexfmt"
)

// EncodedField is one class_data_item field entry with its index resolved
// from the running delta. Offset is the entry's byte offset in the file.
type EncodedField struct {
	FieldIdx    uint32      `json:"field_idx"`
	AccessFlags AccessFlags `json:"access_flags"`
	Offset      uint32      `json:"offset"`
}

// EncodedMethod is one class_data_item method entry. CodeOff is zero for
// abstract and native methods.
type EncodedMethod struct {
	MethodIdx   uint32      `json:"method_idx"`
	AccessFlags AccessFlags `json:"access_flags"`
	CodeOff     uint32      `json:"code_off"`
	Offset      uint32      `json:"offset"`
}

// HasCode reports whether the method carries a code_item.
func (m EncodedMethod) HasCode() bool { return m.CodeOff != 0 }

// ClassData is a decoded class_data_item.
type ClassData struct {
	StaticFields   []EncodedField
	InstanceFields []EncodedField
	DirectMethods  []EncodedMethod
	VirtualMethods []EncodedMethod
}

// ClassData decodes the member lists of def. A class with no data offset
// yields an empty ClassData.
//
// Layout: four uleb128 counts, then the field and method lists in order.
// Member indices are deltas from the previous entry of the same list; the
// first entry of each list is absolute.
func (c *Container) ClassData(def ClassDef) (*ClassData, error) {
	cd := &ClassData{}
	if def.ClassDataOff == 0 {
		return cd, nil
	}
	s := dexfmt.NewStream(c.buf, int(def.ClassDataOff))
	var counts [4]uint32
	for i := range counts {
		v, err := s.ULEB128()
		if err != nil {
			return nil, fmt.Errorf("class_data: %w", err)
		}
		counts[i] = v
	}
	// Each entry takes at least two bytes; reject counts the file cannot hold.
	total := uint64(counts[0]) + uint64(counts[1]) + uint64(counts[2]) + uint64(counts[3])
	if total*2 > uint64(len(c.buf)) {
		return nil, dexfmt.Errorf(dexfmt.KindTruncated, int64(def.ClassDataOff), "class_data declares %d members", total)
	}

	var err error
	if cd.StaticFields, err = c.readFields(s, counts[0]); err != nil {
		return nil, fmt.Errorf("class_data: static fields: %w", err)
	}
	if cd.InstanceFields, err = c.readFields(s, counts[1]); err != nil {
		return nil, fmt.Errorf("class_data: instance fields: %w", err)
	}
	if cd.DirectMethods, err = c.readMethods(s, counts[2]); err != nil {
		return nil, fmt.Errorf("class_data: direct methods: %w", err)
	}
	if cd.VirtualMethods, err = c.readMethods(s, counts[3]); err != nil {
		return nil, fmt.Errorf("class_data: virtual methods: %w", err)
	}
	return cd, nil
}

func (c *Container) readFields(s *dexfmt.Stream, n uint32) ([]EncodedField, error) {
	out := make([]EncodedField, 0, n)
	idx := uint32(0)
	for i := uint32(0); i < n; i++ {
		at := uint32(s.Position())
		diff, err := s.ULEB128()
		if err != nil {
			return nil, err
		}
		flags, err := s.ULEB128()
		if err != nil {
			return nil, err
		}
		idx += diff
		if idx >= uint32(len(c.FieldIDs)) {
			return nil, dexfmt.OutOfRange("field", idx, uint32(len(c.FieldIDs)))
		}
		out = append(out, EncodedField{FieldIdx: idx, AccessFlags: AccessFlags(flags), Offset: at})
	}
	return out, nil
}

func (c *Container) readMethods(s *dexfmt.Stream, n uint32) ([]EncodedMethod, error) {
	out := make([]EncodedMethod, 0, n)
	idx := uint32(0)
	for i := uint32(0); i < n; i++ {
		at := uint32(s.Position())
		diff, err := s.ULEB128()
		if err != nil {
			return nil, err
		}
		flags, err := s.ULEB128()
		if err != nil {
			return nil, err
		}
		codeOff, err := s.ULEB128()
		if err != nil {
			return nil, err
		}
		idx += diff
		if idx >= uint32(len(c.MethodIDs)) {
			return nil, dexfmt.OutOfRange("method", idx, uint32(len(c.MethodIDs)))
		}
		out = append(out, EncodedMethod{MethodIdx: idx, AccessFlags: AccessFlags(flags), CodeOff: codeOff, Offset: at})
	}
	return out, nil
}
