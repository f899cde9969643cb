package dex

import (
	"fmt"

	"undex/internal/dexfmt"
)

// CodeItem is a decoded code_item.
// Layout:
//
//	+0x00: registers_size uint16
//	+0x02: ins_size       uint16
//	+0x04: outs_size      uint16
//	+0x06: tries_size     uint16
//	+0x08: debug_info_off uint32
//	+0x0c: insns_size     uint32 (16-bit code units)
//	+0x10: insns          [insns_size]uint16
//	       padding        uint16 if tries_size > 0 and insns_size is odd
//	       tries          [tries_size]try_item
//	       handlers       encoded_catch_handler_list
type CodeItem struct {
	Offset        uint32
	RegistersSize uint16
	InsSize       uint16
	OutsSize      uint16
	DebugInfoOff  uint32
	Insns         []uint16
	Tries         []TryItem
	Handlers      []CatchHandler
}

// TryItem covers code units [StartAddr, StartAddr+InsnCount). Handler
// indexes CodeItem.Handlers.
type TryItem struct {
	StartAddr uint32
	InsnCount uint16
	Handler   int
}

// End returns the first code unit past the covered range.
func (t TryItem) End() uint32 { return t.StartAddr + uint32(t.InsnCount) }

// CatchHandler is one encoded_catch_handler.
type CatchHandler struct {
	Offset      uint32 // byte offset from the start of the handler list
	Catches     []TypeAddrPair
	HasCatchAll bool
	CatchAll    uint32
}

// TypeAddrPair is a typed catch clause.
type TypeAddrPair struct {
	TypeIdx uint32
	Addr    uint32
}

// CodeItem decodes the code_item at off. The instruction array is copied out
// with exactly insns_size units.
func (c *Container) CodeItem(off uint32) (*CodeItem, error) {
	s := dexfmt.NewStream(c.buf, int(off))
	ci := &CodeItem{Offset: off}
	var err error
	if ci.RegistersSize, err = s.U16(); err != nil {
		return nil, fmt.Errorf("code_item: %w", err)
	}
	ci.InsSize, _ = s.U16()
	ci.OutsSize, _ = s.U16()
	tries, err := s.U16()
	if err != nil {
		return nil, fmt.Errorf("code_item: %w", err)
	}
	if ci.DebugInfoOff, err = s.U32(); err != nil {
		return nil, fmt.Errorf("code_item: %w", err)
	}
	n, err := s.U32()
	if err != nil {
		return nil, fmt.Errorf("code_item: %w", err)
	}
	if ci.InsSize > ci.RegistersSize {
		return nil, dexfmt.Errorf(dexfmt.KindFormat, int64(off), "ins_size %d exceeds registers_size %d", ci.InsSize, ci.RegistersSize)
	}
	raw, err := s.Bytes(int(n) * 2)
	if err != nil {
		return nil, fmt.Errorf("code_item: insns_size %d: %w", n, err)
	}
	ci.Insns = make([]uint16, n)
	for i := range ci.Insns {
		ci.Insns[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
	}
	if tries == 0 {
		return ci, nil
	}

	if n%2 == 1 {
		if err := s.Skip(2); err != nil {
			return nil, fmt.Errorf("code_item: padding: %w", err)
		}
	}
	type rawTry struct {
		start      uint32
		count      uint16
		handlerOff uint16
	}
	raws := make([]rawTry, tries)
	for i := range raws {
		start, err := s.U32()
		if err != nil {
			return nil, fmt.Errorf("code_item: try %d: %w", i, err)
		}
		count, err := s.U16()
		if err != nil {
			return nil, fmt.Errorf("code_item: try %d: %w", i, err)
		}
		hoff, err := s.U16()
		if err != nil {
			return nil, fmt.Errorf("code_item: try %d: %w", i, err)
		}
		if uint64(start)+uint64(count) > uint64(n) {
			return nil, dexfmt.Errorf(dexfmt.KindFormat, int64(s.Position()-8),
				"try %d covers [0x%x, 0x%x) past insns_size 0x%x", i, start, uint64(start)+uint64(count), n)
		}
		raws[i] = rawTry{start, count, hoff}
	}

	listStart := s.Position()
	if ci.Handlers, err = c.readHandlers(s, listStart); err != nil {
		return nil, fmt.Errorf("code_item: handlers: %w", err)
	}
	ci.Tries = make([]TryItem, len(raws))
	for i, r := range raws {
		h := -1
		for j, hd := range ci.Handlers {
			if hd.Offset == uint32(r.handlerOff) {
				h = j
				break
			}
		}
		if h < 0 {
			return nil, dexfmt.Errorf(dexfmt.KindFormat, int64(listStart),
				"try %d: handler offset 0x%x is not the start of a handler", i, r.handlerOff)
		}
		ci.Tries[i] = TryItem{StartAddr: r.start, InsnCount: r.count, Handler: h}
	}
	return ci, nil
}

func (c *Container) readHandlers(s *dexfmt.Stream, listStart int) ([]CatchHandler, error) {
	n, err := s.ULEB128()
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(len(c.buf)) {
		return nil, dexfmt.Errorf(dexfmt.KindTruncated, int64(listStart), "%d handlers", n)
	}
	nTypes := uint32(len(c.TypeIDs))
	out := make([]CatchHandler, 0, n)
	for i := uint32(0); i < n; i++ {
		h := CatchHandler{Offset: uint32(s.Position() - listStart)}
		size, err := s.SLEB128()
		if err != nil {
			return nil, err
		}
		pairs := size
		if pairs < 0 {
			pairs = -pairs
		}
		if int64(pairs) > int64(len(c.buf)) {
			return nil, dexfmt.Errorf(dexfmt.KindTruncated, int64(s.Position()), "handler with %d clauses", pairs)
		}
		for j := int32(0); j < pairs; j++ {
			typ, err := s.ULEB128()
			if err != nil {
				return nil, err
			}
			addr, err := s.ULEB128()
			if err != nil {
				return nil, err
			}
			if typ >= nTypes {
				return nil, dexfmt.OutOfRange("type", typ, nTypes)
			}
			h.Catches = append(h.Catches, TypeAddrPair{TypeIdx: typ, Addr: addr})
		}
		if size <= 0 {
			addr, err := s.ULEB128()
			if err != nil {
				return nil, err
			}
			h.HasCatchAll = true
			h.CatchAll = addr
		}
		out = append(out, h)
	}
	return out, nil
}

// FirstParamRegister returns the first register holding an incoming argument.
func (ci *CodeItem) FirstParamRegister() int {
	return int(ci.RegistersSize) - int(ci.InsSize)
}
