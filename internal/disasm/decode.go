package disasm

import (
	"fmt"

	"undex/internal/dex"
	"undex/internal/dexfmt"
)

// Result is the decoded instruction stream of one code item. Diagnostic
// offsets are code-unit addresses within the method.
type Result struct {
	Insts    []Inst
	Consumed int // code units covered by successfully decoded instructions
	Diags    []dexfmt.Diag

	index    map[uint32]int
	referrer map[uint32]uint32
}

// At returns the instruction starting at addr.
func (r *Result) At(addr uint32) (*Inst, bool) {
	i, ok := r.index[addr]
	if !ok {
		return nil, false
	}
	return &r.Insts[i], true
}

// Referrer returns the address of the first switch or fill-array-data
// instruction that points at the payload at addr.
func (r *Result) Referrer(payload uint32) (uint32, bool) {
	a, ok := r.referrer[payload]
	return a, ok
}

// Degraded reports whether any instruction failed to decode.
func (r *Result) Degraded() bool { return dexfmt.HasErrors(r.Diags) }

type decoder struct {
	insns   []uint16
	version int
	counts  [RefMethodHandle + 1]int
	res     *Result
}

// Decode walks code.Insns from address 0 and decodes every instruction and
// payload in order. A failing instruction never stops the walk: unknown
// opcodes, invalid shapes and truncated tails are recorded and the cursor
// moves one code unit forward; an instruction whose pool index is out of
// range is dropped but its width is skipped in full.
func Decode(c *dex.Container, code *dex.CodeItem) *Result {
	d := &decoder{
		insns:   code.Insns,
		version: c.Version(),
		res: &Result{
			index:    make(map[uint32]int),
			referrer: make(map[uint32]uint32),
		},
	}
	d.counts[RefString] = len(c.StringIDs)
	d.counts[RefType] = len(c.TypeIDs)
	d.counts[RefField] = len(c.FieldIDs)
	d.counts[RefMethod] = len(c.MethodIDs)
	d.counts[RefProto] = len(c.ProtoIDs)
	d.counts[RefCallSite] = len(c.CallSiteIDs)
	d.counts[RefMethodHandle] = len(c.MethodHandles)

	n := len(d.insns)
	for pc := 0; pc < n; {
		in, skip, err := d.decodeAt(pc)
		if err != nil {
			d.diag(pc, err)
			pc += skip
			continue
		}
		d.res.index[in.Addr] = len(d.res.Insts)
		d.res.Insts = append(d.res.Insts, in)
		d.res.Consumed += in.Width
		pc += in.Width
	}
	d.checkTargets()
	return d.res
}

func (d *decoder) diag(pc int, err error) {
	var diags dexfmt.Diags
	diags.AddErr(uint64(pc), err)
	d.res.Diags = append(d.res.Diags, diags.Items()...)
}

// decodeAt decodes the instruction at pc. On failure it returns how many
// code units to skip.
func (d *decoder) decodeAt(pc int) (Inst, int, error) {
	w0 := d.insns[pc]
	op := Opcode(w0 & 0xff)

	if op == OpNop {
		switch w0 {
		case PackedSwitchIdent, SparseSwitchIdent, FillArrayDataIdent:
			return d.payload(pc, w0)
		}
	}

	info, ok := Lookup(op, d.version)
	if !ok {
		if row := op.Info(); row.Name != "" {
			return Inst{}, 1, dexfmt.Errorf(dexfmt.KindUnknownOpcode, int64(pc),
				"%s requires dex %03d, file is %03d", row.Name, row.MinVersion, d.version)
		}
		return Inst{}, 1, dexfmt.Errorf(dexfmt.KindUnknownOpcode, int64(pc), "unassigned opcode 0x%02x", uint8(op))
	}

	width := info.Format.Width()
	if pc+width > len(d.insns) {
		return Inst{}, 1, dexfmt.Errorf(dexfmt.KindTruncated, int64(pc),
			"%s needs %d code units, %d left", info.Name, width, len(d.insns)-pc)
	}
	u := d.insns[pc : pc+width]
	operands, err := operandsOf(info.Format, u)
	if err != nil {
		return Inst{}, 1, wrapAt(err, pc, info.Name)
	}
	in := Inst{Addr: uint32(pc), Op: op, Width: width, Operands: operands}
	if err := d.checkRefs(&in, info, u); err != nil {
		return Inst{}, width, wrapAt(err, pc, info.Name)
	}
	return in, 0, nil
}

func wrapAt(err error, pc int, name string) error {
	e, ok := err.(*dexfmt.Error)
	if !ok {
		return dexfmt.Wrap(err, int64(pc), "%s", name)
	}
	return &dexfmt.Error{Kind: e.Kind, Offset: int64(pc), Detail: name + ": " + e.Detail}
}

func (d *decoder) checkRefs(in *Inst, info *OpInfo, u []uint16) error {
	if kind, idx, ok := in.Index(); ok {
		if err := d.inRange(kind, idx); err != nil {
			return err
		}
	}
	if info.Ref2 != RefNone {
		if err := d.inRange(info.Ref2, uint32(u[3])); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) inRange(kind RefKind, idx uint32) error {
	if n := d.counts[kind]; idx >= uint32(n) {
		return dexfmt.OutOfRange(kind.String(), idx, uint32(n))
	}
	return nil
}

func u32(lo, hi uint16) uint32 { return uint32(lo) | uint32(hi)<<16 }

// operandsOf extracts the operand fields of format f from its code units.
// len(u) is f.Width().
func operandsOf(f Format, u []uint16) (Operands, error) {
	w0 := u[0]
	aa := uint8(w0 >> 8)
	a := uint8(w0>>8) & 0xf
	b := uint8(w0 >> 12)

	switch f {
	case Fmt10x:
		return F10x{}, nil
	case Fmt12x:
		return F12x{A: a, B: b}, nil
	case Fmt11n:
		return F11n{A: a, Lit: int64(signExtend(uint32(b), 4))}, nil
	case Fmt11x:
		return F11x{A: aa}, nil
	case Fmt10t:
		return F10t{Offset: int32(int8(aa))}, nil
	case Fmt20t:
		return F20t{Offset: int32(int16(u[1]))}, nil
	case Fmt22x:
		return F22x{A: aa, B: u[1]}, nil
	case Fmt21t:
		return F21t{A: aa, Offset: int32(int16(u[1]))}, nil
	case Fmt21s:
		return F21s{A: aa, Lit: int64(int16(u[1]))}, nil
	case Fmt21h:
		if Opcode(w0&0xff) == OpConstHigh16 {
			return F21h{A: aa, Lit: int64(int32(uint32(u[1]) << 16))}, nil
		}
		return F21h{A: aa, Lit: int64(uint64(u[1]) << 48)}, nil
	case Fmt21c:
		return F21c{A: aa, Index: uint32(u[1])}, nil
	case Fmt23x:
		return F23x{A: aa, B: uint8(u[1]), C: uint8(u[1] >> 8)}, nil
	case Fmt22b:
		return F22b{A: aa, B: uint8(u[1]), Lit: int64(int8(u[1] >> 8))}, nil
	case Fmt22t:
		return F22t{A: a, B: b, Offset: int32(int16(u[1]))}, nil
	case Fmt22s:
		return F22s{A: a, B: b, Lit: int64(int16(u[1]))}, nil
	case Fmt22c:
		return F22c{A: a, B: b, Index: uint32(u[1])}, nil
	case Fmt30t:
		return F30t{Offset: int32(u32(u[1], u[2]))}, nil
	case Fmt32x:
		return F32x{A: u[1], B: u[2]}, nil
	case Fmt31i:
		return F31i{A: aa, Lit: int64(int32(u32(u[1], u[2])))}, nil
	case Fmt31t:
		return F31t{A: aa, Offset: int32(u32(u[1], u[2]))}, nil
	case Fmt31c:
		return F31c{A: aa, Index: u32(u[1], u[2])}, nil
	case Fmt35c:
		regs, err := invokeRegs(b, a, u[2])
		if err != nil {
			return nil, err
		}
		return F35c{Regs: regs, Index: uint32(u[1])}, nil
	case Fmt3rc:
		return F3rc{First: u[2], Count: aa, Index: uint32(u[1])}, nil
	case Fmt45cc:
		regs, err := invokeRegs(b, a, u[2])
		if err != nil {
			return nil, err
		}
		return F45cc{Regs: regs, Method: uint32(u[1]), Proto: uint32(u[3])}, nil
	case Fmt4rcc:
		return F4rcc{First: u[2], Count: aa, Method: uint32(u[1]), Proto: uint32(u[3])}, nil
	case Fmt51l:
		v := uint64(u[1]) | uint64(u[2])<<16 | uint64(u[3])<<32 | uint64(u[4])<<48
		return F51l{A: aa, Lit: int64(v)}, nil
	}
	return nil, dexfmt.Errorf(dexfmt.KindUnsupported, -1, "no decoder for format %s", f)
}

// invokeRegs unpacks the A|G|op BBBB F|E|D|C register list of 35c and 45cc.
func invokeRegs(count, g uint8, fedc uint16) ([]uint8, error) {
	if count > 5 {
		return nil, dexfmt.Errorf(dexfmt.KindFormat, -1, "register count %d exceeds 5", count)
	}
	all := [5]uint8{
		uint8(fedc) & 0xf,
		uint8(fedc>>4) & 0xf,
		uint8(fedc>>8) & 0xf,
		uint8(fedc >> 12),
		g,
	}
	regs := make([]uint8, count)
	copy(regs, all[:count])
	return regs, nil
}

func (d *decoder) payload(pc int, ident uint16) (Inst, int, error) {
	left := len(d.insns) - pc
	trunc := func(name string, need uint64) error {
		return dexfmt.Errorf(dexfmt.KindTruncated, int64(pc), "%s needs %d code units, %d left", name, need, left)
	}
	at := func(i int) uint16 { return d.insns[pc+i] }

	switch ident {
	case PackedSwitchIdent:
		if left < 4 {
			return Inst{}, 1, trunc("packed-switch-payload", 4)
		}
		size := int(at(1))
		width := 4 + size*2
		if width > left {
			return Inst{}, 1, trunc("packed-switch-payload", uint64(width))
		}
		p := PackedSwitch{FirstKey: int32(u32(at(2), at(3))), Targets: make([]int32, size)}
		for i := range size {
			p.Targets[i] = int32(u32(at(4+2*i), at(5+2*i)))
		}
		return Inst{Addr: uint32(pc), Op: OpNop, Width: width, Operands: p}, 0, nil

	case SparseSwitchIdent:
		if left < 2 {
			return Inst{}, 1, trunc("sparse-switch-payload", 2)
		}
		size := int(at(1))
		width := 2 + size*4
		if width > left {
			return Inst{}, 1, trunc("sparse-switch-payload", uint64(width))
		}
		p := SparseSwitch{Keys: make([]int32, size), Targets: make([]int32, size)}
		for i := range size {
			p.Keys[i] = int32(u32(at(2+2*i), at(3+2*i)))
			p.Targets[i] = int32(u32(at(2+2*size+2*i), at(3+2*size+2*i)))
		}
		return Inst{Addr: uint32(pc), Op: OpNop, Width: width, Operands: p}, 0, nil
	}

	if left < 4 {
		return Inst{}, 1, trunc("fill-array-data-payload", 4)
	}
	elem := at(1)
	switch elem {
	case 1, 2, 4, 8:
	default:
		return Inst{}, 1, dexfmt.Errorf(dexfmt.KindFormat, int64(pc), "fill-array-data-payload: element width %d", elem)
	}
	count := u32(at(2), at(3))
	need := 4 + (uint64(count)*uint64(elem)+1)/2
	if need > uint64(left) {
		return Inst{}, 1, trunc("fill-array-data-payload", need)
	}
	width := int(need)
	data := make([]byte, 0, int(count)*int(elem))
	for i := 4; i < width; i++ {
		w := at(i)
		data = append(data, byte(w), byte(w>>8))
	}
	data = data[:int(count)*int(elem)]
	return Inst{
		Addr:     uint32(pc),
		Op:       OpNop,
		Width:    width,
		Operands: ArrayData{ElementWidth: elem, Count: count, Data: data},
	}, 0, nil
}

// checkTargets records a warning for every branch, switch case or payload
// reference that does not land on a decoded instruction of the right kind.
func (d *decoder) checkTargets() {
	for _, t := range d.res.Targets() {
		in, ok := d.res.At(t.Addr)
		var problem string
		switch {
		case !ok:
			problem = "is not an instruction start"
		case t.Kind.IsData() && !payloadMatches(t.Kind, in):
			problem = "is not a " + t.Kind.payloadName()
		case !t.Kind.IsData() && in.IsPayload():
			problem = "is a payload"
		}
		if problem == "" {
			if t.Kind.IsData() {
				if _, seen := d.res.referrer[t.Addr]; !seen {
					d.res.referrer[t.Addr] = t.From
				}
			}
			continue
		}
		d.res.Diags = append(d.res.Diags, dexfmt.Diag{
			Offset: uint64(t.From),
			Kind:   dexfmt.KindMalformedControlFlow,
			Msg:    fmt.Sprintf("%s target 0x%x %s", t.Kind, t.Addr, problem),
		})
	}
}

func payloadMatches(k TargetKind, in *Inst) bool {
	switch in.Operands.(type) {
	case PackedSwitch:
		return k == TargetPackedData
	case SparseSwitch:
		return k == TargetSparseData
	case ArrayData:
		return k == TargetArrayData
	}
	return false
}
