package smali

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"undex/internal/disasm"
)

// inst renders one instruction or payload as indented lines.
func (m *method) inst(in *disasm.Inst) []string {
	switch o := in.Operands.(type) {
	case disasm.PackedSwitch:
		return m.packedSwitch(in, o)
	case disasm.SparseSwitch:
		return m.sparseSwitch(in, o)
	case disasm.ArrayData:
		return arrayData(o)
	}
	ops := m.operands(in)
	if ops == "" {
		return []string{indent + in.Name()}
	}
	return []string{indent + in.Name() + " " + ops}
}

func (m *method) reg(n uint16) string {
	if m.r.opts.ParamRegisters {
		if first := m.code.FirstParamRegister(); int(n) >= first {
			return "p" + strconv.Itoa(int(n)-first)
		}
	}
	return "v" + strconv.Itoa(int(n))
}

func (m *method) regs(a ...uint8) string {
	parts := make([]string, len(a))
	for i, r := range a {
		parts[i] = m.reg(uint16(r))
	}
	return strings.Join(parts, ", ")
}

func (m *method) regList(regs []uint8) string {
	return "{" + m.regs(regs...) + "}"
}

func (m *method) regRange(first uint16, count uint8) string {
	if count == 0 {
		return "{}"
	}
	return "{" + m.reg(first) + " .. " + m.reg(first+uint16(count)-1) + "}"
}

// target renders the branch or payload label an instruction points at.
func (m *method) target(in *disasm.Inst) string {
	addr, _ := in.Target()
	t := disasm.Target{From: in.Addr, Addr: addr, Kind: disasm.TargetCond}
	switch in.Format() {
	case disasm.Fmt10t, disasm.Fmt20t, disasm.Fmt30t:
		t.Kind = disasm.TargetGoto
	case disasm.Fmt31t:
		switch in.Op {
		case disasm.OpPackedSwitch:
			t.Kind = disasm.TargetPackedData
		case disasm.OpSparseSwitch:
			t.Kind = disasm.TargetSparseData
		default:
			t.Kind = disasm.TargetArrayData
		}
	}
	return ":" + t.Label()
}

func (m *method) literal(in *disasm.Inst, v int64) string {
	if in.Info().Flags&disasm.FlagWideLiteral != 0 {
		return wideLiteral(v)
	}
	return hexInt(v)
}

// ref renders a pool reference. Failures are recorded at the instruction
// and rendered as kind@index.
func (m *method) ref(in *disasm.Inst, kind disasm.RefKind, idx uint32) string {
	s, err := m.resolve(kind, idx)
	if err != nil {
		m.diags.AddErr(uint64(in.Addr), fmt.Errorf("%s: %w", in.Name(), err))
		return fmt.Sprintf("%s@%d", kind, idx)
	}
	return s
}

func (m *method) resolve(kind disasm.RefKind, idx uint32) (string, error) {
	p := m.r.pool
	switch kind {
	case disasm.RefString:
		s, err := p.String(idx)
		if err != nil {
			return "", err
		}
		return quoteString(s), nil
	case disasm.RefType:
		return p.Type(idx)
	case disasm.RefField:
		f, err := p.Field(idx)
		if err != nil {
			return "", err
		}
		return f.String(), nil
	case disasm.RefMethod:
		mr, err := p.Method(idx)
		if err != nil {
			return "", err
		}
		return mr.String(), nil
	case disasm.RefProto:
		pr, err := p.Proto(idx)
		if err != nil {
			return "", err
		}
		return pr.Descriptor(), nil
	case disasm.RefMethodHandle:
		h, err := p.MethodHandle(idx)
		if err != nil {
			return "", err
		}
		return h.String(), nil
	case disasm.RefCallSite:
		return m.callSite(idx)
	}
	return "", fmt.Errorf("no reference of kind %s", kind)
}

// callSite renders call_site_N("name", (P)R, extra...)@bootstrap.
func (m *method) callSite(idx uint32) (string, error) {
	cs, err := m.r.pool.CallSite(idx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "call_site_%d(%s, %s", idx, quoteString(cs.Name), cs.Type.Descriptor())
	for _, v := range cs.Extra {
		s, err := m.r.value(v, indent)
		if err != nil {
			return "", err
		}
		b.WriteString(", ")
		b.WriteString(s)
	}
	b.WriteString(")@")
	if cs.Bootstrap.Method != nil {
		b.WriteString(cs.Bootstrap.Method.String())
	} else {
		b.WriteString(cs.Bootstrap.String())
	}
	return b.String(), nil
}

func (m *method) operands(in *disasm.Inst) string {
	ref := in.Info().Ref
	switch o := in.Operands.(type) {
	case disasm.F10x:
		return ""
	case disasm.F12x:
		return m.regs(o.A, o.B)
	case disasm.F11n:
		return m.reg(uint16(o.A)) + ", " + hexInt(o.Lit)
	case disasm.F11x:
		return m.reg(uint16(o.A))
	case disasm.F10t, disasm.F20t, disasm.F30t:
		return m.target(in)
	case disasm.F22x:
		return m.reg(uint16(o.A)) + ", " + m.reg(o.B)
	case disasm.F21t:
		return m.reg(uint16(o.A)) + ", " + m.target(in)
	case disasm.F21s:
		return m.reg(uint16(o.A)) + ", " + m.literal(in, o.Lit)
	case disasm.F21h:
		return m.reg(uint16(o.A)) + ", " + m.literal(in, o.Lit)
	case disasm.F21c:
		return m.reg(uint16(o.A)) + ", " + m.ref(in, ref, o.Index)
	case disasm.F23x:
		return m.regs(o.A, o.B, o.C)
	case disasm.F22b:
		return m.regs(o.A, o.B) + ", " + hexInt(o.Lit)
	case disasm.F22t:
		return m.regs(o.A, o.B) + ", " + m.target(in)
	case disasm.F22s:
		return m.regs(o.A, o.B) + ", " + hexInt(o.Lit)
	case disasm.F22c:
		return m.regs(o.A, o.B) + ", " + m.ref(in, ref, o.Index)
	case disasm.F32x:
		return m.reg(o.A) + ", " + m.reg(o.B)
	case disasm.F31i:
		return m.reg(uint16(o.A)) + ", " + m.literal(in, o.Lit)
	case disasm.F31t:
		return m.reg(uint16(o.A)) + ", " + m.target(in)
	case disasm.F31c:
		return m.reg(uint16(o.A)) + ", " + m.ref(in, ref, o.Index)
	case disasm.F35c:
		return m.regList(o.Regs) + ", " + m.ref(in, ref, o.Index)
	case disasm.F3rc:
		return m.regRange(o.First, o.Count) + ", " + m.ref(in, ref, o.Index)
	case disasm.F45cc:
		return m.regList(o.Regs) + ", " + m.ref(in, ref, o.Method) + ", " + m.ref(in, in.Info().Ref2, o.Proto)
	case disasm.F4rcc:
		return m.regRange(o.First, o.Count) + ", " + m.ref(in, ref, o.Method) + ", " + m.ref(in, in.Info().Ref2, o.Proto)
	case disasm.F51l:
		return m.reg(uint16(o.A)) + ", " + m.literal(in, o.Lit)
	}
	return ""
}

// caseLabel names a switch case. Without a referring switch the offset
// cannot be resolved to an address and is printed relative.
func (m *method) caseLabel(payload uint32, kind disasm.TargetKind, rel int32) string {
	from, ok := m.res.Referrer(payload)
	if !ok {
		return ":" + kind.String() + "_offset_" + hexInt(int64(rel))
	}
	t := disasm.Target{From: from, Addr: uint32(int64(from) + int64(rel)), Kind: kind}
	return ":" + t.Label()
}

func (m *method) packedSwitch(in *disasm.Inst, p disasm.PackedSwitch) []string {
	out := make([]string, 0, len(p.Targets)+2)
	out = append(out, indent+".packed-switch "+hexInt(int64(p.FirstKey)))
	for _, rel := range p.Targets {
		out = append(out, indent+indent+m.caseLabel(in.Addr, disasm.TargetPackedCase, rel))
	}
	return append(out, indent+".end packed-switch")
}

func (m *method) sparseSwitch(in *disasm.Inst, p disasm.SparseSwitch) []string {
	out := make([]string, 0, len(p.Targets)+2)
	out = append(out, indent+".sparse-switch")
	for i, rel := range p.Targets {
		out = append(out, indent+indent+hexInt(int64(p.Keys[i]))+" -> "+m.caseLabel(in.Addr, disasm.TargetSparseCase, rel))
	}
	return append(out, indent+".end sparse-switch")
}

func arrayData(a disasm.ArrayData) []string {
	out := make([]string, 0, a.Count+2)
	out = append(out, indent+".array-data "+strconv.Itoa(int(a.ElementWidth)))
	w := int(a.ElementWidth)
	for i := 0; i < int(a.Count); i++ {
		b := a.Data[i*w : (i+1)*w]
		var s string
		switch w {
		case 1:
			s = byteLiteral(int64(int8(b[0])))
		case 2:
			s = shortLiteral(int64(int16(binary.LittleEndian.Uint16(b))))
		case 4:
			s = hexInt(int64(int32(binary.LittleEndian.Uint32(b))))
		default:
			s = longLiteral(int64(binary.LittleEndian.Uint64(b)))
		}
		out = append(out, indent+indent+s)
	}
	return append(out, indent+".end array-data")
}
