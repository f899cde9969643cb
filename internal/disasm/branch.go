package disasm

import "strconv"

// Branch, switch and payload target extraction over a decoded method.
// Offsets are in code units relative to the referencing instruction; switch
// case offsets are relative to the switch, not to its payload.

// TargetKind says how an address is referenced.
type TargetKind uint8

const (
	TargetGoto       TargetKind = iota // goto, goto/16, goto/32
	TargetCond                         // if-*
	TargetPackedCase                   // packed-switch case
	TargetSparseCase                   // sparse-switch case
	TargetPackedData                   // packed-switch -> payload
	TargetSparseData                   // sparse-switch -> payload
	TargetArrayData                    // fill-array-data -> payload
)

var targetNames = [...]string{"goto", "cond", "pswitch", "sswitch", "pswitch_data", "sswitch_data", "array"}

// String returns the label prefix used for the kind.
func (k TargetKind) String() string {
	if int(k) < len(targetNames) {
		return targetNames[k]
	}
	return "target"
}

// IsData reports whether the target is a payload rather than code.
func (k TargetKind) IsData() bool {
	return k == TargetPackedData || k == TargetSparseData || k == TargetArrayData
}

func (k TargetKind) payloadName() string {
	switch k {
	case TargetPackedData:
		return "packed-switch-payload"
	case TargetSparseData:
		return "sparse-switch-payload"
	}
	return "fill-array-data-payload"
}

// Target is one reference from an instruction to a code address.
type Target struct {
	From uint32
	Addr uint32
	Kind TargetKind
}

// Targets lists every branch, payload and switch case target in address
// order of the referencing instruction. Case targets are only produced when
// the switch's payload decoded with the matching shape.
func (r *Result) Targets() []Target {
	var out []Target
	for i := range r.Insts {
		in := &r.Insts[i]
		addr, ok := in.Target()
		if !ok {
			continue
		}
		flags := in.Info().Flags
		switch {
		case flags&FlagBranch != 0:
			kind := TargetCond
			if in.Format() == Fmt10t || in.Format() == Fmt20t || in.Format() == Fmt30t {
				kind = TargetGoto
			}
			out = append(out, Target{From: in.Addr, Addr: addr, Kind: kind})
		case in.Op == OpPackedSwitch:
			out = append(out, Target{From: in.Addr, Addr: addr, Kind: TargetPackedData})
			if p, ok := r.At(addr); ok {
				if ps, ok := p.Operands.(PackedSwitch); ok {
					out = appendCases(out, in.Addr, ps.Targets, TargetPackedCase)
				}
			}
		case in.Op == OpSparseSwitch:
			out = append(out, Target{From: in.Addr, Addr: addr, Kind: TargetSparseData})
			if p, ok := r.At(addr); ok {
				if ss, ok := p.Operands.(SparseSwitch); ok {
					out = appendCases(out, in.Addr, ss.Targets, TargetSparseCase)
				}
			}
		case in.Op == OpFillArrayData:
			out = append(out, Target{From: in.Addr, Addr: addr, Kind: TargetArrayData})
		}
	}
	return out
}

// Label returns the label naming the target address, e.g. "goto_1a".
func (t Target) Label() string {
	return t.Kind.String() + "_" + strconv.FormatUint(uint64(t.Addr), 16)
}

// Valid reports whether t lands on a decoded instruction of the kind it
// expects: a payload of the matching shape for data targets, code otherwise.
func (r *Result) Valid(t Target) bool {
	in, ok := r.At(t.Addr)
	if !ok {
		return false
	}
	if t.Kind.IsData() {
		return payloadMatches(t.Kind, in)
	}
	return !in.IsPayload()
}

func appendCases(out []Target, from uint32, rel []int32, kind TargetKind) []Target {
	for _, off := range rel {
		out = append(out, Target{From: from, Addr: uint32(int64(from) + int64(off)), Kind: kind})
	}
	return out
}

// IsTerminator reports whether control never falls through past in.
func IsTerminator(in *Inst) bool {
	if in.IsPayload() {
		return true
	}
	f := in.Info().Flags
	switch {
	case f&(FlagReturn|FlagThrow) != 0:
		return true
	case f&FlagBranch != 0:
		return in.Format() == Fmt10t || in.Format() == Fmt20t || in.Format() == Fmt30t
	}
	return false
}

// signExtend sign-extends a value from the given bit width to int32.
func signExtend(val uint32, bits int) int32 {
	sign := uint32(1) << (bits - 1)
	mask := sign - 1
	if val&sign != 0 {
		return int32(val | ^mask) // negative
	}
	return int32(val & mask)
}
