package disasm

// Operands is the closed set of per-format operand records. Each decoded
// instruction carries exactly one of the types below.
type Operands interface {
	format() Format
}

// Register fields are named after the letters of the format notation:
// A is the first register or literal slot, B the second, and so on.
type (
	F10x struct{}
	F12x struct{ A, B uint8 }
	F11n struct {
		A   uint8
		Lit int64
	}
	F11x struct{ A uint8 }
	F10t struct{ Offset int32 }
	F20t struct{ Offset int32 }
	F22x struct {
		A uint8
		B uint16
	}
	F21t struct {
		A      uint8
		Offset int32
	}
	F21s struct {
		A   uint8
		Lit int64
	}
	// F21h holds the literal already shifted into place.
	F21h struct {
		A   uint8
		Lit int64
	}
	F21c struct {
		A     uint8
		Index uint32
	}
	F23x struct{ A, B, C uint8 }
	F22b struct {
		A, B uint8
		Lit  int64
	}
	F22t struct {
		A, B   uint8
		Offset int32
	}
	F22s struct {
		A, B uint8
		Lit  int64
	}
	F22c struct {
		A, B  uint8
		Index uint32
	}
	F30t struct{ Offset int32 }
	F32x struct{ A, B uint16 }
	F31i struct {
		A   uint8
		Lit int64
	}
	F31t struct {
		A      uint8
		Offset int32
	}
	F31c struct {
		A     uint8
		Index uint32
	}
	F35c struct {
		Regs  []uint8
		Index uint32
	}
	F3rc struct {
		First uint16
		Count uint8
		Index uint32
	}
	F45cc struct {
		Regs   []uint8
		Method uint32
		Proto  uint32
	}
	F4rcc struct {
		First  uint16
		Count  uint8
		Method uint32
		Proto  uint32
	}
	F51l struct {
		A   uint8
		Lit int64
	}
)

// PackedSwitch is a packed-switch-payload. Targets are relative to the
// switch instruction that references the payload.
type PackedSwitch struct {
	FirstKey int32
	Targets  []int32
}

// SparseSwitch is a sparse-switch-payload.
type SparseSwitch struct {
	Keys    []int32
	Targets []int32
}

// ArrayData is a fill-array-data-payload.
type ArrayData struct {
	ElementWidth uint16
	Count        uint32
	Data         []byte
}

func (F10x) format() Format         { return Fmt10x }
func (F12x) format() Format         { return Fmt12x }
func (F11n) format() Format         { return Fmt11n }
func (F11x) format() Format         { return Fmt11x }
func (F10t) format() Format         { return Fmt10t }
func (F20t) format() Format         { return Fmt20t }
func (F22x) format() Format         { return Fmt22x }
func (F21t) format() Format         { return Fmt21t }
func (F21s) format() Format         { return Fmt21s }
func (F21h) format() Format         { return Fmt21h }
func (F21c) format() Format         { return Fmt21c }
func (F23x) format() Format         { return Fmt23x }
func (F22b) format() Format         { return Fmt22b }
func (F22t) format() Format         { return Fmt22t }
func (F22s) format() Format         { return Fmt22s }
func (F22c) format() Format         { return Fmt22c }
func (F30t) format() Format         { return Fmt30t }
func (F32x) format() Format         { return Fmt32x }
func (F31i) format() Format         { return Fmt31i }
func (F31t) format() Format         { return Fmt31t }
func (F31c) format() Format         { return Fmt31c }
func (F35c) format() Format         { return Fmt35c }
func (F3rc) format() Format         { return Fmt3rc }
func (F45cc) format() Format        { return Fmt45cc }
func (F4rcc) format() Format        { return Fmt4rcc }
func (F51l) format() Format         { return Fmt51l }
func (PackedSwitch) format() Format { return FmtPackedSwitchPayload }
func (SparseSwitch) format() Format { return FmtSparseSwitchPayload }
func (ArrayData) format() Format    { return FmtFillArrayDataPayload }

// Inst is one decoded instruction or payload.
type Inst struct {
	Addr     uint32 // code-unit offset within the method
	Op       Opcode
	Width    int // code units consumed
	Operands Operands
}

// Format returns the encoding shape of the instruction.
func (in *Inst) Format() Format { return in.Operands.format() }

// IsPayload reports whether the instruction is switch or array data rather
// than executable code.
func (in *Inst) IsPayload() bool {
	switch in.Operands.(type) {
	case PackedSwitch, SparseSwitch, ArrayData:
		return true
	}
	return false
}

// Name returns the mnemonic.
func (in *Inst) Name() string {
	switch in.Operands.(type) {
	case PackedSwitch:
		return "packed-switch-payload"
	case SparseSwitch:
		return "sparse-switch-payload"
	case ArrayData:
		return "fill-array-data-payload"
	}
	return in.Op.String()
}

// Info returns the opcode table row.
func (in *Inst) Info() *OpInfo { return in.Op.Info() }

// Offset returns the relative branch or payload offset, if any.
func (in *Inst) Offset() (int32, bool) {
	switch o := in.Operands.(type) {
	case F10t:
		return o.Offset, true
	case F20t:
		return o.Offset, true
	case F30t:
		return o.Offset, true
	case F21t:
		return o.Offset, true
	case F22t:
		return o.Offset, true
	case F31t:
		return o.Offset, true
	}
	return 0, false
}

// Target returns the absolute code-unit address of a branch or payload.
func (in *Inst) Target() (uint32, bool) {
	off, ok := in.Offset()
	if !ok {
		return 0, false
	}
	return uint32(int64(in.Addr) + int64(off)), true
}

// Index returns the primary pool index and its kind.
func (in *Inst) Index() (RefKind, uint32, bool) {
	ref := in.Info().Ref
	if ref == RefNone {
		return RefNone, 0, false
	}
	switch o := in.Operands.(type) {
	case F21c:
		return ref, o.Index, true
	case F22c:
		return ref, o.Index, true
	case F31c:
		return ref, o.Index, true
	case F35c:
		return ref, o.Index, true
	case F3rc:
		return ref, o.Index, true
	case F45cc:
		return ref, o.Method, true
	case F4rcc:
		return ref, o.Method, true
	}
	return RefNone, 0, false
}
