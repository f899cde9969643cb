package disasm

import "fmt"

// Format is a Dalvik instruction encoding shape. The name encodes the width
// in code units, the register count and the operand kind, e.g. 22c is two
// units, two registers and a constant pool index.
type Format uint8

const (
	FmtInvalid Format = iota
	Fmt10x
	Fmt12x
	Fmt11n
	Fmt11x
	Fmt10t
	Fmt20t
	Fmt22x
	Fmt21t
	Fmt21s
	Fmt21h
	Fmt21c
	Fmt23x
	Fmt22b
	Fmt22t
	Fmt22s
	Fmt22c
	Fmt30t
	Fmt32x
	Fmt31i
	Fmt31t
	Fmt31c
	Fmt35c
	Fmt3rc
	Fmt45cc
	Fmt4rcc
	Fmt51l
	FmtPackedSwitchPayload
	FmtSparseSwitchPayload
	FmtFillArrayDataPayload
)

var formatNames = [...]string{
	FmtInvalid:              "invalid",
	Fmt10x:                  "10x",
	Fmt12x:                  "12x",
	Fmt11n:                  "11n",
	Fmt11x:                  "11x",
	Fmt10t:                  "10t",
	Fmt20t:                  "20t",
	Fmt22x:                  "22x",
	Fmt21t:                  "21t",
	Fmt21s:                  "21s",
	Fmt21h:                  "21h",
	Fmt21c:                  "21c",
	Fmt23x:                  "23x",
	Fmt22b:                  "22b",
	Fmt22t:                  "22t",
	Fmt22s:                  "22s",
	Fmt22c:                  "22c",
	Fmt30t:                  "30t",
	Fmt32x:                  "32x",
	Fmt31i:                  "31i",
	Fmt31t:                  "31t",
	Fmt31c:                  "31c",
	Fmt35c:                  "35c",
	Fmt3rc:                  "3rc",
	Fmt45cc:                 "45cc",
	Fmt4rcc:                 "4rcc",
	Fmt51l:                  "51l",
	FmtPackedSwitchPayload:  "packed-switch-payload",
	FmtSparseSwitchPayload:  "sparse-switch-payload",
	FmtFillArrayDataPayload: "fill-array-data-payload",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("format(%d)", uint8(f))
}

// Width returns the fixed size in code units. Payload formats are variable
// and return 0.
func (f Format) Width() int {
	switch f {
	case Fmt10x, Fmt12x, Fmt11n, Fmt11x, Fmt10t:
		return 1
	case Fmt20t, Fmt22x, Fmt21t, Fmt21s, Fmt21h, Fmt21c, Fmt23x, Fmt22b, Fmt22t, Fmt22s, Fmt22c:
		return 2
	case Fmt30t, Fmt32x, Fmt31i, Fmt31t, Fmt31c, Fmt35c, Fmt3rc:
		return 3
	case Fmt45cc, Fmt4rcc:
		return 4
	case Fmt51l:
		return 5
	}
	return 0
}

// RefKind names the pool an index operand points into.
type RefKind uint8

const (
	RefNone RefKind = iota
	RefString
	RefType
	RefField
	RefMethod
	RefProto
	RefCallSite
	RefMethodHandle
)

var refNames = [...]string{"none", "string", "type", "field", "method", "proto", "call_site", "method_handle"}

func (k RefKind) String() string {
	if int(k) < len(refNames) {
		return refNames[k]
	}
	return fmt.Sprintf("ref(%d)", uint8(k))
}

// Flags describe control-flow and literal properties of an opcode.
type Flags uint16

const (
	FlagBranch      Flags = 1 << iota // goto, if-*
	FlagSwitch                        // packed-switch, sparse-switch
	FlagPayloadRef                    // operand is the offset of a payload
	FlagInvoke                        // invoke-*
	FlagReturn                        // return*
	FlagThrow                         // throw
	FlagWideLiteral                   // const-wide*
)

// Opcode is the low byte of an instruction's first code unit.
type Opcode uint8

// OpInfo is one row of the opcode table.
type OpInfo struct {
	Name       string
	Format     Format
	Ref        RefKind
	Ref2       RefKind // second index of 45cc and 4rcc
	MinVersion int
	Flags      Flags
}

const (
	OpNop           Opcode = 0x00
	OpConstHigh16   Opcode = 0x15
	OpConstString   Opcode = 0x1a
	OpFillArrayData Opcode = 0x26
	OpGoto          Opcode = 0x28
	OpPackedSwitch  Opcode = 0x2b
	OpSparseSwitch  Opcode = 0x2c
)

// Payload identifiers share opcode 0x00 and are told apart by the high byte.
const (
	PackedSwitchIdent  = 0x0100
	SparseSwitchIdent  = 0x0200
	FillArrayDataIdent = 0x0300
)

var opTable [256]OpInfo

func (op Opcode) Info() *OpInfo { return &opTable[op] }

func (op Opcode) String() string {
	if n := opTable[op].Name; n != "" {
		return n
	}
	return fmt.Sprintf("op_%02x", uint8(op))
}

// Lookup returns the table row for op in a file of the given version. It
// reports false for unassigned opcodes and for opcodes newer than version.
func Lookup(op Opcode, version int) (*OpInfo, bool) {
	info := &opTable[op]
	if info.Name == "" || version < info.MinVersion {
		return nil, false
	}
	return info, true
}

func def(op int, name string, f Format, ref RefKind, flags Flags) {
	opTable[op] = OpInfo{Name: name, Format: f, Ref: ref, Flags: flags}
}

func defRun(first int, f Format, ref RefKind, flags Flags, names ...string) {
	for i, n := range names {
		def(first+i, n, f, ref, flags)
	}
}

var arithOps = []string{"add", "sub", "mul", "div", "rem", "and", "or", "xor", "shl", "shr", "ushr"}
var floatOps = []string{"add", "sub", "mul", "div", "rem"}
var kindSuffixes = []string{"", "-wide", "-object", "-boolean", "-byte", "-char", "-short"}

func init() {
	def(0x00, "nop", Fmt10x, RefNone, 0)
	def(0x01, "move", Fmt12x, RefNone, 0)
	def(0x02, "move/from16", Fmt22x, RefNone, 0)
	def(0x03, "move/16", Fmt32x, RefNone, 0)
	def(0x04, "move-wide", Fmt12x, RefNone, 0)
	def(0x05, "move-wide/from16", Fmt22x, RefNone, 0)
	def(0x06, "move-wide/16", Fmt32x, RefNone, 0)
	def(0x07, "move-object", Fmt12x, RefNone, 0)
	def(0x08, "move-object/from16", Fmt22x, RefNone, 0)
	def(0x09, "move-object/16", Fmt32x, RefNone, 0)
	defRun(0x0a, Fmt11x, RefNone, 0, "move-result", "move-result-wide", "move-result-object", "move-exception")
	def(0x0e, "return-void", Fmt10x, RefNone, FlagReturn)
	defRun(0x0f, Fmt11x, RefNone, FlagReturn, "return", "return-wide", "return-object")
	def(0x12, "const/4", Fmt11n, RefNone, 0)
	def(0x13, "const/16", Fmt21s, RefNone, 0)
	def(0x14, "const", Fmt31i, RefNone, 0)
	def(0x15, "const/high16", Fmt21h, RefNone, 0)
	def(0x16, "const-wide/16", Fmt21s, RefNone, FlagWideLiteral)
	def(0x17, "const-wide/32", Fmt31i, RefNone, FlagWideLiteral)
	def(0x18, "const-wide", Fmt51l, RefNone, FlagWideLiteral)
	def(0x19, "const-wide/high16", Fmt21h, RefNone, FlagWideLiteral)
	def(0x1a, "const-string", Fmt21c, RefString, 0)
	def(0x1b, "const-string/jumbo", Fmt31c, RefString, 0)
	def(0x1c, "const-class", Fmt21c, RefType, 0)
	def(0x1d, "monitor-enter", Fmt11x, RefNone, 0)
	def(0x1e, "monitor-exit", Fmt11x, RefNone, 0)
	def(0x1f, "check-cast", Fmt21c, RefType, 0)
	def(0x20, "instance-of", Fmt22c, RefType, 0)
	def(0x21, "array-length", Fmt12x, RefNone, 0)
	def(0x22, "new-instance", Fmt21c, RefType, 0)
	def(0x23, "new-array", Fmt22c, RefType, 0)
	def(0x24, "filled-new-array", Fmt35c, RefType, 0)
	def(0x25, "filled-new-array/range", Fmt3rc, RefType, 0)
	def(0x26, "fill-array-data", Fmt31t, RefNone, FlagPayloadRef)
	def(0x27, "throw", Fmt11x, RefNone, FlagThrow)
	def(0x28, "goto", Fmt10t, RefNone, FlagBranch)
	def(0x29, "goto/16", Fmt20t, RefNone, FlagBranch)
	def(0x2a, "goto/32", Fmt30t, RefNone, FlagBranch)
	def(0x2b, "packed-switch", Fmt31t, RefNone, FlagSwitch|FlagPayloadRef)
	def(0x2c, "sparse-switch", Fmt31t, RefNone, FlagSwitch|FlagPayloadRef)
	defRun(0x2d, Fmt23x, RefNone, 0, "cmpl-float", "cmpg-float", "cmpl-double", "cmpg-double", "cmp-long")
	defRun(0x32, Fmt22t, RefNone, FlagBranch, "if-eq", "if-ne", "if-lt", "if-ge", "if-gt", "if-le")
	defRun(0x38, Fmt21t, RefNone, FlagBranch, "if-eqz", "if-nez", "if-ltz", "if-gez", "if-gtz", "if-lez")
	// 0x3e..0x43 unassigned

	for i, s := range kindSuffixes {
		def(0x44+i, "aget"+s, Fmt23x, RefNone, 0)
		def(0x4b+i, "aput"+s, Fmt23x, RefNone, 0)
		def(0x52+i, "iget"+s, Fmt22c, RefField, 0)
		def(0x59+i, "iput"+s, Fmt22c, RefField, 0)
		def(0x60+i, "sget"+s, Fmt21c, RefField, 0)
		def(0x67+i, "sput"+s, Fmt21c, RefField, 0)
	}

	invokes := []string{"invoke-virtual", "invoke-super", "invoke-direct", "invoke-static", "invoke-interface"}
	for i, n := range invokes {
		def(0x6e+i, n, Fmt35c, RefMethod, FlagInvoke)
		def(0x74+i, n+"/range", Fmt3rc, RefMethod, FlagInvoke)
	}
	// 0x73, 0x79 and 0x7a unassigned

	defRun(0x7b, Fmt12x, RefNone, 0,
		"neg-int", "not-int", "neg-long", "not-long", "neg-float", "neg-double",
		"int-to-long", "int-to-float", "int-to-double",
		"long-to-int", "long-to-float", "long-to-double",
		"float-to-int", "float-to-long", "float-to-double",
		"double-to-int", "double-to-long", "double-to-float",
		"int-to-byte", "int-to-char", "int-to-short")

	var binops []string
	for _, t := range []string{"int", "long"} {
		for _, op := range arithOps {
			binops = append(binops, op+"-"+t)
		}
	}
	for _, t := range []string{"float", "double"} {
		for _, op := range floatOps {
			binops = append(binops, op+"-"+t)
		}
	}
	for i, n := range binops {
		def(0x90+i, n, Fmt23x, RefNone, 0)
		def(0xb0+i, n+"/2addr", Fmt12x, RefNone, 0)
	}

	lit16 := []string{"add-int/lit16", "rsub-int", "mul-int/lit16", "div-int/lit16",
		"rem-int/lit16", "and-int/lit16", "or-int/lit16", "xor-int/lit16"}
	defRun(0xd0, Fmt22s, RefNone, 0, lit16...)
	lit8 := make([]string, 0, len(arithOps))
	for _, op := range arithOps {
		if op == "sub" {
			op = "rsub"
		}
		lit8 = append(lit8, op+"-int/lit8")
	}
	defRun(0xd8, Fmt22b, RefNone, 0, lit8...)
	// 0xe3..0xf9 unassigned

	opTable[0xfa] = OpInfo{Name: "invoke-polymorphic", Format: Fmt45cc, Ref: RefMethod, Ref2: RefProto, MinVersion: 38, Flags: FlagInvoke}
	opTable[0xfb] = OpInfo{Name: "invoke-polymorphic/range", Format: Fmt4rcc, Ref: RefMethod, Ref2: RefProto, MinVersion: 38, Flags: FlagInvoke}
	opTable[0xfc] = OpInfo{Name: "invoke-custom", Format: Fmt35c, Ref: RefCallSite, MinVersion: 38, Flags: FlagInvoke}
	opTable[0xfd] = OpInfo{Name: "invoke-custom/range", Format: Fmt3rc, Ref: RefCallSite, MinVersion: 38, Flags: FlagInvoke}
	opTable[0xfe] = OpInfo{Name: "const-method-handle", Format: Fmt21c, Ref: RefMethodHandle, MinVersion: 39}
	opTable[0xff] = OpInfo{Name: "const-method-type", Format: Fmt21c, Ref: RefProto, MinVersion: 39}
}
