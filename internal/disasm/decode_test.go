package disasm

import (
	"math/rand"
	"reflect"
	"testing"

	"undex/internal/dex"
	"undex/internal/dexfmt"
	"undex/internal/dextest"
)

type fixture struct {
	c                     *dex.Container
	str, fld, meth, proto uint32
	handle, callSite      uint32
}

// build returns a container with one entry in each pool that instructions
// reference. Method handles and call sites are only added from 038 on.
func build(t *testing.T, version int) fixture {
	t.Helper()
	b := dextest.New()
	b.Version = version
	var f fixture
	f.str = b.String("hello")
	f.fld = b.Field("Lcom/ex/A;", "count", "I")
	f.meth = b.Method("Lcom/ex/A;", "run", "V", "I")
	f.proto = b.Proto("V", "I")
	if version >= 38 {
		bsm := b.Method("Lcom/ex/Boot;", "bsm", "Ljava/lang/invoke/CallSite;",
			"Ljava/lang/invoke/MethodHandles$Lookup;", "Ljava/lang/String;", "Ljava/lang/invoke/MethodType;")
		f.handle = b.MethodHandle(uint16(dex.HandleInvokeStatic), bsm)
		f.callSite = b.CallSite(f.handle, "apply", f.proto)
	}
	b.Class("Lcom/ex/A;", dextest.AccPublic, "Ljava/lang/Object;")
	c, err := dex.Parse(b.Build())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f.c = c
	return f
}

func decode(f fixture, insns ...uint16) *Result {
	return Decode(f.c, &dex.CodeItem{RegistersSize: 16, Insns: insns})
}

func u16(v uint32) uint16 { return uint16(v) }

func TestDecode_Formats(t *testing.T) {
	f := build(t, 39)
	tests := []struct {
		name  string
		insns []uint16
		op    Opcode
		want  Operands
	}{
		{"nop", []uint16{0x0000}, 0x00, F10x{}},
		{"move", []uint16{0x2101}, 0x01, F12x{A: 1, B: 2}},
		{"const/4 negative", []uint16{0xf012}, 0x12, F11n{A: 0, Lit: -1}},
		{"const/4 positive", []uint16{0x7312}, 0x12, F11n{A: 3, Lit: 7}},
		{"move-result", []uint16{0x050a}, 0x0a, F11x{A: 5}},
		{"goto", []uint16{0xff28}, 0x28, F10t{Offset: -1}},
		{"goto/16", []uint16{0x0029, 0x8000}, 0x29, F20t{Offset: -32768}},
		{"move/from16", []uint16{0x0102, 300}, 0x02, F22x{A: 1, B: 300}},
		{"if-eqz", []uint16{0x0238, 3}, 0x38, F21t{A: 2, Offset: 3}},
		{"const/16", []uint16{0x0013, 0xfffe}, 0x13, F21s{A: 0, Lit: -2}},
		{"const/high16", []uint16{0x0015, 0x8000}, 0x15, F21h{A: 0, Lit: -2147483648}},
		{"const-wide/high16", []uint16{0x0019, 0x4000}, 0x19, F21h{A: 0, Lit: 0x4000000000000000}},
		{"const-wide/high16 negative", []uint16{0x0019, 0xfff0}, 0x19, F21h{A: 0, Lit: -0x10000000000000}},
		{"const-string", []uint16{0x011a, u16(f.str)}, 0x1a, F21c{A: 1, Index: f.str}},
		{"add-int", []uint16{0x0190, 0x0302}, 0x90, F23x{A: 1, B: 2, C: 3}},
		{"add-int/lit8", []uint16{0x01d8, 0x8002}, 0xd8, F22b{A: 1, B: 2, Lit: -128}},
		{"if-eq", []uint16{0x2132, 0xfffc}, 0x32, F22t{A: 1, B: 2, Offset: -4}},
		{"add-int/lit16", []uint16{0x21d0, 1000}, 0xd0, F22s{A: 1, B: 2, Lit: 1000}},
		{"iget", []uint16{0x2152, u16(f.fld)}, 0x52, F22c{A: 1, B: 2, Index: f.fld}},
		{"goto/32", []uint16{0x002a, 0xfffe, 0xffff}, 0x2a, F30t{Offset: -2}},
		{"move/16", []uint16{0x0003, 256, 512}, 0x03, F32x{A: 256, B: 512}},
		{"const", []uint16{0x0014, 0x5678, 0x1234}, 0x14, F31i{A: 0, Lit: 0x12345678}},
		{"const negative", []uint16{0x0014, 0xffff, 0xffff}, 0x14, F31i{A: 0, Lit: -1}},
		{"const-wide/32", []uint16{0x0017, 0x0000, 0x8000}, 0x17, F31i{A: 0, Lit: -2147483648}},
		{"fill-array-data", []uint16{0x0026, 3, 0}, 0x26, F31t{A: 0, Offset: 3}},
		{"const-string/jumbo", []uint16{0x021b, u16(f.str), 0}, 0x1b, F31c{A: 2, Index: f.str}},
		{"invoke-virtual", []uint16{0x206e, u16(f.meth), 0x0021}, 0x6e, F35c{Regs: []uint8{1, 2}, Index: f.meth}},
		{"invoke-static five", []uint16{0x5571, u16(f.meth), 0x4321}, 0x71, F35c{Regs: []uint8{1, 2, 3, 4, 5}, Index: f.meth}},
		{"invoke-static none", []uint16{0x0071, u16(f.meth), 0}, 0x71, F35c{Regs: []uint8{}, Index: f.meth}},
		{"invoke-virtual/range", []uint16{0x0374, u16(f.meth), 10}, 0x74, F3rc{First: 10, Count: 3, Index: f.meth}},
		{"invoke-polymorphic", []uint16{0x20fa, u16(f.meth), 0x0021, u16(f.proto)}, 0xfa,
			F45cc{Regs: []uint8{1, 2}, Method: f.meth, Proto: f.proto}},
		{"invoke-polymorphic/range", []uint16{0x02fb, u16(f.meth), 4, u16(f.proto)}, 0xfb,
			F4rcc{First: 4, Count: 2, Method: f.meth, Proto: f.proto}},
		{"invoke-custom", []uint16{0x10fc, u16(f.callSite), 0}, 0xfc, F35c{Regs: []uint8{0}, Index: f.callSite}},
		{"const-wide", []uint16{0x0018, 0xcdef, 0x89ab, 0x4567, 0x0123}, 0x18, F51l{A: 0, Lit: 0x0123456789abcdef}},
		{"const-method-handle", []uint16{0x00fe, u16(f.handle)}, 0xfe, F21c{A: 0, Index: f.handle}},
		{"const-method-type", []uint16{0x00ff, u16(f.proto)}, 0xff, F21c{A: 0, Index: f.proto}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := decode(f, tc.insns...)
			if res.Degraded() {
				t.Fatalf("diags = %v", res.Diags)
			}
			if len(res.Insts) != 1 {
				t.Fatalf("got %d instructions, want 1", len(res.Insts))
			}
			in := res.Insts[0]
			if in.Op != tc.op {
				t.Errorf("op = %s, want %s", in.Op, tc.op)
			}
			if in.Width != len(tc.insns) || in.Width != in.Format().Width() {
				t.Errorf("width = %d, format %s, insns %d", in.Width, in.Format(), len(tc.insns))
			}
			if !reflect.DeepEqual(in.Operands, tc.want) {
				t.Errorf("operands = %#v, want %#v", in.Operands, tc.want)
			}
			if res.Consumed != len(tc.insns) {
				t.Errorf("consumed = %d, want %d", res.Consumed, len(tc.insns))
			}
		})
	}
}

func TestDecode_EveryOpcodeWidth(t *testing.T) {
	f := build(t, 39)
	for op := range 256 {
		info, ok := Lookup(Opcode(op), 39)
		if !ok {
			continue
		}
		w := info.Format.Width()
		if w == 0 {
			t.Fatalf("%s has no width", info.Name)
		}
		// Operand words of zero are valid indices into every fixture pool
		// and keep the register count of 35c/45cc at zero.
		insns := make([]uint16, w+1)
		insns[0] = uint16(op)
		insns[w] = 0x000e
		res := decode(f, insns...)
		if res.Degraded() {
			t.Errorf("%s: diags = %v", info.Name, res.Diags)
			continue
		}
		if len(res.Insts) != 2 || res.Insts[1].Addr != uint32(w) {
			t.Errorf("%s: instructions = %+v, want width %d then return-void", info.Name, res.Insts, w)
		}
	}
}

func TestDecode_UnknownOpcode(t *testing.T) {
	f := build(t, 35)
	for _, op := range []uint16{0x3e, 0x43, 0x73, 0x79, 0x7a, 0xe3, 0xf9} {
		res := decode(f, op)
		if len(res.Insts) != 0 {
			t.Errorf("0x%02x: decoded %d instructions", op, len(res.Insts))
		}
		if len(res.Diags) != 1 || res.Diags[0].Kind != dexfmt.KindUnknownOpcode {
			t.Errorf("0x%02x: diags = %v", op, res.Diags)
		}
		if res.Consumed != 0 {
			t.Errorf("0x%02x: consumed = %d", op, res.Consumed)
		}
	}
}

func TestDecode_UnknownOpcodeResync(t *testing.T) {
	f := build(t, 35)
	res := decode(f, 0x003e, 0x2101, 0x000e)
	if len(res.Diags) != 1 || res.Diags[0].Offset != 0 {
		t.Fatalf("diags = %v", res.Diags)
	}
	if len(res.Insts) != 2 || res.Insts[0].Addr != 1 || res.Insts[1].Addr != 2 {
		t.Fatalf("instructions = %+v", res.Insts)
	}
	if res.Consumed != 2 {
		t.Errorf("consumed = %d, want 2", res.Consumed)
	}
}

func TestDecode_VersionGate(t *testing.T) {
	tests := []struct {
		version int
		insns   []uint16
		ok      bool
	}{
		{35, []uint16{0x00fe, 0}, false},
		{38, []uint16{0x00fe, 0}, false},
		{39, []uint16{0x00fe, 0}, true},
		{37, []uint16{0x00fc, 0, 0}, false},
		{38, []uint16{0x00fc, 0, 0}, true},
		{37, []uint16{0x00fb, 0, 0, 0}, false},
		{38, []uint16{0x00fb, 0, 0, 0}, true},
		{38, []uint16{0x00ff, 0}, false},
		{40, []uint16{0x00ff, 0}, true},
	}
	for _, tc := range tests {
		f := build(t, tc.version)
		res := decode(f, tc.insns...)
		got := len(res.Insts) == 1 && !res.Degraded()
		if got != tc.ok {
			t.Errorf("dex %03d op 0x%02x: decoded = %v, want %v (diags %v)", tc.version, tc.insns[0], got, tc.ok, res.Diags)
		}
		if !tc.ok && (len(res.Diags) == 0 || res.Diags[0].Kind != dexfmt.KindUnknownOpcode) {
			t.Errorf("dex %03d op 0x%02x: diags = %v", tc.version, tc.insns[0], res.Diags)
		}
	}
}

// payloadMethod lays out
//
//	0x00 packed-switch v0, :pswitch_data_c
//	0x03 return-void
//	0x04 return-void
//	0x05 sparse-switch v1, :sswitch_data_14
//	0x08 fill-array-data v2, :array_1a
//	0x0b return-void
//	0x0c packed-switch-payload first 10, cases 0x3 0x4
//	0x14 sparse-switch-payload -1 -> 0xb
//	0x1a fill-array-data-payload width 2, {1, 2, 3}
func payloadMethod() []uint16 {
	return []uint16{
		0x002b, 12, 0,
		0x000e,
		0x000e,
		0x012c, 15, 0,
		0x0226, 18, 0,
		0x000e,
		0x0100, 2, 10, 0, 3, 0, 4, 0,
		0x0200, 1, 0xffff, 0xffff, 6, 0,
		0x0300, 2, 3, 0, 1, 2, 3,
	}
}

func TestDecode_Payloads(t *testing.T) {
	f := build(t, 35)
	insns := payloadMethod()
	res := decode(f, insns...)
	if len(res.Diags) != 0 {
		t.Fatalf("diags = %v", res.Diags)
	}
	if res.Consumed != len(insns) {
		t.Fatalf("consumed = %d, want %d", res.Consumed, len(insns))
	}
	addrs := []uint32{0, 3, 4, 5, 8, 11, 12, 20, 26}
	if len(res.Insts) != len(addrs) {
		t.Fatalf("got %d instructions, want %d", len(res.Insts), len(addrs))
	}
	for i, a := range addrs {
		if res.Insts[i].Addr != a {
			t.Errorf("inst %d at 0x%x, want 0x%x", i, res.Insts[i].Addr, a)
		}
	}

	ps, _ := res.At(12)
	if want := (PackedSwitch{FirstKey: 10, Targets: []int32{3, 4}}); !reflect.DeepEqual(ps.Operands, want) {
		t.Errorf("packed = %#v", ps.Operands)
	}
	ss, _ := res.At(20)
	if want := (SparseSwitch{Keys: []int32{-1}, Targets: []int32{6}}); !reflect.DeepEqual(ss.Operands, want) {
		t.Errorf("sparse = %#v", ss.Operands)
	}
	ad, _ := res.At(26)
	if want := (ArrayData{ElementWidth: 2, Count: 3, Data: []byte{1, 0, 2, 0, 3, 0}}); !reflect.DeepEqual(ad.Operands, want) {
		t.Errorf("array = %#v", ad.Operands)
	}
	for payload, from := range map[uint32]uint32{12: 0, 20: 5, 26: 8} {
		if got, ok := res.Referrer(payload); !ok || got != from {
			t.Errorf("Referrer(0x%x) = 0x%x, %v; want 0x%x", payload, got, ok, from)
		}
	}
	if !ps.IsPayload() || ps.Name() != "packed-switch-payload" {
		t.Errorf("payload name = %q", ps.Name())
	}
}

func TestDecode_ArrayDataOddBytes(t *testing.T) {
	f := build(t, 35)
	res := decode(f, 0x0300, 1, 3, 0, 0x0201, 0x0003)
	if len(res.Diags) != 0 || res.Consumed != 6 {
		t.Fatalf("consumed %d, diags %v", res.Consumed, res.Diags)
	}
	ad := res.Insts[0].Operands.(ArrayData)
	if !reflect.DeepEqual(ad.Data, []byte{1, 2, 3}) {
		t.Errorf("data = %v", ad.Data)
	}
}

func TestDecode_IndexOutOfRange(t *testing.T) {
	f := build(t, 38)
	tests := []struct {
		name  string
		insns []uint16
	}{
		{"string", []uint16{0x011a, 0xffff}},
		{"type", []uint16{0x011c, 0xffff}},
		{"field", []uint16{0x2152, 0xffff}},
		{"method", []uint16{0x106e, 0xffff, 0}},
		{"jumbo string", []uint16{0x011b, 0, 1}},
		{"proto of polymorphic", []uint16{0x10fa, u16(f.meth), 0, 0xffff}},
		{"call site", []uint16{0x00fd, 9, 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			insns := append(append([]uint16(nil), tc.insns...), 0x000e)
			res := decode(f, insns...)
			if len(res.Diags) != 1 || res.Diags[0].Kind != dexfmt.KindIndexOutOfRange || res.Diags[0].Offset != 0 {
				t.Fatalf("diags = %v", res.Diags)
			}
			if len(res.Insts) != 1 || res.Insts[0].Addr != uint32(len(tc.insns)) {
				t.Fatalf("instructions = %+v", res.Insts)
			}
			if res.Consumed != 1 {
				t.Errorf("consumed = %d, want 1", res.Consumed)
			}
		})
	}
}

func TestDecode_Truncated(t *testing.T) {
	f := build(t, 35)
	res := decode(f, 0x0014, 0x0001)
	if len(res.Diags) != 1 || res.Diags[0].Kind != dexfmt.KindTruncated {
		t.Fatalf("diags = %v", res.Diags)
	}
	if len(res.Insts) != 1 || res.Insts[0].Addr != 1 || res.Insts[0].Op != 0x01 {
		t.Fatalf("instructions = %+v", res.Insts)
	}

	res = decode(f, 0x0100, 5, 0, 0)
	if len(res.Diags) == 0 || res.Diags[0].Kind != dexfmt.KindTruncated || res.Diags[0].Offset != 0 {
		t.Fatalf("payload diags = %v", res.Diags)
	}
}

func TestDecode_InvalidShape(t *testing.T) {
	f := build(t, 35)
	res := decode(f, 0x606e, u16(f.meth), 0)
	if len(res.Diags) == 0 || res.Diags[0].Kind != dexfmt.KindFormat || res.Diags[0].Offset != 0 {
		t.Fatalf("diags = %v", res.Diags)
	}
	res = decode(f, 0x0300, 3, 1, 0, 0)
	if len(res.Diags) == 0 || res.Diags[0].Kind != dexfmt.KindFormat {
		t.Fatalf("array width 3 diags = %v", res.Diags)
	}
}

func TestDecode_MalformedControlFlow(t *testing.T) {
	f := build(t, 35)
	tests := []struct {
		name  string
		insns []uint16
	}{
		{"goto into operand", []uint16{0x0228, 0x0013, 0x0005, 0x000e}},
		{"branch past end", []uint16{0x0a38, 0x000e}},
		{"switch to code", []uint16{0x002b, 3, 0, 0x000e}},
		{"goto to payload", []uint16{0x0128, 0x0300, 1, 0, 0}},
		{"case to operand", []uint16{0x002b, 4, 0, 0x000e, 0x0100, 1, 0, 0, 1, 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := decode(f, tc.insns...)
			if res.Degraded() {
				t.Fatalf("control flow made the method degraded: %v", res.Diags)
			}
			if len(res.Diags) != 1 || res.Diags[0].Kind != dexfmt.KindMalformedControlFlow {
				t.Fatalf("diags = %v", res.Diags)
			}
			if res.Consumed != len(tc.insns) {
				t.Errorf("consumed = %d, want %d", res.Consumed, len(tc.insns))
			}
		})
	}
}

// Consumed never exceeds the declared count, equals the sum of decoded
// widths, and equals the count when nothing failed.
func TestDecode_ConsumedInvariant(t *testing.T) {
	f := build(t, 39)
	rng := rand.New(rand.NewSource(1))
	for iter := range 2000 {
		n := 1 + rng.Intn(40)
		insns := make([]uint16, n)
		for i := range insns {
			switch rng.Intn(4) {
			case 0:
				insns[i] = uint16(rng.Intn(0x10000))
			case 1:
				insns[i] = []uint16{PackedSwitchIdent, SparseSwitchIdent, FillArrayDataIdent}[rng.Intn(3)]
			default:
				insns[i] = uint16(rng.Intn(256)) | uint16(rng.Intn(4))<<8
			}
		}
		res := decode(f, insns...)
		sum := 0
		next := uint32(0)
		for _, in := range res.Insts {
			if in.Addr < next {
				t.Fatalf("iter %d: instruction at 0x%x overlaps previous end 0x%x", iter, in.Addr, next)
			}
			next = in.Addr + uint32(in.Width)
			sum += in.Width
		}
		if next > uint32(n) || res.Consumed > n || sum != res.Consumed {
			t.Fatalf("iter %d: consumed %d, sum %d, end %d, n %d", iter, res.Consumed, sum, next, n)
		}
		if !res.Degraded() && res.Consumed != n {
			t.Fatalf("iter %d: clean decode consumed %d of %d", iter, res.Consumed, n)
		}
	}
}
