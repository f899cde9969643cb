package disasm

import (
	"reflect"
	"testing"
)

func TestTargets(t *testing.T) {
	f := build(t, 35)
	res := decode(f, payloadMethod()...)
	want := []Target{
		{From: 0x0, Addr: 0xc, Kind: TargetPackedData},
		{From: 0x0, Addr: 0x3, Kind: TargetPackedCase},
		{From: 0x0, Addr: 0x4, Kind: TargetPackedCase},
		{From: 0x5, Addr: 0x14, Kind: TargetSparseData},
		{From: 0x5, Addr: 0xb, Kind: TargetSparseCase},
		{From: 0x8, Addr: 0x1a, Kind: TargetArrayData},
	}
	if got := res.Targets(); !reflect.DeepEqual(got, want) {
		t.Errorf("Targets() =\n%+v\nwant\n%+v", got, want)
	}
}

func TestTargets_Branches(t *testing.T) {
	f := build(t, 35)
	// 0: if-eqz v0, +3; 2: goto -2; 3: return-void
	res := decode(f, 0x0038, 3, 0xfe28, 0x000e)
	want := []Target{
		{From: 0, Addr: 3, Kind: TargetCond},
		{From: 2, Addr: 0, Kind: TargetGoto},
	}
	if got := res.Targets(); !reflect.DeepEqual(got, want) {
		t.Errorf("Targets() = %+v, want %+v", got, want)
	}
	if len(res.Diags) != 0 {
		t.Errorf("diags = %v", res.Diags)
	}
}

func TestIsTerminator(t *testing.T) {
	f := build(t, 35)
	tests := []struct {
		name  string
		insns []uint16
		want  bool
	}{
		{"return-void", []uint16{0x000e}, true},
		{"return", []uint16{0x000f}, true},
		{"throw", []uint16{0x0027}, true},
		{"goto", []uint16{0x0028}, true},
		{"goto/32", []uint16{0x002a, 0, 0}, true},
		{"if-eqz", []uint16{0x0038, 0}, false},
		{"packed-switch", []uint16{0x002b, 0, 0}, false},
		{"move", []uint16{0x0001}, false},
		{"invoke-static", []uint16{0x0071, 0, 0}, false},
		{"payload", []uint16{0x0300, 1, 0, 0}, true},
	}
	for _, tc := range tests {
		res := decode(f, tc.insns...)
		if len(res.Insts) != 1 {
			t.Fatalf("%s: %d instructions, diags %v", tc.name, len(res.Insts), res.Diags)
		}
		if got := IsTerminator(&res.Insts[0]); got != tc.want {
			t.Errorf("IsTerminator(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSignExtend(t *testing.T) {
	tests := []struct {
		val  uint32
		bits int
		want int32
	}{
		{0x7, 4, 7},
		{0x8, 4, -8},
		{0xf, 4, -1},
		{0x7f, 8, 127},
		{0x80, 8, -128},
		{0xffff, 16, -1},
		{0x8000, 16, -32768},
	}
	for _, tc := range tests {
		got := signExtend(tc.val, tc.bits)
		if got != tc.want {
			t.Errorf("signExtend(0x%x, %d) = %d, want %d", tc.val, tc.bits, got, tc.want)
		}
	}
}
