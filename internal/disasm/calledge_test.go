package disasm

import (
	"reflect"
	"testing"

	"undex/internal/pool"
)

func TestInvokeKind(t *testing.T) {
	tests := map[string]string{
		"invoke-virtual":           "virtual",
		"invoke-interface/range":   "interface",
		"invoke-polymorphic/range": "polymorphic",
		"invoke-custom":            "custom",
	}
	for in, want := range tests {
		if got := invokeKind(in); got != want {
			t.Errorf("invokeKind(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtractCallEdges(t *testing.T) {
	f := build(t, 38)
	r := pool.New(f.c, nil)
	// 0: invoke-virtual {v1}, run
	// 3: const-string v0, "hello"
	// 5: invoke-custom/range {v0}, apply
	// 8: invoke-static/range {}, run
	res := decode(f,
		0x106e, u16(f.meth), 0x0001,
		0x001a, u16(f.str),
		0x01fd, u16(f.callSite), 0,
		0x0077, u16(f.meth), 0,
	)
	if res.Degraded() {
		t.Fatalf("diags = %v", res.Diags)
	}
	got := ExtractCallEdges(res.Insts, r)
	want := []CallEdge{
		{FromAddr: 0, Kind: "virtual", Target: "Lcom/ex/A;->run(I)V"},
		{FromAddr: 5, Kind: "custom", Target: "apply(I)V",
			Via: "invoke-static@Lcom/ex/Boot;->bsm(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/invoke/MethodType;)Ljava/lang/invoke/CallSite;"},
		{FromAddr: 8, Kind: "static", Target: "Lcom/ex/A;->run(I)V"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("edges =\n%+v\nwant\n%+v", got, want)
	}
}

func TestExtractCallEdges_None(t *testing.T) {
	f := build(t, 35)
	res := decode(f, 0x2101, 0x000e)
	if edges := ExtractCallEdges(res.Insts, pool.New(f.c, nil)); len(edges) != 0 {
		t.Errorf("edges = %+v, want none", edges)
	}
}

func TestEdgeRecords(t *testing.T) {
	edges := []CallEdge{
		{FromAddr: 0x1a, Kind: "static", Target: "La;->b()V"},
		{FromAddr: 3, Kind: "virtual", Target: "method@9"},
	}
	got := EdgeRecords("La;->a()V", edges)
	want := []CallEdgeRecord{
		{FromMethod: "La;->a()V", FromAddr: "0x1a", Kind: "static", Target: "La;->b()V"},
		{FromMethod: "La;->a()V", FromAddr: "0x3", Kind: "virtual", Target: "method@9"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("records = %+v", got)
	}
	if got[0].Unresolved() || !got[1].Unresolved() {
		t.Error("Unresolved misclassified")
	}
	m := MethodRecord{Class: "La;", Name: "a", Proto: "()V"}
	if m.FullName() != "La;->a()V" {
		t.Errorf("FullName = %q", m.FullName())
	}
}

func TestExtractStringRefs(t *testing.T) {
	f := build(t, 35)
	// 0: const-string v0, "hello"; 2: const-string/jumbo v1, "hello"; 5: return-void
	res := decode(f, 0x001a, u16(f.str), 0x011b, u16(f.str), 0, 0x000e)
	got := ExtractStringRefs(res.Insts, pool.New(f.c, nil))
	want := map[uint32]string{0: "hello", 2: "hello"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("refs = %v, want %v", got, want)
	}
}

func TestStringRecords(t *testing.T) {
	got := StringRecords("La;->a()V", map[uint32]string{0x10: "b", 2: "a"})
	want := []StringRefRecord{
		{Method: "La;->a()V", Addr: "0x2", Value: "a"},
		{Method: "La;->a()V", Addr: "0x10", Value: "b"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("records = %+v", got)
	}
	if got := StringRecords("La;->a()V", nil); len(got) != 0 {
		t.Errorf("nil refs = %+v", got)
	}
}
