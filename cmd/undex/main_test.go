package main

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"undex/internal/dexfmt"
	"undex/internal/dextest"
	"undex/internal/output"
	"undex/internal/session"
)

// sampleDex builds a file with a caller and a callee class. When bad is set
// the caller holds an unassigned opcode.
func sampleDex(bad bool) []byte {
	b := dextest.New()
	run := b.Method("Lcom/ex/B;", "run", "V")
	insns := []uint16{0x0071, uint16(run), 0x0000, 0x000e} // invoke-static {}, run; return-void
	if bad {
		insns = append([]uint16{0x003e}, insns...)
	}
	b.Class("Lcom/ex/A;", dextest.AccPublic, "Ljava/lang/Object;").
		Source("A.java").
		DirectMethod("main", dextest.AccPublic|dextest.AccStatic, &dextest.Code{Registers: 1, Insns: insns}, "V")
	b.Class("Lcom/ex/B;", dextest.AccPublic, "Ljava/lang/Object;").
		DirectMethod("run", dextest.AccStatic, &dextest.Code{Registers: 1, Insns: []uint16{0x000e}}, "V")
	return b.Build()
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeAPK(t *testing.T, members map[string][]byte) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range members {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write(data)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return writeFile(t, "app.apk", buf.Bytes())
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	defer session.SetLogger(nil)
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLoadInputs_APK(t *testing.T) {
	path := writeAPK(t, map[string][]byte{
		"classes3.dex":        sampleDex(false),
		"classes.dex":         sampleDex(false),
		"classes2.dex":        sampleDex(false),
		"assets/classes4.dex": sampleDex(false),
		"classes1.dex":        sampleDex(false),
		"AndroidManifest.xml": []byte("<manifest/>"),
	})
	inputs, err := loadInputs(path)
	if err != nil {
		t.Fatalf("loadInputs: %v", err)
	}
	var got []string
	for _, in := range inputs {
		got = append(got, in.Name+"="+in.Dir)
	}
	want := "classes.dex=smali classes2.dex=smali_classes2 classes3.dex=smali_classes3"
	if strings.Join(got, " ") != want {
		t.Errorf("inputs = %v, want %s", got, want)
	}
}

func TestLoadInputs_VDEX(t *testing.T) {
	dex := sampleDex(false)
	data := append([]byte("vdex027\x00"), make([]byte, 8)...)
	data = append(data, dex...)
	data = append(data, dex...)
	inputs, err := loadInputs(writeFile(t, "base.vdex", data))
	if err != nil {
		t.Fatalf("loadInputs: %v", err)
	}
	var got []string
	for _, in := range inputs {
		got = append(got, in.Name+"="+in.Dir)
	}
	want := fmt.Sprintf("base.vdex@0x10=smali base.vdex@0x%x=smali_classes2", 16+len(dex))
	if strings.Join(got, " ") != want {
		t.Errorf("inputs = %v, want %s", got, want)
	}
	if !bytes.Equal(inputs[1].Data, dex) {
		t.Error("second image differs from the source dex")
	}
}

func TestLoadInputs_Errors(t *testing.T) {
	if _, err := loadInputs(filepath.Join(t.TempDir(), "missing.dex")); err == nil {
		t.Error("missing file accepted")
	}
	if _, err := loadInputs(writeAPK(t, map[string][]byte{"lib/x.so": {0}})); err == nil {
		t.Error("APK without dex accepted")
	}
	if _, err := loadInputs(writeFile(t, "empty.vdex", []byte("vdex027\x00"))); err == nil {
		t.Error("VDEX without dex accepted")
	}
}

func TestDisasm_Clean(t *testing.T) {
	in := writeFile(t, "classes.dex", sampleDex(false))
	out := t.TempDir()
	if _, err := execute(t, in, "-o", out, "-j", "2"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	text, err := os.ReadFile(filepath.Join(out, "com", "ex", "A.smali"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{".class public Lcom/ex/A;", ".source \"A.java\"", "invoke-static {}, Lcom/ex/B;->run()V"} {
		if !strings.Contains(string(text), want) {
			t.Errorf("A.smali missing %q:\n%s", want, text)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "com", "ex", "B.smali")); err != nil {
		t.Error(err)
	}
	diags, err := os.ReadFile(filepath.Join(out, "diagnostics.json"))
	if err != nil || strings.TrimSpace(string(diags)) != "[]" {
		t.Errorf("diagnostics.json = %q, %v", diags, err)
	}
}

func TestDisasm_Degraded(t *testing.T) {
	in := writeFile(t, "classes.dex", sampleDex(true))
	out := t.TempDir()
	_, err := execute(t, in, "-o", out)
	if !errors.Is(err, errDegraded) {
		t.Fatalf("err = %v, want errDegraded", err)
	}
	text, err := os.ReadFile(filepath.Join(out, "com", "ex", "A.smali"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(text), "# error: unknown_opcode at 0x0") {
		t.Errorf("missing marker:\n%s", text)
	}
	var diags []output.ClassDiagnostics
	data, _ := os.ReadFile(filepath.Join(out, "diagnostics.json"))
	if err := json.Unmarshal(data, &diags); err != nil {
		t.Fatal(err)
	}
	if len(diags) != 1 || diags[0].Class != "Lcom/ex/A;" || diags[0].Diags[0].Kind != "unknown_opcode" {
		t.Errorf("diagnostics = %+v", diags)
	}
}

func TestDisasm_Strict(t *testing.T) {
	in := writeFile(t, "classes.dex", sampleDex(true))
	out := t.TempDir()
	_, err := execute(t, in, "-o", out, "--strict")
	var abort *session.AbortError
	if !errors.As(err, &abort) || errors.Is(err, errDegraded) {
		t.Fatalf("err = %v, want strict abort", err)
	}
	if !errors.Is(err, dexfmt.ErrUnknownOpcode) {
		t.Errorf("err = %v does not carry the opcode failure", err)
	}
	if _, err := os.Stat(filepath.Join(out, "com", "ex", "A.smali")); !os.IsNotExist(err) {
		t.Errorf("aborted class was written: %v", err)
	}
}

func TestDisasm_APK(t *testing.T) {
	in := writeAPK(t, map[string][]byte{
		"classes.dex":  sampleDex(false),
		"classes2.dex": sampleDex(false),
	})
	out := t.TempDir()
	if _, err := execute(t, in, "-o", out, "--param-registers"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, dir := range []string{"smali", "smali_classes2"} {
		if _, err := os.Stat(filepath.Join(out, dir, "com", "ex", "B.smali")); err != nil {
			t.Error(err)
		}
	}
}

func TestInfo(t *testing.T) {
	data := sampleDex(false)
	in := writeFile(t, "classes.dex", data)
	text, err := execute(t, "info", in)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	for _, want := range []string{"version     035", "checksum    0x", "(ok)", "classes     2", "header_item"} {
		if !strings.Contains(text, want) {
			t.Errorf("info missing %q:\n%s", want, text)
		}
	}

	// Corrupt the stored checksum: parsing still succeeds, the check does not.
	bad := append([]byte(nil), data...)
	bad[8] ^= 0xff
	raw, err := execute(t, "info", "--json", writeFile(t, "bad.dex", bad))
	if err != nil {
		t.Fatalf("info --json: %v", err)
	}
	var infos []DexInfo
	if err := json.Unmarshal([]byte(raw), &infos); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, raw)
	}
	if len(infos) != 1 || infos[0].ChecksumOK || !infos[0].SignatureOK || infos[0].Classes != 2 {
		t.Errorf("infos = %+v", infos)
	}
}

func TestGraph(t *testing.T) {
	in := writeFile(t, "classes.dex", sampleDex(false))
	out := t.TempDir()
	if _, err := execute(t, "graph", in, "-o", out); err != nil {
		t.Fatalf("graph: %v", err)
	}
	for _, name := range []string{"callgraph.dot", "summary.dot", "calls.dot", "classgraph.dot", "reachable.dot", "signal.dot", "signal.json", "methods.jsonl", "call_edges.jsonl", "string_refs.jsonl"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Error(err)
		}
	}
	edges, err := output.ReadJSONL[struct {
		FromMethod string `json:"from_method"`
		Target     string `json:"target"`
	}](filepath.Join(out, "call_edges.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 1 || edges[0].FromMethod != "Lcom/ex/A;->main()V" || edges[0].Target != "Lcom/ex/B;->run()V" {
		t.Errorf("edges = %+v", edges)
	}
}
