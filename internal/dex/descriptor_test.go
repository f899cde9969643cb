package dex

import (
	"testing"

	"undex/internal/dextest"
)

func TestDisplayName_RoundTrip(t *testing.T) {
	tests := []struct {
		desc, display string
	}{
		{"V", "void"},
		{"Z", "boolean"},
		{"I", "int"},
		{"J", "long"},
		{"[I", "int[]"},
		{"[[D", "double[][]"},
		{"Ljava/lang/String;", "java.lang.String"},
		{"[Ljava/lang/Object;", "java.lang.Object[]"},
		{"LFoo;", "Foo"},
		{"Lcom/example/Outer$Inner;", "com.example.Outer$Inner"},
	}
	for _, tt := range tests {
		got, err := DisplayName(tt.desc)
		if err != nil {
			t.Errorf("DisplayName(%q): %v", tt.desc, err)
			continue
		}
		if got != tt.display {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.desc, got, tt.display)
		}
		back, err := Descriptor(got)
		if err != nil {
			t.Errorf("Descriptor(%q): %v", got, err)
			continue
		}
		if back != tt.desc {
			t.Errorf("Descriptor(%q) = %q, want %q", got, back, tt.desc)
		}
	}
}

func TestDisplayName_ContainerTypes(t *testing.T) {
	b := dextest.New()
	b.Field("Lcom/ex/Outer$Inner;", "grid", "[[J")
	b.Method("Ljava/lang/String;", "valueOf", "Ljava/lang/String;", "[C", "I", "Z")
	b.Method("Lcom/ex/Outer;", "each", "V", "[Ljava/lang/Object;", "D", "F", "B", "S")
	c := b.Class("Lcom/ex/Outer;", dextest.AccPublic, "Ljava/lang/Object;").
		Implements("Ljava/lang/Runnable;")
	c.InstanceField("inner", "Lcom/ex/Outer$Inner;", 0)
	b.Class("LTop;", 0, "Lcom/ex/Outer;")

	cont, err := Parse(b.Build())
	if err != nil {
		t.Fatal(err)
	}
	if len(cont.TypeIDs) < 10 {
		t.Fatalf("only %d types", len(cont.TypeIDs))
	}
	for i := range cont.TypeIDs {
		desc, err := cont.TypeDescriptor(uint32(i))
		if err != nil {
			t.Fatalf("type %d: %v", i, err)
		}
		display, err := DisplayName(desc)
		if err != nil {
			t.Errorf("DisplayName(%q): %v", desc, err)
			continue
		}
		if back, err := Descriptor(display); err != nil || back != desc {
			t.Errorf("%q -> %q -> %q, %v", desc, display, back, err)
		}
	}
	for i, def := range cont.ClassDefs {
		desc, _ := cont.TypeDescriptor(def.ClassIdx)
		if _, err := DisplayName(desc); err != nil {
			t.Errorf("class %d %q: %v", i, desc, err)
		}
	}
}

func TestDisplayName_PrimitiveNamedClass(t *testing.T) {
	// Legal, but the display form reads back as the primitive.
	got, err := DisplayName("Lint;")
	if err != nil || got != "int" {
		t.Fatalf("DisplayName(Lint;) = %q, %v", got, err)
	}
	if back, _ := Descriptor(got); back != "I" {
		t.Errorf("Descriptor(int) = %q", back)
	}
	if got, err := DisplayName("[Lcom/int;"); err != nil || got != "com.int[]" {
		t.Errorf("DisplayName([Lcom/int;) = %q, %v", got, err)
	}
}

func TestDisplayName_Invalid(t *testing.T) {
	for _, desc := range []string{"", "[", "[V", "Q", "II", "L;", "Ljava/lang/String", "Ljava.lang.String;", "La//b;"} {
		if _, err := DisplayName(desc); err == nil {
			t.Errorf("DisplayName(%q) accepted", desc)
		}
	}
	for _, disp := range []string{"", "void[]", "java/lang/String", "a..b", "[]"} {
		if _, err := Descriptor(disp); err == nil {
			t.Errorf("Descriptor(%q) accepted", disp)
		}
	}
}

func TestAccessFlags_Format(t *testing.T) {
	tests := []struct {
		flags  AccessFlags
		target FlagTarget
		want   string
	}{
		{AccPublic | AccFinal, ForClass, "public final"},
		{AccPublic | AccInterface | AccAbstract, ForClass, "public interface abstract"},
		{AccPrivate | AccStatic | AccVolatile, ForField, "private static volatile"},
		{AccTransient | AccEnum, ForField, "transient enum"},
		{AccPublic | AccBridge | AccVarargs | AccSynthetic, ForMethod, "public bridge varargs synthetic"},
		{AccPublic | AccConstructor, ForMethod, "public constructor"},
		{AccDeclaredSynchronized | AccNative, ForMethod, "native declared-synchronized"},
		{0, ForMethod, ""},
	}
	for _, tt := range tests {
		if got := tt.flags.Format(tt.target); got != tt.want {
			t.Errorf("%#x.Format(%d) = %q, want %q", uint32(tt.flags), tt.target, got, tt.want)
		}
	}
}
