package elfx

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"undex/internal/dextest"
)

func findSample(t *testing.T, name string) string {
	t.Helper()
	// Walk up to find samples/ directory.
	dir, _ := os.Getwd()
	for {
		p := filepath.Join(dir, "samples", name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Skipf("sample %s not found", name)
		}
		dir = parent
	}
}

func sampleDex(class string) []byte {
	b := dextest.New()
	b.Class(class, dextest.AccPublic, "Ljava/lang/Object;")
	return b.Build()
}

// elfImage returns a section-less ELF64 file with one PT_LOAD segment
// covering the whole file. payload starts at file offset 0x80.
func elfImage(typ elf.Type, payload []byte) []byte {
	const payloadOff = 0x80
	buf := make([]byte, payloadOff, payloadOff+len(payload))
	copy(buf, []byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)})
	le := binary.LittleEndian
	le.PutUint16(buf[16:], uint16(typ))
	le.PutUint16(buf[18:], uint16(elf.EM_AARCH64))
	le.PutUint32(buf[20:], uint32(elf.EV_CURRENT))
	le.PutUint64(buf[32:], 64) // phoff
	le.PutUint16(buf[52:], 64) // ehsize
	le.PutUint16(buf[54:], 56) // phentsize
	le.PutUint16(buf[56:], 1)  // phnum
	le.PutUint16(buf[58:], 64) // shentsize
	buf = append(buf, payload...)

	ph := buf[64:]
	le.PutUint32(ph[0:], uint32(elf.PT_LOAD))
	le.PutUint32(ph[4:], uint32(elf.PF_R))
	le.PutUint64(ph[8:], 0)                 // offset
	le.PutUint64(ph[16:], 0x1000)           // vaddr
	le.PutUint64(ph[32:], uint64(len(buf))) // filesz
	le.PutUint64(ph[40:], uint64(len(buf))) // memsz
	le.PutUint64(ph[48:], 0x1000)           // align
	return buf
}

func TestScanDex(t *testing.T) {
	a := sampleDex("LA;")
	b := sampleDex("LB;")

	var buf []byte
	buf = append(buf, "vdex027\x00"...)
	buf = append(buf, make([]byte, 24)...)
	buf = append(buf, "dex\nxyz\x00"...) // bad version digits
	buf = append(buf, a...)
	buf = append(buf, 0, 0, 0, 0)
	buf = append(buf, b...)

	imgs := ScanDex(buf)
	if len(imgs) != 2 {
		t.Fatalf("found %d images, want 2", len(imgs))
	}
	if imgs[0].Offset != 40 || !bytes.Equal(imgs[0].Data, a) {
		t.Errorf("image 0 at 0x%x, %d bytes", imgs[0].Offset, len(imgs[0].Data))
	}
	if imgs[1].Offset != uint64(40+len(a)+4) || !bytes.Equal(imgs[1].Data, b) {
		t.Errorf("image 1 at 0x%x, %d bytes", imgs[1].Offset, len(imgs[1].Data))
	}
}

func TestScanDexRejects(t *testing.T) {
	dex := sampleDex("LA;")
	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"truncated", dex[:len(dex)-1]},
		{"header only", dex[:0x70]},
		{"bad header size", func() []byte {
			b := append([]byte(nil), dex...)
			binary.LittleEndian.PutUint32(b[0x24:], 0x78)
			return b
		}()},
		{"missing nul", func() []byte {
			b := append([]byte(nil), dex...)
			b[7] = ' '
			return b
		}()},
	}
	for _, tt := range tests {
		if imgs := ScanDex(tt.buf); len(imgs) != 0 {
			t.Errorf("%s: found %d images", tt.name, len(imgs))
		}
	}
}

func TestDexImages(t *testing.T) {
	dex := sampleDex("LA;")
	data := elfImage(elf.ET_DYN, dex)
	f, err := NewFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, _, err := f.OatData(); err == nil {
		t.Error("OatData succeeded without dynamic symbols")
	}
	imgs, err := f.DexImages()
	if err != nil {
		t.Fatal(err)
	}
	if len(imgs) != 1 || imgs[0].Offset != 0x80 || !bytes.Equal(imgs[0].Data, dex) {
		t.Fatalf("images = %d, first at 0x%x", len(imgs), imgs[0].Offset)
	}

	off, err := f.VAToFileOffset(0x1080)
	if err != nil || off != 0x80 {
		t.Errorf("VAToFileOffset(0x1080) = 0x%x, %v", off, err)
	}
	got, err := f.ReadBytesAtVA(0x1080, 4)
	if err != nil || string(got) != "dex\n" {
		t.Errorf("ReadBytesAtVA = %q, %v", got, err)
	}
	if _, err := f.VAToFileOffset(0xDEADBEEF); !errors.Is(err, ErrNoSegment) {
		t.Errorf("unmapped VA: %v", err)
	}
}

func TestExtractDex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "base.odex")
	if err := os.WriteFile(path, elfImage(elf.ET_DYN, sampleDex("LA;")), 0644); err != nil {
		t.Fatal(err)
	}
	imgs, err := ExtractDex(path)
	if err != nil || len(imgs) != 1 {
		t.Fatalf("ExtractDex = %d images, %v", len(imgs), err)
	}

	empty := filepath.Join(dir, "empty.odex")
	if err := os.WriteFile(empty, elfImage(elf.ET_DYN, make([]byte, 0x100)), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ExtractDex(empty); !errors.Is(err, ErrNoDex) {
		t.Errorf("empty: %v", err)
	}

	exec := filepath.Join(dir, "exec")
	if err := os.WriteFile(exec, elfImage(elf.ET_EXEC, nil), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ExtractDex(exec); !errors.Is(err, ErrNotShared) {
		t.Errorf("ET_EXEC: %v", err)
	}
}

func TestOpenRejectsNonELF(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "notelf")
	if err := os.WriteFile(tmp, []byte("not an ELF file at all"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(tmp); !errors.Is(err, ErrNotELF) {
		t.Fatalf("err = %v, want ErrNotELF", err)
	}
}

func TestOatDataSample(t *testing.T) {
	path := findSample(t, "boot.oat")
	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	buf, off, err := f.OatData()
	if err != nil {
		t.Fatal(err)
	}
	if len(buf) == 0 || off == 0 {
		t.Errorf("oatdata at 0x%x, %d bytes", off, len(buf))
	}
	if len(f.LoadSegments()) == 0 {
		t.Error("no PT_LOAD segments")
	}
}

func FuzzScanDex(f *testing.F) {
	f.Add(sampleDex("LA;"))
	f.Add([]byte("dex\n035\x00"))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		for _, img := range ScanDex(data) {
			if img.Offset+uint64(len(img.Data)) > uint64(len(data)) {
				t.Fatalf("image at 0x%x overruns input", img.Offset)
			}
		}
	})
}
