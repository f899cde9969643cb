package main

import (
	"archive/zip"
	"bytes"
	"debug/elf"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"undex/internal/elfx"
)

// dexInput is one DEX image to process.
type dexInput struct {
	Name string // "classes2.dex" inside an APK, "base.odex@0x1000" for embedded images, the file name otherwise
	Dir  string // output subdirectory: "", "smali", "smali_classes2", ...
	Data []byte
}

var classesDex = regexp.MustCompile(`^classes([0-9]*)\.dex$`)

// multidexDir names the output subdirectory of the n-th (1-based) image.
func multidexDir(n int) string {
	if n > 1 {
		return "smali_classes" + strconv.Itoa(n)
	}
	return "smali"
}

// loadInputs reads path. A ZIP archive (APK, JAR, AAR) yields every
// top-level classes*.dex in multidex order. OAT/ODEX shared objects and
// VDEX files yield the DEX images embedded in them. Anything else is
// treated as a single DEX file.
func loadInputs(path string) ([]dexInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch {
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return loadZip(path, data)
	case bytes.HasPrefix(data, []byte(elf.ELFMAG)):
		f, err := elfx.NewFile(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		defer f.Close()
		imgs, err := f.DexImages()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return embedded(path, imgs)
	case bytes.HasPrefix(data, []byte("vdex")):
		return embedded(path, elfx.ScanDex(data))
	}
	return []dexInput{{Name: filepath.Base(path), Data: data}}, nil
}

func embedded(path string, imgs []elfx.DexImage) ([]dexInput, error) {
	if len(imgs) == 0 {
		return nil, fmt.Errorf("%s: %w", path, elfx.ErrNoDex)
	}
	base := filepath.Base(path)
	inputs := make([]dexInput, 0, len(imgs))
	for i, img := range imgs {
		inputs = append(inputs, dexInput{
			Name: fmt.Sprintf("%s@0x%x", base, img.Offset),
			Dir:  multidexDir(i + 1),
			Data: img.Data,
		})
	}
	return inputs, nil
}

func loadZip(path string, data []byte) ([]dexInput, error) {

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("zip %s: %w", path, err)
	}
	type member struct {
		n int
		f *zip.File
	}
	var members []member
	for _, f := range zr.File {
		m := classesDex.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n := 1
		if m[1] != "" {
			if n, err = strconv.Atoi(m[1]); err != nil || n < 2 {
				continue // "classes0.dex", "classes1.dex" are not multidex members
			}
		}
		members = append(members, member{n, f})
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("zip %s: no classes*.dex", path)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].n < members[j].n })

	inputs := make([]dexInput, 0, len(members))
	for _, m := range members {
		rc, err := m.f.Open()
		if err != nil {
			return nil, fmt.Errorf("zip %s: open %s: %w", path, m.f.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("zip %s: read %s: %w", path, m.f.Name, err)
		}
		inputs = append(inputs, dexInput{Name: m.f.Name, Dir: multidexDir(m.n), Data: b})
	}
	return inputs, nil
}
