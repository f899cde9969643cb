// Package elfx locates DEX images embedded in Android ahead-of-time
// artifacts: OAT/ODEX shared objects and VDEX containers.
package elfx

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	ErrNotELF     = errors.New("elfx: not an ELF file")
	ErrNotShared  = errors.New("elfx: not a shared object")
	ErrNoSymbol   = errors.New("elfx: symbol not found")
	ErrNoSegment  = errors.New("elfx: no PT_LOAD segment covers address")
	ErrNoDex      = errors.New("elfx: no embedded dex image")
	ErrBadOatData = errors.New("elfx: oatdata range is empty")
)

// File wraps a debug/elf.File opened over an OAT or ODEX file.
type File struct {
	ELF    *elf.File
	raw    io.ReaderAt
	size   int64
	closer io.Closer
}

// Open opens an ELF file and validates it is a shared object.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elfx: open: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("elfx: stat: %w", err)
	}
	ef, err := NewFile(f, info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	ef.closer = f
	return ef, nil
}

// NewFile wraps r, which holds size bytes of ELF data.
func NewFile(r io.ReaderAt, size int64) (*File, error) {
	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotELF, err)
	}
	if ef.Type != elf.ET_DYN {
		ef.Close()
		return nil, ErrNotShared
	}
	return &File{ELF: ef, raw: r, size: size}, nil
}

// Close releases resources.
func (f *File) Close() error {
	err := f.ELF.Close()
	if f.closer != nil {
		if cerr := f.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// FileSize returns the size of the underlying file.
func (f *File) FileSize() int64 { return f.size }

// Symbol looks up a dynamic symbol by exact name.
// Returns the symbol's virtual address and size.
func (f *File) Symbol(name string) (addr, size uint64, err error) {
	syms, err := f.ELF.DynamicSymbols()
	if err != nil {
		return 0, 0, fmt.Errorf("elfx: dynsym: %w", err)
	}
	for _, s := range syms {
		if s.Name == name {
			return s.Value, s.Size, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: %s", ErrNoSymbol, name)
}

// VAToFileOffset converts a virtual address to a file offset using PT_LOAD segments.
func (f *File) VAToFileOffset(va uint64) (uint64, error) {
	for _, p := range f.ELF.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if va >= p.Vaddr && va < p.Vaddr+p.Memsz {
			offset := va - p.Vaddr + p.Off
			if offset >= uint64(f.size) {
				return 0, fmt.Errorf("elfx: VA 0x%x maps to offset 0x%x beyond file size 0x%x", va, offset, f.size)
			}
			return offset, nil
		}
	}
	return 0, fmt.Errorf("%w: VA 0x%x", ErrNoSegment, va)
}

// ReadBytesAtVA reads n bytes starting at the given virtual address.
func (f *File) ReadBytesAtVA(va uint64, n int) ([]byte, error) {
	off, err := f.VAToFileOffset(va)
	if err != nil {
		return nil, err
	}
	return f.readAt(off, n)
}

func (f *File) readAt(off uint64, n int) ([]byte, error) {
	avail := f.size - int64(off)
	if avail <= 0 {
		return nil, fmt.Errorf("elfx: offset 0x%x at or past end of file", off)
	}
	if int64(n) > avail {
		n = int(avail)
	}
	buf := make([]byte, n)
	_, err := f.raw.ReadAt(buf, int64(off))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("elfx: read at 0x%x: %w", off, err)
	}
	return buf, nil
}

// SegmentInfo describes a PT_LOAD segment.
type SegmentInfo struct {
	Vaddr  uint64
	Memsz  uint64
	Filesz uint64
	Offset uint64
	Flags  elf.ProgFlag
}

// LoadSegments returns all PT_LOAD segments.
func (f *File) LoadSegments() []SegmentInfo {
	var segs []SegmentInfo
	for _, p := range f.ELF.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		segs = append(segs, SegmentInfo{
			Vaddr:  p.Vaddr,
			Memsz:  p.Memsz,
			Filesz: p.Filesz,
			Offset: p.Off,
			Flags:  p.Flags,
		})
	}
	return segs
}

// OatData returns the bytes between the oatdata and the end of the
// oatlastword symbol, plus the file offset they start at.
func (f *File) OatData() ([]byte, uint64, error) {
	start, _, err := f.Symbol("oatdata")
	if err != nil {
		return nil, 0, err
	}
	last, lastSize, err := f.Symbol("oatlastword")
	if err != nil {
		return nil, 0, err
	}
	end := last + lastSize
	if end <= start {
		return nil, 0, ErrBadOatData
	}
	off, err := f.VAToFileOffset(start)
	if err != nil {
		return nil, 0, err
	}
	buf, err := f.readAt(off, int(end-start))
	return buf, off, err
}

// DexImages returns the DEX files stored in the oatdata region. Files
// without dynamic symbols are scanned segment by segment instead.
// Offsets are file offsets.
func (f *File) DexImages() ([]DexImage, error) {
	if buf, base, err := f.OatData(); err == nil {
		return rebase(ScanDex(buf), base), nil
	}
	var out []DexImage
	for _, s := range f.LoadSegments() {
		if s.Filesz == 0 {
			continue
		}
		buf, err := f.readAt(s.Offset, int(s.Filesz))
		if err != nil {
			return nil, err
		}
		out = append(out, rebase(ScanDex(buf), s.Offset)...)
	}
	return out, nil
}

func rebase(imgs []DexImage, base uint64) []DexImage {
	for i := range imgs {
		imgs[i].Offset += base
	}
	return imgs
}

// DexImage is one DEX file found inside a larger buffer.
type DexImage struct {
	Offset uint64
	Data   []byte
}

const (
	dexHeaderSize   = 0x70
	fileSizeOffset  = 0x20
	headerSizeField = 0x24
)

var dexMagic = []byte("dex\n")

// ScanDex finds every complete DEX image in buf. A candidate needs the
// "dex\n" magic followed by three version digits and a NUL, a
// header_size of 0x70 and a file_size that fits in buf. The data of each
// image aliases buf.
func ScanDex(buf []byte) []DexImage {
	var out []DexImage
	for pos := 0; pos+dexHeaderSize <= len(buf); {
		i := bytes.Index(buf[pos:], dexMagic)
		if i < 0 {
			break
		}
		pos += i
		if n, ok := dexAt(buf, pos); ok {
			out = append(out, DexImage{Offset: uint64(pos), Data: buf[pos : pos+n : pos+n]})
			pos += n
			continue
		}
		pos++
	}
	return out
}

func dexAt(buf []byte, pos int) (int, bool) {
	if pos+dexHeaderSize > len(buf) {
		return 0, false
	}
	h := buf[pos:]
	for _, c := range h[4:7] {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	if h[7] != 0 {
		return 0, false
	}
	if binary.LittleEndian.Uint32(h[headerSizeField:]) != dexHeaderSize {
		return 0, false
	}
	size := binary.LittleEndian.Uint32(h[fileSizeOffset:])
	if size < dexHeaderSize || uint64(size) > uint64(len(h)) {
		return 0, false
	}
	return int(size), true
}

// ExtractDex opens path as an OAT or ODEX file and returns its embedded
// DEX images.
func ExtractDex(path string) ([]DexImage, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	imgs, err := f.DexImages()
	if err != nil {
		return nil, err
	}
	if len(imgs) == 0 {
		return nil, ErrNoDex
	}
	return imgs, nil
}
