// Package dex parses Dalvik executable containers into read-only index tables.
package dex

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"hash/adler32"
	"slices"

	"undex/internal/dexfmt"
)

const (
	HeaderSize            = 0x70
	EndianConstant        = 0x12345678
	ReverseEndianConstant = 0x78563412

	// NoIndex marks an absent optional index (superclass, source file).
	NoIndex = 0xffffffff
)

// magicPrefix is the first 4 bytes of every DEX file. The next 3 bytes are
// the ASCII version and the 8th byte is NUL.
var magicPrefix = []byte("dex\n")

// SupportedVersions lists the container versions the decoder accepts.
var SupportedVersions = []int{35, 37, 38, 39, 40}

// Section is one size/offset pair from the header.
type Section struct {
	Size uint32 `json:"size"`
	Off  uint32 `json:"off"`
}

// Header holds the fixed file header.
// Layout:
//
//	+0x00: magic        [8]byte  "dex\n035\0"
//	+0x08: checksum     uint32   adler32 of bytes [0x0c, end)
//	+0x0c: signature    [20]byte sha-1 of bytes [0x20, end)
//	+0x20: file_size    uint32
//	+0x24: header_size  uint32   0x70
//	+0x28: endian_tag   uint32   0x12345678
//	+0x2c: link         size/off
//	+0x34: map_off      uint32
//	+0x38: string_ids   size/off
//	+0x40: type_ids     size/off
//	+0x48: proto_ids    size/off
//	+0x50: field_ids    size/off
//	+0x58: method_ids   size/off
//	+0x60: class_defs   size/off
//	+0x68: data         size/off
type Header struct {
	Magic      [8]byte  `json:"-"`
	Version    int      `json:"version"`
	Checksum   uint32   `json:"checksum"`
	Signature  [20]byte `json:"-"`
	FileSize   uint32   `json:"file_size"`
	HeaderSize uint32   `json:"header_size"`
	EndianTag  uint32   `json:"endian_tag"`
	Link       Section  `json:"link"`
	MapOff     uint32   `json:"map_off"`
	StringIDs  Section  `json:"string_ids"`
	TypeIDs    Section  `json:"type_ids"`
	ProtoIDs   Section  `json:"proto_ids"`
	FieldIDs   Section  `json:"field_ids"`
	MethodIDs  Section  `json:"method_ids"`
	ClassDefs  Section  `json:"class_defs"`
	Data       Section  `json:"data"`
}

// SignatureHex returns the SHA-1 signature as lowercase hex.
func (h *Header) SignatureHex() string {
	return fmt.Sprintf("%x", h.Signature[:])
}

// ParseHeader validates the magic, version and endian tag and reads the
// remaining header fields.
func ParseHeader(buf dexfmt.Buffer) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, dexfmt.Errorf(dexfmt.KindFormat, 0, "file is %d bytes, shorter than the %d byte header", len(buf), HeaderSize)
	}
	h := &Header{}
	copy(h.Magic[:], buf[:8])
	if !bytes.Equal(h.Magic[:4], magicPrefix) || h.Magic[7] != 0 {
		return nil, dexfmt.Errorf(dexfmt.KindFormat, 0, "bad magic % x", h.Magic[:])
	}
	v, ok := parseVersion(h.Magic[4:7])
	if !ok {
		return nil, dexfmt.Errorf(dexfmt.KindFormat, 4, "bad version token %q", h.Magic[4:7])
	}
	if !slices.Contains(SupportedVersions, v) {
		return nil, dexfmt.Errorf(dexfmt.KindUnsupported, 4, "dex version %03d", v)
	}
	h.Version = v

	s := dexfmt.NewStream(buf, 8)
	h.Checksum, _ = s.U32()
	sig, _ := s.Bytes(20)
	copy(h.Signature[:], sig)
	h.FileSize, _ = s.U32()
	h.HeaderSize, _ = s.U32()
	h.EndianTag, _ = s.U32()
	h.Link = readSection(s)
	h.MapOff, _ = s.U32()
	h.StringIDs = readSection(s)
	h.TypeIDs = readSection(s)
	h.ProtoIDs = readSection(s)
	h.FieldIDs = readSection(s)
	h.MethodIDs = readSection(s)
	h.ClassDefs = readSection(s)
	h.Data = readSection(s)

	switch h.EndianTag {
	case EndianConstant:
	case ReverseEndianConstant:
		return nil, dexfmt.Errorf(dexfmt.KindUnsupported, 0x28, "big-endian dex files")
	default:
		return nil, dexfmt.Errorf(dexfmt.KindFormat, 0x28, "bad endian tag 0x%08x", h.EndianTag)
	}
	if h.HeaderSize < HeaderSize {
		return nil, dexfmt.Errorf(dexfmt.KindFormat, 0x24, "header size 0x%x below 0x%x", h.HeaderSize, HeaderSize)
	}
	if h.FileSize < HeaderSize {
		return nil, dexfmt.Errorf(dexfmt.KindFormat, 0x20, "file_size %d below header size", h.FileSize)
	}
	if int64(h.FileSize) > int64(len(buf)) {
		return nil, dexfmt.Errorf(dexfmt.KindTruncated, 0x20, "file_size %d exceeds %d available bytes", h.FileSize, len(buf))
	}
	return h, nil
}

// Reads inside the fixed header cannot fail once the length check passed.
func readSection(s *dexfmt.Stream) Section {
	size, _ := s.U32()
	off, _ := s.U32()
	return Section{Size: size, Off: off}
}

func parseVersion(tok []byte) (int, bool) {
	v := 0
	for _, c := range tok {
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + int(c-'0')
	}
	return v, true
}

// ComputeChecksum returns the Adler-32 of everything after the checksum field.
func ComputeChecksum(buf []byte) uint32 {
	if len(buf) < 12 {
		return 0
	}
	return adler32.Checksum(buf[12:])
}

// ComputeSignature returns the SHA-1 of everything after the signature field.
func ComputeSignature(buf []byte) [20]byte {
	if len(buf) < 32 {
		return sha1.Sum(nil)
	}
	return sha1.Sum(buf[32:])
}

// VerifyChecksum reports whether the stored checksum matches the contents.
// Parse never calls it.
func (c *Container) VerifyChecksum() bool {
	return ComputeChecksum(c.buf) == c.Header.Checksum
}

// VerifySignature reports whether the stored SHA-1 signature matches the contents.
func (c *Container) VerifySignature() bool {
	return ComputeSignature(c.buf) == c.Header.Signature
}
