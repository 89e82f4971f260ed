// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package elfreader is the EO reader collaborator named in
// SPEC_FULL.md: it opens a compiled object file and exposes its
// sections and symbol table to the encoder and loader packages.
//
// The ELF-opening pattern here is adapted from the teacher's
// perfsession.newSymbolicExtra, which opens an ELF file and checks for
// a ".debug_info" section before handing the file to debug/dwarf.
package elfreader

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"os"

	"github.com/aclements/dwarf2btf/internal/btf"
)

// Reader wraps an open ELF file, adding the section/symbol lookups the
// encoder needs: candidate function and per-CPU variable collection,
// the per-CPU section's base address, and raw section bytes for the
// ftrace mcount-loc table.
type Reader struct {
	File *elf.File

	closer  *os.File
	percpuSectionName string
}

// Option configures Open.
type Option func(*Reader)

// WithPercpuSectionName overrides the per-CPU section name looked up
// by PercpuShndx/PercpuBaseAddr; it defaults to btf.PercpuSectionName
// (".data..percpu").
func WithPercpuSectionName(name string) Option {
	return func(r *Reader) { r.percpuSectionName = name }
}

// Open opens filename as an ELF object file. The caller must Close the
// returned Reader.
func Open(filename string, opts ...Option) (*Reader, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("error opening EO file %s: %w", filename, err)
	}
	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error loading ELF file %s: %w", filename, err)
	}
	r := &Reader{File: ef, closer: f, percpuSectionName: btf.PercpuSectionName}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.closer.Close()
}

// HasDWARF reports whether the EO carries DWARF debug info.
func (r *Reader) HasDWARF() bool {
	return r.File.Section(".debug_info") != nil
}

// DWARF loads the EO's DWARF data.
func (r *Reader) DWARF() (*dwarf.Data, error) {
	if !r.HasDWARF() {
		return nil, fmt.Errorf("no DWARF info for %s", r.closer.Name())
	}
	d, err := r.File.DWARF()
	if err != nil {
		return nil, fmt.Errorf("error loading DWARF from %s: %w", r.closer.Name(), err)
	}
	return d, nil
}

// Symbol is the subset of an ELF symbol-table entry the encoder cares
// about: (name, value, size, kind, section_index), per SPEC_FULL.md
// §6.
type Symbol struct {
	Name    string
	Value   uint64
	Size    uint64
	Kind    elf.SymType
	Section elf.SectionIndex
}

// Symbols returns the EO's symbol table entries. A missing symbol
// table (e.g. a stripped binary) yields no entries and no error; other
// symbol-table read failures are reported as an error.
func (r *Reader) Symbols() ([]Symbol, error) {
	syms, err := r.File.Symbols()
	if err != nil {
		if err == elf.ErrNoSymbols {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading symbol table: %w", err)
	}
	out := make([]Symbol, len(syms))
	for i, s := range syms {
		out[i] = Symbol{
			Name:    s.Name,
			Value:   s.Value,
			Size:    s.Size,
			Kind:    elf.ST_TYPE(s.Info),
			Section: s.Section,
		}
	}
	return out, nil
}

// SectionByIndex returns the section at the given ELF section index,
// or nil if out of range.
func (r *Reader) SectionByIndex(idx int) *elf.Section {
	if idx < 0 || idx >= len(r.File.Sections) {
		return nil
	}
	return r.File.Sections[idx]
}

// SectionData returns the raw bytes of the section at idx.
func (r *Reader) SectionData(idx int) ([]byte, error) {
	sec := r.SectionByIndex(idx)
	if sec == nil {
		return nil, fmt.Errorf("section index %d out of range", idx)
	}
	data, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("error reading section %d data: %w", idx, err)
	}
	return data, nil
}

// SectionAddr returns the sh_addr of the section at idx.
func (r *Reader) SectionAddr(idx int) (uint64, error) {
	sec := r.SectionByIndex(idx)
	if sec == nil {
		return 0, fmt.Errorf("section index %d out of range", idx)
	}
	return sec.Addr, nil
}

// PercpuShndx returns the ELF section index of the per-CPU section, or
// 0 if the EO has none (section index 0 is SHN_UNDEF and can never be
// a real per-CPU section, so 0 doubles as "absent").
func (r *Reader) PercpuShndx() elf.SectionIndex {
	for i, sec := range r.File.Sections {
		if sec.Name == r.percpuSectionName {
			return elf.SectionIndex(i)
		}
	}
	return 0
}

// PercpuBaseAddr returns the sh_addr of the per-CPU section, or 0 if
// the EO has none.
func (r *Reader) PercpuBaseAddr() uint64 {
	shndx := r.PercpuShndx()
	if shndx == 0 {
		return 0
	}
	return r.File.Sections[shndx].Addr
}
