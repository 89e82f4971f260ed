// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package encoder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aclements/dwarf2btf/internal/elfreader"
	"github.com/aclements/dwarf2btf/internal/symtypes"
)

// buildMcountLocELF hand-assembles a minimal ELF64 file with one
// PROGBITS section at address secAddr holding locs as little-endian
// uint64s, so ApplyFtraceFilter's section-reading path can be driven
// through a real elfreader.Reader rather than a hand-built one (the
// section data it reads is only reachable through debug/elf's own
// Open/Data path, not by constructing an elf.Section literal).
func buildMcountLocELF(t *testing.T, secAddr uint64, locs []uint64) string {
	t.Helper()

	const ehsize, shsize = 64, 64

	var buf []byte
	put16 := func(v uint16) { buf = append(buf, byte(v), byte(v>>8)) }
	put32 := func(v uint32) { buf = append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24)) }
	put64 := func(v uint64) {
		for i := 0; i < 8; i++ {
			buf = append(buf, byte(v>>(8*i)))
		}
	}

	ident := make([]byte, 16)
	copy(ident, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	buf = append(buf, ident...)
	put16(1)  // ET_REL
	put16(62) // EM_X86_64
	put32(1)  // version
	put64(0)  // entry
	put64(0)  // phoff
	shoffPos := len(buf)
	put64(0) // shoff, patched below
	put32(0) // flags
	put16(ehsize)
	put16(0) // phentsize
	put16(0) // phnum
	put16(shsize)
	put16(3) // shnum: null, .m (the mcount-loc table), .shstrtab
	put16(2) // shstrndx

	dataOff := uint64(len(buf))
	var data []byte
	for _, v := range locs {
		for i := 0; i < 8; i++ {
			data = append(data, byte(v>>(8*i)))
		}
	}
	buf = append(buf, data...)

	strOff := uint64(len(buf))
	shstrtab := []byte{0, '.', 'm', 0, '.', 's', 'h', 's', 't', 'r', 't', 'a', 'b', 0}
	buf = append(buf, shstrtab...)

	shoff := uint64(len(buf))
	writeSec := func(name, typ uint32, addr, off, size uint64) {
		put32(name)
		put32(typ)
		put64(1) // flags: SHF_WRITE, irrelevant here
		put64(addr)
		put64(off)
		put64(size)
		put32(0) // link
		put32(0) // info
		put64(8) // addralign
		put64(0) // entsize
	}
	writeSec(0, 0, 0, 0, 0)                             // SHN_UNDEF
	writeSec(1, 1, secAddr, dataOff, uint64(len(data))) // SHT_PROGBITS
	writeSec(4, 3, 0, strOff, uint64(len(shstrtab)))    // SHT_STRTAB, name ".shstrtab" at offset 4

	le64 := func(v uint64) []byte {
		b := make([]byte, 8)
		for i := range b {
			b[i] = byte(v >> (8 * i))
		}
		return b
	}
	copy(buf[shoffPos:shoffPos+8], le64(shoff))

	dir := t.TempDir()
	path := filepath.Join(dir, "mcount.o")
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFtraceActive(t *testing.T) {
	empty := &SymbolIndex{FuncCandidates: symtypes.NewFuncCandidates(nil)}
	if FtraceActive(empty) {
		t.Error("FtraceActive true with no candidates")
	}

	incomplete := &SymbolIndex{
		FuncCandidates: symtypes.NewFuncCandidates([]symtypes.FuncCandidate{{Name: "f", Addr: 1}}),
		Boundaries:     symtypes.FuncBoundaries{McountStart: 1},
	}
	if FtraceActive(incomplete) {
		t.Error("FtraceActive true with incomplete boundaries")
	}

	active := &SymbolIndex{
		FuncCandidates: symtypes.NewFuncCandidates([]symtypes.FuncCandidate{{Name: "f", Addr: 1}}),
		Boundaries: symtypes.FuncBoundaries{
			McountStart: 1, McountStop: 2, InitBegin: 3, InitEnd: 4, InitBPFBegin: 5, InitBPFEnd: 6,
		},
	}
	if !FtraceActive(active) {
		t.Error("FtraceActive false with candidates and complete boundaries")
	}
}

// TestApplyFtraceFilter exercises ApplyFtraceFilter's own
// section-reading, sorting, bounds-checking and init-exclusion logic
// end to end, against a real elfreader.Reader over a synthetic
// mcount-loc section (scenario 4 in spec.md §8).
func TestApplyFtraceFilter(t *testing.T) {
	const secAddr = 5000
	// Scrambled order: ApplyFtraceFilter must sort before searching.
	path := buildMcountLocELF(t, secAddr, []uint64{5016, 5000, 5032, 5008})

	r, err := elfreader.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	idx := &SymbolIndex{
		FuncCandidates: symtypes.NewFuncCandidates([]symtypes.FuncCandidate{
			{Name: "kept_in_mcount", Addr: 5000},     // in mcount, outside init
			{Name: "excluded_by_init", Addr: 5008},   // in mcount, in init, not in init-bpf
			{Name: "kept_by_init_bpf", Addr: 5016},   // in mcount, in init AND init-bpf
			{Name: "excluded_not_in_mcount", Addr: 5024}, // not in mcount at all
			{Name: "kept_past_init", Addr: 5032},     // in mcount, past init range
		}),
		Boundaries: symtypes.FuncBoundaries{
			McountStart: secAddr, McountStop: secAddr + 32,
			InitBegin: 5004, InitEnd: 5020,
			InitBPFBegin: 5012, InitBPFEnd: 5020,
			McountSecIndex: 1,
		},
	}

	if err := ApplyFtraceFilter(r, idx); err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, c := range idx.FuncCandidates.All() {
		got = append(got, c.Name)
	}
	want := []string{"kept_by_init_bpf", "kept_in_mcount", "kept_past_init"} // name order
	if len(got) != len(want) {
		t.Fatalf("kept candidates = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("kept candidates = %v, want %v", got, want)
		}
	}
}

// TestApplyFtraceFilterBoundsCheck ensures an mcount-loc range that
// falls outside its section's data is reported as an error rather than
// panicking or silently truncating.
func TestApplyFtraceFilterBoundsCheck(t *testing.T) {
	const secAddr = 5000
	path := buildMcountLocELF(t, secAddr, []uint64{5000, 5008})

	r, err := elfreader.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	idx := &SymbolIndex{
		FuncCandidates: symtypes.NewFuncCandidates([]symtypes.FuncCandidate{{Name: "f", Addr: 5000}}),
		Boundaries: symtypes.FuncBoundaries{
			// Claims far more entries than the 16-byte section holds.
			McountStart: secAddr, McountStop: secAddr + 4096,
			InitBegin: 1, InitEnd: 1, InitBPFBegin: 1, InitBPFEnd: 1,
			McountSecIndex: 1,
		},
	}

	if err := ApplyFtraceFilter(r, idx); err == nil {
		t.Fatal("ApplyFtraceFilter with an out-of-bounds mcount range should fail")
	}
}
