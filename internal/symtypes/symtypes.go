// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package symtypes holds the small data records SymbolIndex collects
// from an EO's symbol table: function candidates, per-CPU variables,
// and the linker-script boundary symbols FtraceFilter needs.
package symtypes

import "sort"

// FuncCandidate is a candidate function symbol: a named, non-zero-value
// STT_FUNC entry from the symbol table. Generated is set the first
// time FunctionEncoder emits a Func record for Name; later lookups by
// the same name then report absent (see SelectOnce).
type FuncCandidate struct {
	Name      string
	Addr      uint64
	Generated bool
}

// PercpuVar is a per-CPU variable symbol: a named STT_OBJECT entry
// whose section is the per-CPU section, with a non-zero address and
// size.
type PercpuVar struct {
	Addr uint64
	Size uint32
	Name string
}

// Boundary symbol names SymbolIndex watches for while walking the
// symbol table once.
const (
	SymMcountStart    = "__start_mcount_loc"
	SymMcountStop     = "__stop_mcount_loc"
	SymInitBegin      = "__init_begin"
	SymInitEnd        = "__init_end"
	SymInitBPFBegin   = "__init_bpf_preserve_type_begin"
	SymInitBPFEnd     = "__init_bpf_preserve_type_end"
)

// FuncBoundaries is the set of linker-script symbols that, together,
// enable ftrace-based function selection. It is "complete" only when
// all six symbol values are nonzero (McountSecIndex is not checked);
// an incomplete FuncBoundaries means the EO
// is not vmlinux-shaped and FtraceFilter must be bypassed.
type FuncBoundaries struct {
	McountStart    uint64
	McountStop     uint64
	InitBegin      uint64
	InitEnd        uint64
	InitBPFBegin   uint64
	InitBPFEnd     uint64
	McountSecIndex int // ELF section index holding the mcount-loc table
}

// Complete reports whether all six boundary values were found.
func (b *FuncBoundaries) Complete() bool {
	return b.McountStart != 0 && b.McountStop != 0 &&
		b.InitBegin != 0 && b.InitEnd != 0 &&
		b.InitBPFBegin != 0 && b.InitBPFEnd != 0
}

// Observe records sym's value into the matching boundary slot the
// first time that name is seen, mirroring collect_symbol's
// first-write-wins behavior in the original encoder.
func (b *FuncBoundaries) Observe(name string, value uint64, shndx int) {
	switch name {
	case SymMcountStart:
		if b.McountStart == 0 {
			b.McountStart = value
			b.McountSecIndex = shndx
		}
	case SymMcountStop:
		if b.McountStop == 0 {
			b.McountStop = value
		}
	case SymInitBegin:
		if b.InitBegin == 0 {
			b.InitBegin = value
		}
	case SymInitEnd:
		if b.InitEnd == 0 {
			b.InitEnd = value
		}
	case SymInitBPFBegin:
		if b.InitBPFBegin == 0 {
			b.InitBPFBegin = value
		}
	case SymInitBPFEnd:
		if b.InitBPFEnd == 0 {
			b.InitBPFEnd = value
		}
	}
}

// FuncCandidates is a name-sorted, binary-searchable collection of
// function candidates, supporting the selection protocol FtraceFilter
// and FunctionEncoder share: a "keep iff present and not yet
// generated, then mark generated" lookup.
//
// This is a sorted-array-plus-binary-search structure in the spirit of
// the original symbolizer's range table (perfsession's address-range
// lookup): small, allocation-free lookups over a slice sorted once
// after collection, rather than a map.
type FuncCandidates struct {
	byName []FuncCandidate // sorted by Name
}

// NewFuncCandidates sorts cands by name and returns a lookup table over
// them. cands is retained; callers must not mutate it afterward except
// through the returned table's methods.
func NewFuncCandidates(cands []FuncCandidate) *FuncCandidates {
	sort.Slice(cands, func(i, j int) bool { return cands[i].Name < cands[j].Name })
	return &FuncCandidates{byName: cands}
}

// Len reports the number of candidates.
func (f *FuncCandidates) Len() int { return len(f.byName) }

// All returns the candidates in name order. Callers must not retain a
// reference past the table's lifetime.
func (f *FuncCandidates) All() []FuncCandidate { return f.byName }

// Filter keeps only candidates for which keep returns true, compacting
// the backing slice in place while preserving name order -- mirroring
// FtraceFilter's linear address-based partition over an
// already-name-sorted array (spec.md §4.2 step 4).
func (f *FuncCandidates) Filter(keep func(FuncCandidate) bool) {
	n := 0
	for _, c := range f.byName {
		if keep(c) {
			f.byName[n] = c
			n++
		}
	}
	f.byName = f.byName[:n]
}

// SelectOnce looks up name and, if present and not yet generated,
// marks it generated and returns (candidate, true). A second call for
// the same name returns (FuncCandidate{}, false), matching
// should_generate_function's "generated" bookkeeping.
func (f *FuncCandidates) SelectOnce(name string) (FuncCandidate, bool) {
	i := sort.Search(len(f.byName), func(i int) bool { return f.byName[i].Name >= name })
	if i >= len(f.byName) || f.byName[i].Name != name {
		return FuncCandidate{}, false
	}
	if f.byName[i].Generated {
		return FuncCandidate{}, false
	}
	f.byName[i].Generated = true
	return f.byName[i], true
}

// PercpuVars is an address-sorted, binary-searchable collection of
// per-CPU variable symbols.
type PercpuVars struct {
	byAddr []PercpuVar
}

// NewPercpuVars sorts vars by address and returns a lookup table over
// them.
func NewPercpuVars(vars []PercpuVar) *PercpuVars {
	sort.Slice(vars, func(i, j int) bool { return vars[i].Addr < vars[j].Addr })
	return &PercpuVars{byAddr: vars}
}

// Len reports the number of per-CPU variables.
func (p *PercpuVars) Len() int { return len(p.byAddr) }

// Find looks up the per-CPU variable at addr.
func (p *PercpuVars) Find(addr uint64) (PercpuVar, bool) {
	i := sort.Search(len(p.byAddr), func(i int) bool { return p.byAddr[i].Addr >= addr })
	if i >= len(p.byAddr) || p.byAddr[i].Addr != addr {
		return PercpuVar{}, false
	}
	return p.byAddr[i], true
}
