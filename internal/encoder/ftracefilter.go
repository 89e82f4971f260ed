// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package encoder

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/aclements/dwarf2btf/internal/elfreader"
	"github.com/aclements/dwarf2btf/internal/symtypes"
)

// ApplyFtraceFilter intersects idx's function candidates with the
// mcount-loc table under the init-section-exclusion,
// preserve-type-reinclusion rule, in place. It is a no-op (leaving the
// candidate set untouched) when there are no candidates or Boundaries
// is incomplete -- callers should check FtraceActive first to decide
// whether FunctionEncoder's fallback selection rule applies instead.
func ApplyFtraceFilter(r *elfreader.Reader, idx *SymbolIndex) error {
	if !FtraceActive(idx) {
		return nil
	}
	b := idx.Boundaries

	data, err := r.SectionData(b.McountSecIndex)
	if err != nil {
		return fmt.Errorf("reading mcount-loc section: %w", err)
	}
	secAddr, err := r.SectionAddr(b.McountSecIndex)
	if err != nil {
		return fmt.Errorf("reading mcount-loc section address: %w", err)
	}

	start := int64(b.McountStart) - int64(secAddr)
	count := (b.McountStop - b.McountStart) / 8
	if start < 0 || uint64(start)+count*8 > uint64(len(data)) {
		return fmt.Errorf("mcount-loc range out of bounds for its section")
	}

	locs := make([]uint64, count)
	for i := range locs {
		locs[i] = binary.LittleEndian.Uint64(data[uint64(start)+uint64(i)*8:])
	}
	sort.Slice(locs, func(i, j int) bool { return locs[i] < locs[j] })

	inMcount := func(addr uint64) bool {
		i := sort.Search(len(locs), func(i int) bool { return locs[i] >= addr })
		return i < len(locs) && locs[i] == addr
	}
	inRange := func(addr, lo, hi uint64) bool { return addr >= lo && addr < hi }

	idx.FuncCandidates.Filter(func(f symtypes.FuncCandidate) bool {
		excludedByInit := inRange(f.Addr, b.InitBegin, b.InitEnd) &&
			!inRange(f.Addr, b.InitBPFBegin, b.InitBPFEnd)
		if excludedByInit {
			return false
		}
		return inMcount(f.Addr)
	})
	return nil
}

// FtraceActive reports whether the ftrace filter applies: there must
// be at least one function candidate and a complete set of boundary
// symbols. When false, FunctionEncoder uses its declaration-based
// fallback selection rule instead (§4.4).
func FtraceActive(idx *SymbolIndex) bool {
	return idx.FuncCandidates.Len() > 0 && idx.Boundaries.Complete()
}
