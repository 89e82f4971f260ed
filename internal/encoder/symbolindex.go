// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package encoder

import (
	"debug/elf"
	"fmt"

	"github.com/aclements/dwarf2btf/internal/btf"
	"github.com/aclements/dwarf2btf/internal/elfreader"
	"github.com/aclements/dwarf2btf/internal/symtypes"
)

// funcCandidateFloor is the initial capacity function-candidate
// collection starts from (SPEC_FULL.md §4.1's 1000-entry floor);
// growth beyond it is just ordinary Go slice append amortization.
const funcCandidateFloor = btf.FuncCandidateFloor

// SymbolIndex consumes an EO's symbol table once and produces the
// sorted candidate tables FtraceFilter and the per-CU encoders consult.
type SymbolIndex struct {
	FuncCandidates *symtypes.FuncCandidates
	PercpuVars     *symtypes.PercpuVars
	Boundaries     symtypes.FuncBoundaries
}

// BuildSymbolIndex walks r's symbol table exactly once. force, when
// true, downgrades a per-CPU symbol with an invalid name from a fatal
// error to a skip.
func BuildSymbolIndex(r *elfreader.Reader, force bool) (*SymbolIndex, error) {
	syms, err := r.Symbols()
	if err != nil {
		return nil, err
	}
	percpuShndx := r.PercpuShndx()

	funcs := make([]symtypes.FuncCandidate, 0, funcCandidateFloor)
	var percpu []symtypes.PercpuVar
	var bounds symtypes.FuncBoundaries

	for _, s := range syms {
		switch s.Kind {
		case elf.STT_FUNC:
			if s.Value != 0 {
				funcs = append(funcs, symtypes.FuncCandidate{Name: s.Name, Addr: s.Value})
			}
		case elf.STT_OBJECT:
			if percpuShndx != 0 && s.Section == percpuShndx && s.Value != 0 && s.Size > 0 {
				if !btf.ValidName(s.Name) {
					if !force {
						return nil, fmt.Errorf("%w: per-CPU symbol %q fails kernel identifier rule", ErrInvalidName, s.Name)
					}
					// force: skip silently, per §4.1.
				} else {
					if len(percpu) >= btf.MaxPercpuVars {
						return nil, fmt.Errorf("%w: more than %d per-CPU variables", ErrCapExceeded, btf.MaxPercpuVars)
					}
					percpu = append(percpu, symtypes.PercpuVar{Addr: s.Value, Size: uint32(s.Size), Name: s.Name})
				}
			}
		}
		bounds.Observe(s.Name, s.Value, int(s.Section))
	}

	return &SymbolIndex{
		FuncCandidates: symtypes.NewFuncCandidates(funcs),
		PercpuVars:     symtypes.NewPercpuVars(percpu),
		Boundaries:     bounds,
	}, nil
}
