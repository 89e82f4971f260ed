// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package encoder

import (
	"fmt"

	"github.com/aclements/dwarf2btf/internal/btf"
	"github.com/aclements/dwarf2btf/internal/loader"
)

// encodePercpuVars is PerCpuVarEncoder (§4.5): it matches CU variables
// against the per-CPU symbol table by address and emits a VAR record
// plus a deferred DATASEC entry for each match.
func (s *Session) encodePercpuVars(cu *loader.CU, typeIDOff uint32) error {
	if s.idx.PercpuVars.Len() == 0 {
		return nil
	}

	for _, v := range cu.Variables {
		if v.Declaration && v.Spec == nil {
			continue // step 1: declaration with no linked specification
		}
		if v.Scope != loader.ScopeGlobal && v.Spec == nil {
			continue // step 2: only global-scope, or any var with a spec
		}

		addr := v.Addr // step 3: captured before following the spec link
		typeRef := v.TypeRef
		external := v.External
		if v.Spec != nil {
			typeRef = v.Spec.TypeRef
			external = v.Spec.External
		}

		sym, ok := s.idx.PercpuVars.Find(addr) // step 4
		if !ok {
			continue
		}

		if typeRef == 0 { // step 5
			if !s.force {
				return fmt.Errorf("%w: per-CPU variable %q", ErrVoidTypedVar, sym.Name)
			}
			s.warnf("void-typed per-CPU variable %q, skipping", sym.Name)
			continue
		}

		linkage := btf.LinkageStatic
		if external {
			linkage = btf.LinkageGlobalAllocated
		}
		varID, err := s.builder.AddVar(sym.Name, ref(typeRef, typeIDOff), linkage) // step 6
		if err != nil {
			return fmt.Errorf("encoding per-CPU VAR %q: %w", sym.Name, err)
		}

		offset := uint32(addr - s.percpuBase)
		if err := s.builder.AddVarSecinfo(varID, offset, sym.Size); err != nil { // step 7
			return fmt.Errorf("recording per-CPU datasec entry for %q: %w", sym.Name, err)
		}
	}
	return nil
}
