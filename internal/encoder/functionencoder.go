// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package encoder

import (
	"fmt"

	"github.com/aclements/dwarf2btf/internal/btf"
	"github.com/aclements/dwarf2btf/internal/loader"
)

// encodeFunctions is FunctionEncoder (§4.4): for each function the
// selection rule admits, it emits a FUNC_PROTO/FUNC pair atomically.
func (s *Session) encodeFunctions(cu *loader.CU, typeIDOff uint32) error {
	ftraceActive := s.idx != nil && FtraceActive(s.idx)

	for _, fn := range cu.Functions {
		admit, err := s.selectFunction(fn, ftraceActive)
		if err != nil {
			return err
		}
		if !admit {
			continue
		}

		params := make([]btf.Param, len(fn.Proto.Params))
		for i, p := range fn.Proto.Params {
			params[i] = btf.Param{Name: p.Name, Type: ref(p.Type, typeIDOff)}
		}
		protoID, err := s.builder.AddFuncProto(ref(fn.Proto.ReturnType, typeIDOff), params)
		if err != nil {
			return fmt.Errorf("encoding FUNC_PROTO for %q: %w", fn.Name, err)
		}
		if _, err := s.builder.AddRef(btf.KindFunc, protoID, fn.Name, false); err != nil {
			return fmt.Errorf("encoding FUNC for %q: %w", fn.Name, err)
		}
	}
	return nil
}

// selectFunction applies §4.4's selection rule: when the ftrace filter
// produced a (non-empty, complete-boundaries) set, admit iff every
// parameter is named and the name is present in that set with
// generated=false, marking it generated. Otherwise fall back to the
// DWARF-declaration criterion. The fallback path performs no
// cross-CU dedup bookkeeping, matching the original's behavior (see
// SPEC_FULL.md §4.4).
func (s *Session) selectFunction(fn *loader.Function, ftraceActive bool) (bool, error) {
	if ftraceActive {
		for _, p := range fn.Proto.Params {
			if p.Name == "" {
				return false, nil
			}
		}
		_, ok := s.idx.FuncCandidates.SelectOnce(fn.Name)
		return ok, nil
	}
	return !fn.Declaration && fn.External, nil
}
