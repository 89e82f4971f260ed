// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package encoder

import (
	"testing"

	"github.com/aclements/dwarf2btf/internal/btf"
	"github.com/aclements/dwarf2btf/internal/loader"
	"github.com/aclements/dwarf2btf/internal/symtypes"
)

// Scenario 4: ftrace selection.
func TestFtraceSelection(t *testing.T) {
	idx := &SymbolIndex{
		FuncCandidates: symtypes.NewFuncCandidates([]symtypes.FuncCandidate{
			{Name: "foo", Addr: 0x100},
			{Name: "bar", Addr: 0x200},
			{Name: "baz", Addr: 0x300},
		}),
		PercpuVars: symtypes.NewPercpuVars(nil),
		Boundaries: symtypes.FuncBoundaries{
			McountStart: 0x100, McountStop: 0x300 + 8, // covers {0x100, 0x300}... see below
			InitBegin: 0x150, InitEnd: 0x250,
			InitBPFBegin: 1, InitBPFEnd: 1, // empty preserve-type range
		},
	}
	// The mcount block itself is supplied directly to the candidate
	// filter in this unit test; ApplyFtraceFilter's section-reading
	// half has its own direct coverage in ftracefilter_test.go. Here we
	// exercise FunctionEncoder's selection rule against an
	// already-filtered set.
	idx.FuncCandidates.Filter(func(f symtypes.FuncCandidate) bool {
		switch f.Name {
		case "foo", "baz":
			return true
		default:
			return false
		}
	})

	cu := &loader.CU{
		Name: "cu1",
		Functions: []*loader.Function{
			{Name: "foo", Proto: loader.FuncProto{}},
			{Name: "bar", Proto: loader.FuncProto{}},
			{Name: "baz", Proto: loader.FuncProto{}},
		},
	}

	s := NewSession(WithSymbolIndex(idx))
	mustEncode(t, s, cu)

	var funcNames []string
	for _, ty := range s.builder.Types() {
		if ty.Kind == btf.KindFunc {
			funcNames = append(funcNames, ty.Name)
		}
	}
	if len(funcNames) != 2 || funcNames[0] != "foo" || funcNames[1] != "baz" {
		t.Errorf("admitted funcs = %v, want [foo baz]", funcNames)
	}
}

// Function with an unnamed parameter is rejected while ftrace
// filtering is active.
func TestFtraceRejectsUnnamedParam(t *testing.T) {
	idx := &SymbolIndex{
		FuncCandidates: symtypes.NewFuncCandidates([]symtypes.FuncCandidate{{Name: "foo", Addr: 0x100}}),
		PercpuVars:     symtypes.NewPercpuVars(nil),
		Boundaries: symtypes.FuncBoundaries{
			McountStart: 1, McountStop: 1, InitBegin: 1, InitEnd: 1, InitBPFBegin: 1, InitBPFEnd: 1,
		},
	}
	cu := &loader.CU{
		Name: "cu1",
		Functions: []*loader.Function{
			{Name: "foo", Proto: loader.FuncProto{Params: []loader.Param{{Name: ""}}}},
		},
	}
	s := NewSession(WithSymbolIndex(idx))
	mustEncode(t, s, cu)

	for _, ty := range s.builder.Types() {
		if ty.Kind == btf.KindFunc {
			t.Fatalf("function with unnamed parameter was admitted: %+v", ty)
		}
	}
}

// Fallback selection (no ftrace set): declaration criterion.
func TestFallbackSelection(t *testing.T) {
	cu := &loader.CU{
		Name: "cu1",
		Functions: []*loader.Function{
			{Name: "exported", Declaration: false, External: true},
			{Name: "static_fn", Declaration: false, External: false},
			{Name: "decl_only", Declaration: true, External: true},
		},
	}
	s := NewSession()
	mustEncode(t, s, cu)

	var funcNames []string
	for _, ty := range s.builder.Types() {
		if ty.Kind == btf.KindFunc {
			funcNames = append(funcNames, ty.Name)
		}
	}
	if len(funcNames) != 1 || funcNames[0] != "exported" {
		t.Errorf("admitted funcs = %v, want [exported]", funcNames)
	}
}
