// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package encoder

import (
	"debug/dwarf"
	"errors"
	"testing"

	"github.com/aclements/dwarf2btf/internal/btf"
	"github.com/aclements/dwarf2btf/internal/loader"
	"github.com/google/go-cmp/cmp"
)

func mustEncode(t *testing.T, s *Session, cu *loader.CU) {
	t.Helper()
	if err := s.EncodeCU(cu); err != nil {
		t.Fatalf("EncodeCU: %v", err)
	}
}

// Scenario 1: minimal base type.
func TestMinimalBaseType(t *testing.T) {
	cu := &loader.CU{
		Name: "cu1",
		Types: []*loader.Type{
			{CoreID: 1, Tag: dwarf.TagBaseType, Name: "int", Size: 4, Encoding: loader.EncodingSigned, BitSize: 32},
		},
	}
	s := NewSession(WithBaseNr(5))
	mustEncode(t, s, cu)

	got := s.builder.Types()
	want := []btf.Type{
		{Kind: btf.KindInt, Name: "int", BitSize: 32, Encoding: btf.IntEncodingSigned},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("types mismatch (-want +got):\n%s", diff)
	}
	if s.builder.NumTypes() != 6 {
		t.Errorf("NumTypes = %d, want 6", s.builder.NumTypes())
	}
}

// Scenario 2: qualified pointer chain.
func TestQualifiedPointerChain(t *testing.T) {
	cu := &loader.CU{
		Name: "cu1",
		Types: []*loader.Type{
			{CoreID: 1, Tag: dwarf.TagBaseType, Name: "int", Size: 4, Encoding: loader.EncodingSigned, BitSize: 32},
			{CoreID: 2, Tag: dwarf.TagConstType, Ref: 1},
			{CoreID: 3, Tag: dwarf.TagPointerType, Ref: 2},
		},
	}
	s := NewSession()
	mustEncode(t, s, cu)

	got := s.builder.Types()
	want := []btf.Type{
		{Kind: btf.KindInt, Name: "int", BitSize: 32, Encoding: btf.IntEncodingSigned},
		{Kind: btf.KindConst, Ref: 1},
		{Kind: btf.KindPtr, Ref: 2},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("types mismatch (-want +got):\n%s", diff)
	}
}

// Scenario 3: array needs a synthetic index type.
func TestArrayNeedsSyntheticIndex(t *testing.T) {
	cu := &loader.CU{
		Name: "cu1",
		Types: []*loader.Type{
			{CoreID: 1, Tag: dwarf.TagBaseType, Name: "char", Size: 1, Encoding: loader.EncodingSignedChar, BitSize: 8},
			{CoreID: 2, Tag: dwarf.TagArrayType, Ref: 1, Dimensions: []uint64{4}},
		},
	}
	s := NewSession()
	mustEncode(t, s, cu)
	data, err := s.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Finalize returned no bytes")
	}

	got := s.builder.Types()
	if len(got) != 3 {
		t.Fatalf("got %d types, want 3", len(got))
	}
	if got[2].Name != "__ARRAY_SIZE_TYPE__" || got[2].BitSize != 32 {
		t.Errorf("synthetic index type = %+v, want __ARRAY_SIZE_TYPE__/32", got[2])
	}
	if got[1].IndexType != 3 {
		t.Errorf("array index ref = %d, want 3", got[1].IndexType)
	}
}

// Scenario 6: drift detection.
func TestDriftDetection(t *testing.T) {
	// Loader presents core ids out of order: [1, 3, 2].
	cu := &loader.CU{
		Name: "cu1",
		Types: []*loader.Type{
			{CoreID: 1, Tag: dwarf.TagBaseType, Name: "int", Size: 4, BitSize: 32},
			{CoreID: 3, Tag: dwarf.TagBaseType, Name: "long", Size: 8, BitSize: 64},
			{CoreID: 2, Tag: dwarf.TagBaseType, Name: "short", Size: 2, BitSize: 16},
		},
	}
	s := NewSession()
	err := s.EncodeCU(cu)
	if err == nil {
		t.Fatal("EncodeCU succeeded, want DriftError")
	}
	if !errors.Is(err, ErrDrift) {
		t.Errorf("err = %v, want ErrDrift", err)
	}
}

// Boundary: empty CU leaves the type table unchanged.
func TestEmptyCU(t *testing.T) {
	s := NewSession()
	mustEncode(t, s, &loader.CU{Name: "empty"})
	if n := s.builder.NumTypes(); n != 0 {
		t.Errorf("NumTypes = %d, want 0", n)
	}
}

// A struct's forward-referencing members (to a later core_id in the
// same CU) resolve correctly since all of a CU's types are allocated
// before any member ref is interpreted.
func TestStructForwardMemberRef(t *testing.T) {
	cu := &loader.CU{
		Name: "cu1",
		Types: []*loader.Type{
			{
				CoreID: 1, Tag: dwarf.TagStructType, Name: "list_head", Size: 8,
				Members: []loader.Member{{Name: "next", Type: 2, BitOffset: 0}},
			},
			{CoreID: 2, Tag: dwarf.TagPointerType, Ref: 1},
		},
	}
	s := NewSession(WithBaseNr(10))
	mustEncode(t, s, cu)

	got := s.builder.Types()
	if got[0].Members[0].Type != 12 {
		t.Errorf("member ref = %d, want 12", got[0].Members[0].Type)
	}
}
