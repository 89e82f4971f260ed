// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package loader builds the normalized, per-compilation-unit type
// graph the encoder walks: the Loader collaborator named in
// SPEC_FULL.md. It wraps debug/dwarf rather than reimplementing DWARF
// parsing.
//
// Unlike the original C tool, whose strings are resolved lazily
// through a string-table handle to avoid a second copy, Go's
// debug/dwarf already resolves DW_AT_name et al. to Go strings when it
// decodes an Entry, so CU and Type fields here hold plain strings
// directly -- replicating the handle indirection would only add a
// lookup with no memory benefit in a garbage-collected runtime.
package loader

import "debug/dwarf"

// Scope is a variable's lexical scope, used by PerCpuVarEncoder to
// decide which variables are even candidates for per-CPU matching.
type Scope int

const (
	ScopeLocal Scope = iota
	ScopeGlobal
)

// CU is one compilation unit's normalized type graph.
type CU struct {
	Filename string // object file path this CU belongs to
	Name     string // DW_AT_name of the compile unit

	// Types is the CU-local type table in core_id order: Types[i]
	// has CoreID i+1. TypeEncoder walks this in order and must
	// produce a BTF id of CoreID+type_id_off for each entry (the
	// Drift Invariant).
	Types []*Type

	Functions []*Function
	Variables []*Variable
}

// Type returns the type with the given local core_id (1-based), or
// nil if out of range. core_id 0 is reserved for void and is never
// stored in Types.
func (cu *CU) Type(coreID uint32) *Type {
	if coreID == 0 || int(coreID) > len(cu.Types) {
		return nil
	}
	return cu.Types[coreID-1]
}

// Member is one field of a struct/union/class type.
type Member struct {
	Name         string
	Type         uint32 // local core_id this member's type resolves to, 0 = void
	BitOffset    uint32
	BitfieldSize uint32
}

// Enumerator is one named value of an enumeration type.
type Enumerator struct {
	Name  string
	Value int64
}

// Param is one formal parameter of a function or subroutine type. Name
// is empty for an unnamed parameter (common in declarations without a
// definition); FunctionEncoder's ftrace selection rule rejects
// functions with any unnamed parameter.
type Param struct {
	Name string
	Type uint32 // local core_id, 0 = void
}

// Type is one DWARF type DIE, normalized into the encoder's accepted
// tag set (see TypeEncoder's dispatch table in SPEC_FULL.md §4.3).
// Fields not relevant to Tag are left zero.
type Type struct {
	CoreID uint32
	Tag    dwarf.Tag

	Name        string
	Ref         uint32 // local core_id this type refers to ("type" attr), 0 = void
	Size        uint64
	Declaration bool // DW_AT_declaration, for structs/unions/classes (Fwd vs full def)

	// base_type only
	Encoding BaseEncoding
	BitSize  uint32

	// structure_type / union_type / class_type only
	IsUnion bool
	Members []Member

	// array_type only: one entry per dimension, outermost first, as
	// DW_TAG_subrange_type children report it.
	Dimensions []uint64

	// enumeration_type only
	Enumerators []Enumerator

	// subroutine_type only
	Params []Param
}

// BaseEncoding classifies a base_type's representation. debug/dwarf
// does not surface DW_AT_encoding directly; the loader derives this
// from the base type's name (see deriveEncoding in loader.go) -- see
// DESIGN.md for why this approximation is sound for BTF's purposes.
type BaseEncoding int

const (
	EncodingNone BaseEncoding = iota
	EncodingSigned
	EncodingUnsignedChar
	EncodingSignedChar
	EncodingBool
	EncodingFloat
)

// FuncProto is a function's prototype: its return type and parameters.
// It is distinct from Type because DWARF functions (DW_TAG_subprogram)
// are not themselves entries in the CU's type table -- only
// DW_TAG_subroutine_type (function pointer targets) are.
type FuncProto struct {
	ReturnType uint32 // local core_id, 0 = void
	Params     []Param
}

// Function is one DW_TAG_subprogram.
type Function struct {
	Name        string
	Addr        uint64 // DW_AT_low_pc; 0 if the function has no address (pure declaration)
	Declaration bool
	External    bool
	Proto       FuncProto
}

// Variable is one DW_TAG_variable. Addr and TypeRef are read as they
// appear on this DIE; Spec links to the DIE this one is a
// specification-following declaration of, mirroring DW_AT_specification.
//
// PerCpuVarEncoder captures Addr from the declaration and TypeRef from
// the followed specification, per the encoder's "address lives on the
// declaration, the type on the specification" rule.
type Variable struct {
	Name        string
	Addr        uint64
	TypeRef     uint32 // local core_id, 0 = void
	Declaration bool
	External    bool
	Scope       Scope
	Spec        *Variable
}
