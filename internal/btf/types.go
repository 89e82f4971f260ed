// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package btf defines the in-memory representation of BTF type records,
// shared between the encoder and the low-level builder that turns them
// into bytes.
package btf

// TypeID identifies a type within a single BTF type table. Id 0 is
// reserved for void and is never assigned to an emitted type.
type TypeID uint32

// Kind is the BTF_KIND_* discriminant of a Type.
type Kind uint8

const (
	KindInt Kind = iota + 1
	KindPtr
	KindConst
	KindVolatile
	KindRestrict
	KindTypedef
	KindStruct
	KindUnion
	KindFwd
	KindArray
	KindEnum
	KindFuncProto
	KindFunc
	KindVar
	KindDatasec
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "INT"
	case KindPtr:
		return "PTR"
	case KindConst:
		return "CONST"
	case KindVolatile:
		return "VOLATILE"
	case KindRestrict:
		return "RESTRICT"
	case KindTypedef:
		return "TYPEDEF"
	case KindStruct:
		return "STRUCT"
	case KindUnion:
		return "UNION"
	case KindFwd:
		return "FWD"
	case KindArray:
		return "ARRAY"
	case KindEnum:
		return "ENUM"
	case KindFuncProto:
		return "FUNC_PROTO"
	case KindFunc:
		return "FUNC"
	case KindVar:
		return "VAR"
	case KindDatasec:
		return "DATASEC"
	}
	return "UNKNOWN"
}

// Linkage is the linkage of a BTF_KIND_VAR record.
type Linkage uint8

const (
	LinkageStatic Linkage = iota
	LinkageGlobalAllocated
)

// Member is one field of a Struct or Union type.
type Member struct {
	Name         string
	Type         TypeID
	BitOffset    uint32
	BitfieldSize uint32
}

// EnumValue is one enumerator of an Enum type.
type EnumValue struct {
	Name  string
	Value int32
}

// Param is one formal parameter of a FuncProto.
//
// Name is empty for an unnamed parameter; the ftrace function-selection
// rule (see encoder.FunctionEncoder) rejects functions that have any
// unnamed parameter when the ftrace filter is active.
type Param struct {
	Name string
	Type TypeID
}

// DatasecEntry describes one variable placed within a Datasec.
type DatasecEntry struct {
	Type   TypeID
	Offset uint32
	Size   uint32
}

// Type is a single BTF type record. Which fields are meaningful depends
// on Kind; this mirrors the tagged-variant guidance for the encoder's
// normalized representation rather than BTF's packed on-disk encoding
// (that packing lives in btfbuilder).
type Type struct {
	Kind Kind

	// Int
	Name     string
	BitSize  uint32
	Encoding IntEncoding

	// Ptr, Const, Volatile, Restrict, Typedef, Func: Ref is the
	// referenced type, 0 meaning void.
	Ref TypeID

	// Struct, Union
	Size    uint32
	Members []Member

	// Fwd
	IsUnion bool

	// Array
	ElemType  TypeID
	IndexType TypeID
	NumElems  uint32

	// Enum
	EnumValues []EnumValue

	// FuncProto
	ReturnType TypeID
	Params     []Param

	// Var
	Linkage Linkage

	// Datasec
	Entries []DatasecEntry
}

// IntEncoding is the BTF_INT_* bit-encoding of an integer base type.
type IntEncoding uint8

const (
	IntEncodingNone IntEncoding = 0
	// IntEncodingSigned marks a signed integer.
	IntEncodingSigned IntEncoding = 1 << 0
	// IntEncodingChar marks a char type (signed or unsigned).
	IntEncodingChar IntEncoding = 1 << 1
	// IntEncodingBool marks a C99 _Bool.
	IntEncodingBool IntEncoding = 1 << 2
)
