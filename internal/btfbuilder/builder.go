// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package btfbuilder is the low-level BTF byte-encoding buffer and
// section writer (the BtfBuilder collaborator named in SPEC_FULL.md).
// It accumulates btf.Type records in insertion order and, on Encode,
// serializes them into the kernel's on-disk BTF layout: a fixed header,
// the packed type section, and a deduplicated string table.
package btfbuilder

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/aclements/dwarf2btf/internal/btf"
)

const (
	btfMagic   = 0xeB9F
	btfVersion = 1
	btfHdrLen  = 24

	kindFlagShift = 31
	kindShift     = 24
	kindMask      = 0x1f
	vlenMask      = 0xffff
)

// Builder accumulates BTF type records and encodes them to bytes. It
// corresponds to the BtfBuilder collaborator in SPEC_FULL.md; the
// encoder package is its only caller.
type Builder struct {
	baseNr uint32
	types  []btf.Type

	percpuEntries []btf.DatasecEntry
}

// New creates a Builder whose first emitted type receives id
// baseNr+1, continuing numbering from a previously loaded base BTF
// (see SPEC_FULL.md §2's base-BTF continuation note). Pass 0 when
// there is no base BTF.
func New(baseNr uint32) *Builder {
	return &Builder{baseNr: baseNr}
}

// NumTypes returns the current size of the BTF type table, i.e. the
// highest assigned TypeID (base_nr included). TypeEncoder reads this
// at the start of each CU to compute type_id_off.
func (b *Builder) NumTypes() uint32 {
	return b.baseNr + uint32(len(b.types))
}

func (b *Builder) nextID() btf.TypeID {
	return btf.TypeID(b.NumTypes() + 1)
}

func (b *Builder) append(t btf.Type) btf.TypeID {
	id := b.nextID()
	b.types = append(b.types, t)
	return id
}

// AddInt adds a BTF_KIND_INT type.
func (b *Builder) AddInt(name string, bitSize uint32, enc btf.IntEncoding) (btf.TypeID, error) {
	if !btf.ValidName(name) {
		return 0, fmt.Errorf("invalid base type name %q", name)
	}
	return b.append(btf.Type{Kind: btf.KindInt, Name: name, BitSize: bitSize, Encoding: enc}), nil
}

// AddRef adds a reference-kind type: PTR, CONST, VOLATILE, RESTRICT,
// TYPEDEF, FWD, or FUNC. name is only meaningful for TYPEDEF, FWD and
// FUNC; isUnion is only meaningful for FWD.
func (b *Builder) AddRef(kind btf.Kind, ref btf.TypeID, name string, isUnion bool) (btf.TypeID, error) {
	switch kind {
	case btf.KindPtr, btf.KindConst, btf.KindVolatile, btf.KindRestrict, btf.KindTypedef, btf.KindFwd, btf.KindFunc:
	default:
		return 0, fmt.Errorf("AddRef: unsupported kind %v", kind)
	}
	if !btf.ValidName(name) {
		return 0, fmt.Errorf("invalid type name %q", name)
	}
	if kind == btf.KindFunc && name == "" {
		return 0, fmt.Errorf("BTF_KIND_FUNC requires a non-empty name")
	}
	return b.append(btf.Type{Kind: kind, Name: name, Ref: ref, IsUnion: isUnion}), nil
}

// ReserveInt reserves the next type id for a BTF_KIND_INT that will be
// filled in later via FillInt. This lets a caller hand out a stable id
// (e.g. the lazily-introduced array index type, see
// encoder.EncoderSession) before it knows the type's final content,
// while keeping every later id's arithmetic (type_id_off for
// subsequent CUs) correct -- the slot is consumed now, not when filled.
func (b *Builder) ReserveInt() btf.TypeID {
	return b.append(btf.Type{Kind: btf.KindInt})
}

// FillInt sets the content of a type id previously returned by
// ReserveInt. Calling it on an id that wasn't reserved, or more than
// once on the same id, is a programming error.
func (b *Builder) FillInt(id btf.TypeID, name string, bitSize uint32, enc btf.IntEncoding) error {
	t, err := b.mustGet(id)
	if err != nil {
		return err
	}
	if !btf.ValidName(name) {
		return fmt.Errorf("invalid base type name %q", name)
	}
	t.Name = name
	t.BitSize = bitSize
	t.Encoding = enc
	return nil
}

// AddStruct adds a BTF_KIND_STRUCT or BTF_KIND_UNION type with no
// members yet; call AddMember to attach members before the next Add*
// call.
func (b *Builder) AddStruct(kind btf.Kind, name string, size uint32) (btf.TypeID, error) {
	if kind != btf.KindStruct && kind != btf.KindUnion {
		return 0, fmt.Errorf("AddStruct: unsupported kind %v", kind)
	}
	if !btf.ValidName(name) {
		return 0, fmt.Errorf("invalid type name %q", name)
	}
	return b.append(btf.Type{Kind: kind, Name: name, Size: size}), nil
}

// AddMember appends a member to the struct/union most recently added
// with id typeID. Members must be added in declaration order; the
// caller is responsible for not interleaving other Add* calls for the
// same typeID (mirrors the original's type__for_each_data_member
// single-pass emission).
func (b *Builder) AddMember(typeID btf.TypeID, name string, ref btf.TypeID, bitOffset, bitfieldSize uint32) error {
	t, err := b.mustGet(typeID)
	if err != nil {
		return err
	}
	if t.Kind != btf.KindStruct && t.Kind != btf.KindUnion {
		return fmt.Errorf("AddMember: type %d is not a struct/union", typeID)
	}
	if !btf.ValidName(name) {
		return fmt.Errorf("invalid member name %q", name)
	}
	t.Members = append(t.Members, btf.Member{Name: name, Type: ref, BitOffset: bitOffset, BitfieldSize: bitfieldSize})
	return nil
}

// AddEnum adds a BTF_KIND_ENUM type with no enumerators yet.
func (b *Builder) AddEnum(name string, size uint32) (btf.TypeID, error) {
	if !btf.ValidName(name) {
		return 0, fmt.Errorf("invalid type name %q", name)
	}
	return b.append(btf.Type{Kind: btf.KindEnum, Name: name, Size: size}), nil
}

// AddEnumVal appends an enumerator to the enum most recently added
// with id typeID.
func (b *Builder) AddEnumVal(typeID btf.TypeID, name string, value int32) error {
	t, err := b.mustGet(typeID)
	if err != nil {
		return err
	}
	if t.Kind != btf.KindEnum {
		return fmt.Errorf("AddEnumVal: type %d is not an enum", typeID)
	}
	if !btf.ValidName(name) {
		return fmt.Errorf("invalid enumerator name %q", name)
	}
	t.EnumValues = append(t.EnumValues, btf.EnumValue{Name: name, Value: value})
	return nil
}

// AddArray adds a BTF_KIND_ARRAY type. nelems is the flattened element
// count across all dimensions (see TypeEncoder's array handling).
func (b *Builder) AddArray(elem, index btf.TypeID, nelems uint32) (btf.TypeID, error) {
	return b.append(btf.Type{Kind: btf.KindArray, ElemType: elem, IndexType: index, NumElems: nelems}), nil
}

// AddFuncProto adds a BTF_KIND_FUNC_PROTO type.
func (b *Builder) AddFuncProto(ret btf.TypeID, params []btf.Param) (btf.TypeID, error) {
	for _, p := range params {
		if !btf.ValidName(p.Name) {
			return 0, fmt.Errorf("invalid parameter name %q", p.Name)
		}
	}
	cp := make([]btf.Param, len(params))
	copy(cp, params)
	return b.append(btf.Type{Kind: btf.KindFuncProto, ReturnType: ret, Params: cp}), nil
}

// AddVar adds a BTF_KIND_VAR type.
func (b *Builder) AddVar(name string, ref btf.TypeID, linkage btf.Linkage) (btf.TypeID, error) {
	if name == "" {
		return 0, fmt.Errorf("BTF_KIND_VAR requires a non-empty name")
	}
	if !btf.ValidName(name) {
		return 0, fmt.Errorf("invalid variable name %q", name)
	}
	return b.append(btf.Type{Kind: btf.KindVar, Name: name, Ref: ref, Linkage: linkage}), nil
}

// AddVarSecinfo records one (var, offset, size) triple into the
// deferred per-CPU DATASEC accumulator; it is not a type by itself.
// EncoderSession.Finalize drains the accumulator into a single
// AddDatasec call.
func (b *Builder) AddVarSecinfo(varID btf.TypeID, offset, size uint32) error {
	b.percpuEntries = append(b.percpuEntries, btf.DatasecEntry{Type: varID, Offset: offset, Size: size})
	return nil
}

// PercpuEntries reports whether any per-CPU DATASEC entries are
// pending and returns them.
func (b *Builder) PercpuEntries() []btf.DatasecEntry {
	return b.percpuEntries
}

// AddDatasec adds a BTF_KIND_DATASEC type from entries (typically
// b.PercpuEntries() at finalize time).
func (b *Builder) AddDatasec(name string, entries []btf.DatasecEntry) (btf.TypeID, error) {
	if !btf.ValidName(name) {
		return 0, fmt.Errorf("invalid datasec name %q", name)
	}
	var size uint32
	for _, e := range entries {
		if e.Offset+e.Size > size {
			size = e.Offset + e.Size
		}
	}
	cp := make([]btf.DatasecEntry, len(entries))
	copy(cp, entries)
	return b.append(btf.Type{Kind: btf.KindDatasec, Name: name, Size: size, Entries: cp}), nil
}

func (b *Builder) mustGet(id btf.TypeID) (*btf.Type, error) {
	idx := int(id) - int(b.baseNr) - 1
	if idx < 0 || idx >= len(b.types) {
		return nil, fmt.Errorf("type id %d not present in this session's table", id)
	}
	return &b.types[idx], nil
}

// Types returns the accumulated type records in emission order. It is
// intended for tests and for the CLI's diagnostic dump; callers must
// not mutate the result.
func (b *Builder) Types() []btf.Type {
	return b.types
}

type stringTable struct {
	buf     bytes.Buffer
	offsets map[string]uint32
}

func newStringTable() *stringTable {
	st := &stringTable{offsets: make(map[string]uint32)}
	st.buf.WriteByte(0) // offset 0 is always the empty string
	return st
}

func (st *stringTable) intern(s string) uint32 {
	if s == "" {
		return 0
	}
	if off, ok := st.offsets[s]; ok {
		return off
	}
	off := uint32(st.buf.Len())
	st.offsets[s] = off
	st.buf.WriteString(s)
	st.buf.WriteByte(0)
	return off
}

// Encode serializes the accumulated types into a BTF blob: header,
// type section, string section, per the kernel's on-disk BTF format.
func (b *Builder) Encode() ([]byte, error) {
	strs := newStringTable()
	var typeSec bytes.Buffer

	for _, t := range b.types {
		if err := encodeType(&typeSec, strs, t); err != nil {
			return nil, fmt.Errorf("encode type %q: %w", t.Name, err)
		}
	}

	strBytes := strs.buf.Bytes()
	typeBytes := typeSec.Bytes()

	var out bytes.Buffer
	hdr := struct {
		Magic   uint16
		Version uint8
		Flags   uint8
		HdrLen  uint32
		TypeOff uint32
		TypeLen uint32
		StrOff  uint32
		StrLen  uint32
	}{
		Magic:   btfMagic,
		Version: btfVersion,
		HdrLen:  btfHdrLen,
		TypeOff: 0,
		TypeLen: uint32(len(typeBytes)),
		StrOff:  uint32(len(typeBytes)),
		StrLen:  uint32(len(strBytes)),
	}
	if err := binary.Write(&out, binary.LittleEndian, hdr); err != nil {
		return nil, err
	}
	out.Write(typeBytes)
	out.Write(strBytes)
	return out.Bytes(), nil
}

func infoWord(kind btf.Kind, kindFlag bool, vlen int) uint32 {
	v := uint32(vlen) & vlenMask
	v |= uint32(btfKindCode(kind)) << kindShift
	if kindFlag {
		v |= 1 << kindFlagShift
	}
	return v
}

func btfKindCode(k btf.Kind) uint8 {
	// Kernel BTF_KIND_* numeric codes (include/uapi/linux/btf.h).
	switch k {
	case btf.KindInt:
		return 1
	case btf.KindPtr:
		return 2
	case btf.KindArray:
		return 3
	case btf.KindStruct:
		return 4
	case btf.KindUnion:
		return 5
	case btf.KindEnum:
		return 6
	case btf.KindFwd:
		return 7
	case btf.KindTypedef:
		return 8
	case btf.KindVolatile:
		return 9
	case btf.KindConst:
		return 10
	case btf.KindRestrict:
		return 11
	case btf.KindFunc:
		return 12
	case btf.KindFuncProto:
		return 13
	case btf.KindVar:
		return 14
	case btf.KindDatasec:
		return 15
	}
	return 0
}

func encodeType(w *bytes.Buffer, strs *stringTable, t btf.Type) error {
	writeCommon := func(nameOff uint32, info uint32, sizeOrType uint32) {
		binary.Write(w, binary.LittleEndian, nameOff)
		binary.Write(w, binary.LittleEndian, info)
		binary.Write(w, binary.LittleEndian, sizeOrType)
	}

	switch t.Kind {
	case btf.KindInt:
		writeCommon(strs.intern(t.Name), infoWord(t.Kind, false, 0), (t.BitSize+7)/8)
		data := uint32(t.Encoding)<<24 | 0<<16 | t.BitSize
		binary.Write(w, binary.LittleEndian, data)

	case btf.KindPtr, btf.KindConst, btf.KindVolatile, btf.KindRestrict, btf.KindTypedef:
		writeCommon(strs.intern(t.Name), infoWord(t.Kind, false, 0), uint32(t.Ref))

	case btf.KindFwd:
		writeCommon(strs.intern(t.Name), infoWord(t.Kind, t.IsUnion, 0), 0)

	case btf.KindStruct, btf.KindUnion:
		kindFlag := false
		for _, m := range t.Members {
			if m.BitfieldSize != 0 {
				kindFlag = true
				break
			}
		}
		writeCommon(strs.intern(t.Name), infoWord(t.Kind, kindFlag, len(t.Members)), t.Size)
		for _, m := range t.Members {
			off := m.BitOffset
			if kindFlag {
				off |= m.BitfieldSize << 24
			}
			binary.Write(w, binary.LittleEndian, strs.intern(m.Name))
			binary.Write(w, binary.LittleEndian, uint32(m.Type))
			binary.Write(w, binary.LittleEndian, off)
		}

	case btf.KindArray:
		writeCommon(0, infoWord(t.Kind, false, 0), 0)
		binary.Write(w, binary.LittleEndian, uint32(t.ElemType))
		binary.Write(w, binary.LittleEndian, uint32(t.IndexType))
		binary.Write(w, binary.LittleEndian, t.NumElems)

	case btf.KindEnum:
		writeCommon(strs.intern(t.Name), infoWord(t.Kind, false, len(t.EnumValues)), 4)
		for _, v := range t.EnumValues {
			binary.Write(w, binary.LittleEndian, strs.intern(v.Name))
			binary.Write(w, binary.LittleEndian, v.Value)
		}

	case btf.KindFuncProto:
		writeCommon(0, infoWord(t.Kind, false, len(t.Params)), uint32(t.ReturnType))
		for _, p := range t.Params {
			binary.Write(w, binary.LittleEndian, strs.intern(p.Name))
			binary.Write(w, binary.LittleEndian, uint32(p.Type))
		}

	case btf.KindFunc:
		writeCommon(strs.intern(t.Name), infoWord(t.Kind, false, 0), uint32(t.Ref))

	case btf.KindVar:
		writeCommon(strs.intern(t.Name), infoWord(t.Kind, false, 0), uint32(t.Ref))
		binary.Write(w, binary.LittleEndian, uint32(t.Linkage))

	case btf.KindDatasec:
		writeCommon(strs.intern(t.Name), infoWord(t.Kind, false, len(t.Entries)), t.Size)
		for _, e := range t.Entries {
			binary.Write(w, binary.LittleEndian, uint32(e.Type))
			binary.Write(w, binary.LittleEndian, e.Offset)
			binary.Write(w, binary.LittleEndian, e.Size)
		}

	default:
		return fmt.Errorf("unencodable kind %v", t.Kind)
	}
	return nil
}
