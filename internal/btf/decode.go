// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package btf

import (
	"encoding/binary"
	"fmt"
)

// This file is the minimal BTF decoder SPEC_FULL.md §2 calls for: just
// enough to walk a previously encoded blob's header and type section
// to learn its type count (base_nr, for --base-btf continuation) and,
// optionally, the id of an existing "int" base type. It does not
// reconstruct full Type records -- the CLI has no use for anything
// else out of a base BTF.

const (
	decodeMagic  = 0xeB9F
	decodeHdrLen = 24
)

// recordHeader mirrors btfbuilder's packed on-disk layout: every type
// record starts with name_off, info, size_or_type (4 bytes each).
type recordHeader struct {
	NameOff    uint32
	Info       uint32
	SizeOrType uint32
}

// kernel BTF_KIND_* numeric codes (include/uapi/linux/btf.h), mirrored
// from btfbuilder.btfKindCode since the two packages decode/encode the
// same wire format independently.
const (
	codeInt       = 1
	codePtr       = 2
	codeArray     = 3
	codeStruct    = 4
	codeUnion     = 5
	codeEnum      = 6
	codeFwd       = 7
	codeTypedef   = 8
	codeVolatile  = 9
	codeConst     = 10
	codeRestrict  = 11
	codeFunc      = 12
	codeFuncProto = 13
	codeVar       = 14
	codeDatasec   = 15
)

// DecodedType is the subset of a decoded type record callers of
// FindIntType need: its id, kind code and name.
type DecodedType struct {
	ID   TypeID
	Kind uint8
	Name string
}

// Decode parses a BTF blob's header and type section, returning one
// DecodedType per record in id order. Ids are numbered from 1 within
// the blob; they are not offset by any base the blob itself was
// encoded against. It does not
// decode member/parameter/enumerator lists, string contents beyond
// name, or the DATASEC/string section beyond what's needed to walk
// record boundaries.
func Decode(data []byte) ([]DecodedType, error) {
	if len(data) < decodeHdrLen {
		return nil, fmt.Errorf("btf: blob too short for header (%d bytes)", len(data))
	}
	magic := binary.LittleEndian.Uint16(data[0:2])
	if magic != decodeMagic {
		return nil, fmt.Errorf("btf: bad magic %#x", magic)
	}
	hdrLen := binary.LittleEndian.Uint32(data[4:8])
	typeOff := binary.LittleEndian.Uint32(data[8:12])
	typeLen := binary.LittleEndian.Uint32(data[12:16])
	strOff := binary.LittleEndian.Uint32(data[16:20])
	strLen := binary.LittleEndian.Uint32(data[20:24])

	typeStart := uint64(hdrLen) + uint64(typeOff)
	typeEnd := typeStart + uint64(typeLen)
	strStart := uint64(hdrLen) + uint64(strOff)
	strEnd := strStart + uint64(strLen)
	if typeEnd > uint64(len(data)) || strEnd > uint64(len(data)) {
		return nil, fmt.Errorf("btf: header offsets exceed blob length")
	}
	strs := data[strStart:strEnd]

	name := func(off uint32) string {
		if off == 0 || uint64(off) >= uint64(len(strs)) {
			return ""
		}
		end := off
		for end < uint32(len(strs)) && strs[end] != 0 {
			end++
		}
		return string(strs[off:end])
	}

	var out []DecodedType
	pos := typeStart
	var id uint32
	for pos < typeEnd {
		if pos+12 > typeEnd {
			return nil, fmt.Errorf("btf: truncated type record at offset %d", pos)
		}
		var rec recordHeader
		rec.NameOff = binary.LittleEndian.Uint32(data[pos : pos+4])
		rec.Info = binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		rec.SizeOrType = binary.LittleEndian.Uint32(data[pos+8 : pos+12])
		pos += 12

		code := uint8((rec.Info >> 24) & 0x1f)
		vlen := int(rec.Info & 0xffff)

		var extra uint64
		switch code {
		case codeInt:
			extra = 4
		case codePtr, codeConst, codeVolatile, codeRestrict, codeTypedef, codeFwd, codeFunc:
			extra = 0
		case codeStruct, codeUnion:
			extra = uint64(vlen) * 12
		case codeArray:
			extra = 12
		case codeEnum:
			extra = uint64(vlen) * 8
		case codeFuncProto:
			extra = uint64(vlen) * 8
		case codeVar:
			extra = 4
		case codeDatasec:
			extra = uint64(vlen) * 12
		default:
			return nil, fmt.Errorf("btf: unknown kind code %d at offset %d", code, pos-12)
		}
		if pos+extra > typeEnd {
			return nil, fmt.Errorf("btf: truncated type payload at offset %d", pos)
		}
		pos += extra

		id++
		out = append(out, DecodedType{ID: TypeID(id), Kind: code, Name: name(rec.NameOff)})
	}
	return out, nil
}

// DecodeBaseNr returns the number of types encoded in data, to seed
// btfbuilder.New's baseNr for continuation numbering.
func DecodeBaseNr(data []byte) (uint32, error) {
	types, err := Decode(data)
	if err != nil {
		return 0, err
	}
	return uint32(len(types)), nil
}

// FindIntType returns the id of the first BTF_KIND_INT record named
// name, for reusing an existing base BTF's "int" as the array-index
// type (SPEC_FULL.md §2).
func FindIntType(types []DecodedType, name string) (TypeID, bool) {
	for _, t := range types {
		if t.Kind == codeInt && t.Name == name {
			return t.ID, true
		}
	}
	return 0, false
}
