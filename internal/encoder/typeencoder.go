// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package encoder

import (
	"debug/dwarf"
	"fmt"

	"github.com/aclements/dwarf2btf/internal/btf"
	"github.com/aclements/dwarf2btf/internal/loader"
)

// ref resolves a CU-local core_id to a BTF TypeID given the CU's
// type_id_off: core_id 0 means void, otherwise the Drift Invariant
// guarantees the target's final id is exactly core_id+typeIDOff, so no
// lookup table is needed -- only arithmetic.
func ref(coreID uint32, typeIDOff uint32) btf.TypeID {
	if coreID == 0 {
		return 0
	}
	return btf.TypeID(coreID + typeIDOff)
}

func dims(t *loader.Type) uint64 {
	n := uint64(1)
	for _, d := range t.Dimensions {
		n *= d
	}
	return n
}

func intEncoding(e loader.BaseEncoding) btf.IntEncoding {
	switch e {
	case loader.EncodingSignedChar:
		return btf.IntEncodingSigned | btf.IntEncodingChar
	case loader.EncodingUnsignedChar:
		return btf.IntEncodingChar
	case loader.EncodingBool:
		return btf.IntEncodingBool
	case loader.EncodingSigned:
		return btf.IntEncodingSigned
	default:
		return btf.IntEncodingNone
	}
}

// encodeTypes is TypeEncoder (§4.3): it walks cu.Types in core_id
// order, emits the corresponding BTF record for each accepted DWARF
// tag, and checks the Drift Invariant after every emission.
func (s *Session) encodeTypes(cu *loader.CU, typeIDOff uint32) error {
	for _, t := range cu.Types {
		id, err := s.encodeOneType(t, typeIDOff)
		if err != nil {
			return err
		}
		if id != btf.TypeID(t.CoreID+typeIDOff) {
			return fmt.Errorf("%w: CU %q core_id %d emitted as %d, expected %d",
				ErrDrift, cu.Name, t.CoreID, id, t.CoreID+typeIDOff)
		}
	}
	return nil
}

func (s *Session) encodeOneType(t *loader.Type, typeIDOff uint32) (btf.TypeID, error) {
	switch t.Tag {
	case dwarf.TagBaseType:
		return s.builder.AddInt(t.Name, t.BitSize, intEncoding(t.Encoding))

	case dwarf.TagConstType:
		return s.builder.AddRef(btf.KindConst, ref(t.Ref, typeIDOff), "", false)
	case dwarf.TagVolatileType:
		return s.builder.AddRef(btf.KindVolatile, ref(t.Ref, typeIDOff), "", false)
	case dwarf.TagRestrictType:
		return s.builder.AddRef(btf.KindRestrict, ref(t.Ref, typeIDOff), "", false)
	case dwarf.TagPointerType:
		return s.builder.AddRef(btf.KindPtr, ref(t.Ref, typeIDOff), "", false)
	case dwarf.TagTypedef:
		return s.builder.AddRef(btf.KindTypedef, ref(t.Ref, typeIDOff), t.Name, false)

	case dwarf.TagStructType, dwarf.TagUnionType, dwarf.TagClassType:
		kind := btf.KindStruct
		if t.Tag == dwarf.TagUnionType {
			kind = btf.KindUnion
		}
		if t.Declaration {
			return s.builder.AddRef(btf.KindFwd, 0, t.Name, kind == btf.KindUnion)
		}
		id, err := s.builder.AddStruct(kind, t.Name, uint32(t.Size))
		if err != nil {
			return 0, err
		}
		for _, m := range t.Members {
			if err := s.builder.AddMember(id, m.Name, ref(m.Type, typeIDOff), m.BitOffset, m.BitfieldSize); err != nil {
				return 0, err
			}
		}
		return id, nil

	case dwarf.TagArrayType:
		return s.builder.AddArray(ref(t.Ref, typeIDOff), s.arrayIndexType(), uint32(dims(t)))

	case dwarf.TagEnumerationType:
		id, err := s.builder.AddEnum(t.Name, uint32(t.Size))
		if err != nil {
			return 0, err
		}
		for _, e := range t.Enumerators {
			if err := s.builder.AddEnumVal(id, e.Name, int32(e.Value)); err != nil {
				return 0, err
			}
		}
		return id, nil

	case dwarf.TagSubroutineType:
		params := make([]btf.Param, len(t.Params))
		for i, p := range t.Params {
			params[i] = btf.Param{Name: p.Name, Type: ref(p.Type, typeIDOff)}
		}
		return s.builder.AddFuncProto(ref(t.Ref, typeIDOff), params)

	default:
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedTag, t.Tag)
	}
}

// arrayIndexType returns the BTF id arrays should use as their index
// type: the session-wide "int" found in the first CU if there was one,
// or else the id EncodeCU has precomputed for a synthetic type it will
// reserve once the current CU's type loop finishes. See
// Session.probeArrayIndexType and Session.EncodeCU.
func (s *Session) arrayIndexType() btf.TypeID {
	if s.haveArrayIndexID {
		return s.arrayIndexID
	}
	s.indexNeeded = true
	return s.pendingArrayIndexID
}
