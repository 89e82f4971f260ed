// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package encoder implements the DWARF-to-BTF encoding pipeline:
// SymbolIndex, FtraceFilter, TypeEncoder, FunctionEncoder,
// PerCpuVarEncoder and the EncoderSession that drives them.
package encoder

import (
	"debug/dwarf"
	"fmt"
	"log"
	"os"

	"github.com/aclements/dwarf2btf/internal/btf"
	"github.com/aclements/dwarf2btf/internal/btfbuilder"
	"github.com/aclements/dwarf2btf/internal/loader"
)

type sessionState int

const (
	stateIdle sessionState = iota
	stateActive
	stateFinalizing
	stateClosed
)

// Option configures a Session.
type Option func(*Session)

// WithForce downgrades InvalidName and VoidTypedVar from fatal errors
// to warnings-and-skip, matching --btf_encode_force.
func WithForce(force bool) Option {
	return func(s *Session) { s.force = force }
}

// WithSkipPercpuVars disables PerCpuVarEncoder entirely, matching
// --skip_encoding_btf_vars.
func WithSkipPercpuVars(skip bool) Option {
	return func(s *Session) { s.skipPercpu = skip }
}

// WithLogger overrides the diagnostic logger; the default writes to
// os.Stderr with no timestamp prefix, matching the teacher's direct
// log.Println/log.Fatal style.
func WithLogger(l *log.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithVerbose enables progress logging through the session's logger.
func WithVerbose(verbose bool) Option {
	return func(s *Session) { s.verbose = verbose }
}

// WithBaseNr seeds the BTF type table's numbering from a previously
// loaded base BTF's type count (SPEC_FULL.md §2's base-BTF
// continuation note). Pass 0 when there is no base BTF.
func WithBaseNr(baseNr uint32) Option {
	return func(s *Session) { s.baseNr = baseNr }
}

// WithPercpuBase sets the per-CPU section's base address, used by
// PerCpuVarEncoder to compute DATASEC offsets.
func WithPercpuBase(addr uint64) Option {
	return func(s *Session) { s.percpuBase = addr }
}

// WithSymbolIndex supplies the function and per-CPU candidate tables
// FunctionEncoder and PerCpuVarEncoder consult. Required unless the EO
// has no symbol table at all, in which case both components degrade
// to their declaration-only / skip-entirely fallbacks.
func WithSymbolIndex(idx *SymbolIndex) Option {
	return func(s *Session) { s.idx = idx }
}

// WithBaseArrayIndexID reuses a base BTF's existing "int" type id as
// the array-index type for every array this session encodes, instead
// of probing the first CU for one or reserving a synthetic type
// (SPEC_FULL.md §2's base-BTF continuation note). It takes priority
// over probeArrayIndexType's own first-CU search, since the base BTF's
// id is the one the split kernel-module / vmlinux-base encoding needs
// every module to agree on.
func WithBaseArrayIndexID(id btf.TypeID) Option {
	return func(s *Session) {
		s.haveArrayIndexID = true
		s.arrayIndexID = id
	}
}

// Session is the EncoderSession named in SPEC_FULL.md §4.6: the state
// container owning one EO's BtfBuilder, array-index-type lazy
// allocation, and the per-CU pipeline (TypeEncoder, FunctionEncoder,
// PerCpuVarEncoder). A Session is single-use per EO.
type Session struct {
	builder *btfbuilder.Builder
	idx     *SymbolIndex

	force      bool
	skipPercpu bool
	verbose    bool
	baseNr     uint32
	percpuBase uint64
	log        *log.Logger

	state    sessionState
	filename string

	firstCU             bool
	haveArrayIndexID    bool
	arrayIndexID        btf.TypeID
	pendingArrayIndexID btf.TypeID // candidate id if the current CU turns out to need a synthetic one
	indexNeeded         bool       // arrayIndexType was actually used against pendingArrayIndexID this CU
	syntheticIndex      bool       // arrayIndexID was reserved rather than found, and needs FillInt at Finalize
}

// NewSession creates a Session ready to encode a single EO's CUs.
func NewSession(opts ...Option) *Session {
	s := &Session{
		state:   stateIdle,
		firstCU: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = log.New(os.Stderr, "", 0)
	}
	s.builder = btfbuilder.New(s.baseNr)
	return s
}

func (s *Session) logf(prefix, format string, args ...interface{}) {
	s.log.Printf(prefix+" "+format, args...)
}

func (s *Session) warnf(format string, args ...interface{}) {
	s.logf("PAHOLE: Warning:", format, args...)
}

func (s *Session) verbosef(format string, args ...interface{}) {
	if s.verbose {
		s.logf("PAHOLE:", format, args...)
	}
}

// maybeFinalizeForNewFile implements the Idle→Active transition on
// first arrival and guards against CUs from more than one EO reaching
// a single session: a Session is single-use per EO, so rather than
// silently re-finalizing and discarding the first EO's bytes, a
// filename change past the first CU is reported as a caller error.
func (s *Session) maybeFinalizeForNewFile(filename string) error {
	switch s.state {
	case stateIdle:
		s.filename = filename
		s.state = stateActive
		return nil
	case stateActive:
		if s.filename != filename {
			return fmt.Errorf("encoder: CU for %q arrived on a session active for %q; call Finalize first", filename, s.filename)
		}
		return nil
	default:
		return ErrSessionClosed
	}
}

// EncodeCU runs TypeEncoder, FunctionEncoder and PerCpuVarEncoder over
// a single compilation unit, in that order, and appends its BTF
// records to the session's type table.
func (s *Session) EncodeCU(cu *loader.CU) error {
	if err := s.maybeFinalizeForNewFile(cu.Filename); err != nil {
		return err
	}
	s.verbosef("encoding CU %q of %s", cu.Name, cu.Filename)

	typeIDOff := s.builder.NumTypes()
	if s.firstCU {
		if !s.haveArrayIndexID {
			s.probeArrayIndexType(cu, typeIDOff)
		}
		s.firstCU = false
	}

	if !s.haveArrayIndexID {
		// The id a synthetic array-index type would get if this CU
		// turns out to contain an array: right after all of this CU's
		// own types, never interleaved mid-walk (see arrayIndexType).
		s.indexNeeded = false
		s.pendingArrayIndexID = btf.TypeID(typeIDOff + uint32(len(cu.Types)) + 1)
	}

	if err := s.encodeTypes(cu, typeIDOff); err != nil {
		return err
	}

	if s.indexNeeded && !s.haveArrayIndexID {
		id := s.builder.ReserveInt()
		if id != s.pendingArrayIndexID {
			return fmt.Errorf("encoder: internal error: array index type reserved as %d, want %d", id, s.pendingArrayIndexID)
		}
		s.arrayIndexID = id
		s.haveArrayIndexID = true
		s.syntheticIndex = true
	}

	if err := s.encodeFunctions(cu, typeIDOff); err != nil {
		return err
	}

	if !s.skipPercpu && s.idx != nil {
		if err := s.encodePercpuVars(cu, typeIDOff); err != nil {
			return err
		}
	}

	return nil
}

// probeArrayIndexType implements §4.3's lazy array-index-type
// acquisition: at session start, look for a base type named "int" in
// the first CU presented. If present, its id is reused for every array
// in the session. This is only consulted when WithBaseArrayIndexID
// hasn't already supplied an id to reuse (see EncodeCU). Otherwise the
// session defers: EncodeCU precomputes, for whichever CU first
// contains an array, the id a synthetic index type would get
// immediately after that CU's own types, and only reserves it once
// that CU's type loop has actually finished -- so the reservation
// never steals the builder slot meant for the array (or any type
// after it) partway through the walk.
func (s *Session) probeArrayIndexType(cu *loader.CU, typeIDOff uint32) {
	for _, t := range cu.Types {
		if t.Tag == dwarf.TagBaseType && t.Name == "int" {
			s.haveArrayIndexID = true
			s.arrayIndexID = btf.TypeID(typeIDOff + t.CoreID)
			return
		}
	}
}

// Finalize completes the session: it fills in the reserved synthetic
// array-index type (if one was needed) and emits the per-CPU DATASEC
// (if any per-CPU variables were encoded), then serializes the
// accumulated type table to bytes. The session is not usable
// afterward.
func (s *Session) Finalize() ([]byte, error) {
	if s.state == stateClosed {
		return nil, ErrSessionClosed
	}
	s.state = stateFinalizing

	if s.syntheticIndex {
		if err := s.builder.FillInt(s.arrayIndexID, "__ARRAY_SIZE_TYPE__", 32, 0); err != nil {
			return nil, fmt.Errorf("emitting synthetic array index type: %w", err)
		}
	}

	if entries := s.builder.PercpuEntries(); len(entries) > 0 {
		if _, err := s.builder.AddDatasec(btf.PercpuSectionName, entries); err != nil {
			return nil, fmt.Errorf("emitting per-CPU datasec: %w", err)
		}
	}

	data, err := s.builder.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding BTF section: %w", err)
	}
	s.state = stateClosed
	return data, nil
}
