// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package encoder

import "errors"

// Sentinel errors for failure modes a caller may need to distinguish,
// in the same spirit as perffile/buf.go's errNegativeRead: a small,
// named set rather than a custom error-kind hierarchy.
var (
	// ErrDrift indicates the Drift Invariant failed: the BTF id
	// assigned to a type did not equal core_id + type_id_off. This
	// means the Loader and TypeEncoder disagree on the type sequence.
	ErrDrift = errors.New("encoder: drift invariant violated")

	// ErrCapExceeded indicates the per-CPU variable array grew past
	// its fixed cap.
	ErrCapExceeded = errors.New("encoder: per-CPU variable cap exceeded")

	// ErrInvalidName indicates a name failed the kernel identifier
	// rule and the session was not run with force.
	ErrInvalidName = errors.New("encoder: invalid name")

	// ErrVoidTypedVar indicates a per-CPU variable's own DWARF type
	// reference is 0 (void) and the session was not run with force.
	// A typedef that itself refers to void does not trigger it.
	ErrVoidTypedVar = errors.New("encoder: void-typed per-CPU variable")

	// ErrUnsupportedTag indicates a DWARF tag outside TypeEncoder's
	// accepted set.
	ErrUnsupportedTag = errors.New("encoder: unsupported DWARF tag")

	// ErrSessionClosed indicates a call was made on a session past
	// Finalize.
	ErrSessionClosed = errors.New("encoder: session already finalized")
)
