// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package btf

// KsymNameLen is the kernel's identifier length limit
// (include/linux/kallsyms.h's KSYM_NAME_LEN), enforced by ValidName.
const KsymNameLen = 128

// PercpuSectionName is the kernel convention for the per-CPU data
// section. The encoder uses it as the per-CPU DATASEC name and
// elfreader as the default per-CPU section name; neither derives it.
const PercpuSectionName = ".data..percpu"

// MaxPercpuVars is the static safety bound on per-CPU variable
// collection; exceeding it is a fatal CapExceeded error.
const MaxPercpuVars = 4096

// FuncCandidateFloor is the initial capacity reserved for the
// function-candidate slice before it grows.
const FuncCandidateFloor = 1000
