// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package btf

// nameCharOK reports whether c is legal at the given position of a BTF
// name: first char must be a letter, '_' or '.'; later chars may also
// be digits.
func nameCharOK(c byte, first bool) bool {
	if c == '_' || c == '.' {
		return true
	}
	if first {
		return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
	}
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9'
}

// ValidName reports whether name satisfies the kernel identifier rule:
// first char is a letter, '_' or '.'; remaining chars are alnum, '_' or
// '.'; total length is under KsymNameLen. An empty name is considered
// valid here -- callers that require non-anonymous names (e.g. Func)
// must check len(name) > 0 themselves, since BTF permits anonymous
// struct/union/enum names.
func ValidName(name string) bool {
	if name == "" {
		return true
	}
	if len(name) >= KsymNameLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !nameCharOK(name[i], i == 0) {
			return false
		}
	}
	return true
}
