// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package address provides the distinct 32-bit address types used across a
// decomposed image (relative, absolute, and file-offset) along with the
// generic half-open range and non-overlapping range map built on top of
// them.
package address

import "fmt"

// Relative is an image-relative address (an RVA): an offset from the
// image's conceptual base, stable across relocation.
type Relative uint32

// Absolute is a runtime pointer value; it requires relocation to be made
// position-independent.
type Absolute uint32

// FileOffset is a byte position within the on-disk image.
type FileOffset uint32

// Addr is the constraint satisfied by every address kind. All address
// kinds are distinct 32-bit integer types; arithmetic between different
// kinds requires an explicit translation step provided by the image
// source, never an implicit conversion.
type Addr interface {
	~uint32
}

// Add returns addr shifted by a signed byte offset.
func Add[A Addr](addr A, offset int32) A {
	return A(uint32(int64(addr) + int64(offset)))
}

// Less reports whether a orders before b.
func Less[A Addr](a, b A) bool { return a < b }

func fmtAddr[A Addr](a A) string {
	return fmt.Sprintf("0x%08x", uint32(a))
}
