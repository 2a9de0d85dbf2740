// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockgraph

import "fmt"

// ReferenceType classifies how a Reference's value is encoded at its
// source offset.
type ReferenceType int

const (
	// PCRelative is a signed displacement relative to the end of the
	// encoding instruction.
	PCRelative ReferenceType = iota
	// Absolute is a raw runtime pointer value, subject to relocation.
	Absolute
	// Relative is an image-relative (RVA) pointer value.
	Relative
	// FileOffsetRef is a byte offset into the on-disk image.
	FileOffsetRef
	// SectionRef identifies a section by its 1-based index.
	SectionRef
	// SectionOffsetRef is an offset within the section named by a
	// companion SectionRef.
	SectionOffsetRef
)

func (t ReferenceType) String() string {
	switch t {
	case PCRelative:
		return "PC_RELATIVE"
	case Absolute:
		return "ABSOLUTE"
	case Relative:
		return "RELATIVE"
	case FileOffsetRef:
		return "FILE_OFFSET"
	case SectionRef:
		return "SECTION"
	case SectionOffsetRef:
		return "SECTION_OFFSET"
	default:
		return fmt.Sprintf("ReferenceType(%d)", int(t))
	}
}

// sizeAllowed reports whether size is one of the allowed encoded widths
// for t, per the validity table in spec.md §3.
func (t ReferenceType) sizeAllowed(size uint8) bool {
	switch t {
	case PCRelative:
		return size == 1 || size == 4
	case Absolute, Relative, FileOffsetRef:
		return size == 4
	case SectionRef:
		return size == 2
	case SectionOffsetRef:
		return size == 1 || size == 4
	default:
		return false
	}
}

// Reference is a typed, sized directed edge from an offset in a source
// block to an offset (and a possibly-distinct conceptual "base" offset)
// in a target block.
type Reference struct {
	Type ReferenceType
	// FromRelocation records whether this reference originates from a
	// relocation entry rather than being purely a fixup/disassembly
	// inference.
	FromRelocation bool
	// Size is the encoded width in bytes: 1, 2, or 4.
	Size uint8
	// Referenced is the target block. A Reference with a nil target is
	// never valid.
	Referenced *Block
	// Offset is the offset into Referenced that is actually encoded at
	// the source site.
	Offset uint32
	// Base is the conceptual target offset into Referenced; equals
	// Offset for a direct reference. 0 <= Base <= Referenced.Size(),
	// where Base == Referenced.Size() is permitted as an end-anchor.
	Base uint32
}

// IsValid reports whether r satisfies the validity predicate from
// spec.md §3: a non-nil target, 0 <= Base <= Referenced.Size(), and a
// Size allowed for Type.
func (r Reference) IsValid() bool {
	if r.Referenced == nil {
		return false
	}
	if r.Base > r.Referenced.Size() {
		return false
	}
	return r.Type.sizeAllowed(r.Size)
}

// Referrer is the reverse-index entry (source_block, source_offset)
// maintained on a target block as the side effect of a reference
// mutation elsewhere in the graph.
type Referrer struct {
	Source *Block
	Offset uint32
}
