// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package imagesource implements the Image Source, Symbol Source, and
// Instruction Decoder collaborator interfaces the decompose and
// basicblock packages consume, plus a PE-backed and an mmap-backed
// implementation of them.
package imagesource

import "github.com/google/syzygy-sub008/address"

// SectionHeader describes one PE section table entry, in the shape the
// macro decomposer's "create sections" step consumes.
type SectionHeader struct {
	Name            string
	VirtualAddress  address.Relative
	VirtualSize     uint32
	RawSize         uint32
	Characteristics uint32
}

// Relocation is one PE base-relocation entry: a location whose stored
// value must be fixed up at load time if the image does not load at its
// preferred base, and the relative address it currently encodes.
type Relocation struct {
	Location address.Relative
	Target   address.Relative
}

// ImageSource is the read-only view over image bytes and structure that
// the core decomposer consumes. Implementations may be backed by a
// parsed PE file, a memory-mapped file, or (in tests) an in-memory
// buffer.
type ImageSource interface {
	// Sections returns every section header, in file order.
	Sections() []SectionHeader
	// BytesAt returns up to size bytes starting at rel, or false if rel
	// is not covered by any section's raw data.
	BytesAt(rel address.Relative, size uint32) ([]byte, bool)
	// TranslateAbs converts a runtime absolute address to an
	// image-relative address, given the image's preferred base.
	TranslateAbs(abs address.Absolute) (address.Relative, bool)
	// TranslateFile converts an on-disk file offset to an image-relative
	// address.
	TranslateFile(off address.FileOffset) (address.Relative, bool)
	// Relocs returns every base relocation in the image.
	Relocs() []Relocation
	// ImageBase returns the image's preferred load address, used for
	// TranslateAbs.
	ImageBase() uint32
}

// FunctionSymbol describes one function or thunk symbol.
type FunctionSymbol struct {
	Addr         address.Relative
	Size         uint32
	Name         string
	NonReturning bool
	// ImportModule and ImportFunction identify the imported symbol a
	// thunk jumps to, when the thunk is an import stub; both are
	// empty for ordinary functions and for thunks that are not.
	ImportModule   string
	ImportFunction string
}

// LabelSymbol describes one function-scope or global label.
type LabelSymbol struct {
	Addr address.Relative
	Name string
}

// DataSymbol describes one data symbol; zero Size marks a label-only
// symbol per spec.md §4.3 step 4.
type DataSymbol struct {
	Addr address.Relative
	Size uint32
	Name string
}

// SectionContribution describes a compiland's contribution to a
// section, used to chunk blocks in regions not covered by symbolic
// information.
type SectionContribution struct {
	SectionIndex int
	Addr         address.Relative
	Size         uint32
}

// FixupType mirrors blockgraph.ReferenceType but is declared separately
// so imagesource has no dependency on blockgraph; decompose is
// responsible for the translation.
type FixupType int

const (
	FixupPCRelative FixupType = iota
	FixupAbsolute
	FixupRelative
	FixupFileOffset
	FixupSection
	FixupSectionOffset
)

// Fixup is one authoritative reference hint recovered from debug info: a
// location in the image whose stored bytes encode a reference of the
// given type to base.
type Fixup struct {
	Location     address.Relative
	Type         FixupType
	Base         address.Relative
	RefersToCode bool
	IsData       bool
}

// OMAPEntry is one entry of an optional offset-remapping table, used
// when the debug info was generated against a differently-laid-out
// image (e.g. after a prior Syzygy transform) than the one being
// decomposed now.
type OMAPEntry struct {
	From address.Relative
	To   address.Relative
}

// SymbolSource is the read-only view over debug information (a PDB, in
// the canonical deployment) that the macro decomposer consumes.
type SymbolSource interface {
	Functions() []FunctionSymbol
	Thunks() []FunctionSymbol
	LabelsIn(fn FunctionSymbol) []LabelSymbol
	GlobalLabels() []LabelSymbol
	DataSymbols() []DataSymbol
	PublicSymbols() []LabelSymbol
	SectionContributions() []SectionContribution
	Fixups() []Fixup
	// OMAP returns the offset-remapping table, or nil if the debug info
	// was generated against the image being decomposed directly.
	OMAP() []OMAPEntry
}

// FlowControl classifies how an instruction affects the control-flow
// walker.
type FlowControl int

const (
	FlowNone FlowControl = iota
	FlowCall
	FlowCmov
	FlowUncBranch
	FlowCndBranch
	FlowReturn
	FlowSyscall
	FlowInterrupt
)

// OperandType classifies a decoded operand, only as precisely as the
// disassembly walker needs: whether it is the PC-relative immediate
// driving branch-target resolution.
type OperandType int

const (
	OperandNone OperandType = iota
	OperandRegister
	OperandImmediate
	OperandPCRelative
	OperandDisplacement
)

// Operand is one decoded instruction operand.
type Operand struct {
	Type          OperandType
	Size          uint8
	Immediate     int64
	Displacement  int64
}

// Instruction is one decoded x86 instruction.
type Instruction struct {
	Size        uint8
	FlowControl FlowControl
	Operands    [4]Operand
}

// Decoder decodes one instruction from buf, which begins at addr.
type Decoder interface {
	Decode(buf []byte, addr address.Absolute) (Instruction, error)
}
