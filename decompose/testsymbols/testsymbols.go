// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package testsymbols provides in-memory ImageSource and SymbolSource
// test doubles, used by decompose and basicblock tests in place of a
// real PE/PDB pair.
package testsymbols

import (
	"github.com/google/syzygy-sub008/address"
	"github.com/google/syzygy-sub008/imagesource"
)

// Image is a minimal in-memory imagesource.ImageSource built directly
// from a byte buffer and a section list, for tests that want full
// control over the bytes the decomposer sees.
type Image struct {
	Buf       []byte
	SecHeader []imagesource.SectionHeader
	Base      uint32
	RelocList []imagesource.Relocation
}

func (im *Image) Sections() []imagesource.SectionHeader { return im.SecHeader }

func (im *Image) BytesAt(rel address.Relative, size uint32) ([]byte, bool) {
	start := uint32(rel)
	end := start + size
	if uint64(end) > uint64(len(im.Buf)) {
		if start >= uint32(len(im.Buf)) {
			return nil, false
		}
		end = uint32(len(im.Buf))
	}
	return im.Buf[start:end], true
}

func (im *Image) TranslateAbs(abs address.Absolute) (address.Relative, bool) {
	v := uint32(abs)
	if v < im.Base {
		return 0, false
	}
	return address.Relative(v - im.Base), true
}

func (im *Image) TranslateFile(off address.FileOffset) (address.Relative, bool) {
	return address.Relative(off), true
}

func (im *Image) Relocs() []imagesource.Relocation { return im.RelocList }

func (im *Image) ImageBase() uint32 { return im.Base }

// Symbols is a minimal in-memory imagesource.SymbolSource test double.
type Symbols struct {
	Funcs   []imagesource.FunctionSymbol
	Thunk   []imagesource.FunctionSymbol
	Labels  map[address.Relative][]imagesource.LabelSymbol
	Globals []imagesource.LabelSymbol
	Data    []imagesource.DataSymbol
	Public  []imagesource.LabelSymbol
	Contrib []imagesource.SectionContribution
	Fix     []imagesource.Fixup
}

func (s *Symbols) Functions() []imagesource.FunctionSymbol { return s.Funcs }
func (s *Symbols) Thunks() []imagesource.FunctionSymbol    { return s.Thunk }

func (s *Symbols) LabelsIn(fn imagesource.FunctionSymbol) []imagesource.LabelSymbol {
	return s.Labels[fn.Addr]
}

func (s *Symbols) GlobalLabels() []imagesource.LabelSymbol            { return s.Globals }
func (s *Symbols) DataSymbols() []imagesource.DataSymbol              { return s.Data }
func (s *Symbols) PublicSymbols() []imagesource.LabelSymbol           { return s.Public }
func (s *Symbols) SectionContributions() []imagesource.SectionContribution { return s.Contrib }
func (s *Symbols) Fixups() []imagesource.Fixup                        { return s.Fix }
func (s *Symbols) OMAP() []imagesource.OMAPEntry                      { return nil }

// Decoder is a tiny hand-rolled decoder recognizing just enough x86
// opcodes for tests to exercise straight-line code, conditional and
// unconditional short jumps, calls, and returns, without pulling in a
// full disassembler.
type Decoder struct{}

func (Decoder) Decode(buf []byte, addr address.Absolute) (imagesource.Instruction, error) {
	if len(buf) == 0 {
		return imagesource.Instruction{}, errEOF
	}
	op := buf[0]
	switch {
	case op == 0xC3: // RET
		return imagesource.Instruction{Size: 1, FlowControl: imagesource.FlowReturn}, nil
	case op == 0xCC: // INT3
		return imagesource.Instruction{Size: 1, FlowControl: imagesource.FlowInterrupt}, nil
	case op == 0xEB: // JMP rel8
		if len(buf) < 2 {
			return imagesource.Instruction{}, errEOF
		}
		return jmpRel8(buf), nil
	case op == 0xE9: // JMP rel32
		if len(buf) < 5 {
			return imagesource.Instruction{}, errEOF
		}
		return jmpRel32(buf), nil
	case op == 0xE8: // CALL rel32
		if len(buf) < 5 {
			return imagesource.Instruction{}, errEOF
		}
		inst := jmpRel32(buf)
		inst.FlowControl = imagesource.FlowCall
		return inst, nil
	case op >= 0x70 && op <= 0x7F: // Jcc rel8
		if len(buf) < 2 {
			return imagesource.Instruction{}, errEOF
		}
		inst := jmpRel8(buf)
		inst.FlowControl = imagesource.FlowCndBranch
		return inst, nil
	case op == 0x90: // NOP
		return imagesource.Instruction{Size: 1, FlowControl: imagesource.FlowNone}, nil
	default:
		return imagesource.Instruction{Size: 1, FlowControl: imagesource.FlowNone}, nil
	}
}

func jmpRel8(buf []byte) imagesource.Instruction {
	imm := int64(int8(buf[1]))
	return imagesource.Instruction{
		Size:        2,
		FlowControl: imagesource.FlowUncBranch,
		Operands: [4]imagesource.Operand{
			{Type: imagesource.OperandPCRelative, Size: 1, Immediate: imm},
		},
	}
}

func jmpRel32(buf []byte) imagesource.Instruction {
	imm := int64(int32(uint32(buf[1]) | uint32(buf[2])<<8 | uint32(buf[3])<<16 | uint32(buf[4])<<24))
	return imagesource.Instruction{
		Size:        5,
		FlowControl: imagesource.FlowUncBranch,
		Operands: [4]imagesource.Operand{
			{Type: imagesource.OperandPCRelative, Size: 4, Immediate: imm},
		},
	}
}

type decodeError string

func (e decodeError) Error() string { return string(e) }

const errEOF = decodeError("testsymbols: read past end of buffer")
