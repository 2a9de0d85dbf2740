// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package x86enc cross-checks the flow-control classification an
// external Instruction Decoder reports against golang-asm's own x86
// opcode tables, the same tables the teacher's JIT backend
// (exec/internal/compile) uses to emit amd64 machine code. The decoder
// itself is an external collaborator per spec.md §1; this package only
// guards against a decoder mis-classifying a mnemonic the Go toolchain's
// own assembler already knows about.
package x86enc

import (
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/google/syzygy-sub008/imagesource"
)

// returnMnemonics, callMnemonics, uncBranchMnemonics, cndBranchMnemonics,
// interruptMnemonics and cmovMnemonics list the x86.A*
// opcode constants golang-asm/obj/x86 exports for each flow-control
// class this decomposer cares about. Anything not listed here falls
// back to whatever FlowControl class the external decoder itself
// reports.
var (
	returnMnemonics = map[obj.As]bool{
		x86.ARET: true,
	}
	callMnemonics = map[obj.As]bool{
		x86.ACALL: true,
	}
	uncBranchMnemonics = map[obj.As]bool{
		x86.AJMP: true,
	}
	cndBranchMnemonics = map[obj.As]bool{
		x86.AJEQ: true, x86.AJNE: true, x86.AJLT: true, x86.AJLE: true,
		x86.AJGT: true, x86.AJGE: true, x86.AJCS: true, x86.AJCC: true,
		x86.AJMI: true, x86.AJPL: true, x86.AJOS: true, x86.AJOC: true,
		x86.AJHI: true, x86.AJLS: true, x86.AJPS: true, x86.AJPC: true,
	}
	interruptMnemonics = map[obj.As]bool{
		x86.AINT: true,
	}
	cmovMnemonics = map[obj.As]bool{
		x86.ACMOVLEQ: true, x86.ACMOVLNE: true, x86.ACMOVLLT: true,
		x86.ACMOVLLE: true, x86.ACMOVLGT: true, x86.ACMOVLGE: true,
	}
)

// Classify returns the FlowControl golang-asm's own opcode tables imply
// for as, and whether as was recognized at all. A caller uses this to
// cross-check (not replace) the external decoder's own classification;
// a mismatch between the two is a decoder bug worth surfacing as a
// diagnostic rather than trusted silently.
func Classify(as obj.As) (imagesource.FlowControl, bool) {
	switch {
	case returnMnemonics[as]:
		return imagesource.FlowReturn, true
	case callMnemonics[as]:
		return imagesource.FlowCall, true
	case uncBranchMnemonics[as]:
		return imagesource.FlowUncBranch, true
	case cndBranchMnemonics[as]:
		return imagesource.FlowCndBranch, true
	case interruptMnemonics[as]:
		return imagesource.FlowInterrupt, true
	case cmovMnemonics[as]:
		return imagesource.FlowCmov, true
	default:
		return imagesource.FlowNone, false
	}
}

// Mismatch reports whether the external decoder's reported class
// disagrees with golang-asm's own table for a recognized mnemonic.
func Mismatch(as obj.As, reported imagesource.FlowControl) bool {
	want, known := Classify(as)
	return known && want != reported
}
