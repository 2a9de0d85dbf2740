// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package decompose implements the macro decomposer: it turns an image
// source plus a symbol source into a populated blockgraph.BlockGraph,
// driving a shared recursive-descent x86 disassembly walker that the
// basicblock package's pass 1 reuses.
package decompose

import (
	"github.com/google/syzygy-sub008/address"
	"github.com/google/syzygy-sub008/imagesource"
	"github.com/google/syzygy-sub008/syzygylog"
)

var logger = syzygylog.New("decompose: ")

// WalkResult is the terminal status of one call to Walker.Run, kept as an
// explicit enum rather than folded into a plain error because
// WalkIncomplete is an expected, commonly-tolerated outcome a caller
// must be able to distinguish from a hard WalkError without inspecting
// error text.
type WalkResult int

const (
	WalkSuccess WalkResult = iota
	WalkIncomplete
	WalkTerminated
	WalkError
)

func (r WalkResult) String() string {
	switch r {
	case WalkSuccess:
		return "success"
	case WalkIncomplete:
		return "incomplete"
	case WalkTerminated:
		return "terminated"
	case WalkError:
		return "error"
	default:
		return "unknown"
	}
}

// Directive is the value a Callbacks.OnInstruction hook returns to steer
// the walker.
type Directive int

const (
	Continue Directive = iota
	TerminatePath
	TerminateWalk
	Abort
)

// Callbacks are the per-instruction hooks driving both the macro
// decomposer's code-block disassembly and the basic-block decomposer's
// pass 1; each passes its own implementation to share this one walker.
type Callbacks interface {
	// OnStartInstructionRun is called when the walker begins decoding
	// from a fresh, previously unvisited address.
	OnStartInstructionRun(addr address.Absolute)
	// OnInstruction is called after one instruction has been
	// successfully decoded and its range marked visited.
	OnInstruction(addr address.Absolute, inst imagesource.Instruction) Directive
	// OnBranchInstruction is called for a resolved direct conditional or
	// unconditional branch, before its destination is queued. Calls do
	// not trigger it.
	OnBranchInstruction(addr address.Absolute, inst imagesource.Instruction, dest address.Absolute)
	// OnEndInstructionRun is called when a straight-line run of
	// instructions terminates, with the terminal control-flow
	// disposition.
	OnEndInstructionRun(addr address.Absolute, last imagesource.Instruction, terminates bool)
	// OnDisassemblyComplete is called once after the unvisited queue
	// drains.
	OnDisassemblyComplete()
	// IsNonReturningCall reports whether a call instruction targeting
	// dest should be treated as non-returning (no fall-through
	// successor queued), per spec.md §4.3.5.
	IsNonReturningCall(dest address.Absolute) bool
}

// Walker performs the recursive-descent walk described in spec.md
// §4.3.1 over a single contiguous code range.
type Walker struct {
	codeStart address.Absolute
	codeSize  uint32
	decoder   imagesource.Decoder
	readByte  func(addr address.Absolute, size uint32) ([]byte, bool)

	unvisited []address.Absolute
	queued    map[address.Absolute]bool
	visited   *address.Space[address.Absolute, uint32]
}

// NewWalker constructs a Walker over [codeStart, codeStart+codeSize),
// reading instruction bytes via readByte and decoding via decoder.
func NewWalker(codeStart address.Absolute, codeSize uint32, decoder imagesource.Decoder, readByte func(addr address.Absolute, size uint32) ([]byte, bool)) *Walker {
	return &Walker{
		codeStart: codeStart,
		codeSize:  codeSize,
		decoder:   decoder,
		readByte:  readByte,
		queued:    make(map[address.Absolute]bool),
		visited:   address.NewSpace[address.Absolute, uint32](),
	}
}

// Seed enqueues addr as an entry point to disassemble from, if it lies
// within the walker's code range and has not already been queued.
func (w *Walker) Seed(addr address.Absolute) {
	if uint32(addr) < uint32(w.codeStart) || uint32(addr) >= uint32(w.codeStart)+w.codeSize {
		return
	}
	if w.queued[addr] {
		return
	}
	w.queued[addr] = true
	w.unvisited = append(w.unvisited, addr)
}

func (w *Walker) inRange(addr address.Absolute) bool {
	return uint32(addr) >= uint32(w.codeStart) && uint32(addr) < uint32(w.codeStart)+w.codeSize
}

// VisitedRanges returns every byte range the walk decoded an
// instruction from, in ascending address order. Callers use this to
// detect coverage gaps once the walk completes.
func (w *Walker) VisitedRanges() []address.Range[address.Absolute] {
	entries := w.visited.Ranges()
	out := make([]address.Range[address.Absolute], 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Range)
	}
	return out
}

// Run drives the walk to completion (or to a read or decode failure, an
// overlapping decode, or an Abort/TerminateWalk directive), invoking
// cb's hooks as described in spec.md §4.3.1.
func (w *Walker) Run(cb Callbacks) WalkResult {
	incomplete := false
	for len(w.unvisited) > 0 {
		addr := w.unvisited[0]
		w.unvisited = w.unvisited[1:]

		cb.OnStartInstructionRun(addr)
		result, runIncomplete, aborted := w.runOne(addr, cb)
		if runIncomplete {
			incomplete = true
		}
		if aborted || result == WalkError {
			return WalkError
		}
		if result == WalkTerminated {
			return WalkTerminated
		}
	}
	cb.OnDisassemblyComplete()
	if incomplete {
		return WalkIncomplete
	}
	return WalkSuccess
}

func (w *Walker) runOne(start address.Absolute, cb Callbacks) (result WalkResult, incomplete bool, aborted bool) {
	addr := start
	var last imagesource.Instruction
	terminates := true
	incomplete = false

	for {
		if !w.inRange(addr) {
			terminates = true
			break
		}

		buf, ok := w.readByte(addr, 16)
		if !ok {
			logger.Printf("no bytes available at %#x", uint32(addr))
			return WalkError, false, false
		}
		inst, err := w.decoder.Decode(buf, addr)
		if err != nil {
			logger.Printf("decode failed at %#x: %v", uint32(addr), err)
			return WalkError, false, false
		}

		probe, probeOK := address.NewRange(addr, 1)
		if probeOK {
			if existingRange, _, found := w.visited.FindFirstIntersection(probe); found && existingRange.Start() == addr && existingRange.Size() != uint32(inst.Size) {
				logger.Printf("overlapping decode at %#x: existing length %d, new length %d", uint32(addr), existingRange.Size(), inst.Size)
				return WalkError, false, false
			}
		}
		if r, ok := address.NewRange(addr, uint32(inst.Size)); ok {
			w.visited.Insert(r, uint32(inst.Size))
		}

		directive := cb.OnInstruction(addr, inst)
		last = inst
		switch directive {
		case Abort:
			return WalkError, false, true
		case TerminateWalk:
			return WalkTerminated, false, false
		case TerminatePath:
			terminates = true
			goto done
		}

		switch inst.FlowControl {
		case imagesource.FlowNone, imagesource.FlowCall, imagesource.FlowCmov:
			if inst.FlowControl == imagesource.FlowCall {
				if dest, ok := pcRelativeTarget(addr, inst); ok && cb.IsNonReturningCall(dest) {
					terminates = true
					goto done
				}
			}
			addr = address.Add(addr, int32(inst.Size))
			if w.queued[addr] {
				terminates = false
				goto done
			}
			continue
		case imagesource.FlowReturn, imagesource.FlowSyscall:
			terminates = true
			goto done
		case imagesource.FlowCndBranch:
			next := address.Add(addr, int32(inst.Size))
			w.Seed(next)
			if !w.resolveBranch(addr, inst, cb) {
				incomplete = true
			}
			terminates = true
			goto done
		case imagesource.FlowUncBranch:
			if !w.resolveBranch(addr, inst, cb) {
				incomplete = true
			}
			terminates = true
			goto done
		case imagesource.FlowInterrupt:
			addr = address.Add(addr, int32(inst.Size))
			if w.queued[addr] {
				terminates = false
				goto done
			}
			continue
		default:
			terminates = true
			goto done
		}
	}

done:
	cb.OnEndInstructionRun(addr, last, terminates)
	return WalkSuccess, incomplete, false
}

func (w *Walker) resolveBranch(addr address.Absolute, inst imagesource.Instruction, cb Callbacks) bool {
	dest, ok := pcRelativeTarget(addr, inst)
	if !ok {
		logger.Printf("indirect or unresolvable branch at %#x", uint32(addr))
		return false
	}
	cb.OnBranchInstruction(addr, inst, dest)
	if w.inRange(dest) {
		w.Seed(dest)
	}
	return true
}

func pcRelativeTarget(addr address.Absolute, inst imagesource.Instruction) (address.Absolute, bool) {
	op0 := inst.Operands[0]
	if op0.Type != imagesource.OperandPCRelative {
		return 0, false
	}
	dest := int64(uint32(addr)) + int64(inst.Size) + op0.Immediate
	return address.Absolute(uint32(dest)), true
}
