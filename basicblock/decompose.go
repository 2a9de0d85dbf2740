// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package basicblock

import (
	"fmt"
	"sort"

	"github.com/google/syzygy-sub008/address"
	"github.com/google/syzygy-sub008/blockgraph"
	"github.com/google/syzygy-sub008/decompose"
	"github.com/google/syzygy-sub008/imagesource"
)

// Decompose refines b into a BasicBlockSubGraph, running the six passes
// described in spec.md §4.4. When enforce is true, the §4.4.8
// validations are run and a violation is returned as an error instead
// of being silently tolerated.
func Decompose(b *blockgraph.Block, decoder imagesource.Decoder, enforce bool) (*BasicBlockSubGraph, error) {
	if b.Kind() != blockgraph.CodeBlock {
		return nil, fmt.Errorf("basicblock: block %q is not a code block", b.Name())
	}

	sg := &BasicBlockSubGraph{Parent: b, blocks: make(map[BasicBlockID]*BasicBlock)}

	jumpTargets, err := pass1SeedAndDisassemble(sg, b, decoder)
	if err != nil {
		return nil, fmt.Errorf("basicblock: pass 1 on %q: %w", b.Name(), err)
	}
	if err := pass2CarveData(sg, b); err != nil {
		return nil, fmt.Errorf("basicblock: pass 2 on %q: %w", b.Name(), err)
	}
	pass3FillPadding(sg, b)
	if err := pass4SplitAtJumpTargets(sg, jumpTargets); err != nil {
		return nil, fmt.Errorf("basicblock: pass 4 on %q: %w", b.Name(), err)
	}

	sort.Slice(sg.order, func(i, j int) bool {
		return sg.blocks[sg.order[i]].Offset < sg.blocks[sg.order[j]].Offset
	})

	pass5PropagateReferences(sg, b)
	if err := pass6ResolveSuccessors(sg); err != nil {
		return nil, fmt.Errorf("basicblock: pass 6 on %q: %w", b.Name(), err)
	}

	if enforce {
		if err := Validate(sg, b); err != nil {
			return nil, fmt.Errorf("basicblock: validation of %q: %w", b.Name(), err)
		}
	}

	return sg, nil
}

// bbCallbacks implements decompose.Callbacks for pass 1, treating
// offsets within B as a synthetic address.Absolute space starting at
// zero, since the shared walker only knows about one linear code range.
type bbCallbacks struct {
	sg          *BasicBlockSubGraph
	b           *blockgraph.Block
	jumpTargets map[uint32]bool

	curStart  uint32
	curEnd    uint32
	curInstrs []Instruction
	curSucc   []Successor
	err       error
}

func (cb *bbCallbacks) OnStartInstructionRun(addr address.Absolute) {
	cb.curStart = uint32(addr)
	cb.curEnd = uint32(addr)
	cb.curInstrs = nil
	cb.curSucc = nil
}

func (cb *bbCallbacks) OnInstruction(addr address.Absolute, inst imagesource.Instruction) decompose.Directive {
	off := uint32(addr)
	if off >= cb.b.Size() {
		return decompose.TerminatePath
	}
	cb.curInstrs = append(cb.curInstrs, Instruction{Offset: off, Size: inst.Size, Decoded: inst})
	cb.curEnd = off + uint32(inst.Size)
	return decompose.Continue
}

func (cb *bbCallbacks) OnBranchInstruction(addr address.Absolute, inst imagesource.Instruction, dest address.Absolute) {
	n := len(cb.curInstrs)
	if n == 0 {
		return
	}
	branch := cb.curInstrs[n-1]
	cb.curInstrs = cb.curInstrs[:n-1]

	destOff := uint32(dest)
	target := cb.resolveTarget(branch.Offset, destOff)

	cond := Always
	if inst.FlowControl == imagesource.FlowCndBranch {
		cond = CondTaken
	}
	cb.curSucc = append(cb.curSucc, Successor{
		Condition: cond,
		Target:    target,
		Size:      branch.Size,
		Offset:    branch.Offset,
	})

	if inst.FlowControl == imagesource.FlowCndBranch {
		fallthroughOff := branch.Offset + uint32(branch.Size)
		cb.curSucc = append(cb.curSucc, Successor{
			Condition: cond.Invert(),
			Target:    cb.resolveTarget(branch.Offset, fallthroughOff),
			Size:      branch.Size,
			Offset:    branch.Offset,
		})
	}
}

// resolveTarget classifies a branch destination discovered at
// branchOffset within B. A destination inside B is local and deferred
// to pass 4/6; a destination outside B must already be recorded as an
// outgoing Reference on B at branchOffset (installed by the macro
// decomposer), since basic-block decomposition never creates new
// cross-block edges of its own.
func (cb *bbCallbacks) resolveTarget(branchOffset, destOff uint32) RefTarget {
	if destOff < cb.b.Size() {
		cb.jumpTargets[destOff] = true
		return RefTarget{Local: true, LocalOffset: destOff}
	}
	if ref, ok := cb.b.GetReference(branchOffset); ok {
		return RefTarget{External: ref.Referenced, ExternalOffset: ref.Base}
	}
	logger.Printf("block %q: branch at offset %d leaves the block with no recorded reference", cb.b.Name(), branchOffset)
	return RefTarget{External: cb.b, ExternalOffset: destOff}
}

func (cb *bbCallbacks) OnEndInstructionRun(addr address.Absolute, last imagesource.Instruction, terminates bool) {
	size := cb.curEnd - cb.curStart
	if size == 0 && len(cb.curInstrs) == 0 && len(cb.curSucc) == 0 {
		return
	}
	if !terminates {
		// Flow continues into an address already queued as a known
		// boundary; synthesize the Always edge so pass 6 / validation
		// sees an explicit successor rather than a dangling fall-through.
		lastOffset := cb.curStart
		if n := len(cb.curInstrs); n > 0 {
			lastOffset = cb.curInstrs[n-1].Offset
		}
		cb.curSucc = append(cb.curSucc, Successor{
			Condition: Always,
			Target:    cb.resolveTarget(lastOffset, uint32(addr)),
			Size:      0,
			Offset:    uint32(addr),
		})
	}
	id := cb.sg.newID()
	bb := newBasicBlock(id, CodeBB, cb.curStart, size, cb.b.Data()[cb.curStart:minU32(cb.curEnd, cb.b.Size())])
	bb.Instructions = cb.curInstrs
	bb.Successors = cb.curSucc
	cb.sg.add(bb)
}

func (cb *bbCallbacks) OnDisassemblyComplete() {}

func (cb *bbCallbacks) IsNonReturningCall(dest address.Absolute) bool { return false }

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// pass1SeedAndDisassemble implements spec.md §4.4.2.
func pass1SeedAndDisassemble(sg *BasicBlockSubGraph, b *blockgraph.Block, decoder imagesource.Decoder) (map[uint32]bool, error) {
	jumpTargets := make(map[uint32]bool)

	readByte := func(addr address.Absolute, size uint32) ([]byte, bool) {
		off := uint32(addr)
		data := b.Data()
		if off >= uint32(len(data)) {
			return nil, false
		}
		end := off + size
		if end > uint32(len(data)) {
			end = uint32(len(data))
		}
		return data[off:end], true
	}

	w := decompose.NewWalker(address.Absolute(0), b.Size(), decoder, readByte)

	for off, l := range b.Labels() {
		if l.Attributes.Has(blockgraph.LabelCode) {
			w.Seed(address.Absolute(off))
		}
	}
	for _, r := range b.Referrers() {
		ref, ok := r.Source.GetReference(r.Offset)
		if !ok || ref.Referenced != b {
			continue
		}
		w.Seed(address.Absolute(ref.Base))
	}
	if len(b.Labels()) == 0 && len(b.Referrers()) == 0 {
		w.Seed(address.Absolute(0))
	}

	cb := &bbCallbacks{sg: sg, b: b, jumpTargets: jumpTargets}
	result := w.Run(cb)
	if result == decompose.WalkError {
		return nil, fmt.Errorf("disassembly failed")
	}
	if result == decompose.WalkIncomplete {
		logger.Printf("block %q: basic-block disassembly incomplete", b.Name())
	}
	return jumpTargets, cb.err
}

// pass2CarveData implements spec.md §4.4.3.
func pass2CarveData(sg *BasicBlockSubGraph, b *blockgraph.Block) error {
	type dataLabel struct {
		offset uint32
		name   string
	}
	var labels []dataLabel
	for off, l := range b.Labels() {
		if l.Attributes.Has(blockgraph.LabelData) {
			labels = append(labels, dataLabel{offset: off, name: l.Name})
		}
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].offset < labels[j].offset })

	for i, dl := range labels {
		end := b.Size()
		if i+1 < len(labels) {
			end = labels[i+1].offset
		}
		if end <= dl.offset {
			continue
		}
		r := address.MustNewRange(address.Relative(dl.offset), end-dl.offset)
		for _, existing := range sg.BasicBlocks() {
			if existing.Kind != CodeBB {
				continue
			}
			er := address.MustNewRange(address.Relative(existing.Offset), existing.Size)
			if r.Intersects(er) {
				return fmt.Errorf("data label %q at offset %d overlaps disassembled code at offset %d", dl.name, dl.offset, existing.Offset)
			}
		}
		bb := newBasicBlock(sg.newID(), DataBB, dl.offset, end-dl.offset, b.Data()[dl.offset:minU32(end, b.Size())])
		sg.add(bb)
	}
	return nil
}

// pass3FillPadding implements spec.md §4.4.4.
func pass3FillPadding(sg *BasicBlockSubGraph, b *blockgraph.Block) {
	type span struct{ start, end uint32 }
	var covered []span
	for _, bb := range sg.BasicBlocks() {
		covered = append(covered, span{bb.Offset, bb.End()})
	}
	sort.Slice(covered, func(i, j int) bool { return covered[i].start < covered[j].start })

	cursor := uint32(0)
	for _, c := range covered {
		if c.start > cursor {
			size := c.start - cursor
			bb := newBasicBlock(sg.newID(), PaddingBB, cursor, size, b.Data()[cursor:minU32(c.start, b.Size())])
			sg.add(bb)
		}
		if c.end > cursor {
			cursor = c.end
		}
	}
	if cursor < b.Size() {
		size := b.Size() - cursor
		bb := newBasicBlock(sg.newID(), PaddingBB, cursor, size, b.Data()[cursor:b.Size()])
		sg.add(bb)
	}
}

// pass4SplitAtJumpTargets implements spec.md §4.4.5.
func pass4SplitAtJumpTargets(sg *BasicBlockSubGraph, jumpTargets map[uint32]bool) error {
	targets := make([]uint32, 0, len(jumpTargets))
	for off := range jumpTargets {
		targets = append(targets, off)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })

	for _, target := range targets {
		if _, ok := startsABasicBlock(sg, target); ok {
			continue
		}
		x, ok := sg.At(target)
		if !ok {
			return fmt.Errorf("jump target %d falls outside the block", target)
		}
		if x.Kind != CodeBB {
			return fmt.Errorf("jump target %d falls inside a non-code basic block", target)
		}
		left, right, err := splitCodeBB(sg, x, target)
		if err != nil {
			return err
		}
		delete(sg.blocks, x.ID)
		for i, id := range sg.order {
			if id == x.ID {
				sg.order = append(sg.order[:i], sg.order[i+1:]...)
				break
			}
		}
		sg.add(left)
		sg.add(right)
	}
	return nil
}

func startsABasicBlock(sg *BasicBlockSubGraph, offset uint32) (*BasicBlock, bool) {
	for _, bb := range sg.BasicBlocks() {
		if bb.Offset == offset {
			return bb, true
		}
	}
	return nil, false
}

// splitCodeBB divides x into [x.Offset, target) and [target, x.End()),
// partitioning its instruction list at the instruction whose Offset (an
// offset within the parent block) equals target; the split must land on
// an instruction boundary.
func splitCodeBB(sg *BasicBlockSubGraph, x *BasicBlock, target uint32) (*BasicBlock, *BasicBlock, error) {
	var leftInstrs, rightInstrs []Instruction
	found := false
	for _, inst := range x.Instructions {
		if inst.Offset == target {
			found = true
		}
		if found {
			rightInstrs = append(rightInstrs, inst)
		} else {
			leftInstrs = append(leftInstrs, inst)
		}
	}
	if !found {
		return nil, nil, fmt.Errorf("split at offset %d does not land on an instruction boundary in basic block at %d", target, x.Offset)
	}

	leftID := sg.newID()
	rightID := sg.newID()

	left := newBasicBlock(leftID, CodeBB, x.Offset, target-x.Offset, x.Data[:target-x.Offset])
	left.Instructions = leftInstrs
	left.Successors = []Successor{{Condition: Always, Target: RefTarget{Local: true, LocalOffset: target}}}

	right := newBasicBlock(rightID, CodeBB, target, x.End()-target, x.Data[target-x.Offset:])
	right.Instructions = rightInstrs
	right.Successors = x.Successors

	return left, right, nil
}

// pass5PropagateReferences implements spec.md §4.4.6.
func pass5PropagateReferences(sg *BasicBlockSubGraph, b *blockgraph.Block) {
	for off, l := range b.Labels() {
		if bb, ok := sg.At(off); ok {
			bb.Labels[off-bb.Offset] = l
		}
	}
	for off, ref := range b.References() {
		bb, ok := sg.At(off)
		if !ok {
			continue
		}
		var target RefTarget
		if ref.Referenced == b {
			if destBB, ok := sg.At(ref.Base); ok {
				target = RefTarget{Local: true, Resolved: true, LocalBB: destBB.ID}
			} else {
				target = RefTarget{External: ref.Referenced, ExternalOffset: ref.Base}
			}
		} else {
			target = RefTarget{External: ref.Referenced, ExternalOffset: ref.Base}
		}
		bb.Refs[off-bb.Offset] = BBReference{Type: ref.Type, Size: ref.Size, Target: target}
	}
	for _, r := range b.Referrers() {
		ref, ok := r.Source.GetReference(r.Offset)
		if !ok {
			continue
		}
		bb, ok := sg.At(ref.Base)
		if !ok {
			continue
		}
		localOff := ref.Base - bb.Offset
		bb.Referrers[localOff] = append(bb.Referrers[localOff], BBReferrer{External: r.Source, ExternalOffset: r.Offset})
	}
}

// pass6ResolveSuccessors implements spec.md §4.4.7.
func pass6ResolveSuccessors(sg *BasicBlockSubGraph) error {
	for _, bb := range sg.BasicBlocks() {
		for i, succ := range bb.Successors {
			if !succ.Target.Local || succ.Target.Resolved {
				continue
			}
			dest, ok := startsABasicBlock(sg, succ.Target.LocalOffset)
			if !ok {
				return fmt.Errorf("successor at offset %d in basic block %d targets offset %d, which is not the start of any basic block", succ.Offset, bb.ID, succ.Target.LocalOffset)
			}
			succ.Target.LocalBB = dest.ID
			succ.Target.Resolved = true
			bb.Successors[i] = succ
		}
	}
	return nil
}
