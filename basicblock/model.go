// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package basicblock implements the basic-block decomposer: it refines
// one code block from a blockgraph.BlockGraph into a BasicBlockSubGraph,
// a complete partition of the block's byte range into code, data, and
// padding basic blocks.
package basicblock

import (
	"github.com/google/syzygy-sub008/blockgraph"
	"github.com/google/syzygy-sub008/imagesource"
	"github.com/google/syzygy-sub008/syzygylog"
)

var logger = syzygylog.New("basicblock: ")

// Kind classifies a BasicBlock.
type Kind int

const (
	CodeBB Kind = iota
	DataBB
	PaddingBB
)

func (k Kind) String() string {
	switch k {
	case CodeBB:
		return "code"
	case DataBB:
		return "data"
	case PaddingBB:
		return "padding"
	default:
		return "unknown"
	}
}

// Condition classifies a Successor edge. The core's instruction
// abstraction (shared with the macro decomposer's walker) does not
// expose a decoder's raw condition-code mnemonic, only whether a branch
// was conditional, so the sixteen x86 jump conditions the original
// format distinguishes collapse to "the branch's own condition" and its
// logical inverse; Always marks an unconditional edge.
type Condition int

const (
	Always Condition = iota
	CondTaken
	CondNotTaken
)

// Invert returns the logical complement of c, used to synthesize the
// fall-through successor of a conditional branch.
func (c Condition) Invert() Condition {
	switch c {
	case CondTaken:
		return CondNotTaken
	case CondNotTaken:
		return CondTaken
	default:
		return c
	}
}

func (c Condition) String() string {
	switch c {
	case Always:
		return "always"
	case CondTaken:
		return "taken"
	case CondNotTaken:
		return "not-taken"
	default:
		return "unknown"
	}
}

// Instruction is one decoded instruction inside a CodeBB, at its
// original offset within the parent block B.
type Instruction struct {
	Offset  uint32
	Size    uint8
	Decoded imagesource.Instruction
}

// BasicBlockID identifies a BasicBlock, unique within one
// BasicBlockSubGraph.
type BasicBlockID uint32

// RefTarget is the destination of a BBReference: either another basic
// block within the same sub-graph, or an external blockgraph.Block the
// parent block B already referenced.
type RefTarget struct {
	Local bool
	// LocalOffset is the offset within the parent block B a successor
	// targets before pass 6 resolves it; BBReference targets (computed
	// in pass 5, which runs after the partition is final) go straight to
	// LocalBB instead.
	LocalOffset uint32
	// LocalBB is the resolved destination once Local is true and
	// resolution has happened (set by pass 5 for references, pass 6 for
	// successors).
	LocalBB BasicBlockID
	Resolved bool
	External *blockgraph.Block
	// ExternalOffset is the offset into External valid when !Local.
	ExternalOffset uint32
}

// BBReference is a Reference translated into sub-graph coordinates: its
// source offset is implicit (the map key on BasicBlock.Refs), but its
// target may now be local.
type BBReference struct {
	Type   blockgraph.ReferenceType
	Size   uint8
	Target RefTarget
}

// BBReferrer is a Referrer translated into sub-graph coordinates: the
// source of an inbound edge, either another basic block in the same
// sub-graph or an external block.
type BBReferrer struct {
	Local        bool
	LocalBB      BasicBlockID
	External     *blockgraph.Block
	ExternalOffset uint32
}

// Successor is a control-flow edge leaving a CodeBB, either to another
// basic block resolved within the sub-graph or out to the macro graph.
type Successor struct {
	Condition Condition
	Target    RefTarget
	// Size and Offset describe the originating branch instruction
	// within B; both successors synthesized from one conditional branch
	// share the same Offset/Size.
	Size   uint8
	Offset uint32
}

// BasicBlock is one contiguous, typed slice of a parent block's byte
// range.
type BasicBlock struct {
	ID     BasicBlockID
	Kind   Kind
	Offset uint32
	Size   uint32
	Data   []byte

	Instructions []Instruction
	Successors   []Successor

	// Labels, Refs, and Referrers are keyed by offset relative to this
	// basic block's own start, populated by pass 5.
	Labels    map[uint32]blockgraph.Label
	Refs      map[uint32]BBReference
	Referrers map[uint32][]BBReferrer
}

func newBasicBlock(id BasicBlockID, kind Kind, offset, size uint32, data []byte) *BasicBlock {
	return &BasicBlock{
		ID: id, Kind: kind, Offset: offset, Size: size, Data: data,
		Labels:    make(map[uint32]blockgraph.Label),
		Refs:      make(map[uint32]BBReference),
		Referrers: make(map[uint32][]BBReferrer),
	}
}

// End returns Offset+Size.
func (bb *BasicBlock) End() uint32 { return bb.Offset + bb.Size }

// BasicBlockSubGraph is the output of decomposing one macro block B: a
// complete partition of [0, B.Size()) into basic blocks.
type BasicBlockSubGraph struct {
	Parent *blockgraph.Block
	blocks map[BasicBlockID]*BasicBlock
	order  []BasicBlockID
	nextID BasicBlockID
}

// BasicBlocks returns the sub-graph's basic blocks in ascending offset
// order.
func (sg *BasicBlockSubGraph) BasicBlocks() []*BasicBlock {
	out := make([]*BasicBlock, len(sg.order))
	for i, id := range sg.order {
		out[i] = sg.blocks[id]
	}
	return out
}

// Get returns the basic block with the given id.
func (sg *BasicBlockSubGraph) Get(id BasicBlockID) (*BasicBlock, bool) {
	bb, ok := sg.blocks[id]
	return bb, ok
}

// At returns the basic block whose range contains offset.
func (sg *BasicBlockSubGraph) At(offset uint32) (*BasicBlock, bool) {
	for _, id := range sg.order {
		bb := sg.blocks[id]
		if offset >= bb.Offset && offset < bb.End() {
			return bb, true
		}
	}
	return nil, false
}

func (sg *BasicBlockSubGraph) add(bb *BasicBlock) {
	sg.blocks[bb.ID] = bb
	sg.order = append(sg.order, bb.ID)
}

func (sg *BasicBlockSubGraph) newID() BasicBlockID {
	id := sg.nextID
	sg.nextID++
	return id
}
