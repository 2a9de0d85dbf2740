// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package basicblock

import (
	"testing"

	"github.com/google/syzygy-sub008/blockgraph"
	"github.com/google/syzygy-sub008/decompose/testsymbols"
)

func newCodeBlock(t *testing.T, data []byte, codeLabelOffsets ...uint32) *blockgraph.Block {
	t.Helper()
	g := blockgraph.NewBlockGraph()
	b := g.AddBlock(blockgraph.CodeBlock, uint32(len(data)), "fn")
	b.SetData(data)
	for _, off := range codeLabelOffsets {
		if err := b.SetLabel(off, blockgraph.Label{Name: "entry", Attributes: blockgraph.NewLabelAttributes(blockgraph.LabelCode)}); err != nil {
			t.Fatalf("SetLabel(%d): %v", off, err)
		}
	}
	return b
}

func TestBasicBlockStraightLine(t *testing.T) {
	b := newCodeBlock(t, []byte{0x90, 0xC3}, 0) // NOP; RET
	sg, err := Decompose(b, testsymbols.Decoder{}, true)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	bbs := sg.BasicBlocks()
	if len(bbs) != 1 {
		t.Fatalf("got %d basic blocks, want 1", len(bbs))
	}
	if bbs[0].Kind != CodeBB {
		t.Errorf("Kind = %v, want CodeBB", bbs[0].Kind)
	}
	if bbs[0].Offset != 0 || bbs[0].Size != 2 {
		t.Errorf("got offset=%d size=%d, want 0,2", bbs[0].Offset, bbs[0].Size)
	}
	if len(bbs[0].Successors) != 0 {
		t.Errorf("got %d successors, want 0", len(bbs[0].Successors))
	}
}

func TestBasicBlockConditionalBranchSplits(t *testing.T) {
	// Jcc rel8 (+2) ; NOP ; NOP ; RET -- the branch jumps over both NOPs.
	b := newCodeBlock(t, []byte{0x7D, 0x02, 0x90, 0x90, 0xC3}, 0)
	sg, err := Decompose(b, testsymbols.Decoder{}, true)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}

	bbs := sg.BasicBlocks()
	var total uint32
	for _, bb := range bbs {
		total += bb.Size
	}
	if total != 5 {
		t.Errorf("covered %d bytes, want 5", total)
	}

	first, ok := sg.At(0)
	if !ok {
		t.Fatalf("no basic block at offset 0")
	}
	if len(first.Successors) != 2 {
		t.Fatalf("got %d successors on the branching block, want 2", len(first.Successors))
	}
	sawTaken, sawNotTaken := false, false
	for _, s := range first.Successors {
		if !s.Target.Resolved && s.Target.Local {
			t.Errorf("successor target was not resolved by pass 6: %+v", s.Target)
		}
		switch s.Condition {
		case CondTaken:
			sawTaken = true
		case CondNotTaken:
			sawNotTaken = true
		}
	}
	if !sawTaken || !sawNotTaken {
		t.Errorf("expected one taken and one not-taken successor, got %+v", first.Successors)
	}

	// Offset 4 (the jump target) must start its own basic block.
	target, ok := sg.At(4)
	if !ok || target.Offset != 4 {
		t.Errorf("expected a basic block starting exactly at offset 4")
	}
}

func TestBasicBlockDataLabelCarving(t *testing.T) {
	data := make([]byte, 8)
	data[0], data[1] = 0x90, 0xC3 // fn at [0,2)
	b := newCodeBlock(t, data, 0)
	if err := b.SetLabel(4, blockgraph.Label{Name: "tbl", Attributes: blockgraph.NewLabelAttributes(blockgraph.LabelData)}); err != nil {
		t.Fatalf("SetLabel: %v", err)
	}

	sg, err := Decompose(b, testsymbols.Decoder{}, true)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}

	dataBB, ok := sg.At(4)
	if !ok || dataBB.Kind != DataBB || dataBB.Offset != 4 || dataBB.End() != 8 {
		t.Errorf("expected a DataBB spanning [4,8), got %+v", dataBB)
	}

	paddingBB, ok := sg.At(2)
	if !ok || paddingBB.Kind != PaddingBB || paddingBB.Offset != 2 || paddingBB.End() != 4 {
		t.Errorf("expected a PaddingBB spanning [2,4), got %+v", paddingBB)
	}

	if err := validateCoverage(sg, b); err != nil {
		t.Errorf("validateCoverage: %v", err)
	}
}

func TestBasicBlockRejectsDataOverlappingCode(t *testing.T) {
	data := []byte{0x90, 0x90, 0xC3, 0x00}
	b := newCodeBlock(t, data, 0)
	// A data label planted inside the disassembled straight-line run.
	if err := b.SetLabel(1, blockgraph.Label{Name: "bad", Attributes: blockgraph.NewLabelAttributes(blockgraph.LabelData)}); err != nil {
		t.Fatalf("SetLabel: %v", err)
	}

	if _, err := Decompose(b, testsymbols.Decoder{}, true); err == nil {
		t.Fatalf("expected an error for a data label overlapping disassembled code")
	}
}
