// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package basicblock

import (
	"fmt"
	"sort"

	"github.com/google/syzygy-sub008/blockgraph"
	"github.com/google/syzygy-sub008/imagesource"
)

// Validate checks sg for exact coverage of b, every code basic block
// having either a terminating instruction or explicit successors, and
// every label of b surviving in the basic block that contains it. It
// does not check that jump targets land on basic-block starts.
func Validate(sg *BasicBlockSubGraph, b *blockgraph.Block) error {
	if err := validateCoverage(sg, b); err != nil {
		return err
	}
	if err := validateControlFlow(sg); err != nil {
		return err
	}
	if err := validateLabelsPreserved(sg, b); err != nil {
		return err
	}
	return nil
}

func validateCoverage(sg *BasicBlockSubGraph, b *blockgraph.Block) error {
	bbs := sg.BasicBlocks()
	sort.Slice(bbs, func(i, j int) bool { return bbs[i].Offset < bbs[j].Offset })

	cursor := uint32(0)
	for _, bb := range bbs {
		if bb.Offset != cursor {
			return fmt.Errorf("coverage gap or overlap at offset %d (basic block %d starts at %d)", cursor, bb.ID, bb.Offset)
		}
		cursor = bb.End()
	}
	if cursor != b.Size() {
		return fmt.Errorf("coverage ends at %d, want %d", cursor, b.Size())
	}
	return nil
}

func validateControlFlow(sg *BasicBlockSubGraph) error {
	for _, bb := range sg.BasicBlocks() {
		if bb.Kind != CodeBB {
			continue
		}
		if len(bb.Successors) > 0 {
			continue
		}
		if len(bb.Instructions) == 0 {
			return fmt.Errorf("code basic block %d has no instructions and no successors", bb.ID)
		}
		last := bb.Instructions[len(bb.Instructions)-1]
		switch last.Decoded.FlowControl {
		case imagesource.FlowReturn, imagesource.FlowSyscall:
			continue
		default:
			return fmt.Errorf("code basic block %d ends without a terminating instruction or explicit successors", bb.ID)
		}
	}
	return nil
}

func validateLabelsPreserved(sg *BasicBlockSubGraph, b *blockgraph.Block) error {
	for off := range b.Labels() {
		bb, ok := sg.At(off)
		if !ok {
			return fmt.Errorf("label at offset %d has no containing basic block", off)
		}
		if _, ok := bb.Labels[off-bb.Offset]; !ok {
			return fmt.Errorf("label at offset %d was not propagated into basic block %d", off, bb.ID)
		}
	}
	return nil
}
