// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockgraph

import "github.com/bits-and-blooms/bitset"

// Block attribute bits, from the enumeration in spec.md §3. The several
// COFF-specific variants of the original are folded into the two COFF
// bits below (COFFGroup, COFFWeakExternal); this core does not need to
// distinguish further COFF subvariants to maintain its invariants, see
// DESIGN.md.
const (
	AttrNonReturningFunction uint = iota
	AttrGapBlock
	AttrPEParsed
	AttrSectionContribution
	AttrPaddingBlock
	AttrHasInlineAssembly
	AttrBuiltByUnsupportedCompiler
	AttrBuiltBySyzygy
	AttrIncompleteDisassembly
	AttrErroredDisassembly
	AttrHasExceptionHandling
	AttrDisassembledPastEnd
	AttrThunk
	AttrCOFFGroup
	AttrCOFFWeakExternal
	numBlockAttrBits
)

// uniformBlockAttrs propagate through MergeIntersectingBlocks only when
// every merged block carries them; all other attributes propagate if any
// merged block carries them.
var uniformBlockAttrs = []uint{AttrGapBlock, AttrPaddingBlock, AttrBuiltBySyzygy}

// BlockAttributes is a bitset of the named Block flags from spec.md §3.
type BlockAttributes struct {
	bits *bitset.BitSet
}

func newBlockAttributes() BlockAttributes {
	return BlockAttributes{bits: bitset.New(numBlockAttrBits)}
}

// Has reports whether attr is set.
func (a BlockAttributes) Has(attr uint) bool {
	return a.bits != nil && a.bits.Test(attr)
}

// Set returns a with attr set.
func (a BlockAttributes) Set(attr uint) BlockAttributes {
	if a.bits == nil {
		a = newBlockAttributes()
	}
	a.bits.Set(attr)
	return a
}

// Clear returns a with attr cleared.
func (a BlockAttributes) Clear(attr uint) BlockAttributes {
	if a.bits == nil {
		return a
	}
	a.bits.Clear(attr)
	return a
}

// mergeWith implements the uniform/non-uniform propagation rule for
// MergeIntersectingBlocks: uniform attributes are ANDed (kept only if
// every operand has them); everything else is ORed.
func mergeWith(attrs []BlockAttributes) BlockAttributes {
	if len(attrs) == 0 {
		return newBlockAttributes()
	}
	result := newBlockAttributes()
	isUniform := make(map[uint]bool, len(uniformBlockAttrs))
	for _, u := range uniformBlockAttrs {
		isUniform[u] = true
	}

	for i := uint(0); i < numBlockAttrBits; i++ {
		if isUniform[i] {
			all := true
			for _, a := range attrs {
				if !a.Has(i) {
					all = false
					break
				}
			}
			if all {
				result = result.Set(i)
			}
			continue
		}
		any := false
		for _, a := range attrs {
			if a.Has(i) {
				any = true
				break
			}
		}
		if any {
			result = result.Set(i)
		}
	}
	return result
}
