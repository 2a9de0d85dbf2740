// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockgraph

import (
	"fmt"
	"sort"

	"github.com/google/syzygy-sub008/address"
)

// MergeIntersectingBlocks collects every block intersecting r, in address
// order, and replaces them with a single new block spanning their union.
// If no block intersects r, it returns (nil, nil). If exactly one block
// intersects, that block is returned unchanged. Otherwise every collected
// block must share Kind and SectionID, or MergeIntersectingBlocks fails
// and leaves the graph unchanged.
func (g *BlockGraph) MergeIntersectingBlocks(r address.Range[address.Relative]) (*Block, error) {
	victims := g.BlocksInRange(r)
	if len(victims) == 0 {
		return nil, nil
	}
	sort.Slice(victims, func(i, j int) bool {
		ai, _ := victims[i].Addr()
		aj, _ := victims[j].Addr()
		return ai < aj
	})
	if len(victims) == 1 {
		return victims[0], nil
	}

	kind := victims[0].kind
	sectionID, hasSection := victims[0].sectionID, victims[0].hasSectionID
	for _, v := range victims[1:] {
		if v.kind != kind {
			return nil, fmt.Errorf("blockgraph: cannot merge blocks of differing kind (%s vs %s): %w", v.kind, kind, ErrKindMismatch)
		}
		if v.hasSectionID != hasSection || (hasSection && v.sectionID != sectionID) {
			return nil, fmt.Errorf("blockgraph: cannot merge blocks from differing sections: %w", ErrKindMismatch)
		}
	}

	minStart, _ := victims[0].Addr()
	maxEnd := minStart
	for _, v := range victims {
		a, _ := v.Addr()
		end := address.Add(a, int32(v.size))
		if end > maxEnd {
			maxEnd = end
		}
		if a < minStart {
			minStart = a
		}
	}
	mergedSize := uint32(maxEnd - minStart)

	mergedData := make([]byte, mergedSize)
	attrsToMerge := make([]BlockAttributes, 0, len(victims))
	for _, v := range victims {
		a, _ := v.Addr()
		off := uint32(a - minStart)
		copy(mergedData[off:], v.data)
		attrsToMerge = append(attrsToMerge, v.attrs)
	}

	for _, v := range victims {
		a, _ := v.Addr()
		vr, _ := address.NewRange(a, v.size)
		g.addrSpace.RemoveExact(vr)
	}

	merged := g.AddBlock(kind, mergedSize, victims[0].name)
	merged.alignment = victims[0].alignment
	if hasSection {
		merged.SetSectionID(sectionID)
	}
	merged.attrs = mergeWith(attrsToMerge)
	merged.CopyData(mergedData)

	var translatedSources []SourceRange
	for _, v := range victims {
		a, _ := v.Addr()
		shift := int32(a - minStart)
		translatedSources = append(translatedSources, v.sources.translated(shift)...)
	}
	merged.sources = sourceRanges{ranges: translatedSources}

	if err := g.PlaceBlock(merged.id, minStart); err != nil {
		return nil, err
	}

	victimShift := make(map[BlockID]int32, len(victims))
	for _, v := range victims {
		a, _ := v.Addr()
		victimShift[v.id] = int32(a - minStart)
	}

	for _, v := range victims {
		a, _ := v.Addr()
		shift := int32(a - minStart)

		if kind != CodeBlock && v.name != "" {
			label := Label{Name: v.name, Attributes: NewLabelAttributes(LabelData)}
			off := uint32(shift)
			if !merged.HasLabel(off) {
				merged.SetLabel(off, label)
			}
		}

		for offset, l := range v.labels {
			newOffset := uint32(int64(offset) + int64(shift))
			if !merged.HasLabel(newOffset) {
				merged.SetLabel(newOffset, l)
			}
		}

		for offset, ref := range v.references {
			v.RemoveReference(offset)
			newOffset := uint32(int64(offset) + int64(shift))
			targetShift, targetIsVictim := victimShift[ref.Referenced.id]
			if targetIsVictim {
				ref.Offset = uint32(int64(ref.Offset) + int64(targetShift))
				ref.Base = uint32(int64(ref.Base) + int64(targetShift))
				ref.Referenced = merged
			}
			if _, err := merged.SetReference(newOffset, ref); err != nil {
				return nil, err
			}
		}

		if !v.TransferReferrers(shift, merged, TransferAllReferrers) {
			return nil, fmt.Errorf("blockgraph: failed to transfer referrers of block %d into merged block: %w", v.id, ErrInvalidReference)
		}

		delete(g.blocks, v.id)
	}

	return merged, nil
}
