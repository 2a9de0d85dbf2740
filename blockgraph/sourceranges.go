// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockgraph

import "github.com/google/syzygy-sub008/address"

// SourceRange maps a contiguous run of a block's current data range back
// onto the relative-address range it originally occupied in the image,
// preserving provenance across inserts, removes, and merges.
type SourceRange struct {
	// BlockOffset, BlockSize describe the run in the block's current
	// byte range.
	BlockOffset uint32
	BlockSize   uint32
	// SourceStart, SourceSize describe the corresponding original image
	// range. SourceSize may differ from BlockSize for a remapped run
	// (e.g. decompressed data); for byte-for-byte provenance the two
	// agree.
	SourceStart address.Relative
	SourceSize  uint32
}

// sourceRanges is the order-preserving, gap-tolerant piecewise map owned
// by a Block.
type sourceRanges struct {
	ranges []SourceRange
}

// shift adjusts every recorded range whose BlockOffset is >= offset by
// distance, mirroring the label/reference/referrer shift semantics used
// by insert_data/remove_data.
func (s *sourceRanges) shift(offset uint32, distance int32) {
	for i := range s.ranges {
		if s.ranges[i].BlockOffset >= offset {
			s.ranges[i].BlockOffset = uint32(int64(s.ranges[i].BlockOffset) + int64(distance))
		}
	}
}

// markUnmapped records that [offset, offset+size) no longer has known
// image provenance (freshly inserted bytes).
func (s *sourceRanges) markUnmapped(offset, size uint32) {
	s.ranges = append(s.ranges, SourceRange{BlockOffset: offset, BlockSize: size})
}

// removeRange drops provenance for bytes that insert/remove_data takes
// out of the block.
func (s *sourceRanges) removeRange(offset, size uint32) {
	end := offset + size
	kept := s.ranges[:0]
	for _, r := range s.ranges {
		if r.BlockOffset >= offset && r.BlockOffset+r.BlockSize <= end {
			continue
		}
		kept = append(kept, r)
	}
	s.ranges = kept
}

// translated returns a copy of s's ranges with every BlockOffset shifted
// by delta, used when migrating a source block's provenance into a
// merged block.
func (s *sourceRanges) translated(delta int32) []SourceRange {
	out := make([]SourceRange, len(s.ranges))
	for i, r := range s.ranges {
		r.BlockOffset = uint32(int64(r.BlockOffset) + int64(delta))
		out[i] = r
	}
	return out
}
