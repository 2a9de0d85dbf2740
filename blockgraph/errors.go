// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockgraph

import (
	"errors"
	"fmt"
)

// ErrInvalidReference is returned when a Reference fails its validity
// checks (nil target, out-of-range base, or a size not allowed for its
// type).
var ErrInvalidReference = errors.New("blockgraph: invalid reference")

// ErrReferenceOverlap is returned by SetReference when the requested
// reference's encoding site overlaps an existing reference at a nearby
// offset. The original's release build silently accepted this; this
// reimplementation always treats it as a hard error, see DESIGN.md.
var ErrReferenceOverlap = errors.New("blockgraph: reference overlaps an existing reference")

// ErrReferenceOutOfBlock is returned by SetReference when the reference's
// target block is a code block and the encoding site does not lie
// entirely within the source block.
var ErrReferenceOutOfBlock = errors.New("blockgraph: reference encoding site exceeds block size")

// ErrLabelOccupied is returned by SetLabel when a label already exists at
// the requested offset.
var ErrLabelOccupied = errors.New("blockgraph: label already present at offset")

// ErrInvalidLabel is returned when a Label fails its attribute validity
// rules.
var ErrInvalidLabel = errors.New("blockgraph: invalid label attributes")

// ErrBlockHasEdges is returned by RemoveBlock when the block still has
// outgoing references or incoming referrers.
var ErrBlockHasEdges = errors.New("blockgraph: block still has references or referrers")

// ErrDataRangeOccupied is returned by RemoveData when a label, reference,
// or referrer falls inside the byte range being removed.
var ErrDataRangeOccupied = errors.New("blockgraph: data range to remove is still referenced")

// ErrKindMismatch is returned by MergeIntersectingBlocks when the
// collected blocks do not all share a kind and section.
var ErrKindMismatch = errors.New("blockgraph: merge candidates have mismatched kind or section")

// OffsetError wraps a failure with the block-relative offset at which it
// was encountered, mirroring validate.Error{Offset,Function,Err} from the
// disassembler's companion validation package.
type OffsetError struct {
	Block  BlockID
	Offset uint32
	Err    error
}

func (e OffsetError) Error() string {
	return fmt.Sprintf("block %d at offset %d: %v", e.Block, e.Offset, e.Err)
}

func (e OffsetError) Unwrap() error { return e.Err }
