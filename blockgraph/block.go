// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockgraph

import (
	"sort"

	"github.com/google/syzygy-sub008/address"
)

// BlockID uniquely identifies a Block within the BlockGraph that owns it.
type BlockID uint32

// BlockKind distinguishes code from data blocks.
type BlockKind int

const (
	// CodeBlock holds machine instructions.
	CodeBlock BlockKind = iota
	// DataBlock holds arbitrary data.
	DataBlock
)

func (k BlockKind) String() string {
	if k == CodeBlock {
		return "CODE_BLOCK"
	}
	return "DATA_BLOCK"
}

type referrerKey struct {
	source *Block
	offset uint32
}

// Block is the primary entity of a BlockGraph: a contiguous run of code
// or data, with typed labels, outgoing references, and a derived set of
// incoming referrers. See spec.md §3.
type Block struct {
	graph *BlockGraph

	id            BlockID
	kind          BlockKind
	size          uint32
	alignment     uint32
	name          string
	compilandName string

	importModule   string
	importFunction string
	hasImportThunk bool

	addr    address.Relative
	hasAddr bool

	sectionID    SectionID
	hasSectionID bool

	attrs BlockAttributes

	data     []byte
	ownsData bool

	sources sourceRanges

	labels     map[uint32]Label
	references map[uint32]Reference
	referrers  map[referrerKey]struct{}
}

func newBlock(graph *BlockGraph, id BlockID, kind BlockKind, size uint32, name string) *Block {
	return &Block{
		graph:        graph,
		id:           id,
		kind:         kind,
		size:         size,
		alignment:    1,
		name:         name,
		sectionID:    InvalidSectionID,
		hasSectionID: false,
		attrs:        newBlockAttributes(),
		labels:       make(map[uint32]Label),
		references:   make(map[uint32]Reference),
		referrers:    make(map[referrerKey]struct{}),
	}
}

// ID returns the block's identity, immutable and unique within its graph.
func (b *Block) ID() BlockID { return b.id }

// Kind returns whether this is a code or data block.
func (b *Block) Kind() BlockKind { return b.kind }

// SetKind mutates the block's kind. Used by the macro decomposer when a
// gap block's true kind is determined after the fact.
func (b *Block) SetKind(k BlockKind) { b.kind = k }

// Size returns the block's logical size in bytes.
func (b *Block) Size() uint32 { return b.size }

// Alignment returns the block's required alignment, a power of two >= 1.
func (b *Block) Alignment() uint32 { return b.alignment }

// SetAlignment sets the block's required alignment.
func (b *Block) SetAlignment(a uint32) { b.alignment = a }

// Name returns the block's name, interned by the owning graph.
func (b *Block) Name() string { return b.name }

// SetName sets the block's name, interning it through the owning graph.
func (b *Block) SetName(name string) {
	if b.graph != nil {
		name = b.graph.intern(name)
	}
	b.name = name
}

// CompilandName returns the name of the compiland (object file) this
// block originated from, if known.
func (b *Block) CompilandName() string { return b.compilandName }

// SetCompilandName sets the compiland name, interning it.
func (b *Block) SetCompilandName(name string) {
	if b.graph != nil {
		name = b.graph.intern(name)
	}
	b.compilandName = name
}

// SetImportThunk records the (module, function) identity of the
// imported symbol an AttrThunk block jumps to. Callers that need to
// recognize calls to a specific import (e.g. non-returning-call
// detection against a caller-provided import map) consult ImportThunk
// rather than the block's name, since thunk names are not normalized.
func (b *Block) SetImportThunk(module, function string) {
	if b.graph != nil {
		module = b.graph.intern(module)
		function = b.graph.intern(function)
	}
	b.importModule = module
	b.importFunction = function
	b.hasImportThunk = true
}

// ImportThunk returns the (module, function) identity set by
// SetImportThunk, and whether one has been set.
func (b *Block) ImportThunk() (module, function string, ok bool) {
	return b.importModule, b.importFunction, b.hasImportThunk
}

// Addr returns the block's image-relative address and whether one has
// been assigned (a block is "unassigned" until placed in the graph's
// address space).
func (b *Block) Addr() (address.Relative, bool) { return b.addr, b.hasAddr }

// SectionID returns the section this block belongs to, if any.
func (b *Block) SectionID() (SectionID, bool) { return b.sectionID, b.hasSectionID }

// SetSectionID assigns the block's owning section.
func (b *Block) SetSectionID(id SectionID) {
	b.sectionID = id
	b.hasSectionID = true
}

// Attributes returns the block's attribute bitset.
func (b *Block) Attributes() BlockAttributes { return b.attrs }

// SetAttribute sets a single attribute bit.
func (b *Block) SetAttribute(attr uint) { b.attrs = b.attrs.Set(attr) }

// ClearAttribute clears a single attribute bit.
func (b *Block) ClearAttribute(attr uint) { b.attrs = b.attrs.Clear(attr) }

// HasAttribute reports whether attr is set.
func (b *Block) HasAttribute(attr uint) bool { return b.attrs.Has(attr) }

// Data returns the block's initialized data prefix; its length never
// exceeds Size().
func (b *Block) Data() []byte { return b.data }

// OwnsData reports whether the block holds its own heap allocation
// rather than a view borrowed from the image source.
func (b *Block) OwnsData() bool { return b.ownsData }

// CopyData replaces the block's data with an owned copy of bytes. Bytes
// longer than the block's size are truncated; shorter leaves a
// partial-initialized prefix.
func (b *Block) CopyData(data []byte) {
	n := len(data)
	if uint32(n) > b.size {
		n = int(b.size)
	}
	owned := make([]byte, n)
	copy(owned, data[:n])
	b.data = owned
	b.ownsData = true
}

// AllocateData grows the block's owned data buffer to size bytes,
// zero-filling any newly allocated tail. size must be <= b.Size().
func (b *Block) AllocateData(size uint32) {
	if size > b.size {
		size = b.size
	}
	if !b.ownsData {
		owned := make([]byte, size)
		copy(owned, b.data)
		b.data = owned
		b.ownsData = true
		return
	}
	if uint32(len(b.data)) >= size {
		return
	}
	grown := make([]byte, size)
	copy(grown, b.data)
	b.data = grown
}

// SetData installs a borrowed (not owned) view into the block, typically
// pointing directly into the image source's mapped memory.
func (b *Block) SetData(data []byte) {
	b.data = data
	b.ownsData = false
}

// ensureOwned copies into a private buffer before any mutation, per the
// copy-on-write contract in spec.md §5.
func (b *Block) ensureOwned() {
	if b.ownsData {
		return
	}
	owned := make([]byte, len(b.data))
	copy(owned, b.data)
	b.data = owned
	b.ownsData = true
}

// ResizeData resizes the owned data buffer (copying on write if
// currently borrowed), zero-filling the tail on grow and truncating on
// shrink. It does not change Size(); callers adjust the logical size
// separately via InsertData/RemoveData.
func (b *Block) ResizeData(newSize uint32) {
	b.ensureOwned()
	if uint32(len(b.data)) == newSize {
		return
	}
	grown := make([]byte, newSize)
	copy(grown, b.data)
	b.data = grown
}

// Labels returns a snapshot of the block's offset->Label map.
func (b *Block) Labels() map[uint32]Label {
	out := make(map[uint32]Label, len(b.labels))
	for k, v := range b.labels {
		out[k] = v
	}
	return out
}

// GetLabel returns the label at offset, if any.
func (b *Block) GetLabel(offset uint32) (Label, bool) {
	l, ok := b.labels[offset]
	return l, ok
}

// HasLabel reports whether a label exists at offset.
func (b *Block) HasLabel(offset uint32) bool {
	_, ok := b.labels[offset]
	return ok
}

// SetLabel inserts a label at offset, failing if one is already present
// there (labels at the same offset are never merged) or if offset is out
// of [0, Size()] or the label's attributes are invalid.
func (b *Block) SetLabel(offset uint32, l Label) error {
	if offset > b.size {
		return OffsetError{Block: b.id, Offset: offset, Err: ErrInvalidLabel}
	}
	if !l.Attributes.Validate() {
		return OffsetError{Block: b.id, Offset: offset, Err: ErrInvalidLabel}
	}
	if _, exists := b.labels[offset]; exists {
		return OffsetError{Block: b.id, Offset: offset, Err: ErrLabelOccupied}
	}
	if b.graph != nil {
		l.Name = b.graph.intern(l.Name)
	}
	b.labels[offset] = l
	return nil
}

// RemoveLabel removes the label at offset, if any, reporting whether one
// was removed.
func (b *Block) RemoveLabel(offset uint32) bool {
	if _, ok := b.labels[offset]; !ok {
		return false
	}
	delete(b.labels, offset)
	return true
}

// References returns a snapshot of the block's outgoing offset->Reference
// map.
func (b *Block) References() map[uint32]Reference {
	out := make(map[uint32]Reference, len(b.references))
	for k, v := range b.references {
		out[k] = v
	}
	return out
}

// GetReference returns the outgoing reference at offset, if any.
func (b *Block) GetReference(offset uint32) (Reference, bool) {
	r, ok := b.references[offset]
	return r, ok
}

func overlaps(aOffset uint32, aSize uint8, bOffset uint32, bSize uint8) bool {
	aEnd := aOffset + uint32(aSize)
	bEnd := bOffset + uint32(bSize)
	if aEnd <= bOffset || bEnd <= aOffset {
		return false
	}
	return true
}

// SetReference installs a reference at offset, returning true iff it is
// a new insertion (false if it replaced an existing reference at the
// same offset). It fails with an error, leaving the graph unchanged, if
// ref is invalid, if its encoding site overlaps another stored reference,
// or if its target is a code block and the encoding site does not lie
// entirely within this block.
func (b *Block) SetReference(offset uint32, ref Reference) (bool, error) {
	if !ref.IsValid() {
		return false, OffsetError{Block: b.id, Offset: offset, Err: ErrInvalidReference}
	}
	if ref.Referenced.Kind() == CodeBlock {
		if uint64(offset)+uint64(ref.Size) > uint64(b.size) {
			return false, OffsetError{Block: b.id, Offset: offset, Err: ErrReferenceOutOfBlock}
		}
	}
	for o, existing := range b.references {
		if o == offset {
			continue
		}
		if overlaps(offset, ref.Size, o, existing.Size) {
			return false, OffsetError{Block: b.id, Offset: offset, Err: ErrReferenceOverlap}
		}
	}

	_, replaced := b.references[offset]
	if replaced {
		old := b.references[offset]
		old.Referenced.removeReferrer(b, offset)
	}
	b.references[offset] = ref
	ref.Referenced.addReferrer(b, offset)
	return !replaced, nil
}

// RemoveReference removes the outgoing reference at offset, if any,
// clearing the corresponding referrer entry on its target.
func (b *Block) RemoveReference(offset uint32) bool {
	ref, ok := b.references[offset]
	if !ok {
		return false
	}
	ref.Referenced.removeReferrer(b, offset)
	delete(b.references, offset)
	return true
}

// RemoveAllReferences removes every outgoing reference from this block.
func (b *Block) RemoveAllReferences() {
	for offset := range b.references {
		b.RemoveReference(offset)
	}
}

func (b *Block) addReferrer(source *Block, offset uint32) {
	b.referrers[referrerKey{source: source, offset: offset}] = struct{}{}
}

func (b *Block) removeReferrer(source *Block, offset uint32) {
	delete(b.referrers, referrerKey{source: source, offset: offset})
}

// Referrers returns a snapshot of the block's incoming (source, offset)
// referrer set, sorted for deterministic iteration.
func (b *Block) Referrers() []Referrer {
	out := make([]Referrer, 0, len(b.referrers))
	for k := range b.referrers {
		out = append(out, Referrer{Source: k.source, Offset: k.offset})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source.id != out[j].Source.id {
			return out[i].Source.id < out[j].Source.id
		}
		return out[i].Offset < out[j].Offset
	})
	return out
}

// HasEdges reports whether the block has any outgoing reference or
// incoming referrer, the precondition RemoveBlock enforces.
func (b *Block) HasEdges() bool {
	return len(b.references) > 0 || len(b.referrers) > 0
}

// shiftSelfReferences adjusts any reference this block holds whose
// target offset lands within itself (a self-reference) by distance, when
// the referenced offset is >= at.
func (b *Block) shiftSelfReferences(at uint32, distance int32) {
	for offset, ref := range b.references {
		if ref.Referenced != b {
			continue
		}
		changed := false
		if ref.Offset >= at {
			ref.Offset = uint32(int64(ref.Offset) + int64(distance))
			changed = true
		}
		if ref.Base >= at {
			ref.Base = uint32(int64(ref.Base) + int64(distance))
			changed = true
		}
		if changed {
			b.references[offset] = ref
		}
	}
}

// InsertData grows the block by size bytes at offset: shifts every label,
// own-reference, own-referrer-target-offset, and external referrer target
// offset that is >= offset by +size, and optionally grows the owned data
// buffer, shifting trailing bytes right and zero-filling the gap.
func (b *Block) InsertData(offset, size uint32, allocateData bool) {
	if size == 0 {
		return
	}
	distance := int32(size)

	newLabels := make(map[uint32]Label, len(b.labels))
	for o, l := range b.labels {
		if o >= offset {
			o = uint32(int64(o) + int64(distance))
		}
		newLabels[o] = l
	}
	b.labels = newLabels

	newRefs := make(map[uint32]Reference, len(b.references))
	for o, r := range b.references {
		no := o
		if o >= offset {
			no = uint32(int64(o) + int64(distance))
			if r.Referenced != b {
				r.Referenced.removeReferrer(b, o)
			}
		}
		newRefs[no] = r
	}
	b.references = newRefs
	for no, r := range newRefs {
		if no >= offset && r.Referenced != b {
			r.Referenced.addReferrer(b, no)
		}
	}

	newReferrers := make(map[referrerKey]struct{}, len(b.referrers))
	for k := range b.referrers {
		no := k.offset
		if k.source == b && no >= offset {
			no = uint32(int64(no) + int64(distance))
		}
		newReferrers[referrerKey{source: k.source, offset: no}] = struct{}{}
	}
	b.referrers = newReferrers

	shiftExternalReferrers(b, offset, distance)

	b.size += size
	b.sources.shift(offset, distance)
	b.sources.markUnmapped(offset, size)

	if allocateData && b.data != nil {
		b.ensureOwned()
		grown := make([]byte, len(b.data)+int(size))
		cut := offset
		if cut > uint32(len(b.data)) {
			cut = uint32(len(b.data))
		}
		copy(grown, b.data[:cut])
		copy(grown[cut+size:], b.data[cut:])
		b.data = grown
	}
}

// shiftExternalReferrers rewrites the target-offset side of every
// reference pointing at target whose source is a different block, for
// every referrer >= offset, shifting by distance. Self-referrers are
// handled separately by target.shiftSelfReferences, which this function
// calls once the external referrers are done.
func shiftExternalReferrers(target *Block, offset uint32, distance int32) {
	for k := range target.referrers {
		if k.source == target {
			continue
		}
		ref, ok := k.source.references[k.offset]
		if !ok || ref.Referenced != target {
			continue
		}
		changed := false
		if ref.Offset >= offset {
			ref.Offset = uint32(int64(ref.Offset) + int64(distance))
			changed = true
		}
		if ref.Base >= offset {
			ref.Base = uint32(int64(ref.Base) + int64(distance))
			changed = true
		}
		if changed {
			k.source.references[k.offset] = ref
		}
	}
	target.shiftSelfReferences(offset, distance)
}

// RemoveData is the mirror of InsertData: it fails if any label,
// reference, or referrer falls inside [offset, offset+size), otherwise
// shrinks the block by size bytes at offset, shifting everything at or
// beyond the removed range left by size.
func (b *Block) RemoveData(offset, size uint32) error {
	if size == 0 {
		return nil
	}
	end := offset + size

	for o := range b.labels {
		if o >= offset && o < end {
			return OffsetError{Block: b.id, Offset: o, Err: ErrDataRangeOccupied}
		}
	}
	for o, r := range b.references {
		if o >= offset && o < end {
			return OffsetError{Block: b.id, Offset: o, Err: ErrDataRangeOccupied}
		}
		if r.Referenced == b && r.Offset >= offset && r.Offset < end {
			return OffsetError{Block: b.id, Offset: o, Err: ErrDataRangeOccupied}
		}
	}
	for k := range b.referrers {
		ref, ok := k.source.references[k.offset]
		if !ok {
			continue
		}
		if ref.Offset >= offset && ref.Offset < end {
			return OffsetError{Block: b.id, Offset: k.offset, Err: ErrDataRangeOccupied}
		}
	}

	distance := -int32(size)

	newLabels := make(map[uint32]Label, len(b.labels))
	for o, l := range b.labels {
		if o >= end {
			o = uint32(int64(o) + int64(distance))
		}
		newLabels[o] = l
	}
	b.labels = newLabels

	newRefs := make(map[uint32]Reference, len(b.references))
	for o, r := range b.references {
		no := o
		if o >= end {
			no = uint32(int64(o) + int64(distance))
			if r.Referenced != b {
				r.Referenced.removeReferrer(b, o)
			}
		}
		newRefs[no] = r
	}
	b.references = newRefs
	for no, r := range newRefs {
		if no >= offset && r.Referenced != b {
			r.Referenced.addReferrer(b, no)
		}
	}

	newReferrers := make(map[referrerKey]struct{}, len(b.referrers))
	for k := range b.referrers {
		no := k.offset
		if k.source == b && no >= end {
			no = uint32(int64(no) + int64(distance))
		}
		newReferrers[referrerKey{source: k.source, offset: no}] = struct{}{}
	}
	b.referrers = newReferrers

	shiftExternalReferrers(b, end, distance)

	b.sources.removeRange(offset, size)
	b.sources.shift(end, distance)
	b.size -= size

	if b.data != nil {
		b.ensureOwned()
		cut := offset
		if cut > uint32(len(b.data)) {
			cut = uint32(len(b.data))
		}
		tailStart := end
		if tailStart > uint32(len(b.data)) {
			tailStart = uint32(len(b.data))
		}
		shrunk := make([]byte, 0, len(b.data)-int(tailStart-cut))
		shrunk = append(shrunk, b.data[:cut]...)
		shrunk = append(shrunk, b.data[tailStart:]...)
		b.data = shrunk
	}
	return nil
}

// InsertOrRemoveData dispatches to InsertData or RemoveData depending on
// whether newSize is larger or smaller than currentSize, a convenience
// matching spec.md §4.2's insert_or_remove_data.
func (b *Block) InsertOrRemoveData(offset, currentSize, newSize uint32, allocateData bool) error {
	switch {
	case newSize > currentSize:
		b.InsertData(offset, newSize-currentSize, allocateData)
		return nil
	case newSize < currentSize:
		return b.RemoveData(offset, currentSize-newSize)
	default:
		return nil
	}
}

// TransferReferrersFlags controls which referrers TransferReferrers
// migrates.
type TransferReferrersFlags int

const (
	// TransferAllReferrers migrates every referrer, including
	// self-references (b -> b).
	TransferAllReferrers TransferReferrersFlags = iota
	// TransferSkipInternal migrates every referrer except
	// self-references.
	TransferSkipInternal
)

// TransferReferrers redirects every referrer of b to point at newBlock
// instead, with the reference's offset and base shifted by offsetDelta.
// If flags is TransferSkipInternal, referrers whose source is b itself
// are left untouched. If shifting any reference into newBlock would
// place it outside [0, newBlock.Size()] while newBlock is a code block,
// the transfer fails before any mutation and the graph is left
// unchanged; on success b has no remaining (migrated) referrers.
func (b *Block) TransferReferrers(offsetDelta int32, newBlock *Block, flags TransferReferrersFlags) bool {
	type migration struct {
		source    *Block
		srcOffset uint32
		ref       Reference
	}
	var toMigrate []migration

	for k := range b.referrers {
		if flags == TransferSkipInternal && k.source == b {
			continue
		}
		ref, ok := k.source.references[k.offset]
		if !ok || ref.Referenced != b {
			continue
		}
		newOffset := uint32(int64(ref.Offset) + int64(offsetDelta))
		newBase := uint32(int64(ref.Base) + int64(offsetDelta))
		if newBlock.Kind() == CodeBlock {
			if newOffset > newBlock.size || newBase > newBlock.size {
				return false
			}
		}
		newRef := ref
		newRef.Referenced = newBlock
		newRef.Offset = newOffset
		newRef.Base = newBase
		toMigrate = append(toMigrate, migration{source: k.source, srcOffset: k.offset, ref: newRef})
	}

	for _, m := range toMigrate {
		// The stored reference is replaced in place, so the old referrer
		// entry on b is removed and the new one on newBlock added here.
		m.source.references[m.srcOffset] = m.ref
		b.removeReferrer(m.source, m.srcOffset)
		newBlock.addReferrer(m.source, m.srcOffset)
	}
	return true
}
