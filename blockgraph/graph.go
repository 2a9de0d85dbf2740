// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package blockgraph implements the typed, cross-referenced graph of code
// and data blocks produced by decomposing a PE image: blocks, sections,
// labels, references and their symmetric referrers, and the address
// space each section's blocks occupy.
package blockgraph

import (
	"github.com/google/syzygy-sub008/address"
)

// BlockGraph owns a set of Blocks and Sections, their shared string
// interning table, and the single image-relative address space used to
// detect overlapping placement. It is the top-level container produced by the
// macro and basic-block decomposers.
type BlockGraph struct {
	sections   map[SectionID]*Section
	nextSecID  SectionID
	blocks     map[BlockID]*Block
	nextBlocID BlockID

	strings map[string]string

	addrSpace *address.Space[address.Relative, BlockID]
}

// NewBlockGraph returns an empty graph.
func NewBlockGraph() *BlockGraph {
	return &BlockGraph{
		sections:  make(map[SectionID]*Section),
		blocks:    make(map[BlockID]*Block),
		strings:   make(map[string]string),
		addrSpace: address.NewSpace[address.Relative, BlockID](),
	}
}

func (g *BlockGraph) intern(s string) string {
	if s == "" {
		return s
	}
	if existing, ok := g.strings[s]; ok {
		return existing
	}
	g.strings[s] = s
	return s
}

// AddSection creates and returns a new section with the given name and
// characteristics.
func (g *BlockGraph) AddSection(name string, characteristics uint32) *Section {
	id := g.nextSecID
	g.nextSecID++
	s := &Section{id: id, name: g.intern(name), characteristics: characteristics}
	g.sections[id] = s
	return s
}

// FindSection returns the section with the given name, if any.
func (g *BlockGraph) FindSection(name string) (*Section, bool) {
	for _, s := range g.sections {
		if s.name == name {
			return s, true
		}
	}
	return nil, false
}

// FindOrAddSection returns the existing section named name, or creates
// one with the given characteristics.
func (g *BlockGraph) FindOrAddSection(name string, characteristics uint32) *Section {
	if s, ok := g.FindSection(name); ok {
		return s
	}
	return g.AddSection(name, characteristics)
}

// GetSectionByID returns the section with the given ID, if any.
func (g *BlockGraph) GetSectionByID(id SectionID) (*Section, bool) {
	s, ok := g.sections[id]
	return s, ok
}

// RemoveSection removes a section by ID. It does not validate that no
// block still references it; callers reassign or remove affected blocks
// first.
func (g *BlockGraph) RemoveSection(id SectionID) {
	delete(g.sections, id)
}

// Sections returns every section in the graph.
func (g *BlockGraph) Sections() []*Section {
	out := make([]*Section, 0, len(g.sections))
	for _, s := range g.sections {
		out = append(out, s)
	}
	return out
}

// AddBlock creates and returns a new, unplaced block of the given kind,
// size and name. The block is not yet placed in the address space; call
// PlaceBlock to assign it an address.
func (g *BlockGraph) AddBlock(kind BlockKind, size uint32, name string) *Block {
	id := g.nextBlocID
	g.nextBlocID++
	b := newBlock(g, id, kind, size, g.intern(name))
	g.blocks[id] = b
	return b
}

// GetBlockByID returns the block with the given ID, if any.
func (g *BlockGraph) GetBlockByID(id BlockID) (*Block, bool) {
	b, ok := g.blocks[id]
	return b, ok
}

// Blocks returns every block in the graph.
func (g *BlockGraph) Blocks() []*Block {
	out := make([]*Block, 0, len(g.blocks))
	for _, b := range g.blocks {
		out = append(out, b)
	}
	return out
}

// RemoveBlock removes an unreferenced block from the graph. It fails if
// the block still has any reference or referrer; a placed block is first
// removed from the address space.
func (g *BlockGraph) RemoveBlock(id BlockID) error {
	b, ok := g.blocks[id]
	if !ok {
		return nil
	}
	if b.HasEdges() {
		return OffsetError{Block: id, Offset: 0, Err: ErrBlockHasEdges}
	}
	if b.hasAddr {
		size := b.size
		if size == 0 {
			size = 1
		}
		r := address.MustNewRange(b.addr, size)
		g.addrSpace.RemoveExact(r)
	}
	delete(g.blocks, id)
	return nil
}

// PlaceBlock assigns addr as the block's image-relative address,
// inserting it into the graph's address space. It fails if the range
// overlaps an already-placed block.
func (g *BlockGraph) PlaceBlock(id BlockID, addr address.Relative) error {
	b, ok := g.blocks[id]
	if !ok {
		return OffsetError{Block: id, Offset: 0, Err: ErrInvalidReference}
	}
	size := b.size
	if size == 0 {
		size = 1
	}
	r, ok := address.NewRange(addr, size)
	if !ok {
		return OffsetError{Block: id, Offset: 0, Err: ErrInvalidReference}
	}
	if b.hasAddr {
		old, _ := address.NewRange(b.addr, size)
		g.addrSpace.RemoveExact(old)
	}
	if !g.addrSpace.Insert(r, id) {
		if b.hasAddr {
			g.addrSpace.Insert(r, id)
		}
		return OffsetError{Block: id, Offset: uint32(addr), Err: ErrDataRangeOccupied}
	}
	b.addr = addr
	b.hasAddr = true
	return nil
}

// BlocksInRange returns every block whose placed range intersects r, in
// ascending address order.
func (g *BlockGraph) BlocksInRange(r address.Range[address.Relative]) []*Block {
	entries := g.addrSpace.FindIntersecting(r)
	out := make([]*Block, 0, len(entries))
	for _, e := range entries {
		if b, ok := g.blocks[e.Value]; ok {
			out = append(out, b)
		}
	}
	return out
}

// BlockAt returns the placed block whose range contains r, if any.
func (g *BlockGraph) BlockAt(r address.Range[address.Relative]) (*Block, bool) {
	_, id, ok := g.addrSpace.FindContaining(r)
	if !ok {
		return nil, false
	}
	b, ok := g.blocks[id]
	return b, ok
}
