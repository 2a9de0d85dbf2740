// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockgraph

// SectionID identifies a Section, assigned monotonically by the owning
// BlockGraph.
type SectionID uint32

// InvalidSectionID is the sentinel for "no section assigned".
const InvalidSectionID SectionID = 0xFFFFFFFF

// Section is a named, flagged region of the original image (one PE
// section header). Sections carry no block-membership list; a block
// records its section by id.
type Section struct {
	id              SectionID
	name            string
	characteristics uint32
}

// ID returns the section's identity.
func (s *Section) ID() SectionID { return s.id }

// Name returns the section's name (e.g. ".text").
func (s *Section) Name() string { return s.name }

// Characteristics returns the raw PE section characteristics bitmask.
func (s *Section) Characteristics() uint32 { return s.characteristics }

// SetCharacteristics updates the characteristics bitmask. FindOrAddSection
// does not call it: an existing section keeps its flags.
func (s *Section) SetCharacteristics(c uint32) { s.characteristics = c }
