// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockgraph

import "github.com/bits-and-blooms/bitset"

// Label attribute bits. A Label must carry at least one.
const (
	LabelCode uint = iota
	LabelDebugStart
	LabelDebugEnd
	LabelScopeStart
	LabelScopeEnd
	LabelCallSite
	LabelJumpTable
	LabelCaseTable
	LabelData
	LabelPublicSymbol
	numLabelBits
)

var labelBitNames = map[uint]string{
	LabelCode:         "Code",
	LabelDebugStart:    "DebugStart",
	LabelDebugEnd:      "DebugEnd",
	LabelScopeStart:    "ScopeStart",
	LabelScopeEnd:      "ScopeEnd",
	LabelCallSite:      "CallSite",
	LabelJumpTable:     "JumpTable",
	LabelCaseTable:     "CaseTable",
	LabelData:          "Data",
	LabelPublicSymbol:  "PublicSymbol",
}

// LabelAttributes is a bitset of the named Label flags from spec.md §3.
type LabelAttributes struct {
	bits *bitset.BitSet
}

// NewLabelAttributes builds a LabelAttributes with the given flags set.
func NewLabelAttributes(flags ...uint) LabelAttributes {
	b := bitset.New(numLabelBits)
	for _, f := range flags {
		b.Set(f)
	}
	return LabelAttributes{bits: b}
}

// Has reports whether flag is set.
func (a LabelAttributes) Has(flag uint) bool {
	return a.bits != nil && a.bits.Test(flag)
}

// Union returns the bitwise OR of a and other.
func (a LabelAttributes) Union(other LabelAttributes) LabelAttributes {
	if a.bits == nil {
		return other
	}
	if other.bits == nil {
		return a
	}
	return LabelAttributes{bits: a.bits.Union(other.bits)}
}

// Validate reports whether this combination of attributes is one of the
// valid combinations enumerated in spec.md §3:
//   - at least one attribute must be set;
//   - JumpTable and CaseTable each imply Data, and may carry DebugEnd only
//     for jump tables;
//   - Data combined with anything other than a table attribute (or
//     CallSite/PublicSymbol, which may coexist with anything) is invalid;
//   - Code may coexist with debug/scope attributes.
func (a LabelAttributes) Validate() bool {
	if a.bits == nil || a.bits.None() {
		return false
	}

	hasData := a.Has(LabelData)
	hasJump := a.Has(LabelJumpTable)
	hasCase := a.Has(LabelCaseTable)

	if hasJump && !hasData {
		return false
	}
	if hasCase && !hasData {
		return false
	}
	if hasCase && a.Has(LabelDebugEnd) {
		return false
	}

	if hasData {
		allowed := bitset.New(numLabelBits).
			Set(LabelData).Set(LabelJumpTable).Set(LabelCaseTable).
			Set(LabelCallSite).Set(LabelPublicSymbol)
		if hasJump {
			allowed.Set(LabelDebugEnd)
		}
		if extra := a.bits.Difference(allowed); !extra.None() {
			return false
		}
	}

	return true
}

func (a LabelAttributes) String() string {
	if a.bits == nil {
		return "(none)"
	}
	s := ""
	for i := uint(0); i < numLabelBits; i++ {
		if a.bits.Test(i) {
			if s != "" {
				s += "|"
			}
			s += labelBitNames[i]
		}
	}
	return s
}

// Label is a named annotation attached to an offset within a Block.
type Label struct {
	Name       string
	Attributes LabelAttributes
}
