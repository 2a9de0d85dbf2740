// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package imagesource

// NoSymbols is a SymbolSource with no symbolic information at all:
// every query returns empty. Decomposing against it still produces a
// valid graph (§4.3 steps 1, 5, 6 still run from section contributions
// and gap-filling alone), just with every byte attributed to gap
// blocks instead of named functions and data. Useful as a fallback when
// no debug-info session (a PDB, in the canonical deployment) is
// available, and in tests that only care about section/gap handling.
type NoSymbols struct{}

func (NoSymbols) Functions() []FunctionSymbol                     { return nil }
func (NoSymbols) Thunks() []FunctionSymbol                        { return nil }
func (NoSymbols) LabelsIn(FunctionSymbol) []LabelSymbol           { return nil }
func (NoSymbols) GlobalLabels() []LabelSymbol                     { return nil }
func (NoSymbols) DataSymbols() []DataSymbol                       { return nil }
func (NoSymbols) PublicSymbols() []LabelSymbol                    { return nil }
func (NoSymbols) SectionContributions() []SectionContribution    { return nil }
func (NoSymbols) Fixups() []Fixup                                 { return nil }
func (NoSymbols) OMAP() []OMAPEntry                               { return nil }
