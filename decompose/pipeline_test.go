// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decompose

import (
	"testing"

	"github.com/google/syzygy-sub008/address"
	"github.com/google/syzygy-sub008/blockgraph"
	"github.com/google/syzygy-sub008/decompose/testsymbols"
	"github.com/google/syzygy-sub008/imagesource"
)

const imageScnCntCode = 0x00000020

func newTestImage(buf []byte) *testsymbols.Image {
	return &testsymbols.Image{
		Buf:  buf,
		Base: 0x400000,
		SecHeader: []imagesource.SectionHeader{
			{Name: ".text", VirtualAddress: 0, VirtualSize: uint32(len(buf)), RawSize: uint32(len(buf)), Characteristics: imageScnCntCode},
		},
	}
}

func TestDecomposeStraightLineFunction(t *testing.T) {
	buf := []byte{0x90, 0xC3} // NOP; RET
	img := newTestImage(buf)
	syms := &testsymbols.Symbols{
		Funcs: []imagesource.FunctionSymbol{{Addr: 0, Size: 2, Name: "straight"}},
	}

	g, diags, err := Decompose(img, syms, testsymbols.Decoder{}, Options{})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	for _, d := range diags {
		if d.Severity == SeverityError {
			t.Errorf("unexpected error diagnostic: %s", d)
		}
	}

	b, ok := g.BlockAt(address.MustNewRange(address.Relative(0), 2))
	if !ok {
		t.Fatalf("expected block at address 0")
	}
	if b.Name() != "straight" {
		t.Errorf("Name() = %q, want straight", b.Name())
	}
	if b.HasAttribute(blockgraph.AttrIncompleteDisassembly) || b.HasAttribute(blockgraph.AttrErroredDisassembly) {
		t.Errorf("unexpected disassembly failure attributes on %v", b.Attributes())
	}
}

func TestDecomposeConditionalBranchSelfTarget(t *testing.T) {
	// Jcc rel8 (+0) ; NOP ; RET -- branch lands on the NOP within the
	// same function.
	buf := []byte{0x7D, 0x00, 0x90, 0xC3}
	img := newTestImage(buf)
	syms := &testsymbols.Symbols{
		Funcs: []imagesource.FunctionSymbol{{Addr: 0, Size: 4, Name: "branch"}},
	}

	g, diags, err := Decompose(img, syms, testsymbols.Decoder{}, Options{})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	for _, d := range diags {
		if d.Severity == SeverityError {
			t.Errorf("unexpected error diagnostic: %s", d)
		}
	}

	b, ok := g.BlockAt(address.MustNewRange(address.Relative(0), 4))
	if !ok {
		t.Fatalf("expected block at address 0")
	}
	ref, ok := b.GetReference(0)
	if !ok {
		t.Fatalf("expected a reference at offset 0 for the conditional branch")
	}
	if ref.Type != blockgraph.PCRelative {
		t.Errorf("reference type = %v, want PCRelative", ref.Type)
	}
	if ref.Referenced != b {
		t.Errorf("reference should target the same block")
	}
	if ref.Base != 2 {
		t.Errorf("reference base = %d, want 2", ref.Base)
	}
}

func TestDecomposeDataReferenceFromFixup(t *testing.T) {
	// A function that loads the address of a trailing data symbol; we
	// don't encode the load itself (the test decoder doesn't model
	// displacement operands), only the fixup locating the 4-byte
	// encoded pointer within the function body.
	buf := []byte{
		0x90, 0x90, 0x90, 0x90, // "fn": 4 bytes of filler that stand in
		// for (per the fixup below) an encoded pointer to "data".
		0xAA, 0xBB, 0xCC, 0xDD, // "data": 4 bytes.
	}
	img := newTestImage(buf)
	syms := &testsymbols.Symbols{
		Funcs: []imagesource.FunctionSymbol{{Addr: 0, Size: 4, Name: "fn"}},
		Data:  []imagesource.DataSymbol{{Addr: 4, Size: 4, Name: "data"}},
		Fix: []imagesource.Fixup{
			{Location: 0, Type: imagesource.FixupAbsolute, Base: 4},
		},
	}

	g, diags, err := Decompose(img, syms, testsymbols.Decoder{}, Options{})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	for _, d := range diags {
		if d.Severity == SeverityError {
			t.Errorf("unexpected error diagnostic: %s", d)
		}
	}

	fn, ok := g.BlockAt(address.MustNewRange(address.Relative(0), 4))
	if !ok {
		t.Fatalf("expected function block")
	}
	ref, ok := fn.GetReference(0)
	if !ok {
		t.Fatalf("expected reference installed from fixup")
	}
	data, ok := g.BlockAt(address.MustNewRange(address.Relative(4), 4))
	if !ok {
		t.Fatalf("expected data block")
	}
	if ref.Referenced != data {
		t.Errorf("reference should target the data block")
	}

	referrers := data.Referrers()
	if len(referrers) != 1 || referrers[0].Source != fn {
		t.Errorf("data block referrers = %v, want one referrer from fn", referrers)
	}
}

func TestDecomposeFillsGapsBetweenSymbols(t *testing.T) {
	buf := make([]byte, 16)
	buf[0], buf[1] = 0x90, 0xC3 // "fn" at 0..2
	img := newTestImage(buf)
	syms := &testsymbols.Symbols{
		Funcs: []imagesource.FunctionSymbol{{Addr: 0, Size: 2, Name: "fn"}},
	}

	g, _, err := Decompose(img, syms, testsymbols.Decoder{}, Options{})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}

	blocks := g.BlocksInRange(address.MustNewRange(address.Relative(0), 16))
	var sawGap bool
	for _, b := range blocks {
		if b.HasAttribute(blockgraph.AttrGapBlock) {
			sawGap = true
		}
	}
	if !sawGap {
		t.Errorf("expected a gap block covering the unsymbolized tail of the section")
	}

	// The whole section must be covered with no holes: BlocksInRange
	// over the full section should tile it exactly.
	var total uint32
	for _, b := range blocks {
		total += b.Size()
	}
	if total != 16 {
		t.Errorf("covered %d bytes, want 16", total)
	}
}

func TestDecomposeUncoveredFixupReportsError(t *testing.T) {
	buf := []byte{0xC3} // RET, no room for any operand
	img := newTestImage(buf)
	syms := &testsymbols.Symbols{
		Funcs: []imagesource.FunctionSymbol{{Addr: 0, Size: 1, Name: "fn"}},
		Fix: []imagesource.Fixup{
			{Location: 100, Type: imagesource.FixupAbsolute, Base: 0},
		},
	}

	_, diags, err := Decompose(img, syms, testsymbols.Decoder{}, Options{})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	var sawError bool
	for _, d := range diags {
		if d.Severity == SeverityError {
			sawError = true
		}
	}
	if !sawError {
		t.Errorf("expected an error diagnostic for the out-of-range fixup location")
	}
}
