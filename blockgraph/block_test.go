// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockgraph

import (
	"errors"
	"testing"

	"github.com/google/syzygy-sub008/address"
)

func TestSetReferenceSymmetry(t *testing.T) {
	g := NewBlockGraph()
	src := g.AddBlock(CodeBlock, 16, "src")
	dst := g.AddBlock(DataBlock, 8, "dst")

	inserted, err := src.SetReference(4, Reference{Type: Absolute, Size: 4, Referenced: dst, Offset: 0, Base: 0})
	if err != nil {
		t.Fatalf("SetReference: %v", err)
	}
	if !inserted {
		t.Fatalf("expected first SetReference to report a new insertion")
	}

	refs := dst.Referrers()
	if len(refs) != 1 || refs[0].Source != src || refs[0].Offset != 4 {
		t.Fatalf("unexpected referrers on dst: %+v", refs)
	}

	inserted, err = src.SetReference(4, Reference{Type: Absolute, Size: 4, Referenced: dst, Offset: 2, Base: 2})
	if err != nil {
		t.Fatalf("SetReference (replace): %v", err)
	}
	if inserted {
		t.Fatalf("expected replacement SetReference to report false")
	}
	refs = dst.Referrers()
	if len(refs) != 1 || refs[0].Offset != 4 {
		t.Fatalf("replacement should not duplicate referrer: %+v", refs)
	}

	if !src.RemoveReference(4) {
		t.Fatalf("RemoveReference should report true")
	}
	if len(dst.Referrers()) != 0 {
		t.Fatalf("RemoveReference must clear the back-referrer")
	}
}

func TestSetReferenceValidity(t *testing.T) {
	g := NewBlockGraph()
	src := g.AddBlock(CodeBlock, 8, "src")
	dst := g.AddBlock(CodeBlock, 4, "dst")

	if _, err := src.SetReference(0, Reference{Type: Absolute, Size: 4, Referenced: nil}); !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("nil target should be invalid, got %v", err)
	}

	if _, err := src.SetReference(0, Reference{Type: Absolute, Size: 4, Referenced: dst, Base: 100}); !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("out-of-range base should be invalid, got %v", err)
	}

	if _, err := src.SetReference(6, Reference{Type: Absolute, Size: 4, Referenced: dst}); !errors.Is(err, ErrReferenceOutOfBlock) {
		t.Fatalf("reference into code block exceeding size should fail, got %v", err)
	}

	if _, err := src.SetReference(0, Reference{Type: Absolute, Size: 4, Referenced: dst}); err != nil {
		t.Fatalf("valid reference rejected: %v", err)
	}
	if _, err := src.SetReference(2, Reference{Type: Absolute, Size: 4, Referenced: dst}); !errors.Is(err, ErrReferenceOverlap) {
		t.Fatalf("overlapping reference should fail, got %v", err)
	}
}

func TestInsertDataShiftsLabelsAndReferences(t *testing.T) {
	g := NewBlockGraph()
	b := g.AddBlock(DataBlock, 16, "b")
	other := g.AddBlock(DataBlock, 4, "other")

	if err := b.SetLabel(10, Label{Name: "l", Attributes: NewLabelAttributes(LabelData)}); err != nil {
		t.Fatalf("SetLabel: %v", err)
	}
	if _, err := b.SetReference(10, Reference{Type: Absolute, Size: 4, Referenced: other}); err != nil {
		t.Fatalf("SetReference: %v", err)
	}
	if _, err := other.SetReference(0, Reference{Type: Absolute, Size: 4, Referenced: b, Offset: 10, Base: 10}); err != nil {
		t.Fatalf("SetReference (back): %v", err)
	}

	b.InsertData(5, 8, false)

	if b.Size() != 24 {
		t.Fatalf("expected size 24 after insert, got %d", b.Size())
	}
	if !b.HasLabel(18) {
		t.Fatalf("label should have shifted from 10 to 18")
	}
	if _, ok := b.GetReference(18); !ok {
		t.Fatalf("reference should have shifted from 10 to 18")
	}
	ref, ok := other.GetReference(0)
	if !ok || ref.Offset != 18 || ref.Base != 18 {
		t.Fatalf("external referrer's target offset should have shifted to 18: %+v", ref)
	}
}

func TestRemoveDataRejectsOccupiedRange(t *testing.T) {
	g := NewBlockGraph()
	b := g.AddBlock(DataBlock, 16, "b")
	if err := b.SetLabel(8, Label{Name: "l", Attributes: NewLabelAttributes(LabelData)}); err != nil {
		t.Fatalf("SetLabel: %v", err)
	}
	if err := b.RemoveData(4, 8); !errors.Is(err, ErrDataRangeOccupied) {
		t.Fatalf("expected ErrDataRangeOccupied, got %v", err)
	}
	if err := b.RemoveData(9, 4); err != nil {
		t.Fatalf("RemoveData past the label should succeed: %v", err)
	}
	if b.Size() != 12 {
		t.Fatalf("expected size 12, got %d", b.Size())
	}
	if !b.HasLabel(8) {
		t.Fatalf("label before the removed range should be unaffected")
	}
}

func TestRoundTripInsertRemove(t *testing.T) {
	g := NewBlockGraph()
	b := g.AddBlock(DataBlock, 16, "b")
	b.CopyData([]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15})
	if err := b.SetLabel(12, Label{Name: "tail", Attributes: NewLabelAttributes(LabelData)}); err != nil {
		t.Fatalf("SetLabel: %v", err)
	}

	before := append([]byte(nil), b.Data()...)

	b.InsertData(4, 4, true)
	if err := b.RemoveData(4, 4); err != nil {
		t.Fatalf("RemoveData: %v", err)
	}

	if b.Size() != 16 {
		t.Fatalf("round trip should restore size 16, got %d", b.Size())
	}
	if !b.HasLabel(12) {
		t.Fatalf("round trip should restore label at 12")
	}
	after := b.Data()
	if len(after) != len(before) {
		t.Fatalf("round trip should restore data length: got %d want %d", len(after), len(before))
	}
}

func TestMergeIntersectingBlocksPreservesContributions(t *testing.T) {
	g := NewBlockGraph()
	sec := g.AddSection(".text", 0)

	a := g.AddBlock(CodeBlock, 4, "a")
	a.SetSectionID(sec.ID())
	a.CopyData([]byte{0x90, 0x90, 0x90, 0x90})
	if err := g.PlaceBlock(a.ID(), address.Relative(0)); err != nil {
		t.Fatalf("PlaceBlock a: %v", err)
	}

	b := g.AddBlock(CodeBlock, 4, "b")
	b.SetSectionID(sec.ID())
	b.CopyData([]byte{0xC3, 0xC3, 0xC3, 0xC3})
	if err := g.PlaceBlock(b.ID(), address.Relative(4)); err != nil {
		t.Fatalf("PlaceBlock b: %v", err)
	}

	outside := g.AddBlock(CodeBlock, 4, "outside")
	outside.SetSectionID(sec.ID())
	if err := g.PlaceBlock(outside.ID(), address.Relative(100)); err != nil {
		t.Fatalf("PlaceBlock outside: %v", err)
	}
	if _, err := outside.SetReference(0, Reference{Type: PCRelative, Size: 4, Referenced: a, Offset: 2, Base: 2}); err != nil {
		t.Fatalf("SetReference into a: %v", err)
	}

	r := address.MustNewRange(address.Relative(0), 8)
	merged, err := g.MergeIntersectingBlocks(r)
	if err != nil {
		t.Fatalf("MergeIntersectingBlocks: %v", err)
	}
	if merged == nil {
		t.Fatalf("expected a merged block")
	}
	if merged.Size() != 8 {
		t.Fatalf("expected merged size 8, got %d", merged.Size())
	}
	want := []byte{0x90, 0x90, 0x90, 0x90, 0xC3, 0xC3, 0xC3, 0xC3}
	got := merged.Data()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("merged data mismatch at %d: got %x want %x", i, got[i], want[i])
		}
	}

	if _, ok := g.GetBlockByID(a.ID()); ok {
		t.Fatalf("source block a should have been removed")
	}
	if _, ok := g.GetBlockByID(b.ID()); ok {
		t.Fatalf("source block b should have been removed")
	}

	ref, ok := outside.GetReference(0)
	if !ok {
		t.Fatalf("outside's reference should still exist")
	}
	if ref.Referenced != merged {
		t.Fatalf("outside's reference should now target the merged block")
	}
	if ref.Offset != 2 || ref.Base != 2 {
		t.Fatalf("outside's reference offset/base into the first victim should be unshifted: got offset=%d base=%d", ref.Offset, ref.Base)
	}

	referrers := merged.Referrers()
	if len(referrers) != 1 || referrers[0].Source != outside {
		t.Fatalf("merged block should have exactly one referrer (outside): %+v", referrers)
	}
}

func TestMergeIntersectingBlocksSingleton(t *testing.T) {
	g := NewBlockGraph()
	a := g.AddBlock(DataBlock, 4, "a")
	if err := g.PlaceBlock(a.ID(), address.Relative(0)); err != nil {
		t.Fatalf("PlaceBlock: %v", err)
	}
	r := address.MustNewRange(address.Relative(0), 4)
	merged, err := g.MergeIntersectingBlocks(r)
	if err != nil {
		t.Fatalf("MergeIntersectingBlocks: %v", err)
	}
	if merged != a {
		t.Fatalf("merging a single intersecting block should return it unchanged")
	}
}

func TestRemoveBlockRejectsEdges(t *testing.T) {
	g := NewBlockGraph()
	a := g.AddBlock(DataBlock, 4, "a")
	b := g.AddBlock(DataBlock, 4, "b")
	if _, err := a.SetReference(0, Reference{Type: Absolute, Size: 4, Referenced: b}); err != nil {
		t.Fatalf("SetReference: %v", err)
	}
	if err := g.RemoveBlock(b.ID()); !errors.Is(err, ErrBlockHasEdges) {
		t.Fatalf("expected ErrBlockHasEdges, got %v", err)
	}
	a.RemoveAllReferences()
	if err := g.RemoveBlock(b.ID()); err != nil {
		t.Fatalf("RemoveBlock should now succeed: %v", err)
	}
}

func TestLabelAttributesValidate(t *testing.T) {
	tcs := []struct {
		name  string
		attrs LabelAttributes
		want  bool
	}{
		{"empty is invalid", LabelAttributes{}, false},
		{"code alone", NewLabelAttributes(LabelCode), true},
		{"jump table implies data", NewLabelAttributes(LabelJumpTable), false},
		{"jump table with data", NewLabelAttributes(LabelJumpTable, LabelData), true},
		{"case table with debug end", NewLabelAttributes(LabelCaseTable, LabelData, LabelDebugEnd), false},
		{"data with debug start invalid", NewLabelAttributes(LabelData, LabelDebugStart), false},
		{"data with call site valid", NewLabelAttributes(LabelData, LabelCallSite), true},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.attrs.Validate(); got != tc.want {
				t.Errorf("Validate() = %v, want %v", got, tc.want)
			}
		})
	}
}
