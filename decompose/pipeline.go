// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decompose

import (
	"fmt"
	"sort"

	"github.com/google/syzygy-sub008/address"
	"github.com/google/syzygy-sub008/blockgraph"
	"github.com/google/syzygy-sub008/imagesource"
)

// intermediateRef is an address-to-address reference discovered during
// disassembly, not yet resolved to a (block, offset) pair. Resolution
// happens in resolveIntermediateReferences (spec.md §4.3 step 12).
type intermediateRef struct {
	srcBlock blockgraph.BlockID
	srcOff   uint32
	refType  blockgraph.ReferenceType
	size     uint8
	dstAddr  address.Relative
	baseAddr address.Relative
}

// mergeCandidate records a pair of blocks the disassembler believes
// should be merged, per spec.md §4.3.2's short-displacement and
// fall-through rules.
type mergeCandidate struct {
	a, b blockgraph.BlockID
}

// Decompose runs the full macro decomposition pipeline described in
// spec.md §4.3, producing a populated graph plus a list of
// non-fatal diagnostics. It returns a fatal error only for conditions
// that leave the graph in an unusable state (e.g. a hard block overlap
// during step 3).
func Decompose(img imagesource.ImageSource, syms imagesource.SymbolSource, decoder imagesource.Decoder, opts Options) (*blockgraph.BlockGraph, []Diagnostic, error) {
	g := blockgraph.NewBlockGraph()
	sink := &diagSink{}

	sections := createSections(g, img)

	if err := createFunctionAndThunkBlocks(g, img, syms, sections, sink); err != nil {
		return nil, sink.diags, err
	}
	createDataBlocks(g, syms, sections, sink)
	processSectionContributions(g, syms, sections)
	fillGaps(g, img, sections)
	createGlobalLabels(g, syms)

	fixupVisited := make(map[int]bool, len(syms.Fixups()))
	checkRelocationsCoveredByFixups(img, syms, sink)

	createReferencesFromFixups(g, img, syms, fixupVisited, sink)
	createCodeLabelsFromFixups(g, syms)

	intermediates, mergeCandidates := disassembleCodeBlocks(g, img, decoder, opts, sink)
	resolveIntermediateReferences(g, intermediates, sink)
	applyMergeCandidates(g, mergeCandidates, sink)
	applyStaticInitRanges(g, syms, opts, sink)

	findPaddingBlocks(g)

	for i, fx := range syms.Fixups() {
		if !fixupVisited[i] {
			sink.add(SeverityWarning, 0, fx.Location, "fixup at %s of type %d was never visited", fmtRel(fx.Location), fx.Type)
		}
	}

	return g, sink.diags, nil
}

// createSections implements spec.md §4.3 step 1.
func createSections(g *blockgraph.BlockGraph, img imagesource.ImageSource) map[string]*blockgraph.Section {
	out := make(map[string]*blockgraph.Section)
	for _, sh := range img.Sections() {
		out[sh.Name] = g.AddSection(sh.Name, sh.Characteristics)
	}
	return out
}

func sectionKindFor(characteristics uint32) blockgraph.BlockKind {
	const imageScnCntCode = 0x00000020
	if characteristics&imageScnCntCode != 0 {
		return blockgraph.CodeBlock
	}
	return blockgraph.DataBlock
}

// createFunctionAndThunkBlocks implements spec.md §4.3 step 3.
func createFunctionAndThunkBlocks(g *blockgraph.BlockGraph, img imagesource.ImageSource, syms imagesource.SymbolSource, sections map[string]*blockgraph.Section, sink *diagSink) error {
	secHeaders := img.Sections()

	// addInteriorLabels attaches every function-scope label the symbol
	// source reports for fn to b, per spec.md §4.3 step 3 / the Symbol
	// Source's labels_in iterator. A label outside fn's range indicates
	// debug info drift and is reported rather than applied.
	addInteriorLabels := func(b *blockgraph.Block, fn imagesource.FunctionSymbol) {
		for _, lbl := range syms.LabelsIn(fn) {
			off := uint32(lbl.Addr) - uint32(fn.Addr)
			if off > fn.Size {
				sink.add(SeverityWarning, b.ID(), lbl.Addr, "function-scope label %q for %q falls outside its function", lbl.Name, fn.Name)
				continue
			}
			if !b.HasLabel(off) {
				_ = b.SetLabel(off, blockgraph.Label{Name: lbl.Name, Attributes: blockgraph.NewLabelAttributes(blockgraph.LabelCode)})
			}
		}
	}

	place := func(fn imagesource.FunctionSymbol) error {
		if fn.Size == 0 {
			return nil
		}
		r, ok := address.NewRange(fn.Addr, fn.Size)
		if !ok {
			return nil
		}
		if existing, ok := g.BlockAt(r); ok {
			existing.SetName(fn.Name)
			if fn.NonReturning {
				existing.SetAttribute(blockgraph.AttrNonReturningFunction)
			}
			addInteriorLabels(existing, fn)
			return nil
		}
		if others := g.BlocksInRange(r); len(others) > 0 {
			return fmt.Errorf("decompose: function %q at %s overlaps an existing block without exact containment", fn.Name, fmtRel(fn.Addr))
		}

		sh := sectionFor(secHeaders, fn.Addr)
		b := g.AddBlock(blockgraph.CodeBlock, fn.Size, fn.Name)
		if sh != nil {
			if sec, ok := sections[sh.Name]; ok {
				b.SetSectionID(sec.ID())
			}
		}
		if data, ok := img.BytesAt(fn.Addr, fn.Size); ok {
			b.SetData(data)
		}
		if fn.NonReturning {
			b.SetAttribute(blockgraph.AttrNonReturningFunction)
		}
		if err := g.PlaceBlock(b.ID(), fn.Addr); err != nil {
			return fmt.Errorf("decompose: placing function block %q: %w", fn.Name, err)
		}
		_ = b.SetLabel(0, blockgraph.Label{Name: fn.Name, Attributes: blockgraph.NewLabelAttributes(blockgraph.LabelCode)})
		addInteriorLabels(b, fn)
		return nil
	}

	for _, fn := range syms.Functions() {
		if err := place(fn); err != nil {
			return err
		}
	}
	for _, th := range syms.Thunks() {
		th2 := th
		if err := place(th2); err != nil {
			return err
		}
		if th.Size == 0 {
			continue
		}
		if b, ok := g.BlockAt(address.MustNewRange(th.Addr, th.Size)); ok {
			b.SetAttribute(blockgraph.AttrThunk)
			if th.ImportModule != "" || th.ImportFunction != "" {
				b.SetImportThunk(th.ImportModule, th.ImportFunction)
			}
		}
	}
	return nil
}

func sectionFor(headers []imagesource.SectionHeader, rel address.Relative) *imagesource.SectionHeader {
	for i := range headers {
		start := uint32(headers[i].VirtualAddress)
		end := start + headers[i].VirtualSize
		if uint32(rel) >= start && uint32(rel) < end {
			return &headers[i]
		}
	}
	return nil
}

// createDataBlocks implements spec.md §4.3 step 4.
func createDataBlocks(g *blockgraph.BlockGraph, syms imagesource.SymbolSource, sections map[string]*blockgraph.Section, sink *diagSink) {
	for _, ds := range syms.DataSymbols() {
		if ds.Size == 0 {
			continue
		}
		r, ok := address.NewRange(ds.Addr, ds.Size)
		if !ok {
			continue
		}
		if existing, ok := g.BlockAt(r); ok {
			existing.SetName(ds.Name)
			continue
		}
		if len(g.BlocksInRange(r)) > 0 {
			sink.add(SeverityWarning, 0, ds.Addr, "data symbol %q overlaps an existing block without exact containment", ds.Name)
			continue
		}
		b := g.AddBlock(blockgraph.DataBlock, ds.Size, ds.Name)
		if err := g.PlaceBlock(b.ID(), ds.Addr); err != nil {
			sink.add(SeverityWarning, 0, ds.Addr, "placing data symbol %q: %v", ds.Name, err)
		}
	}
}

// processSectionContributions implements spec.md §4.3 step 5.
func processSectionContributions(g *blockgraph.BlockGraph, syms imagesource.SymbolSource, sections map[string]*blockgraph.Section) {
	secHeaders := make([]*blockgraph.Section, 0, len(sections))
	for _, s := range sections {
		secHeaders = append(secHeaders, s)
	}
	sort.Slice(secHeaders, func(i, j int) bool { return secHeaders[i].ID() < secHeaders[j].ID() })

	for _, sc := range syms.SectionContributions() {
		if sc.Size == 0 {
			continue
		}
		r, ok := address.NewRange(sc.Addr, sc.Size)
		if !ok {
			continue
		}
		if len(g.BlocksInRange(r)) > 0 {
			continue
		}
		if sc.SectionIndex < 0 || sc.SectionIndex >= len(secHeaders) {
			continue
		}
		sec := secHeaders[sc.SectionIndex]
		kind := sectionKindFromCharacteristics(sec.Characteristics())
		b := g.AddBlock(kind, sc.Size, "")
		b.SetSectionID(sec.ID())
		b.SetAttribute(blockgraph.AttrSectionContribution)
		g.PlaceBlock(b.ID(), sc.Addr)
	}
}

func sectionKindFromCharacteristics(c uint32) blockgraph.BlockKind {
	return sectionKindFor(c)
}

// fillGaps implements spec.md §4.3 step 6: every byte of every section
// not already covered by a block gets a gap block, so the graph's
// address space covers the whole image.
func fillGaps(g *blockgraph.BlockGraph, img imagesource.ImageSource, sections map[string]*blockgraph.Section) {
	for _, sh := range img.Sections() {
		sec, ok := sections[sh.Name]
		if !ok || sh.VirtualSize == 0 {
			continue
		}
		kind := sectionKindFor(sh.Characteristics)
		cursor := sh.VirtualAddress
		end := address.Add(sh.VirtualAddress, int32(sh.VirtualSize))

		for cursor < end {
			remain, ok := address.NewRange(cursor, uint32(end-cursor))
			if !ok {
				break
			}
			existing := g.BlocksInRange(remain)
			var gapEnd address.Relative
			if len(existing) == 0 {
				gapEnd = end
			} else {
				first := existing[0]
				firstAddr, _ := first.Addr()
				if firstAddr <= cursor {
					// cursor already inside a block; skip past it.
					cursor = address.Add(firstAddr, int32(first.Size()))
					continue
				}
				gapEnd = firstAddr
			}

			gapSize := uint32(gapEnd - cursor)
			b := g.AddBlock(kind, gapSize, "")
			b.SetSectionID(sec.ID())
			b.SetAttribute(blockgraph.AttrGapBlock)
			if data, ok := img.BytesAt(cursor, gapSize); ok {
				b.SetData(data)
			}
			if err := g.PlaceBlock(b.ID(), cursor); err != nil {
				g.RemoveBlock(b.ID())
			}
			cursor = gapEnd
		}
	}
}

// createGlobalLabels implements spec.md §4.3 step 7.
func createGlobalLabels(g *blockgraph.BlockGraph, syms imagesource.SymbolSource) {
	for _, gl := range syms.GlobalLabels() {
		r, ok := address.NewRange(gl.Addr, 1)
		if !ok {
			continue
		}
		b, ok := g.BlockAt(r)
		if !ok {
			if ents := g.BlocksInRange(r); len(ents) > 0 {
				b = ents[0]
			} else {
				continue
			}
		}
		off := uint32(gl.Addr) - uint32(mustAddr(b))
		if !b.HasLabel(off) {
			_ = b.SetLabel(off, blockgraph.Label{Name: gl.Name, Attributes: blockgraph.NewLabelAttributes(blockgraph.LabelData)})
		}
	}
}

func mustAddr(b *blockgraph.Block) address.Relative {
	a, _ := b.Addr()
	return a
}

// translateOMAP applies the offset-remapping table (if any) to a
// debug-info-relative address, mapping it into the layout of the
// image actually being decomposed, per spec.md §4.3 step 8: "Translate
// fixup addresses through any available offset-mapping (debug info's
// relocation-to-layout map)". Each entry maps the half-open span from
// its From address to the next entry's From (or to infinity, for the
// last entry) onto the same span starting at its To address; an addr
// before the first entry's From is left unchanged.
func translateOMAP(omap []imagesource.OMAPEntry, addr address.Relative) address.Relative {
	if len(omap) == 0 {
		return addr
	}
	best := -1
	for i, e := range omap {
		if uint32(e.From) > uint32(addr) {
			continue
		}
		if best == -1 || e.From > omap[best].From {
			best = i
		}
	}
	if best == -1 {
		return addr
	}
	e := omap[best]
	delta := int64(uint32(addr)) - int64(uint32(e.From))
	return address.Relative(uint32(int64(uint32(e.To)) + delta))
}

// checkRelocationsCoveredByFixups implements the relocation-set /
// fixup-set cross-check from spec.md §4.3.3: every relocation entry
// should have a corresponding fixup; a relocation with none suggests
// debug info and binary have drifted.
func checkRelocationsCoveredByFixups(img imagesource.ImageSource, syms imagesource.SymbolSource, sink *diagSink) {
	omap := syms.OMAP()
	fixLocs := make(map[address.Relative]bool, len(syms.Fixups()))
	for _, fx := range syms.Fixups() {
		fixLocs[translateOMAP(omap, fx.Location)] = true
	}
	for _, reloc := range img.Relocs() {
		if !fixLocs[reloc.Location] {
			sink.add(SeverityWarning, 0, reloc.Location, "relocation at %s has no matching fixup", fmtRel(reloc.Location))
		}
	}
}

// createReferencesFromFixups implements spec.md §4.3 step 9.
func createReferencesFromFixups(g *blockgraph.BlockGraph, img imagesource.ImageSource, syms imagesource.SymbolSource, visited map[int]bool, sink *diagSink) {
	omap := syms.OMAP()
	for i, fx := range syms.Fixups() {
		loc := translateOMAP(omap, fx.Location)
		base := translateOMAP(omap, fx.Base)

		r, ok := address.NewRange(loc, 1)
		if !ok {
			continue
		}
		srcBlock, ok := g.BlockAt(r)
		if !ok {
			if ents := g.BlocksInRange(r); len(ents) > 0 {
				srcBlock = ents[0]
			} else {
				sink.add(SeverityError, 0, loc, "fixup location not covered by any block")
				continue
			}
		}
		localOff := uint32(loc) - uint32(mustAddr(srcBlock))

		refType, size := fixupReferenceShape(fx.Type)
		target, ok := g.BlockAt(address.MustNewRange(base, 1))
		if !ok {
			if ents := g.BlocksInRange(address.MustNewRange(base, 1)); len(ents) > 0 {
				target = ents[0]
			} else {
				sink.add(SeverityError, 0, base, "fixup at %s targets an address not covered by any block", fmtRel(loc))
				continue
			}
		}
		targetOff := uint32(base) - uint32(mustAddr(target))

		ref := blockgraph.Reference{
			Type:           refType,
			FromRelocation: true,
			Size:           size,
			Referenced:     target,
			Offset:         targetOff,
			Base:           targetOff,
		}
		if _, err := srcBlock.SetReference(localOff, ref); err != nil {
			sink.add(SeverityError, srcBlock.ID(), loc, "setting reference from fixup: %v", err)
			continue
		}
		visited[i] = true
	}
}

func fixupReferenceShape(t imagesource.FixupType) (blockgraph.ReferenceType, uint8) {
	switch t {
	case imagesource.FixupPCRelative:
		return blockgraph.PCRelative, 4
	case imagesource.FixupAbsolute:
		return blockgraph.Absolute, 4
	case imagesource.FixupRelative:
		return blockgraph.Relative, 4
	case imagesource.FixupFileOffset:
		return blockgraph.FileOffsetRef, 4
	case imagesource.FixupSection:
		return blockgraph.SectionRef, 2
	case imagesource.FixupSectionOffset:
		return blockgraph.SectionOffsetRef, 4
	default:
		return blockgraph.Absolute, 4
	}
}

// createCodeLabelsFromFixups implements spec.md §4.3 step 10.
func createCodeLabelsFromFixups(g *blockgraph.BlockGraph, syms imagesource.SymbolSource) {
	omap := syms.OMAP()
	for _, fx := range syms.Fixups() {
		if !fx.RefersToCode {
			continue
		}
		loc := translateOMAP(omap, fx.Location)
		base := translateOMAP(omap, fx.Base)
		r, ok := address.NewRange(base, 1)
		if !ok {
			continue
		}
		b, ok := g.BlockAt(r)
		if !ok {
			continue
		}
		off := uint32(base) - uint32(mustAddr(b))
		if !b.HasLabel(off) {
			_ = b.SetLabel(off, blockgraph.Label{
				Name:       fmt.Sprintf("From 0x%08x", uint32(loc)),
				Attributes: blockgraph.NewLabelAttributes(blockgraph.LabelCode),
			})
		}
	}
}

// applyStaticInitRanges implements spec.md §4.3.4.
func applyStaticInitRanges(g *blockgraph.BlockGraph, syms imagesource.SymbolSource, opts Options, sink *diagSink) {
	if len(opts.StaticInitRanges) == 0 {
		return
	}
	pub := syms.PublicSymbols()
	for _, pair := range opts.StaticInitRanges {
		var begin, end *imagesource.LabelSymbol
		for i := range pub {
			if begin == nil && pair.Begin.MatchString(pub[i].Name) {
				begin = &pub[i]
			}
			if end == nil && pair.End.MatchString(pub[i].Name) {
				end = &pub[i]
			}
		}
		if begin == nil || end == nil || end.Addr <= begin.Addr {
			continue
		}
		r, ok := address.NewRange(begin.Addr, uint32(end.Addr-begin.Addr))
		if !ok {
			continue
		}
		if _, err := g.MergeIntersectingBlocks(r); err != nil {
			sink.add(SeverityWarning, 0, begin.Addr, "merging static initializer range %s..%s: %v", begin.Name, end.Name, err)
		}
	}
}

// findPaddingBlocks implements spec.md §4.3 step 13.
func findPaddingBlocks(g *blockgraph.BlockGraph) {
	for _, b := range g.Blocks() {
		if !b.HasAttribute(blockgraph.AttrGapBlock) {
			continue
		}
		data := b.Data()
		if len(data) == 0 {
			continue
		}
		uniform := data[0]
		if uniform != 0x00 && uniform != 0xCC {
			continue
		}
		isPadding := true
		for _, by := range data {
			if by != uniform {
				isPadding = false
				break
			}
		}
		if isPadding {
			b.SetAttribute(blockgraph.AttrPaddingBlock)
		}
	}
}

func absOf(img imagesource.ImageSource, rel address.Relative) address.Absolute {
	return address.Absolute(uint32(rel) + img.ImageBase())
}

// macroCallbacks implements Callbacks for the macro decomposer's code
// disassembly pass (spec.md §4.3 step 11 / §4.3.1), recording
// intermediate references and merge hints rather than mutating the
// graph directly, so that ordering across code blocks does not matter.
type macroCallbacks struct {
	g    *blockgraph.BlockGraph
	img  imagesource.ImageSource
	opts Options
	sink *diagSink

	block      *blockgraph.Block
	blockAddr  address.Relative
	intermediates *[]intermediateRef
	merges        *[]mergeCandidate

	// endedOnNonReturningCall records whether any instruction run in
	// this block ended because its last instruction called a
	// non-returning function, per spec.md §4.3.5: such a block has no
	// real coverage gap past the call, even though the bytes after it
	// were never decoded.
	endedOnNonReturningCall bool
}

func (m *macroCallbacks) OnStartInstructionRun(addr address.Absolute) {}

func (m *macroCallbacks) OnInstruction(addr address.Absolute, inst imagesource.Instruction) Directive {
	rel, ok := m.img.TranslateAbs(addr)
	if !ok {
		return Abort
	}
	off := uint32(rel) - uint32(m.blockAddr)
	if off >= m.block.Size() {
		return TerminatePath
	}
	return Continue
}

func (m *macroCallbacks) OnBranchInstruction(addr address.Absolute, inst imagesource.Instruction, dest address.Absolute) {
	rel, ok := m.img.TranslateAbs(addr)
	if !ok {
		return
	}
	destRel, ok := m.img.TranslateAbs(dest)
	if !ok {
		return
	}
	srcOff := uint32(rel) - uint32(m.blockAddr)

	refType := blockgraph.PCRelative
	size := uint8(4)
	if len(inst.Operands) > 0 && inst.Operands[0].Size == 1 {
		size = 1
	}

	*m.intermediates = append(*m.intermediates, intermediateRef{
		srcBlock: m.block.ID(),
		srcOff:   srcOff,
		refType:  refType,
		size:     size,
		dstAddr:  destRel,
		baseAddr: destRel,
	})

	if inst.FlowControl == imagesource.FlowUncBranch && size == 1 {
		if destBlock, ok := m.g.BlockAt(address.MustNewRange(destRel, 1)); ok && destBlock.ID() != m.block.ID() {
			*m.merges = append(*m.merges, mergeCandidate{a: m.block.ID(), b: destBlock.ID()})
		} else if ents := m.g.BlocksInRange(address.MustNewRange(destRel, 1)); len(ents) > 0 && ents[0].ID() != m.block.ID() {
			*m.merges = append(*m.merges, mergeCandidate{a: m.block.ID(), b: ents[0].ID()})
		}
	}
}

func (m *macroCallbacks) OnEndInstructionRun(addr address.Absolute, last imagesource.Instruction, terminates bool) {
	if terminates {
		if last.FlowControl == imagesource.FlowCall {
			if dest, ok := pcRelativeTarget(addr, last); ok && m.IsNonReturningCall(dest) {
				m.endedOnNonReturningCall = true
			}
		}
		return
	}
	// Fall-through into an address already queued by another run:
	// spec.md §4.3.2 schedules the two owning blocks for merging.
	rel, ok := m.img.TranslateAbs(addr)
	if !ok {
		return
	}
	if destBlock, ok := m.g.BlockAt(address.MustNewRange(rel, 1)); ok && destBlock.ID() != m.block.ID() {
		*m.merges = append(*m.merges, mergeCandidate{a: m.block.ID(), b: destBlock.ID()})
	}
}

func (m *macroCallbacks) OnDisassemblyComplete() {}

func (m *macroCallbacks) IsNonReturningCall(dest address.Absolute) bool {
	rel, ok := m.img.TranslateAbs(dest)
	if !ok {
		return false
	}
	b, ok := m.g.BlockAt(address.MustNewRange(rel, 1))
	if !ok {
		return false
	}
	if b.HasAttribute(blockgraph.AttrNonReturningFunction) {
		return true
	}
	if m.opts.ExtraNonReturningFunctions != nil && m.opts.ExtraNonReturningFunctions[b.Name()] {
		return true
	}
	if module, function, ok := b.ImportThunk(); ok && m.opts.ExtraNonReturningImports != nil {
		if m.opts.ExtraNonReturningImports[ImportThunkKey{Module: module, Function: function}] {
			return true
		}
	}
	return false
}

// disassembleCodeBlocks implements spec.md §4.3 step 11, driving the
// shared Walker once per placed, non-empty code block, and returns the address-to-address references and
// block-merge hints it discovered for the later resolution steps.
func disassembleCodeBlocks(g *blockgraph.BlockGraph, img imagesource.ImageSource, decoder imagesource.Decoder, opts Options, sink *diagSink) ([]intermediateRef, []mergeCandidate) {
	var intermediates []intermediateRef
	var merges []mergeCandidate

	readByte := func(addr address.Absolute, size uint32) ([]byte, bool) {
		rel, ok := img.TranslateAbs(addr)
		if !ok {
			return nil, false
		}
		return img.BytesAt(rel, size)
	}

	for _, b := range g.Blocks() {
		if b.Kind() != blockgraph.CodeBlock {
			continue
		}
		rel, ok := b.Addr()
		if !ok || b.Size() == 0 {
			continue
		}
		start := absOf(img, rel)
		w := NewWalker(start, b.Size(), decoder, readByte)

		for off, l := range b.Labels() {
			if l.Attributes.Has(blockgraph.LabelCode) {
				w.Seed(address.Add(start, int32(off)))
			}
		}
		w.Seed(start)

		cb := &macroCallbacks{
			g: g, img: img, opts: opts, sink: sink,
			block: b, blockAddr: rel,
			intermediates: &intermediates, merges: &merges,
		}
		result := w.Run(cb)
		switch result {
		case WalkIncomplete:
			b.SetAttribute(blockgraph.AttrIncompleteDisassembly)
			sink.add(SeverityWarning, b.ID(), rel, "disassembly of block %q was incomplete", b.Name())
		case WalkError:
			b.SetAttribute(blockgraph.AttrErroredDisassembly)
			sink.add(SeverityError, b.ID(), rel, "disassembly of block %q failed", b.Name())
		}

		// spec.md §4.3's coverage-gap diagnostic: bytes neither decoded
		// nor explained by a data label mark the block
		// DISASSEMBLED_PAST_END, except when the run stopped at a
		// non-returning call, which is expected and clears it.
		switch {
		case cb.endedOnNonReturningCall:
			b.ClearAttribute(blockgraph.AttrDisassembledPastEnd)
		case hasCoverageGap(b, w.VisitedRanges(), start):
			b.SetAttribute(blockgraph.AttrDisassembledPastEnd)
			sink.add(SeverityInfo, b.ID(), rel, "block %q has undecoded bytes not covered by a data label", b.Name())
		default:
			b.ClearAttribute(blockgraph.AttrDisassembledPastEnd)
		}
	}

	return intermediates, merges
}

// hasCoverageGap reports whether any byte in [0, b.Size()) is neither
// covered by an instruction the walk decoded nor explained by a data
// label's span (extended to the next label, of any kind, or the
// block's end).
func hasCoverageGap(b *blockgraph.Block, visited []address.Range[address.Absolute], blockStart address.Absolute) bool {
	size := b.Size()
	if size == 0 {
		return false
	}
	covered := make([]bool, size)
	for _, r := range visited {
		off := int64(uint32(r.Start())) - int64(uint32(blockStart))
		end := off + int64(r.Size())
		if off < 0 {
			off = 0
		}
		if end > int64(size) {
			end = int64(size)
		}
		for i := off; i < end; i++ {
			covered[i] = true
		}
	}

	var dataOffsets []uint32
	for off, l := range b.Labels() {
		if l.Attributes.Has(blockgraph.LabelData) {
			dataOffsets = append(dataOffsets, off)
		}
	}
	sort.Slice(dataOffsets, func(i, j int) bool { return dataOffsets[i] < dataOffsets[j] })
	for i, off := range dataOffsets {
		end := size
		if i+1 < len(dataOffsets) {
			end = dataOffsets[i+1]
		}
		for k := off; k < end && k < size; k++ {
			covered[k] = true
		}
	}

	for _, c := range covered {
		if !c {
			return true
		}
	}
	return false
}

// resolveIntermediateReferences implements spec.md §4.3 step 12,
// converting the address-to-address references gathered while
// disassembling into the graph's block-to-block Reference edges.
func resolveIntermediateReferences(g *blockgraph.BlockGraph, refs []intermediateRef, sink *diagSink) {
	for _, ir := range refs {
		src, ok := g.GetBlockByID(ir.srcBlock)
		if !ok {
			continue
		}
		r, ok := address.NewRange(ir.dstAddr, 1)
		if !ok {
			continue
		}
		target, ok := g.BlockAt(r)
		if !ok {
			if ents := g.BlocksInRange(r); len(ents) > 0 {
				target = ents[0]
			} else {
				sink.add(SeverityWarning, ir.srcBlock, 0, "disassembly reference at offset %d targets %s, not covered by any block", ir.srcOff, fmtRel(ir.dstAddr))
				continue
			}
		}
		targetAddr, _ := target.Addr()
		off := uint32(ir.dstAddr) - uint32(targetAddr)

		if _, ok := src.GetReference(ir.srcOff); ok {
			continue
		}
		ref := blockgraph.Reference{
			Type:       ir.refType,
			Size:       ir.size,
			Referenced: target,
			Offset:     off,
			Base:       off,
		}
		if _, err := src.SetReference(ir.srcOff, ref); err != nil {
			sink.add(SeverityWarning, ir.srcBlock, ir.dstAddr, "resolving disassembly reference: %v", err)
		}
	}
}

func applyMergeCandidates(g *blockgraph.BlockGraph, candidates []mergeCandidate, sink *diagSink) {
	for _, c := range candidates {
		a, aOK := g.GetBlockByID(c.a)
		b, bOK := g.GetBlockByID(c.b)
		if !aOK || !bOK {
			continue
		}
		aAddr, _ := a.Addr()
		bAddr, _ := b.Addr()
		start := aAddr
		if bAddr < start {
			start = bAddr
		}
		end := address.Add(aAddr, int32(a.Size()))
		if bEnd := address.Add(bAddr, int32(b.Size())); bEnd > end {
			end = bEnd
		}
		r, ok := address.NewRange(start, uint32(end-start))
		if !ok {
			continue
		}
		if _, err := g.MergeIntersectingBlocks(r); err != nil {
			sink.add(SeverityWarning, 0, start, "merging blocks scheduled by disassembly hints: %v", err)
		}
	}
}
