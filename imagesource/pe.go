// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package imagesource

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/saferwall/pe"

	"github.com/google/syzygy-sub008/address"
	"github.com/google/syzygy-sub008/syzygylog"
)

var logger = syzygylog.New("imagesource: ")

// PEImageSource implements ImageSource by delegating container parsing
// (section table, data directories, base relocations) to saferwall/pe's
// File type, the "Reading the PE container" collaborator spec.md places
// out of scope.
type PEImageSource struct {
	file      *pe.File
	imageBase uint32
}

// OpenPE parses the PE file at path and returns a ready-to-use
// PEImageSource.
func OpenPE(path string) (*PEImageSource, error) {
	f, err := pe.New(path, &pe.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "imagesource: opening %s", path)
	}
	if err := f.Parse(); err != nil {
		return nil, errors.Wrapf(err, "imagesource: parsing %s", path)
	}

	var base uint32
	if f.Is32 {
		base = f.NtHeader.OptionalHeader.(pe.ImageOptionalHeader32).ImageBase
	} else {
		base = uint32(f.NtHeader.OptionalHeader.(pe.ImageOptionalHeader64).ImageBase)
	}

	return &PEImageSource{file: f, imageBase: base}, nil
}

// Sections implements ImageSource.
func (p *PEImageSource) Sections() []SectionHeader {
	out := make([]SectionHeader, 0, len(p.file.Sections))
	for _, s := range p.file.Sections {
		out = append(out, SectionHeader{
			Name:            s.NameString(),
			VirtualAddress:  address.Relative(s.Header.VirtualAddress),
			VirtualSize:     s.Header.VirtualSize,
			RawSize:         s.Header.SizeOfRawData,
			Characteristics: s.Header.Characteristics,
		})
	}
	return out
}

func (p *PEImageSource) sectionFor(rel address.Relative) *pe.Section {
	for i := range p.file.Sections {
		s := &p.file.Sections[i]
		start := s.Header.VirtualAddress
		end := start + s.Header.VirtualSize
		if uint32(rel) >= start && uint32(rel) < end {
			return s
		}
	}
	return nil
}

// BytesAt implements ImageSource.
func (p *PEImageSource) BytesAt(rel address.Relative, size uint32) ([]byte, bool) {
	s := p.sectionFor(rel)
	if s == nil {
		logger.Printf("no section covers relative address %s", fmtRel(rel))
		return nil, false
	}
	data := s.Data(uint32(rel)-s.Header.VirtualAddress, size, p.file)
	if data == nil {
		return nil, false
	}
	return data, true
}

// TranslateAbs implements ImageSource.
func (p *PEImageSource) TranslateAbs(abs address.Absolute) (address.Relative, bool) {
	v := uint32(abs)
	if v < p.imageBase {
		return 0, false
	}
	return address.Relative(v - p.imageBase), true
}

// TranslateFile implements ImageSource.
func (p *PEImageSource) TranslateFile(off address.FileOffset) (address.Relative, bool) {
	for i := range p.file.Sections {
		s := &p.file.Sections[i]
		start := s.Header.PointerToRawData
		end := start + s.Header.SizeOfRawData
		if uint32(off) >= start && uint32(off) < end {
			rel := s.Header.VirtualAddress + (uint32(off) - start)
			return address.Relative(rel), true
		}
	}
	return 0, false
}

// Relocs implements ImageSource. Only each entry's Location is filled
// from the base relocation directory; Target is left zero.
func (p *PEImageSource) Relocs() []Relocation {
	out := make([]Relocation, 0, len(p.file.Relocations))
	for _, block := range p.file.Relocations {
		for _, entry := range block.Entries {
			loc := block.Data.VirtualAddress + uint32(entry.Offset)
			out = append(out, Relocation{
				Location: address.Relative(loc),
			})
		}
	}
	return out
}

// ImageBase implements ImageSource.
func (p *PEImageSource) ImageBase() uint32 { return p.imageBase }

func fmtRel(rel address.Relative) string {
	return fmt.Sprintf("0x%08x", uint32(rel))
}
