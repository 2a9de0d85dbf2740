// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package imagesource

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"golang.org/x/sys/windows"

	"github.com/google/syzygy-sub008/address"
)

// MappedImageSource implements ImageSource directly over a memory-mapped
// PE file, for callers that want zero-copy byte_at queries instead of
// PEImageSource's saferwall/pe-backed copies. It decodes just enough of
// the COFF/PE headers itself, using golang.org/x/sys/windows's struct
// layouts, to build the section table; DOS stub, resources, exports and
// imports are left untouched (the core never reads them).
type MappedImageSource struct {
	f         *os.File
	data      mmap.MMap
	sections  []mappedSection
	imageBase uint32
}

type mappedSection struct {
	header SectionHeader
	fileOff uint32
}

// OpenMapped memory-maps path read-only and parses its section table.
func OpenMapped(path string) (*MappedImageSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("imagesource: open %s: %w", path, err)
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("imagesource: mmap %s: %w", path, err)
	}

	src := &MappedImageSource{f: f, data: m}
	if err := src.parseHeaders(); err != nil {
		m.Unmap()
		f.Close()
		return nil, err
	}
	return src, nil
}

// Close unmaps the file and releases its descriptor.
func (m *MappedImageSource) Close() error {
	if err := m.data.Unmap(); err != nil {
		return err
	}
	return m.f.Close()
}

func (m *MappedImageSource) parseHeaders() error {
	if len(m.data) < 0x40 {
		return fmt.Errorf("imagesource: file too small to hold a DOS header")
	}
	peOffset := binary.LittleEndian.Uint32(m.data[0x3c:0x40])
	if uint64(peOffset)+4+uint64(windows.SizeofCoffHeader) > uint64(len(m.data)) {
		return fmt.Errorf("imagesource: PE header offset out of range")
	}
	if !bytes.Equal(m.data[peOffset:peOffset+4], []byte("PE\x00\x00")) {
		return fmt.Errorf("imagesource: missing PE signature")
	}

	var coff windows.IMAGE_FILE_HEADER
	coffOff := peOffset + 4
	if err := decodeLE(m.data[coffOff:coffOff+windows.SizeofCoffHeader], &coff); err != nil {
		return err
	}

	optOff := coffOff + windows.SizeofCoffHeader
	magic := binary.LittleEndian.Uint16(m.data[optOff : optOff+2])
	var sectionOff uint32
	switch magic {
	case 0x10b: // PE32
		var opt windows.IMAGE_OPTIONAL_HEADER32
		if err := decodeLE(m.data[optOff:optOff+uint32(binary.Size(opt))], &opt); err != nil {
			return err
		}
		m.imageBase = opt.ImageBase
		sectionOff = optOff + uint32(coff.SizeOfOptionalHeader)
	case 0x20b: // PE32+
		var opt windows.IMAGE_OPTIONAL_HEADER64
		if err := decodeLE(m.data[optOff:optOff+uint32(binary.Size(opt))], &opt); err != nil {
			return err
		}
		m.imageBase = uint32(opt.ImageBase)
		sectionOff = optOff + uint32(coff.SizeOfOptionalHeader)
	default:
		return fmt.Errorf("imagesource: unrecognized optional header magic %#x", magic)
	}

	const sectionHeaderSize = 40
	m.sections = make([]mappedSection, 0, coff.NumberOfSections)
	for i := 0; i < int(coff.NumberOfSections); i++ {
		off := sectionOff + uint32(i)*sectionHeaderSize
		if uint64(off)+sectionHeaderSize > uint64(len(m.data)) {
			return fmt.Errorf("imagesource: section table truncated")
		}
		var hdr windows.IMAGE_SECTION_HEADER
		if err := decodeLE(m.data[off:off+sectionHeaderSize], &hdr); err != nil {
			return err
		}
		name := nullTerminated(hdr.Name[:])
		m.sections = append(m.sections, mappedSection{
			header: SectionHeader{
				Name:            name,
				VirtualAddress:  address.Relative(hdr.VirtualAddress),
				VirtualSize:     hdr.VirtualSize,
				RawSize:         hdr.SizeOfRawData,
				Characteristics: hdr.Characteristics,
			},
			fileOff: hdr.PointerToRawData,
		})
	}
	return nil
}

func decodeLE(buf []byte, out interface{}) error {
	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, out)
}

func nullTerminated(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// Sections implements ImageSource.
func (m *MappedImageSource) Sections() []SectionHeader {
	out := make([]SectionHeader, len(m.sections))
	for i, s := range m.sections {
		out[i] = s.header
	}
	return out
}

func (m *MappedImageSource) find(rel address.Relative) (mappedSection, bool) {
	for _, s := range m.sections {
		start := uint32(s.header.VirtualAddress)
		end := start + s.header.VirtualSize
		if uint32(rel) >= start && uint32(rel) < end {
			return s, true
		}
	}
	return mappedSection{}, false
}

// BytesAt implements ImageSource, returning a zero-copy slice directly
// into the mapping.
func (m *MappedImageSource) BytesAt(rel address.Relative, size uint32) ([]byte, bool) {
	s, ok := m.find(rel)
	if !ok {
		return nil, false
	}
	offInSection := uint32(rel) - uint32(s.header.VirtualAddress)
	if offInSection >= s.header.RawSize {
		return nil, false
	}
	start := s.fileOff + offInSection
	end := start + size
	if end > s.fileOff+s.header.RawSize {
		end = s.fileOff + s.header.RawSize
	}
	if uint64(end) > uint64(len(m.data)) || end < start {
		return nil, false
	}
	return m.data[start:end], true
}

// TranslateAbs implements ImageSource.
func (m *MappedImageSource) TranslateAbs(abs address.Absolute) (address.Relative, bool) {
	v := uint32(abs)
	if v < m.imageBase {
		return 0, false
	}
	return address.Relative(v - m.imageBase), true
}

// TranslateFile implements ImageSource.
func (m *MappedImageSource) TranslateFile(off address.FileOffset) (address.Relative, bool) {
	for _, s := range m.sections {
		if uint32(off) >= s.fileOff && uint32(off) < s.fileOff+s.header.RawSize {
			return address.Relative(uint32(s.header.VirtualAddress) + (uint32(off) - s.fileOff)), true
		}
	}
	return 0, false
}

// Relocs implements ImageSource. The mapped loader does not itself parse
// the base relocation directory (that is page-table bookkeeping the
// core never asks for); callers who need relocations for reconciliation
// against fixups should use PEImageSource instead.
func (m *MappedImageSource) Relocs() []Relocation { return nil }

// ImageBase implements ImageSource.
func (m *MappedImageSource) ImageBase() uint32 { return m.imageBase }
