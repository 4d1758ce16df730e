package generate

import (
	stdelf "debug/elf"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/SleepyMug/egalito/internal/binfmt"
	"github.com/SleepyMug/egalito/internal/egerr"
)

// ehdrSize/phdrSize/shdrSize are the fixed ELF64 header sizes, matching
// the byte-at-a-time emission style of the teacher's elf.go.
const (
	ehdrSize = 64
	phdrSize = 56
	shdrSize = 64
)

// Segment is one PT_LOAD program header the Generator emits, its
// addresses and sizes drawn from a DataRegion or code section's final
// layout (spec §4.6 "Program headers... addresses and sizes drawn from
// DataRegion/code section layout").
type Segment struct {
	Vaddr, Offset, Filesz, Memsz uint64
	Flags                        uint32
}

// Generator emits an ELF image for a Target, in the order spec §4.6
// fixes: ELF header, program headers, section contents, section header
// table.
type Generator struct {
	Target   binfmt.Target
	Entry    uint64
	Segments []Segment
	Sections *SectionList
}

// Emit writes the complete ELF image to w (spec §4.6 emission order).
func (g *Generator) Emit(w io.Writer) error {
	shstrndx, err := ensureShStrTab(g.Sections)
	if err != nil {
		return &egerr.EmissionError{Stage: "shstrtab", Err: err}
	}
	sections := g.Sections.All()

	// Section contents are laid out first so the ELF header's
	// section-header-table offset can be computed.
	offsets := make([]uint64, len(sections))
	cursor := uint64(ehdrSize + phdrSize*len(g.Segments))
	for i, s := range sections {
		size, err := s.Size()
		if err != nil {
			return &egerr.EmissionError{Stage: "section-size", Err: err}
		}
		if s.Header.Align > 1 {
			if rem := cursor % s.Header.Align; rem != 0 {
				cursor += s.Header.Align - rem
			}
		}
		offsets[i] = cursor
		cursor += uint64(size)
	}
	shoff := cursor

	if err := g.writeELFHeader(w, shoff, len(sections), shstrndx); err != nil {
		return &egerr.EmissionError{Stage: "elf-header", Err: err}
	}
	if err := g.writeProgramHeaders(w); err != nil {
		return &egerr.EmissionError{Stage: "program-headers", Err: err}
	}

	ordered, err := ResolveOrder(sectionsAsValues(sections))
	if err != nil {
		return err
	}
	contentByValue := make(map[DeferredValue]*Section2, len(sections))
	for _, s := range sections {
		contentByValue[s.Content] = s
	}

	written := uint64(ehdrSize + phdrSize*len(g.Segments))
	for _, v := range ordered {
		sec, ok := contentByValue[v]
		if !ok {
			continue
		}
		idx, _ := g.Sections.IndexOf(sec.Header.Name)
		target := offsets[idx]
		if err := padTo(w, &written, target); err != nil {
			return &egerr.EmissionError{Stage: "section-padding", Err: err}
		}
		n, err := sec.Content.WriteTo(w)
		if err != nil {
			return &egerr.EmissionError{Stage: "section-content:" + sec.Header.Name, Err: err}
		}
		written += uint64(n)
	}
	if err := padTo(w, &written, shoff); err != nil {
		return &egerr.EmissionError{Stage: "section-header-table-padding", Err: err}
	}

	for i, s := range sections {
		s.Header.Offset = offsets[i]
		if err := g.writeSectionHeader(w, s); err != nil {
			return &egerr.EmissionError{Stage: "section-header:" + s.Header.Name, Err: err}
		}
	}
	return nil
}

func sectionsAsValues(sections []*Section2) []DeferredValue {
	out := make([]DeferredValue, len(sections))
	for i, s := range sections {
		out[i] = s.Content
	}
	return out
}

func padTo(w io.Writer, written *uint64, target uint64) error {
	if *written > target {
		return errors.Errorf("generate: emission cursor 0x%x passed target 0x%x", *written, target)
	}
	if *written == target {
		return nil
	}
	pad := make([]byte, target-*written)
	n, err := w.Write(pad)
	*written += uint64(n)
	return err
}

func (g *Generator) writeELFHeader(w io.Writer, shoff uint64, numSections, shstrndx int) error {
	var hdr [ehdrSize]byte
	copy(hdr[0:4], []byte{0x7f, 'E', 'L', 'F'})
	hdr[4] = 2 // ELFCLASS64
	hdr[5] = 1 // ELFDATA2LSB
	hdr[6] = 1 // EV_CURRENT
	binary.LittleEndian.PutUint16(hdr[16:18], uint16(stdelf.ET_DYN))
	binary.LittleEndian.PutUint16(hdr[18:20], g.Target.ELFMachine())
	binary.LittleEndian.PutUint32(hdr[20:24], 1) // EV_CURRENT
	binary.LittleEndian.PutUint64(hdr[24:32], g.Entry)
	binary.LittleEndian.PutUint64(hdr[32:40], ehdrSize)
	binary.LittleEndian.PutUint64(hdr[40:48], shoff)
	binary.LittleEndian.PutUint16(hdr[52:54], ehdrSize)
	binary.LittleEndian.PutUint16(hdr[54:56], phdrSize)
	binary.LittleEndian.PutUint16(hdr[56:58], uint16(len(g.Segments)))
	binary.LittleEndian.PutUint16(hdr[58:60], shdrSize)
	binary.LittleEndian.PutUint16(hdr[60:62], uint16(numSections))
	binary.LittleEndian.PutUint16(hdr[62:64], uint16(shstrndx))
	_, err := w.Write(hdr[:])
	return err
}

func (g *Generator) writeProgramHeaders(w io.Writer) error {
	for _, seg := range g.Segments {
		var phdr [phdrSize]byte
		binary.LittleEndian.PutUint32(phdr[0:4], uint32(stdelf.PT_LOAD))
		binary.LittleEndian.PutUint32(phdr[4:8], seg.Flags)
		binary.LittleEndian.PutUint64(phdr[8:16], seg.Offset)
		binary.LittleEndian.PutUint64(phdr[16:24], seg.Vaddr)
		binary.LittleEndian.PutUint64(phdr[24:32], seg.Vaddr)
		binary.LittleEndian.PutUint64(phdr[32:40], seg.Filesz)
		binary.LittleEndian.PutUint64(phdr[40:48], seg.Memsz)
		binary.LittleEndian.PutUint64(phdr[48:56], 0x1000)
		if _, err := w.Write(phdr[:]); err != nil {
			return err
		}
	}
	return nil
}

func (g *Generator) writeSectionHeader(w io.Writer, s *Section2) error {
	size, err := s.Size()
	if err != nil {
		return err
	}
	var shdr [shdrSize]byte
	binary.LittleEndian.PutUint32(shdr[0:4], s.Header.NameIndex)
	binary.LittleEndian.PutUint32(shdr[4:8], uint32(s.Header.Type))
	binary.LittleEndian.PutUint64(shdr[8:16], uint64(s.Header.Flags))
	binary.LittleEndian.PutUint64(shdr[16:24], s.Header.Addr)
	binary.LittleEndian.PutUint64(shdr[24:32], s.Header.Offset)
	binary.LittleEndian.PutUint64(shdr[32:40], uint64(size))
	binary.LittleEndian.PutUint32(shdr[40:44], s.Header.Link.Index())
	binary.LittleEndian.PutUint32(shdr[44:48], s.Header.Info)
	binary.LittleEndian.PutUint64(shdr[48:56], s.Header.Align)
	binary.LittleEndian.PutUint64(shdr[56:64], s.Header.EntSize)
	_, err = w.Write(shdr[:])
	return err
}
