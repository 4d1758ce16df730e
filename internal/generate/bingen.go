package generate

import "io"

// BinGen emits a flat memory image: no ELF header, no program headers,
// just loadable segment contents at their final addresses with
// zero-fills between (spec §4.6 "BinGen (flat-binary output). Skips
// headers, emits only loadable segment contents at their absolute
// addresses with zero-fills between, producing a memory image suitable
// for loading at a fixed base").
type BinGen struct {
	Segments []Segment
	Sections *SectionList
}

// Emit writes the flat image to w, starting at the lowest segment's
// Vaddr. Segments must be given in ascending Vaddr order; overlapping
// or descending segments are a caller error and produce a negative
// pad, which Emit reports.
func (g *BinGen) Emit(w io.Writer) error {
	if len(g.Segments) == 0 {
		return nil
	}
	base := g.Segments[0].Vaddr
	written := uint64(0)

	contentBySection := make(map[string]*Section2, len(g.Sections.All()))
	for _, s := range g.Sections.All() {
		contentBySection[s.Header.Name] = s
	}

	for _, seg := range g.Segments {
		if err := padTo(w, &written, seg.Vaddr-base); err != nil {
			return err
		}
		segWritten := uint64(0)
		for _, s := range g.Sections.All() {
			if s.Header.Addr < seg.Vaddr || s.Header.Addr >= seg.Vaddr+seg.Memsz {
				continue
			}
			offsetInSeg := s.Header.Addr - seg.Vaddr
			if err := padTo(w, &segWritten, offsetInSeg); err != nil {
				return err
			}
			n, err := s.Content.WriteTo(w)
			if err != nil {
				return err
			}
			segWritten += uint64(n)
		}
		if err := padTo(w, &segWritten, seg.Memsz); err != nil {
			return err
		}
		written += segWritten
	}
	return nil
}
