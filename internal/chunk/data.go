package chunk

import (
	"github.com/SleepyMug/egalito/internal/chunkid"
	"github.com/SleepyMug/egalito/internal/link"
)

// DataRegionList holds a Module's DataRegions (spec §3.1).
type DataRegionList struct {
	Base
}

func NewDataRegionList() *DataRegionList {
	l := &DataRegionList{}
	l.Init(l, chunkid.KindDataRegionList, "")
	l.SetPosition(RelativeToParent{Offset: 0})
	return l
}

func (l *DataRegionList) Accept(v Visitor) error { return v.VisitDataRegionList(l) }

func (l *DataRegionList) Regions() []*DataRegion {
	children := l.Children()
	out := make([]*DataRegion, 0, len(children))
	for _, c := range children {
		out = append(out, c.(*DataRegion))
	}
	return out
}

func (l *DataRegionList) AddRegion(r *DataRegion) { l.InsertChild(r) }

// DataRegion is a loadable segment's worth of initialized memory (spec
// §3.1), divided into named DataSections each holding DataVariables.
type DataRegion struct {
	Base
	// Writable/Executable mirror the segment's original protection flags.
	// Regeneration uses them to pick output section flags and to skip
	// executable regions; the sandbox does not read them.
	Writable   bool
	Executable bool
	// Raw holds the region's on-disk bytes as read from the source image
	// at load time (the file-backed prefix only; any remainder up to
	// Size is .bss-style zero fill). Regeneration copies this buffer
	// verbatim and then patches in each DataVariable's resolved link, so
	// a rebuilt image's data segments match the original except where a
	// relocation target actually moved (spec §6 "preserved data segments
	// with relocations resolved").
	Raw []byte
}

func NewDataRegion(name string, addr, size uint64) *DataRegion {
	r := &DataRegion{}
	r.Init(r, chunkid.KindDataRegion, name)
	r.SetPosition(Absolute{Addr: addr})
	r.SetSize(size)
	return r
}

func (r *DataRegion) Accept(v Visitor) error { return v.VisitDataRegion(r) }

func (r *DataRegion) Sections() []*DataSection {
	children := r.Children()
	out := make([]*DataSection, 0, len(children))
	for _, c := range children {
		out = append(out, c.(*DataSection))
	}
	return out
}

func (r *DataRegion) AddSection(s *DataSection) { r.InsertChild(s) }

// DataSection groups DataVariables sharing one ELF section (e.g. .data,
// .rodata, .bss) within a DataRegion.
type DataSection struct {
	Base
	// Zeroed marks a .bss-like section with no on-disk content.
	Zeroed bool
}

func NewDataSection(name string, offset int64, size uint64) *DataSection {
	s := &DataSection{}
	s.Init(s, chunkid.KindDataSection, name)
	s.SetPosition(RelativeToParent{Offset: offset})
	s.SetSize(size)
	return s
}

func (s *DataSection) Accept(v Visitor) error { return v.VisitDataSection(s) }

func (s *DataSection) Variables() []*DataVariable {
	children := s.Children()
	out := make([]*DataVariable, 0, len(children))
	for _, c := range children {
		out = append(out, c.(*DataVariable))
	}
	return out
}

func (s *DataSection) AddVariable(v *DataVariable) { s.InsertChild(v) }

// DataVariable is an offset inside a DataSection, optionally bound to a
// Link that determines the bytes stored there at emission time (spec
// §3.1, §4.3 phase 6 "Data pointer fixup").
type DataVariable struct {
	Base
	// RawValue is used when the variable is not bound to a Link (a plain
	// initialized scalar copied verbatim from the source image).
	RawValue []byte
	link     link.Link
}

func NewDataVariable(name string, offset int64, size uint64) *DataVariable {
	v := &DataVariable{}
	v.Init(v, chunkid.KindDataVariable, name)
	v.SetPosition(RelativeToParent{Offset: offset})
	v.SetSize(size)
	return v
}

func (v *DataVariable) Accept(vis Visitor) error { return vis.VisitDataVariable(v) }

func (v *DataVariable) Link() link.Link    { return v.link }
func (v *DataVariable) SetLink(l link.Link) { v.link = l }

// MarkerList holds a Module's synthetic named addresses (spec §3.1).
type MarkerList struct {
	Base
}

func NewMarkerList() *MarkerList {
	l := &MarkerList{}
	l.Init(l, chunkid.KindMarkerList, "")
	l.SetPosition(RelativeToParent{Offset: 0})
	return l
}

func (l *MarkerList) Accept(v Visitor) error { return v.VisitMarkerList(l) }

func (l *MarkerList) Markers() []*Marker {
	children := l.Children()
	out := make([]*Marker, 0, len(children))
	for _, c := range children {
		out = append(out, c.(*Marker))
	}
	return out
}

func (l *MarkerList) AddMarker(m *Marker) { l.InsertChild(m) }

// Marker is a synthetic named address, e.g. "_end" or a section boundary
// (spec §3.1).
type Marker struct {
	Base
}

func NewMarker(name string, addr uint64) *Marker {
	m := &Marker{}
	m.Init(m, chunkid.KindMarker, name)
	m.SetPosition(Absolute{Addr: addr})
	return m
}

func (m *Marker) Accept(v Visitor) error { return v.VisitMarker(m) }
