package generate

import (
	stdelf "debug/elf"
)

// SectionRef resolves to another section's index at emit time, used for
// sh_link/sh_info cross-references (spec §4.6 "link (a SectionRef
// resolving to another section's index at emit time)"; grounded on
// original_source's section.cpp/sectionlist.cpp, SUPPLEMENTED FEATURES
// item 3).
type SectionRef struct {
	list *SectionList
	name string
}

// Index resolves the reference against its owning list's current
// insertion order. Returns 0 (SHN_UNDEF) if the name is not present.
func (r SectionRef) Index() uint32 {
	if r.list == nil {
		return 0
	}
	idx, ok := r.list.IndexOf(r.name)
	if !ok {
		return 0
	}
	return uint32(idx)
}

// SectionHeader carries everything spec §4.6 lists: "ELF section type,
// flags, virtual address, file offset, size (= content size at emit
// time), link (a SectionRef...), info, alignment, entsize". Name is set
// by the constructor; NameIndex is filled in from the section-name string
// table by ensureShStrTab (shstrtab.go) before headers are written; Offset
// is filled in by the Generator once every earlier section's size is known.
type SectionHeader struct {
	Name      string
	NameIndex uint32
	Type      stdelf.SectionType
	Flags     stdelf.SectionFlag
	Addr      uint64
	Offset    uint64
	Link      SectionRef
	Info      uint32
	Align     uint64
	EntSize   uint64
}

// Section2 is a named output section: a SectionHeader plus a
// DeferredValue body (spec §4.6). This implementation carries no legacy
// "Section" type alongside it — Section2 is the only section model,
// resolving spec.md's stated open question (SUPPLEMENTED FEATURES
// item 3).
type Section2 struct {
	Header  SectionHeader
	Content DeferredValue
}

func NewSection2(name string, typ stdelf.SectionType, flags stdelf.SectionFlag, content DeferredValue) *Section2 {
	return &Section2{
		Header:  SectionHeader{Name: name, Type: typ, Flags: flags},
		Content: content,
	}
}

func (s *Section2) Size() (int, error)         { return s.Content.Size() }
func (s *Section2) DependsOn() []DeferredValue { return s.Content.DependsOn() }

// SectionList preserves insertion order and maps name to section and
// section to index (spec §4.6 "Preserves insertion order; maps name →
// section and section → index").
type SectionList struct {
	order   []*Section2
	byName  map[string]*Section2
	indices map[string]int
}

func NewSectionList() *SectionList {
	return &SectionList{byName: make(map[string]*Section2), indices: make(map[string]int)}
}

func (l *SectionList) Add(s *Section2) {
	l.indices[s.Header.Name] = len(l.order)
	l.order = append(l.order, s)
	l.byName[s.Header.Name] = s
}

func (l *SectionList) ByName(name string) (*Section2, bool) {
	s, ok := l.byName[name]
	return s, ok
}

func (l *SectionList) IndexOf(name string) (int, bool) {
	i, ok := l.indices[name]
	return i, ok
}

func (l *SectionList) All() []*Section2 { return l.order }

// RefTo constructs a SectionRef to name, resolved lazily against this
// list's current order (used for sh_link, e.g. .symtab's link to
// .strtab).
func (l *SectionList) RefTo(name string) SectionRef {
	return SectionRef{list: l, name: name}
}
