package chunk

import (
	"github.com/SleepyMug/egalito/internal/chunkid"
	"github.com/SleepyMug/egalito/internal/link"
)

// PLTList holds a Module's PLTTrampolines (spec §3.1).
type PLTList struct {
	Base
}

func NewPLTList() *PLTList {
	l := &PLTList{}
	l.Init(l, chunkid.KindPLTList, "")
	l.SetPosition(RelativeToParent{Offset: 0})
	return l
}

func (l *PLTList) Accept(v Visitor) error { return v.VisitPLTList(l) }

func (l *PLTList) Trampolines() []*PLTTrampoline {
	children := l.Children()
	out := make([]*PLTTrampoline, 0, len(children))
	for _, c := range children {
		out = append(out, c.(*PLTTrampoline))
	}
	return out
}

func (l *PLTList) AddTrampoline(t *PLTTrampoline) { l.InsertChild(t) }

// PLTTrampoline is a stub resolving one external symbol (spec §3.1). Its
// own outbound Link names the dynamic symbol it resolves to, independent
// of whatever PLTLinks point at the trampoline itself (spec §4.3 phase 1).
type PLTTrampoline struct {
	Base
	ExternalSymbol string
	externalLink   link.Link
}

func NewPLTTrampoline(name, externalSymbol string) *PLTTrampoline {
	t := &PLTTrampoline{ExternalSymbol: externalSymbol}
	t.Init(t, chunkid.KindPLTTrampoline, name)
	t.SetPosition(AfterPreviousSibling{})
	return t
}

func (t *PLTTrampoline) Accept(v Visitor) error { return v.VisitPLTTrampoline(t) }

func (t *PLTTrampoline) ExternalLink() link.Link     { return t.externalLink }
func (t *PLTTrampoline) SetExternalLink(l link.Link) { t.externalLink = l }

// JumpTableList holds a Module's JumpTables (spec §3.1).
type JumpTableList struct {
	Base
}

func NewJumpTableList() *JumpTableList {
	l := &JumpTableList{}
	l.Init(l, chunkid.KindJumpTableList, "")
	l.SetPosition(RelativeToParent{Offset: 0})
	return l
}

func (l *JumpTableList) Accept(v Visitor) error { return v.VisitJumpTableList(l) }

func (l *JumpTableList) Tables() []*JumpTable {
	children := l.Children()
	out := make([]*JumpTable, 0, len(children))
	for _, c := range children {
		out = append(out, c.(*JumpTable))
	}
	return out
}

func (l *JumpTableList) AddTable(t *JumpTable) { l.InsertChild(t) }

// JumpTable describes a computed-branch dispatch: an ordered set of
// JumpTableEntries, each a NormalLink to a branch target (spec §3.1).
type JumpTable struct {
	Base
	// EntrySize is the byte width of each entry (4 for a rel32 table, 8
	// for an absolute-pointer table).
	EntrySize uint64
}

func NewJumpTable(name string, addr uint64, entrySize uint64) *JumpTable {
	t := &JumpTable{EntrySize: entrySize}
	t.Init(t, chunkid.KindJumpTable, name)
	t.SetPosition(Absolute{Addr: addr})
	return t
}

func (t *JumpTable) Accept(v Visitor) error { return v.VisitJumpTable(t) }

func (t *JumpTable) Entries() []*JumpTableEntry {
	children := t.Children()
	out := make([]*JumpTableEntry, 0, len(children))
	for _, c := range children {
		out = append(out, c.(*JumpTableEntry))
	}
	return out
}

func (t *JumpTable) AddEntry(e *JumpTableEntry) { t.InsertChild(e) }

// JumpTableEntry is one slot of a JumpTable, linked to its branch target.
type JumpTableEntry struct {
	Base
	target link.Link
}

func NewJumpTableEntry(index int, entrySize uint64) *JumpTableEntry {
	e := &JumpTableEntry{}
	e.Init(e, chunkid.KindJumpTableEntry, "")
	e.SetPosition(RelativeToParent{Offset: int64(index) * int64(entrySize)})
	e.SetSize(entrySize)
	return e
}

func (e *JumpTableEntry) Accept(v Visitor) error { return v.VisitJumpTableEntry(e) }

func (e *JumpTableEntry) Target() link.Link     { return e.target }
func (e *JumpTableEntry) SetTarget(l link.Link) { e.target = l }
