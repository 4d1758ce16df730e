package chunk

import "github.com/SleepyMug/egalito/internal/chunkid"

// Program is the root of the chunk tree: one per conductor session,
// holding every loaded Module plus the LibraryList (spec §3.1).
type Program struct {
	Base
	idx *index
}

func NewProgram() *Program {
	p := &Program{}
	p.Init(p, chunkid.KindProgram, "")
	p.SetPosition(Absolute{Addr: 0})
	lib := NewLibraryList()
	p.InsertChild(lib)
	return p
}

func (p *Program) Accept(v Visitor) error { return v.VisitProgram(p) }

// Libraries returns the Program's LibraryList child.
func (p *Program) Libraries() *LibraryList {
	for _, c := range p.Children() {
		if ll, ok := c.(*LibraryList); ok {
			return ll
		}
	}
	return nil
}

// Modules returns every Module child, in insertion order.
func (p *Program) Modules() []*Module {
	var mods []*Module
	for _, c := range p.Children() {
		if m, ok := c.(*Module); ok {
			mods = append(mods, m)
		}
	}
	return mods
}

// AddModule appends a Module to the Program.
func (p *Program) AddModule(m *Module) { p.InsertChild(m) }

// ModuleByName resolves a Module by its name (spec.md's Module "one per
// loaded ELF", typically the shared-object soname or the main executable
// path).
func (p *Program) ModuleByName(name string) (*Module, bool) {
	n, ok := p.ChildByName(name)
	if !ok {
		return nil, false
	}
	m, ok := n.(*Module)
	return m, ok
}

// LibraryList holds the Library entries discovered via DT_NEEDED.
type LibraryList struct {
	Base
}

func NewLibraryList() *LibraryList {
	l := &LibraryList{}
	l.Init(l, chunkid.KindLibraryList, "")
	l.SetPosition(RelativeToParent{Offset: 0})
	return l
}

func (l *LibraryList) Accept(v Visitor) error { return v.VisitLibraryList(l) }

func (l *LibraryList) Libraries() []*Library {
	var out []*Library
	for _, c := range l.Children() {
		if lib, ok := c.(*Library); ok {
			out = append(out, lib)
		}
	}
	return out
}

func (l *LibraryList) AddLibrary(lib *Library) { l.InsertChild(lib) }

// Library is a discovered shared-library dependency (DT_NEEDED/DT_SONAME)
// that has not necessarily been loaded into its own Module yet.
type Library struct {
	Base
	SOName string
	Path   string
}

func NewLibrary(soname string) *Library {
	l := &Library{SOName: soname}
	l.Init(l, chunkid.KindLibrary, soname)
	l.SetPosition(RelativeToParent{Offset: 0})
	return l
}

func (l *Library) Accept(v Visitor) error { return v.VisitLibrary(l) }

// Module is the IR representation of one loaded ELF image (spec §3.1).
type Module struct {
	Base
	// IsFrameworkSelf marks the module as the framework's own loaded
	// image, consulted by Conductor.AcceptInAllModules (spec §4.3,
	// SPEC_FULL.md SUPPLEMENTED FEATURES item 2).
	IsFrameworkSelf bool
	// TLSOffset is the module's known thread-local-storage base offset,
	// used when resolving TLSDataOffsetLinks (spec §4.3 phase 2).
	TLSOffset int64
}

func NewModule(name string, baseAddr uint64) *Module {
	m := &Module{}
	m.Init(m, chunkid.KindModule, name)
	m.SetPosition(Absolute{Addr: baseAddr})
	m.InsertChild(NewFunctionList())
	m.InsertChild(NewPLTList())
	m.InsertChild(NewJumpTableList())
	m.InsertChild(NewDataRegionList())
	m.InsertChild(NewMarkerList())
	return m
}

func (m *Module) Accept(v Visitor) error { return v.VisitModule(m) }

func (m *Module) list(kind chunkid.Kind) Node {
	for _, c := range m.Children() {
		if c.Kind() == kind {
			return c
		}
	}
	return nil
}

func (m *Module) Functions() *FunctionList {
	if n := m.list(chunkid.KindFunctionList); n != nil {
		return n.(*FunctionList)
	}
	return nil
}

func (m *Module) PLTs() *PLTList {
	if n := m.list(chunkid.KindPLTList); n != nil {
		return n.(*PLTList)
	}
	return nil
}

func (m *Module) JumpTables() *JumpTableList {
	if n := m.list(chunkid.KindJumpTableList); n != nil {
		return n.(*JumpTableList)
	}
	return nil
}

func (m *Module) DataRegions() *DataRegionList {
	if n := m.list(chunkid.KindDataRegionList); n != nil {
		return n.(*DataRegionList)
	}
	return nil
}

func (m *Module) Markers() *MarkerList {
	if n := m.list(chunkid.KindMarkerList); n != nil {
		return n.(*MarkerList)
	}
	return nil
}

// FunctionList holds a Module's Functions ordered by address (spec §3.1).
type FunctionList struct {
	Base
}

func NewFunctionList() *FunctionList {
	f := &FunctionList{}
	f.Init(f, chunkid.KindFunctionList, "")
	f.SetPosition(RelativeToParent{Offset: 0})
	return f
}

func (f *FunctionList) Accept(v Visitor) error { return v.VisitFunctionList(f) }

func (f *FunctionList) Functions() []*Function {
	children := f.Children()
	out := make([]*Function, 0, len(children))
	for _, c := range children {
		out = append(out, c.(*Function))
	}
	return out
}

// AddFunction inserts fn keeping the list ordered by address (spec §3.1
// "Ordered by address"; §4.1 "for ordered children... triggers reindex").
// Functions positioned AfterPreviousSibling report their address lazily,
// so ordering uses the caller-supplied addr hint rather than re-deriving
// it recursively mid-insert.
func (f *FunctionList) AddFunction(fn *Function, addrHint uint64) {
	children := f.Children()
	i := 0
	for ; i < len(children); i++ {
		existing := children[i].(*Function)
		a, err := existing.Address()
		if err != nil || a > addrHint {
			break
		}
	}
	f.InsertChildAt(i, fn)
}
