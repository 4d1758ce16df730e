package conductor

import (
	"testing"

	"github.com/SleepyMug/egalito/internal/binfmt"
	"github.com/SleepyMug/egalito/internal/chunk"
	"github.com/SleepyMug/egalito/internal/isa"
	"github.com/SleepyMug/egalito/internal/link"
)

func newTestConductor() *Conductor {
	return New(binfmt.Target{Arch: isa.ArchX86_64, OS: binfmt.OSLinux})
}

func TestResolvePLTReplacesSymbolOnlyLink(t *testing.T) {
	c := newTestConductor()
	mod := chunk.NewModule("main", 0x1000)
	c.Program.AddModule(mod)

	tramp := chunk.NewPLTTrampoline("malloc@plt", "malloc")
	mod.PLTs().AddTrampoline(tramp)

	fn := chunk.NewFunction("caller", 0x2000, 16)
	block := chunk.NewBlock("b0")
	fn.AddBlock(block)
	sem := &link.LinkedControlFlow{Arch: isa.ArchX86_64, Kind: link.ControlCall}
	sem.SetLink(&link.SymbolOnlyLink{Symbol: "malloc"})
	block.AddInstruction(chunk.NewInstruction("", sem))
	mod.Functions().AddFunction(fn, 0x2000)

	c.Program.RebuildIndex()
	if err := c.resolvePLT(); err != nil {
		t.Fatalf("resolvePLT: %v", err)
	}

	pltLink, ok := sem.GetLink().(*link.PLTLink)
	if !ok {
		t.Fatalf("expected PLTLink after resolution, got %T", sem.GetLink())
	}
	if !pltLink.Resolved() {
		t.Fatalf("expected resolved PLTLink")
	}
	if pltLink.Trampoline.ID != tramp.ID() {
		t.Fatalf("PLTLink points at wrong trampoline: got %v want %v", pltLink.Trampoline.ID, tramp.ID())
	}
	if tramp.ExternalLink() == nil {
		t.Fatalf("trampoline should carry its own outbound link to the dynamic symbol")
	}
}

func TestResolvePLTIsIdempotent(t *testing.T) {
	c := newTestConductor()
	mod := chunk.NewModule("main", 0x1000)
	c.Program.AddModule(mod)
	tramp := chunk.NewPLTTrampoline("free@plt", "free")
	mod.PLTs().AddTrampoline(tramp)
	fn := chunk.NewFunction("caller", 0x2000, 16)
	block := chunk.NewBlock("b0")
	fn.AddBlock(block)
	sem := &link.LinkedControlFlow{Arch: isa.ArchX86_64, Kind: link.ControlCall}
	sem.SetLink(&link.SymbolOnlyLink{Symbol: "free"})
	block.AddInstruction(chunk.NewInstruction("", sem))
	mod.Functions().AddFunction(fn, 0x2000)
	c.Program.RebuildIndex()

	if err := c.resolvePLT(); err != nil {
		t.Fatalf("first resolvePLT: %v", err)
	}
	first := sem.GetLink()
	if err := c.resolvePLT(); err != nil {
		t.Fatalf("second resolvePLT: %v", err)
	}
	if sem.GetLink() != first {
		t.Fatalf("resolvePLT should leave an already-resolved PLTLink untouched")
	}
}

func TestResolveWeakSymbolPrefersFirstStrongDefinition(t *testing.T) {
	c := newTestConductor()
	mod := chunk.NewModule("main", 0x1000)
	c.Program.AddModule(mod)

	strong := chunk.NewFunction("pthread_create", 0x3000, 32)
	strong.Symbolic = true
	mod.Functions().AddFunction(strong, 0x3000)

	caller := chunk.NewFunction("caller", 0x2000, 16)
	block := chunk.NewBlock("b0")
	caller.AddBlock(block)
	sem := &link.LinkedControlFlow{Arch: isa.ArchX86_64, Kind: link.ControlCall}
	sem.SetLink(&link.SymbolOnlyLink{Symbol: "pthread_create", Weak: true})
	block.AddInstruction(chunk.NewInstruction("", sem))
	mod.Functions().AddFunction(caller, 0x2000)

	c.Program.RebuildIndex()
	if err := c.resolveWeakSymbols(); err != nil {
		t.Fatalf("resolveWeakSymbols: %v", err)
	}

	normal, ok := sem.GetLink().(*link.NormalLink)
	if !ok {
		t.Fatalf("expected NormalLink, got %T", sem.GetLink())
	}
	if normal.To.ID != strong.ID() {
		t.Fatalf("weak symbol resolved to wrong function")
	}
}

func TestResolveWeakSymbolLeavesUnresolvedWhenNoStrongDefinition(t *testing.T) {
	c := newTestConductor()
	mod := chunk.NewModule("main", 0x1000)
	c.Program.AddModule(mod)
	caller := chunk.NewFunction("caller", 0x2000, 16)
	block := chunk.NewBlock("b0")
	caller.AddBlock(block)
	sem := &link.LinkedControlFlow{Arch: isa.ArchX86_64, Kind: link.ControlCall}
	sem.SetLink(&link.SymbolOnlyLink{Symbol: "nowhere", Weak: true})
	block.AddInstruction(chunk.NewInstruction("", sem))
	mod.Functions().AddFunction(caller, 0x2000)
	c.Program.RebuildIndex()

	if err := c.resolveWeakSymbols(); err != nil {
		t.Fatalf("resolveWeakSymbols: %v", err)
	}
	if _, ok := sem.GetLink().(*link.SymbolOnlyLink); !ok {
		t.Fatalf("expected link to remain a documented unresolved SymbolOnlyLink, got %T", sem.GetLink())
	}
}

func TestResolveDataPointersRewritesOffsetLinks(t *testing.T) {
	c := newTestConductor()
	mod := chunk.NewModule("main", 0x1000)
	c.Program.AddModule(mod)

	region := chunk.NewDataRegion("region0", 0x4000, 0x100)
	mod.DataRegions().AddRegion(region)
	sec := chunk.NewDataSection(".data", 0, 0x40)
	region.AddSection(sec)
	v := chunk.NewDataVariable("g_counter", 0x8, 8)
	v.SetLink(&link.SymbolOnlyLink{Symbol: "g_counter"})
	sec.AddVariable(v)

	c.Program.RebuildIndex()
	if err := c.resolveDataPointers(); err != nil {
		t.Fatalf("resolveDataPointers: %v", err)
	}

	dataLink, ok := v.Link().(*link.DataOffsetLink)
	if !ok {
		t.Fatalf("expected DataOffsetLink, got %T", v.Link())
	}
	if dataLink.Offset != 0x8 {
		t.Fatalf("expected offset 0x8, got 0x%x", dataLink.Offset)
	}
	if dataLink.Region.ID != region.ID() {
		t.Fatalf("DataOffsetLink points at wrong region")
	}
}

func TestResolveRunsPhasesInOrderAndMarksDone(t *testing.T) {
	c := newTestConductor()
	mod := chunk.NewModule("main", 0x1000)
	c.Program.AddModule(mod)
	c.Program.RebuildIndex()

	c.Resolve()
	for _, phase := range phaseOrder {
		if !c.donePhases[phase] {
			t.Fatalf("phase %s not marked done after Resolve", phase)
		}
	}

	// Resolve again: every phase should be skipped (idempotent re-entry),
	// so no additional diagnostics should appear for an already-clean tree.
	before := len(c.Diagnostics())
	c.Resolve()
	if len(c.Diagnostics()) != before {
		t.Fatalf("re-running Resolve on a clean tree should not add diagnostics")
	}
}

func TestAcceptInAllModulesRespectsFrameworkSelfFlag(t *testing.T) {
	c := newTestConductor()
	main := chunk.NewModule("main", 0x1000)
	self := chunk.NewModule("egalito-self", 0x5000)
	self.IsFrameworkSelf = true
	c.Program.AddModule(main)
	c.Program.AddModule(self)
	c.Program.RebuildIndex()

	visited := map[string]bool{}
	visitor := &recordingVisitor{visited: visited}

	if err := c.AcceptInAllModules(visitor, false); err != nil {
		t.Fatalf("AcceptInAllModules: %v", err)
	}
	if _, ok := visited["main"]; !ok {
		t.Fatalf("expected main module to be visited")
	}
	if _, ok := visited["egalito-self"]; ok {
		t.Fatalf("framework-self module should not be visited when includeFrameworkSelf=false")
	}

	visited = map[string]bool{}
	visitor.visited = visited
	if err := c.AcceptInAllModules(visitor, true); err != nil {
		t.Fatalf("AcceptInAllModules: %v", err)
	}
	if _, ok := visited["egalito-self"]; !ok {
		t.Fatalf("framework-self module should be visited when includeFrameworkSelf=true")
	}
}

// recordingVisitor only needs VisitModule to exercise
// AcceptInAllModules; it embeds nothing because chunk.Visitor close the
// variant set, so every method must be implemented explicitly here with
// the uninteresting ones as pass-throughs.
type recordingVisitor struct {
	visited map[string]bool
}

func (r *recordingVisitor) VisitProgram(n *chunk.Program) error { return nil }
func (r *recordingVisitor) VisitLibraryList(n *chunk.LibraryList) error { return nil }
func (r *recordingVisitor) VisitLibrary(n *chunk.Library) error { return nil }
func (r *recordingVisitor) VisitModule(n *chunk.Module) error {
	r.visited[n.Name()] = true
	return nil
}
func (r *recordingVisitor) VisitFunctionList(n *chunk.FunctionList) error       { return nil }
func (r *recordingVisitor) VisitFunction(n *chunk.Function) error              { return nil }
func (r *recordingVisitor) VisitBlock(n *chunk.Block) error                    { return nil }
func (r *recordingVisitor) VisitInstruction(n *chunk.Instruction) error        { return nil }
func (r *recordingVisitor) VisitPLTList(n *chunk.PLTList) error                { return nil }
func (r *recordingVisitor) VisitPLTTrampoline(n *chunk.PLTTrampoline) error    { return nil }
func (r *recordingVisitor) VisitJumpTableList(n *chunk.JumpTableList) error    { return nil }
func (r *recordingVisitor) VisitJumpTable(n *chunk.JumpTable) error            { return nil }
func (r *recordingVisitor) VisitJumpTableEntry(n *chunk.JumpTableEntry) error  { return nil }
func (r *recordingVisitor) VisitDataRegionList(n *chunk.DataRegionList) error  { return nil }
func (r *recordingVisitor) VisitDataRegion(n *chunk.DataRegion) error          { return nil }
func (r *recordingVisitor) VisitDataSection(n *chunk.DataSection) error       { return nil }
func (r *recordingVisitor) VisitDataVariable(n *chunk.DataVariable) error     { return nil }
func (r *recordingVisitor) VisitMarkerList(n *chunk.MarkerList) error         { return nil }
func (r *recordingVisitor) VisitMarker(n *chunk.Marker) error                 { return nil }
