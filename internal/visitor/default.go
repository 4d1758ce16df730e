// Package visitor provides the default-recursive-descent building block
// for chunk.Visitor implementations (spec §4.4: "A Visitor declares
// per-variant visit(X) methods; the default descends into children").
//
// Go has no virtual dispatch through embedding, so a DefaultVisitor that
// simply called chunk.Descend(node, d) from its own promoted methods
// would recurse using itself, not the outer, possibly-overriding,
// visitor. DefaultVisitor instead holds an explicit Self reference:
// constructors of concrete visitors/passes must set Self to the outer
// value right after embedding DefaultVisitor, so descent always dispatches
// through the real (possibly overridden) Visitor.
package visitor

import "github.com/SleepyMug/egalito/internal/chunk"

// DefaultVisitor implements every chunk.Visitor method as "call Self's
// matching method, or the built-in default descent", and is meant to be
// embedded anonymously by concrete visitors and passes.
type DefaultVisitor struct {
	// Self must be set to the embedding visitor before use.
	Self chunk.Visitor
}

func (d *DefaultVisitor) self() chunk.Visitor {
	if d.Self != nil {
		return d.Self
	}
	return d
}

func (d *DefaultVisitor) VisitProgram(n *chunk.Program) error { return chunk.Descend(n, d.self()) }
func (d *DefaultVisitor) VisitLibraryList(n *chunk.LibraryList) error {
	return chunk.Descend(n, d.self())
}
func (d *DefaultVisitor) VisitLibrary(n *chunk.Library) error { return nil }
func (d *DefaultVisitor) VisitModule(n *chunk.Module) error   { return chunk.Descend(n, d.self()) }
func (d *DefaultVisitor) VisitFunctionList(n *chunk.FunctionList) error {
	return chunk.Descend(n, d.self())
}
func (d *DefaultVisitor) VisitFunction(n *chunk.Function) error { return chunk.Descend(n, d.self()) }
func (d *DefaultVisitor) VisitBlock(n *chunk.Block) error       { return chunk.Descend(n, d.self()) }
func (d *DefaultVisitor) VisitInstruction(n *chunk.Instruction) error { return nil }
func (d *DefaultVisitor) VisitPLTList(n *chunk.PLTList) error {
	return chunk.Descend(n, d.self())
}
func (d *DefaultVisitor) VisitPLTTrampoline(n *chunk.PLTTrampoline) error { return nil }
func (d *DefaultVisitor) VisitJumpTableList(n *chunk.JumpTableList) error {
	return chunk.Descend(n, d.self())
}
func (d *DefaultVisitor) VisitJumpTable(n *chunk.JumpTable) error {
	return chunk.Descend(n, d.self())
}
func (d *DefaultVisitor) VisitJumpTableEntry(n *chunk.JumpTableEntry) error { return nil }
func (d *DefaultVisitor) VisitDataRegionList(n *chunk.DataRegionList) error {
	return chunk.Descend(n, d.self())
}
func (d *DefaultVisitor) VisitDataRegion(n *chunk.DataRegion) error {
	return chunk.Descend(n, d.self())
}
func (d *DefaultVisitor) VisitDataSection(n *chunk.DataSection) error {
	return chunk.Descend(n, d.self())
}
func (d *DefaultVisitor) VisitDataVariable(n *chunk.DataVariable) error { return nil }
func (d *DefaultVisitor) VisitMarkerList(n *chunk.MarkerList) error {
	return chunk.Descend(n, d.self())
}
func (d *DefaultVisitor) VisitMarker(n *chunk.Marker) error { return nil }

var _ chunk.Visitor = (*DefaultVisitor)(nil)

// Pass is a Visitor used for mutation (spec §4.4). It is purely a naming
// alias — the contract is identical — kept so pass implementations read
// as "a Pass", not "a Visitor", at their call sites.
type Pass = chunk.Visitor

// Run applies a Pass to an entire Program.
func Run(p *chunk.Program, pass Pass) error {
	return p.Accept(pass)
}
