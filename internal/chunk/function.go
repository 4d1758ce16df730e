package chunk

import (
	"github.com/SleepyMug/egalito/internal/chunkid"
	"github.com/SleepyMug/egalito/internal/link"
)

// Function has a symbolic name, address, and size, and contains an
// ordered sequence of Blocks (spec §3.1).
type Function struct {
	Base
	// Alignment is the byte alignment the sandbox must honor when it
	// assigns this function a fresh address (spec §4.5 step 1).
	Alignment uint64
	// Symbolic marks whether the name came from a real symbol table entry
	// versus a heuristic (spec §4.3 "Builds Functions from the symbol
	// table... or from heuristics when symbols are absent").
	Symbolic bool
}

func NewFunction(name string, addr, size uint64) *Function {
	f := &Function{Alignment: 1}
	f.Init(f, chunkid.KindFunction, name)
	f.SetPosition(Absolute{Addr: addr})
	f.SetSize(size)
	return f
}

func (f *Function) Accept(v Visitor) error { return v.VisitFunction(f) }

func (f *Function) Blocks() []*Block {
	children := f.Children()
	out := make([]*Block, 0, len(children))
	for _, c := range children {
		out = append(out, c.(*Block))
	}
	return out
}

func (f *Function) AddBlock(b *Block) { f.InsertChild(b) }

// Block is a basic block: single-entry, single-exit under normal control
// flow (spec §3.1), containing an ordered sequence of Instructions.
type Block struct {
	Base
}

func NewBlock(name string) *Block {
	b := &Block{}
	b.Init(b, chunkid.KindBlock, name)
	b.SetPosition(AfterPreviousSibling{})
	return b
}

func (b *Block) Accept(v Visitor) error { return v.VisitBlock(b) }

func (b *Block) Instructions() []*Instruction {
	children := b.Children()
	out := make([]*Instruction, 0, len(children))
	for _, c := range children {
		out = append(out, c.(*Instruction))
	}
	return out
}

func (b *Block) AddInstruction(i *Instruction) { b.InsertChild(i) }

// InsertInstructionAt inserts an instruction at a specific position among
// its siblings, used by passes that splice in new code (spec §4.4:
// nop-insertion, logging instrumentation).
func (b *Block) InsertInstructionAt(i int, instr *Instruction) {
	b.InsertChildAt(i, instr)
}

// Instruction is a leaf chunk owning exactly one Semantic (spec §3.2).
type Instruction struct {
	Base
	semantic link.Semantic
}

func NewInstruction(name string, semantic link.Semantic) *Instruction {
	i := &Instruction{semantic: semantic}
	i.Init(i, chunkid.KindInstruction, name)
	i.SetPosition(AfterPreviousSibling{})
	if semantic != nil {
		i.SetSize(uint64(semantic.Size()))
	}
	return i
}

func (i *Instruction) Accept(v Visitor) error { return v.VisitInstruction(i) }

func (i *Instruction) Semantic() link.Semantic { return i.semantic }

// SetSemantic replaces the instruction's semantic and resyncs its cached
// size, which is what lets later siblings' lazily-computed addresses pick
// up the change (spec §4.4: "Size changes to instructions propagate via
// the lazy-recompute mechanism; no pass patches addresses directly").
func (i *Instruction) SetSemantic(s link.Semantic) {
	i.semantic = s
	i.SetSize(uint64(s.Size()))
}

// RefreshSize recomputes the cached size from the current semantic,
// called by the sandbox's layout fixpoint after a Widen() (spec §4.5).
func (i *Instruction) RefreshSize() {
	if i.semantic != nil {
		i.SetSize(uint64(i.semantic.Size()))
	}
}
