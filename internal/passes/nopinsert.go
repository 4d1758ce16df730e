package passes

import (
	"github.com/SleepyMug/egalito/internal/chunk"
	"github.com/SleepyMug/egalito/internal/isa"
	"github.com/SleepyMug/egalito/internal/link"
	"github.com/SleepyMug/egalito/internal/visitor"
)

// InsertNOPs splices count single no-op instructions into block at
// position i, the simplest demonstration of the mutation contract (spec
// §4.4 pass corpus: "nop inserter"; rule: "A pass may create new chunks;
// it must set their parent and position before returning control" —
// InsertInstructionAt does both via Base.InsertChild).
func InsertNOPs(arch isa.Arch, block *chunk.Block, at, count int) {
	for n := 0; n < count; n++ {
		nop := chunk.NewInstruction("nop", &link.RawBytes{Bytes: arch.NOPBytes()})
		block.InsertInstructionAt(at+n, nop)
	}
}

// NOPInserterPass pads every block's entry with Count no-ops, the
// policy the shell's nop-inserter command drives.
type NOPInserterPass struct {
	visitor.DefaultVisitor
	Arch  isa.Arch
	Count int
}

func NewNOPInserterPass(arch isa.Arch, count int) *NOPInserterPass {
	p := &NOPInserterPass{Arch: arch, Count: count}
	p.Self = p
	return p
}

func (p *NOPInserterPass) VisitBlock(b *chunk.Block) error {
	InsertNOPs(p.Arch, b, 0, p.Count)
	return nil
}

var _ chunk.Visitor = (*NOPInserterPass)(nil)
