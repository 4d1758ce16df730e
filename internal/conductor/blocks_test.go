package conductor

import (
	stdelf "debug/elf"
	"testing"

	"github.com/SleepyMug/egalito/internal/chunk"
	"github.com/SleepyMug/egalito/internal/chunkid"
	"github.com/SleepyMug/egalito/internal/disasm"
	"github.com/SleepyMug/egalito/internal/elfmap"
	"github.com/SleepyMug/egalito/internal/isa"
	"github.com/SleepyMug/egalito/internal/link"
)

type fakeElfMap struct {
	elfmap.ElfMap
	syms []elfmap.Symbol
}

func (f fakeElfMap) Symbols() []elfmap.Symbol { return f.syms }

// buildIfElseInstructions models: cmp; je +2insns-ahead; <then-body>; jmp +end; <else-body>
// using synthetic x86-64-shaped instruction records rather than real decode.
func buildIfElseInstructions(base uint64) []disasm.Instruction {
	return []disasm.Instruction{
		{Address: base, Length: 4, Mnemonic: "TEST", Bytes: []byte{0x48, 0x85, 0xc0, 0x00}},
		{Address: base + 4, Length: 2, Mnemonic: "JE", Bytes: []byte{0x74, 0x04}, IsControlFlow: true, HasTarget: true, BranchTarget: base + 10},
		{Address: base + 6, Length: 4, Mnemonic: "CALL", Bytes: []byte{0xe8, 0, 0, 0}, IsControlFlow: true, HasTarget: true, BranchTarget: base + 100},
		{Address: base + 10, Length: 1, Mnemonic: "RET", Bytes: []byte{0xc3}},
	}
}

func TestSplitIntoBlocksCreatesLeaderAlignedBlocks(t *testing.T) {
	base := uint64(0x1000)
	fn := chunk.NewFunction("f", base, 11)
	insts := buildIfElseInstructions(base)
	em := fakeElfMap{syms: []elfmap.Symbol{{Name: "helper", Value: base + 100}}}

	blocks := splitIntoBlocks(fn, insts, em, isa.ArchX86_64, base, 11)
	// leaders: base (entry), base+6 (after JE), base+10 (branch target of JE)
	if len(blocks) != 3 {
		t.Fatalf("len(blocks) = %d; want 3", len(blocks))
	}
	if len(blocks[0].Instructions()) != 2 {
		t.Fatalf("block 0 holds %d instructions; want 2 (TEST, JE)", len(blocks[0].Instructions()))
	}
	if len(blocks[1].Instructions()) != 1 {
		t.Fatalf("block 1 holds %d instructions; want 1 (CALL)", len(blocks[1].Instructions()))
	}
	if len(blocks[2].Instructions()) != 1 {
		t.Fatalf("block 2 holds %d instructions; want 1 (RET)", len(blocks[2].Instructions()))
	}
}

func TestSplitIntoBlocksPromotesInRangeBranchToNormalLink(t *testing.T) {
	base := uint64(0x2000)
	fn := chunk.NewFunction("f", base, 11)
	insts := buildIfElseInstructions(base)
	em := fakeElfMap{syms: []elfmap.Symbol{{Name: "helper", Value: base + 100}}}

	blocks := splitIntoBlocks(fn, insts, em, isa.ArchX86_64, base, 11)
	je := blocks[0].Instructions()[1]
	lcf, ok := je.Semantic().(*link.LinkedControlFlow)
	if !ok {
		t.Fatalf("JE semantic = %T; want *link.LinkedControlFlow", je.Semantic())
	}
	if lcf.Kind != link.ControlJumpConditional {
		t.Fatalf("JE kind = %v; want ControlJumpConditional", lcf.Kind)
	}
	nl, ok := lcf.GetLink().(*link.NormalLink)
	if !ok {
		t.Fatalf("JE link = %T; want *link.NormalLink", lcf.GetLink())
	}
	if nl.To.Kind != chunkid.KindBlock || nl.To.ID != blocks[2].ID() {
		t.Fatalf("JE target = %+v; want block 2 (%v)", nl.To, blocks[2].ID())
	}
}

func TestSplitIntoBlocksResolvesOutOfRangeCallToSymbol(t *testing.T) {
	base := uint64(0x3000)
	fn := chunk.NewFunction("f", base, 11)
	insts := buildIfElseInstructions(base)
	em := fakeElfMap{syms: []elfmap.Symbol{{Name: "helper", Value: base + 100, Type: stdelf.STT_FUNC}}}

	blocks := splitIntoBlocks(fn, insts, em, isa.ArchX86_64, base, 11)
	call := blocks[1].Instructions()[0]
	lcf, ok := call.Semantic().(*link.LinkedControlFlow)
	if !ok {
		t.Fatalf("CALL semantic = %T; want *link.LinkedControlFlow", call.Semantic())
	}
	sym, ok := lcf.GetLink().(*link.SymbolOnlyLink)
	if !ok {
		t.Fatalf("CALL link = %T; want *link.SymbolOnlyLink", lcf.GetLink())
	}
	if sym.Symbol != "helper" {
		t.Fatalf("CALL link symbol = %q; want helper", sym.Symbol)
	}
}
