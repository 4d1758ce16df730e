package conductor

import (
	"fmt"
	"sort"

	stdelf "debug/elf"

	"github.com/SleepyMug/egalito/internal/chunk"
	"github.com/SleepyMug/egalito/internal/chunkid"
	"github.com/SleepyMug/egalito/internal/disasm"
	"github.com/SleepyMug/egalito/internal/elfmap"
	"github.com/SleepyMug/egalito/internal/isa"
	"github.com/SleepyMug/egalito/internal/link"
)

// splitIntoBlocks divides a function's decoded instruction stream into
// basic blocks at control-flow boundaries (spec §3.1: "Basic block
// (single-entry, single-exit under normal control flow)") and promotes
// direct calls/jumps/conditional-branches into LinkedControlFlow semantics
// pointing at the destination Block, so cfgdot and the layout fixpoint see
// real intra-function edges instead of opaque disassembled bytes.
//
// A direct control-transfer whose target falls outside the function is
// resolved against em's symbol table when possible (the common case: a
// call to another function in the same module); anything that resolves to
// neither a local block nor a named symbol is left as a plain Disassembled
// instruction, same as an indirect call/jump.
func splitIntoBlocks(fn *chunk.Function, insts []disasm.Instruction, em elfmap.ElfMap, arch isa.Arch, funcAddr, funcSize uint64) []*chunk.Block {
	leaders := computeLeaders(insts, funcAddr, funcSize)
	blocks := make([]*chunk.Block, len(leaders))
	blockByAddr := make(map[uint64]*chunk.Block, len(leaders))
	for i, addr := range leaders {
		b := chunk.NewBlock(fmt.Sprintf("%s.b%d", fn.Name(), i))
		blocks[i] = b
		blockByAddr[addr] = b
	}

	symByAddr := symbolsByAddress(em)

	li := 0
	for _, inst := range insts {
		for li+1 < len(leaders) && inst.Address >= leaders[li+1] {
			li++
		}
		instr := chunk.NewInstruction("", semanticFor(inst, arch, funcAddr, funcSize, blockByAddr, symByAddr))
		blocks[li].AddInstruction(instr)
	}
	return blocks
}

// computeLeaders returns the sorted, deduplicated set of block-starting
// addresses: the function entry, the instruction immediately following
// every control-flow instruction, and every in-range branch target.
func computeLeaders(insts []disasm.Instruction, funcAddr, funcSize uint64) []uint64 {
	set := map[uint64]bool{funcAddr: true}
	end := funcAddr + funcSize
	for _, inst := range insts {
		if !inst.IsControlFlow {
			continue
		}
		if next := inst.Address + uint64(inst.Length); next < end {
			set[next] = true
		}
		if inst.HasTarget && inst.BranchTarget >= funcAddr && inst.BranchTarget < end {
			set[inst.BranchTarget] = true
		}
	}
	out := make([]uint64, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func semanticFor(inst disasm.Instruction, arch isa.Arch, funcAddr, funcSize uint64, blockByAddr map[uint64]*chunk.Block, symByAddr map[uint64]string) link.Semantic {
	if !inst.IsControlFlow || !inst.HasTarget {
		return &link.Disassembled{Bytes: inst.Bytes, Mnemonic: inst.Mnemonic, Operands: inst.Operands}
	}

	sem := &link.LinkedControlFlow{Arch: arch, Kind: classifyKind(inst.Mnemonic), Width: widthFor(inst)}

	end := funcAddr + funcSize
	if inst.BranchTarget >= funcAddr && inst.BranchTarget < end {
		if target, ok := blockByAddr[inst.BranchTarget]; ok {
			sem.SetLink(&link.NormalLink{To: chunkid.Ref{ID: target.ID(), Kind: chunkid.KindBlock}})
			return sem
		}
	}
	if name, ok := symByAddr[inst.BranchTarget]; ok {
		sem.SetLink(&link.SymbolOnlyLink{Symbol: name})
		return sem
	}
	// Neither a local block nor a known symbol (e.g. a bare PLT-stub
	// address with no matching symbol-table entry): keep the original
	// bytes rather than emit a link with no resolvable target.
	return &link.Disassembled{Bytes: inst.Bytes, Mnemonic: inst.Mnemonic, Operands: inst.Operands}
}

func classifyKind(mnemonic string) link.ControlKind {
	switch mnemonic {
	case "CALL", "BL", "BLR":
		return link.ControlCall
	case "JMP", "B":
		return link.ControlJump
	default:
		return link.ControlJumpConditional
	}
}

func widthFor(inst disasm.Instruction) link.BranchWidth {
	if inst.Length <= 2 {
		return link.WidthShort
	}
	return link.WidthLong
}

func symbolsByAddress(em elfmap.ElfMap) map[uint64]string {
	out := make(map[uint64]string)
	for _, sym := range em.Symbols() {
		if sym.Type != stdelf.STT_FUNC || sym.Name == "" {
			continue
		}
		if _, exists := out[sym.Value]; !exists {
			out[sym.Value] = sym.Name
		}
	}
	return out
}
