package passes

import (
	"testing"

	"github.com/SleepyMug/egalito/internal/chunk"
	"github.com/SleepyMug/egalito/internal/isa"
	"github.com/SleepyMug/egalito/internal/link"
)

func buildFunctionWithCall(arch isa.Arch) (*chunk.Function, *chunk.Block) {
	fn := chunk.NewFunction("f", 0x1000, 0)
	block := chunk.NewBlock("b0")
	fn.AddBlock(block)
	call := chunk.NewInstruction("call", &link.LinkedControlFlow{Arch: arch, Kind: link.ControlCall})
	call.Semantic().SetLink(&link.NormalLink{})
	block.AddInstruction(call)
	ret := chunk.NewInstruction("ret", &link.Disassembled{Bytes: []byte{0xc3}, Mnemonic: "RET"})
	block.AddInstruction(ret)
	return fn, block
}

func TestLoggingPassWrapsCallSite(t *testing.T) {
	fn, block := buildFunctionWithCall(isa.ArchX86_64)
	pass := NewLoggingPass(isa.ArchX86_64, "__probe")
	if err := fn.Accept(pass); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if pass.SitesInstrumented() != 1 {
		t.Fatalf("SitesInstrumented = %d; want 1", pass.SitesInstrumented())
	}
	instrs := block.Instructions()
	if len(instrs) != 3 {
		t.Fatalf("len(instrs) = %d; want 3 (probe, call, ret)", len(instrs))
	}
	if instrs[0].Name() != "probe:__probe" {
		t.Fatalf("instrs[0].Name() = %q; want probe:__probe", instrs[0].Name())
	}
	if instrs[1].Name() != "call" {
		t.Fatalf("instrs[1].Name() = %q; want call", instrs[1].Name())
	}
}

func TestNullPointerDetectorFlagsIndirectCall(t *testing.T) {
	fn := chunk.NewFunction("f", 0x2000, 0)
	block := chunk.NewBlock("b0")
	fn.AddBlock(block)
	block.AddInstruction(chunk.NewInstruction("call_rax", &link.Disassembled{Bytes: []byte{0xff, 0xd0}, Mnemonic: "CALL", Operands: "*%rax"}))

	det := NewNullPointerDetector()
	if err := fn.Accept(det); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if len(det.Findings) != 1 {
		t.Fatalf("len(Findings) = %d; want 1", len(det.Findings))
	}
	if det.Findings[0].Function != fn {
		t.Fatal("finding did not record the owning function")
	}
}

func TestStackXORPassWrapsEntryAndReturns(t *testing.T) {
	fn, block := buildFunctionWithCall(isa.ArchX86_64)
	pass := NewStackXORPass(isa.ArchX86_64)
	if err := fn.Accept(pass); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	instrs := block.Instructions()
	if instrs[0].Name() != "stackxor:entry" {
		t.Fatalf("instrs[0].Name() = %q; want stackxor:entry", instrs[0].Name())
	}
	last := instrs[len(instrs)-1]
	if last.Name() != "ret" {
		t.Fatalf("last instruction = %q; want ret", last.Name())
	}
	if instrs[len(instrs)-2].Name() != "stackxor:exit" {
		t.Fatalf("instrs[len-2].Name() = %q; want stackxor:exit", instrs[len(instrs)-2].Name())
	}
}

func TestNOPInserterPassPadsBlockEntry(t *testing.T) {
	fn, block := buildFunctionWithCall(isa.ArchX86_64)
	pass := NewNOPInserterPass(isa.ArchX86_64, 2)
	if err := fn.Accept(pass); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	instrs := block.Instructions()
	if len(instrs) != 4 {
		t.Fatalf("len(instrs) = %d; want 4", len(instrs))
	}
	if instrs[0].Name() != "nop" || instrs[1].Name() != "nop" {
		t.Fatalf("first two instructions should be nops, got %q, %q", instrs[0].Name(), instrs[1].Name())
	}
}

func TestStackFrameExtenderWidensImm8Sub(t *testing.T) {
	fn := chunk.NewFunction("f", 0x3000, 0)
	block := chunk.NewBlock("b0")
	fn.AddBlock(block)
	// sub rsp, 0x70
	sub := chunk.NewInstruction("sub", &link.Disassembled{Bytes: []byte{0x48, 0x83, 0xec, 0x70}, Mnemonic: "SUB", Operands: "rsp"})
	block.AddInstruction(sub)

	pass := NewStackFrameExtender(isa.ArchX86_64, 0x60)
	if err := fn.Accept(pass); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	grown := sub.Semantic().(*link.Disassembled)
	if len(grown.Bytes) != 7 {
		t.Fatalf("len(grown.Bytes) = %d; want 7 (imm8 overflowed into imm32 form)", len(grown.Bytes))
	}
	if grown.Bytes[0] != 0x48 || grown.Bytes[1] != 0x81 {
		t.Fatalf("grown.Bytes[0:2] = %x; want 48 81 (REX.W SUB imm32)", grown.Bytes[0:2])
	}
}

func TestContextSwitchPassSavesAndRestoresAroundProbe(t *testing.T) {
	fn := chunk.NewFunction("f", 0x4000, 0)
	block := chunk.NewBlock("b0")
	fn.AddBlock(block)
	probeCall := chunk.NewInstruction("probe:__probe", &link.LinkedControlFlow{Arch: isa.ArchX86_64, Kind: link.ControlCall})
	probeCall.Semantic().SetLink(&link.SymbolOnlyLink{Symbol: "__probe"})
	block.AddInstruction(probeCall)

	pass := NewContextSwitchPass(isa.ArchX86_64, "__probe")
	if err := fn.Accept(pass); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	regs := isa.ArchX86_64.CallerSaved()
	instrs := block.Instructions()
	if len(instrs) != 1+2*len(regs) {
		t.Fatalf("len(instrs) = %d; want %d", len(instrs), 1+2*len(regs))
	}
	if instrs[len(regs)].Name() != "probe:__probe" {
		t.Fatalf("call site not at expected position %d: %q", len(regs), instrs[len(regs)].Name())
	}
	if instrs[0].Name() != "ctxswitch:save:"+regs[0] {
		t.Fatalf("instrs[0].Name() = %q; want ctxswitch:save:%s", instrs[0].Name(), regs[0])
	}
	lastSaveIdx := len(regs) - 1
	if instrs[lastSaveIdx].Name() != "ctxswitch:save:"+regs[lastSaveIdx] {
		t.Fatalf("save order not preserved at index %d", lastSaveIdx)
	}
	firstRestoreIdx := len(regs) + 1
	if instrs[firstRestoreIdx].Name() != "ctxswitch:restore:"+regs[len(regs)-1] {
		t.Fatalf("instrs[%d].Name() = %q; want restore of %s (reverse order)", firstRestoreIdx, instrs[firstRestoreIdx].Name(), regs[len(regs)-1])
	}
}
