package shell

import (
	"strings"
	"testing"

	"github.com/SleepyMug/egalito/internal/chunk"
	"github.com/SleepyMug/egalito/internal/chunkid"
	"github.com/SleepyMug/egalito/internal/isa"
	"github.com/SleepyMug/egalito/internal/link"
)

// buildIfElseFunction builds a three-block function: b0 falls through to b1
// on the untaken branch and jumps to b2 on the taken branch, b1 ends in an
// unconditional jump to b2, and b2 is the join point with no successor.
func buildIfElseFunction() (*chunk.Program, *chunk.Function) {
	prog := chunk.NewProgram()
	mod := chunk.NewModule("main", 0x1000)
	prog.AddModule(mod)

	fn := chunk.NewFunction("branchy", 0x1000, 20)
	b0 := chunk.NewBlock("branchy.b0")
	b1 := chunk.NewBlock("branchy.b1")
	b2 := chunk.NewBlock("branchy.b2")

	jcc := chunk.NewInstruction("jcc", &link.LinkedControlFlow{Arch: isa.ArchX86_64, Kind: link.ControlJumpConditional})
	jcc.Semantic().SetLink(&link.NormalLink{To: chunkid.Ref{ID: b2.ID(), Kind: chunkid.KindBlock}})
	b0.AddInstruction(jcc)

	jmp := chunk.NewInstruction("jmp", &link.LinkedControlFlow{Arch: isa.ArchX86_64, Kind: link.ControlJump})
	jmp.Semantic().SetLink(&link.NormalLink{To: chunkid.Ref{ID: b2.ID(), Kind: chunkid.KindBlock}})
	b1.AddInstruction(jmp)

	ret := chunk.NewInstruction("ret", &link.Disassembled{Bytes: []byte{0xc3}, Mnemonic: "RET"})
	b2.AddInstruction(ret)

	fn.AddBlock(b0)
	fn.AddBlock(b1)
	fn.AddBlock(b2)

	mod.Functions().AddFunction(fn, 0x1000)
	prog.RebuildIndex()
	return prog, fn
}

func TestFunctionCFGDotEmitsBranchAndFallthroughEdges(t *testing.T) {
	prog, fn := buildIfElseFunction()
	dot := functionCFGDot(prog, fn)

	for _, want := range []string{
		`"branchy.b0" -> "branchy.b2"`, // taken branch
		`"branchy.b0" -> "branchy.b1"`, // fallthrough on untaken branch
		`"branchy.b1" -> "branchy.b2"`, // unconditional jump target
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("dot output missing edge %q; got:\n%s", want, dot)
		}
	}
	if strings.Contains(dot, `"branchy.b2" ->`) {
		t.Errorf("b2 should have no outgoing edges (ends in ret); got:\n%s", dot)
	}
}

func TestFallsThroughIsFalseForUnconditionalJumpAndReturn(t *testing.T) {
	if !fallsThrough(nil) {
		t.Error("fallsThrough(nil) should be true for an empty block")
	}
	plain := chunk.NewInstruction("nop", &link.Disassembled{Bytes: []byte{0x90}})
	if !fallsThrough(plain) {
		t.Error("fallsThrough should be true for a non-control-flow instruction")
	}
	jcc := chunk.NewInstruction("jcc", &link.LinkedControlFlow{Kind: link.ControlJumpConditional})
	if !fallsThrough(jcc) {
		t.Error("fallsThrough should be true for a conditional branch")
	}
	call := chunk.NewInstruction("call", &link.LinkedControlFlow{Kind: link.ControlCall})
	if !fallsThrough(call) {
		t.Error("fallsThrough should be true for a call")
	}
	jmp := chunk.NewInstruction("jmp", &link.LinkedControlFlow{Kind: link.ControlJump})
	if fallsThrough(jmp) {
		t.Error("fallsThrough should be false for an unconditional jump")
	}
	ret := chunk.NewInstruction("ret", &link.Disassembled{Bytes: []byte{0xc3}, Mnemonic: "RET"})
	if fallsThrough(ret) {
		t.Error("fallsThrough should be false for a return")
	}
}

// buildEarlyReturnFunction builds a two-block function where b0 ends in a
// ret and is NOT the last block: b1 follows it in program order but is
// only reachable from elsewhere (e.g. another caller of this label), so
// functionCFGDot must not invent a b0->b1 fallthrough edge.
func buildEarlyReturnFunction() (*chunk.Program, *chunk.Function) {
	prog := chunk.NewProgram()
	mod := chunk.NewModule("main", 0x1000)
	prog.AddModule(mod)

	fn := chunk.NewFunction("early_return", 0x1000, 16)
	b0 := chunk.NewBlock("early_return.b0")
	b1 := chunk.NewBlock("early_return.b1")

	ret := chunk.NewInstruction("ret", &link.Disassembled{Bytes: []byte{0xc3}, Mnemonic: "RET"})
	b0.AddInstruction(ret)
	b1.AddInstruction(chunk.NewInstruction("nop", &link.Disassembled{Bytes: []byte{0x90}, Mnemonic: "NOP"}))

	fn.AddBlock(b0)
	fn.AddBlock(b1)

	mod.Functions().AddFunction(fn, 0x1000)
	prog.RebuildIndex()
	return prog, fn
}

func TestFunctionCFGDotEmitsNoFallthroughAfterEarlyReturn(t *testing.T) {
	prog, fn := buildEarlyReturnFunction()
	dot := functionCFGDot(prog, fn)
	if strings.Contains(dot, `"early_return.b0" ->`) {
		t.Errorf("a block ending in ret must have no outgoing edges; got:\n%s", dot)
	}
}
