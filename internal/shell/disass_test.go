package shell

import (
	"strings"
	"testing"

	"github.com/SleepyMug/egalito/internal/chunk"
	"github.com/SleepyMug/egalito/internal/chunkid"
	"github.com/SleepyMug/egalito/internal/isa"
	"github.com/SleepyMug/egalito/internal/link"
)

func buildTwoFunctionProgram() (*chunk.Program, *chunk.Function, *chunk.Function) {
	prog := chunk.NewProgram()
	mod := chunk.NewModule("main", 0x1000)
	prog.AddModule(mod)

	callee := chunk.NewFunction("callee", 0x1000, 1)
	calleeBlock := chunk.NewBlock("callee.b0")
	calleeBlock.AddInstruction(chunk.NewInstruction("ret", &link.Disassembled{Bytes: []byte{0xc3}, Mnemonic: "RET"}))
	callee.AddBlock(calleeBlock)

	caller := chunk.NewFunction("caller", 0x2000, 5)
	callerBlock := chunk.NewBlock("caller.b0")
	call := chunk.NewInstruction("call", &link.LinkedControlFlow{Arch: isa.ArchX86_64, Kind: link.ControlCall})
	call.Semantic().SetLink(&link.NormalLink{To: chunkid.Ref{ID: calleeBlock.ID(), Kind: chunkid.KindBlock}})
	callerBlock.AddInstruction(call)
	caller.AddBlock(callerBlock)

	mod.Functions().AddFunction(callee, 0x1000)
	mod.Functions().AddFunction(caller, 0x2000)
	prog.RebuildIndex()
	return prog, callee, caller
}

func TestInstructionLineAnnotatesResolvedCallTarget(t *testing.T) {
	prog, _, caller := buildTwoFunctionProgram()
	instr := caller.Blocks()[0].Instructions()[0]
	l := instructionLine(prog, instr)
	if l.Mnemonic != "call" {
		t.Fatalf("Mnemonic = %q; want call", l.Mnemonic)
	}
	if !strings.Contains(l.Annotation, "callee.b0") {
		t.Fatalf("Annotation = %q; want it to name callee.b0", l.Annotation)
	}
}

func TestInstructionLineAnnotatesUnresolvedSymbol(t *testing.T) {
	prog, _, _ := buildTwoFunctionProgram()
	instr := chunk.NewInstruction("call", &link.LinkedControlFlow{Arch: isa.ArchX86_64, Kind: link.ControlCall})
	instr.Semantic().SetLink(&link.SymbolOnlyLink{Symbol: "memcpy"})
	l := instructionLine(prog, instr)
	if l.Annotation != "<unresolved: memcpy>" {
		t.Fatalf("Annotation = %q; want <unresolved: memcpy>", l.Annotation)
	}
}

func TestFunctionLinesCoversEveryInstructionInEveryBlock(t *testing.T) {
	prog, callee, _ := buildTwoFunctionProgram()
	lines := functionLines(prog, callee)
	if len(lines) != 1 {
		t.Fatalf("len(lines) = %d; want 1", len(lines))
	}
	if lines[0].Address != 0x1000 {
		t.Fatalf("Address = 0x%x; want 0x1000", lines[0].Address)
	}
}

func TestParseHexAddressArg(t *testing.T) {
	cases := []struct {
		in      string
		want    uint64
		wantOk  bool
	}{
		{"0x1000", 0x1000, true},
		{"1000", 0x1000, true},
		{"0X2A", 0x2a, true},
		{"not-hex", 0, false},
	}
	for _, c := range cases {
		got, ok := parseHexAddressArg(c.in)
		if ok != c.wantOk || (ok && got != c.want) {
			t.Errorf("parseHexAddressArg(%q) = (0x%x, %v); want (0x%x, %v)", c.in, got, ok, c.want, c.wantOk)
		}
	}
}
