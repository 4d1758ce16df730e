package shell

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/SleepyMug/egalito/internal/chunk"
	"github.com/SleepyMug/egalito/internal/chunkid"
	"github.com/SleepyMug/egalito/internal/isa"
	"github.com/SleepyMug/egalito/internal/link"
)

func TestDataSectionsPatchesResolvedVariable(t *testing.T) {
	prog := chunk.NewProgram()
	mod := chunk.NewModule("main", 0x4000)
	prog.AddModule(mod)

	target := chunk.NewFunction("target", 0x8000, 1)
	targetBlock := chunk.NewBlock("target.b0")
	targetBlock.AddInstruction(chunk.NewInstruction("ret", &link.Disassembled{Bytes: []byte{0xc3}, Mnemonic: "RET"}))
	target.AddBlock(targetBlock)
	mod.Functions().AddFunction(target, 0x8000)

	region := chunk.NewDataRegion("region0", 0x4000, 16)
	region.Writable = true
	region.Raw = make([]byte, 16)
	sec := chunk.NewDataSection(".data", 0, 16)
	v := chunk.NewDataVariable("ptr", 8, 8)
	v.SetLink(&link.NormalLink{To: chunkid.Ref{ID: target.ID(), Kind: chunkid.KindFunction}})
	sec.AddVariable(v)
	region.AddSection(sec)
	mod.DataRegions().AddRegion(region)

	prog.RebuildIndex()

	out := dataSections(prog, mod)
	if len(out) != 1 {
		t.Fatalf("len(out) = %d; want 1", len(out))
	}

	size, err := out[0].Size()
	if err != nil {
		t.Fatalf("Size() error: %v", err)
	}
	if size != 16 {
		t.Fatalf("Size() = %d; want 16", size)
	}

	var buf bytes.Buffer
	if _, err := out[0].Content.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo error: %v", err)
	}
	got := buf.Bytes()
	gotAddr := binary.LittleEndian.Uint64(got[8:16])
	if gotAddr != 0x8000 {
		t.Fatalf("patched pointer = 0x%x; want 0x8000", gotAddr)
	}
}

func TestDataSectionsSkipsExecutableRegions(t *testing.T) {
	prog := chunk.NewProgram()
	mod := chunk.NewModule("main", 0x4000)
	prog.AddModule(mod)

	region := chunk.NewDataRegion("text", 0x4000, 16)
	region.Executable = true
	mod.DataRegions().AddRegion(region)
	prog.RebuildIndex()

	if out := dataSections(prog, mod); len(out) != 0 {
		t.Fatalf("len(out) = %d; want 0 (executable region must be skipped)", len(out))
	}
}

func TestRebuildPLTSectionsDropsDeadTrampolineAndRepositionsLive(t *testing.T) {
	prog := chunk.NewProgram()
	mod := chunk.NewModule("main", 0x1000)
	prog.AddModule(mod)

	live := chunk.NewPLTTrampoline("plt.live", "puts")
	dead := chunk.NewPLTTrampoline("plt.dead", "unused")
	mod.PLTs().AddTrampoline(live)
	mod.PLTs().AddTrampoline(dead)

	fn := chunk.NewFunction("fn", 0x1000, 5)
	block := chunk.NewBlock("fn.b0")
	call := chunk.NewInstruction("call", &link.LinkedControlFlow{Arch: isa.ArchX86_64, Kind: link.ControlCall})
	call.Semantic().SetLink(&link.PLTLink{Trampoline: chunkid.Ref{ID: live.ID(), Kind: chunkid.KindPLTTrampoline}})
	block.AddInstruction(call)
	fn.AddBlock(block)
	mod.Functions().AddFunction(fn, 0x1000)
	prog.RebuildIndex()

	fns := []*chunk.Function{fn}
	sec, err := rebuildPLTSections(mod, fns, functionsEnd(fns))
	if err != nil {
		t.Fatalf("rebuildPLTSections error: %v", err)
	}
	if sec == nil {
		t.Fatal("rebuildPLTSections returned nil; want non-nil (module declares trampolines)")
	}

	liveAddr, err := live.Address()
	if err != nil {
		t.Fatalf("live.Address() error: %v", err)
	}
	pltAddr := sec.plt.Header.Addr
	if liveAddr != pltAddr+16 {
		t.Fatalf("live trampoline address = 0x%x; want 0x%x (first stub past the resolver entry)", liveAddr, pltAddr+16)
	}

	// Only the live trampoline should have survived into the rebuilt
	// tables: one resolver stub plus one entry, never two.
	pltSize, _ := sec.plt.Size()
	if pltSize != 32 {
		t.Fatalf("plt size = %d; want 32 (resolver stub + 1 surviving entry, dead trampoline dropped)", pltSize)
	}
	gotSize, _ := sec.got.Size()
	if gotSize != 32 {
		t.Fatalf("got size = %d; want 32 (3 header words + 1 surviving entry)", gotSize)
	}
}

func TestRebuildPLTSectionsNilWhenNoTrampolines(t *testing.T) {
	mod := chunk.NewModule("main", 0x1000)
	sec, err := rebuildPLTSections(mod, nil, 0x1000)
	if err != nil {
		t.Fatalf("rebuildPLTSections error: %v", err)
	}
	if sec != nil {
		t.Fatal("rebuildPLTSections returned non-nil; want nil when the module has no trampolines")
	}
}
