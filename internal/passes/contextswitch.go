package passes

import (
	"encoding/binary"

	"github.com/SleepyMug/egalito/internal/chunk"
	"github.com/SleepyMug/egalito/internal/isa"
	"github.com/SleepyMug/egalito/internal/link"
	"github.com/SleepyMug/egalito/internal/visitor"
)

// ContextSwitchPass saves every caller-saved register before an
// instrumented call and restores them in reverse order after (spec §4.4
// pass corpus: "context-switch pass (saves/restores caller-saved
// registers around instrumented calls)"; register set and ordering
// grounded on original_source's switchcontext.h, SPEC_FULL.md
// SUPPLEMENTED FEATURES item 5).
//
// It targets the probe calls LoggingPass inserts: any call whose link is
// a SymbolOnlyLink naming ProbeSymbol, so the two passes compose (logging
// first, then context-switch around the probe it inserted).
type ContextSwitchPass struct {
	visitor.DefaultVisitor
	Arch        isa.Arch
	ProbeSymbol string
}

func NewContextSwitchPass(arch isa.Arch, probeSymbol string) *ContextSwitchPass {
	p := &ContextSwitchPass{Arch: arch, ProbeSymbol: probeSymbol}
	p.Self = p
	return p
}

func (p *ContextSwitchPass) VisitBlock(b *chunk.Block) error {
	regs := p.Arch.CallerSaved()
	i := 0
	for {
		instrs := b.Instructions()
		if i >= len(instrs) {
			return nil
		}
		if !p.targetsProbe(instrs[i]) {
			i++
			continue
		}

		saveCount := len(regs)
		for n, reg := range regs {
			b.InsertInstructionAt(i+n, chunk.NewInstruction("ctxswitch:save:"+reg, &link.RawBytes{Bytes: p.saveBytes(reg)}))
		}
		callIdx := i + saveCount
		for n := 0; n < len(regs); n++ {
			reg := regs[len(regs)-1-n]
			b.InsertInstructionAt(callIdx+1+n, chunk.NewInstruction("ctxswitch:restore:"+reg, &link.RawBytes{Bytes: p.restoreBytes(reg)}))
		}
		i = callIdx + 1 + len(regs)
	}
}

func (p *ContextSwitchPass) targetsProbe(instr *chunk.Instruction) bool {
	lcf, ok := callSite(instr)
	if !ok {
		return false
	}
	sym, ok := lcf.GetLink().(*link.SymbolOnlyLink)
	return ok && sym.Symbol == p.ProbeSymbol
}

// saveBytes/restoreBytes encode a single push/pop for x86-64 (one
// instruction per register, the teacher corpus's preference for
// explicit over clever) and a store/load pre/post-indexed through sp
// for AArch64 (no general-purpose push/pop mnemonic exists there).
func (p *ContextSwitchPass) saveBytes(reg string) []byte {
	if p.Arch == isa.ArchAArch64 {
		r, _ := p.Arch.Register(reg)
		return encodeAArch64StrPreIndex(r.Encoding)
	}
	r, _ := p.Arch.Register(reg)
	return encodeX86Push(r.Encoding)
}

func (p *ContextSwitchPass) restoreBytes(reg string) []byte {
	if p.Arch == isa.ArchAArch64 {
		r, _ := p.Arch.Register(reg)
		return encodeAArch64LdrPostIndex(r.Encoding)
	}
	r, _ := p.Arch.Register(reg)
	return encodeX86Pop(r.Encoding)
}

func encodeX86Push(encoding uint8) []byte {
	if encoding >= 8 {
		return []byte{0x41, 0x50 + (encoding - 8)}
	}
	return []byte{0x50 + encoding}
}

func encodeX86Pop(encoding uint8) []byte {
	if encoding >= 8 {
		return []byte{0x41, 0x58 + (encoding - 8)}
	}
	return []byte{0x58 + encoding}
}

// encodeAArch64StrPreIndex encodes `str Xt, [sp, #-16]!`.
func encodeAArch64StrPreIndex(reg uint8) []byte {
	// STR (immediate, pre-index, 64-bit, imm=-16): 1111 1000 000 1 1111 0000 11 Rn Rt
	word := uint32(0xf81f0c00) | uint32(reg) | 31<<5
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, word)
	return buf
}

// encodeAArch64LdrPostIndex encodes `ldr Xt, [sp], #16`.
func encodeAArch64LdrPostIndex(reg uint8) []byte {
	// LDR (immediate, post-index, 64-bit): 1111 1000 010 imm9 01 Rn Rt
	word := uint32(0xf8410400) | uint32(reg) | 31<<5
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, word)
	return buf
}

var _ chunk.Visitor = (*ContextSwitchPass)(nil)
