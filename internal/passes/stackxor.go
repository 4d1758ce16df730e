package passes

import (
	"encoding/binary"

	"github.com/SleepyMug/egalito/internal/chunk"
	"github.com/SleepyMug/egalito/internal/isa"
	"github.com/SleepyMug/egalito/internal/link"
	"github.com/SleepyMug/egalito/internal/visitor"
)

// returnAddressXORConstant is the fixed constant the hardener XORs the
// return address with on entry and again immediately before every ret
// (spec §4.4 pass corpus: "stack-XOR return-address hardener").
const returnAddressXORConstant = 0x28

// StackXORPass scrambles each function's return address on entry and
// unscrambles it immediately before every ret, so a corrupted-stack
// exploit that overwrites the saved return address without knowing the
// constant redirects to a near-random address instead of attacker
// control.
type StackXORPass struct {
	visitor.DefaultVisitor
	Arch isa.Arch
}

func NewStackXORPass(arch isa.Arch) *StackXORPass {
	p := &StackXORPass{Arch: arch}
	p.Self = p
	return p
}

func (p *StackXORPass) VisitFunction(fn *chunk.Function) error {
	blocks := fn.Blocks()
	if len(blocks) == 0 {
		return nil
	}

	entryStub := chunk.NewInstruction("stackxor:entry", &link.RawBytes{Bytes: p.xorReturnAddressBytes()})
	blocks[0].InsertInstructionAt(0, entryStub)

	for _, b := range blocks {
		i := 0
		for {
			instrs := b.Instructions()
			if i >= len(instrs) {
				break
			}
			if isReturnInstruction(p.Arch, instrs[i]) {
				guard := chunk.NewInstruction("stackxor:exit", &link.RawBytes{Bytes: p.xorReturnAddressBytes()})
				b.InsertInstructionAt(i, guard)
				i += 2
				continue
			}
			i++
		}
	}
	return nil
}

func isReturnInstruction(arch isa.Arch, instr *chunk.Instruction) bool {
	d, ok := instr.Semantic().(*link.Disassembled)
	if !ok {
		return false
	}
	switch arch {
	case isa.ArchX86_64:
		return d.Mnemonic == "RET"
	case isa.ArchAArch64:
		return d.Mnemonic == "RET"
	default:
		return false
	}
}

// xorReturnAddressBytes encodes the constant-XOR stub for the pass's
// configured architecture: on x86-64, XOR the qword at [rsp] directly;
// on AArch64, the return address lives in x30 (or is not yet spilled),
// so the stub materializes the constant into a scratch register and
// XORs x30 against it.
func (p *StackXORPass) xorReturnAddressBytes() []byte {
	switch p.Arch {
	case isa.ArchAArch64:
		buf := make([]byte, 8)
		// movz x9, #0x28
		binary.LittleEndian.PutUint32(buf[0:4], 0xD2800000|uint32(returnAddressXORConstant)<<5|9)
		// eor x30, x30, x9
		binary.LittleEndian.PutUint32(buf[4:8], 0xCA000000|9<<16|30<<5|30)
		return buf
	default: // x86-64
		// xor qword ptr [rsp], 0x28
		return []byte{0x48, 0x81, 0x34, 0x24, returnAddressXORConstant, 0x00, 0x00, 0x00}
	}
}

var _ chunk.Visitor = (*StackXORPass)(nil)
