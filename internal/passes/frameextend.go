package passes

import (
	"encoding/binary"
	"fmt"

	"github.com/SleepyMug/egalito/internal/chunk"
	"github.com/SleepyMug/egalito/internal/isa"
	"github.com/SleepyMug/egalito/internal/link"
	"github.com/SleepyMug/egalito/internal/visitor"
)

// StackFrameExtender adds ExtraBytes to each prologue/epilogue pair's
// stack reservation (spec §4.4 pass corpus: "stack-frame extender (adds
// N bytes to each prologue/epilogue pair)"), by growing the immediate
// operand of the function's stack-pointer adjustment instructions in
// place. A grown x86-64 imm8 form that no longer fits widens to the
// imm32 encoding, which is a real instruction-size change and so goes
// through SetSemantic/RefreshSize like any other widening (spec §4.4:
// "Size changes to instructions propagate via the lazy-recompute
// mechanism; no pass patches addresses directly").
type StackFrameExtender struct {
	visitor.DefaultVisitor
	Arch       isa.Arch
	ExtraBytes uint32
}

func NewStackFrameExtender(arch isa.Arch, extraBytes uint32) *StackFrameExtender {
	p := &StackFrameExtender{Arch: arch, ExtraBytes: extraBytes}
	p.Self = p
	return p
}

func (p *StackFrameExtender) VisitInstruction(instr *chunk.Instruction) error {
	d, ok := instr.Semantic().(*link.Disassembled)
	if !ok {
		return nil
	}
	switch p.Arch {
	case isa.ArchX86_64:
		if d.Mnemonic != "SUB" && d.Mnemonic != "ADD" {
			return nil
		}
		grown, err := extendX86RspImmediate(d.Bytes, p.ExtraBytes)
		if err != nil {
			return nil // not a recognized rsp-adjusting encoding; leave untouched
		}
		instr.SetSemantic(&link.Disassembled{Bytes: grown, Mnemonic: d.Mnemonic, Operands: d.Operands})
	case isa.ArchAArch64:
		if d.Mnemonic != "SUB" && d.Mnemonic != "ADD" {
			return nil
		}
		grown, err := extendAArch64SPImmediate(d.Bytes, p.ExtraBytes)
		if err != nil {
			return nil
		}
		instr.SetSemantic(&link.Disassembled{Bytes: grown, Mnemonic: d.Mnemonic, Operands: d.Operands})
	}
	return nil
}

// extendX86RspImmediate recognizes `sub/add rsp, imm8` (48 83 /5-or-/0 ib)
// and `sub/add rsp, imm32` (48 81 /5-or-/0 id), adding extra to the
// immediate and widening imm8 to imm32 if the sum overflows a signed
// byte.
func extendX86RspImmediate(raw []byte, extra uint32) ([]byte, error) {
	if len(raw) < 4 || raw[0] != 0x48 {
		return nil, fmt.Errorf("passes: not a REX.W rsp-immediate instruction")
	}
	modrm := raw[2]
	if modrm&0xc7 != 0xc4 { // mod=11, rm=100 (rsp), reg (the opcode extension) varies
		return nil, fmt.Errorf("passes: operand is not rsp")
	}
	switch raw[1] {
	case 0x83: // imm8 form
		if len(raw) != 4 {
			return nil, fmt.Errorf("passes: malformed imm8 rsp instruction")
		}
		imm := int64(int8(raw[3])) + int64(extra)
		if imm >= -128 && imm <= 127 {
			out := append([]byte(nil), raw...)
			out[3] = byte(int8(imm))
			return out, nil
		}
		out := make([]byte, 7)
		out[0] = 0x48
		out[1] = 0x81
		out[2] = raw[2]
		binary.LittleEndian.PutUint32(out[3:7], uint32(int32(imm)))
		return out, nil
	case 0x81: // imm32 form
		if len(raw) != 7 {
			return nil, fmt.Errorf("passes: malformed imm32 rsp instruction")
		}
		imm := int64(int32(binary.LittleEndian.Uint32(raw[3:7]))) + int64(extra)
		out := append([]byte(nil), raw...)
		binary.LittleEndian.PutUint32(out[3:7], uint32(int32(imm)))
		return out, nil
	default:
		return nil, fmt.Errorf("passes: unrecognized rsp-immediate opcode %#x", raw[1])
	}
}

// extendAArch64SPImmediate recognizes `sub/add sp, sp, #imm{, lsl #12}`
// (the ADD/SUB immediate encoding with Rd=Rn=31) and adds extra to the
// effective immediate, re-encoding at the same or next-coarser shift.
func extendAArch64SPImmediate(raw []byte, extra uint32) ([]byte, error) {
	if len(raw) != 4 {
		return nil, fmt.Errorf("passes: not a 4-byte aarch64 instruction")
	}
	word := binary.LittleEndian.Uint32(raw)
	rd := word & 0x1f
	rn := (word >> 5) & 0x1f
	if rd != 31 || rn != 31 {
		return nil, fmt.Errorf("passes: operand is not sp")
	}
	shifted := word&0x00400000 != 0
	imm12 := (word >> 10) & 0xfff
	effective := uint64(imm12)
	if shifted {
		effective <<= 12
	}
	effective += uint64(extra)
	var newImm12 uint32
	var newShift uint32
	switch {
	case effective&0xfff == 0 && effective>>12 <= 0xfff:
		newImm12 = uint32(effective >> 12)
		newShift = 1
	case effective <= 0xfff:
		newImm12 = uint32(effective)
		newShift = 0
	default:
		return nil, fmt.Errorf("passes: extended sp adjustment %d does not fit a 12-bit immediate", effective)
	}
	newWord := (word &^ uint32(0x00400000)) &^ (uint32(0xfff) << 10)
	newWord |= newShift << 22
	newWord |= newImm12 << 10
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, newWord)
	return out, nil
}

var _ chunk.Visitor = (*StackFrameExtender)(nil)
