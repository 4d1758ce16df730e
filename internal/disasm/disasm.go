// Package disasm is the external disassembler collaborator spec §6
// describes ("Given a byte buffer and a base address, returns a sequence
// of (length, decoded-form, raw-bytes) tuples for x86-64 or AArch64...
// The core never parses opcodes directly"). It is given a concrete
// implementation here over golang.org/x/arch, grounded on
// aclements-objbrowse's use of the same package for the same purpose.
package disasm

import (
	"fmt"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"github.com/SleepyMug/egalito/internal/isa"
)

// Instruction is one decoded instruction tuple.
type Instruction struct {
	Address  uint64
	Length   int
	Mnemonic string
	Operands string
	Bytes    []byte
	// IsControlFlow marks call/jump/conditional-branch instructions, the
	// ones the conductor turns into LinkedControlFlow semantics.
	IsControlFlow bool
	// BranchTarget is the statically-known absolute target, if any
	// (computed from a relative displacement operand).
	BranchTarget uint64
	HasTarget    bool
}

// Decode disassembles the longest possible run of instructions starting
// at buf[0] (mapped to address addr), stopping at the first decode
// failure or when buf is exhausted.
func Decode(arch isa.Arch, buf []byte, addr uint64) ([]Instruction, error) {
	switch arch {
	case isa.ArchX86_64:
		return decodeX86(buf, addr)
	case isa.ArchAArch64:
		return decodeAArch64(buf, addr)
	default:
		return nil, fmt.Errorf("disasm: unsupported architecture %v", arch)
	}
}

func decodeX86(buf []byte, addr uint64) ([]Instruction, error) {
	var out []Instruction
	off := 0
	for off < len(buf) {
		inst, err := x86asm.Decode(buf[off:], 64)
		if err != nil {
			if off == 0 {
				return nil, fmt.Errorf("disasm: x86-64 decode failed at 0x%x: %w", addr, err)
			}
			break
		}
		ci := Instruction{
			Address:  addr + uint64(off),
			Length:   inst.Len,
			Mnemonic: inst.Op.String(),
			Operands: x86asm.GNUSyntax(inst, addr+uint64(off), nil),
			Bytes:    append([]byte(nil), buf[off:off+inst.Len]...),
		}
		switch inst.Op {
		case x86asm.CALL, x86asm.JMP, x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE,
			x86asm.JE, x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JNE,
			x86asm.JNO, x86asm.JNP, x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JS,
			x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ:
			ci.IsControlFlow = true
			if rel, ok := inst.Args[0].(x86asm.Rel); ok {
				ci.HasTarget = true
				ci.BranchTarget = uint64(int64(addr+uint64(off)+uint64(inst.Len)) + int64(rel))
			}
		}
		out = append(out, ci)
		off += inst.Len
	}
	return out, nil
}

func decodeAArch64(buf []byte, addr uint64) ([]Instruction, error) {
	var out []Instruction
	off := 0
	for off+4 <= len(buf) {
		inst, err := arm64asm.Decode(buf[off : off+4])
		if err != nil {
			if off == 0 {
				return nil, fmt.Errorf("disasm: aarch64 decode failed at 0x%x: %w", addr, err)
			}
			break
		}
		ci := Instruction{
			Address:  addr + uint64(off),
			Length:   4,
			Mnemonic: inst.Op.String(),
			Operands: arm64asm.GNUSyntax(inst),
			Bytes:    append([]byte(nil), buf[off:off+4]...),
		}
		switch inst.Op {
		case arm64asm.BL, arm64asm.B:
			ci.IsControlFlow = true
			if pc, ok := inst.Args[0].(arm64asm.PCRel); ok {
				ci.HasTarget = true
				ci.BranchTarget = uint64(int64(addr+uint64(off)) + int64(pc))
			}
		case arm64asm.B_EQ, arm64asm.B_NE, arm64asm.B_CS, arm64asm.B_CC, arm64asm.B_MI,
			arm64asm.B_PL, arm64asm.B_VS, arm64asm.B_VC, arm64asm.B_HI, arm64asm.B_LS,
			arm64asm.B_GE, arm64asm.B_LT, arm64asm.B_GT, arm64asm.B_LE:
			ci.IsControlFlow = true
			if pc, ok := inst.Args[0].(arm64asm.PCRel); ok {
				ci.HasTarget = true
				ci.BranchTarget = uint64(int64(addr+uint64(off)) + int64(pc))
			}
		}
		out = append(out, ci)
		off += 4
	}
	return out, nil
}
