package passes

import (
	"github.com/SleepyMug/egalito/internal/chunk"
	"github.com/SleepyMug/egalito/internal/link"
	"github.com/SleepyMug/egalito/internal/visitor"
)

// Finding names one instruction the detector flagged.
type Finding struct {
	Function *chunk.Function
	Address  uint64
	Mnemonic string
	Operands string
}

// NullPointerDetector flags call sites the conductor left as plain
// Disassembled instructions at load time: register- or memory-operand
// calls, and direct calls whose target matched neither a local block nor
// a known function symbol (spec §4.4 pass corpus: "indirect-call
// null-pointer detector"). It is read-only: callers decide whether a
// finding warrants inserting a guard, keeping the detection logic
// separate from any one hardening strategy.
type NullPointerDetector struct {
	visitor.DefaultVisitor
	currentFn *chunk.Function
	Findings  []Finding
}

func NewNullPointerDetector() *NullPointerDetector {
	d := &NullPointerDetector{}
	d.Self = d
	return d
}

func (d *NullPointerDetector) VisitFunction(fn *chunk.Function) error {
	prev := d.currentFn
	d.currentFn = fn
	err := chunk.Descend(fn, d)
	d.currentFn = prev
	return err
}

func (d *NullPointerDetector) VisitInstruction(instr *chunk.Instruction) error {
	disasmd, ok := instr.Semantic().(*link.Disassembled)
	if !ok || !isIndirectCallMnemonic(disasmd.Mnemonic) {
		return nil
	}
	addr, err := instr.Address()
	if err != nil {
		return nil
	}
	d.Findings = append(d.Findings, Finding{
		Function: d.currentFn,
		Address:  addr,
		Mnemonic: disasmd.Mnemonic,
		Operands: disasmd.Operands,
	})
	return nil
}

// isIndirectCallMnemonic matches the call mnemonics of an instruction
// still held as Disassembled. The conductor turns a direct call into a
// LinkedControlFlow when its target is a local block or a known function
// symbol; a direct call with any other target stays Disassembled with
// its CALL mnemonic, so it matches here just as the indirect forms do.
func isIndirectCallMnemonic(mnemonic string) bool {
	switch mnemonic {
	case "CALL", "BLR":
		return true
	default:
		return false
	}
}

var _ chunk.Visitor = (*NullPointerDetector)(nil)
