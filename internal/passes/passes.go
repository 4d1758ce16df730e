// Package passes implements the example pass corpus spec §4.4 names "as
// examples of the contract, not the core itself": a logging-
// instrumentation pass, an indirect-call null-pointer detector, a
// stack-XOR return-address hardener, a stack-frame extender, a nop
// inserter, and a context-switch pass. Each is a visitor.Pass built on
// visitor.DefaultVisitor, honoring the three rules spec §4.4 states:
// mutation through the mutation-safe snapshot iterator, size changes
// propagated via lazy recompute rather than direct address patches, and
// new chunks given a parent and position before returning.
package passes

import (
	"github.com/SleepyMug/egalito/internal/chunk"
	"github.com/SleepyMug/egalito/internal/isa"
	"github.com/SleepyMug/egalito/internal/link"
	"github.com/SleepyMug/egalito/internal/visitor"
)

// callSite reports whether instr's semantic is a call, and if so, the
// LinkedControlFlow carrying the call target.
func callSite(instr *chunk.Instruction) (*link.LinkedControlFlow, bool) {
	lcf, ok := instr.Semantic().(*link.LinkedControlFlow)
	if !ok || lcf.Kind != link.ControlCall {
		return nil, false
	}
	return lcf, true
}

func insertRaw(block *chunk.Block, at int, name string, bytes []byte) {
	block.InsertInstructionAt(at, chunk.NewInstruction(name, &link.RawBytes{Bytes: bytes}))
}
