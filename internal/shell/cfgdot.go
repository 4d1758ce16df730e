package shell

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SleepyMug/egalito/internal/chunk"
	"github.com/SleepyMug/egalito/internal/egerr"
	"github.com/SleepyMug/egalito/internal/find"
	"github.com/SleepyMug/egalito/internal/link"
)

// functionCFGDot renders fn's blocks as a DOT digraph: one node per Block,
// an edge for every direct branch/call target landing on another Block of
// the same function, and an implicit fallthrough edge from a block to its
// positional successor whenever the block's last instruction is not an
// unconditional jump or return. No graphviz library exists anywhere in
// the retrieval pack, so the text is built by hand with fmt, matching the
// teacher's own preference for hand-rolled text formats over pulling in a
// rendering dependency for a single output shape.
func functionCFGDot(prog *chunk.Program, fn *chunk.Function) string {
	var b strings.Builder
	fmt.Fprintf(&b, "digraph %q {\n", fn.Name())

	blocks := fn.Blocks()
	byID := make(map[chunk.Node]int, len(blocks))
	for i, blk := range blocks {
		byID[blk] = i
		fmt.Fprintf(&b, "  %q;\n", blockLabel(blk))
	}

	for i, blk := range blocks {
		instrs := blk.Instructions()
		var last *chunk.Instruction
		if len(instrs) > 0 {
			last = instrs[len(instrs)-1]
		}
		for _, instr := range instrs {
			lcf, ok := instr.Semantic().(*link.LinkedControlFlow)
			if !ok {
				continue
			}
			nl, ok := lcf.GetLink().(*link.NormalLink)
			if !ok {
				continue
			}
			target, ok := prog.Chunk(nl.To)
			if !ok {
				continue
			}
			if tgt, ok := target.(*chunk.Block); ok {
				if _, sameFn := byID[tgt]; sameFn {
					fmt.Fprintf(&b, "  %q -> %q;\n", blockLabel(blk), blockLabel(tgt))
				}
			}
		}
		if i+1 < len(blocks) && fallsThrough(last) {
			fmt.Fprintf(&b, "  %q -> %q;\n", blockLabel(blk), blockLabel(blocks[i+1]))
		}
	}

	b.WriteString("}\n")
	return b.String()
}

func blockLabel(b *chunk.Block) string { return b.Name() }

// fallsThrough reports whether control reaches the next block in program
// order after last: true when last is nil (an empty block), a conditional
// branch, a call (which returns into the same block's successor), or any
// other non-control-flow instruction; false for an unconditional direct
// jump or a return, since neither has the next block as a successor.
// disasm.Decode never sets IsControlFlow for a return (it only recognizes
// call/jump/conditional-branch opcodes), so a ret surfaces here as a
// *link.Disassembled rather than a *link.LinkedControlFlow and has to be
// matched on its mnemonic instead of its semantic kind.
func fallsThrough(last *chunk.Instruction) bool {
	if last == nil {
		return true
	}
	if isReturn(last) {
		return false
	}
	lcf, ok := last.Semantic().(*link.LinkedControlFlow)
	if !ok {
		return true
	}
	return lcf.Kind != link.ControlJump
}

func isReturn(instr *chunk.Instruction) bool {
	d, ok := instr.Semantic().(*link.Disassembled)
	if !ok {
		return false
	}
	m := strings.ToUpper(d.Mnemonic)
	return m == "RET" || m == "RETN" || m == "RET64"
}

func newCFGDotCommand(s *Session) *cobra.Command {
	return &cobra.Command{
		Use:   "cfgdot NAME|ADDR",
		Short: "Print a function's control-flow graph as DOT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(s); err != nil {
				return err
			}
			mod := mainModule(s)
			if mod == nil {
				return &egerr.QueryError{Query: args[0]}
			}
			fn, err := find.Resolve(mod, args[0])
			if err != nil {
				return err
			}
			cmd.Print(functionCFGDot(s.Conductor.Program, fn))
			return nil
		},
	}
}
