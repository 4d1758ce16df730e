package shell

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/SleepyMug/egalito/internal/chunk"
	"github.com/SleepyMug/egalito/internal/egerr"
	"github.com/SleepyMug/egalito/internal/sandbox"
)

// defaultSandboxBase is used when neither --base nor the
// EGALITO_SANDBOX_BASE environment override names one (SPEC_FULL.md's
// ambient "sandbox base override" config toggle).
const defaultSandboxBase = 0x10000

// orderedFunctions collects every Function across every module, framework
// modules first when includeFrameworkSelf is set, each module's own
// functions kept in their already-address-sorted FunctionList order (spec
// §4.5: "framework image first, then main module, then libraries, each
// module's functions in their original address order").
func orderedFunctions(prog *chunk.Program, includeFrameworkSelf bool) []*chunk.Function {
	var fw, rest []*chunk.Function
	for _, mod := range prog.Modules() {
		fns := mod.Functions().Functions()
		if mod.IsFrameworkSelf {
			if includeFrameworkSelf {
				fw = append(fw, fns...)
			}
			continue
		}
		rest = append(rest, fns...)
	}
	return append(fw, rest...)
}

// sandboxBaseOverride reads EGALITO_SANDBOX_BASE as a hex or decimal
// address, falling back to defaultSandboxBase when unset or unparsable.
func sandboxBaseOverride() uint64 {
	raw := os.Getenv("EGALITO_SANDBOX_BASE")
	if raw == "" {
		return defaultSandboxBase
	}
	v, err := strconv.ParseUint(raw, 0, 64)
	if err != nil {
		return defaultSandboxBase
	}
	return v
}

func newReassignCommand(s *Session) *cobra.Command {
	var base uint64
	var loaderBacked bool
	var fileSize int
	cmd := &cobra.Command{
		Use:   "reassign",
		Short: "Run the address-assignment fixpoint over every loaded function",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(s); err != nil {
				return err
			}
			if base == 0 {
				base = sandboxBaseOverride()
			}
			fns := orderedFunctions(s.Conductor.Program, false)
			if len(fns) == 0 {
				return &egerr.QueryError{Query: "<no functions loaded>"}
			}

			var sb sandbox.Sandbox
			if loaderBacked {
				lsb, err := sandbox.NewLoaderSandbox(fileSize)
				if err != nil {
					return err
				}
				sb = lsb
			} else {
				sb = sandbox.NewFileSandbox(base, fileSize)
			}

			if err := sandbox.AssignAddresses(sb, fns); err != nil {
				return err
			}
			if err := sandbox.Finalize(sb, fns, s.Conductor.Program); err != nil {
				return err
			}
			for _, fn := range fns {
				addr, _ := fn.Address()
				cmd.Printf("%-40s 0x%x\n", fn.Name(), addr)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&base, "base", 0, "sandbox base address (default: EGALITO_SANDBOX_BASE or 0x10000)")
	cmd.Flags().BoolVar(&loaderBacked, "loader", false, "back the sandbox with an executable mmap region instead of a plain byte buffer")
	cmd.Flags().IntVar(&fileSize, "size", 1<<20, "sandbox backing-storage size in bytes")
	return cmd
}
