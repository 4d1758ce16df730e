package shell

import (
	"github.com/spf13/cobra"

	"github.com/SleepyMug/egalito/internal/chunk"
	"github.com/SleepyMug/egalito/internal/egerr"
	"github.com/SleepyMug/egalito/internal/find"
	"github.com/SleepyMug/egalito/internal/passes"
)

// newPassCommands builds one cobra command per instrumentation pass in
// internal/passes (spec §6 "representative, not exhaustive" command
// list), each applying its pass to a single named function rather than
// the whole program, so a user can inspect the effect of one pass at a
// time with disass before committing to a full-program run.
func newPassCommands(s *Session) []*cobra.Command {
	return []*cobra.Command{
		newLoggingPassCommand(s),
		newNullCheckPassCommand(s),
		newStackXORPassCommand(s),
		newFrameExtendPassCommand(s),
		newNOPInserterPassCommand(s),
		newContextSwitchPassCommand(s),
	}
}

func resolveTargetFunction(s *Session, query string) (*chunk.Function, error) {
	mod := mainModule(s)
	if mod == nil {
		return nil, &egerr.QueryError{Query: query}
	}
	return find.Resolve(mod, query)
}

func newLoggingPassCommand(s *Session) *cobra.Command {
	var probe string
	cmd := &cobra.Command{
		Use:   "logging-pass NAME|ADDR",
		Short: "Wrap each call site in a function with a probe call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(s); err != nil {
				return err
			}
			fn, err := resolveTargetFunction(s, args[0])
			if err != nil {
				return err
			}
			pass := passes.NewLoggingPass(s.Target.Arch, probe)
			if err := fn.Accept(pass); err != nil {
				return err
			}
			cmd.Printf("instrumented %d call site(s) in %s\n", pass.SitesInstrumented(), fn.Name())
			return nil
		},
	}
	cmd.Flags().StringVar(&probe, "probe", "__egalito_probe", "symbol name the inserted calls target")
	return cmd
}

func newNullCheckPassCommand(s *Session) *cobra.Command {
	return &cobra.Command{
		Use:   "nullcheck-pass NAME|ADDR",
		Short: "List indirect call sites in a function found to have no statically-known target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(s); err != nil {
				return err
			}
			fn, err := resolveTargetFunction(s, args[0])
			if err != nil {
				return err
			}
			detector := passes.NewNullPointerDetector()
			if err := fn.Accept(detector); err != nil {
				return err
			}
			for _, f := range detector.Findings {
				cmd.Printf("0x%x  %s %s\n", f.Address, f.Mnemonic, f.Operands)
			}
			return nil
		},
	}
}

func newStackXORPassCommand(s *Session) *cobra.Command {
	return &cobra.Command{
		Use:   "stackxor-pass NAME|ADDR",
		Short: "XOR-harden a function's return address on entry and before every ret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(s); err != nil {
				return err
			}
			fn, err := resolveTargetFunction(s, args[0])
			if err != nil {
				return err
			}
			pass := passes.NewStackXORPass(s.Target.Arch)
			if err := fn.Accept(pass); err != nil {
				return err
			}
			cmd.Printf("hardened %s\n", fn.Name())
			return nil
		},
	}
}

func newFrameExtendPassCommand(s *Session) *cobra.Command {
	var extra uint32
	cmd := &cobra.Command{
		Use:   "frameextend-pass NAME|ADDR",
		Short: "Grow a function's stack-pointer adjustments by --extra bytes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(s); err != nil {
				return err
			}
			fn, err := resolveTargetFunction(s, args[0])
			if err != nil {
				return err
			}
			pass := passes.NewStackFrameExtender(s.Target.Arch, extra)
			if err := fn.Accept(pass); err != nil {
				return err
			}
			cmd.Printf("extended stack frame of %s by %d bytes\n", fn.Name(), extra)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&extra, "extra", 16, "extra bytes to add to each prologue/epilogue stack adjustment")
	return cmd
}

func newNOPInserterPassCommand(s *Session) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "nop-pass NAME|ADDR",
		Short: "Pad every block of a function with --count no-ops",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(s); err != nil {
				return err
			}
			fn, err := resolveTargetFunction(s, args[0])
			if err != nil {
				return err
			}
			pass := passes.NewNOPInserterPass(s.Target.Arch, count)
			if err := fn.Accept(pass); err != nil {
				return err
			}
			cmd.Printf("inserted %d nop(s) into each block of %s\n", count, fn.Name())
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "number of no-ops to insert at the start of each block")
	return cmd
}

func newContextSwitchPassCommand(s *Session) *cobra.Command {
	var probe string
	cmd := &cobra.Command{
		Use:   "ctxswitch-pass NAME|ADDR",
		Short: "Save and restore caller-saved registers around calls to --probe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(s); err != nil {
				return err
			}
			fn, err := resolveTargetFunction(s, args[0])
			if err != nil {
				return err
			}
			pass := passes.NewContextSwitchPass(s.Target.Arch, probe)
			if err := fn.Accept(pass); err != nil {
				return err
			}
			cmd.Printf("wrapped calls to %s in %s with register save/restore\n", probe, fn.Name())
			return nil
		},
	}
	cmd.Flags().StringVar(&probe, "probe", "__egalito_probe", "symbol name whose call sites get wrapped")
	return cmd
}
