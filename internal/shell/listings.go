package shell

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/SleepyMug/egalito/internal/chunk"
	"github.com/SleepyMug/egalito/internal/egerr"
)

func newModulesCommand(s *Session) *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List every loaded module",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(s); err != nil {
				return err
			}
			for _, mod := range s.Conductor.Program.Modules() {
				addr, _ := mod.Address()
				kind := "module"
				if mod.IsFrameworkSelf {
					kind = "framework-self"
				}
				cmd.Printf("%-32s 0x%x  %s\n", mod.Name(), addr, kind)
			}
			return nil
		},
	}
}

// newFunctionsCommand implements spec §6's "functions" family: plain
// address order (functions), name-sorted (functions2), and name-sorted
// with sizes (functions3), selected by the --sort/--sizes flags rather
// than three separate cobra commands, since all three print the same
// underlying list.
func newFunctionsCommand(s *Session) *cobra.Command {
	var sortByName, withSizes bool
	cmd := &cobra.Command{
		Use:   "functions",
		Short: "List a module's functions (functions/functions2/functions3)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(s); err != nil {
				return err
			}
			mod := mainModule(s)
			if mod == nil {
				return &egerr.QueryError{Query: "<no main module>"}
			}
			fns := append([]*chunk.Function(nil), mod.Functions().Functions()...)
			if sortByName || withSizes {
				sort.Slice(fns, func(i, j int) bool { return fns[i].Name() < fns[j].Name() })
			}
			for _, fn := range fns {
				addr, _ := fn.Address()
				if withSizes {
					cmd.Printf("%-40s 0x%-10x %d\n", fn.Name(), addr, fn.Size())
				} else {
					cmd.Printf("%-40s 0x%x\n", fn.Name(), addr)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&sortByName, "sort", false, "sort by name instead of address (functions2)")
	cmd.Flags().BoolVar(&withSizes, "sizes", false, "include each function's size (functions3, implies --sort)")
	return cmd
}

func newRegionsCommand(s *Session) *cobra.Command {
	return &cobra.Command{
		Use:   "regions",
		Short: "List a module's data regions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(s); err != nil {
				return err
			}
			mod := mainModule(s)
			if mod == nil {
				return &egerr.QueryError{Query: "<no main module>"}
			}
			for _, r := range mod.DataRegions().Regions() {
				addr, _ := r.Address()
				perms := "r"
				if r.Writable {
					perms += "w"
				}
				if r.Executable {
					perms += "x"
				}
				cmd.Printf("%-24s 0x%-10x %-10d %s\n", r.Name(), addr, r.Size(), perms)
				for _, sec := range r.Sections() {
					secAddr, _ := sec.Address()
					cmd.Printf("  %-22s 0x%-10x %d\n", sec.Name(), secAddr, sec.Size())
				}
			}
			return nil
		},
	}
}

func newMarkersCommand(s *Session) *cobra.Command {
	return &cobra.Command{
		Use:   "markers",
		Short: "List a module's synthetic named addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(s); err != nil {
				return err
			}
			mod := mainModule(s)
			if mod == nil {
				return &egerr.QueryError{Query: "<no main module>"}
			}
			for _, m := range mod.Markers().Markers() {
				addr, _ := m.Address()
				cmd.Printf("%-32s 0x%x\n", m.Name(), addr)
			}
			return nil
		},
	}
}

// newJumpTablesCommand lists every JumpTable in the main module, or in a
// named module when --module is given, matching spec §6's "optionally
// scoped to a module" phrasing for this command.
func newJumpTablesCommand(s *Session) *cobra.Command {
	var moduleName string
	cmd := &cobra.Command{
		Use:   "jumptables",
		Short: "List jump tables, optionally scoped to a module",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(s); err != nil {
				return err
			}
			var mod *chunk.Module
			if moduleName != "" {
				m, ok := s.Conductor.Program.ModuleByName(moduleName)
				if !ok {
					return &egerr.QueryError{Query: moduleName}
				}
				mod = m
			} else {
				mod = mainModule(s)
			}
			if mod == nil {
				return &egerr.QueryError{Query: "<no main module>"}
			}
			for _, t := range mod.JumpTables().Tables() {
				addr, _ := t.Address()
				cmd.Printf("%-24s 0x%-10x entries=%d entrySize=%d\n", t.Name(), addr, len(t.Entries()), t.EntrySize)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&moduleName, "module", "", "restrict to this module's jump tables")
	return cmd
}
