package shell

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/xyproto/env/v2"
)

// NewRootCommand builds the full egalito command tree. The --input flag is
// the cobra replacement for spec §6's implicit "a Program is loaded"
// precondition: every subcommand but a bare --help run needs one.
func NewRootCommand() *cobra.Command {
	var (
		inputPath        string
		verbose          bool
		includeFramework bool
	)
	session := &Session{}

	root := &cobra.Command{
		Use:   "egalito",
		Short: "Inspect and transform ELF binaries through the chunk/link IR",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose || env.Bool("EGALITO_VERBOSE") {
				logrus.SetLevel(logrus.DebugLevel)
			}
			if inputPath == "" {
				return nil // `egalito modules` with no --input is a usage error caught per-command
			}
			s, err := NewSession(inputPath, includeFramework)
			if err != nil {
				return err
			}
			*session = *s
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&inputPath, "input", "i", "", "ELF file to load as the main module")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&includeFramework, "include-framework-self", false,
		"expose the framework's own loaded image to cross-module commands")

	root.AddCommand(
		newDisassCommand(session),
		newExamineCommand(session),
		newCFGDotCommand(session),
		newModulesCommand(session),
		newFunctionsCommand(session),
		newRegionsCommand(session),
		newMarkersCommand(session),
		newJumpTablesCommand(session),
		newReassignCommand(session),
		newGenerateCommand(session),
		newBinCommand(session),
	)
	root.AddCommand(newPassCommands(session)...)
	return root
}
