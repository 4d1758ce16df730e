// Command egalito is the shell surface spec §6 describes, built as a
// cobra command tree (internal/shell) over the chunk/link IR.
package main

import (
	"fmt"
	"os"

	"github.com/SleepyMug/egalito/internal/shell"
)

func main() {
	root := shell.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
