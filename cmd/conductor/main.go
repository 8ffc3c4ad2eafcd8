// Conductor drives a hierarchical Project Manager -> Team Lead -> Worker
// LLM-CLI pipeline from a single natural-language objective to a set of
// deliverable files.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "conductor",
		Short:   "Orchestrate hierarchical LLM-CLI tools over a project objective",
		Version: version,
	}
	root.AddCommand(newRunCmd(), newResumeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
