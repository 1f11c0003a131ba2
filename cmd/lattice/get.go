package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/matsen/lattice/internal/paper"
	"github.com/matsen/lattice/internal/query"
)

var getFlags struct {
	citations  bool
	references bool
}

var getCmd = &cobra.Command{
	Use:   "get <paper-id>",
	Short: "Fetch a paper with optional citation and reference edges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, code := getRepoRoot()
		if code != 0 {
			os.Exit(code)
		}
		a, err := openApp(root)
		if err != nil {
			exitWithError(ExitError, "opening repository: %v", err)
		}
		defer a.close()

		facade := query.New(a.graph, a.vector, a.analysis)
		detail, err := facade.GetPaper(args[0], getFlags.citations, getFlags.references)
		if err != nil {
			if errors.Is(err, paper.ErrNotFound) {
				exitWithError(ExitNotFound, "paper %s not found", args[0])
			}
			exitWithError(ExitError, "fetching paper: %v", err)
		}

		if humanOutput {
			p := detail.Paper
			outputHuman("%s\n%s\n", p.ID, p.Title)
			if p.Summary != "" {
				outputHuman("\n%s\n", p.Summary)
			}
			outputHuman("\ncitations: %d  references: %d\n", len(detail.Citations), len(detail.References))
			return nil
		}
		return outputJSON(detail)
	},
}

func init() {
	getCmd.Flags().BoolVar(&getFlags.citations, "citations", false, "Include incoming citation edges")
	getCmd.Flags().BoolVar(&getFlags.references, "references", false, "Include outgoing reference edges")
	rootCmd.AddCommand(getCmd)
}
