package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/matsen/lattice/internal/paper"
	"github.com/matsen/lattice/internal/query"
)

var neighborhoodDepth int

var neighborhoodCmd = &cobra.Command{
	Use:   "neighborhood <paper-id>",
	Short: "Show the citation neighborhood of a paper",
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
		nb, err := facade.CitationNeighborhood(args[0], neighborhoodDepth)
		if err != nil {
			if errors.Is(err, paper.ErrNotFound) {
				exitWithError(ExitNotFound, "paper %s not found", args[0])
			}
			exitWithError(ExitError, "traversing neighborhood: %v", err)
		}

		if humanOutput {
			outputHuman("nodes: %d  edges: %d\n", len(nb.Nodes), len(nb.Edges))
			for _, e := range nb.Edges {
				outputHuman("%s -> %s [%s]\n", e.Src, e.Dst, e.Intent)
			}
			return nil
		}
		return outputJSON(nb)
	},
}

func init() {
	neighborhoodCmd.Flags().IntVar(&neighborhoodDepth, "depth", 1, "Traversal depth")
	rootCmd.AddCommand(neighborhoodCmd)
}
