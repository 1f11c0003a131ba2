package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/matsen/lattice/internal/query"
)

var clustersMinSize int

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "List citation-graph communities",
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
		clusters, err := facade.Clusters(clustersMinSize)
		if err != nil {
			exitWithError(ExitError, "computing clusters: %v", err)
		}

		if humanOutput {
			for _, c := range clusters {
				label := c.Label
				if label == "" {
					label = "(unlabeled)"
				}
				outputHuman("cluster %d: %d papers  %s\n", c.ID, len(c.Members), label)
			}
			return nil
		}
		return outputJSON(clusters)
	},
}

func init() {
	clustersCmd.Flags().IntVar(&clustersMinSize, "min-size", 2, "Smallest cluster to report")
	rootCmd.AddCommand(clustersCmd)
}
