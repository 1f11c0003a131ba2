package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/matsen/lattice/internal/query"
)

var listFlags struct {
	page     int
	pageSize int
	category string
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List papers in the store",
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
		papers, err := facade.ListPapers(listFlags.page, listFlags.pageSize, listFlags.category)
		if err != nil {
			exitWithError(ExitError, "listing papers: %v", err)
		}

		if humanOutput {
			for _, p := range papers {
				outputHuman("%-16s %s\n", p.ID, p.Title)
			}
			return nil
		}
		return outputJSON(papers)
	},
}

func init() {
	listCmd.Flags().IntVar(&listFlags.page, "page", 1, "Page number (1-based)")
	listCmd.Flags().IntVar(&listFlags.pageSize, "page-size", 20, "Papers per page")
	listCmd.Flags().StringVar(&listFlags.category, "category", "", "Filter by primary category")
	rootCmd.AddCommand(listCmd)
}
