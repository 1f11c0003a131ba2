package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matsen/lattice/internal/query"
	"github.com/matsen/lattice/internal/vectorstore"
)

var searchFlags struct {
	limit    int
	hybrid   bool
	category string
	yearFrom int
	yearTo   int
}

var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Semantic search over paper embeddings",
	Long: `search embeds the query text once through the analysis provider and
returns the nearest papers by cosine similarity. With --hybrid, results
are re-scored by combining similarity with citation influence.`,
	Args: cobra.MinimumNArgs(1),
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
		text := strings.Join(args, " ")
		ctx := context.Background()

		var results []query.Scored
		if searchFlags.hybrid {
			results, err = facade.HybridSearch(ctx, text, searchFlags.limit)
		} else {
			filter := vectorstore.Filter{
				Category: searchFlags.category,
				YearFrom: searchFlags.yearFrom,
				YearTo:   searchFlags.yearTo,
			}
			results, err = facade.SemanticSearch(ctx, text, searchFlags.limit, filter)
		}
		if err != nil {
			exitWithError(ExitError, "searching: %v", err)
		}

		if humanOutput {
			for _, r := range results {
				outputHuman("%.3f  %-16s %s\n", r.Score, r.Paper.ID, r.Paper.Title)
			}
			return nil
		}
		return outputJSON(results)
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchFlags.limit, "limit", 10, "Maximum results")
	searchCmd.Flags().BoolVar(&searchFlags.hybrid, "hybrid", false, "Re-score by similarity plus citation influence")
	searchCmd.Flags().StringVar(&searchFlags.category, "category", "", "Filter by primary category")
	searchCmd.Flags().IntVar(&searchFlags.yearFrom, "year-from", 0, "Earliest publication year")
	searchCmd.Flags().IntVar(&searchFlags.yearTo, "year-to", 0, "Latest publication year")
	rootCmd.AddCommand(searchCmd)
}
