package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/matsen/lattice/internal/paper"
	"github.com/matsen/lattice/internal/vectorstore"
)

var reembedCmd = &cobra.Command{
	Use:   "reembed",
	Short: "Fill missing embeddings for graph-persisted papers",
	Long: `reembed drains the pending-embeddings ledger: every paper whose graph
write succeeded but whose vector write did not gets a fresh embedding.
It also runs after an embedding-model change, refilling the new vector
collection.`,
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

		ids, err := a.writer.PendingEmbeddings()
		if err != nil {
			exitWithError(ExitError, "listing pending embeddings: %v", err)
		}

		// After a model change the fresh collection is empty: every paper
		// with an abstract needs a vector, not just the ledgered ones.
		if a.vector.Count() == 0 {
			all, err := a.graph.PaperIDs()
			if err != nil {
				exitWithError(ExitError, "listing papers: %v", err)
			}
			seen := make(map[string]bool, len(ids))
			for _, id := range ids {
				seen[id] = true
			}
			for _, id := range all {
				if !seen[id] {
					ids = append(ids, id)
				}
			}
		}

		ctx := context.Background()
		filled, skipped := 0, 0
		for _, id := range ids {
			p, err := a.graph.GetPaper(id)
			if err != nil || p.EmbedText() == "" {
				skipped++
				continue
			}
			vec, err := a.analysis.Embed(ctx, paper.Truncate(p.EmbedText(), paper.MaxAbstractEmbedLength))
			if err != nil {
				exitWithError(ExitError, "embedding %s: %v", id, err)
			}
			proj := vectorstore.Projection{Category: p.PrimaryCategory(), Year: p.Year()}
			if err := a.writer.ResolveEmbedding(id, vec, proj); err != nil {
				exitWithError(ExitError, "storing embedding for %s: %v", id, err)
			}
			filled++
		}
		if err := a.writer.Flush(); err != nil {
			exitWithError(ExitError, "saving vector store: %v", err)
		}

		if humanOutput {
			outputHuman("embedded: %d  skipped: %d\n", filled, skipped)
			return nil
		}
		return outputJSON(map[string]int{"embedded": filled, "skipped": skipped})
	},
}

func init() {
	rootCmd.AddCommand(reembedCmd)
}
