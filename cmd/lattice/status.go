package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/matsen/lattice/internal/config"
)

// storeStatus summarizes the persisted state of the repository.
type storeStatus struct {
	Papers            int    `json:"papers"`
	Citations         int    `json:"citations"`
	Concepts          int    `json:"concepts"`
	Embeddings        int    `json:"embeddings"`
	PendingEmbeddings int    `json:"pending_embeddings"`
	EmbeddingModel    string `json:"embedding_model"`
	CheckpointRunID   string `json:"checkpoint_run_id,omitempty"`
	CheckpointQueued  int    `json:"checkpoint_queued,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show persisted store counts and checkpoint state",
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

		var st storeStatus
		if st.Papers, err = a.graph.CountPapers(); err != nil {
			exitWithError(ExitError, "counting papers: %v", err)
		}
		if st.Citations, err = a.graph.CountCitations(); err != nil {
			exitWithError(ExitError, "counting citations: %v", err)
		}
		if st.Concepts, err = a.graph.CountConcepts(); err != nil {
			exitWithError(ExitError, "counting concepts: %v", err)
		}
		pending, err := a.graph.PendingEmbeddings()
		if err != nil {
			exitWithError(ExitError, "listing pending embeddings: %v", err)
		}
		st.PendingEmbeddings = len(pending)
		st.Embeddings = a.vector.Count()
		st.EmbeddingModel = a.vector.ModelID()

		if data, err := os.ReadFile(config.CheckpointPath(root)); err == nil {
			var ckpt struct {
				RunID string            `json:"run_id"`
				Queue []json.RawMessage `json:"queue"`
			}
			if json.Unmarshal(data, &ckpt) == nil {
				st.CheckpointRunID = ckpt.RunID
				st.CheckpointQueued = len(ckpt.Queue)
			}
		}

		if humanOutput {
			outputHuman("papers: %d\ncitations: %d\nconcepts: %d\nembeddings: %d (%s)\npending embeddings: %d\n",
				st.Papers, st.Citations, st.Concepts, st.Embeddings, st.EmbeddingModel, st.PendingEmbeddings)
			if st.CheckpointRunID != "" {
				outputHuman("checkpoint: run %s, %d queued\n", st.CheckpointRunID, st.CheckpointQueued)
			}
			return nil
		}
		return outputJSON(st)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
