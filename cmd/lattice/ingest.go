package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/matsen/lattice/internal/config"
	"github.com/matsen/lattice/internal/pipeline"
)

var ingestFlags struct {
	maxDepth    int
	maxPapers   int
	fanout      int
	analyze     bool
	embed       bool
	useMetadata bool
	useFullText bool
	resume      bool
	checkpointN int
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [paper-id...]",
	Short: "Discover and ingest a citation neighborhood from seed paper IDs",
	Long: `ingest runs the discovery pipeline: breadth-first expansion from the
seed IDs through the metadata provider, LLM enrichment of each paper,
and persistence into the graph and vector stores. The run checkpoints
periodically and an interrupted run resumes with --resume.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !ingestFlags.resume {
			exitWithError(ExitUsage, "at least one seed paper ID (or --resume) is required")
		}
		root, code := getRepoRoot()
		if code != 0 {
			os.Exit(code)
		}

		a, err := openApp(root)
		if err != nil {
			exitWithError(ExitError, "opening repository: %v", err)
		}
		defer a.close()

		anlz, err := a.buildAnalyzer()
		if err != nil {
			exitWithError(ExitError, "building analyzer: %v", err)
		}

		log := newLogger(a.cfg.LogLevel)
		co := pipeline.NewCoordinator(a.metadata, anlz, a.writer, config.CheckpointPath(root),
			pipeline.WithLogger(log),
			pipeline.WithAnalysisClient(a.analysis),
			pipeline.WithRetryCounters(a.retries),
		)

		cfg := a.cfg.Pipeline
		cfg.Seeds = args
		cfg.MaxDepth = ingestFlags.maxDepth
		cfg.MaxPapers = ingestFlags.maxPapers
		cfg.MaxFanout = ingestFlags.fanout
		cfg.Analyze = ingestFlags.analyze
		cfg.Embed = ingestFlags.embed
		cfg.UseMetadata = ingestFlags.useMetadata
		cfg.UseFullText = ingestFlags.useFullText
		cfg.Resume = ingestFlags.resume
		if ingestFlags.checkpointN > 0 {
			cfg.CheckpointEveryN = ingestFlags.checkpointN
		}

		if err := co.Start(cfg); err != nil {
			exitWithError(ExitError, "starting run: %v", err)
		}

		// Ctrl-C requests a cooperative stop; the run quiesces before exit.
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sig
			log.Info("interrupt received, stopping run")
			co.Stop()
		}()

		co.Wait()
		signal.Stop(sig)

		st := co.Status()
		if humanOutput {
			outputHuman("state: %s\ndiscovered: %d\nfetched: %d\nanalyzed: %d\npersisted: %d\n",
				st.State, st.Discovered, st.Fetched, st.Analyzed, st.Persisted)
			for kind, n := range st.ErrorsByKind {
				outputHuman("errors[%s]: %d\n", kind, n)
			}
			return nil
		}
		return outputJSON(st)
	},
}

func init() {
	ingestCmd.Flags().IntVar(&ingestFlags.maxDepth, "max-depth", 1, "Maximum BFS depth from the seeds")
	ingestCmd.Flags().IntVar(&ingestFlags.maxPapers, "max-papers", 0, "Maximum papers to discover (0 = unbounded)")
	ingestCmd.Flags().IntVar(&ingestFlags.fanout, "fanout", 100, "Maximum neighbors enqueued per paper")
	ingestCmd.Flags().BoolVar(&ingestFlags.analyze, "analyze", true, "Run LLM analysis (summary, entities, citation intents)")
	ingestCmd.Flags().BoolVar(&ingestFlags.embed, "embed", true, "Compute and store embeddings")
	ingestCmd.Flags().BoolVar(&ingestFlags.useMetadata, "use-metadata", true, "Resolve papers through the metadata provider")
	ingestCmd.Flags().BoolVar(&ingestFlags.useFullText, "use-full-text", false, "Feed extracted PDF text into analysis when available")
	ingestCmd.Flags().BoolVar(&ingestFlags.resume, "resume", false, "Resume from the last checkpoint")
	ingestCmd.Flags().IntVar(&ingestFlags.checkpointN, "checkpoint-every", 0, "Checkpoint after this many discovered papers (0 = default)")
	rootCmd.AddCommand(ingestCmd)
}
