// Package main provides the lattice CLI entry point.
package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/matsen/lattice/internal/config"
)

// Version is set at build time via ldflags
var Version = "dev"

// humanOutput controls whether to use human-readable output
var humanOutput bool

func main() {
	// Secrets (provider keys, graph password) come from the environment;
	// a .env in the working directory is the local convenience.
	godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lattice",
	Short: "Citation-graph knowledge base for physics and mathematics papers",
	Long: `lattice builds a queryable knowledge base from arXiv-style paper
identifiers. It discovers each seed's citation neighborhood through a
metadata provider, enriches papers with LLM summaries, extracted
concepts, classified citation edges, and dense embeddings, and persists
everything into a local graph store and vector store.

All commands output JSON by default for easy scripting; pass --human for
readable output.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.Version = Version
}

// getRepoRoot returns the repository root, or exits with an error if not
// inside a repository. LATTICE_ROOT overrides discovery.
func getRepoRoot() (string, int) {
	if root := os.Getenv("LATTICE_ROOT"); root != "" {
		return root, 0
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", outputError(ExitError, "getting current directory: %v", err)
	}
	root, err := config.FindRepository(cwd)
	if err != nil {
		return "", outputError(ExitError, "%v", err)
	}
	return root, 0
}

// logLevel maps a config level string onto slog.
func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger builds the process logger at the configured level.
func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(level)}))
}
