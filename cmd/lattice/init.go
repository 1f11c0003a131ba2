package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/matsen/lattice/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a lattice repository in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			exitWithError(ExitError, "getting current directory: %v", err)
		}
		if config.IsRepository(cwd) {
			exitWithError(ExitError, "already a lattice repository: %s", cwd)
		}

		if err := config.Save(cwd, config.Default()); err != nil {
			exitWithError(ExitError, "writing config: %v", err)
		}
		for _, dir := range []string{config.CachePath(cwd), config.VectorPath(cwd), config.PDFPath(cwd)} {
			if err := os.MkdirAll(dir, 0755); err != nil {
				exitWithError(ExitError, "creating %s: %v", dir, err)
			}
		}

		if humanOutput {
			outputHuman("Initialized lattice repository in %s\n", config.LatticePath(cwd))
			return nil
		}
		return outputJSON(map[string]string{"status": "initialized", "path": config.LatticePath(cwd)})
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
