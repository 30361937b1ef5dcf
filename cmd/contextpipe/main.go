// Package main implements the contextpipe CLI, a thin operational wrapper
// around the context assembly pipeline (spec §6: the CLI itself is outside
// core scope, but every core consumer needs one to exercise the pipeline
// by hand).
//
// Grounded on cmd/nerd/main.go's rootCmd/PersistentPreRunE wiring: a
// cobra root command builds a *zap.Logger in PersistentPreRunE and syncs
// it in PersistentPostRun, with --verbose switching the log level.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	verbose    bool
	configPath string
	logger     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "contextpipe",
	Short: "contextpipe assembles ranked, budget-packed context for a prompt",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		built, err := cfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		logger = built
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug-level logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (built-in defaults when unset)")

	assembleCmd.Flags().StringVarP(&assembleProject, "project", "p", "", "Project name passed to every adapter")
	assembleCmd.Flags().IntVarP(&assembleBudget, "budget-tokens", "b", 0, "Token budget for the assembled bundle (0 = config default)")
	assembleCmd.Flags().DurationVar(&assemblePerSourceTimeout, "per-source-timeout", 0, "Per-adapter timeout (0 = config default)")
	assembleCmd.Flags().DurationVar(&assembleOverallTimeout, "overall-timeout", 0, "Overall assembly deadline (0 = config default)")
	assembleCmd.Flags().BoolVar(&assembleContext7, "context7", false, "Include the external docs adapter")

	rootCmd.AddCommand(assembleCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
