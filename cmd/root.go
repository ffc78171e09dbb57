// Package cmd wires the milktea command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"milktea/internal/cli"
	"milktea/internal/config"
	"milktea/internal/model"
	"milktea/internal/pipeline"
)

var (
	flagCacheDir string
	flagQuiet    bool
	flagJSON     bool
)

var rootCmd = &cobra.Command{
	Use:   "milktea",
	Short: "Android bugreport logcat indexer and viewer",
	Long: "Parse Android bugreports (flat text or zip), index the embedded logcat\n" +
		"stream into a persistent cache, and query it with filters, cursors and\n" +
		"time jumps.",
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagCacheDir, "cache-dir", "c", "", "Cache root directory (default: user cache dir)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress progress output")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Emit JSON instead of rendered output")
}

// loadOptions builds pipeline options from flags and config.
func loadOptions() pipeline.Options {
	cfg, _ := config.Load()
	opts := pipeline.Options{CacheRoot: flagCacheDir, Config: cfg}
	if !flagQuiet {
		opts.Progress = stderrProgress()
	}
	return opts
}

// stderrProgress renders a single-line progress indicator.
func stderrProgress() func(model.ParseProgress) {
	return func(p model.ParseProgress) {
		switch p.Phase {
		case model.PhaseStarting:
			fmt.Fprintf(os.Stderr, "  Opening bugreport...\n")
		case model.PhaseScanning:
			fmt.Fprintf(os.Stderr, "  Scanning device preamble...\n")
		case model.PhaseIndexing:
			fmt.Fprintf(os.Stderr, "\r  Indexing [%3.0f%%] %s rows", p.Percent, cli.FormatCount(p.RowsProcessed))
		case model.PhaseFinalizing:
			fmt.Fprintf(os.Stderr, "\r  Finalizing cache...                    \n")
		}
	}
}
