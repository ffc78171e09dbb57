package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"milktea/internal/cli"
	"milktea/internal/pipeline"
)

var statsFilters filterFlags

var statsCmd = &cobra.Command{
	Use:   "stats <bugreport>",
	Short: "Show logcat statistics, optionally filtered",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

func init() {
	statsFilters.register(statsCmd)
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	exec, _, err := pipeline.OpenExecutor(cmd.Context(), args[0], loadOptions())
	if err != nil {
		return err
	}
	defer exec.Close()

	stats, err := exec.Stats(statsFilters.build())
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	fmt.Print(cli.RenderStats(stats, exec.Location()))
	return nil
}
