package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"milktea/internal/cli"
	"milktea/internal/pipeline"
)

var flagForce bool

var parseCmd = &cobra.Command{
	Use:   "parse <bugreport>",
	Short: "Parse a bugreport and build its logcat cache",
	Args:  cobra.ExactArgs(1),
	RunE:  runParse,
}

func init() {
	parseCmd.Flags().BoolVar(&flagForce, "force", false, "Rebuild the cache even if one exists")
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	opts := loadOptions()
	opts.Force = flagForce

	res, err := pipeline.Parse(cmd.Context(), args[0], opts)
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Summary)
	}
	fmt.Print(cli.RenderParseSummary(res.Summary, res.Reused, res.CacheDir))
	return nil
}
