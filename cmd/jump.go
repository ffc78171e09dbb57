package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"milktea/internal/cli"
	"milktea/internal/pipeline"
)

var (
	jumpFilters filterFlags
	flagAt      string
	flagJumpN   int
)

var jumpCmd = &cobra.Command{
	Use:   "jump <bugreport>",
	Short: "Jump to a point in time and page forward from there",
	Args:  cobra.ExactArgs(1),
	RunE:  runJump,
}

func init() {
	jumpFilters.register(jumpCmd)
	jumpCmd.Flags().StringVar(&flagAt, "at", "", `Target time "YYYY-MM-DD HH:MM:SS" (report local time)`)
	jumpCmd.Flags().IntVarP(&flagJumpN, "limit", "n", 100, "Maximum rows per page")
	_ = jumpCmd.MarkFlagRequired("at")
	rootCmd.AddCommand(jumpCmd)
}

func runJump(cmd *cobra.Command, args []string) error {
	exec, _, err := pipeline.OpenExecutor(cmd.Context(), args[0], loadOptions())
	if err != nil {
		return err
	}
	defer exec.Close()

	resp, err := exec.JumpToTime(jumpFilters.build(), flagAt, flagJumpN)
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	for _, row := range resp.Rows {
		fmt.Println(cli.RenderRow(row))
	}
	printPageFooter(resp)
	return nil
}
