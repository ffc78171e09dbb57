package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"milktea/internal/cli"
	"milktea/internal/model"
	"milktea/internal/pipeline"
)

var (
	queryFilters  filterFlags
	flagLimit     int
	flagCursor    string
	flagBackward  bool
)

var queryCmd = &cobra.Command{
	Use:   "query <bugreport>",
	Short: "Page through logcat rows matching the filters",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

func init() {
	queryFilters.register(queryCmd)
	queryCmd.Flags().IntVarP(&flagLimit, "limit", "n", 100, "Maximum rows per page")
	queryCmd.Flags().StringVar(&flagCursor, "cursor", "", "Cursor JSON from a previous response")
	queryCmd.Flags().BoolVar(&flagBackward, "backward", false, "Page backward")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	exec, _, err := pipeline.OpenExecutor(cmd.Context(), args[0], loadOptions())
	if err != nil {
		return err
	}
	defer exec.Close()

	var cursor *model.QueryCursor
	if flagCursor != "" {
		cursor = &model.QueryCursor{}
		if err := json.Unmarshal([]byte(flagCursor), cursor); err != nil {
			return fmt.Errorf("%w: bad cursor: %v", model.ErrCursorInvalid, err)
		}
	}
	direction := model.DirectionForward
	if flagBackward {
		direction = model.DirectionBackward
	}

	resp, err := exec.Query(queryFilters.build(), cursor, flagLimit, direction)
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

func printPageFooter(resp model.QueryResponse) {
	fmt.Fprintf(os.Stderr, "  %d rows", len(resp.Rows))
	if resp.EstimatedTotal != nil {
		fmt.Fprintf(os.Stderr, " of ~%s", cli.FormatNumber(*resp.EstimatedTotal))
	}
	if resp.HasMoreNext && resp.NextCursor != nil {
		c, _ := json.Marshal(resp.NextCursor)
		fmt.Fprintf(os.Stderr, "\n  next: --cursor '%s'", c)
	}
	if resp.HasMorePrev && resp.PrevCursor != nil {
		c, _ := json.Marshal(resp.PrevCursor)
		fmt.Fprintf(os.Stderr, "\n  prev: --cursor '%s' --backward", c)
	}
	fmt.Fprintln(os.Stderr)
}
