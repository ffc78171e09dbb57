package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"milktea/internal/host"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Serve JSON commands on stdin/stdout for a desktop shell",
	Long: "Reads one JSON request per line from stdin and writes one JSON\n" +
		"response per line to stdout. During parse_bugreport_streaming,\n" +
		"progress events are interleaved on the parse://progress channel.",
	Args: cobra.NoArgs,
	RunE: runHost,
}

func init() {
	rootCmd.AddCommand(hostCmd)
}

func runHost(cmd *cobra.Command, _ []string) error {
	opts := loadOptions()
	opts.Progress = nil // progress goes over the event channel, not stderr
	return host.New(opts).Run(cmd.Context(), os.Stdin, os.Stdout)
}
