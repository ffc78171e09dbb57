package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"milktea/internal/pipeline"
)

var flagCleanAll bool

var cleanCmd = &cobra.Command{
	Use:   "clean [fingerprint]",
	Short: "Remove cached report data",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClean,
}

func init() {
	cleanCmd.Flags().BoolVar(&flagCleanAll, "all", false, "Remove the entire cache root")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(_ *cobra.Command, args []string) error {
	root, err := cacheRoot()
	if err != nil {
		return err
	}

	switch {
	case flagCleanAll:
		if err := pipeline.Clean(root, ""); err != nil {
			return err
		}
		fmt.Println("Cache cleared.")
	case len(args) == 1:
		if err := pipeline.Clean(root, args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed %s.\n", args[0])
	default:
		return fmt.Errorf("pass a fingerprint or --all")
	}
	return nil
}
