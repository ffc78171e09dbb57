package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"milktea/internal/cache"
	"milktea/internal/cli"
	"milktea/internal/config"
	"milktea/internal/store"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List previously parsed bugreports",
	Args:  cobra.NoArgs,
	RunE:  runReports,
}

func init() {
	rootCmd.AddCommand(reportsCmd)
}

func cacheRoot() (string, error) {
	if flagCacheDir != "" {
		return flagCacheDir, nil
	}
	cfg, _ := config.Load()
	if cfg.Cache.Dir != "" {
		return cfg.Cache.Dir, nil
	}
	return cache.DefaultRoot()
}

func runReports(_ *cobra.Command, _ []string) error {
	root, err := cacheRoot()
	if err != nil {
		return err
	}

	reg, err := store.Open(filepath.Join(root, store.RegistryFile))
	if err != nil {
		return err
	}
	defer reg.Close()

	reports, err := reg.List()
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}

	if len(reports) == 0 {
		fmt.Println("No parsed reports.")
		return nil
	}
	for _, rep := range reports {
		device := rep.Device.Brand + " " + rep.Device.Model
		onDisk := ""
		if !cache.Exists(root, rep.Fingerprint) {
			onDisk = " (evicted)"
		}
		fmt.Printf("%s  %-24s %8s rows  %8s cache  %s%s\n",
			rep.Fingerprint,
			device,
			cli.FormatCount(rep.Events),
			cli.FormatBytes(rep.CacheBytes),
			rep.SourcePath,
			onDisk)
	}
	return nil
}
