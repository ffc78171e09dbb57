package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"milktea/internal/config"
	"milktea/internal/tui"
	"milktea/internal/tui/theme"
)

var viewCmd = &cobra.Command{
	Use:   "view <bugreport>",
	Short: "Open the interactive log viewer",
	Args:  cobra.ExactArgs(1),
	RunE:  runView,
}

func init() {
	rootCmd.AddCommand(viewCmd)
}

func runView(_ *cobra.Command, args []string) error {
	cfg, _ := config.Load()
	theme.SetActive(cfg.Appearance.Theme)

	// Force TrueColor profile so all background styling produces ANSI codes
	lipgloss.SetColorProfile(termenv.TrueColor)

	opts := loadOptions()
	opts.Progress = nil // the viewer renders progress itself

	app := tui.NewApp(args[0], opts)
	p := tea.NewProgram(app, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("viewer error: %w", err)
	}
	return nil
}
