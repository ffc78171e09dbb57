package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"milktea/internal/model"
)

// Theme colors (Flexoki Dark)
var (
	ColorBorder    = lipgloss.Color("#282726")
	ColorTextDim   = lipgloss.Color("#575653")
	ColorTextMuted = lipgloss.Color("#6F6E69")
	ColorText      = lipgloss.Color("#FFFCF0")
	ColorAccent    = lipgloss.Color("#3AA99F")
	ColorGreen     = lipgloss.Color("#879A39")
	ColorOrange    = lipgloss.Color("#DA702C")
	ColorRed       = lipgloss.Color("#D14D41")
	ColorBlue      = lipgloss.Color("#4385BE")
	ColorYellow    = lipgloss.Color("#D0A215")
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorText).
			Align(lipgloss.Center)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent)

	valueStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	mutedStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)

	warnStyle = lipgloss.NewStyle().
			Foreground(ColorOrange)

	errStyle = lipgloss.NewStyle().
			Foreground(ColorRed)

	dimStyle = lipgloss.NewStyle().
			Foreground(ColorTextDim)
)

// RenderTitle renders a centered title bar in a bordered box.
func RenderTitle(title string) string {
	border := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Width(55).
		Align(lipgloss.Center).
		Padding(0, 1)

	return border.Render(titleStyle.Render(title))
}

// RenderKV renders aligned key/value lines.
func RenderKV(pairs [][2]string) string {
	width := 0
	for _, p := range pairs {
		if len(p[0]) > width {
			width = len(p[0])
		}
	}

	var b strings.Builder
	for _, p := range pairs {
		b.WriteString("  ")
		b.WriteString(mutedStyle.Render(fmt.Sprintf("%-*s", width+2, p[0])))
		b.WriteString(valueStyle.Render(p[1]))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderParseSummary renders the result of a parse.
func RenderParseSummary(sum model.ParseSummary, reused bool, cacheDir string) string {
	var b strings.Builder

	d := sum.Device
	device := strings.TrimSpace(d.Brand + " " + d.Model)
	if device == "" {
		device = "unknown device"
	}
	b.WriteString(RenderTitle(device))
	b.WriteString("\n")

	pairs := [][2]string{
		{"Android", fmt.Sprintf("%s (API %d)", orDash(d.AndroidVersion), d.APILevel)},
		{"Build", orDash(d.BuildID)},
		{"Report time", orDash(d.ReportTime)},
		{"Uptime", FormatDuration(d.UptimeMs)},
	}
	if d.Battery != nil {
		pairs = append(pairs, [2]string{"Battery",
			fmt.Sprintf("%d%% (%.1f°C, %s)", d.Battery.Level, d.Battery.TempC, d.Battery.Status)})
	}
	pairs = append(pairs,
		[2]string{"Log rows", FormatNumber(sum.Events)},
		[2]string{"ANRs", FormatNumber(sum.ANRs)},
		[2]string{"Crashes", FormatNumber(sum.Crashes)},
		[2]string{"Errors+fatals", fmt.Sprintf("%s (%s recent)", FormatNumber(sum.EFTotal), FormatNumber(sum.EFRecent))},
	)
	b.WriteString(RenderKV(pairs))

	if reused {
		b.WriteString(dimStyle.Render("  (reused cache " + cacheDir + ")"))
	} else {
		b.WriteString(dimStyle.Render("  (cache " + cacheDir + ")"))
	}
	b.WriteString("\n")
	return b.String()
}

// RenderStats renders logcat stats.
func RenderStats(stats model.LogcatStats, loc *time.Location) string {
	pairs := [][2]string{
		{"Total rows", FormatNumber(stats.TotalRows)},
	}
	if stats.FilteredRows != nil {
		pairs = append(pairs, [2]string{"Matching", FormatNumber(*stats.FilteredRows)})
	}
	if stats.MinTimestampMs != nil && stats.MaxTimestampMs != nil {
		pairs = append(pairs,
			[2]string{"First", fmt.Sprintf("%s (%s)", stats.MinTsDisplay, FormatEpochMs(*stats.MinTimestampMs, loc))},
			[2]string{"Last", fmt.Sprintf("%s (%s)", stats.MaxTsDisplay, FormatEpochMs(*stats.MaxTimestampMs, loc))},
			[2]string{"Span", FormatDuration(*stats.MaxTimestampMs - *stats.MinTimestampMs)},
		)
	}

	lc := stats.LevelCounts
	levels := fmt.Sprintf("V %s  D %s  I %s  W %s  E %s  F %s",
		FormatCount(lc.Verbose), FormatCount(lc.Debug), FormatCount(lc.Info),
		FormatCount(lc.Warning), FormatCount(lc.Error), FormatCount(lc.Fatal))
	pairs = append(pairs, [2]string{"Levels", levels})

	return RenderKV(pairs)
}

// RenderRow renders a single log row for query output.
func RenderRow(r model.LogRow) string {
	style := levelStyle(r.Level)
	msg := r.Msg
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i] + dimStyle.Render(fmt.Sprintf(" (+%d lines)", strings.Count(r.Msg, "\n")))
	}
	return fmt.Sprintf("%s %s %s %s",
		dimStyle.Render(r.TsRaw),
		style.Render(r.Level),
		headerStyle.Render(r.Tag+":"),
		msg)
}

func levelStyle(level string) lipgloss.Style {
	switch level {
	case "F":
		return errStyle.Bold(true)
	case "E":
		return errStyle
	case "W":
		return warnStyle
	case "I":
		return lipgloss.NewStyle().Foreground(ColorGreen)
	case "D":
		return lipgloss.NewStyle().Foreground(ColorBlue)
	default:
		return dimStyle
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
