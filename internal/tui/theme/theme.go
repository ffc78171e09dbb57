// Package theme defines color themes for the milktea log viewer.
package theme

import "github.com/charmbracelet/lipgloss"

// Theme defines the color roles used throughout the viewer.
type Theme struct {
	Name          string
	Background    lipgloss.Color // Main app background
	Surface       lipgloss.Color // Panel backgrounds
	SurfaceHover  lipgloss.Color // Selected row
	Border        lipgloss.Color // Subtle borders
	BorderAccent  lipgloss.Color // Accent-colored borders for focus states
	TextDim       lipgloss.Color // Lowest contrast text (hints, timestamps)
	TextMuted     lipgloss.Color // Secondary text (labels, metadata)
	TextPrimary   lipgloss.Color // Primary content text
	Accent        lipgloss.Color // Active states, tags
	Green         lipgloss.Color
	Orange        lipgloss.Color
	Red           lipgloss.Color
	Blue          lipgloss.Color
	Yellow        lipgloss.Color
}

// Active is the currently selected theme.
var Active = FlexokiDark

// FlexokiDark is the default theme - warm, paper-inspired dark theme.
var FlexokiDark = Theme{
	Name:         "flexoki-dark",
	Background:   lipgloss.Color("#100F0F"),
	Surface:      lipgloss.Color("#1C1B1A"),
	SurfaceHover: lipgloss.Color("#282726"),
	Border:       lipgloss.Color("#403E3C"),
	BorderAccent: lipgloss.Color("#3AA99F"),
	TextDim:      lipgloss.Color("#575653"),
	TextMuted:    lipgloss.Color("#878580"),
	TextPrimary:  lipgloss.Color("#FFFCF0"),
	Accent:       lipgloss.Color("#3AA99F"),
	Green:        lipgloss.Color("#879A39"),
	Orange:       lipgloss.Color("#DA702C"),
	Red:          lipgloss.Color("#D14D41"),
	Blue:         lipgloss.Color("#4385BE"),
	Yellow:       lipgloss.Color("#D0A215"),
}

// FlexokiLight is the light variant for bright terminals.
var FlexokiLight = Theme{
	Name:         "flexoki-light",
	Background:   lipgloss.Color("#FFFCF0"),
	Surface:      lipgloss.Color("#F2F0E5"),
	SurfaceHover: lipgloss.Color("#E6E4D9"),
	Border:       lipgloss.Color("#DAD8CE"),
	BorderAccent: lipgloss.Color("#24837B"),
	TextDim:      lipgloss.Color("#B7B5AC"),
	TextMuted:    lipgloss.Color("#6F6E69"),
	TextPrimary:  lipgloss.Color("#100F0F"),
	Accent:       lipgloss.Color("#24837B"),
	Green:        lipgloss.Color("#66800B"),
	Orange:       lipgloss.Color("#BC5215"),
	Red:          lipgloss.Color("#AF3029"),
	Blue:         lipgloss.Color("#205EA6"),
	Yellow:       lipgloss.Color("#AD8301"),
}

// SetActive switches the active theme by name; unknown names keep the default.
func SetActive(name string) {
	switch name {
	case FlexokiLight.Name:
		Active = FlexokiLight
	case FlexokiDark.Name:
		Active = FlexokiDark
	}
}

// LevelColor maps a log level letter to its display color.
func LevelColor(level string) lipgloss.Color {
	switch level {
	case "F", "E":
		return Active.Red
	case "W":
		return Active.Orange
	case "I":
		return Active.Green
	case "D":
		return Active.Blue
	default:
		return Active.TextDim
	}
}
