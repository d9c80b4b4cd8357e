// Package ui provides the terminal dashboard for the live monitor.
package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/q360/livemonitor/internal/monitor"
	"github.com/q360/livemonitor/pkg/types"
)

// Color palette
var (
	// Primary colors
	ColorCyan    = lipgloss.Color("#00FFFF")
	ColorMagenta = lipgloss.Color("#FF00FF")
	ColorGreen   = lipgloss.Color("#00FF00")
	ColorYellow  = lipgloss.Color("#FFFF00")
	ColorRed     = lipgloss.Color("#FF0055")
	ColorOrange  = lipgloss.Color("#FF8800")

	// Background colors
	ColorDarkBg   = lipgloss.Color("#0D0D0D")
	ColorPanelBg  = lipgloss.Color("#1A1A2E")
	ColorHeaderBg = lipgloss.Color("#16213E")

	// Text colors
	ColorText       = lipgloss.Color("#E0E0E0")
	ColorDimText    = lipgloss.Color("#666666")
	ColorBrightText = lipgloss.Color("#FFFFFF")
)

// Style definitions
var (
	// Base styles
	BaseStyle = lipgloss.NewStyle().
			Background(ColorDarkBg).
			Foreground(ColorText)

	// Header styles
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorCyan).
			Background(ColorHeaderBg).
			Padding(0, 1).
			MarginBottom(1)

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorMagenta).
			Background(ColorHeaderBg).
			Padding(0, 2)

	// Panel styles
	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorCyan).
			Padding(1, 2).
			MarginRight(1)

	StatsPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMagenta).
			Padding(1, 2)

	LogPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorGreen).
			Padding(0, 1).
			Height(10)

	// Text styles
	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorDimText).
			Width(15)

	ValueStyle = lipgloss.NewStyle().
			Foreground(ColorBrightText).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorGreen).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRed).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorYellow)

	InfoStyle = lipgloss.NewStyle().
			Foreground(ColorCyan)

	// Connection indicators
	ConnectedStyle = lipgloss.NewStyle().
			Foreground(ColorGreen).
			Bold(true)

	ConnectingStyle = lipgloss.NewStyle().
			Foreground(ColorYellow).
			Bold(true)

	DisconnectedStyle = lipgloss.NewStyle().
				Foreground(ColorRed).
				Bold(true)

	BadgeStyle = lipgloss.NewStyle().
			Foreground(ColorBrightText).
			Background(ColorRed).
			Bold(true).
			Padding(0, 1)

	// Footer styles
	FooterStyle = lipgloss.NewStyle().
			Foreground(ColorDimText).
			MarginTop(1)

	KeyStyle = lipgloss.NewStyle().
			Foreground(ColorCyan).
			Bold(true)

	HelpStyle = lipgloss.NewStyle().
			Foreground(ColorDimText)

	// Bar styles
	BarEmptyStyle = lipgloss.NewStyle().
			Foreground(ColorDimText)

	SparklineStyle = lipgloss.NewStyle().
			Foreground(ColorMagenta)

	// Threat level styles
	CriticalStyle = lipgloss.NewStyle().
			Foreground(ColorRed).
			Bold(true)

	HighStyle = lipgloss.NewStyle().
			Foreground(ColorOrange).
			Bold(true)

	MediumStyle = lipgloss.NewStyle().
			Foreground(ColorYellow)

	LowStyle = lipgloss.NewStyle().
			Foreground(ColorCyan)

	// Box styles for layout
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(ColorCyan)

	// Spinner chars for animation
	SpinnerChars = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
)

// Helper functions

// RenderLabel renders a label with consistent styling
func RenderLabel(label string) string {
	return LabelStyle.Render(label + ":")
}

// RenderValue renders a value with consistent styling
func RenderValue(value string) string {
	return ValueStyle.Render(value)
}

// RenderLabelValue renders a label-value pair
func RenderLabelValue(label, value string) string {
	return RenderLabel(label) + " " + RenderValue(value)
}

// RenderSuccess renders success text
func RenderSuccess(text string) string {
	return SuccessStyle.Render(text)
}

// RenderError renders error text
func RenderError(text string) string {
	return ErrorStyle.Render(text)
}

// RenderWarning renders warning text
func RenderWarning(text string) string {
	return WarningStyle.Render(text)
}

// RenderKey renders a keyboard key
func RenderKey(key string) string {
	return KeyStyle.Render("[" + key + "]")
}

// RenderHelp renders help text
func RenderHelp(key, description string) string {
	return RenderKey(key) + " " + HelpStyle.Render(description)
}

// LevelStyle returns the style of a threat level
func LevelStyle(level types.ThreatLevel) lipgloss.Style {
	switch level {
	case types.ThreatCritical:
		return CriticalStyle
	case types.ThreatHigh:
		return HighStyle
	case types.ThreatMedium:
		return MediumStyle
	default:
		return LowStyle
	}
}

// RenderStatus renders a connection indicator
func RenderStatus(s monitor.Status) string {
	switch s {
	case monitor.StatusConnected:
		return ConnectedStyle.Render("● " + s.Text())
	case monitor.StatusConnecting:
		return ConnectingStyle.Render("◌ " + s.Text())
	case monitor.StatusGaveUp:
		return DisconnectedStyle.Render("⏸ " + s.Text())
	case monitor.StatusClosed:
		return HelpStyle.Render("■ " + s.Text())
	default:
		return DisconnectedStyle.Render("○ " + s.Text())
	}
}

// MiniBanner is the dashboard title
const MiniBanner = "🛡 Q360 Live"
