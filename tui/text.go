package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	textStyleColor      = lipgloss.AdaptiveColor{Light: "#36EEE0", Dark: "#00FFFF"}
	mutedStyleColor     = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"}
	warningStyleColor   = lipgloss.AdaptiveColor{Light: "#FFA500", Dark: "#FFA500"}
	titleStyleColor     = lipgloss.AdaptiveColor{Light: "#071330", Dark: "#F652A0"}
	secondaryStyleColor = lipgloss.AdaptiveColor{Light: "#214358", Dark: "#AEB8C4"}
	commandStyle        = lipgloss.NewStyle().Foreground(textStyleColor)

	closedStyleColor   = lipgloss.AdaptiveColor{Light: "#009900", Dark: "#00FF00"}
	halfOpenStyleColor = lipgloss.AdaptiveColor{Light: "#DE970B", Dark: "#F6BE00"}
	openStyleColor     = lipgloss.AdaptiveColor{Light: "#990000", Dark: "#FF0000"}
	closedStyle        = lipgloss.NewStyle().Foreground(closedStyleColor)
	halfOpenStyle      = lipgloss.NewStyle().Foreground(halfOpenStyleColor)
	openStyle          = lipgloss.NewStyle().Foreground(openStyleColor).Bold(true)
)

func Title(text string) string {
	return lipgloss.NewStyle().Bold(true).Foreground(titleStyleColor).Render(text)
}

func Bold(text string) string {
	return lipgloss.NewStyle().Bold(true).Foreground(textStyleColor).Render(text)
}

func Secondary(text string) string {
	return lipgloss.NewStyle().Foreground(secondaryStyleColor).Render(text)
}

func Muted(text string) string {
	return lipgloss.NewStyle().Foreground(mutedStyleColor).Render(text)
}

func Warning(text string) string {
	return lipgloss.NewStyle().Foreground(warningStyleColor).Render(text)
}

// State renders a circuit breaker state name in its conventional color:
// green for CLOSED, yellow for HALF_OPEN, red for OPEN.
func State(name string) string {
	switch name {
	case "CLOSED":
		return closedStyle.Render(name)
	case "HALF_OPEN":
		return halfOpenStyle.Render(name)
	case "OPEN":
		return openStyle.Render(name)
	}
	return name
}

// SeverityText renders a severity name with an urgency color.
func SeverityText(severity string) string {
	switch severity {
	case "LOW":
		return Muted(severity)
	case "HIGH":
		return halfOpenStyle.Render(severity)
	case "CRITICAL":
		return openStyle.Render(severity)
	}
	return Secondary(severity)
}

// Command renders a breaker CLI invocation for help and hint text.
func Command(cmd string, args ...string) string {
	cmdline := "breaker " + strings.Join(append([]string{cmd}, args...), " ")
	return commandStyle.Render(cmdline)
}

func PadRight(str string, length int, pad string) string {
	if len(str) >= length {
		return str
	}
	return str + strings.Repeat(pad, length-len(str))
}

func MaxWidth(text string, width int) string {
	if lipgloss.Width(text) > width {
		text = text[:width-3] + "..."
	}
	return text
}
