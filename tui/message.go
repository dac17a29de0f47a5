package tui

import (
	"fmt"

	"github.com/agentuity/go-resilience/logger"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

var (
	messageOKColor      = lipgloss.AdaptiveColor{Light: "#009900", Dark: "#00FF00"}
	messageOKStyle      = lipgloss.NewStyle().Foreground(messageOKColor)
	messageTextColor    = lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"}
	messageTextStyle    = lipgloss.NewStyle().Foreground(messageTextColor)
	messageWarningColor = lipgloss.AdaptiveColor{Light: "#990000", Dark: "#FF0000"}
	messageWarningStyle = lipgloss.NewStyle().Foreground(messageWarningColor)
)

func ShowSuccess(msg string, args ...any) {
	fmt.Println(messageOKStyle.Render(" ✓ ") + messageTextStyle.Render(fmt.Sprintf(msg, args...)))
}

func ShowWarning(msg string, args ...any) {
	fmt.Println(messageWarningStyle.Render(" ✕ ") + messageTextStyle.Render(fmt.Sprintf(msg, args...)))
}

func ShowError(msg string, args ...any) {
	fmt.Println(messageWarningStyle.Render(" ⚠ ") + messageTextStyle.Render(fmt.Sprintf(msg, args...)))
}

// Ask prompts for a yes/no confirmation. Without a TTY it returns
// defaultValue so scripted invocations never block.
func Ask(log logger.Logger, title string, defaultValue bool) bool {
	if !HasTTY {
		return defaultValue
	}
	confirm := defaultValue
	if err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&confirm).
		Inline(false).
		Run(); err != nil {
		log.Fatal("%s", err)
	}
	return confirm
}
