package tui

import (
	"context"

	"github.com/charmbracelet/huh/spinner"
)

var spinnerCancel context.CancelFunc

// ShowSpinner displays a spinner while action runs. Without a TTY the action
// runs with no decoration.
func ShowSpinner(title string, action func()) {
	if !HasTTY {
		action()
		return
	}
	CancelSpinner()
	ctx, cancel := context.WithCancel(context.Background())
	spinnerCancel = cancel
	spinner.New().
		Context(ctx).
		Title(title).
		Action(func() {
			defer CancelSpinner()
			action()
		}).
		Run()
}

// CancelSpinner stops the current spinner, if any.
func CancelSpinner() {
	if spinnerCancel != nil {
		spinnerCancel()
		spinnerCancel = nil
	}
}
