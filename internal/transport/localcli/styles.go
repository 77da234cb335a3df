// Package localcli is the default local chat transport: a terminal UI that
// renders the session card to stdout and reads prompts from stdin.
//
// Grounded on: internal/cli/styles.go (lipgloss palette), internal/cli/spinner.go
// (animated status line), internal/cli/renderer.go (turn/tool rendering shape) —
// adapted from Temporal workflow items to the canonical event stream's
// sessioncard.State.
package localcli

import "github.com/charmbracelet/lipgloss"

// Styles holds the lipgloss styles used to render a session card.
type Styles struct {
	BadgeActive  lipgloss.Style
	BadgeWaiting lipgloss.Style
	BadgeDone    lipgloss.Style
	BadgeError   lipgloss.Style
	ActivityLine lipgloss.Style
	ContextLine  lipgloss.Style
	ResumeLine   lipgloss.Style
	PendingLine  lipgloss.Style
	ErrorLine    lipgloss.Style
}

// DefaultStyles returns the palette used when color output is enabled.
func DefaultStyles() Styles {
	return Styles{
		BadgeActive:  lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		BadgeWaiting: lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		BadgeDone:    lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		BadgeError:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		ActivityLine: lipgloss.NewStyle().Faint(true),
		ContextLine:  lipgloss.NewStyle().Italic(true),
		ResumeLine:   lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		PendingLine:  lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		ErrorLine:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
	}
}

// PlainStyles returns a no-color palette for NO_COLOR / non-tty output.
func PlainStyles() Styles {
	return Styles{}
}
