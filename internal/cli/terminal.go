// Package cli holds small terminal presentation helpers shared by the
// kasdex command tree: TTY detection and the styles the filter tooling
// renders its output with.
package cli

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// IsTerminal returns true if stdout is connected to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor follows the same conventions as the rest of the pack's
// CLI tooling: NO_COLOR disables, CLICOLOR_FORCE forces, otherwise TTY
// detection decides.
func ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("CLICOLOR_FORCE") != "" {
		return true
	}
	return IsTerminal()
}

var (
	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	WarnStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3"))
	FailStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
)

// Banner renders a styled header line, falling back to plain text when
// color is disabled or stdout isn't a terminal.
func Banner(text string) string {
	if !ShouldUseColor() {
		return text
	}
	return HeaderStyle.Render(text)
}

// Warn renders a styled warning label, falling back to plain text under the
// same rules as Banner.
func Warn(text string) string {
	if !ShouldUseColor() {
		return text
	}
	return WarnStyle.Render(text)
}

// Fail renders a styled failure label, falling back to plain text under the
// same rules as Banner.
func Fail(text string) string {
	if !ShouldUseColor() {
		return text
	}
	return FailStyle.Render(text)
}
