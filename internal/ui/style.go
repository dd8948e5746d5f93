package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Palette shared by rho command output.
var (
	ColorAccent = lipgloss.Color("6")
	ColorPass   = lipgloss.Color("2")
	ColorWarn   = lipgloss.Color("3")
	ColorFail   = lipgloss.Color("1")
	ColorMuted  = lipgloss.Color("8")
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	okStyle     = lipgloss.NewStyle().Foreground(ColorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	failStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
)

// Header renders a section header.
func Header(s string) string {
	if !ShouldUseColor() {
		return s
	}
	return headerStyle.Render(s)
}

// OK renders a success line.
func OK(s string) string {
	if !ShouldUseColor() {
		return "✓ " + s
	}
	return okStyle.Render("✓ " + s)
}

// Warn renders a warning line.
func Warn(s string) string {
	if !ShouldUseColor() {
		return "! " + s
	}
	return warnStyle.Render("! " + s)
}

// Fail renders a failure line.
func Fail(s string) string {
	if !ShouldUseColor() {
		return "✗ " + s
	}
	return failStyle.Render("✗ " + s)
}

// Muted renders de-emphasized text.
func Muted(s string) string {
	if !ShouldUseColor() {
		return s
	}
	return mutedStyle.Render(s)
}

// KV renders a key/value line for status output.
func KV(key string, value interface{}) string {
	return fmt.Sprintf("%s %v", Muted(key+":"), value)
}
