// Package ui styles CLI output. Colors are dropped automatically when
// stdout is not a terminal or the terminal reports no color support.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	pass   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warn   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	fail   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	accent = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	muted  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func colorized() bool {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return false
	}
	return termenv.ColorProfile() != termenv.Ascii
}

func render(s lipgloss.Style, text string) string {
	if !colorized() {
		return text
	}
	return s.Render(text)
}

// RenderPass styles a success marker or message.
func RenderPass(text string) string { return render(pass, text) }

// RenderWarn styles a warning.
func RenderWarn(text string) string { return render(warn, text) }

// RenderError styles an error message.
func RenderError(text string) string { return render(fail, text) }

// RenderAccent styles identifiers and values worth drawing the eye to.
func RenderAccent(text string) string { return render(accent, text) }

// RenderMuted styles secondary detail.
func RenderMuted(text string) string { return render(muted, text) }
