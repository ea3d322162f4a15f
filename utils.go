package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/term"
)

var (
	keywordStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#ECFD65"})
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"})
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#D70000", Dark: "#FF5F5F"})
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#008700", Dark: "#5FD700"})
)

func keyword(s string) string { return keywordStyle.Render(s) }
func subtle(s string) string  { return subtleStyle.Render(s) }

// paragraph wraps and indents s for help and status output.
func paragraph(s string) string {
	return indent.String(wordwrap.String(s, terminalWidth()-4), 2)
}

// terminalWidth returns the usable width of stdout, capped for readability.
func terminalWidth() int {
	w := 80
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if tw, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && tw > 0 {
			w = tw
		}
	}
	if w > 120 {
		w = 120
	}
	return w
}
