package main

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// styles renders terminal output. Colors are dropped automatically when the
// writer is not a terminal.
type styles struct {
	denied  lipgloss.Style
	err     lipgloss.Style
	warning lipgloss.Style
	notice  lipgloss.Style
	ok      lipgloss.Style
	dim     lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		denied:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		err:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
		warning: r.NewStyle().Foreground(lipgloss.Color("11")),
		notice:  r.NewStyle().Foreground(lipgloss.Color("12")),
		ok:      r.NewStyle().Foreground(lipgloss.Color("10")),
		dim:     r.NewStyle().Faint(true),
	}
}
