// Package ui holds the terminal helpers shared by the command line tools:
// coloured output, key events and the line-prompt alignment operator.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	greenStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	debugStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// Out is where the helpers print. Colour is used only on a terminal.
var Out io.Writer = os.Stdout

func colour() bool {
	f, ok := Out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func printStyled(style lipgloss.Style, format string, a ...interface{}) {
	s := fmt.Sprintf(format, a...)
	if colour() {
		body := strings.TrimRight(s, "\n")
		s = style.Render(body) + s[len(body):]
	}
	fmt.Fprint(Out, s)
}

func Printf(format string, a ...interface{}) { fmt.Fprintf(Out, format, a...) }

func Greenf(format string, a ...interface{}) { printStyled(greenStyle, format, a...) }

func Warningf(format string, a ...interface{}) { printStyled(warningStyle, format, a...) }

func Errorf(format string, a ...interface{}) { printStyled(errorStyle, format, a...) }

func Debugf(enabled bool, format string, a ...interface{}) {
	if enabled {
		printStyled(debugStyle, "[DEBUG] "+format, a...)
	}
}

