package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/concilia/concilia/internal/config"
	"github.com/concilia/concilia/internal/types"
)

// Status colors, adaptive for light/dark terminals.
var (
	colorPass = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	colorWarn = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	colorFail = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	colorMute = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}

	passStyle   = lipgloss.NewStyle().Foreground(colorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(colorWarn)
	failStyle   = lipgloss.NewStyle().Foreground(colorFail)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMute)
	headerStyle = lipgloss.NewStyle().Bold(true)
)

var (
	colorOnce    sync.Once
	colorEnabled bool
)

// useColor reports whether styled output is appropriate: stdout is a TTY,
// the terminal has a color profile and nobody asked for plain output.
func useColor() bool {
	colorOnce.Do(func() {
		if noColorFlag || config.GetBool("no-color") || os.Getenv("NO_COLOR") != "" {
			return
		}
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return
		}
		colorEnabled = termenv.ColorProfile() != termenv.Ascii
	})
	return colorEnabled
}

func render(style lipgloss.Style, s string) string {
	if !useColor() {
		return s
	}
	return style.Render(s)
}

func printPass(format string, args ...any) {
	fmt.Println(render(passStyle, "✓ "+fmt.Sprintf(format, args...)))
}

func printWarn(format string, args ...any) {
	fmt.Println(render(warnStyle, "⚠ "+fmt.Sprintf(format, args...)))
}

func printFail(format string, args ...any) {
	fmt.Println(render(failStyle, "✗ "+fmt.Sprintf(format, args...)))
}

// styleJobStatus colors a job status cell.
func styleJobStatus(status types.JobStatus) string {
	s := string(status)
	switch status {
	case types.JobDone:
		return render(passStyle, s)
	case types.JobFailed:
		return render(failStyle, s)
	case types.JobRunning:
		return render(warnStyle, s)
	default:
		return render(mutedStyle, s)
	}
}

// renderTable prints a fixed-width text table. Styled cells carry ANSI
// escapes, so widths come from the unstyled copies.
func renderTable(headers []string, rows [][]string, plainRows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range plainRows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	for i, h := range headers {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(padRight(h, widths[i]))
	}
	fmt.Println(render(headerStyle, b.String()))

	for r, row := range rows {
		var line strings.Builder
		for i, cell := range row {
			if i > 0 {
				line.WriteString("  ")
			}
			pad := widths[i] - len(plainRows[r][i])
			line.WriteString(cell + strings.Repeat(" ", max(pad, 0)))
		}
		fmt.Println(line.String())
	}
}

func padRight(s string, w int) string {
	if len(s) >= w {
		return s
	}
	return s + strings.Repeat(" ", w-len(s))
}
