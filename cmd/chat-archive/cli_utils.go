package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Exit codes
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// Symbols for human-readable output
const (
	successSymbol = "✓"
	errorSymbol   = "✕"
	bulletSymbol  = "•"
)

// Error codes
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeUsage            = "USAGE"
	ErrCodeConfig           = "CONFIG"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
	ErrCodePartial          = "PARTIAL_FAILURE"
	ErrCodeInternal         = "INTERNAL"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ece6a"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#f7768e")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#565f89"))
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#7aa2f7")).Bold(true)
	matchStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#e0af68")).Bold(true)
)

// CLIOutput handles consistent output formatting across all CLI commands
type CLIOutput struct {
	jsonMode  bool
	quietMode bool

	stdout io.Writer
	stderr io.Writer
}

// NewCLIOutput creates a new CLI output handler writing to stdout/stderr
func NewCLIOutput(jsonMode, quietMode bool) *CLIOutput {
	return &CLIOutput{
		jsonMode:  jsonMode,
		quietMode: quietMode,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
	}
}

// Success prints a success message or JSON response
func (c *CLIOutput) Success(message string, data interface{}) {
	if c.quietMode {
		return
	}
	if c.jsonMode {
		c.printJSON(data)
		return
	}
	fmt.Fprintf(c.stdout, "%s %s\n", successStyle.Render(successSymbol), message)
}

// Error prints an error message or JSON error response
func (c *CLIOutput) Error(message string, code string) {
	if c.jsonMode {
		c.printJSON(map[string]interface{}{
			"success": false,
			"error":   message,
			"code":    code,
		})
		return
	}
	fmt.Fprintf(c.stderr, "%s %s\n", errorStyle.Render(errorSymbol), message)
}

// Print prints data (human-readable or JSON)
func (c *CLIOutput) Print(humanOutput string, jsonData interface{}) {
	if c.quietMode {
		return
	}
	if c.jsonMode {
		c.printJSON(jsonData)
		return
	}
	fmt.Fprint(c.stdout, humanOutput)
}

// Usage prints a usage line to stderr and returns the usage exit code.
func (c *CLIOutput) Usage(line string) int {
	c.Error("usage: chat-archive "+line, ErrCodeUsage)
	return exitUsage
}

// printJSON marshals and prints JSON data
func (c *CLIOutput) printJSON(data interface{}) {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		fmt.Fprintf(c.stderr, "Error: failed to format JSON: %v\n", err)
	}
}

// initColorProfile picks the lipgloss colour profile.
// CHAT_ARCHIVE_COLOR: truecolor, 256, 16, none. Output that is not a
// terminal gets no colour.
func initColorProfile() {
	if colorEnv := os.Getenv("CHAT_ARCHIVE_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}

	if os.Getenv("NO_COLOR") != "" || !term.IsTerminal(int(os.Stdout.Fd())) {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}

	colorTerm := os.Getenv("COLORTERM")
	if colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}
	lipgloss.SetColorProfile(termenv.ANSI256)
}

// truncate shortens s to width display cells, counting wide runes and emoji.
func truncate(s string, width int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

// pad right-fills s to width display cells.
func pad(s string, width int) string {
	return runewidth.FillRight(s, width)
}

// table renders rows as aligned columns. The first row is the header.
func table(rows [][]string) string {
	return renderRows(rows, true)
}

// columns renders rows as aligned columns without a header.
func columns(rows [][]string) string {
	return renderRows(rows, false)
}

func renderRows(rows [][]string, header bool) string {
	if len(rows) == 0 {
		return ""
	}
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], runewidth.StringWidth(cell))
			}
		}
	}

	var b strings.Builder
	for r, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			text := cell
			if i < len(row)-1 {
				text = pad(cell, widths[i]) + "  "
			}
			if header && r == 0 {
				text = headerStyle.Render(text)
			}
			b.WriteString(text)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatPath shortens a path for display by replacing the home directory with ~
func FormatPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == home {
		return "~"
	}
	if strings.HasPrefix(path, home+string(os.PathSeparator)) {
		return "~" + path[len(home):]
	}
	return path
}
