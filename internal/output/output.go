// Package output formats CLI messages, tables and JSON documents.
package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Writer prints command output.
type Writer struct {
	out     io.Writer
	noColor bool
}

// New creates a Writer without color.
func New(out io.Writer) *Writer {
	return &Writer{out: out, noColor: true}
}

// WithColor enables styled tables.
func (w *Writer) WithColor(enabled bool) *Writer {
	w.noColor = !enabled
	return w
}

// Out returns the underlying writer.
func (w *Writer) Out() io.Writer { return w.out }

// Status prints msg behind icon, or indented when icon is empty.
func (w *Writer) Status(icon, msg string) {
	if icon == "" {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
}

// Statusf is Status with formatting.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success line.
func (w *Writer) Success(msg string) { w.Status("✓", msg) }

// Successf is Success with formatting.
func (w *Writer) Successf(format string, args ...any) { w.Success(fmt.Sprintf(format, args...)) }

// Warning prints a warning line.
func (w *Writer) Warning(msg string) { w.Status("!", msg) }

// Warningf is Warning with formatting.
func (w *Writer) Warningf(format string, args ...any) { w.Warning(fmt.Sprintf(format, args...)) }

// Error prints an error line.
func (w *Writer) Error(msg string) { w.Status("✗", msg) }

// Errorf is Error with formatting.
func (w *Writer) Errorf(format string, args ...any) { w.Error(fmt.Sprintf(format, args...)) }

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// KeyValue prints an aligned "key: value" line.
func (w *Writer) KeyValue(key string, value any) {
	_, _ = fmt.Fprintf(w.out, "  %-16s %v\n", key+":", value)
}

// Table prints rows under headers.
func (w *Writer) Table(headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderRow(false).
		Headers(headers...).
		Rows(rows...)
	if !w.noColor {
		header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
		cell := lipgloss.NewStyle().Padding(0, 1)
		t = t.StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
	} else {
		cell := lipgloss.NewStyle().Padding(0, 1)
		t = t.StyleFunc(func(int, int) lipgloss.Style { return cell })
	}
	_, _ = fmt.Fprintln(w.out, t.String())
}

// JSON prints v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
